// Package recorder is a listener client: it connects to a running fan-out,
// validates the streaming WAV header and saves the audio that follows as a
// regular WAV file.
package recorder
