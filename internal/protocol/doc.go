// Package protocol implements the ingest packet format used to feed audio
// into the fan-out over UDP: an 8-byte big-endian header followed by either
// little-endian float32 samples or an already encoded payload.
package protocol
