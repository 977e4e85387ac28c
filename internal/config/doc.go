// Package config provides configuration loading and validation for the audio
// fan-out service. It reads a YAML file over a set of defaults and validates
// each section: stream output, audio source, HTTP API and logging.
package config
