package stream

import "errors"

var (
	// ErrTransportStartup is returned when the transport subsystem cannot start
	ErrTransportStartup = errors.New("stream: transport startup failed")

	// ErrInvalidAddress is returned for a listen address that is not an IP literal
	ErrInvalidAddress = errors.New("stream: invalid listen address")

	// ErrAlreadyRunning is returned by Initialize on a running engine
	ErrAlreadyRunning = errors.New("stream: engine already running")
)
