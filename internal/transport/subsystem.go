package transport

import (
	"fmt"
	"log/slog"
	"sync"
)

// Subsystem owns the process-wide startup state of a Transport. The first
// EnsureStarted starts it; later calls are no-ops until ShutdownAll.
type Subsystem struct {
	transport Transport
	logger    *slog.Logger

	mu      sync.Mutex
	started bool
}

// NewSubsystem wraps t. Nothing is started until EnsureStarted.
func NewSubsystem(t Transport, logger *slog.Logger) *Subsystem {
	return &Subsystem{
		transport: t,
		logger:    logger,
	}
}

// EnsureStarted starts the transport once. A failed start is retried on the
// next call.
func (s *Subsystem) EnsureStarted() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	if err := s.transport.Startup(); err != nil {
		return fmt.Errorf("%s startup failed: %w", s.transport.Name(), err)
	}

	s.started = true
	s.logger.Debug("Transport subsystem started", slog.String("transport", s.transport.Name()))
	return nil
}

// Transport returns the wrapped transport
func (s *Subsystem) Transport() Transport {
	return s.transport
}

// Started reports whether the subsystem is running
func (s *Subsystem) Started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// ShutdownAll tears the transport down. Safe to call repeatedly.
func (s *Subsystem) ShutdownAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}
	s.started = false

	if err := s.transport.Cleanup(); err != nil {
		return fmt.Errorf("%s cleanup failed: %w", s.transport.Name(), err)
	}

	s.logger.Debug("Transport subsystem stopped", slog.String("transport", s.transport.Name()))
	return nil
}
