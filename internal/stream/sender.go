package stream

import (
	"errors"
	"log/slog"
	"time"

	"github.com/yegors/RTLSDR-Airband/internal/transport"
)

// sendOutcome is the result of sending one buffer to one session
type sendOutcome int

const (
	sendCompleted sendOutcome = iota
	sendWouldBlock
	sendFatal
)

// sendChunked sends p in chunks of at most payloadSize bytes. It stops at the
// first would-block (the rest of p is dropped) or fatal error. onChunk is
// called with the size of every chunk the transport took.
func sendChunked(conn transport.Conn, p []byte, payloadSize int, onChunk func(int)) (sendOutcome, error) {
	for len(p) > 0 {
		chunk := p
		if len(chunk) > payloadSize {
			chunk = chunk[:payloadSize]
		}

		if _, err := conn.Send(chunk); err != nil {
			if errors.Is(err, transport.ErrWouldBlock) {
				return sendWouldBlock, err
			}
			return sendFatal, err
		}

		if onChunk != nil {
			onChunk(len(chunk))
		}
		p = p[len(chunk):]
	}
	return sendCompleted, nil
}

// fanOut sends payload to every registered session, preceded by the framing
// header for sessions that have not received it yet.
func (e *Engine) fanOut(payload []byte) {
	e.registry.Each(func(s *Session) {
		if e.header != nil && !s.headerSent {
			// the header goes out whole or not at all; data waits for it
			outcome, err := sendChunked(s.conn, e.header, e.payloadSize, nil)
			switch outcome {
			case sendFatal:
				e.evict(s, err)
				return
			case sendWouldBlock:
				e.recordWouldBlock(s)
				return
			}
			s.headerSent = true
			e.metrics.RecordHeaderSent()
		}

		outcome, err := sendChunked(s.conn, payload, e.payloadSize, func(n int) {
			s.chunksSent++
			s.bytesSent += uint64(n)
			e.stats.BytesSent += uint64(n)
			e.metrics.RecordChunkSent(n)
		})
		switch outcome {
		case sendFatal:
			e.evict(s, err)
		case sendWouldBlock:
			e.recordWouldBlock(s)
		}
	})
}

// evict closes and removes a session after a fatal send error
func (e *Engine) evict(s *Session, cause error) {
	lifetime := time.Since(s.ConnectedAt)
	if _, err := e.registry.Remove(s.ID); err != nil {
		e.logger.Debug("Error closing evicted listener",
			slog.Uint64("session_id", s.ID),
			slog.String("error", err.Error()),
		)
	}

	e.stats.SessionsEvicted++
	e.metrics.RecordSessionEvicted(lifetime.Seconds())

	e.logger.Info("Listener evicted",
		slog.Uint64("session_id", s.ID),
		slog.String("remote_addr", s.RemoteAddr),
		slog.Duration("lifetime", lifetime),
		slog.String("error", cause.Error()),
	)
}

func (e *Engine) recordWouldBlock(s *Session) {
	s.wouldBlocks++
	e.stats.WouldBlocks++
	e.metrics.RecordWouldBlock()

	if e.wouldBlockLog.Allow() {
		e.logger.Debug("Listener not ready, dropping block",
			slog.Uint64("session_id", s.ID),
			slog.String("remote_addr", s.RemoteAddr),
			slog.Uint64("would_blocks", s.wouldBlocks),
		)
	}
}
