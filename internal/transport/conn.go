package transport

import (
	"fmt"
	"sync"
)

// wire is the raw connection underneath a streamConn
type wire interface {
	writeChunk(p []byte) error
	// drain reads and discards until the peer goes away
	drain() error
	setNoDelay(on bool) error
	close() error
}

// streamConn implements Conn on top of a wire. With OptSendSync=0 sends are
// queued and never block; with OptRecvSync=0 a reader goroutine watches for
// the peer hanging up so the next Send fails fast.
type streamConn struct {
	wire   wire
	remote string
	cfg    Config

	mu       sync.Mutex
	opts     map[Option]int
	queue    *sendQueue
	draining bool
	closed   bool

	errMu sync.Mutex
	err   error
}

func newStreamConn(w wire, remote string, cfg Config) *streamConn {
	return &streamConn{
		wire:   w,
		remote: remote,
		cfg:    cfg,
		opts:   defaultOptions(cfg),
	}
}

func defaultOptions(cfg Config) map[Option]int {
	return map[Option]int{
		OptSendSync:          1,
		OptRecvSync:          1,
		OptTimestampDelivery: 1,
		OptLatency:           120,
		OptPayloadSize:       cfg.PayloadSize,
	}
}

// SetOption applies a socket option
func (c *streamConn) SetOption(opt Option, value int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}

	switch opt {
	case OptSendSync:
		c.opts[opt] = value
		if value == 0 && c.queue == nil {
			c.queue = newSendQueue(c.cfg.QueueDepth, c.opts[OptPayloadSize], c.wire.writeChunk, c.fail)
		}
	case OptRecvSync:
		c.opts[opt] = value
		if value == 0 && !c.draining {
			c.draining = true
			go func() {
				c.fail(c.wire.drain())
			}()
		}
	case OptTimestampDelivery, OptLatency:
		c.opts[opt] = value
		lowLatency := c.opts[OptTimestampDelivery] == 0 && c.opts[OptLatency] == 0
		if err := c.wire.setNoDelay(lowLatency); err != nil {
			return fmt.Errorf("transport: set %s: %w", opt, err)
		}
	case OptPayloadSize:
		if value <= 0 {
			return fmt.Errorf("transport: invalid payload size %d", value)
		}
		c.opts[opt] = value
	default:
		return fmt.Errorf("%w: %s", ErrUnknownOption, opt)
	}

	return nil
}

// Option returns the current value of a socket option
func (c *streamConn) Option(opt Option) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	v, ok := c.opts[opt]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownOption, opt)
	}
	return v, nil
}

// Send transmits p as one unit
func (c *streamConn) Send(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// a closed conn reports ErrClosed even if its reader failed afterwards
	if c.closed {
		return 0, ErrClosed
	}
	if err := c.failure(); err != nil {
		return 0, err
	}

	if limit := c.opts[OptPayloadSize]; len(p) > limit {
		return 0, fmt.Errorf("transport: chunk of %d bytes exceeds payload size %d", len(p), limit)
	}

	if c.queue != nil {
		if err := c.queue.enqueue(p); err != nil {
			return 0, err
		}
		return len(p), nil
	}

	if err := c.wire.writeChunk(p); err != nil {
		c.fail(err)
		return 0, fmt.Errorf("transport: send to %s: %w", c.remote, err)
	}
	return len(p), nil
}

// RemoteAddr returns the peer address
func (c *streamConn) RemoteAddr() string {
	return c.remote
}

// Close stops the writer and closes the connection. Later calls are no-ops.
func (c *streamConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	if c.queue != nil {
		c.queue.stop()
	}
	err := c.wire.close()
	if c.queue != nil {
		c.queue.wait()
	}
	return err
}

// fail records the first error seen by the writer or reader
func (c *streamConn) fail(err error) {
	if err == nil {
		return
	}
	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.err == nil {
		c.err = err
	}
}

func (c *streamConn) failure() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.err == nil {
		return nil
	}
	return fmt.Errorf("transport: connection to %s failed: %w", c.remote, c.err)
}
