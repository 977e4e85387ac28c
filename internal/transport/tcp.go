package transport

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"time"
)

// TCP is a Transport over plain TCP streams. Every chunk is written as-is;
// listeners read the stream without any extra framing.
type TCP struct {
	cfg    Config
	logger *slog.Logger
}

// NewTCP creates a TCP transport
func NewTCP(cfg Config, logger *slog.Logger) *TCP {
	return &TCP{
		cfg:    cfg.withDefaults(),
		logger: logger,
	}
}

// Name returns "tcp"
func (t *TCP) Name() string { return "tcp" }

// Startup has nothing to initialize for TCP
func (t *TCP) Startup() error { return nil }

// Cleanup has nothing to release for TCP
func (t *TCP) Cleanup() error { return nil }

// Socket creates an unbound TCP listener
func (t *TCP) Socket() (Listener, error) {
	l := &tcpListener{}
	l.init(t.cfg, t.logger)
	return l, nil
}

type tcpListener struct {
	listenerBase
}

// Listen starts accepting connections into a queue of backlog entries
func (l *tcpListener) Listen(backlog int) error {
	ln, err := l.prepareListen(backlog)
	if err != nil {
		return err
	}

	l.wg.Add(1)
	go l.acceptLoop(ln)
	return nil
}

func (l *tcpListener) acceptLoop(ln net.Listener) {
	defer l.wg.Done()

	for {
		c, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			select {
			case <-l.done:
				return
			default:
			}
			l.logger.Warn("TCP accept failed", slog.String("error", err.Error()))
			time.Sleep(10 * time.Millisecond)
			continue
		}

		w := &tcpWire{conn: c, timeout: l.cfg.WriteTimeout}
		if !l.offer(pendingConn{wire: w, remote: c.RemoteAddr().String()}) {
			c.Close()
			return
		}
	}
}

// Close stops accepting and closes connections nobody picked up
func (l *tcpListener) Close() error {
	return l.closeWith(nil)
}

type tcpWire struct {
	conn    net.Conn
	timeout time.Duration
}

func (w *tcpWire) writeChunk(p []byte) error {
	if err := w.conn.SetWriteDeadline(time.Now().Add(w.timeout)); err != nil {
		return err
	}
	_, err := w.conn.Write(p)
	return err
}

func (w *tcpWire) drain() error {
	_, err := io.Copy(io.Discard, w.conn)
	if err == nil {
		err = io.EOF
	}
	return err
}

func (w *tcpWire) setNoDelay(on bool) error {
	if tc, ok := w.conn.(*net.TCPConn); ok {
		return tc.SetNoDelay(on)
	}
	return nil
}

func (w *tcpWire) close() error {
	return w.conn.Close()
}
