package transport

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"sync"
)

// inheritedOptions are copied from the listener to accepted connections, in
// this order.
var inheritedOptions = []Option{OptPayloadSize, OptLatency, OptTimestampDelivery, OptRecvSync, OptSendSync}

// pendingConn is a connection waiting to be picked up by Accept
type pendingConn struct {
	wire   wire
	remote string
}

// listenerBase holds what TCP and WebSocket listeners share: the option
// store, the bound socket and the queue of pending connections.
type listenerBase struct {
	cfg    Config
	logger *slog.Logger

	mu        sync.Mutex
	opts      map[Option]int
	ln        net.Listener
	pending   chan pendingConn
	listening bool

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func (l *listenerBase) init(cfg Config, logger *slog.Logger) {
	l.cfg = cfg
	l.logger = logger
	l.opts = defaultOptions(cfg)
	l.done = make(chan struct{})
}

// SetOption stores an option inherited by every accepted connection
func (l *listenerBase) SetOption(opt Option, value int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.opts[opt]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownOption, opt)
	}
	if opt == OptPayloadSize && value <= 0 {
		return fmt.Errorf("transport: invalid payload size %d", value)
	}
	l.opts[opt] = value
	return nil
}

// Option returns the current value of an option
func (l *listenerBase) Option(opt Option) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	v, ok := l.opts[opt]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownOption, opt)
	}
	return v, nil
}

// Bind opens the listening socket on addr
func (l *listenerBase) Bind(addr netip.AddrPort) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.ln != nil {
		return fmt.Errorf("transport: already bound to %s", l.ln.Addr())
	}

	select {
	case <-l.done:
		return ErrClosed
	default:
	}

	ln, err := net.Listen("tcp", addr.String())
	if err != nil {
		return fmt.Errorf("transport: bind %s: %w", addr, err)
	}
	l.ln = ln
	return nil
}

// prepareListen validates state and creates the pending queue
func (l *listenerBase) prepareListen(backlog int) (net.Listener, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.ln == nil {
		return nil, errors.New("transport: listen before bind")
	}
	if l.listening {
		return nil, errors.New("transport: already listening")
	}
	if backlog <= 0 {
		backlog = 1
	}

	l.pending = make(chan pendingConn, backlog)
	l.listening = true
	return l.ln, nil
}

// offer hands a new connection to Accept, waiting while the backlog is full
func (l *listenerBase) offer(p pendingConn) bool {
	select {
	case l.pending <- p:
		return true
	case <-l.done:
		return false
	}
}

// Accept returns a waiting connection or ErrNoPending without blocking
func (l *listenerBase) Accept() (Conn, error) {
	l.mu.Lock()
	listening := l.listening
	pending := l.pending
	opts := make(map[Option]int, len(l.opts))
	for k, v := range l.opts {
		opts[k] = v
	}
	l.mu.Unlock()

	select {
	case <-l.done:
		return nil, ErrClosed
	default:
	}

	if !listening {
		return nil, ErrNotListening
	}

	select {
	case p := <-pending:
		c := newStreamConn(p.wire, p.remote, l.cfg)
		for _, opt := range inheritedOptions {
			if err := c.SetOption(opt, opts[opt]); err != nil {
				c.Close()
				return nil, fmt.Errorf("transport: configure %s: %w", p.remote, err)
			}
		}
		return c, nil
	default:
		return nil, ErrNoPending
	}
}

// Addr returns the bound address, or nil before Bind
func (l *listenerBase) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.ln == nil {
		return nil
	}
	return l.ln.Addr()
}

// closeWith closes the listener once, running stop to halt the accept side
func (l *listenerBase) closeWith(stop func()) error {
	var err error
	l.closeOnce.Do(func() {
		close(l.done)

		l.mu.Lock()
		ln := l.ln
		pending := l.pending
		l.listening = false
		l.mu.Unlock()

		if stop != nil {
			stop()
		}
		if ln != nil {
			if cerr := ln.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
				err = cerr
			}
		}
		l.wg.Wait()

		// connections nobody accepted are ours to close
		for pending != nil {
			select {
			case p := <-pending:
				p.wire.close()
			default:
				pending = nil
			}
		}
	})
	return err
}
