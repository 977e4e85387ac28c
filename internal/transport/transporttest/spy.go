// Package transporttest provides an in-memory transport that records every
// call, for testing code built on package transport.
package transporttest

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync"

	"github.com/yegors/RTLSDR-Airband/internal/transport"
)

// Transport is a scriptable transport.Transport
type Transport struct {
	mu sync.Mutex

	// Failure injection, read when the matching call happens
	StartupErr error
	SocketErr  error
	BindErr    error
	ListenErr  error

	// PayloadSize reported by new listeners; zero makes the option query fail
	PayloadSize int

	startups  int
	cleanups  int
	listeners []*Listener
}

// New returns a spy transport reporting payloadSize
func New(payloadSize int) *Transport {
	return &Transport{PayloadSize: payloadSize}
}

// Name returns "spy"
func (t *Transport) Name() string { return "spy" }

// Startup counts the call and returns StartupErr
func (t *Transport) Startup() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.StartupErr != nil {
		return t.StartupErr
	}
	t.startups++
	return nil
}

// Cleanup counts the call
func (t *Transport) Cleanup() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cleanups++
	return nil
}

// Socket creates a spy listener
func (t *Transport) Socket() (transport.Listener, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.SocketErr != nil {
		return nil, t.SocketErr
	}

	l := &Listener{
		options:     make(map[transport.Option]int),
		payloadSize: t.PayloadSize,
		bindErr:     t.BindErr,
		listenErr:   t.ListenErr,
	}
	t.listeners = append(t.listeners, l)
	return l, nil
}

// Startups returns the number of successful Startup calls
func (t *Transport) Startups() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.startups
}

// Cleanups returns the number of Cleanup calls
func (t *Transport) Cleanups() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cleanups
}

// Listener returns the most recently created listener, or nil
func (t *Transport) Listener() *Listener {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.listeners) == 0 {
		return nil
	}
	return t.listeners[len(t.listeners)-1]
}

// Listener is a spy transport.Listener
type Listener struct {
	mu sync.Mutex

	options     map[transport.Option]int
	payloadSize int
	bindErr     error
	listenErr   error

	bound     netip.AddrPort
	backlog   int
	listening bool
	pending   []*Conn
	acceptErr error
	accepts   int
	closes    int
	nextID    int
}

// SetOption records the option
func (l *Listener) SetOption(opt transport.Option, value int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.options[opt] = value
	return nil
}

// Option answers OptPayloadSize and recorded options
func (l *Listener) Option(opt transport.Option) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if opt == transport.OptPayloadSize {
		if l.payloadSize <= 0 {
			return 0, errors.New("transporttest: payload size unavailable")
		}
		return l.payloadSize, nil
	}
	v, ok := l.options[opt]
	if !ok {
		return 0, transport.ErrUnknownOption
	}
	return v, nil
}

// Options returns a copy of the recorded options
func (l *Listener) Options() map[transport.Option]int {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[transport.Option]int, len(l.options))
	for k, v := range l.options {
		out[k] = v
	}
	return out
}

// Bind records addr
func (l *Listener) Bind(addr netip.AddrPort) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.bindErr != nil {
		return l.bindErr
	}
	l.bound = addr
	return nil
}

// Bound returns the address passed to Bind
func (l *Listener) Bound() netip.AddrPort {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.bound
}

// Listen records the backlog
func (l *Listener) Listen(backlog int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.listenErr != nil {
		return l.listenErr
	}
	l.backlog = backlog
	l.listening = true
	return nil
}

// Backlog returns the value passed to Listen
func (l *Listener) Backlog() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.backlog
}

// Connect queues a new pending connection and returns it
func (l *Listener) Connect() *Conn {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextID++
	c := &Conn{
		remote:  fmt.Sprintf("10.0.0.%d:5000", l.nextID),
		options: make(map[transport.Option]int),
	}
	l.pending = append(l.pending, c)
	return c
}

// FailAccept makes Accept return err once the pending queue is empty
func (l *Listener) FailAccept(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.acceptErr = err
}

// Accept pops a pending connection
func (l *Listener) Accept() (transport.Conn, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.accepts++
	if l.closes > 0 {
		return nil, transport.ErrClosed
	}
	if !l.listening {
		return nil, transport.ErrNotListening
	}
	if len(l.pending) == 0 {
		if l.acceptErr != nil {
			return nil, l.acceptErr
		}
		return nil, transport.ErrNoPending
	}
	c := l.pending[0]
	l.pending = l.pending[1:]
	return c, nil
}

// AcceptCalls returns the number of Accept calls
func (l *Listener) AcceptCalls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.accepts
}

// Addr returns the bound address
func (l *Listener) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	return net.TCPAddrFromAddrPort(l.bound)
}

// Close counts the call
func (l *Listener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closes++
	return nil
}

// Closes returns the number of Close calls
func (l *Listener) Closes() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closes
}

// Conn is a spy transport.Conn. Send results can be scripted per call.
type Conn struct {
	mu sync.Mutex

	remote   string
	options  map[transport.Option]int
	script   []error
	sticky   error
	sent     [][]byte
	attempts int
	closes   int
}

// SetOption records the option
func (c *Conn) SetOption(opt transport.Option, value int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.options[opt] = value
	return nil
}

// Option returns a recorded option
func (c *Conn) Option(opt transport.Option) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.options[opt]
	return v, ok
}

// FailNext queues results for the next Send calls; a nil entry succeeds
func (c *Conn) FailNext(errs ...error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.script = append(c.script, errs...)
}

// FailAlways makes every Send return err until cleared with nil
func (c *Conn) FailAlways(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sticky = err
}

// Send records p or returns the scripted error
func (c *Conn) Send(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.attempts++
	if c.closes > 0 {
		return 0, transport.ErrClosed
	}

	var err error
	if len(c.script) > 0 {
		err = c.script[0]
		c.script = c.script[1:]
	} else {
		err = c.sticky
	}
	if err != nil {
		return 0, err
	}

	c.sent = append(c.sent, append([]byte(nil), p...))
	return len(p), nil
}

// RemoteAddr returns a fake peer address
func (c *Conn) RemoteAddr() string {
	return c.remote
}

// Close counts the call
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closes++
	return nil
}

// Chunks returns every successfully sent chunk
func (c *Conn) Chunks() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.sent))
	copy(out, c.sent)
	return out
}

// Data returns the concatenation of all sent chunks
func (c *Conn) Data() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return bytes.Join(c.sent, nil)
}

// Attempts returns the number of Send calls
func (c *Conn) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// Closes returns the number of Close calls
func (c *Conn) Closes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes
}
