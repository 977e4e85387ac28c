package transport

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"time"
)

// DefaultPayloadSize is the chunk size used when a listener cannot report
// one. It matches the live-mode payload of common low-latency transports.
const DefaultPayloadSize = 1316

// Option identifies a socket option
type Option int

const (
	// OptSendSync selects blocking (1) or non-blocking (0) sends
	OptSendSync Option = iota
	// OptRecvSync selects blocking (1) or non-blocking (0) receives
	OptRecvSync
	// OptTimestampDelivery enables (1) or disables (0) timestamp-paced delivery
	OptTimestampDelivery
	// OptLatency is the delivery latency budget in milliseconds
	OptLatency
	// OptPayloadSize is the largest chunk accepted by one Send
	OptPayloadSize
)

// String returns the option name
func (o Option) String() string {
	switch o {
	case OptSendSync:
		return "sndsyn"
	case OptRecvSync:
		return "rcvsyn"
	case OptTimestampDelivery:
		return "tsbpdmode"
	case OptLatency:
		return "latency"
	case OptPayloadSize:
		return "payloadsize"
	default:
		return fmt.Sprintf("Option(%d)", int(o))
	}
}

var (
	// ErrWouldBlock signals transient backpressure: the connection cannot
	// take more data right now.
	ErrWouldBlock = errors.New("transport: send would block")

	// ErrNoPending is returned by Accept when no connection is waiting
	ErrNoPending = errors.New("transport: no pending connection")

	// ErrClosed is returned when using a closed listener or connection
	ErrClosed = errors.New("transport: closed")

	// ErrNotListening is returned by Accept before Listen succeeded
	ErrNotListening = errors.New("transport: not listening")

	// ErrUnknownOption is returned for options a socket does not support
	ErrUnknownOption = errors.New("transport: unknown option")
)

// Listener is a listening socket that hands out downstream connections
type Listener interface {
	SetOption(opt Option, value int) error
	Option(opt Option) (int, error)
	Bind(addr netip.AddrPort) error
	Listen(backlog int) error
	// Accept returns ErrNoPending immediately when nothing is waiting.
	Accept() (Conn, error)
	Addr() net.Addr
	Close() error
}

// Conn is one accepted downstream connection
type Conn interface {
	SetOption(opt Option, value int) error
	// Send transmits p as one unit or returns ErrWouldBlock or a fatal error.
	Send(p []byte) (int, error)
	RemoteAddr() string
	Close() error
}

// Transport creates listening sockets. Startup and Cleanup bracket the
// lifetime of the transport subsystem; both are idempotent.
type Transport interface {
	Name() string
	Startup() error
	Cleanup() error
	Socket() (Listener, error)
}

// Config holds settings shared by the transport implementations
type Config struct {
	PayloadSize  int
	QueueDepth   int
	WriteTimeout time.Duration
	Path         string // websocket upgrade path
}

func (c Config) withDefaults() Config {
	if c.PayloadSize <= 0 {
		c.PayloadSize = DefaultPayloadSize
	}
	if c.QueueDepth <= 0 {
		c.QueueDepth = 64
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.Path == "" {
		c.Path = "/"
	}
	return c
}

// New returns the transport registered under name
func New(name string, cfg Config, logger *slog.Logger) (Transport, error) {
	switch name {
	case "tcp", "":
		return NewTCP(cfg, logger), nil
	case "websocket", "ws":
		return NewWebSocket(cfg, logger), nil
	default:
		return nil, fmt.Errorf("unknown transport %q", name)
	}
}
