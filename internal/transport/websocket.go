package transport

import (
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocket is a Transport that upgrades HTTP requests on Config.Path and
// sends every chunk as one binary message.
type WebSocket struct {
	cfg    Config
	logger *slog.Logger
}

// NewWebSocket creates a WebSocket transport
func NewWebSocket(cfg Config, logger *slog.Logger) *WebSocket {
	return &WebSocket{
		cfg:    cfg.withDefaults(),
		logger: logger,
	}
}

// Name returns "websocket"
func (t *WebSocket) Name() string { return "websocket" }

// Startup has nothing to initialize for WebSocket
func (t *WebSocket) Startup() error { return nil }

// Cleanup has nothing to release for WebSocket
func (t *WebSocket) Cleanup() error { return nil }

// Socket creates an unbound WebSocket listener
func (t *WebSocket) Socket() (Listener, error) {
	l := &wsListener{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: t.cfg.PayloadSize,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	l.init(t.cfg, t.logger)
	return l, nil
}

type wsListener struct {
	listenerBase
	upgrader websocket.Upgrader
	srv      *http.Server
}

// Listen starts serving upgrade requests
func (l *wsListener) Listen(backlog int) error {
	ln, err := l.prepareListen(backlog)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.HandleFunc(l.cfg.Path, l.handleUpgrade)

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	l.mu.Lock()
	l.srv = srv
	l.mu.Unlock()

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) && !errors.Is(err, net.ErrClosed) {
			l.logger.Error("WebSocket listener stopped", slog.String("error", err.Error()))
		}
	}()
	return nil
}

func (l *wsListener) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		l.logger.Debug("WebSocket upgrade failed",
			slog.String("remote_addr", r.RemoteAddr),
			slog.String("error", err.Error()),
		)
		return
	}

	ww := &wsWire{conn: conn, timeout: l.cfg.WriteTimeout}
	if !l.offer(pendingConn{wire: ww, remote: conn.RemoteAddr().String()}) {
		conn.Close()
	}
}

// Close stops the HTTP server and closes connections nobody picked up
func (l *wsListener) Close() error {
	return l.closeWith(func() {
		l.mu.Lock()
		srv := l.srv
		l.mu.Unlock()
		if srv != nil {
			srv.Close()
		}
	})
}

type wsWire struct {
	conn    *websocket.Conn
	timeout time.Duration
}

func (w *wsWire) writeChunk(p []byte) error {
	if err := w.conn.SetWriteDeadline(time.Now().Add(w.timeout)); err != nil {
		return err
	}
	return w.conn.WriteMessage(websocket.BinaryMessage, p)
}

// drain keeps control frames flowing and reports when the peer leaves
func (w *wsWire) drain() error {
	for {
		if _, _, err := w.conn.ReadMessage(); err != nil {
			return err
		}
	}
}

func (w *wsWire) setNoDelay(on bool) error {
	if tc, ok := w.conn.UnderlyingConn().(*net.TCPConn); ok {
		return tc.SetNoDelay(on)
	}
	return nil
}

func (w *wsWire) close() error {
	return w.conn.Close()
}
