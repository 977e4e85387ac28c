package stream

import (
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/yegors/RTLSDR-Airband/internal/audio"
	"github.com/yegors/RTLSDR-Airband/internal/metrics"
	"github.com/yegors/RTLSDR-Airband/internal/transport"
)

// DefaultBacklog is the listen backlog used when Config.Backlog is unset
const DefaultBacklog = 5

// Config is the stream layout and listen endpoint. It is fixed between
// Initialize and Shutdown.
type Config struct {
	Format        audio.Format
	Channels      audio.ChannelMode
	ListenAddress string
	ListenPort    int
	Backlog       int

	// Codec encodes PCM blocks for FormatCompressed. May be nil, in which
	// case only DeliverRawBytes carries data.
	Codec audio.Codec
}

// Statistics is a snapshot of engine counters
type Statistics struct {
	Running          bool   `json:"running"`
	Format           string `json:"format"`
	Channels         string `json:"channels"`
	ListenAddress    string `json:"listen_address"`
	PayloadSize      int    `json:"payload_size"`
	ActiveSessions   int    `json:"active_sessions"`
	SessionsAccepted uint64 `json:"sessions_accepted"`
	SessionsEvicted  uint64 `json:"sessions_evicted"`
	BlocksDelivered  uint64 `json:"blocks_delivered"`
	BlocksDropped    uint64 `json:"blocks_dropped"`
	WouldBlocks      uint64 `json:"would_blocks"`
	BytesSent        uint64 `json:"bytes_sent"`
}

// Engine fans one audio stream out to every connected listener. Public
// methods serialize on an internal mutex; delivery is synchronous and never
// waits on the network.
type Engine struct {
	subsystem *transport.Subsystem
	logger    *slog.Logger
	metrics   *metrics.Metrics

	mu          sync.Mutex
	cfg         Config
	running     bool
	listener    transport.Listener
	payloadSize int
	buffers     *audio.Buffers
	pipeline    *audio.Pipeline
	header      []byte
	registry    *Registry
	stats       Statistics

	dropLog       *rate.Limiter
	wouldBlockLog *rate.Limiter
}

// NewEngine creates an idle engine using the given transport subsystem
func NewEngine(subsystem *transport.Subsystem, logger *slog.Logger, m *metrics.Metrics) *Engine {
	return &Engine{
		subsystem:     subsystem,
		logger:        logger,
		metrics:       m,
		registry:      NewRegistry(),
		dropLog:       rate.NewLimiter(rate.Every(10*time.Second), 1),
		wouldBlockLog: rate.NewLimiter(rate.Every(time.Second), 5),
	}
}

// Initialize starts the transport, allocates conversion buffers for blocks
// of up to maxSamplesPerChannel samples and starts listening.
func (e *Engine) Initialize(cfg Config, maxSamplesPerChannel int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return ErrAlreadyRunning
	}

	if err := e.subsystem.EnsureStarted(); err != nil {
		e.logger.Error("Transport startup failed", slog.String("error", err.Error()))
		return fmt.Errorf("%w: %v", ErrTransportStartup, err)
	}

	bufs, err := audio.AllocateBuffers(maxSamplesPerChannel, cfg.Channels, cfg.Format)
	if err != nil {
		return fmt.Errorf("failed to allocate conversion buffers: %w", err)
	}

	ln, err := e.subsystem.Transport().Socket()
	if err != nil {
		bufs.Release()
		e.logger.Error("Socket creation failed", slog.String("error", err.Error()))
		return fmt.Errorf("failed to create listening socket: %w", err)
	}

	// fail releases what was set up so far
	fail := func(err error) error {
		ln.Close()
		bufs.Release()
		return err
	}

	payloadSize, err := ln.Option(transport.OptPayloadSize)
	if err != nil || payloadSize < audio.StreamHeaderSize {
		payloadSize = transport.DefaultPayloadSize
	}
	payloadSize = alignPayloadSize(payloadSize, cfg.Format, cfg.Channels)

	applyLowLatency(ln.SetOption, e.logger, "listener")

	ip, err := netip.ParseAddr(cfg.ListenAddress)
	if err != nil {
		e.logger.Error("Invalid listen address", slog.String("address", cfg.ListenAddress))
		return fail(fmt.Errorf("%w %q: %v", ErrInvalidAddress, cfg.ListenAddress, err))
	}
	if cfg.ListenPort < 0 || cfg.ListenPort > 65535 {
		return fail(fmt.Errorf("listen port must be between 0 and 65535, got %d", cfg.ListenPort))
	}
	addr := netip.AddrPortFrom(ip, uint16(cfg.ListenPort))

	if err := ln.Bind(addr); err != nil {
		e.logger.Error("Bind failed", slog.String("address", addr.String()), slog.String("error", err.Error()))
		return fail(fmt.Errorf("bind failed: %w", err))
	}

	backlog := cfg.Backlog
	if backlog <= 0 {
		backlog = DefaultBacklog
	}
	if err := ln.Listen(backlog); err != nil {
		e.logger.Error("Listen failed", slog.String("address", addr.String()), slog.String("error", err.Error()))
		return fail(fmt.Errorf("listen failed: %w", err))
	}

	e.cfg = cfg
	e.listener = ln
	e.payloadSize = payloadSize
	e.buffers = bufs
	e.pipeline = audio.NewPipeline(cfg.Format, cfg.Channels, bufs, cfg.Codec)
	e.header = e.pipeline.Header()
	e.registry = NewRegistry()
	e.running = true

	listenAddr := addr.String()
	if a := ln.Addr(); a != nil {
		listenAddr = a.String()
	}
	e.stats = Statistics{
		Format:        cfg.Format.String(),
		Channels:      cfg.Channels.String(),
		ListenAddress: listenAddr,
		PayloadSize:   payloadSize,
	}

	e.logger.Info("Fan-out listening",
		slog.String("transport", e.subsystem.Transport().Name()),
		slog.String("address", listenAddr),
		slog.String("format", cfg.Format.String()),
		slog.String("channels", cfg.Channels.String()),
		slog.Int("payload_size", payloadSize),
		slog.Int("max_samples_per_channel", maxSamplesPerChannel),
	)
	return nil
}

// alignPayloadSize rounds size down to whole frames, so a block cut short by
// a would-block leaves byte-stream listeners on a frame boundary. The header
// size is itself a whole number of PCM16 frames.
func alignPayloadSize(size int, format audio.Format, mode audio.ChannelMode) int {
	frame := format.BytesPerSample() * mode.Channels()
	if frame == 0 {
		return size
	}
	return size - size%frame
}

// DeliverMono fans out one mono block
func (e *Engine) DeliverMono(samples []float32) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.ready() {
		return
	}

	start := time.Now()
	payload, err := e.pipeline.EncodeMono(samples)
	if err != nil {
		e.dropBlock(err, len(samples))
		return
	}
	e.deliver(payload, "mono", start)
}

// DeliverStereo interleaves left and right and fans out the result
func (e *Engine) DeliverStereo(left, right []float32) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.ready() {
		return
	}

	start := time.Now()
	payload, err := e.pipeline.EncodeStereo(left, right)
	if err != nil {
		e.dropBlock(err, len(left))
		return
	}
	e.deliver(payload, "stereo", start)
}

// DeliverRawBytes fans out an already encoded payload. Framed formats still
// get their header first.
func (e *Engine) DeliverRawBytes(p []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.ready() {
		return
	}
	e.deliver(p, "raw_bytes", time.Now())
}

// deliver runs the accept poll and sends payload to every session
func (e *Engine) deliver(payload []byte, kind string, start time.Time) {
	e.acceptPending()
	e.fanOut(payload)

	e.stats.BlocksDelivered++
	e.metrics.RecordBlockDelivered(kind, time.Since(start).Seconds())
}

func (e *Engine) ready() bool {
	if e.running {
		return true
	}
	e.metrics.RecordBlockDropped(metrics.DropNotRunning)
	return false
}

// dropBlock accounts for a block the pipeline refused
func (e *Engine) dropBlock(err error, samplesPerChannel int) {
	reason := metrics.DropEncodeError
	switch {
	case errors.Is(err, audio.ErrCapacity):
		reason = metrics.DropCapacity
	case errors.Is(err, audio.ErrChannelMismatch):
		reason = metrics.DropChannelMismatch
	case errors.Is(err, audio.ErrNoCodec):
		reason = metrics.DropNoCodec
	}

	e.stats.BlocksDropped++
	e.metrics.RecordBlockDropped(reason)

	if e.dropLog.Allow() {
		e.logger.Warn("Dropping audio block",
			slog.String("reason", reason),
			slog.Int("samples_per_channel", samplesPerChannel),
			slog.String("error", err.Error()),
		)
	}
}

// Shutdown closes every session and the listener and releases the buffers.
// Calling it again is a no-op.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	defer e.mu.Unlock()

	closed := e.registry.CloseAll(func(s *Session) {
		e.metrics.RecordSessionClosed(time.Since(s.ConnectedAt).Seconds())
	})

	if e.buffers != nil {
		e.buffers.Release()
		e.buffers = nil
	}

	if e.listener != nil {
		if err := e.listener.Close(); err != nil {
			e.logger.Warn("Error closing listener", slog.String("error", err.Error()))
		}
		e.listener = nil
	}

	if e.running {
		e.logger.Info("Fan-out stopped", slog.Int("sessions_closed", closed))
	}
	e.running = false
	e.pipeline = nil
	e.header = nil
}

// GetStatistics returns the current engine counters
func (e *Engine) GetStatistics() Statistics {
	e.mu.Lock()
	defer e.mu.Unlock()

	stats := e.stats
	stats.Running = e.running
	stats.ActiveSessions = e.registry.Len()
	return stats
}

// GetSessions returns a snapshot of the connected sessions
func (e *Engine) GetSessions() []SessionInfo {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.registry.Snapshot()
}

// GetSession returns the session with the given id
func (e *Engine) GetSession(id uint64) (SessionInfo, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.registry.Get(id)
	if !ok {
		return SessionInfo{}, false
	}
	return s.Info(), true
}

// GetActiveSessionCount returns the number of connected sessions
func (e *Engine) GetActiveSessionCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.registry.Len()
}
