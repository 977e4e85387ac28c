package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/yegors/RTLSDR-Airband/internal/config"
	"github.com/yegors/RTLSDR-Airband/internal/metrics"
	"github.com/yegors/RTLSDR-Airband/internal/protocol"
)

// UDPSource receives ingest packets and hands their audio to a Sink
type UDPSource struct {
	conn    *net.UDPConn
	config  *config.SourceConfig
	logger  *slog.Logger
	metrics *metrics.Metrics
	sink    Sink

	// Concurrency management
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Decode buffers, owned by the receive loop
	left  []float32
	right []float32

	// Sequence tracking
	haveSeq bool
	lastSeq uint32

	stats Statistics
	mu    sync.RWMutex
}

// Statistics represents ingest counters
type Statistics struct {
	PacketsReceived  uint64 `json:"packets_received"`
	PacketsDelivered uint64 `json:"packets_delivered"`
	ParseErrors      uint64 `json:"parse_errors"`
	SequenceGaps     uint64 `json:"sequence_gaps"`
	LatePackets      uint64 `json:"late_packets"`
}

// NewUDPSource creates a new UDP ingest source
func NewUDPSource(cfg *config.SourceConfig, sink Sink, logger *slog.Logger, m *metrics.Metrics) *UDPSource {
	ctx, cancel := context.WithCancel(context.Background())

	return &UDPSource{
		config:  cfg,
		logger:  logger,
		metrics: m,
		sink:    sink,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start begins listening for ingest packets
func (s *UDPSource) Start() error {
	addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(s.config.BindAddress, fmt.Sprint(s.config.UDPPort)))
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address: %w", err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP: %w", err)
	}

	s.conn = conn

	if err := s.conn.SetReadBuffer(s.config.BufferSize); err != nil {
		s.logger.Warn("Failed to set UDP read buffer size",
			slog.Int("buffer_size", s.config.BufferSize),
			slog.String("error", err.Error()),
		)
	}

	s.logger.Info("UDP source started",
		slog.String("address", s.conn.LocalAddr().String()),
		slog.Int("buffer_size", s.config.BufferSize),
	)

	s.wg.Add(1)
	go s.receiveLoop()

	return nil
}

// Addr returns the bound address, or nil before Start
func (s *UDPSource) Addr() net.Addr {
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

// Stop gracefully stops the UDP source
func (s *UDPSource) Stop() error {
	s.logger.Info("Stopping UDP source...")

	s.cancel()

	// Close UDP connection to unblock the receive loop
	if s.conn != nil {
		if err := s.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			s.logger.Warn("Error closing UDP connection", slog.String("error", err.Error()))
		}
	}

	s.wg.Wait()

	stats := s.GetStatistics()
	s.logger.Info("UDP source stopped",
		slog.Uint64("packets_received", stats.PacketsReceived),
		slog.Uint64("packets_delivered", stats.PacketsDelivered),
		slog.Uint64("parse_errors", stats.ParseErrors),
		slog.Uint64("sequence_gaps", stats.SequenceGaps),
	)

	return nil
}

// receiveLoop reads and delivers packets one at a time
func (s *UDPSource) receiveLoop() {
	defer s.wg.Done()

	buffer := make([]byte, protocol.MaxPacketSize)

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		// Set read deadline to check for context cancellation periodically
		if err := s.conn.SetReadDeadline(time.Now().Add(1 * time.Second)); err != nil {
			if s.ctx.Err() != nil {
				return
			}
			s.logger.Error("Failed to set read deadline", slog.String("error", err.Error()))
			continue
		}

		n, remoteAddr, err := s.conn.ReadFromUDP(buffer)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}

			select {
			case <-s.ctx.Done():
				return
			default:
				s.logger.Error("Failed to read UDP packet", slog.String("error", err.Error()))
				continue
			}
		}

		// buffer is reused, but delivery is synchronous so no copy is needed
		s.handlePacket(buffer[:n], remoteAddr)
	}
}

// handlePacket parses one packet and delivers its payload
func (s *UDPSource) handlePacket(data []byte, remoteAddr *net.UDPAddr) {
	s.mu.Lock()
	s.stats.PacketsReceived++
	s.mu.Unlock()
	s.metrics.RecordPacketReceived()

	packet, err := protocol.ParsePacket(data)
	if err != nil {
		s.mu.Lock()
		s.stats.ParseErrors++
		s.mu.Unlock()
		s.metrics.RecordParseError()

		s.logger.Error("Failed to parse packet",
			slog.String("remote_addr", remoteAddr.String()),
			slog.Int("packet_size", len(data)),
			slog.String("error", err.Error()),
		)
		return
	}

	if !s.trackSequence(packet.Header.Sequence) {
		s.logger.Debug("Dropping late packet",
			slog.Uint64("sequence", uint64(packet.Header.Sequence)),
			slog.Uint64("last_sequence", uint64(s.lastSeq)),
		)
		return
	}

	switch packet.Header.PacketType {
	case protocol.PacketTypeAudio:
		s.left, s.right = packet.Audio.Decode(s.left, s.right)
		if packet.Audio.Channels == protocol.ChannelsStereo {
			s.sink.DeliverStereo(s.left, s.right)
		} else {
			s.sink.DeliverMono(s.left)
		}

	case protocol.PacketTypeEncoded:
		s.sink.DeliverRawBytes(packet.Encoded)
	}

	s.mu.Lock()
	s.stats.PacketsDelivered++
	s.mu.Unlock()
}

// trackSequence records seq and reports whether the packet should be
// delivered. Packets older than the last one seen are late.
func (s *UDPSource) trackSequence(seq uint32) bool {
	if !s.haveSeq {
		s.haveSeq = true
		s.lastSeq = seq
		return true
	}

	// wrap-around safe distance from the expected sequence
	diff := seq - (s.lastSeq + 1)
	if diff >= 1<<31 {
		s.mu.Lock()
		s.stats.LatePackets++
		s.mu.Unlock()
		return false
	}

	if diff > 0 {
		s.mu.Lock()
		s.stats.SequenceGaps += uint64(diff)
		s.mu.Unlock()
		s.metrics.RecordSequenceGap(diff)
	}
	s.lastSeq = seq
	return true
}

// GetStatistics returns current ingest statistics
func (s *UDPSource) GetStatistics() Statistics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}
