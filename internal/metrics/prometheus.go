package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Drop reasons used as label values of BlocksDropped
const (
	DropCapacity        = "capacity"
	DropChannelMismatch = "channel_mismatch"
	DropNoCodec         = "no_codec"
	DropEncodeError     = "encode_error"
	DropNotRunning      = "not_running"
)

// Metrics contains all Prometheus metrics for the audio fan-out service
type Metrics struct {
	// Session metrics
	ActiveSessions   prometheus.Gauge
	SessionsAccepted prometheus.Counter
	SessionsEvicted  prometheus.Counter
	SessionDuration  prometheus.Histogram

	// Fan-out metrics
	HeadersSent      prometheus.Counter
	ChunksSent       prometheus.Counter
	BytesSent        prometheus.Counter
	WouldBlock       prometheus.Counter
	BlocksDelivered  *prometheus.CounterVec
	BlocksDropped    *prometheus.CounterVec
	DeliveryDuration prometheus.Histogram

	// Ingest metrics
	PacketsReceived prometheus.Counter
	ParseErrors     prometheus.Counter
	SequenceGaps    prometheus.Counter

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		// Session metrics
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "fanout_active_sessions",
			Help: "Current number of connected listeners",
		}),
		SessionsAccepted: factory.NewCounter(prometheus.CounterOpts{
			Name: "fanout_sessions_accepted_total",
			Help: "Total number of listener connections accepted",
		}),
		SessionsEvicted: factory.NewCounter(prometheus.CounterOpts{
			Name: "fanout_sessions_evicted_total",
			Help: "Total number of listeners evicted after a fatal send error",
		}),
		SessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "fanout_session_duration_seconds",
			Help:    "Lifetime of listener sessions in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14), // 1s to ~2.3 hours
		}),

		// Fan-out metrics
		HeadersSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "fanout_headers_sent_total",
			Help: "Total number of stream headers sent to listeners",
		}),
		ChunksSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "fanout_chunks_sent_total",
			Help: "Total number of payload chunks sent",
		}),
		BytesSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "fanout_bytes_sent_total",
			Help: "Total number of payload bytes sent",
		}),
		WouldBlock: factory.NewCounter(prometheus.CounterOpts{
			Name: "fanout_would_block_total",
			Help: "Total number of sends dropped because a listener was not ready",
		}),
		BlocksDelivered: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fanout_blocks_delivered_total",
			Help: "Total number of audio blocks fanned out",
		}, []string{"kind"}),
		BlocksDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fanout_blocks_dropped_total",
			Help: "Total number of audio blocks dropped before fan-out",
		}, []string{"reason"}),
		DeliveryDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "fanout_delivery_duration_seconds",
			Help:    "Time spent inside one delivery call",
			Buckets: prometheus.ExponentialBuckets(0.00001, 2, 14), // 10us to ~80ms
		}),

		// Ingest metrics
		PacketsReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "fanout_ingest_packets_received_total",
			Help: "Total number of ingest packets received",
		}),
		ParseErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "fanout_ingest_parse_errors_total",
			Help: "Total number of ingest packets that failed to parse",
		}),
		SequenceGaps: factory.NewCounter(prometheus.CounterOpts{
			Name: "fanout_ingest_sequence_gaps_total",
			Help: "Total number of missing ingest sequence numbers",
		}),

		// HTTP API metrics
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fanout_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fanout_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fanout_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordSessionAccepted increments the accepted counter and the active gauge
func (m *Metrics) RecordSessionAccepted() {
	m.SessionsAccepted.Inc()
	m.ActiveSessions.Inc()
}

// RecordSessionEvicted records a session removed after a fatal error
func (m *Metrics) RecordSessionEvicted(durationSeconds float64) {
	m.SessionsEvicted.Inc()
	m.RecordSessionClosed(durationSeconds)
}

// RecordSessionClosed decrements the active gauge and records the lifetime
func (m *Metrics) RecordSessionClosed(durationSeconds float64) {
	m.ActiveSessions.Dec()
	m.SessionDuration.Observe(durationSeconds)
}

// RecordHeaderSent increments the header counter
func (m *Metrics) RecordHeaderSent() {
	m.HeadersSent.Inc()
}

// RecordChunkSent records one successfully sent chunk
func (m *Metrics) RecordChunkSent(sizeBytes int) {
	m.ChunksSent.Inc()
	m.BytesSent.Add(float64(sizeBytes))
}

// RecordWouldBlock increments the would-block counter
func (m *Metrics) RecordWouldBlock() {
	m.WouldBlock.Inc()
}

// RecordBlockDelivered records a block that reached the fan-out stage
func (m *Metrics) RecordBlockDelivered(kind string, durationSeconds float64) {
	m.BlocksDelivered.WithLabelValues(kind).Inc()
	m.DeliveryDuration.Observe(durationSeconds)
}

// RecordBlockDropped records a block dropped before fan-out
func (m *Metrics) RecordBlockDropped(reason string) {
	m.BlocksDropped.WithLabelValues(reason).Inc()
}

// RecordPacketReceived increments the ingest packet counter
func (m *Metrics) RecordPacketReceived() {
	m.PacketsReceived.Inc()
}

// RecordParseError increments the ingest parse error counter
func (m *Metrics) RecordParseError() {
	m.ParseErrors.Inc()
}

// RecordSequenceGap adds missing sequence numbers to the gap counter
func (m *Metrics) RecordSequenceGap(missing uint32) {
	m.SequenceGaps.Add(float64(missing))
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
