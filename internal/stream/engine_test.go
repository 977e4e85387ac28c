package stream

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"log/slog"
	"os"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/yegors/RTLSDR-Airband/internal/audio"
	"github.com/yegors/RTLSDR-Airband/internal/metrics"
	"github.com/yegors/RTLSDR-Airband/internal/transport"
	"github.com/yegors/RTLSDR-Airband/internal/transport/transporttest"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

// newTestEngine returns an idle engine on a spy transport
func newTestEngine(t *testing.T, payloadSize int) (*Engine, *transporttest.Transport, *metrics.Metrics) {
	t.Helper()
	spy := transporttest.New(payloadSize)
	m := metrics.NewMetrics(prometheus.NewRegistry())
	e := NewEngine(transport.NewSubsystem(spy, testLogger()), testLogger(), m)
	return e, spy, m
}

func startEngine(t *testing.T, e *Engine, format audio.Format, mode audio.ChannelMode, maxSamples int) {
	t.Helper()
	cfg := Config{
		Format:        format,
		Channels:      mode,
		ListenAddress: "127.0.0.1",
		ListenPort:    9000,
	}
	if err := e.Initialize(cfg, maxSamples); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
}

func pcmBytes(samples ...float32) []byte {
	pcm := make([]int16, len(samples))
	audio.ConvertPCM16(pcm, samples)
	out := make([]byte, 2*len(pcm))
	audio.PutInt16LE(out, pcm)
	return out
}

func TestInitialize(t *testing.T) {
	e, spy, _ := newTestEngine(t, 1316)
	startEngine(t, e, audio.FormatWAV, audio.Mono, 256)
	defer e.Shutdown()

	ln := spy.Listener()
	if ln == nil {
		t.Fatal("Expected a listener to be created")
	}
	if got := ln.Bound().String(); got != "127.0.0.1:9000" {
		t.Errorf("Expected bind to 127.0.0.1:9000, got %s", got)
	}
	if ln.Backlog() != DefaultBacklog {
		t.Errorf("Expected backlog %d, got %d", DefaultBacklog, ln.Backlog())
	}

	opts := ln.Options()
	for _, o := range lowLatencyOptions {
		if v, ok := opts[o.opt]; !ok || v != 0 {
			t.Errorf("Expected listener option %s=0, got %d (set=%v)", o.opt, v, ok)
		}
	}

	stats := e.GetStatistics()
	if !stats.Running {
		t.Error("Expected engine to be running")
	}
	if stats.PayloadSize != 1316 {
		t.Errorf("Expected payload size 1316, got %d", stats.PayloadSize)
	}
	if stats.Format != "wav" || stats.Channels != "mono" {
		t.Errorf("Unexpected layout in statistics: %s/%s", stats.Format, stats.Channels)
	}

	if err := e.Initialize(Config{ListenAddress: "127.0.0.1"}, 16); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("Expected ErrAlreadyRunning, got %v", err)
	}
}

func TestInitializePayloadSizeFallback(t *testing.T) {
	for _, size := range []int{0, 20} {
		e, _, _ := newTestEngine(t, size)
		startEngine(t, e, audio.FormatRaw, audio.Mono, 16)

		if got := e.GetStatistics().PayloadSize; got != transport.DefaultPayloadSize {
			t.Errorf("Reported size %d: expected fallback %d, got %d", size, transport.DefaultPayloadSize, got)
		}
		e.Shutdown()
	}
}

func TestInitializeFailures(t *testing.T) {
	t.Run("startup", func(t *testing.T) {
		e, spy, _ := newTestEngine(t, 1316)
		spy.StartupErr = errors.New("library unavailable")

		err := e.Initialize(Config{ListenAddress: "127.0.0.1"}, 16)
		if !errors.Is(err, ErrTransportStartup) {
			t.Errorf("Expected ErrTransportStartup, got %v", err)
		}
		if spy.Listener() != nil {
			t.Error("Expected no socket after startup failure")
		}

		// the subsystem retries on the next Initialize
		spy.StartupErr = nil
		if err := e.Initialize(Config{ListenAddress: "127.0.0.1"}, 16); err != nil {
			t.Errorf("Expected retry to succeed, got %v", err)
		}
		e.Shutdown()
	})

	t.Run("invalid address", func(t *testing.T) {
		e, spy, _ := newTestEngine(t, 1316)

		err := e.Initialize(Config{ListenAddress: "not-an-address"}, 16)
		if !errors.Is(err, ErrInvalidAddress) {
			t.Errorf("Expected ErrInvalidAddress, got %v", err)
		}
		if spy.Listener().Closes() != 1 {
			t.Errorf("Expected socket closed once, got %d", spy.Listener().Closes())
		}
		if e.GetStatistics().Running {
			t.Error("Expected engine not to be running")
		}
	})

	t.Run("bind", func(t *testing.T) {
		e, spy, _ := newTestEngine(t, 1316)
		spy.BindErr = errors.New("address in use")

		if err := e.Initialize(Config{ListenAddress: "0.0.0.0", ListenPort: 80}, 16); err == nil {
			t.Error("Expected bind failure")
		}
		if spy.Listener().Closes() != 1 {
			t.Errorf("Expected socket closed once, got %d", spy.Listener().Closes())
		}
	})

	t.Run("listen", func(t *testing.T) {
		e, spy, _ := newTestEngine(t, 1316)
		spy.ListenErr = errors.New("listen refused")

		if err := e.Initialize(Config{ListenAddress: "0.0.0.0"}, 16); err == nil {
			t.Error("Expected listen failure")
		}
		if spy.Listener().Closes() != 1 {
			t.Errorf("Expected socket closed once, got %d", spy.Listener().Closes())
		}

		// a failed Initialize leaves nothing to tear down
		e.Shutdown()
		if spy.Listener().Closes() != 1 {
			t.Errorf("Expected no extra close from Shutdown, got %d", spy.Listener().Closes())
		}
	})
}

func TestCapacityViolationTouchesNoTransport(t *testing.T) {
	e, spy, m := newTestEngine(t, 1316)
	startEngine(t, e, audio.FormatWAV, audio.Mono, 4)
	defer e.Shutdown()

	ln := spy.Listener()
	conn := ln.Connect()

	e.DeliverMono(make([]float32, 5))

	if ln.AcceptCalls() != 0 {
		t.Errorf("Expected no Accept calls, got %d", ln.AcceptCalls())
	}
	if conn.Attempts() != 0 {
		t.Errorf("Expected no Send calls, got %d", conn.Attempts())
	}
	if got := testutil.ToFloat64(m.BlocksDropped.WithLabelValues(metrics.DropCapacity)); got != 1 {
		t.Errorf("Expected 1 capacity drop, got %v", got)
	}

	// a block at capacity goes through
	e.DeliverMono(make([]float32, 4))
	if e.GetActiveSessionCount() != 1 {
		t.Errorf("Expected 1 session, got %d", e.GetActiveSessionCount())
	}
	if len(conn.Data()) != audio.StreamHeaderSize+8 {
		t.Errorf("Expected %d bytes, got %d", audio.StreamHeaderSize+8, len(conn.Data()))
	}
}

func TestStereoCapacityAndMismatch(t *testing.T) {
	e, spy, _ := newTestEngine(t, 1316)
	startEngine(t, e, audio.FormatWAV, audio.Stereo, 4)
	defer e.Shutdown()

	ln := spy.Listener()
	ln.Connect()

	e.DeliverStereo(make([]float32, 5), make([]float32, 5))
	e.DeliverStereo(make([]float32, 3), make([]float32, 2))
	e.DeliverMono(make([]float32, 2))

	if ln.AcceptCalls() != 0 {
		t.Errorf("Expected no Accept calls, got %d", ln.AcceptCalls())
	}
	if got := e.GetStatistics().BlocksDropped; got != 3 {
		t.Errorf("Expected 3 dropped blocks, got %d", got)
	}
}

func TestHeaderSentOncePerSession(t *testing.T) {
	e, spy, m := newTestEngine(t, 1316)
	startEngine(t, e, audio.FormatWAV, audio.Mono, 64)
	defer e.Shutdown()

	ln := spy.Listener()
	header := audio.StreamHeader(1, audio.WaveRate)

	early := ln.Connect()
	e.DeliverMono([]float32{0.5, -0.5})
	e.DeliverMono([]float32{0.25})

	late := ln.Connect()
	e.DeliverMono([]float32{1.5})

	want := append(append([]byte(nil), header...), pcmBytes(0.5, -0.5)...)
	want = append(want, pcmBytes(0.25)...)
	want = append(want, pcmBytes(1.5)...)
	if !bytes.Equal(early.Data(), want) {
		t.Errorf("Early listener stream mismatch:\n got %x\nwant %x", early.Data(), want)
	}

	lateWant := append(append([]byte(nil), header...), pcmBytes(1.5)...)
	if !bytes.Equal(late.Data(), lateWant) {
		t.Errorf("Late listener stream mismatch:\n got %x\nwant %x", late.Data(), lateWant)
	}

	if got := testutil.ToFloat64(m.HeadersSent); got != 2 {
		t.Errorf("Expected 2 headers sent, got %v", got)
	}
	if got := testutil.ToFloat64(m.ActiveSessions); got != 2 {
		t.Errorf("Expected 2 active sessions, got %v", got)
	}
}

func TestRawFormatHasNoHeader(t *testing.T) {
	e, spy, _ := newTestEngine(t, 1316)
	startEngine(t, e, audio.FormatRaw, audio.Mono, 64)
	defer e.Shutdown()

	conn := spy.Listener().Connect()
	e.DeliverMono([]float32{0.5, 2})

	want := make([]byte, 8)
	audio.PutFloat32LE(want, []float32{0.5, 2})
	if !bytes.Equal(conn.Data(), want) {
		t.Errorf("Expected unclamped float bytes %x, got %x", want, conn.Data())
	}
}

func TestChunking(t *testing.T) {
	e, spy, _ := newTestEngine(t, 100)
	startEngine(t, e, audio.FormatRaw, audio.Mono, 64)
	defer e.Shutdown()

	conn := spy.Listener().Connect()

	samples := make([]float32, 60)
	for i := range samples {
		samples[i] = float32(i) / 60
	}
	e.DeliverMono(samples)

	chunks := conn.Chunks()
	if len(chunks) != 3 {
		t.Fatalf("Expected 3 chunks, got %d", len(chunks))
	}
	for i, size := range []int{100, 100, 40} {
		if len(chunks[i]) != size {
			t.Errorf("Chunk %d: expected %d bytes, got %d", i, size, len(chunks[i]))
		}
	}

	want := make([]byte, 240)
	audio.PutFloat32LE(want, samples)
	if !bytes.Equal(conn.Data(), want) {
		t.Error("Concatenated chunks do not match the encoded block")
	}
}

func TestStereoInterleaveEndToEnd(t *testing.T) {
	e, spy, _ := newTestEngine(t, 1316)
	startEngine(t, e, audio.FormatWAV, audio.Stereo, 16)
	defer e.Shutdown()

	conn := spy.Listener().Connect()
	e.DeliverStereo([]float32{0.5, -1}, []float32{0.25, 2})

	header := audio.StreamHeader(2, audio.WaveRate)
	want := append(append([]byte(nil), header...), pcmBytes(0.5, 0.25, -1, 2)...)
	if !bytes.Equal(conn.Data(), want) {
		t.Errorf("Stereo stream mismatch:\n got %x\nwant %x", conn.Data(), want)
	}
}

func TestFatalSendEvictsSession(t *testing.T) {
	e, spy, m := newTestEngine(t, 1316)
	startEngine(t, e, audio.FormatRaw, audio.Mono, 16)

	ln := spy.Listener()
	bad := ln.Connect()
	good := ln.Connect()
	bad.FailNext(errors.New("connection reset"))

	e.DeliverMono([]float32{0.1})

	if bad.Closes() != 1 {
		t.Errorf("Expected evicted conn closed once, got %d", bad.Closes())
	}
	if e.GetActiveSessionCount() != 1 {
		t.Errorf("Expected 1 session left, got %d", e.GetActiveSessionCount())
	}
	if len(good.Chunks()) != 1 {
		t.Errorf("Expected healthy listener to get its block, got %d chunks", len(good.Chunks()))
	}

	attempts := bad.Attempts()
	e.DeliverMono([]float32{0.2})
	if bad.Attempts() != attempts {
		t.Error("Expected no sends to an evicted session")
	}

	e.Shutdown()
	if bad.Closes() != 1 {
		t.Errorf("Expected evicted conn still closed once after Shutdown, got %d", bad.Closes())
	}
	if good.Closes() != 1 {
		t.Errorf("Expected healthy conn closed once by Shutdown, got %d", good.Closes())
	}
	if got := testutil.ToFloat64(m.SessionsEvicted); got != 1 {
		t.Errorf("Expected 1 eviction, got %v", got)
	}
	if got := testutil.ToFloat64(m.ActiveSessions); got != 0 {
		t.Errorf("Expected 0 active sessions, got %v", got)
	}
}

func TestWouldBlockKeepsSession(t *testing.T) {
	e, spy, m := newTestEngine(t, 100)
	startEngine(t, e, audio.FormatRaw, audio.Mono, 64)
	defer e.Shutdown()

	conn := spy.Listener().Connect()

	// first chunk goes out, second would block; the rest of the block is skipped
	conn.FailNext(nil, transport.ErrWouldBlock)
	e.DeliverMono(make([]float32, 60))

	if conn.Attempts() != 2 {
		t.Errorf("Expected 2 send attempts, got %d", conn.Attempts())
	}
	if e.GetActiveSessionCount() != 1 {
		t.Fatalf("Expected session to survive, got %d sessions", e.GetActiveSessionCount())
	}
	if conn.Closes() != 0 {
		t.Errorf("Expected conn to stay open, got %d closes", conn.Closes())
	}

	e.DeliverMono(make([]float32, 10))
	if got := len(conn.Data()); got != 100+40 {
		t.Errorf("Expected 140 bytes after retry, got %d", got)
	}
	if got := testutil.ToFloat64(m.WouldBlock); got != 1 {
		t.Errorf("Expected 1 would-block, got %v", got)
	}
	if got := e.GetStatistics().WouldBlocks; got != 1 {
		t.Errorf("Expected 1 would-block in statistics, got %d", got)
	}
}

func TestPayloadSizeAlignedToFrames(t *testing.T) {
	tests := []struct {
		name     string
		reported int
		format   audio.Format
		mode     audio.ChannelMode
		want     int
	}{
		{"raw stereo", 1316, audio.FormatRaw, audio.Stereo, 1312},
		{"raw mono", 46, audio.FormatRaw, audio.Mono, 44},
		{"wav mono odd", 1317, audio.FormatWAV, audio.Mono, 1316},
		{"wav stereo", 47, audio.FormatWAV, audio.Stereo, 44},
		{"compressed untouched", 1317, audio.FormatCompressed, audio.Stereo, 1317},
		{"fallback raw stereo", 0, audio.FormatRaw, audio.Stereo, 1312},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, _, _ := newTestEngine(t, tt.reported)
			startEngine(t, e, tt.format, tt.mode, 16)
			defer e.Shutdown()

			if got := e.GetStatistics().PayloadSize; got != tt.want {
				t.Errorf("Expected payload size %d, got %d", tt.want, got)
			}
		})
	}
}

func TestWouldBlockMidBlockKeepsFrameAlignment(t *testing.T) {
	e, spy, _ := newTestEngine(t, 1316)
	startEngine(t, e, audio.FormatRaw, audio.Stereo, 512)
	defer e.Shutdown()

	conn := spy.Listener().Connect()

	left := make([]float32, 300)
	right := make([]float32, 300)
	for i := range left {
		left[i] = 0.25
		right[i] = -0.5
	}

	// the second chunk of the first block would block
	conn.FailNext(nil, transport.ErrWouldBlock)
	e.DeliverStereo(left, right)
	e.DeliverStereo(left, right)

	data := conn.Data()
	const frameSize = 8
	if len(data)%frameSize != 0 {
		t.Fatalf("Expected whole frames, got %d bytes (remainder %d)", len(data), len(data)%frameSize)
	}
	if len(data) != 1312+2400 {
		t.Errorf("Expected %d bytes, got %d", 1312+2400, len(data))
	}

	for i := 0; i+frameSize <= len(data); i += frameSize {
		l := math.Float32frombits(binary.LittleEndian.Uint32(data[i:]))
		r := math.Float32frombits(binary.LittleEndian.Uint32(data[i+4:]))
		if l != 0.25 || r != -0.5 {
			t.Fatalf("Frame %d: expected (0.25, -0.5), got (%v, %v)", i/frameSize, l, r)
		}
	}
}

func TestHeaderWouldBlockRetriesHeader(t *testing.T) {
	e, spy, _ := newTestEngine(t, 1316)
	startEngine(t, e, audio.FormatWAV, audio.Mono, 16)
	defer e.Shutdown()

	conn := spy.Listener().Connect()
	conn.FailNext(transport.ErrWouldBlock)

	e.DeliverMono([]float32{0.1})
	if conn.Attempts() != 1 {
		t.Errorf("Expected data to be skipped after header would-block, got %d attempts", conn.Attempts())
	}
	sessions := e.GetSessions()
	if len(sessions) != 1 || sessions[0].HeaderSent {
		t.Fatalf("Expected one session without header, got %+v", sessions)
	}

	e.DeliverMono([]float32{0.2})
	want := append(append([]byte(nil), audio.StreamHeader(1, audio.WaveRate)...), pcmBytes(0.2)...)
	if !bytes.Equal(conn.Data(), want) {
		t.Errorf("Expected header then data:\n got %x\nwant %x", conn.Data(), want)
	}
	if !e.GetSessions()[0].HeaderSent {
		t.Error("Expected header marked sent")
	}
}

func TestDeliverRawBytes(t *testing.T) {
	e, spy, _ := newTestEngine(t, 1316)
	startEngine(t, e, audio.FormatWAV, audio.Mono, 16)
	defer e.Shutdown()

	conn := spy.Listener().Connect()
	e.DeliverRawBytes([]byte{1, 2, 3})
	e.DeliverRawBytes([]byte{4})

	want := append(append([]byte(nil), audio.StreamHeader(1, audio.WaveRate)...), 1, 2, 3, 4)
	if !bytes.Equal(conn.Data(), want) {
		t.Errorf("Expected header then raw bytes:\n got %x\nwant %x", conn.Data(), want)
	}
}

type prefixCodec struct{}

func (prefixCodec) Encode(dst []byte, samples []float32, channels int) ([]byte, error) {
	return append(dst, byte(channels), byte(len(samples))), nil
}

func TestCompressedFormat(t *testing.T) {
	t.Run("without codec", func(t *testing.T) {
		e, spy, m := newTestEngine(t, 1316)
		startEngine(t, e, audio.FormatCompressed, audio.Mono, 16)
		defer e.Shutdown()

		conn := spy.Listener().Connect()
		e.DeliverMono([]float32{0.1})
		if conn.Attempts() != 0 {
			t.Errorf("Expected PCM block dropped, got %d sends", conn.Attempts())
		}
		if got := testutil.ToFloat64(m.BlocksDropped.WithLabelValues(metrics.DropNoCodec)); got != 1 {
			t.Errorf("Expected 1 no-codec drop, got %v", got)
		}

		e.DeliverRawBytes([]byte{0xff, 0xfb})
		if !bytes.Equal(conn.Data(), []byte{0xff, 0xfb}) {
			t.Errorf("Expected raw bytes without header, got %x", conn.Data())
		}
	})

	t.Run("with codec", func(t *testing.T) {
		e, spy, _ := newTestEngine(t, 1316)
		cfg := Config{
			Format:        audio.FormatCompressed,
			Channels:      audio.Stereo,
			ListenAddress: "127.0.0.1",
			Codec:         prefixCodec{},
		}
		if err := e.Initialize(cfg, 16); err != nil {
			t.Fatalf("Initialize failed: %v", err)
		}
		defer e.Shutdown()

		conn := spy.Listener().Connect()
		e.DeliverStereo([]float32{0, 0, 0}, []float32{0, 0, 0})
		if !bytes.Equal(conn.Data(), []byte{2, 6}) {
			t.Errorf("Expected codec output, got %x", conn.Data())
		}
	})
}

func TestAcceptedSessionsGetLowLatencyOptions(t *testing.T) {
	e, spy, _ := newTestEngine(t, 1316)
	startEngine(t, e, audio.FormatRaw, audio.Mono, 16)
	defer e.Shutdown()

	conn := spy.Listener().Connect()
	e.DeliverMono([]float32{0})

	for _, o := range lowLatencyOptions {
		if v, ok := conn.Option(o.opt); !ok || v != 0 {
			t.Errorf("Expected session option %s=0, got %d (set=%v)", o.opt, v, ok)
		}
	}
}

func TestAcceptErrorEndsPoll(t *testing.T) {
	e, spy, _ := newTestEngine(t, 1316)
	startEngine(t, e, audio.FormatRaw, audio.Mono, 16)
	defer e.Shutdown()

	ln := spy.Listener()
	ln.Connect()
	ln.Connect()
	ln.FailAccept(errors.New("accept failed"))

	e.DeliverMono([]float32{0})
	if e.GetActiveSessionCount() != 2 {
		t.Errorf("Expected 2 sessions, got %d", e.GetActiveSessionCount())
	}
	if ln.AcceptCalls() != 3 {
		t.Errorf("Expected 3 Accept calls, got %d", ln.AcceptCalls())
	}
}

func TestShutdownIdempotent(t *testing.T) {
	e, spy, _ := newTestEngine(t, 1316)
	startEngine(t, e, audio.FormatWAV, audio.Mono, 16)

	ln := spy.Listener()
	conn := ln.Connect()
	e.DeliverMono([]float32{0})

	e.Shutdown()
	e.Shutdown()

	if ln.Closes() != 1 {
		t.Errorf("Expected listener closed once, got %d", ln.Closes())
	}
	if conn.Closes() != 1 {
		t.Errorf("Expected session closed once, got %d", conn.Closes())
	}
	if e.GetStatistics().Running {
		t.Error("Expected engine stopped")
	}

	attempts := conn.Attempts()
	e.DeliverMono([]float32{0})
	e.DeliverRawBytes([]byte{1})
	if conn.Attempts() != attempts {
		t.Error("Expected no sends after Shutdown")
	}

	// the engine can be started again
	startEngine(t, e, audio.FormatWAV, audio.Mono, 16)
	e.Shutdown()
}

func TestShutdownBeforeInitialize(t *testing.T) {
	e, _, _ := newTestEngine(t, 1316)
	e.Shutdown()
	e.DeliverMono([]float32{0})

	if e.GetActiveSessionCount() != 0 {
		t.Errorf("Expected no sessions, got %d", e.GetActiveSessionCount())
	}
}

func TestGetSession(t *testing.T) {
	e, spy, _ := newTestEngine(t, 1316)
	startEngine(t, e, audio.FormatWAV, audio.Mono, 16)
	defer e.Shutdown()

	spy.Listener().Connect()
	e.DeliverMono([]float32{0.1, 0.2})

	sessions := e.GetSessions()
	if len(sessions) != 1 {
		t.Fatalf("Expected 1 session, got %d", len(sessions))
	}

	info, ok := e.GetSession(sessions[0].ID)
	if !ok {
		t.Fatal("Expected session to be found")
	}
	if !info.HeaderSent {
		t.Error("Expected header_sent=true after first delivery")
	}
	if info.BytesSent != 4 {
		t.Errorf("Expected 4 data bytes, got %d", info.BytesSent)
	}

	if _, ok := e.GetSession(sessions[0].ID + 1); ok {
		t.Error("Expected unknown session id to be missing")
	}
}
