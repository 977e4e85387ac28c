package recorder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/gorilla/websocket"

	"github.com/yegors/RTLSDR-Airband/internal/audio"
)

// readSize is the number of stream bytes converted per encoder write
const readSize = 4096

// Options controls one recording
type Options struct {
	Transport   string        // tcp or websocket
	Address     string        // host:port for tcp, ws:// URL for websocket
	Output      string        // WAV file path
	Duration    time.Duration // zero records until the stream ends or ctx is done
	DialTimeout time.Duration
}

// Result describes a finished recording
type Result struct {
	Info     audio.StreamInfo
	Frames   int
	Duration time.Duration
}

// Record connects to a fan-out listener port, checks the stream header and
// writes the PCM that follows into a WAV file.
func Record(ctx context.Context, opts Options, logger *slog.Logger) (*Result, error) {
	if opts.DialTimeout == 0 {
		opts.DialTimeout = 10 * time.Second
	}

	stream, err := dial(ctx, opts)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	// unblock pending reads on cancellation
	stop := context.AfterFunc(ctx, func() { stream.Close() })
	defer stop()

	header := make([]byte, audio.StreamHeaderSize)
	if _, err := io.ReadFull(stream, header); err != nil {
		return nil, fmt.Errorf("failed to read stream header: %w", err)
	}

	info, err := audio.ParseStreamHeader(header)
	if err != nil {
		return nil, fmt.Errorf("invalid stream header: %w", err)
	}

	logger.Info("Recording stream",
		slog.String("address", opts.Address),
		slog.Int("channels", int(info.Channels)),
		slog.Int("sample_rate", int(info.SampleRate)),
		slog.String("output", opts.Output),
	)

	f, err := os.Create(opts.Output)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", opts.Output, err)
	}
	defer f.Close()

	enc := wav.NewEncoder(f, int(info.SampleRate), int(info.BitsPerSample), int(info.Channels), 1)

	var maxFrames int
	if opts.Duration > 0 {
		maxFrames = int(opts.Duration.Seconds() * float64(info.SampleRate))
	}

	frames, copyErr := copyPCM(ctx, stream, enc, int(info.Channels), int(info.SampleRate), maxFrames)

	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize WAV file: %w", err)
	}
	if copyErr != nil {
		return nil, copyErr
	}

	result := &Result{
		Info:     *info,
		Frames:   frames,
		Duration: time.Duration(frames) * time.Second / time.Duration(info.SampleRate),
	}

	logger.Info("Recording finished",
		slog.Int("frames", result.Frames),
		slog.Duration("duration", result.Duration),
	)
	return result, nil
}

// copyPCM streams 16-bit little-endian frames from r into enc until maxFrames
// (zero for no limit), end of stream or cancellation. It returns the number of
// frames written.
func copyPCM(ctx context.Context, r io.Reader, enc *wav.Encoder, channels, sampleRate, maxFrames int) (int, error) {
	frameSize := 2 * channels
	raw := make([]byte, readSize)
	pending := 0
	frames := 0

	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: channels, SampleRate: sampleRate},
		SourceBitDepth: 16,
		Data:           make([]int, 0, readSize/2),
	}

	for maxFrames == 0 || frames < maxFrames {
		n, err := r.Read(raw[pending:])
		pending += n

		whole := pending / frameSize
		if maxFrames > 0 && frames+whole > maxFrames {
			whole = maxFrames - frames
		}

		if whole > 0 {
			buf.Data = buf.Data[:0]
			for i := 0; i < whole*channels; i++ {
				buf.Data = append(buf.Data, int(int16(uint16(raw[2*i])|uint16(raw[2*i+1])<<8)))
			}
			if werr := enc.Write(buf); werr != nil {
				return frames, fmt.Errorf("failed to write WAV data: %w", werr)
			}
			frames += whole

			// keep a partial frame for the next read
			used := whole * frameSize
			pending = copy(raw, raw[used:pending])
		}

		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) || isClosed(err) {
				return frames, nil
			}
			return frames, fmt.Errorf("stream read failed: %w", err)
		}
	}
	return frames, nil
}

func isClosed(err error) bool {
	return errors.Is(err, net.ErrClosed) || websocket.IsCloseError(err,
		websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure)
}

// dial opens the listener connection as a byte stream
func dial(ctx context.Context, opts Options) (io.ReadCloser, error) {
	switch opts.Transport {
	case "", "tcp":
		d := net.Dialer{Timeout: opts.DialTimeout}
		conn, err := d.DialContext(ctx, "tcp", opts.Address)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to %s: %w", opts.Address, err)
		}
		return conn, nil

	case "websocket", "ws":
		d := websocket.Dialer{HandshakeTimeout: opts.DialTimeout}
		conn, _, err := d.DialContext(ctx, opts.Address, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to %s: %w", opts.Address, err)
		}
		return &wsReader{conn: conn}, nil

	default:
		return nil, fmt.Errorf("unknown transport %q", opts.Transport)
	}
}

// wsReader presents binary WebSocket messages as one byte stream
type wsReader struct {
	conn *websocket.Conn
	cur  io.Reader
}

func (w *wsReader) Read(p []byte) (int, error) {
	for {
		if w.cur == nil {
			mt, r, err := w.conn.NextReader()
			if err != nil {
				return 0, err
			}
			if mt != websocket.BinaryMessage {
				continue
			}
			w.cur = r
		}

		n, err := w.cur.Read(p)
		if errors.Is(err, io.EOF) {
			w.cur = nil
			if n == 0 {
				continue
			}
			err = nil
		}
		return n, err
	}
}

func (w *wsReader) Close() error {
	return w.conn.Close()
}
