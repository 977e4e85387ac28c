package source

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/yegors/RTLSDR-Airband/internal/audio"
	"github.com/yegors/RTLSDR-Airband/internal/config"
)

// toneAmplitude keeps the generated signal well below clipping
const toneAmplitude = 0.5

// ToneSource delivers a continuous sine wave, one block per block period.
// Stereo streams carry the tone an octave higher on the right channel.
type ToneSource struct {
	frequency    float64
	blockSamples int
	period       time.Duration
	mode         audio.ChannelMode
	sink         Sink
	logger       *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	left   []float32
	right  []float32
	phase  float64
	blocks uint64
	mu     sync.Mutex
}

// NewToneSource creates a tone generator for a stream with the given channel
// mode
func NewToneSource(cfg *config.SourceConfig, mode audio.ChannelMode, sink Sink, logger *slog.Logger) *ToneSource {
	ctx, cancel := context.WithCancel(context.Background())

	return &ToneSource{
		frequency:    cfg.ToneFrequency,
		blockSamples: cfg.BlockSamples,
		period:       cfg.GetBlockDuration(),
		mode:         mode,
		sink:         sink,
		logger:       logger,
		ctx:          ctx,
		cancel:       cancel,
		left:         make([]float32, cfg.BlockSamples),
		right:        make([]float32, cfg.BlockSamples),
	}
}

// Start begins generating blocks
func (t *ToneSource) Start() error {
	t.logger.Info("Tone source started",
		slog.Float64("frequency", t.frequency),
		slog.Int("block_samples", t.blockSamples),
		slog.Duration("block_period", t.period),
		slog.String("channels", t.mode.String()),
	)

	t.wg.Add(1)
	go t.run()
	return nil
}

// Stop stops the generator and waits for the last delivery to finish
func (t *ToneSource) Stop() error {
	t.cancel()
	t.wg.Wait()

	t.logger.Info("Tone source stopped", slog.Uint64("blocks", t.Blocks()))
	return nil
}

// Blocks returns the number of blocks delivered
func (t *ToneSource) Blocks() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.blocks
}

func (t *ToneSource) run() {
	defer t.wg.Done()

	ticker := time.NewTicker(t.period)
	defer ticker.Stop()

	for {
		select {
		case <-t.ctx.Done():
			return
		case <-ticker.C:
			t.deliverBlock()
		}
	}
}

// deliverBlock generates the next block and hands it to the sink
func (t *ToneSource) deliverBlock() {
	t.fill()

	if t.mode == audio.Stereo {
		t.sink.DeliverStereo(t.left, t.right)
	} else {
		t.sink.DeliverMono(t.left)
	}

	t.mu.Lock()
	t.blocks++
	t.mu.Unlock()
}

// fill writes the next blockSamples of the tone, continuing the phase of the
// previous block
func (t *ToneSource) fill() {
	step := 2 * math.Pi * t.frequency / float64(audio.WaveRate)
	for i := range t.left {
		t.left[i] = float32(toneAmplitude * math.Sin(t.phase))
		t.right[i] = float32(toneAmplitude * math.Sin(2*t.phase))
		t.phase += step
	}
	t.phase = math.Mod(t.phase, 2*math.Pi)
}
