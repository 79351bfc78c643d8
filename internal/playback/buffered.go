package playback

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rokas2025/playvoice/internal/audio"
	"github.com/rokas2025/playvoice/internal/metrics"
)

// BufferedPlayer plays a complete response in one block. The buffer came from
// a single finished response, so it is neither spike-filtered nor faded.
type BufferedPlayer struct {
	sampleRate int
	epsilon    time.Duration
	logger     *zap.Logger
	metrics    *metrics.Metrics
}

// NewBufferedPlayer creates a whole-buffer player
func NewBufferedPlayer(sampleRate int, epsilon time.Duration, logger *zap.Logger, m *metrics.Metrics) *BufferedPlayer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BufferedPlayer{
		sampleRate: sampleRate,
		epsilon:    epsilon,
		logger:     logger.With(zap.String("component", "buffered_player")),
		metrics:    m,
	}
}

// Decode turns a WAV container or raw 16-bit PCM into a single block
func (p *BufferedPlayer) Decode(data []byte) (*audio.Block, error) {
	pcm := data
	if audio.IsWAV(data) {
		var rate int
		var err error
		pcm, rate, err = audio.DecodeWAV(data)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrFormat, err)
		}
		if rate != p.sampleRate {
			return nil, fmt.Errorf("%w: buffer is %d Hz, session is %d Hz", ErrFormat, rate, p.sampleRate)
		}
	}

	if odd := len(pcm) % audio.FrameSize; odd != 0 {
		p.metrics.RecordLeftoverDiscarded(odd)
		p.logger.Debug("Discarded incomplete trailing frame", zap.Int("bytes", odd))
		pcm = pcm[:len(pcm)-odd]
	}

	return audio.DecodePCM16(pcm, p.sampleRate), nil
}

// Play decodes data, schedules it for immediate playback on out and waits
// for it to finish
func (p *BufferedPlayer) Play(ctx context.Context, out Output, data []byte) error {
	block, err := p.Decode(data)
	if err != nil {
		return err
	}
	if block.Len() == 0 {
		return nil
	}

	finished := make(chan struct{})
	at := out.Now() + p.epsilon
	if err := out.Schedule(block.Samples, at, func() { close(finished) }); err != nil {
		return fmt.Errorf("schedule buffer at %s: %w", at, err)
	}
	p.metrics.RecordBlockScheduled(false)

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
