package playback

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/rokas2025/playvoice/internal/config"
	"github.com/rokas2025/playvoice/internal/metrics"
)

// Source is one synthesized utterance. Streaming is decided from the
// response once it arrives: a streaming body is played as it is read, a
// buffered one is read whole first.
type Source struct {
	Body      io.ReadCloser
	Streaming bool
}

// Player is the front door for utterance playback. It opens an output per
// utterance and always releases it before returning.
type Player struct {
	factory    OutputFactory
	sampleRate int
	stream     *StreamPlayer
	buffered   *BufferedPlayer
	logger     *zap.Logger
	metrics    *metrics.Metrics
}

// NewPlayer creates a player that opens outputs through factory
func NewPlayer(cfg config.PlaybackConfig, sampleRate int, factory OutputFactory, logger *zap.Logger, m *metrics.Metrics) *Player {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Player{
		factory:    factory,
		sampleRate: sampleRate,
		stream:     NewStreamPlayer(cfg, sampleRate, logger, m),
		buffered:   NewBufferedPlayer(sampleRate, cfg.ScheduleEpsilon, logger, m),
		logger:     logger.With(zap.String("component", "player")),
		metrics:    m,
	}
}

// Play plays src to completion. Cancelling ctx aborts the read, stops
// scheduling and releases the output.
func (p *Player) Play(ctx context.Context, src Source) (err error) {
	defer src.Body.Close()
	stop := context.AfterFunc(ctx, func() { src.Body.Close() })
	defer stop()

	out, err := p.factory(p.sampleRate)
	if err != nil {
		p.metrics.RecordPlaybackError("device")
		return fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}
	defer func() {
		if cerr := out.Close(); cerr != nil {
			p.logger.Warn("Failed to release output", zap.Error(cerr))
		}
	}()

	mode := "buffered"
	if src.Streaming {
		mode = "stream"
	}
	started := time.Now()

	if src.Streaming {
		var stats *StreamStats
		stats, err = p.stream.Play(ctx, out, src.Body)
		if stats != nil {
			p.logger.Debug("Stream finished",
				zap.Int("blocks", stats.BlocksScheduled),
				zap.Int("muted", stats.BlocksMuted),
				zap.Int("dropped_short", stats.BlocksDropped),
				zap.Int("late", stats.LateBlocks),
				zap.Int("samples", stats.Samples),
			)
		}
	} else {
		var data []byte
		data, err = io.ReadAll(src.Body)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				err = ctxErr
			} else {
				err = fmt.Errorf("%w: %w", ErrTransport, err)
			}
		} else {
			err = p.buffered.Play(ctx, out, data)
		}
	}

	switch {
	case err == nil:
		p.metrics.RecordUtterancePlayed(mode, time.Since(started))
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		p.logger.Debug("Playback cancelled", zap.String("mode", mode))
	case errors.Is(err, ErrTransport):
		p.metrics.RecordPlaybackError("transport")
		p.logger.Error("Playback aborted", zap.String("mode", mode), zap.Error(err))
	default:
		p.metrics.RecordPlaybackError("output")
		p.logger.Error("Playback aborted", zap.String("mode", mode), zap.Error(err))
	}

	return err
}
