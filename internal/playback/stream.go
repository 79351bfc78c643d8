package playback

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rokas2025/playvoice/internal/audio"
	"github.com/rokas2025/playvoice/internal/config"
	"github.com/rokas2025/playvoice/internal/metrics"
)

// StreamStats summarizes one streamed utterance
type StreamStats struct {
	SchedulerStats
	BlocksMuted     int                    `json:"blocks_muted"`
	BlocksDropped   int                    `json:"blocks_dropped_short"`
	SamplesDropped  int                    `json:"samples_dropped_short"`
	LeftoverDropped int                    `json:"leftover_bytes_dropped"`
	Reassembly      audio.ReassemblerStats `json:"reassembly"`
}

// StreamPlayer plays a PCM byte stream of arbitrary chunking as it arrives
type StreamPlayer struct {
	cfg        config.PlaybackConfig
	sampleRate int
	filter     *audio.SpikeFilter
	logger     *zap.Logger
	metrics    *metrics.Metrics
}

// NewStreamPlayer creates a streaming player
func NewStreamPlayer(cfg config.PlaybackConfig, sampleRate int, logger *zap.Logger, m *metrics.Metrics) *StreamPlayer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StreamPlayer{
		cfg:        cfg,
		sampleRate: sampleRate,
		filter:     audio.NewSpikeFilter(cfg.SpikeThreshold, cfg.MinBlockSamples),
		logger:     logger.With(zap.String("component", "stream_player")),
		metrics:    m,
	}
}

// Play reads r until EOF, scheduling each reassembled block on out, and
// returns once the last block has finished playing. A read failure aborts
// the utterance with ErrTransport; cancelling ctx stops both the reader and
// the scheduler.
func (p *StreamPlayer) Play(ctx context.Context, out Output, r io.Reader) (*StreamStats, error) {
	g, gctx := errgroup.WithContext(ctx)
	blocks := make(chan *audio.Block, p.cfg.QueueDepth)
	re := audio.NewReassembler()
	stats := &StreamStats{}

	// A blocked Read only returns once the body is closed
	if c, ok := r.(io.Closer); ok {
		stop := context.AfterFunc(gctx, func() { c.Close() })
		defer stop()
	}

	g.Go(func() error {
		defer close(blocks)
		return p.readLoop(gctx, r, re, blocks, stats)
	})

	sched := NewScheduler(out, p.cfg.StartLead, p.cfg.ScheduleEpsilon, p.cfg.FadeDuration, p.metrics)
	g.Go(func() error {
		for b := range blocks {
			if err := gctx.Err(); err != nil {
				return err
			}
			if !p.filter.Admit(b) {
				stats.BlocksDropped++
				stats.SamplesDropped += b.Len()
				p.metrics.RecordBlockDropped()
				p.logger.Debug("Dropped short block", zap.Int("samples", b.Len()))
				continue
			}
			if p.filter.Inspect(b) == audio.Muted {
				stats.BlocksMuted++
				p.metrics.RecordBlockMuted()
				p.logger.Debug("Muted block with spike", zap.Int("samples", b.Len()))
			}
			if _, err := sched.Schedule(b); err != nil {
				return err
			}
		}
		return sched.Wait(gctx)
	})

	err := g.Wait()
	stats.SchedulerStats = sched.Stats()
	stats.Reassembly = re.Stats()
	return stats, err
}

// readLoop reassembles network reads into frame-aligned blocks. Aligned bytes
// are coalesced until a block reaches the minimum length, and one full block
// is held back so that a short tail at EOF joins it instead of being dropped.
// Only a stream shorter than one block in total can reach the filter short.
func (p *StreamPlayer) readLoop(ctx context.Context, r io.Reader, re *audio.Reassembler, blocks chan<- *audio.Block, stats *StreamStats) error {
	buf := make([]byte, p.cfg.ReadSize)
	minBytes := max(p.cfg.MinBlockSamples*audio.FrameSize, audio.FrameSize)
	var pending, held []byte

	send := func(data []byte) error {
		select {
		case blocks <- audio.DecodePCM16(data, p.sampleRate):
			return nil
		case <-ctx.Done():
			re.Reset()
			return ctx.Err()
		}
	}

	for {
		n, err := r.Read(buf)
		if n > 0 {
			pending = append(pending, re.Ingest(buf[:n])...)
			if len(pending) >= minBytes {
				if held != nil {
					if sendErr := send(held); sendErr != nil {
						return sendErr
					}
				}
				held, pending = pending, nil
			}
		}

		if errors.Is(err, io.EOF) {
			if dropped := re.Finish(); dropped > 0 {
				stats.LeftoverDropped = dropped
				p.metrics.RecordLeftoverDiscarded(dropped)
				p.logger.Debug("Discarded incomplete trailing frame", zap.Int("bytes", dropped))
			}
			held = append(held, pending...)
			if len(held) > 0 {
				return send(held)
			}
			return nil
		}
		if err != nil {
			re.Reset()
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return fmt.Errorf("%w: %w", ErrTransport, err)
		}
	}
}
