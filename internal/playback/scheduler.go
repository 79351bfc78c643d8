package playback

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rokas2025/playvoice/internal/audio"
	"github.com/rokas2025/playvoice/internal/metrics"
)

// SchedulerStats contains counters for one utterance
type SchedulerStats struct {
	BlocksScheduled int           `json:"blocks_scheduled"`
	LateBlocks      int           `json:"late_blocks"`
	Samples         int           `json:"samples"`
	Cursor          time.Duration `json:"cursor"`
}

// Scheduler places successive blocks on an output timeline. Each block after
// the first starts one fade duration before the previous block ends so the
// fade-in of the new block masks the boundary.
type Scheduler struct {
	out     Output
	lead    time.Duration
	epsilon time.Duration
	fade    time.Duration
	metrics *metrics.Metrics

	cursor  time.Duration // next start time on the device clock
	prevDur time.Duration // duration of the last scheduled block
	started bool
	stats   SchedulerStats

	mu          sync.Mutex
	outstanding int
	drained     chan struct{}
}

// NewScheduler creates a scheduler whose cursor starts one lead after the
// output's current time
func NewScheduler(out Output, lead, epsilon, fade time.Duration, m *metrics.Metrics) *Scheduler {
	return &Scheduler{
		out:     out,
		lead:    lead,
		epsilon: epsilon,
		fade:    fade,
		metrics: m,
		cursor:  out.Now() + lead,
	}
}

// Schedule fades the block in (unless muted), places it on the output and
// returns the chosen start time. Blocks are placed in call order.
func (s *Scheduler) Schedule(b *audio.Block) (time.Duration, error) {
	earliest := s.out.Now() + s.epsilon

	// The overlap never exceeds the previous block, keeping starts non-decreasing
	want := s.cursor
	if s.started {
		want -= min(s.fade, s.prevDur)
	}
	start := max(earliest, want)
	// Only a continuation can fall behind; the first block waits out the lead
	late := s.started && want < earliest

	audio.FadeIn(b, audio.DurationSamples(s.fade, b.SampleRate))

	s.mu.Lock()
	s.outstanding++
	s.mu.Unlock()

	if err := s.out.Schedule(b.Samples, start, s.blockDone); err != nil {
		s.blockDone()
		return 0, fmt.Errorf("schedule block at %s: %w", start, err)
	}

	s.started = true
	s.cursor = start + b.Duration()
	s.prevDur = b.Duration()
	s.stats.BlocksScheduled++
	s.stats.Samples += b.Len()
	if late {
		s.stats.LateBlocks++
	}
	s.metrics.RecordBlockScheduled(late)

	return start, nil
}

func (s *Scheduler) blockDone() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outstanding--
	if s.outstanding == 0 && s.drained != nil {
		close(s.drained)
		s.drained = nil
	}
}

// Wait blocks until every scheduled block has finished playing
func (s *Scheduler) Wait(ctx context.Context) error {
	s.mu.Lock()
	if s.outstanding == 0 {
		s.mu.Unlock()
		return nil
	}
	if s.drained == nil {
		s.drained = make(chan struct{})
	}
	ch := s.drained
	s.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cursor returns the next start time
func (s *Scheduler) Cursor() time.Duration {
	return s.cursor
}

// Stats returns scheduling counters
func (s *Scheduler) Stats() SchedulerStats {
	st := s.stats
	st.Cursor = s.cursor
	return st
}
