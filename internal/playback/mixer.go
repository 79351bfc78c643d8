package playback

import (
	"context"
	"sync"
	"time"

	"github.com/rokas2025/playvoice/internal/audio"
)

type voice struct {
	start   int64 // device sample position
	samples []float32
	done    func()
}

func (v *voice) end() int64 {
	return v.start + int64(len(v.samples))
}

// Mixer is an Output that sums scheduled blocks on a sample timeline.
// The clock only advances as Render is called, so a device backend that
// pulls from it defines the pace of playback.
type Mixer struct {
	mu         sync.Mutex
	sampleRate int
	clock      int64 // samples rendered so far
	voices     []*voice
	closed     bool
	onClose    func() error
}

// NewMixer creates a mixer at the given sample rate
func NewMixer(sampleRate int) *Mixer {
	return &Mixer{sampleRate: sampleRate}
}

// OnClose registers a hook run once when the mixer is closed, used by
// device backends to release hardware
func (m *Mixer) OnClose(fn func() error) {
	m.mu.Lock()
	m.onClose = fn
	m.mu.Unlock()
}

// Now returns the device clock
func (m *Mixer) Now() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return audio.SamplesDuration(int(m.clock), m.sampleRate)
}

// Schedule queues samples to start at device time at. Any part that falls
// before the current clock is skipped.
func (m *Mixer) Schedule(samples []float32, at time.Duration, done func()) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrOutputClosed
	}

	v := &voice{
		start:   int64(audio.DurationSamples(at, m.sampleRate)),
		samples: samples,
		done:    done,
	}
	if v.start < m.clock {
		skip := m.clock - v.start
		if skip >= int64(len(v.samples)) {
			m.mu.Unlock()
			if done != nil {
				done()
			}
			return nil
		}
		v.samples = v.samples[skip:]
		v.start = m.clock
	}
	m.voices = append(m.voices, v)
	m.mu.Unlock()
	return nil
}

// pending returns the number of scheduled blocks not yet fully rendered
func (m *Mixer) pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.voices)
}

// Render fills dst with the mix for the next len(dst) samples, advances the
// clock and fires completion callbacks for blocks that ended
func (m *Mixer) Render(dst []float32) {
	for i := range dst {
		dst[i] = 0
	}

	m.mu.Lock()
	from := m.clock
	to := from + int64(len(dst))

	var finished []func()
	kept := m.voices[:0]
	for _, v := range m.voices {
		lo := max(v.start, from)
		hi := min(v.end(), to)
		for p := lo; p < hi; p++ {
			dst[p-from] += v.samples[p-v.start]
		}
		if v.end() <= to {
			if v.done != nil {
				finished = append(finished, v.done)
			}
			continue
		}
		kept = append(kept, v)
	}
	for i := len(kept); i < len(m.voices); i++ {
		m.voices[i] = nil
	}
	m.voices = kept
	m.clock = to
	m.mu.Unlock()

	for i, s := range dst {
		if s > 1 {
			dst[i] = 1
		} else if s < -1 {
			dst[i] = -1
		}
	}
	for _, fn := range finished {
		fn()
	}
}

// Pump renders frames samples at a time into sink until the context is
// cancelled, the mixer is closed, or sink fails. A blocking device write
// makes a natural sink.
func (m *Mixer) Pump(ctx context.Context, frames int, sink func([]float32) error) error {
	buf := make([]float32, frames)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if m.isClosed() {
			return nil
		}
		m.Render(buf)
		if err := sink(buf); err != nil {
			return err
		}
	}
}

func (m *Mixer) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Close discards pending blocks and runs the close hook. Safe to call more than once.
func (m *Mixer) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.voices = nil
	hook := m.onClose
	m.mu.Unlock()

	if hook != nil {
		return hook()
	}
	return nil
}

// PacedSink discards rendered audio at real-time pace for the given rate.
// It stands in for a device when none is attached.
func PacedSink(sampleRate int) func([]float32) error {
	var next time.Time
	return func(buf []float32) error {
		if next.IsZero() {
			next = time.Now()
		}
		next = next.Add(audio.SamplesDuration(len(buf), sampleRate))
		time.Sleep(time.Until(next))
		return nil
	}
}

// NullOutputFactory returns outputs that play into nothing at real-time pace
func NullOutputFactory(frames int) OutputFactory {
	return func(sampleRate int) (Output, error) {
		m := NewMixer(sampleRate)
		go m.Pump(context.Background(), frames, PacedSink(sampleRate))
		return m, nil
	}
}
