package audio

import "math"

// Verdict is the outcome of inspecting a block for decoding spikes
type Verdict int

const (
	Clean Verdict = iota
	Muted
)

// String returns the verdict name used in logs and metrics
func (v Verdict) String() string {
	if v == Muted {
		return "muted"
	}
	return "clean"
}

// SpikeFilter silences blocks that carry implausible sample-to-sample jumps.
// A single offending pair mutes the whole block.
type SpikeFilter struct {
	Threshold  float32 // Max |s[i]-s[i-1]| as a fraction of full scale
	MinSamples int     // Blocks shorter than this are dropped before inspection
}

// NewSpikeFilter creates a filter with the given threshold and minimum block length
func NewSpikeFilter(threshold float32, minSamples int) *SpikeFilter {
	return &SpikeFilter{Threshold: threshold, MinSamples: minSamples}
}

// Admit reports whether a block is long enough to be faded and scheduled
func (f *SpikeFilter) Admit(b *Block) bool {
	return b != nil && len(b.Samples) >= f.MinSamples && len(b.Samples) > 0
}

// Inspect zeroes the block in place when any adjacent pair differs by more
// than the threshold
func (f *SpikeFilter) Inspect(b *Block) Verdict {
	if maxJump(b.Samples) <= f.Threshold {
		return Clean
	}
	for i := range b.Samples {
		b.Samples[i] = 0
	}
	b.Muted = true
	return Muted
}

func maxJump(samples []float32) float32 {
	var peak float32
	for i := 1; i < len(samples); i++ {
		d := float32(math.Abs(float64(samples[i] - samples[i-1])))
		if d > peak {
			peak = d
		}
	}
	return peak
}

// FadeIn applies a linear 0→1 gain ramp over the first n samples.
// Muted blocks are left untouched.
func FadeIn(b *Block, n int) {
	if b.Muted || n <= 0 {
		return
	}
	if n > len(b.Samples) {
		n = len(b.Samples)
	}
	for i := 0; i < n; i++ {
		b.Samples[i] *= float32(i) / float32(n)
	}
}
