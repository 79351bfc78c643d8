package audio

import (
	"encoding/binary"
	"time"
)

// FrameSize is the size of one sample frame in bytes (16-bit mono PCM)
const FrameSize = 2

// Block is a decoded run of mono samples normalized to [-1, 1]
type Block struct {
	Samples    []float32
	SampleRate int
	Muted      bool // Set by the spike filter when the block was silenced
}

// Len returns the number of samples in the block
func (b *Block) Len() int {
	return len(b.Samples)
}

// Duration returns the playback duration of the block
func (b *Block) Duration() time.Duration {
	return SamplesDuration(len(b.Samples), b.SampleRate)
}

// SamplesDuration converts a sample count at the given rate to a duration
func SamplesDuration(samples, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}

// DurationSamples converts a duration to a whole number of samples at the given rate
func DurationSamples(d time.Duration, sampleRate int) int {
	return int(d * time.Duration(sampleRate) / time.Second)
}

// DecodePCM16 decodes little-endian 16-bit PCM into a block.
// A trailing odd byte is ignored; callers are expected to pass aligned data.
func DecodePCM16(data []byte, sampleRate int) *Block {
	n := len(data) / FrameSize
	samples := make([]float32, n)
	for i := 0; i < n; i++ {
		v := int16(binary.LittleEndian.Uint16(data[i*FrameSize:]))
		samples[i] = float32(v) / 32768
	}
	return &Block{Samples: samples, SampleRate: sampleRate}
}

// EncodePCM16 converts normalized samples to little-endian 16-bit PCM.
// Samples are clamped to [-1, 1]; negative values scale by 0x8000, positive by 0x7FFF.
func EncodePCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*FrameSize)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*FrameSize:], uint16(floatToInt16(s)))
	}
	return out
}

// Int16ToPCM16 serializes int16 samples as little-endian bytes
func Int16ToPCM16(in []int16) []byte {
	out := make([]byte, len(in)*FrameSize)
	for i, v := range in {
		binary.LittleEndian.PutUint16(out[i*FrameSize:], uint16(v))
	}
	return out
}

// FloatToInt16 quantizes normalized samples with the same scaling as EncodePCM16
func FloatToInt16(in []float32) []int16 {
	out := make([]int16, len(in))
	for i, s := range in {
		out[i] = floatToInt16(s)
	}
	return out
}

func floatToInt16(s float32) int16 {
	if s > 1 {
		s = 1
	} else if s < -1 {
		s = -1
	}
	if s < 0 {
		return int16(s * 0x8000)
	}
	return int16(s * 0x7FFF)
}
