package audio

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestReassemblerAlignsOddChunks(t *testing.T) {
	r := NewReassembler()

	out := r.Ingest([]byte{0x01, 0x02, 0x03})
	assert.Equal(t, []byte{0x01, 0x02}, out)
	assert.Equal(t, 1, r.held())

	out = r.Ingest([]byte{0x04})
	assert.Equal(t, []byte{0x03, 0x04}, out)
	assert.Equal(t, 0, r.held())
}

func TestReassemblerSingleByteChunks(t *testing.T) {
	r := NewReassembler()

	assert.Nil(t, r.Ingest([]byte{0xAA}))
	assert.Equal(t, 1, r.held())

	assert.Equal(t, []byte{0xAA, 0xBB}, r.Ingest([]byte{0xBB}))
	assert.Equal(t, 0, r.held())
}

func TestReassemblerEmptyChunk(t *testing.T) {
	r := NewReassembler()
	r.Ingest([]byte{0x01})

	assert.Nil(t, r.Ingest(nil))
	assert.Equal(t, 1, r.held())
}

func TestReassemblerFinishDropsTrailingByte(t *testing.T) {
	r := NewReassembler()
	r.Ingest([]byte{0x01, 0x02, 0x03})

	assert.Equal(t, 1, r.Finish())
	assert.Equal(t, 0, r.held())
	assert.Equal(t, 0, r.Finish())

	stats := r.Stats()
	assert.Equal(t, uint64(3), stats.BytesIn)
	assert.Equal(t, uint64(2), stats.BytesOut)
	assert.Equal(t, uint64(1), stats.BytesDropped)
	assert.Equal(t, uint64(1), stats.ChunksIngested)
}

func TestReassemblerResetDoesNotCountDrop(t *testing.T) {
	r := NewReassembler()
	r.Ingest([]byte{0x01})
	r.Reset()

	assert.Equal(t, 0, r.held())
	assert.Equal(t, uint64(0), r.Stats().BytesDropped)
}

func TestReassemblerDoesNotAliasInput(t *testing.T) {
	r := NewReassembler()
	chunk := []byte{0x01, 0x02, 0x03, 0x04}
	out := r.Ingest(chunk)
	chunk[0] = 0xFF

	assert.Equal(t, byte(0x01), out[0])
}

// One second of 16 kHz audio delivered in 7-byte pieces must decode to
// exactly 16000 samples with nothing lost but a possible final byte.
func TestReassemblerSevenByteChunks(t *testing.T) {
	const sampleRate = 16000
	src := make([]float32, sampleRate)
	for i := range src {
		src[i] = float32(i%200)/200 - 0.5
	}
	pcm := EncodePCM16(src)

	r := NewReassembler()
	var total int
	var joined bytes.Buffer
	for off := 0; off < len(pcm); off += 7 {
		end := min(off+7, len(pcm))
		aligned := r.Ingest(pcm[off:end])
		require.Zero(t, len(aligned)%FrameSize)
		require.LessOrEqual(t, r.held(), 1)
		total += len(aligned) / FrameSize
		joined.Write(aligned)
	}

	assert.Equal(t, sampleRate, total)
	assert.LessOrEqual(t, r.Finish(), 1)
	assert.Equal(t, pcm, joined.Bytes())
}

func TestReassemblerChunkingInvariance(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		data := rapid.SliceOfN(rapid.Byte(), 0, 512).Draw(t, "data")
		cuts := rapid.SliceOfN(rapid.IntRange(0, 17), 0, 64).Draw(t, "cuts")

		r := NewReassembler()
		var got []byte
		rest := data
		for _, c := range cuts {
			if len(rest) == 0 {
				break
			}
			c = min(c, len(rest))
			out := r.Ingest(rest[:c])
			if len(out)%FrameSize != 0 {
				t.Fatalf("unaligned output of %d bytes", len(out))
			}
			if r.held() >= FrameSize {
				t.Fatalf("leftover %d not below frame size", r.held())
			}
			got = append(got, out...)
			rest = rest[c:]
		}
		got = append(got, r.Ingest(rest)...)
		dropped := r.Finish()

		whole := len(data) - len(data)%FrameSize
		if !bytes.Equal(got, data[:whole]) {
			t.Fatalf("reassembled stream differs from the frame-aligned source")
		}
		if dropped != len(data)%FrameSize {
			t.Fatalf("dropped %d, expected %d", dropped, len(data)%FrameSize)
		}
	})
}
