package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

const wavHeaderSize = 44

// ErrNotWAV is returned when a buffer does not start with a RIFF/WAVE header
var ErrNotWAV = errors.New("not a RIFF/WAVE container")

// wavHeader is the canonical 44-byte PCM header
type wavHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // File size - 8 bytes
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32
}

// WAVInfo describes the PCM payload of a WAV container
type WAVInfo struct {
	SampleRate    int `json:"sample_rate"`
	Channels      int `json:"channels"`
	BitsPerSample int `json:"bits_per_sample"`
	DataOffset    int `json:"data_offset"`
	DataSize      int `json:"data_size_bytes"`
}

// IsWAV reports whether data begins with a RIFF/WAVE signature
func IsWAV(data []byte) bool {
	return len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE"
}

// EncodeWAV wraps little-endian 16-bit mono PCM in a WAV container
func EncodeWAV(pcm []byte, sampleRate int) ([]byte, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}
	if len(pcm)%FrameSize != 0 {
		return nil, fmt.Errorf("pcm length must be a multiple of %d, got %d", FrameSize, len(pcm))
	}

	header := wavHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     uint32(36 + len(pcm)),
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1,
		NumChannels:   1,
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate * FrameSize),
		BlockAlign:    FrameSize,
		BitsPerSample: 16,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: uint32(len(pcm)),
	}

	buf := bytes.NewBuffer(make([]byte, 0, wavHeaderSize+len(pcm)))
	if err := binary.Write(buf, binary.LittleEndian, header); err != nil {
		return nil, fmt.Errorf("failed to write WAV header: %w", err)
	}
	buf.Write(pcm)

	return buf.Bytes(), nil
}

// ParseWAV walks the RIFF chunks and locates the fmt and data sections.
// Extra chunks (LIST, fact) between them are skipped.
func ParseWAV(data []byte) (*WAVInfo, error) {
	if !IsWAV(data) {
		return nil, ErrNotWAV
	}

	info := &WAVInfo{}
	haveFmt := false
	pos := 12
	for pos+8 <= len(data) {
		id := string(data[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		body := pos + 8

		switch id {
		case "fmt ":
			if size < 16 || body+16 > len(data) {
				return nil, fmt.Errorf("invalid WAV file: truncated fmt chunk")
			}
			if format := binary.LittleEndian.Uint16(data[body:]); format != 1 {
				return nil, fmt.Errorf("unsupported audio format: %d (only PCM is supported)", format)
			}
			info.Channels = int(binary.LittleEndian.Uint16(data[body+2:]))
			info.SampleRate = int(binary.LittleEndian.Uint32(data[body+4:]))
			info.BitsPerSample = int(binary.LittleEndian.Uint16(data[body+14:]))
			haveFmt = true
		case "data":
			if !haveFmt {
				return nil, fmt.Errorf("invalid WAV file: data chunk before fmt chunk")
			}
			info.DataOffset = body
			info.DataSize = size
			// Streaming encoders may leave the size unset or overstated
			if info.DataSize <= 0 || body+info.DataSize > len(data) {
				info.DataSize = len(data) - body
			}
			return info, nil
		}

		pos = body + size + size%2
	}

	return nil, fmt.Errorf("invalid WAV file: missing data chunk")
}

// DecodeWAV extracts the 16-bit mono PCM payload and its sample rate
func DecodeWAV(data []byte) ([]byte, int, error) {
	info, err := ParseWAV(data)
	if err != nil {
		return nil, 0, err
	}
	if info.BitsPerSample != 16 {
		return nil, 0, fmt.Errorf("unsupported bit depth: %d (only 16-bit is supported)", info.BitsPerSample)
	}
	if info.Channels != 1 {
		return nil, 0, fmt.Errorf("unsupported channel count: %d (only mono is supported)", info.Channels)
	}
	if info.SampleRate <= 0 {
		return nil, 0, fmt.Errorf("invalid sample rate: %d", info.SampleRate)
	}

	return data[info.DataOffset : info.DataOffset+info.DataSize], info.SampleRate, nil
}
