package protocol

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Message types exchanged with the realtime transcription backend
const (
	// Inbound
	TypeSessionStarted      = "session_started"
	TypePartialTranscript   = "partial_transcript"
	TypeCommittedTranscript = "committed_transcript"
	TypeTranscript          = "transcript" // older name for a committed transcript
	TypeError               = "error"
	TypeInputError          = "input_error"
	TypeAuthError           = "auth_error"
	TypeQuotaExceeded       = "quota_exceeded"

	// Outbound
	TypeInputAudioChunk = "input_audio_chunk"
)

// Kind classifies an inbound message for the capture adapter
type Kind int

const (
	KindUnknown Kind = iota
	KindSessionStarted
	KindPartial
	KindCommitted
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindSessionStarted:
		return "session_started"
	case KindPartial:
		return "partial"
	case KindCommitted:
		return "committed"
	case KindError:
		return "error"
	default:
		return "unknown"
	}
}

// Message is an inbound realtime transcription message
type Message struct {
	Type      string `json:"message_type"`
	Text      string `json:"text,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Kind returns the classification of the message type
func (m *Message) Kind() Kind {
	switch m.Type {
	case TypeSessionStarted:
		return KindSessionStarted
	case TypePartialTranscript:
		return KindPartial
	case TypeCommittedTranscript, TypeTranscript:
		return KindCommitted
	case TypeError, TypeInputError, TypeAuthError, TypeQuotaExceeded:
		return KindError
	default:
		return KindUnknown
	}
}

// Fatal reports whether the backend will not accept further audio on this session
func (m *Message) Fatal() bool {
	return m.Type == TypeAuthError || m.Type == TypeQuotaExceeded
}

// String returns a short description used in logs
func (m *Message) String() string {
	if m.Kind() == KindError {
		return fmt.Sprintf("%s: %s", m.Type, m.Error)
	}
	return fmt.Sprintf("%s (%d chars)", m.Type, len(m.Text))
}

// ParseMessage decodes one inbound message
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to decode message: %w", err)
	}
	if msg.Type == "" {
		return nil, fmt.Errorf("message has no message_type")
	}
	return &msg, nil
}

// AudioChunk is an outbound chunk of little-endian 16-bit PCM
type AudioChunk struct {
	Type       string `json:"message_type"`
	Audio      string `json:"audio_base_64"`
	SampleRate int    `json:"sample_rate"`
	Commit     bool   `json:"commit"`
}

// EncodeAudioChunk wraps PCM bytes in an input_audio_chunk message. With
// commit set the backend finalizes the current utterance after this chunk.
func EncodeAudioChunk(pcm []byte, sampleRate int, commit bool) ([]byte, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("pcm length must be even, got %d", len(pcm))
	}

	return json.Marshal(AudioChunk{
		Type:       TypeInputAudioChunk,
		Audio:      base64.StdEncoding.EncodeToString(pcm),
		SampleRate: sampleRate,
		Commit:     commit,
	})
}

// ParseAudioChunk decodes an outbound chunk and returns its PCM payload
func ParseAudioChunk(data []byte) (*AudioChunk, []byte, error) {
	var chunk AudioChunk
	if err := json.Unmarshal(data, &chunk); err != nil {
		return nil, nil, fmt.Errorf("failed to decode audio chunk: %w", err)
	}
	if chunk.Type != TypeInputAudioChunk {
		return nil, nil, fmt.Errorf("unexpected message_type %q", chunk.Type)
	}
	pcm, err := base64.StdEncoding.DecodeString(chunk.Audio)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid audio_base_64: %w", err)
	}
	return &chunk, pcm, nil
}
