package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMessageKinds(t *testing.T) {
	tests := []struct {
		name  string
		raw   string
		kind  Kind
		fatal bool
		text  string
	}{
		{name: "session started", raw: `{"message_type":"session_started","session_id":"abc"}`, kind: KindSessionStarted},
		{name: "partial", raw: `{"message_type":"partial_transcript","text":"lab"}`, kind: KindPartial, text: "lab"},
		{name: "committed", raw: `{"message_type":"committed_transcript","text":"labas"}`, kind: KindCommitted, text: "labas"},
		{name: "legacy transcript", raw: `{"message_type":"transcript","text":"labas"}`, kind: KindCommitted, text: "labas"},
		{name: "input error", raw: `{"message_type":"input_error","error":"bad audio"}`, kind: KindError},
		{name: "auth error", raw: `{"message_type":"auth_error","error":"token expired"}`, kind: KindError, fatal: true},
		{name: "quota", raw: `{"message_type":"quota_exceeded","error":"limit"}`, kind: KindError, fatal: true},
		{name: "unknown", raw: `{"message_type":"committed_transcript_with_timestamps"}`, kind: KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := ParseMessage([]byte(tt.raw))
			require.NoError(t, err)
			assert.Equal(t, tt.kind, msg.Kind())
			assert.Equal(t, tt.fatal, msg.Fatal())
			assert.Equal(t, tt.text, msg.Text)
		})
	}
}

func TestParseMessageErrors(t *testing.T) {
	_, err := ParseMessage([]byte(`not json`))
	assert.Error(t, err)

	_, err = ParseMessage([]byte(`{"text":"orphan"}`))
	assert.Error(t, err)
}

func TestMessageString(t *testing.T) {
	msg := &Message{Type: TypeInputError, Error: "bad audio"}
	assert.Equal(t, "input_error: bad audio", msg.String())

	msg = &Message{Type: TypePartialTranscript, Text: "abc"}
	assert.Equal(t, "partial_transcript (3 chars)", msg.String())
	assert.Equal(t, "partial", KindPartial.String())
}

func TestEncodeAudioChunk(t *testing.T) {
	pcm := []byte{0x01, 0x02, 0x03, 0x04}
	data, err := EncodeAudioChunk(pcm, 16000, false)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "input_audio_chunk", raw["message_type"])
	assert.Equal(t, "AQIDBA==", raw["audio_base_64"])
	assert.Equal(t, float64(16000), raw["sample_rate"])
	assert.Equal(t, false, raw["commit"])

	chunk, decoded, err := ParseAudioChunk(data)
	require.NoError(t, err)
	assert.Equal(t, pcm, decoded)
	assert.False(t, chunk.Commit)
}

func TestEncodeCommitChunk(t *testing.T) {
	data, err := EncodeAudioChunk(nil, 16000, true)
	require.NoError(t, err)

	chunk, pcm, err := ParseAudioChunk(data)
	require.NoError(t, err)
	assert.True(t, chunk.Commit)
	assert.Empty(t, pcm)
}

func TestEncodeAudioChunkValidation(t *testing.T) {
	_, err := EncodeAudioChunk([]byte{0x01}, 16000, false)
	assert.Error(t, err)

	_, err = EncodeAudioChunk([]byte{0x01, 0x02}, 0, false)
	assert.Error(t, err)

	_, _, err = ParseAudioChunk([]byte(`{"message_type":"partial_transcript"}`))
	assert.Error(t, err)
}
