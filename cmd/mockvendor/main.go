// Command mockvendor stands in for the speech and chat vendors during local
// runs. Point tts.base_url, reply.base_url and the capture token and stream
// URLs at it to hold a conversation with tone replies and no API keys.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rokas2025/playvoice/internal/audio"
	"github.com/rokas2025/playvoice/internal/config"
	"github.com/rokas2025/playvoice/internal/protocol"
	"github.com/rokas2025/playvoice/internal/vad"
)

const (
	toneHz       = 440
	chunkSamples = 1024
)

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type synthesisRequest struct {
	Text    string `json:"text"`
	ModelID string `json:"model_id"`
}

type mockServer struct {
	logger *zap.Logger
}

// handleChat echoes the last user message back as the assistant reply
func (s *mockServer) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Error parsing request", http.StatusBadRequest)
		return
	}

	heard := ""
	for _, m := range req.Messages {
		if m.Role == "user" {
			heard = m.Content
		}
	}

	s.logger.Info("Chat request received",
		zap.String("model", req.Model),
		zap.Int("messages", len(req.Messages)),
		zap.String("heard", heard))

	reply := map[string]interface{}{
		"choices": []map[string]interface{}{
			{"message": chatMessage{Role: "assistant", Content: "Girdėjau: " + heard}},
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(reply)
}

// handleSpeech streams a tone whose length follows the text, in real-time
// sized chunks
func (s *mockServer) handleSpeech(w http.ResponseWriter, r *http.Request) {
	var req synthesisRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Error parsing request", http.StatusBadRequest)
		return
	}

	sampleRate := 16000
	if format := r.URL.Query().Get("output_format"); strings.HasPrefix(format, "pcm_") {
		if rate, err := strconv.Atoi(strings.TrimPrefix(format, "pcm_")); err == nil && rate > 0 {
			sampleRate = rate
		}
	}

	duration := time.Duration(len([]rune(req.Text))) * 60 * time.Millisecond
	if duration < 500*time.Millisecond {
		duration = 500 * time.Millisecond
	}
	total := audio.DurationSamples(duration, sampleRate)

	s.logger.Info("Speech request received",
		zap.String("voice", r.PathValue("voice")),
		zap.String("model_id", req.ModelID),
		zap.Int("sample_rate", sampleRate),
		zap.Duration("duration", duration))

	w.Header().Set("Content-Type", "audio/pcm")
	flusher, _ := w.(http.Flusher)

	chunk := make([]float32, chunkSamples)
	for pos := 0; pos < total; pos += chunkSamples {
		n := min(chunkSamples, total-pos)
		for i := 0; i < n; i++ {
			t := float64(pos+i) / float64(sampleRate)
			chunk[i] = float32(0.3 * math.Sin(2*math.Pi*toneHz*t))
		}
		if _, err := w.Write(audio.EncodePCM16(chunk[:n])); err != nil {
			s.logger.Debug("Client went away", zap.Error(err))
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
		time.Sleep(audio.SamplesDuration(n, sampleRate) / 2)
	}
}

// handleToken issues a single-use token to any caller presenting a key
func (s *mockServer) handleToken(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("xi-api-key") == "" {
		http.Error(w, "missing xi-api-key", http.StatusUnauthorized)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"token": uuid.NewString()})
}

// handleTranscribe runs a realtime transcription session. Utterances are
// found with the local energy VAD, or taken from client commits under the
// manual strategy, and transcribed as a numbered placeholder.
func (s *mockServer) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("token") == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}
	sampleRate := 16000
	if rate, err := strconv.Atoi(strings.TrimPrefix(q.Get("audio_format"), "pcm_")); err == nil && rate > 0 {
		sampleRate = rate
	}
	manual := q.Get("commit_strategy") == "manual"

	detector, err := vad.NewDetector(config.Default().VAD, sampleRate, nil)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Warn("Websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()
	sessionID := uuid.NewString()
	logger := s.logger.With(zap.String("session_id", sessionID))
	logger.Info("Transcription session opened",
		zap.Int("sample_rate", sampleRate),
		zap.Bool("manual_commit", manual),
		zap.String("language", q.Get("language_code")))

	if err := writeMessage(ctx, conn, protocol.Message{Type: protocol.TypeSessionStarted, SessionID: sessionID}); err != nil {
		return
	}

	var (
		speaking   bool
		heard      time.Duration
		utterances int
	)
	commit := func() error {
		utterances++
		text := fmt.Sprintf("bandymas %d", utterances)
		logger.Info("Utterance committed", zap.Int("n", utterances), zap.Duration("speech", heard))
		speaking, heard = false, 0
		return writeMessage(ctx, conn, protocol.Message{Type: protocol.TypeCommittedTranscript, Text: text})
	}

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			logger.Info("Transcription session closed", zap.Int("utterances", utterances), zap.Error(err))
			return
		}

		chunk, pcm, err := protocol.ParseAudioChunk(data)
		if err != nil {
			if err := writeMessage(ctx, conn, protocol.Message{Type: protocol.TypeInputError, Error: err.Error()}); err != nil {
				return
			}
			continue
		}

		block := audio.DecodePCM16(pcm, sampleRate)
		events, _ := detector.Push(audio.FloatToInt16(block.Samples))
		if speaking {
			heard += block.Duration()
		}

		ended := false
		for _, ev := range events {
			switch ev {
			case vad.EventSpeechStart:
				speaking = true
			case vad.EventEndOfUtterance:
				ended = !manual
			}
		}

		switch {
		case ended || (manual && chunk.Commit):
			err = commit()
		case speaking:
			err = writeMessage(ctx, conn, protocol.Message{
				Type: protocol.TypePartialTranscript,
				Text: fmt.Sprintf("bandymas %d (%.1fs)", utterances+1, heard.Seconds()),
			})
		}
		if err != nil {
			return
		}
	}
}

func writeMessage(ctx context.Context, conn *websocket.Conn, msg protocol.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

func main() {
	addr := flag.String("addr", ":9000", "Listen address")
	flag.Parse()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	s := &mockServer{logger: logger}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/chat/completions", s.handleChat)
	mux.HandleFunc("POST /v1/text-to-speech/{voice}/stream", s.handleSpeech)
	mux.HandleFunc("POST /v1/single-use-token/realtime_scribe", s.handleToken)
	mux.HandleFunc("GET /v1/speech-to-text/realtime", s.handleTranscribe)

	logger.Info("Mock vendor server starting",
		zap.String("addr", *addr),
		zap.String("hint", "set tts.base_url and reply.base_url to http://localhost"+*addr+
			", capture.token_url and capture.stream_url to the matching /v1 paths"))

	if err := http.ListenAndServe(*addr, mux); err != nil {
		logger.Fatal("Server failed", zap.Error(err))
	}
}
