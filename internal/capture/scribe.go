package capture

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/rokas2025/playvoice/internal/config"
)

// ScribeTransport connects to a realtime speech-to-text websocket that is
// authenticated with a single-use token
type ScribeTransport struct {
	cfg        config.CaptureConfig
	vad        config.VADConfig
	sampleRate int
	httpClient *http.Client
	logger     *zap.Logger
}

type tokenResponse struct {
	Token string `json:"token"`
}

// NewScribeTransport creates a transport from capture and VAD configuration
func NewScribeTransport(cfg config.CaptureConfig, vadCfg config.VADConfig, sampleRate int, logger *zap.Logger) *ScribeTransport {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ScribeTransport{
		cfg:        cfg,
		vad:        vadCfg,
		sampleRate: sampleRate,
		httpClient: &http.Client{},
		logger:     logger.With(zap.String("component", "scribe_transport")),
	}
}

// Connect fetches a token and opens the stream. Both steps share one
// handshake deadline.
func (t *ScribeTransport) Connect(ctx context.Context) (Conn, error) {
	hsCtx, cancel := context.WithTimeout(ctx, t.cfg.HandshakeTimeout)
	defer cancel()

	token, err := t.fetchToken(hsCtx)
	if err != nil {
		return nil, t.handshakeError(ctx, hsCtx, "token", err)
	}

	streamURL, err := t.streamURL(token)
	if err != nil {
		return nil, err
	}

	conn, _, err := websocket.Dial(hsCtx, streamURL, nil)
	if err != nil {
		return nil, t.handshakeError(ctx, hsCtx, "dial", err)
	}

	t.logger.Info("Transcription stream connected",
		zap.String("language", t.cfg.LanguageCode),
		zap.String("commit_strategy", t.cfg.CommitStrategy))

	return newWSConn(conn, t.sampleRate, t.logger), nil
}

func (t *ScribeTransport) fetchToken(ctx context.Context) (string, error) {
	if t.cfg.APIKey == "" {
		return "", fmt.Errorf("API key is not configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.TokenURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("xi-api-key", t.cfg.APIKey)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return "", fmt.Errorf("failed to read token response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("token request returned HTTP %d: %s", resp.StatusCode, string(body))
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return "", fmt.Errorf("failed to parse token response: %w", err)
	}
	if tr.Token == "" {
		return "", fmt.Errorf("token response has no token")
	}
	return tr.Token, nil
}

func (t *ScribeTransport) streamURL(token string) (string, error) {
	u, err := url.Parse(t.cfg.StreamURL)
	if err != nil {
		return "", fmt.Errorf("invalid stream URL: %w", err)
	}

	q := u.Query()
	q.Set("language_code", t.cfg.LanguageCode)
	q.Set("commit_strategy", t.cfg.CommitStrategy)
	q.Set("audio_format", "pcm_"+strconv.Itoa(t.sampleRate))
	q.Set("token", token)
	if t.cfg.CommitStrategy == "vad" {
		q.Set("vad_silence_threshold_secs", strconv.FormatFloat(t.vad.SilenceDuration, 'f', -1, 64))
		q.Set("vad_threshold", strconv.FormatFloat(float64(t.vad.Threshold), 'f', 2, 32))
		q.Set("min_speech_duration_ms", strconv.FormatInt(t.vad.GetMinSpeechDuration().Milliseconds(), 10))
		q.Set("min_silence_duration_ms", strconv.FormatInt(t.vad.GetMinSilenceDuration().Milliseconds(), 10))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (t *ScribeTransport) handshakeError(parent, hsCtx context.Context, step string, err error) error {
	if parent.Err() == nil && errors.Is(hsCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s after %v: %w", ErrHandshakeTimeout, step, t.cfg.HandshakeTimeout, err)
	}
	return fmt.Errorf("transcription %s failed: %w", step, err)
}
