package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rokas2025/playvoice/internal/config"
	"github.com/rokas2025/playvoice/internal/metrics"
	"github.com/rokas2025/playvoice/internal/playback"
)

const (
	defaultRetryDelay = 500 * time.Millisecond
	maxRetryDelay     = 5 * time.Second
)

// Client provides HTTP client functionality for speech synthesis requests
type Client struct {
	cfg        config.TTSConfig
	httpClient *http.Client
	retryDelay time.Duration
	logger     *zap.Logger
	metrics    *metrics.Metrics

	// Statistics
	totalRequests   uint64
	successRequests uint64
	failedRequests  uint64
	totalRetries    uint64
	streamed        uint64
	buffered        uint64
	avgFirstByte    time.Duration

	mu sync.RWMutex
}

// ClientStats represents client statistics
type ClientStats struct {
	TotalRequests   uint64        `json:"total_requests"`
	SuccessRequests uint64        `json:"success_requests"`
	FailedRequests  uint64        `json:"failed_requests"`
	SuccessRate     float64       `json:"success_rate"`
	TotalRetries    uint64        `json:"total_retries"`
	Streamed        uint64        `json:"streamed_responses"`
	Buffered        uint64        `json:"buffered_responses"`
	AvgFirstByte    time.Duration `json:"avg_first_byte"`
}

type synthesisRequest struct {
	Text          string               `json:"text"`
	ModelID       string               `json:"model_id"`
	VoiceSettings config.VoiceSettings `json:"voice_settings"`
}

// StatusError is returned for a non-2xx synthesis response
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP error %d: %s", e.StatusCode, e.Body)
}

// NewClient creates a new speech synthesis client
func NewClient(cfg config.TTSConfig, logger *zap.Logger, m *metrics.Metrics) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL cannot be empty")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key cannot be empty")
	}
	if cfg.VoiceID == "" {
		return nil, fmt.Errorf("voice ID cannot be empty")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	// The timeout bounds the wait for response headers only; a streamed
	// body may legitimately take longer than that to finish.
	httpClient := &http.Client{
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			MaxIdleConns:          10,
			MaxIdleConnsPerHost:   2,
			IdleConnTimeout:       90 * time.Second,
			ResponseHeaderTimeout: cfg.Timeout,
		},
	}

	return &Client{
		cfg:        cfg,
		httpClient: httpClient,
		retryDelay: defaultRetryDelay,
		logger:     logger.With(zap.String("component", "tts")),
		metrics:    m,
	}, nil
}

// Synthesize requests speech for text. Failed attempts are retried with
// exponential backoff as long as no response body has been handed out.
func (c *Client) Synthesize(ctx context.Context, text string) (playback.Source, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return playback.Source{}, fmt.Errorf("nothing to synthesize")
	}

	c.incrementTotalRequests()
	var lastErr error

	// Retry loop with exponential backoff
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			c.incrementTotalRetries()
			c.metrics.RecordTTSRetry()

			backoffTime := time.Duration(math.Pow(2, float64(attempt-1))) * c.retryDelay
			if backoffTime > maxRetryDelay {
				backoffTime = maxRetryDelay
			}

			select {
			case <-time.After(backoffTime):
			case <-ctx.Done():
				return playback.Source{}, ctx.Err()
			}
		}

		src, err := c.doRequest(ctx, text)
		if err == nil {
			c.incrementSuccessRequests(src.Streaming)
			return src, nil
		}

		lastErr = err
		if ctx.Err() != nil || !isRetryableError(err) {
			break
		}
		c.logger.Warn("Synthesis attempt failed",
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}

	c.incrementFailedRequests()
	c.metrics.RecordUpstreamFailure("tts")
	return playback.Source{}, fmt.Errorf("synthesis failed: %w", lastErr)
}

// doRequest performs a single synthesis request
func (c *Client) doRequest(ctx context.Context, text string) (playback.Source, error) {
	body, err := json.Marshal(synthesisRequest{
		Text:          text,
		ModelID:       c.cfg.ModelID,
		VoiceSettings: c.cfg.VoiceSettings,
	})
	if err != nil {
		return playback.Source{}, fmt.Errorf("failed to encode request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1/text-to-speech/%s/stream?output_format=%s",
		strings.TrimRight(c.cfg.BaseURL, "/"), url.PathEscape(c.cfg.VoiceID), url.QueryEscape(c.cfg.OutputFormat))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return playback.Source{}, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("xi-api-key", c.cfg.APIKey)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return playback.Source{}, fmt.Errorf("HTTP request failed: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return playback.Source{}, &StatusError{StatusCode: resp.StatusCode, Body: string(msg)}
	}

	firstByte := time.Since(start)
	c.metrics.RecordTTSFirstByte(firstByte)
	c.updateAvgFirstByte(firstByte)

	streaming := c.isStreaming(resp)
	c.logger.Debug("Synthesis response received",
		zap.Bool("streaming", streaming),
		zap.Int64("content_length", resp.ContentLength),
		zap.Duration("first_byte", firstByte))

	return playback.Source{Body: resp.Body, Streaming: streaming}, nil
}

func (c *Client) isStreaming(resp *http.Response) bool {
	switch c.cfg.Mode {
	case "stream":
		return true
	case "buffered":
		return false
	}
	for _, te := range resp.TransferEncoding {
		if te == "chunked" {
			return true
		}
	}
	return resp.ContentLength < 0
}

// isRetryableError reports whether a failed attempt may be repeated.
// Server errors, rate limiting and network failures are retryable.
func isRetryableError(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode >= 500 || statusErr.StatusCode == http.StatusTooManyRequests
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, context.DeadlineExceeded)
}

// Statistics methods
func (c *Client) incrementTotalRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalRequests++
}

func (c *Client) incrementSuccessRequests(streaming bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.successRequests++
	if streaming {
		c.streamed++
	} else {
		c.buffered++
	}
}

func (c *Client) incrementFailedRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failedRequests++
}

func (c *Client) incrementTotalRetries() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalRetries++
}

func (c *Client) updateAvgFirstByte(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Simple moving average
	if c.avgFirstByte == 0 {
		c.avgFirstByte = d
	} else {
		c.avgFirstByte = (c.avgFirstByte + d) / 2
	}
}

// GetStats returns current client statistics
func (c *Client) GetStats() ClientStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	successRate := float64(0)
	if c.totalRequests > 0 {
		successRate = float64(c.successRequests) / float64(c.totalRequests) * 100
	}

	return ClientStats{
		TotalRequests:   c.totalRequests,
		SuccessRequests: c.successRequests,
		FailedRequests:  c.failedRequests,
		SuccessRate:     successRate,
		TotalRetries:    c.totalRetries,
		Streamed:        c.streamed,
		Buffered:        c.buffered,
		AvgFirstByte:    c.avgFirstByte,
	}
}
