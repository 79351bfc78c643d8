package reply

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/rokas2025/playvoice/internal/config"
	"github.com/rokas2025/playvoice/internal/metrics"
)

// Roles of conversation messages
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of conversation history
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
}

// StatusError is returned for a non-2xx response
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP error %d: %s", e.StatusCode, e.Body)
}

// Client calls the chat-completions API
type Client struct {
	cfg        config.ReplyConfig
	httpClient *http.Client
	logger     *zap.Logger
	metrics    *metrics.Metrics
}

// NewClient creates a reply client
func NewClient(cfg config.ReplyConfig, logger *zap.Logger, m *metrics.Metrics) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL cannot be empty")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key cannot be empty")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 2,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		logger:  logger.With(zap.String("component", "reply")),
		metrics: m,
	}, nil
}

// Generate returns the assistant reply to the conversation. The system
// prompt is prepended; a response without content yields the configured
// fallback reply.
func (c *Client) Generate(ctx context.Context, history []Message) (string, error) {
	messages := make([]Message, 0, len(history)+1)
	if c.cfg.SystemPrompt != "" {
		messages = append(messages, Message{Role: RoleSystem, Content: c.cfg.SystemPrompt})
	}
	messages = append(messages, history...)

	body, err := json.Marshal(chatRequest{
		Model:       c.cfg.Model,
		Messages:    messages,
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(c.cfg.BaseURL, "/")+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.RecordUpstreamFailure("llm")
		return "", fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		c.metrics.RecordUpstreamFailure("llm")
		return "", fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.metrics.RecordUpstreamFailure("llm")
		return "", &StatusError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("failed to parse response JSON: %w", err)
	}

	text := ""
	if len(parsed.Choices) > 0 {
		text = strings.TrimSpace(parsed.Choices[0].Message.Content)
	}
	if text == "" {
		c.logger.Warn("Reply had no content, using fallback")
		return c.cfg.FallbackReply, nil
	}

	c.logger.Debug("Reply generated",
		zap.Int("history", len(history)),
		zap.Int("chars", len(text)),
		zap.Duration("duration", time.Since(start)))
	return text, nil
}
