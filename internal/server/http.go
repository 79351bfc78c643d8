package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/rokas2025/playvoice/internal/config"
	"github.com/rokas2025/playvoice/internal/metrics"
	"github.com/rokas2025/playvoice/internal/tts"
	"github.com/rokas2025/playvoice/internal/turn"
)

const (
	eventWriteTimeout = 5 * time.Second
	maxTextBody       = 64 << 10
)

type textRequest struct {
	Text string `json:"text"`
}

// SessionRegistry is the session surface the API drives
type SessionRegistry interface {
	Create() (*turn.Session, error)
	Get(id string) (*turn.Session, bool)
	List() []turn.Info
	Count() int
	Remove(id string) bool
}

// SynthesisStats reports text-to-speech client counters
type SynthesisStats interface {
	GetStats() tts.ClientStats
}

// HTTPServer provides HTTP API endpoints for conversation control and monitoring
type HTTPServer struct {
	server   *http.Server
	handler  http.Handler
	logger   *zap.Logger
	config   *config.Config
	sessions SessionRegistry
	speech   SynthesisStats
	metrics  *metrics.Metrics
	limiter  *visitorLimiter

	startTime time.Time
}

// NewHTTPServer creates a new HTTP API server. speech may be nil.
func NewHTTPServer(cfg *config.Config, sessions SessionRegistry, speech SynthesisStats,
	logger *zap.Logger, m *metrics.Metrics) *HTTPServer {
	if logger == nil {
		logger = zap.NewNop()
	}

	h := &HTTPServer{
		logger:    logger.With(zap.String("component", "http")),
		config:    cfg,
		sessions:  sessions,
		speech:    speech,
		metrics:   m,
		limiter:   newVisitorLimiter(cfg.HTTP.SessionRate, cfg.HTTP.SessionBurst),
		startTime: time.Now(),
	}

	mux := http.NewServeMux()
	h.setupRoutes(mux)
	h.handler = mux

	h.server = &http.Server{
		Addr:              cfg.HTTP.ListenAddr(),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       10 * time.Second,
		// No write timeout: event streams stay open for the session lifetime
		IdleTimeout: 60 * time.Second,
	}

	return h
}

// Handler returns the routed API handler
func (h *HTTPServer) Handler() http.Handler {
	return h.handler
}

func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.withMetrics("/health", h.handleHealth))
	mux.HandleFunc("GET /config", h.withMetrics("/config", h.handleConfig))

	mux.HandleFunc("POST /sessions", h.withMetrics("/sessions", h.limiter.wrap(h.handleCreateSession)))
	mux.HandleFunc("GET /sessions", h.withMetrics("/sessions", h.handleListSessions))
	mux.HandleFunc("GET /sessions/{id}", h.withMetrics("/sessions/{id}", h.handleSessionDetail))
	mux.HandleFunc("DELETE /sessions/{id}", h.withMetrics("/sessions/{id}", h.handleDeleteSession))
	mux.HandleFunc("POST /sessions/{id}/text", h.withMetrics("/sessions/{id}/text", h.handleSubmitText))
	mux.HandleFunc("GET /sessions/{id}/stats", h.withMetrics("/sessions/{id}/stats", h.handleSessionStats))
	mux.HandleFunc("GET /sessions/{id}/events", h.withMetrics("/sessions/{id}/events", h.handleSessionEvents))

	// Prometheus metrics endpoint (no metrics needed for metrics endpoint)
	mux.Handle("GET /metrics", promhttp.Handler())
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		h.metrics.RecordHTTPRequest(r.Method, endpoint, strconv.Itoa(ww.statusCode), duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Hijack exposes the underlying connection for websocket upgrades
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return hj.Hijack()
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	ln, err := net.Listen("tcp", h.server.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", h.server.Addr, err)
	}

	h.logger.Info("Starting HTTP API server", zap.String("address", ln.Addr().String()))

	go func() {
		if err := h.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")
	h.limiter.stop()
	return h.server.Shutdown(ctx)
}

func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	components := map[string]interface{}{
		"sessions": map[string]interface{}{
			"status": "running",
			"active": h.sessions.Count(),
			"limit":  h.config.Session.MaxSessions,
		},
	}
	if h.speech != nil {
		stats := h.speech.GetStats()
		components["tts"] = map[string]interface{}{
			"status":         "running",
			"total_requests": stats.TotalRequests,
			"success_rate":   stats.SuccessRate,
			"avg_first_byte": stats.AvgFirstByte.String(),
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":     "healthy",
		"timestamp":  time.Now().UTC(),
		"uptime":     time.Since(h.startTime).String(),
		"service":    map[string]interface{}{"name": "playvoice", "version": "1.0.0"},
		"components": components,
	})
}

func (h *HTTPServer) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.sessions.Create()
	if err != nil {
		if errors.Is(err, turn.ErrTooManySessions) {
			writeError(w, http.StatusConflict, err)
			return
		}
		h.logger.Error("Failed to create session", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}

	writeJSON(w, http.StatusCreated, session.Info())
}

func (h *HTTPServer) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions := h.sessions.List()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"total_sessions": len(sessions),
		"timestamp":      time.Now().UTC(),
		"sessions":       sessions,
	})
}

func (h *HTTPServer) handleSessionDetail(w http.ResponseWriter, r *http.Request) {
	session, ok := h.sessions.Get(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("session not found"))
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session": session.Info(),
		"history": session.History(),
	})
}

func (h *HTTPServer) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if !h.sessions.Remove(r.PathValue("id")) {
		writeError(w, http.StatusNotFound, errors.New("session not found"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleSubmitText runs a turn from typed input. The reply arrives on the
// event stream; the request only reports whether the turn was accepted.
func (h *HTTPServer) handleSubmitText(w http.ResponseWriter, r *http.Request) {
	session, ok := h.sessions.Get(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("session not found"))
		return
	}

	var req textRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxTextBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}

	err := session.SubmitText(req.Text)
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, map[string]interface{}{
			"session_id": session.ID(),
			"accepted":   true,
		})
	case errors.Is(err, turn.ErrEmptyText):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, turn.ErrNotListening):
		writeError(w, http.StatusConflict, err)
	default:
		writeError(w, http.StatusGone, err)
	}
}

func (h *HTTPServer) handleSessionStats(w http.ResponseWriter, r *http.Request) {
	session, ok := h.sessions.Get(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("session not found"))
		return
	}

	timings := session.Timings()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session":  session.Info(),
		"turns":    timings,
		"averages": turn.Summarize(timings),
	})
}

// handleSessionEvents streams session events as JSON text frames until the
// session ends or the client goes away
func (h *HTTPServer) handleSessionEvents(w http.ResponseWriter, r *http.Request) {
	session, ok := h.sessions.Get(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("session not found"))
		return
	}

	events, unsubscribe := session.Subscribe()
	defer unsubscribe()

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Warn("Websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.CloseNow()

	// Clients never send; CloseRead cancels ctx once they disconnect
	ctx := conn.CloseRead(r.Context())
	logger := h.logger.With(zap.String("session_id", session.ID()))
	logger.Debug("Event stream opened")

	for {
		select {
		case <-ctx.Done():
			logger.Debug("Event stream client gone")
			return
		case ev, ok := <-events:
			if !ok {
				conn.Close(websocket.StatusNormalClosure, "session ended")
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				logger.Error("Failed to encode event", zap.Error(err))
				continue
			}
			writeCtx, cancel := context.WithTimeout(ctx, eventWriteTimeout)
			err = conn.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				logger.Debug("Event stream write failed", zap.Error(err))
				return
			}
		}
	}
}

// handleConfig returns the configuration with credentials omitted
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	c := h.config
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"audio": map[string]interface{}{
			"sample_rate": c.Audio.SampleRate,
		},
		"playback": map[string]interface{}{
			"start_lead":        c.Playback.StartLead.String(),
			"schedule_epsilon":  c.Playback.ScheduleEpsilon.String(),
			"fade_duration":     c.Playback.FadeDuration.String(),
			"min_block_samples": c.Playback.MinBlockSamples,
			"spike_threshold":   c.Playback.SpikeThreshold,
			"queue_depth":       c.Playback.QueueDepth,
			"read_size":         c.Playback.ReadSize,
		},
		"vad": map[string]interface{}{
			"silence_duration":     c.VAD.SilenceDuration,
			"threshold":            c.VAD.Threshold,
			"min_speech_duration":  c.VAD.MinSpeechDuration,
			"min_silence_duration": c.VAD.MinSilenceDuration,
			"window_size":          c.VAD.WindowSize,
		},
		"capture": map[string]interface{}{
			"commit_strategy":   c.Capture.CommitStrategy,
			"handshake_timeout": c.Capture.HandshakeTimeout.String(),
			"frames_per_buffer": c.Capture.FramesPerBuffer,
			"language_code":     c.Capture.LanguageCode,
			"stream_url":        c.Capture.StreamURL,
		},
		"tts": map[string]interface{}{
			"base_url":      c.TTS.BaseURL,
			"voice_id":      c.TTS.VoiceID,
			"model_id":      c.TTS.ModelID,
			"output_format": c.TTS.OutputFormat,
			"mode":          c.TTS.Mode,
			"timeout":       c.TTS.Timeout.String(),
			"max_retries":   c.TTS.MaxRetries,
		},
		"reply": map[string]interface{}{
			"base_url":      c.Reply.BaseURL,
			"model":         c.Reply.Model,
			"temperature":   c.Reply.Temperature,
			"max_tokens":    c.Reply.MaxTokens,
			"history_limit": c.Reply.HistoryLimit,
		},
		"session": map[string]interface{}{
			"idle_timeout": c.Session.IdleTimeout.String(),
			"max_sessions": c.Session.MaxSessions,
		},
		"logging": map[string]interface{}{
			"level":  c.Logging.Level,
			"format": c.Logging.Format,
			"output": c.Logging.Output,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// visitorLimiter throttles a handler per remote address
type visitorLimiter struct {
	rps   rate.Limit
	burst int

	mu       sync.Mutex
	visitors map[string]*visitor

	done     chan struct{}
	stopOnce sync.Once
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newVisitorLimiter(rps float64, burst int) *visitorLimiter {
	if burst <= 0 {
		burst = 1
	}
	limit := rate.Limit(rps)
	if rps <= 0 {
		limit = rate.Inf
	}
	l := &visitorLimiter{
		rps:      limit,
		burst:    burst,
		visitors: make(map[string]*visitor),
		done:     make(chan struct{}),
	}
	go l.sweep()
	return l
}

func (l *visitorLimiter) allow(remoteAddr string) bool {
	ip, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		ip = remoteAddr
	}

	l.mu.Lock()
	v, ok := l.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.visitors[ip] = v
	}
	v.lastSeen = time.Now()
	l.mu.Unlock()

	return v.limiter.Allow()
}

func (l *visitorLimiter) wrap(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !l.allow(r.RemoteAddr) {
			writeError(w, http.StatusTooManyRequests, errors.New("too many requests"))
			return
		}
		next(w, r)
	}
}

// sweep drops visitors idle for three minutes
func (l *visitorLimiter) sweep() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			l.mu.Lock()
			for ip, v := range l.visitors {
				if time.Since(v.lastSeen) > 3*time.Minute {
					delete(l.visitors, ip)
				}
			}
			l.mu.Unlock()
		}
	}
}

func (l *visitorLimiter) stop() {
	l.stopOnce.Do(func() { close(l.done) })
}
