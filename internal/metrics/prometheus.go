package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the voice pipeline.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Playback metrics
	BlocksScheduled   prometheus.Counter
	BlocksMuted       prometheus.Counter
	BlocksDropped     prometheus.Counter
	LeftoverDiscarded prometheus.Counter
	LateBlocks        prometheus.Counter
	PlaybackErrors    *prometheus.CounterVec
	UtterancesPlayed  *prometheus.CounterVec
	PlaybackDuration  prometheus.Histogram

	// Turn-taking metrics
	StateTransitions    *prometheus.CounterVec
	ActiveSessions      prometheus.Gauge
	SessionsCreated     prometheus.Counter
	SessionsDestroyed   prometheus.Counter
	CommittedTranscript prometheus.Counter
	CaptureRestarts     *prometheus.CounterVec

	// VAD metrics
	VADWindowsProcessed prometheus.Counter
	VADVoiceDetected    prometheus.Counter

	// Upstream client metrics
	TTSFirstByte    prometheus.Histogram
	TTSRetries      prometheus.Counter
	ReplyLatency    prometheus.Histogram
	UpstreamFailure *prometheus.CounterVec

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them with reg.
// Passing nil registers with the default Prometheus registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		BlocksScheduled: f.NewCounter(prometheus.CounterOpts{
			Name: "playvoice_blocks_scheduled_total",
			Help: "Total number of audio blocks scheduled on an output",
		}),
		BlocksMuted: f.NewCounter(prometheus.CounterOpts{
			Name: "playvoice_blocks_muted_total",
			Help: "Total number of blocks silenced by the spike filter",
		}),
		BlocksDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "playvoice_blocks_dropped_short_total",
			Help: "Total number of blocks dropped for being below the minimum length",
		}),
		LeftoverDiscarded: f.NewCounter(prometheus.CounterOpts{
			Name: "playvoice_leftover_bytes_discarded_total",
			Help: "Total number of incomplete trailing frame bytes discarded at end of stream",
		}),
		LateBlocks: f.NewCounter(prometheus.CounterOpts{
			Name: "playvoice_late_blocks_total",
			Help: "Total number of blocks whose cursor had fallen behind the device clock",
		}),
		PlaybackErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "playvoice_playback_errors_total",
			Help: "Total number of aborted utterances by error kind",
		}, []string{"kind"}),
		UtterancesPlayed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "playvoice_utterances_played_total",
			Help: "Total number of utterances played to completion by delivery mode",
		}, []string{"mode"}),
		PlaybackDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "playvoice_playback_duration_seconds",
			Help:    "Wall time from first schedule to completion of an utterance",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 8), // 250ms to ~30s
		}),

		StateTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "playvoice_state_transitions_total",
			Help: "Total number of turn state transitions",
		}, []string{"from", "to"}),
		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Name: "playvoice_active_sessions",
			Help: "Current number of conversation sessions",
		}),
		SessionsCreated: f.NewCounter(prometheus.CounterOpts{
			Name: "playvoice_sessions_created_total",
			Help: "Total number of sessions created",
		}),
		SessionsDestroyed: f.NewCounter(prometheus.CounterOpts{
			Name: "playvoice_sessions_destroyed_total",
			Help: "Total number of sessions destroyed",
		}),
		CommittedTranscript: f.NewCounter(prometheus.CounterOpts{
			Name: "playvoice_committed_transcripts_total",
			Help: "Total number of committed transcripts that started a reply cycle",
		}),
		CaptureRestarts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "playvoice_capture_restarts_total",
			Help: "Total number of capture restart attempts by outcome",
		}, []string{"outcome"}),

		VADWindowsProcessed: f.NewCounter(prometheus.CounterOpts{
			Name: "playvoice_vad_windows_processed_total",
			Help: "Total number of VAD windows processed",
		}),
		VADVoiceDetected: f.NewCounter(prometheus.CounterOpts{
			Name: "playvoice_vad_voice_detected_total",
			Help: "Total number of VAD windows with voice detected",
		}),

		TTSFirstByte: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "playvoice_tts_first_byte_seconds",
			Help:    "Time from synthesis request to response headers",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
		}),
		TTSRetries: f.NewCounter(prometheus.CounterOpts{
			Name: "playvoice_tts_retries_total",
			Help: "Total number of synthesis request retries",
		}),
		ReplyLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "playvoice_reply_duration_seconds",
			Help:    "Duration of reply generation requests",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~50s
		}),
		UpstreamFailure: f.NewCounterVec(prometheus.CounterOpts{
			Name: "playvoice_upstream_failures_total",
			Help: "Total number of failed upstream requests by service",
		}, []string{"service"}),

		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "playvoice_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "playvoice_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "playvoice_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordBlockScheduled increments the scheduled counter and, when the
// cursor had fallen behind the device clock, the late counter
func (m *Metrics) RecordBlockScheduled(late bool) {
	if m == nil {
		return
	}
	m.BlocksScheduled.Inc()
	if late {
		m.LateBlocks.Inc()
	}
}

// RecordBlockMuted increments the muted blocks counter
func (m *Metrics) RecordBlockMuted() {
	if m == nil {
		return
	}
	m.BlocksMuted.Inc()
}

// RecordBlockDropped increments the short-block counter
func (m *Metrics) RecordBlockDropped() {
	if m == nil {
		return
	}
	m.BlocksDropped.Inc()
}

// RecordLeftoverDiscarded adds discarded trailing bytes
func (m *Metrics) RecordLeftoverDiscarded(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.LeftoverDiscarded.Add(float64(n))
}

// RecordPlaybackError records an aborted utterance
func (m *Metrics) RecordPlaybackError(kind string) {
	if m == nil {
		return
	}
	m.PlaybackErrors.WithLabelValues(kind).Inc()
}

// RecordUtterancePlayed records a completed utterance and its duration
func (m *Metrics) RecordUtterancePlayed(mode string, d time.Duration) {
	if m == nil {
		return
	}
	m.UtterancesPlayed.WithLabelValues(mode).Inc()
	m.PlaybackDuration.Observe(d.Seconds())
}

// RecordTransition records a turn state transition
func (m *Metrics) RecordTransition(from, to string) {
	if m == nil {
		return
	}
	m.StateTransitions.WithLabelValues(from, to).Inc()
}

// SetActiveSessions sets the current number of sessions
func (m *Metrics) SetActiveSessions(count int) {
	if m == nil {
		return
	}
	m.ActiveSessions.Set(float64(count))
}

// RecordSessionCreated increments the sessions created counter
func (m *Metrics) RecordSessionCreated() {
	if m == nil {
		return
	}
	m.SessionsCreated.Inc()
}

// RecordSessionDestroyed increments the sessions destroyed counter
func (m *Metrics) RecordSessionDestroyed() {
	if m == nil {
		return
	}
	m.SessionsDestroyed.Inc()
}

// RecordCommitted increments the committed transcripts counter
func (m *Metrics) RecordCommitted() {
	if m == nil {
		return
	}
	m.CommittedTranscript.Inc()
}

// RecordCaptureRestart records a capture restart attempt
func (m *Metrics) RecordCaptureRestart(ok bool) {
	if m == nil {
		return
	}
	outcome := "ok"
	if !ok {
		outcome = "failed"
	}
	m.CaptureRestarts.WithLabelValues(outcome).Inc()
}

// RecordVADWindow increments VAD windows processed and optionally voice detected
func (m *Metrics) RecordVADWindow(hasVoice bool) {
	if m == nil {
		return
	}
	m.VADWindowsProcessed.Inc()
	if hasVoice {
		m.VADVoiceDetected.Inc()
	}
}

// RecordTTSFirstByte observes synthesis time-to-first-byte
func (m *Metrics) RecordTTSFirstByte(d time.Duration) {
	if m == nil {
		return
	}
	m.TTSFirstByte.Observe(d.Seconds())
}

// RecordTTSRetry increments the synthesis retry counter
func (m *Metrics) RecordTTSRetry() {
	if m == nil {
		return
	}
	m.TTSRetries.Inc()
}

// RecordReply observes reply generation latency
func (m *Metrics) RecordReply(d time.Duration) {
	if m == nil {
		return
	}
	m.ReplyLatency.Observe(d.Seconds())
}

// RecordUpstreamFailure records a failed call to an upstream service
func (m *Metrics) RecordUpstreamFailure(service string) {
	if m == nil {
		return
	}
	m.UpstreamFailure.WithLabelValues(service).Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	if m == nil {
		return
	}
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
