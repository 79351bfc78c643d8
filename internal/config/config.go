package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variables that fill credentials left empty in the file
const (
	EnvElevenLabsKey = "ELEVENLABS_API_KEY"
	EnvVoiceID       = "ELEVENLABS_VOICE_ID"
	EnvOpenAIKey     = "OPENAI_API_KEY"
)

// Config represents the complete service configuration
type Config struct {
	Audio    AudioConfig    `yaml:"audio"`
	Playback PlaybackConfig `yaml:"playback"`
	VAD      VADConfig      `yaml:"vad"`
	Capture  CaptureConfig  `yaml:"capture"`
	TTS      TTSConfig      `yaml:"tts"`
	Reply    ReplyConfig    `yaml:"reply"`
	Session  SessionConfig  `yaml:"session"`
	HTTP     HTTPConfig     `yaml:"http"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// AudioConfig contains the session-wide PCM format
type AudioConfig struct {
	SampleRate int `yaml:"sample_rate"`
}

// PlaybackConfig contains streaming scheduler and glitch filter parameters
type PlaybackConfig struct {
	StartLead       time.Duration `yaml:"start_lead"`
	ScheduleEpsilon time.Duration `yaml:"schedule_epsilon"`
	FadeDuration    time.Duration `yaml:"fade_duration"`
	MinBlockSamples int           `yaml:"min_block_samples"`
	SpikeThreshold  float32       `yaml:"spike_threshold"` // fraction of full scale
	QueueDepth      int           `yaml:"queue_depth"`     // blocks
	ReadSize        int           `yaml:"read_size"`       // bytes per network read
}

// VADConfig contains Voice Activity Detection configuration
type VADConfig struct {
	SilenceDuration    float64 `yaml:"silence_duration"` // seconds
	Threshold          float32 `yaml:"threshold"`
	MinSpeechDuration  float64 `yaml:"min_speech_duration"`  // seconds
	MinSilenceDuration float64 `yaml:"min_silence_duration"` // seconds
	WindowSize         int     `yaml:"window_size"`          // samples
}

// CaptureConfig contains microphone and realtime transcription settings
type CaptureConfig struct {
	CommitStrategy   string        `yaml:"commit_strategy"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	FramesPerBuffer  int           `yaml:"frames_per_buffer"`
	LanguageCode     string        `yaml:"language_code"`
	TokenURL         string        `yaml:"token_url"`
	StreamURL        string        `yaml:"stream_url"`
	APIKey           string        `yaml:"api_key"`
	// DumpDir, when set, receives a WAV file of the audio sent during each capture run
	DumpDir string `yaml:"dump_dir"`
}

// VoiceSettings are passed through to the TTS backend
type VoiceSettings struct {
	Stability       float64 `yaml:"stability" json:"stability"`
	SimilarityBoost float64 `yaml:"similarity_boost" json:"similarity_boost"`
	Style           float64 `yaml:"style" json:"style"`
	Speed           float64 `yaml:"speed" json:"speed"`
	UseSpeakerBoost bool    `yaml:"use_speaker_boost" json:"use_speaker_boost"`
}

// TTSConfig contains text-to-speech client configuration
type TTSConfig struct {
	BaseURL       string        `yaml:"base_url"`
	APIKey        string        `yaml:"api_key"`
	VoiceID       string        `yaml:"voice_id"`
	ModelID       string        `yaml:"model_id"`
	OutputFormat  string        `yaml:"output_format"`
	Mode          string        `yaml:"mode"` // auto, stream or buffered
	Timeout       time.Duration `yaml:"timeout"`
	MaxRetries    int           `yaml:"max_retries"`
	VoiceSettings VoiceSettings `yaml:"voice_settings"`
}

// ReplyConfig contains chat-completions client configuration
type ReplyConfig struct {
	BaseURL       string        `yaml:"base_url"`
	APIKey        string        `yaml:"api_key"`
	Model         string        `yaml:"model"`
	Temperature   float64       `yaml:"temperature"`
	MaxTokens     int           `yaml:"max_tokens"`
	SystemPrompt  string        `yaml:"system_prompt"`
	FallbackReply string        `yaml:"fallback_reply"`
	Timeout       time.Duration `yaml:"timeout"`
	HistoryLimit  int           `yaml:"history_limit"` // turns kept per session
}

// SessionConfig contains conversation session registry settings
type SessionConfig struct {
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
	MaxSessions     int           `yaml:"max_sessions"`
}

// HTTPConfig contains HTTP API server configuration
type HTTPConfig struct {
	Port         int     `yaml:"port"`
	Address      string  `yaml:"address"`
	Enabled      bool    `yaml:"enabled"`
	SessionRate  float64 `yaml:"session_rate"` // session creations per second per client
	SessionBurst int     `yaml:"session_burst"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Default returns the documented defaults for every section
func Default() *Config {
	return &Config{
		Audio: AudioConfig{
			SampleRate: 16000,
		},
		Playback: PlaybackConfig{
			StartLead:       50 * time.Millisecond,
			ScheduleEpsilon: 5 * time.Millisecond,
			FadeDuration:    5 * time.Millisecond,
			MinBlockSamples: 64,
			SpikeThreshold:  0.5,
			QueueDepth:      32,
			ReadSize:        4096,
		},
		VAD: VADConfig{
			SilenceDuration:    1.5,
			Threshold:          0.4,
			MinSpeechDuration:  0.1,
			MinSilenceDuration: 0.1,
			WindowSize:         512,
		},
		Capture: CaptureConfig{
			CommitStrategy:   "vad",
			HandshakeTimeout: 5 * time.Second,
			FramesPerBuffer:  4096,
			LanguageCode:     "lt",
			TokenURL:         "https://api.elevenlabs.io/v1/single-use-token/realtime_scribe",
			StreamURL:        "wss://api.elevenlabs.io/v1/speech-to-text/realtime",
		},
		TTS: TTSConfig{
			BaseURL:      "https://api.elevenlabs.io",
			ModelID:      "eleven_turbo_v2_5",
			OutputFormat: "pcm_16000",
			Mode:         "auto",
			Timeout:      30 * time.Second,
			MaxRetries:   2,
			VoiceSettings: VoiceSettings{
				Stability:       0.5,
				SimilarityBoost: 0.8,
				Style:           0,
				Speed:           1.0,
				UseSpeakerBoost: true,
			},
		},
		Reply: ReplyConfig{
			BaseURL:       "https://api.openai.com",
			Model:         "gpt-4o-mini",
			Temperature:   0.7,
			MaxTokens:     150,
			SystemPrompt:  "Tu esi naudingas AI asistentas, kuris visada atsako lietuvių kalba. Būk mandagus, aiškus ir glaustus.",
			FallbackReply: "Atsiprašau, negalėjau sugeneruoti atsakymo.",
			Timeout:       30 * time.Second,
			HistoryLimit:  20,
		},
		Session: SessionConfig{
			IdleTimeout:     10 * time.Minute,
			CleanupInterval: 30 * time.Second,
			MaxSessions:     1,
		},
		HTTP: HTTPConfig{
			Port:         8080,
			Address:      "0.0.0.0",
			Enabled:      true,
			SessionRate:  1,
			SessionBurst: 3,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// Load reads the configuration file over the defaults, applies
// environment API keys and validates the result
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	config.ApplyEnv()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// ApplyEnv fills empty API keys and the voice from the environment
func (c *Config) ApplyEnv() {
	if key := os.Getenv(EnvElevenLabsKey); key != "" {
		if c.TTS.APIKey == "" {
			c.TTS.APIKey = key
		}
		if c.Capture.APIKey == "" {
			c.Capture.APIKey = key
		}
	}
	if voice := os.Getenv(EnvVoiceID); voice != "" && c.TTS.VoiceID == "" {
		c.TTS.VoiceID = voice
	}
	if key := os.Getenv(EnvOpenAIKey); key != "" && c.Reply.APIKey == "" {
		c.Reply.APIKey = key
	}
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.Playback.Validate(c.Audio.SampleRate); err != nil {
		return fmt.Errorf("playback config: %w", err)
	}

	if err := c.VAD.Validate(); err != nil {
		return fmt.Errorf("vad config: %w", err)
	}

	if err := c.Capture.Validate(); err != nil {
		return fmt.Errorf("capture config: %w", err)
	}

	if err := c.TTS.Validate(c.Audio.SampleRate); err != nil {
		return fmt.Errorf("tts config: %w", err)
	}

	if err := c.Reply.Validate(); err != nil {
		return fmt.Errorf("reply config: %w", err)
	}

	if err := c.Session.Validate(); err != nil {
		return fmt.Errorf("session config: %w", err)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	switch a.SampleRate {
	case 8000, 16000, 22050, 24000, 44100, 48000:
		return nil
	}
	return fmt.Errorf("sample_rate must be one of 8000, 16000, 22050, 24000, 44100, 48000, got %d", a.SampleRate)
}

// Validate validates playback configuration against the session sample rate
func (p *PlaybackConfig) Validate(sampleRate int) error {
	if p.StartLead <= 0 || p.StartLead > 500*time.Millisecond {
		return fmt.Errorf("start_lead must be in (0, 500ms], got %s", p.StartLead)
	}

	if p.ScheduleEpsilon < 0 || p.ScheduleEpsilon >= p.StartLead {
		return fmt.Errorf("schedule_epsilon must be in [0, start_lead), got %s", p.ScheduleEpsilon)
	}

	if p.MinBlockSamples < 1 || p.MinBlockSamples > sampleRate/10 {
		return fmt.Errorf("min_block_samples must be between 1 and %d, got %d", sampleRate/10, p.MinBlockSamples)
	}

	if p.FadeDuration <= 0 || p.FadeDuration >= 50*time.Millisecond {
		return fmt.Errorf("fade_duration must be in (0, 50ms), got %s", p.FadeDuration)
	}

	// A fade must fit comfortably inside the shortest block that is played
	blockLimit := time.Duration(p.MinBlockSamples*4) * time.Second / time.Duration(sampleRate)
	if p.FadeDuration >= blockLimit {
		return fmt.Errorf("fade_duration (%s) must be shorter than 4x min_block_samples (%s)", p.FadeDuration, blockLimit)
	}

	if p.SpikeThreshold <= 0 || p.SpikeThreshold > 2 {
		return fmt.Errorf("spike_threshold must be in (0, 2], got %f", p.SpikeThreshold)
	}

	if p.QueueDepth < 1 || p.QueueDepth > 1024 {
		return fmt.Errorf("queue_depth must be between 1 and 1024, got %d", p.QueueDepth)
	}

	if p.ReadSize < 2 {
		return fmt.Errorf("read_size must be at least 2 bytes, got %d", p.ReadSize)
	}

	return nil
}

// Validate validates VAD configuration
func (v *VADConfig) Validate() error {
	if v.SilenceDuration < 0.3 || v.SilenceDuration > 3 {
		return fmt.Errorf("silence_duration must be between 0.3 and 3 seconds, got %f", v.SilenceDuration)
	}

	if v.Threshold < 0.1 || v.Threshold > 0.9 {
		return fmt.Errorf("threshold must be between 0.1 and 0.9, got %f", v.Threshold)
	}

	if v.MinSpeechDuration < 0.05 || v.MinSpeechDuration > 2 {
		return fmt.Errorf("min_speech_duration must be between 0.05 and 2 seconds, got %f", v.MinSpeechDuration)
	}

	if v.MinSilenceDuration < 0.05 || v.MinSilenceDuration > 2 {
		return fmt.Errorf("min_silence_duration must be between 0.05 and 2 seconds, got %f", v.MinSilenceDuration)
	}

	if v.WindowSize < 128 || v.WindowSize > 4096 {
		return fmt.Errorf("window_size must be between 128 and 4096 samples, got %d", v.WindowSize)
	}

	return nil
}

// Validate validates capture configuration
func (c *CaptureConfig) Validate() error {
	if c.CommitStrategy != "vad" && c.CommitStrategy != "manual" {
		return fmt.Errorf("commit_strategy must be 'vad' or 'manual', got '%s'", c.CommitStrategy)
	}

	if c.HandshakeTimeout <= 0 || c.HandshakeTimeout > 30*time.Second {
		return fmt.Errorf("handshake_timeout must be in (0, 30s], got %s", c.HandshakeTimeout)
	}

	if c.FramesPerBuffer < 256 || c.FramesPerBuffer > 16384 {
		return fmt.Errorf("frames_per_buffer must be between 256 and 16384, got %d", c.FramesPerBuffer)
	}

	if c.LanguageCode == "" {
		return fmt.Errorf("language_code cannot be empty")
	}

	if c.TokenURL == "" || c.StreamURL == "" {
		return fmt.Errorf("token_url and stream_url cannot be empty")
	}

	return nil
}

// Validate validates TTS configuration against the session sample rate
func (t *TTSConfig) Validate(sampleRate int) error {
	if t.BaseURL == "" {
		return fmt.Errorf("base_url cannot be empty")
	}

	if want := fmt.Sprintf("pcm_%d", sampleRate); t.OutputFormat != want {
		return fmt.Errorf("output_format must be '%s' to match audio.sample_rate, got '%s'", want, t.OutputFormat)
	}

	validModes := map[string]bool{"auto": true, "stream": true, "buffered": true}
	if !validModes[t.Mode] {
		return fmt.Errorf("mode must be one of [auto, stream, buffered], got '%s'", t.Mode)
	}

	if t.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %s", t.Timeout)
	}

	if t.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", t.MaxRetries)
	}

	return nil
}

// Validate validates reply configuration
func (r *ReplyConfig) Validate() error {
	if r.BaseURL == "" {
		return fmt.Errorf("base_url cannot be empty")
	}

	if r.Model == "" {
		return fmt.Errorf("model cannot be empty")
	}

	if r.Temperature < 0 || r.Temperature > 2 {
		return fmt.Errorf("temperature must be between 0 and 2, got %f", r.Temperature)
	}

	if r.MaxTokens <= 0 {
		return fmt.Errorf("max_tokens must be positive, got %d", r.MaxTokens)
	}

	if r.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %s", r.Timeout)
	}

	if r.HistoryLimit < 0 {
		return fmt.Errorf("history_limit cannot be negative, got %d", r.HistoryLimit)
	}

	return nil
}

// Validate validates session configuration
func (s *SessionConfig) Validate() error {
	if s.IdleTimeout <= 0 {
		return fmt.Errorf("idle_timeout must be positive, got %s", s.IdleTimeout)
	}

	if s.CleanupInterval <= 0 {
		return fmt.Errorf("cleanup_interval must be positive, got %s", s.CleanupInterval)
	}

	if s.MaxSessions < 1 {
		return fmt.Errorf("max_sessions must be at least 1, got %d", s.MaxSessions)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}

		if h.SessionRate <= 0 || h.SessionBurst < 1 {
			return fmt.Errorf("session_rate must be positive and session_burst at least 1, got %f/%d", h.SessionRate, h.SessionBurst)
		}
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'console', got '%s'", l.Format)
	}

	if strings.TrimSpace(l.Output) == "" {
		return fmt.Errorf("output cannot be empty")
	}

	return nil
}

// GetSilenceDuration returns the trailing silence duration as a time.Duration
func (v *VADConfig) GetSilenceDuration() time.Duration {
	return time.Duration(v.SilenceDuration * float64(time.Second))
}

// GetMinSpeechDuration returns the minimum speech duration as a time.Duration
func (v *VADConfig) GetMinSpeechDuration() time.Duration {
	return time.Duration(v.MinSpeechDuration * float64(time.Second))
}

// GetMinSilenceDuration returns the minimum silence duration as a time.Duration
func (v *VADConfig) GetMinSilenceDuration() time.Duration {
	return time.Duration(v.MinSilenceDuration * float64(time.Second))
}

// ListenAddr returns the HTTP listen address
func (h *HTTPConfig) ListenAddr() string {
	return fmt.Sprintf("%s:%d", h.Address, h.Port)
}
