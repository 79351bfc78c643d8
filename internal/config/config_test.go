package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(c *Config)
		errorMsg string
	}{
		{
			name:     "unsupported sample rate",
			mutate:   func(c *Config) { c.Audio.SampleRate = 11025 },
			errorMsg: "sample_rate",
		},
		{
			name:     "zero start lead",
			mutate:   func(c *Config) { c.Playback.StartLead = 0 },
			errorMsg: "start_lead",
		},
		{
			name:     "start lead too long",
			mutate:   func(c *Config) { c.Playback.StartLead = time.Second },
			errorMsg: "start_lead",
		},
		{
			name:     "epsilon not below lead",
			mutate:   func(c *Config) { c.Playback.ScheduleEpsilon = c.Playback.StartLead },
			errorMsg: "schedule_epsilon",
		},
		{
			name:     "fade too long",
			mutate:   func(c *Config) { c.Playback.FadeDuration = 60 * time.Millisecond },
			errorMsg: "fade_duration",
		},
		{
			name: "fade longer than short blocks",
			mutate: func(c *Config) {
				c.Playback.MinBlockSamples = 16 // 1ms at 16 kHz, limit 4ms
				c.Playback.FadeDuration = 5 * time.Millisecond
			},
			errorMsg: "4x min_block_samples",
		},
		{
			name:     "min block samples above rate/10",
			mutate:   func(c *Config) { c.Playback.MinBlockSamples = 1601 },
			errorMsg: "min_block_samples",
		},
		{
			name:     "spike threshold zero",
			mutate:   func(c *Config) { c.Playback.SpikeThreshold = 0 },
			errorMsg: "spike_threshold",
		},
		{
			name:     "queue depth zero",
			mutate:   func(c *Config) { c.Playback.QueueDepth = 0 },
			errorMsg: "queue_depth",
		},
		{
			name:     "read size below one frame",
			mutate:   func(c *Config) { c.Playback.ReadSize = 1 },
			errorMsg: "read_size",
		},
		{
			name:     "silence duration too short",
			mutate:   func(c *Config) { c.VAD.SilenceDuration = 0.1 },
			errorMsg: "silence_duration",
		},
		{
			name:     "vad threshold out of range",
			mutate:   func(c *Config) { c.VAD.Threshold = 0.95 },
			errorMsg: "threshold must be between 0.1 and 0.9",
		},
		{
			name:     "window size too small",
			mutate:   func(c *Config) { c.VAD.WindowSize = 64 },
			errorMsg: "window_size",
		},
		{
			name:     "unknown commit strategy",
			mutate:   func(c *Config) { c.Capture.CommitStrategy = "push" },
			errorMsg: "commit_strategy",
		},
		{
			name:     "unbounded handshake",
			mutate:   func(c *Config) { c.Capture.HandshakeTimeout = 0 },
			errorMsg: "handshake_timeout",
		},
		{
			name:     "empty language",
			mutate:   func(c *Config) { c.Capture.LanguageCode = "" },
			errorMsg: "language_code",
		},
		{
			name:     "tts format mismatches sample rate",
			mutate:   func(c *Config) { c.Audio.SampleRate = 24000 },
			errorMsg: "pcm_24000",
		},
		{
			name:     "unknown tts mode",
			mutate:   func(c *Config) { c.TTS.Mode = "chunked" },
			errorMsg: "mode",
		},
		{
			name:     "max tokens zero",
			mutate:   func(c *Config) { c.Reply.MaxTokens = 0 },
			errorMsg: "max_tokens",
		},
		{
			name:     "idle timeout zero",
			mutate:   func(c *Config) { c.Session.IdleTimeout = 0 },
			errorMsg: "idle_timeout",
		},
		{
			name:     "invalid http port",
			mutate:   func(c *Config) { c.HTTP.Port = 70000 },
			errorMsg: "http port",
		},
		{
			name: "disabled http skips port check",
			mutate: func(c *Config) {
				c.HTTP.Enabled = false
				c.HTTP.Port = 0
			},
		},
		{
			name:     "invalid log level",
			mutate:   func(c *Config) { c.Logging.Level = "trace" },
			errorMsg: "level must be one of",
		},
		{
			name:     "invalid log format",
			mutate:   func(c *Config) { c.Logging.Format = "text" },
			errorMsg: "format must be",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(c)
			err := c.Validate()
			if tt.errorMsg == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errorMsg)
		})
	}
}

func TestConfigLoad(t *testing.T) {
	tempDir := t.TempDir()

	tests := []struct {
		name       string
		configYAML string
		errorMsg   string
		check      func(t *testing.T, c *Config)
	}{
		{
			name: "partial file keeps defaults",
			configYAML: `
playback:
  fade_duration: 3ms
  queue_depth: 8
vad:
  silence_duration: 1.0
logging:
  level: debug
  format: console
`,
			check: func(t *testing.T, c *Config) {
				assert.Equal(t, 3*time.Millisecond, c.Playback.FadeDuration)
				assert.Equal(t, 8, c.Playback.QueueDepth)
				assert.Equal(t, 50*time.Millisecond, c.Playback.StartLead)
				assert.Equal(t, time.Second, c.VAD.GetSilenceDuration())
				assert.Equal(t, 16000, c.Audio.SampleRate)
				assert.Equal(t, "debug", c.Logging.Level)
			},
		},
		{
			name: "invalid YAML syntax",
			configYAML: `
playback:
  queue_depth: invalid_number
`,
			errorMsg: "failed to parse",
		},
		{
			name: "out of bounds value",
			configYAML: `
vad:
  threshold: 0.05
`,
			errorMsg: "vad config",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configPath := filepath.Join(tempDir, "config.yaml")
			require.NoError(t, os.WriteFile(configPath, []byte(tt.configYAML), 0644))

			config, err := Load(configPath)
			if tt.errorMsg != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errorMsg)
				return
			}
			require.NoError(t, err)
			tt.check(t, config)
		})
	}
}

func TestConfigLoadNonexistentFile(t *testing.T) {
	_, err := Load("nonexistent.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestApplyEnv(t *testing.T) {
	t.Setenv(EnvElevenLabsKey, "xi-key")
	t.Setenv(EnvOpenAIKey, "sk-key")
	t.Setenv(EnvVoiceID, "voice-7")

	c := Default()
	c.Reply.APIKey = "from-file"
	c.ApplyEnv()

	assert.Equal(t, "xi-key", c.TTS.APIKey)
	assert.Equal(t, "xi-key", c.Capture.APIKey)
	assert.Equal(t, "from-file", c.Reply.APIKey)
	assert.Equal(t, "voice-7", c.TTS.VoiceID)
}

func TestDurationHelpers(t *testing.T) {
	vad := VADConfig{
		SilenceDuration:    1.5,
		MinSpeechDuration:  0.5,
		MinSilenceDuration: 0.3,
	}

	assert.Equal(t, 1500*time.Millisecond, vad.GetSilenceDuration())
	assert.Equal(t, 500*time.Millisecond, vad.GetMinSpeechDuration())
	assert.Equal(t, 300*time.Millisecond, vad.GetMinSilenceDuration())

	h := HTTPConfig{Address: "127.0.0.1", Port: 8080}
	assert.Equal(t, "127.0.0.1:8080", h.ListenAddr())
}
