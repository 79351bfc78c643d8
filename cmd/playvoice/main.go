package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/rokas2025/playvoice/internal/capture"
	"github.com/rokas2025/playvoice/internal/config"
	"github.com/rokas2025/playvoice/internal/device"
	"github.com/rokas2025/playvoice/internal/metrics"
	"github.com/rokas2025/playvoice/internal/playback"
	"github.com/rokas2025/playvoice/internal/reply"
	"github.com/rokas2025/playvoice/internal/server"
	"github.com/rokas2025/playvoice/internal/tts"
	"github.com/rokas2025/playvoice/internal/turn"
)

const (
	defaultConfigPath = "configs/config.yaml"
	defaultEnvPath    = ".env"
	serviceName       = "playvoice"
	serviceVersion    = "1.0.0"

	// speakerFrames is the output device buffer in samples
	speakerFrames = 256
)

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	envPath := flag.String("env", defaultEnvPath, "Path to .env file with API keys")
	once := flag.Bool("once", false, "Run one local conversation without the HTTP API")
	typed := flag.Bool("text", false, "With -once, also read typed turns from stdin")
	mute := flag.Bool("mute", false, "Play replies into a silent output at real-time pace")
	flag.Parse()

	// A missing .env is fine; keys may come from the real environment
	if err := godotenv.Load(*envPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Failed to load env file %s: %v\n", *envPath, err)
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Logging)
	defer logger.Sync()

	logger.Info("Service starting",
		zap.String("service", serviceName),
		zap.String("version", serviceVersion),
		zap.String("config_path", *configPath),
	)

	logger.Info("Configuration loaded",
		zap.Int("sample_rate", cfg.Audio.SampleRate),
		zap.String("commit_strategy", cfg.Capture.CommitStrategy),
		zap.String("language_code", cfg.Capture.LanguageCode),
		zap.String("tts_mode", cfg.TTS.Mode),
		zap.String("tts_output_format", cfg.TTS.OutputFormat),
		zap.String("reply_model", cfg.Reply.Model),
		zap.Int("max_sessions", cfg.Session.MaxSessions),
		zap.String("log_level", cfg.Logging.Level),
	)

	if err := run(cfg, runOptions{once: *once, typed: *typed, mute: *mute}, logger); err != nil {
		logger.Error("Service failed", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}

	logger.Info("Service stopped")
}

type runOptions struct {
	once  bool
	typed bool
	mute  bool
}

func run(cfg *config.Config, opts runOptions, logger *zap.Logger) error {
	appMetrics := metrics.NewMetrics(nil)

	if err := device.Initialize(); err != nil {
		return err
	}
	defer device.Terminate()

	speech, err := tts.NewClient(cfg.TTS, logger, appMetrics)
	if err != nil {
		return fmt.Errorf("failed to create TTS client: %w", err)
	}
	replies, err := reply.NewClient(cfg.Reply, logger, appMetrics)
	if err != nil {
		return fmt.Errorf("failed to create reply client: %w", err)
	}

	transport := capture.NewScribeTransport(cfg.Capture, cfg.VAD, cfg.Audio.SampleRate, logger)
	mic := device.NewMicrophone(logger)
	speaker := device.NewSpeaker(speakerFrames, logger, appMetrics)
	output := playback.OutputFactory(speaker.Open)
	if opts.mute {
		output = playback.NullOutputFactory(speakerFrames)
		logger.Info("Speaker muted, replies play into a silent output")
	}

	newDeps := func() (turn.Dependencies, error) {
		return turn.Dependencies{
			Capture: capture.NewAdapter(cfg.Capture, cfg.VAD, cfg.Audio.SampleRate, transport, mic, logger, appMetrics),
			Replies: replies,
			Speech:  speech,
			Player:  playback.NewPlayer(cfg.Playback, cfg.Audio.SampleRate, output, logger, appMetrics),
		}, nil
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if opts.once {
		return runOnce(sigCtx, cfg, newDeps, opts.typed, logger, appMetrics)
	}

	manager := turn.NewManager(cfg.Session, cfg.Reply.HistoryLimit, newDeps, logger, appMetrics)
	logger.Info("Session manager initialized",
		zap.Duration("idle_timeout", cfg.Session.IdleTimeout),
		zap.Int("max_sessions", cfg.Session.MaxSessions),
	)

	var httpServer *server.HTTPServer
	if cfg.HTTP.Enabled {
		httpServer = server.NewHTTPServer(cfg, manager, speech, logger, appMetrics)
		if err := httpServer.Start(); err != nil {
			manager.Stop()
			return fmt.Errorf("failed to start HTTP server: %w", err)
		}
	}

	logger.Info("Service started successfully, waiting for signals...")
	<-sigCtx.Done()
	logger.Info("Starting graceful shutdown...")

	// Stop HTTP server first (stop accepting new requests)
	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := httpServer.Stop(shutdownCtx); err != nil {
			logger.Error("Error stopping HTTP server", zap.Error(err))
		}
	}

	manager.Stop()

	stats := speech.GetStats()
	logger.Info("Final TTS statistics",
		zap.Uint64("total_requests", stats.TotalRequests),
		zap.Uint64("failed_requests", stats.FailedRequests),
		zap.Uint64("total_retries", stats.TotalRetries),
		zap.Duration("avg_first_byte", stats.AvgFirstByte),
	)
	return nil
}

// runOnce holds a single conversation on the local devices until a signal
// arrives or the session fails
func runOnce(ctx context.Context, cfg *config.Config, newDeps turn.DependencyFactory, typed bool, logger *zap.Logger, m *metrics.Metrics) error {
	deps, err := newDeps()
	if err != nil {
		return err
	}

	session := turn.NewSession("local", deps, turn.Options{
		HistoryLimit: cfg.Reply.HistoryLimit,
		Logger:       logger,
		Metrics:      m,
	})

	events, unsubscribe := session.Subscribe()
	defer unsubscribe()

	if err := session.Start(); err != nil {
		return err
	}
	if typed {
		go readTyped(session, os.Stdin, logger)
	}

	for {
		select {
		case <-ctx.Done():
			session.Stop()
			return nil
		case ev, ok := <-events:
			if !ok {
				return session.Err()
			}
			logEvent(logger, ev)
		}
	}
}

func logEvent(logger *zap.Logger, ev turn.Event) {
	switch ev.Kind {
	case turn.EventCommitted:
		logger.Info("You", zap.String("text", ev.Text))
	case turn.EventReply:
		logger.Info("Assistant", zap.String("text", ev.Text))
	case turn.EventState:
		logger.Debug("State", zap.String("state", ev.State))
	case turn.EventError:
		logger.Warn("Turn error", zap.String("error", ev.Error))
	case turn.EventTurn:
		if t := ev.Timing; t != nil {
			logger.Info("Turn timing",
				zap.String("source", t.Source),
				zap.Int64("stt_ms", t.SpeechMs),
				zap.Int64("llm_ms", t.ReplyMs),
				zap.Int64("tts_ms", t.SynthesisMs),
				zap.Int64("total_ms", t.TotalMs))
		}
	}
}

// readTyped submits each stdin line as a turn until input ends or the
// session closes
func readTyped(session *turn.Session, in io.Reader, logger *zap.Logger) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		err := session.SubmitText(scanner.Text())
		switch {
		case err == nil, errors.Is(err, turn.ErrEmptyText):
		case errors.Is(err, turn.ErrSessionClosed):
			return
		default:
			logger.Warn("Typed turn refused", zap.Error(err))
		}
	}
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *zap.Logger {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	encoding := "json"
	if cfg.Format == "console" {
		encoding = "console"
		encoderConfig = zap.NewDevelopmentEncoderConfig()
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	output := cfg.Output
	if output == "" {
		output = "stdout"
	}

	zapConfig := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      level == zapcore.DebugLevel,
		Encoding:         encoding,
		EncoderConfig:    encoderConfig,
		OutputPaths:      []string{output},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := zapConfig.Build(zap.AddStacktrace(zapcore.ErrorLevel))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build logger for %s: %v, falling back to stdout\n", output, err)
		logger, _ = zap.NewProduction()
	}

	return logger
}
