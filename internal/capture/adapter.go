package capture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rokas2025/playvoice/internal/audio"
	"github.com/rokas2025/playvoice/internal/config"
	"github.com/rokas2025/playvoice/internal/metrics"
	"github.com/rokas2025/playvoice/internal/protocol"
	"github.com/rokas2025/playvoice/internal/vad"
)

// ErrAlreadyCapturing is returned by Start while a capture is active
var ErrAlreadyCapturing = errors.New("capture already active")

const eventBuffer = 16

// Adapter couples a microphone with a transcription transport
type Adapter struct {
	transport       Transport
	mic             Microphone
	sampleRate      int
	framesPerBuffer int
	manualCommit    bool
	dumpDir         string
	vadCfg          config.VADConfig
	logger          *zap.Logger
	metrics         *metrics.Metrics

	mu     sync.Mutex
	active *captureRun
}

// captureRun holds the resources of one Start/Stop cycle
type captureRun struct {
	cancel  context.CancelFunc
	done    chan struct{}
	stopped atomic.Bool

	mu     sync.Mutex
	stream MicStream
	conn   Conn

	// dump collects the PCM sent upstream; only the capture loop appends
	dump []byte
}

func (r *captureRun) closeMic(logger *zap.Logger) {
	r.mu.Lock()
	stream := r.stream
	r.stream = nil
	r.mu.Unlock()
	if stream == nil {
		return
	}
	if err := stream.Close(); err != nil {
		logger.Warn("Failed to close microphone", zap.Error(err))
	}
}

func (r *captureRun) closeConn() {
	r.mu.Lock()
	conn := r.conn
	r.conn = nil
	r.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

// NewAdapter creates a capture adapter. With the manual commit strategy a
// local VAD decides utterance boundaries and sends commits; otherwise the
// backend segments the stream.
func NewAdapter(cfg config.CaptureConfig, vadCfg config.VADConfig, sampleRate int,
	transport Transport, mic Microphone, logger *zap.Logger, m *metrics.Metrics) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{
		transport:       transport,
		mic:             mic,
		sampleRate:      sampleRate,
		framesPerBuffer: cfg.FramesPerBuffer,
		manualCommit:    cfg.CommitStrategy == "manual",
		dumpDir:         cfg.DumpDir,
		vadCfg:          vadCfg,
		logger:          logger.With(zap.String("component", "capture")),
		metrics:         m,
	}
}

// Start connects the transport, then opens the microphone and begins
// streaming. The returned channel is closed once capture has ended.
func (a *Adapter) Start(ctx context.Context) (<-chan TranscriptEvent, error) {
	runCtx, cancel := context.WithCancel(ctx)
	run := &captureRun{cancel: cancel, done: make(chan struct{})}

	a.mu.Lock()
	if a.active != nil {
		a.mu.Unlock()
		cancel()
		return nil, ErrAlreadyCapturing
	}
	a.active = run
	a.mu.Unlock()

	fail := func(err error) (<-chan TranscriptEvent, error) {
		cancel()
		run.closeMic(a.logger)
		run.closeConn()
		a.finish(run)
		if run.stopped.Load() && ctx.Err() == nil {
			return nil, context.Canceled
		}
		return nil, err
	}

	conn, err := a.transport.Connect(runCtx)
	if err != nil {
		return fail(err)
	}
	run.mu.Lock()
	run.conn = conn
	run.mu.Unlock()

	stream, err := a.mic.Open(a.sampleRate, a.framesPerBuffer)
	if err != nil {
		if !errors.Is(err, ErrDeviceUnavailable) {
			err = fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
		}
		return fail(err)
	}
	run.mu.Lock()
	run.stream = stream
	run.mu.Unlock()

	var detector *vad.Detector
	if a.manualCommit {
		detector, err = vad.NewDetector(a.vadCfg, a.sampleRate, a.metrics)
		if err != nil {
			return fail(err)
		}
	}

	// Stop may have been called while connecting
	if runCtx.Err() != nil {
		return fail(runCtx.Err())
	}

	events := make(chan TranscriptEvent, eventBuffer)
	g, gctx := errgroup.WithContext(runCtx)

	// A blocked mic read only returns once the stream is closed
	stopAfter := context.AfterFunc(gctx, func() { run.closeMic(a.logger) })

	g.Go(func() error { return a.captureLoop(gctx, run, stream, conn, detector, events) })
	g.Go(func() error { return a.receiveLoop(gctx, run, conn, events) })

	go func() {
		err := g.Wait()
		stopAfter()
		cancel()
		run.closeMic(a.logger)
		run.closeConn()
		if detector != nil {
			stats := detector.Stats()
			a.logger.Debug("Local VAD summary",
				zap.Uint64("windows", stats.Windows.TotalWindows),
				zap.Float64("voice_percentage", stats.Windows.VoicePercentage),
				zap.Uint64("utterances", stats.Segments.Utterances),
				zap.Uint64("discarded", stats.Segments.Discarded))
		}
		a.writeDump(run)
		close(events)
		if err != nil && !run.stopped.Load() {
			a.logger.Error("Capture ended", zap.Error(err))
		}
		a.finish(run)
	}()

	a.logger.Info("Capture started",
		zap.Int("sample_rate", a.sampleRate),
		zap.Int("frames_per_buffer", a.framesPerBuffer),
		zap.Bool("manual_commit", a.manualCommit))

	return events, nil
}

func (a *Adapter) finish(run *captureRun) {
	a.mu.Lock()
	if a.active == run {
		a.active = nil
	}
	a.mu.Unlock()
	close(run.done)
}

// Stop releases the microphone and closes the connection, then waits for
// both loops to exit. It is safe to call when capture is not active.
func (a *Adapter) Stop() {
	a.mu.Lock()
	run := a.active
	a.mu.Unlock()
	if run == nil {
		return
	}

	run.stopped.Store(true)
	run.cancel()
	run.closeMic(a.logger)
	run.closeConn()
	<-run.done

	a.logger.Info("Capture stopped")
}

// running reports whether a capture is running or starting
func (a *Adapter) running() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.active != nil
}

// ended reports whether a loop error is part of a requested shutdown
func ended(ctx context.Context, run *captureRun) bool {
	return ctx.Err() != nil || run.stopped.Load()
}

func (a *Adapter) captureLoop(ctx context.Context, run *captureRun, stream MicStream, conn Conn, detector *vad.Detector, events chan<- TranscriptEvent) error {
	for {
		samples, err := stream.Read()
		if err != nil {
			if ended(ctx, run) {
				return nil
			}
			err = fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
			a.emit(ctx, events, TranscriptEvent{Kind: EventFailure, Err: err})
			return err
		}
		if len(samples) == 0 {
			continue
		}

		pcm16 := audio.FloatToInt16(samples)
		commit := false
		if detector != nil {
			evs, err := detector.Push(pcm16)
			if err != nil {
				a.logger.Warn("VAD failed", zap.Error(err))
			}
			for _, ev := range evs {
				if ev == vad.EventEndOfUtterance {
					commit = true
				}
			}
		}

		pcm := audio.Int16ToPCM16(pcm16)
		if a.dumpDir != "" {
			run.dump = append(run.dump, pcm...)
		}
		if err := conn.SendAudio(ctx, pcm, commit); err != nil {
			if ended(ctx, run) {
				return nil
			}
			a.emit(ctx, events, TranscriptEvent{Kind: EventFailure, Err: err})
			return err
		}
		if commit {
			a.logger.Debug("Sent utterance commit")
		}
	}
}

// writeDump saves the audio of a finished run as a WAV file in the dump directory
func (a *Adapter) writeDump(run *captureRun) {
	if a.dumpDir == "" || len(run.dump) == 0 {
		return
	}

	wav, err := audio.EncodeWAV(run.dump, a.sampleRate)
	if err != nil {
		a.logger.Warn("Failed to encode capture dump", zap.Error(err))
		return
	}
	if err := os.MkdirAll(a.dumpDir, 0o755); err != nil {
		a.logger.Warn("Failed to create capture dump directory", zap.Error(err))
		return
	}

	name := fmt.Sprintf("capture-%s-%s.wav", time.Now().UTC().Format("20060102T150405"), uuid.NewString()[:8])
	path := filepath.Join(a.dumpDir, name)
	if err := os.WriteFile(path, wav, 0o644); err != nil {
		a.logger.Warn("Failed to write capture dump", zap.Error(err))
		return
	}
	a.logger.Info("Capture dump written",
		zap.String("path", path),
		zap.Duration("duration", audio.SamplesDuration(len(run.dump)/audio.FrameSize, a.sampleRate)))
}

func (a *Adapter) receiveLoop(ctx context.Context, run *captureRun, conn Conn, events chan<- TranscriptEvent) error {
	for {
		msg, err := conn.Receive(ctx)
		if err != nil {
			if ended(ctx, run) {
				return nil
			}
			a.metrics.RecordUpstreamFailure("stt")
			a.emit(ctx, events, TranscriptEvent{Kind: EventFailure, Err: err})
			return err
		}

		switch msg.Kind() {
		case protocol.KindSessionStarted:
			a.logger.Info("Transcription session started", zap.String("session_id", msg.SessionID))
		case protocol.KindPartial:
			if msg.Text != "" {
				a.emit(ctx, events, TranscriptEvent{Kind: EventPartial, Text: msg.Text})
			}
		case protocol.KindCommitted:
			if msg.Text == "" {
				continue
			}
			a.metrics.RecordCommitted()
			a.logger.Debug("Committed transcript", zap.Int("chars", len(msg.Text)))
			a.emit(ctx, events, TranscriptEvent{Kind: EventCommitted, Text: msg.Text})
		case protocol.KindError:
			a.logger.Warn("Transcription backend error", zap.String("message", msg.String()))
			backendErr := fmt.Errorf("transcription backend: %s", msg.String())
			if msg.Fatal() {
				a.metrics.RecordUpstreamFailure("stt")
				err := fmt.Errorf("%w: %w", ErrDisconnected, backendErr)
				a.emit(ctx, events, TranscriptEvent{Kind: EventFailure, Err: err})
				return err
			}
			a.emit(ctx, events, TranscriptEvent{Kind: EventError, Err: backendErr})
		default:
			a.logger.Debug("Ignoring transcription message", zap.String("type", msg.Type))
		}
	}
}

func (a *Adapter) emit(ctx context.Context, events chan<- TranscriptEvent, ev TranscriptEvent) {
	select {
	case events <- ev:
	case <-ctx.Done():
	}
}
