package turn

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rokas2025/playvoice/internal/capture"
	"github.com/rokas2025/playvoice/internal/metrics"
	"github.com/rokas2025/playvoice/internal/playback"
	"github.com/rokas2025/playvoice/internal/reply"
)

var (
	// ErrSessionClosed is returned when starting or driving a session that was already stopped
	ErrSessionClosed = errors.New("session closed")
	// ErrNotListening is returned when typed input arrives outside the Listening state
	ErrNotListening = errors.New("session is not listening")
	// ErrEmptyText is returned for blank typed input
	ErrEmptyText = errors.New("empty text")
)

const subscriberBuffer = 32

// Capturer produces transcript events while started
type Capturer interface {
	Start(ctx context.Context) (<-chan capture.TranscriptEvent, error)
	Stop()
}

// ReplyGenerator produces the assistant reply for a conversation
type ReplyGenerator interface {
	Generate(ctx context.Context, history []reply.Message) (string, error)
}

// Synthesizer converts reply text into an audio source
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (playback.Source, error)
}

// Player plays an audio source to completion
type Player interface {
	Play(ctx context.Context, src playback.Source) error
}

// Dependencies are the collaborators a session drives
type Dependencies struct {
	Capture Capturer
	Replies ReplyGenerator
	Speech  Synthesizer
	Player  Player
}

// Options tune a session
type Options struct {
	HistoryLimit int
	Logger       *zap.Logger
	Metrics      *metrics.Metrics
	// OnClose runs once after the session has fully torn down
	OnClose func(*Session)
}

// Session is one conversation. A single goroutine owns the turn state and
// is the only caller of the capture, reply, synthesis and playback
// collaborators, so capture and playback never overlap.
type Session struct {
	id           string
	createdAt    time.Time
	deps         Dependencies
	historyLimit int
	logger       *zap.Logger
	metrics      *metrics.Metrics
	onClose      func(*Session)

	ctx        context.Context
	cancel     context.CancelFunc
	started    atomic.Bool
	done       chan struct{}
	finishOnce sync.Once
	texts      chan string

	mu           sync.RWMutex
	state        State
	partial      string
	history      []reply.Message
	timings      []TurnTiming
	speechStart  time.Time // first partial of the current utterance
	lastActivity time.Time
	err          error

	subMu      sync.Mutex
	subs       map[uint64]chan Event
	nextSub    uint64
	subsClosed bool
}

// NewSession creates a session in the Ready state
func NewSession(id string, deps Dependencies, opts Options) *Session {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	now := time.Now()

	return &Session{
		id:           id,
		createdAt:    now,
		deps:         deps,
		historyLimit: opts.HistoryLimit,
		logger:       logger.With(zap.String("component", "session"), zap.String("session_id", id)),
		metrics:      opts.Metrics,
		onClose:      opts.OnClose,
		ctx:          ctx,
		cancel:       cancel,
		done:         make(chan struct{}),
		texts:        make(chan string),
		state:        StateReady,
		lastActivity: now,
		subs:         make(map[uint64]chan Event),
	}
}

// Start opens capture and begins listening. An error means the session
// has already terminated.
func (s *Session) Start() error {
	if !s.started.CompareAndSwap(false, true) {
		return fmt.Errorf("session %s already started", s.id)
	}
	if s.ctx.Err() != nil {
		s.finish(nil)
		return ErrSessionClosed
	}

	// Listening is entered before the microphone opens so capture is never
	// active in any other state
	if err := s.transition(TriggerBegin); err != nil {
		s.finish(err)
		return err
	}
	events, err := s.deps.Capture.Start(s.ctx)
	if err != nil {
		err = fmt.Errorf("failed to start capture: %w", err)
		s.finish(err)
		return err
	}

	go s.loop(events)
	return nil
}

// SubmitText runs a turn from typed input through the same Thinking and
// Speaking cycle as a committed transcript. It is refused unless the
// session is listening.
func (s *Session) SubmitText(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyText
	}
	if s.ctx.Err() != nil {
		return ErrSessionClosed
	}
	if s.State() != StateListening {
		return ErrNotListening
	}

	select {
	case s.texts <- text:
		return nil
	case <-s.ctx.Done():
		return ErrSessionClosed
	}
}

// Stop aborts any reply, synthesis or playback in flight, releases the
// output device and stops capture, then returns once the session has torn
// down. It is idempotent.
func (s *Session) Stop() {
	s.cancel()
	if !s.started.Load() {
		s.finish(nil)
	}
	<-s.done
}

// Done is closed once the session has terminated
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err returns the error that terminated the session, if any
func (s *Session) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

// ID returns the session identifier
func (s *Session) ID() string {
	return s.id
}

// State returns the current turn state
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// LastActivity returns when the session last saw a transcript or transition
func (s *Session) LastActivity() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActivity
}

// History returns a copy of the conversation so far
func (s *Session) History() []reply.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]reply.Message(nil), s.history...)
}

// Timings returns the recorded turn timings, oldest first
func (s *Session) Timings() []TurnTiming {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]TurnTiming(nil), s.timings...)
}

// Info returns a snapshot for monitoring
func (s *Session) Info() Info {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info := Info{
		ID:           s.id,
		State:        s.state.String(),
		Partial:      s.partial,
		Turns:        len(s.history),
		CreatedAt:    s.createdAt,
		LastActivity: s.lastActivity,
	}
	if n := len(s.timings); n > 0 {
		last := s.timings[n-1]
		info.LastTurn = &last
	}
	if s.err != nil {
		info.Error = s.err.Error()
	}
	return info
}

// Subscribe returns a channel of session events and a function that
// cancels the subscription. Slow subscribers miss events rather than
// stall the session. The channel is closed when the session ends.
func (s *Session) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	s.subMu.Lock()
	defer s.subMu.Unlock()

	if s.subsClosed {
		close(ch)
		return ch, func() {}
	}

	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch

	return ch, func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		if c, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(c)
		}
	}
}

func (s *Session) loop(events <-chan capture.TranscriptEvent) {
	var err error
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("session panic: %v", r)
			s.logger.Error("Session loop panicked", zap.Any("panic", r))
		}
		s.deps.Capture.Stop()
		s.finish(err)
	}()

	for {
		select {
		case <-s.ctx.Done():
			return

		case text := <-s.texts:
			s.touch()
			if events, err = s.takeTurn(text, SourceText); err != nil {
				return
			}

		case ev, ok := <-events:
			if !ok {
				ev = capture.TranscriptEvent{Kind: capture.EventFailure, Err: capture.ErrDisconnected}
			}
			s.touch()

			switch ev.Kind {
			case capture.EventPartial:
				s.setPartial(ev.Text)
				s.publish(Event{Kind: EventPartial, Text: ev.Text})

			case capture.EventError:
				s.publish(Event{Kind: EventError, Error: ev.Err.Error()})

			case capture.EventCommitted:
				text := strings.TrimSpace(ev.Text)
				if text == "" {
					continue
				}
				if events, err = s.takeTurn(text, SourceVoice); err != nil {
					return
				}

			case capture.EventFailure:
				s.logger.Warn("Capture failed, restarting", zap.Error(ev.Err))
				s.publish(Event{Kind: EventError, Error: ev.Err.Error()})
				s.deps.Capture.Stop()
				s.clearUtterance()
				if events, err = s.restartCapture(TriggerFailure); err != nil {
					return
				}
			}
		}
	}
}

// takeTurn runs one Thinking/Speaking cycle for a committed transcript and
// returns the events of the restarted capture
func (s *Session) takeTurn(text, source string) (<-chan capture.TranscriptEvent, error) {
	committed := time.Now()
	timing := TurnTiming{Utterance: uuid.NewString(), Source: source, Input: text, At: committed}

	s.mu.Lock()
	begin := committed
	if source == SourceVoice && !s.speechStart.IsZero() {
		begin = s.speechStart
		timing.SpeechMs = millis(committed.Sub(begin))
	}
	s.partial = ""
	s.speechStart = time.Time{}
	s.mu.Unlock()

	s.publish(Event{Kind: EventCommitted, Text: text, Utterance: timing.Utterance})

	s.deps.Capture.Stop()
	if err := s.transition(TriggerCommitted); err != nil {
		return nil, err
	}

	outcome := s.respond(text, &timing)
	if s.ctx.Err() != nil {
		return nil, nil
	}
	timing.TotalMs = millis(time.Since(begin))
	s.recordTiming(timing)

	return s.restartCapture(outcome)
}

// respond generates, synthesizes and plays the reply. It returns the
// trigger that ends the Thinking/Speaking cycle.
func (s *Session) respond(text string, timing *TurnTiming) Trigger {
	logger := s.logger.With(zap.String("utterance_id", timing.Utterance), zap.String("source", timing.Source))
	fail := func(msg string, err error) Trigger {
		timing.Error = fmt.Sprintf("%s: %v", msg, err)
		return s.turnFailed(logger, timing.Error, err)
	}

	s.appendHistory(reply.Message{Role: reply.RoleUser, Content: text})

	start := time.Now()
	answer, err := s.deps.Replies.Generate(s.ctx, s.History())
	if err != nil {
		s.dropUnanswered(text)
		return fail("reply generation failed", err)
	}
	timing.ReplyMs = millis(time.Since(start))
	timing.Output = answer
	s.metrics.RecordReply(time.Since(start))

	s.appendHistory(reply.Message{Role: reply.RoleAssistant, Content: answer})
	s.publish(Event{Kind: EventReply, Text: answer, Utterance: timing.Utterance})

	if err := s.transition(TriggerReplyReady); err != nil {
		return fail("unexpected state", err)
	}

	synthStart := time.Now()
	src, err := s.deps.Speech.Synthesize(s.ctx, answer)
	timing.SynthesisMs = millis(time.Since(synthStart))
	if err != nil {
		return fail("speech synthesis failed", err)
	}

	playStart := time.Now()
	err = s.deps.Player.Play(s.ctx, src)
	timing.PlaybackMs = millis(time.Since(playStart))
	if err != nil {
		return fail("playback failed", err)
	}

	logger.Debug("Reply played", zap.Duration("turn_duration", time.Since(start)))
	return TriggerPlaybackDone
}

func (s *Session) turnFailed(logger *zap.Logger, msg string, err error) Trigger {
	if s.ctx.Err() == nil {
		logger.Error("Turn failed", zap.String("stage", msg), zap.Error(err))
		s.publish(Event{Kind: EventError, Error: msg})
	}
	return TriggerFailure
}

// recordTiming keeps the most recent turn timings and publishes the latest
func (s *Session) recordTiming(t TurnTiming) {
	s.mu.Lock()
	s.timings = append(s.timings, t)
	if len(s.timings) > timingLimit {
		s.timings = append([]TurnTiming(nil), s.timings[len(s.timings)-timingLimit:]...)
	}
	s.mu.Unlock()

	s.logger.Info("Turn completed",
		zap.String("utterance_id", t.Utterance),
		zap.String("source", t.Source),
		zap.Int64("stt_ms", t.SpeechMs),
		zap.Int64("llm_ms", t.ReplyMs),
		zap.Int64("tts_ms", t.SynthesisMs),
		zap.Int64("playback_ms", t.PlaybackMs),
		zap.Int64("total_ms", t.TotalMs),
		zap.Bool("failed", t.Error != ""))
	s.publish(Event{Kind: EventTurn, Utterance: t.Utterance, Error: t.Error, Timing: &t})
}

// restartCapture applies trigger, which returns the session to Listening,
// and then starts capture again. A failed restart is fatal to the session.
func (s *Session) restartCapture(trigger Trigger) (<-chan capture.TranscriptEvent, error) {
	if err := s.transition(trigger); err != nil {
		return nil, err
	}

	events, err := s.deps.Capture.Start(s.ctx)
	if err != nil {
		if s.ctx.Err() != nil {
			return nil, nil
		}
		s.metrics.RecordCaptureRestart(false)
		s.logger.Error("Capture restart failed", zap.Error(err))
		return nil, fmt.Errorf("capture restart failed: %w", err)
	}
	s.metrics.RecordCaptureRestart(true)
	return events, nil
}

func (s *Session) transition(t Trigger) error {
	s.mu.Lock()
	from := s.state
	to, err := Next(from, t)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.state = to
	s.lastActivity = time.Now()
	s.mu.Unlock()

	s.metrics.RecordTransition(from.String(), to.String())
	s.logger.Info("Turn state changed",
		zap.String("from", from.String()),
		zap.String("to", to.String()),
		zap.String("trigger", t.String()))
	s.publish(Event{Kind: EventState, State: to.String()})
	return nil
}

// finish moves the session to Ready, records the terminal error and
// notifies subscribers and the owner. Capture must already be stopped.
func (s *Session) finish(err error) {
	s.finishOnce.Do(func() {
		s.cancel()

		if s.State() != StateReady {
			s.transition(TriggerEnd)
		}

		s.mu.Lock()
		s.err = err
		s.mu.Unlock()

		if err != nil {
			s.logger.Error("Session terminated", zap.Error(err))
			s.publish(Event{Kind: EventError, Error: err.Error()})
		} else {
			s.logger.Info("Session stopped")
		}

		s.subMu.Lock()
		s.subsClosed = true
		for id, ch := range s.subs {
			close(ch)
			delete(s.subs, id)
		}
		s.subMu.Unlock()

		close(s.done)
		if s.onClose != nil {
			s.onClose(s)
		}
	})
}

func (s *Session) publish(ev Event) {
	ev.At = time.Now()

	s.subMu.Lock()
	defer s.subMu.Unlock()

	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default:
			s.logger.Debug("Dropping event for slow subscriber", zap.String("kind", string(ev.Kind)))
		}
	}
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

func (s *Session) setPartial(text string) {
	s.mu.Lock()
	s.partial = text
	if text != "" && s.speechStart.IsZero() {
		s.speechStart = time.Now()
	}
	s.mu.Unlock()
}

// clearUtterance forgets a partial utterance that will never be committed
func (s *Session) clearUtterance() {
	s.mu.Lock()
	s.partial = ""
	s.speechStart = time.Time{}
	s.mu.Unlock()
}

// dropUnanswered removes the trailing user turn left without a reply so
// history keeps alternating between user and assistant
func (s *Session) dropUnanswered(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n := len(s.history); n > 0 && s.history[n-1].Role == reply.RoleUser && s.history[n-1].Content == text {
		s.history = s.history[:n-1]
	}
}

func (s *Session) appendHistory(msg reply.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.history = append(s.history, msg)
	if s.historyLimit > 0 && len(s.history) > s.historyLimit {
		s.history = append([]reply.Message(nil), s.history[len(s.history)-s.historyLimit:]...)
	}
}
