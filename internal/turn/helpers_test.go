package turn

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rokas2025/playvoice/internal/capture"
	"github.com/rokas2025/playvoice/internal/playback"
	"github.com/rokas2025/playvoice/internal/reply"
)

var errBoom = errors.New("boom")

// fataler is satisfied by *testing.T and *rapid.T
type fataler interface {
	Helper()
	Fatal(args ...any)
	Fatalf(format string, args ...any)
}

// tracker records whether capture and playback are active and counts any
// moment where both are
type tracker struct {
	mu         sync.Mutex
	capturing  bool
	playing    bool
	violations int
}

func (t *tracker) setCapturing(v bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.capturing = v
	if v && t.playing {
		t.violations++
	}
}

func (t *tracker) setPlaying(v bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.playing = v
	if v && t.capturing {
		t.violations++
	}
}

func (t *tracker) snapshot() (capturing, playing bool, violations int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.capturing, t.playing, t.violations
}

type fakeCapture struct {
	tr *tracker

	mu        sync.Mutex
	events    chan capture.TranscriptEvent
	startErrs []error
	starts    int
	stops     int

	// stateOf reports the session state at every Start call, failed ones included
	stateOf     func() State
	startStates []State
}

func (c *fakeCapture) Start(ctx context.Context) (<-chan capture.TranscriptEvent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stateOf != nil {
		c.startStates = append(c.startStates, c.stateOf())
	}
	if len(c.startErrs) > 0 {
		err := c.startErrs[0]
		c.startErrs = c.startErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	c.starts++
	c.events = make(chan capture.TranscriptEvent, 16)
	c.tr.setCapturing(true)
	return c.events, nil
}

func (c *fakeCapture) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.events == nil {
		return
	}
	c.stops++
	c.events = nil
	c.tr.setCapturing(false)
}

func (c *fakeCapture) failNextStarts(errs ...error) {
	c.mu.Lock()
	c.startErrs = append(c.startErrs, errs...)
	c.mu.Unlock()
}

func (c *fakeCapture) counts() (starts, stops int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.starts, c.stops
}

func (c *fakeCapture) statesAtStart() []State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]State(nil), c.startStates...)
}

func (c *fakeCapture) emit(t fataler, ev capture.TranscriptEvent) {
	t.Helper()
	c.mu.Lock()
	ch := c.events
	c.mu.Unlock()
	if ch == nil {
		t.Fatal("capture is not active")
	}
	ch <- ev
}

type fakeReplies struct {
	mu        sync.Mutex
	answer    string
	err       error
	block     bool
	histories [][]reply.Message
}

func (r *fakeReplies) Generate(ctx context.Context, history []reply.Message) (string, error) {
	r.mu.Lock()
	r.histories = append(r.histories, history)
	answer, err, block := r.answer, r.err, r.block
	r.mu.Unlock()

	if block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return answer, err
}

func (r *fakeReplies) seen() [][]reply.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]reply.Message(nil), r.histories...)
}

func (r *fakeReplies) set(answer string, err error) {
	r.mu.Lock()
	r.answer, r.err = answer, err
	r.mu.Unlock()
}

type fakeSpeech struct {
	mu  sync.Mutex
	err error
}

func (s *fakeSpeech) Synthesize(ctx context.Context, text string) (playback.Source, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return playback.Source{}, s.err
	}
	return playback.Source{Body: io.NopCloser(strings.NewReader(text)), Streaming: true}, nil
}

func (s *fakeSpeech) set(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

type fakePlayer struct {
	tr *tracker

	mu      sync.Mutex
	err     error
	block   bool
	plays   int
	started chan struct{}
}

func (p *fakePlayer) Play(ctx context.Context, src playback.Source) error {
	defer src.Body.Close()

	p.mu.Lock()
	p.plays++
	err, block, started := p.err, p.block, p.started
	p.mu.Unlock()

	p.tr.setPlaying(true)
	defer p.tr.setPlaying(false)

	if started != nil {
		close(started)
	}
	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	return err
}

func (p *fakePlayer) playCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.plays
}

func (p *fakePlayer) set(err error) {
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
}

type harness struct {
	tr      *tracker
	capture *fakeCapture
	replies *fakeReplies
	speech  *fakeSpeech
	player  *fakePlayer
}

func newHarness() *harness {
	tr := &tracker{}
	return &harness{
		tr:      tr,
		capture: &fakeCapture{tr: tr},
		replies: &fakeReplies{answer: "Labas!"},
		speech:  &fakeSpeech{},
		player:  &fakePlayer{tr: tr},
	}
}

func (h *harness) deps() Dependencies {
	return Dependencies{
		Capture: h.capture,
		Replies: h.replies,
		Speech:  h.speech,
		Player:  h.player,
	}
}

func (h *harness) newSession(t *testing.T, opts Options) *Session {
	t.Helper()
	s := NewSession("test", h.deps(), opts)
	h.capture.stateOf = s.State
	t.Cleanup(s.Stop)
	return s
}

// waitStarts blocks until capture has been started n times and the
// session is listening again
func waitStarts(t fataler, h *harness, s *Session, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		starts, _ := h.capture.counts()
		if starts >= n && s.State() == StateListening {
			return
		}
		time.Sleep(time.Millisecond)
	}
	starts, _ := h.capture.counts()
	t.Fatalf("timed out: %d capture starts, state %s", starts, s.State())
}

func waitDone(t *testing.T, s *Session) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not terminate")
	}
}

// collectStates drains state events until the channel closes
func collectStates(events <-chan Event) []string {
	var states []string
	for ev := range events {
		if ev.Kind == EventState {
			states = append(states, ev.State)
		}
	}
	return states
}
