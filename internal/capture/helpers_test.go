package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rokas2025/playvoice/internal/config"
	"github.com/rokas2025/playvoice/internal/protocol"
)

type sentChunk struct {
	pcm    []byte
	commit bool
}

// fakeConn is an in-memory transcription connection
type fakeConn struct {
	sent   chan sentChunk
	inbox  chan *protocol.Message
	closed chan struct{}
	once   sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		sent:   make(chan sentChunk, 4096),
		inbox:  make(chan *protocol.Message, 16),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) SendAudio(ctx context.Context, pcm []byte, commit bool) error {
	select {
	case <-c.closed:
		return fmt.Errorf("%w: closed", ErrDisconnected)
	default:
	}
	select {
	case c.sent <- sentChunk{pcm: pcm, commit: commit}:
	default:
	}
	return nil
}

func (c *fakeConn) Receive(ctx context.Context) (*protocol.Message, error) {
	select {
	case msg, ok := <-c.inbox:
		if !ok {
			return nil, fmt.Errorf("%w: peer closed", ErrDisconnected)
		}
		return msg, nil
	case <-c.closed:
		return nil, fmt.Errorf("%w: closed", ErrDisconnected)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// fakeTransport hands out fresh fakeConns and records call order
type fakeTransport struct {
	mu      sync.Mutex
	conns   []*fakeConn
	err     error
	journal *journal
}

func (t *fakeTransport) Connect(ctx context.Context) (Conn, error) {
	t.journal.add("connect")
	if t.err != nil {
		return nil, t.err
	}
	c := newFakeConn()
	t.mu.Lock()
	t.conns = append(t.conns, c)
	t.mu.Unlock()
	return c, nil
}

func (t *fakeTransport) last() *fakeConn {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conns[len(t.conns)-1]
}

// fakeMic produces buffers from a generator until closed
type fakeMic struct {
	mu      sync.Mutex
	streams []*fakeStream
	err     error
	next    func(i int) []float32
	journal *journal
}

func (m *fakeMic) Open(sampleRate, framesPerBuffer int) (MicStream, error) {
	m.journal.add("open")
	if m.err != nil {
		return nil, m.err
	}
	next := m.next
	if next == nil {
		next = func(int) []float32 { return make([]float32, framesPerBuffer) }
	}
	s := &fakeStream{next: next, closed: make(chan struct{}), fail: make(chan error, 1)}
	m.mu.Lock()
	m.streams = append(m.streams, s)
	m.mu.Unlock()
	return s, nil
}

func (m *fakeMic) last() *fakeStream {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.streams[len(m.streams)-1]
}

type fakeStream struct {
	next   func(i int) []float32
	reads  int
	closed chan struct{}
	once   sync.Once
	fail   chan error
}

func (s *fakeStream) Read() ([]float32, error) {
	select {
	case <-s.closed:
		return nil, errors.New("stream closed")
	case err := <-s.fail:
		return nil, err
	case <-time.After(time.Millisecond):
	}
	buf := s.next(s.reads)
	s.reads++
	return buf, nil
}

func (s *fakeStream) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

func (s *fakeStream) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) add(s string) {
	if j == nil {
		return
	}
	j.mu.Lock()
	j.entries = append(j.entries, s)
	j.mu.Unlock()
}

func (j *journal) list() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.entries...)
}

func testCaptureConfig() config.CaptureConfig {
	cfg := config.Default().Capture
	cfg.FramesPerBuffer = 256
	cfg.APIKey = "test-key"
	return cfg
}

func nextEvent(t *testing.T, events <-chan TranscriptEvent) (TranscriptEvent, bool) {
	t.Helper()
	select {
	case ev, ok := <-events:
		return ev, ok
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for transcript event")
		return TranscriptEvent{}, false
	}
}
