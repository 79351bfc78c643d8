package playback

import (
	"errors"
	"io"
	"math"
	"sync"
	"time"

	"github.com/rokas2025/playvoice/internal/config"
)

// fakeOutput records schedules on a manually driven clock. Completion
// callbacks fire immediately unless hold is set.
type fakeOutput struct {
	mu        sync.Mutex
	now       time.Duration
	starts    []time.Duration
	blocks    [][]float32
	pending   []func()
	hold      bool
	failAfter int // Schedule fails once this many blocks were accepted; 0 disables
	closed    bool
	closes    int
}

func (f *fakeOutput) Now() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeOutput) advance(d time.Duration) {
	f.mu.Lock()
	f.now += d
	f.mu.Unlock()
}

func (f *fakeOutput) Schedule(samples []float32, at time.Duration, done func()) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return ErrOutputClosed
	}
	if f.failAfter > 0 && len(f.blocks) >= f.failAfter {
		f.mu.Unlock()
		return errors.New("device lost")
	}
	f.starts = append(f.starts, at)
	f.blocks = append(f.blocks, append([]float32(nil), samples...))
	if f.hold {
		f.pending = append(f.pending, done)
		f.mu.Unlock()
		return nil
	}
	f.mu.Unlock()
	done()
	return nil
}

func (f *fakeOutput) release() {
	f.mu.Lock()
	pending := f.pending
	f.pending = nil
	f.mu.Unlock()
	for _, fn := range pending {
		fn()
	}
}

func (f *fakeOutput) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.closes++
	return nil
}

func (f *fakeOutput) totalSamples() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, b := range f.blocks {
		n += len(b)
	}
	return n
}

// chunkReader returns one chunk per Read and then err (io.EOF by default)
type chunkReader struct {
	mu     sync.Mutex
	chunks [][]byte
	err    error
	closed bool
}

func splitChunks(data []byte, size int) [][]byte {
	var out [][]byte
	for off := 0; off < len(data); off += size {
		out = append(out, data[off:min(off+size, len(data))])
	}
	return out
}

func (r *chunkReader) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return 0, errors.New("read on closed body")
	}
	if len(r.chunks) == 0 {
		if r.err != nil {
			return 0, r.err
		}
		return 0, io.EOF
	}
	n := copy(p, r.chunks[0])
	if n < len(r.chunks[0]) {
		r.chunks[0] = r.chunks[0][n:]
	} else {
		r.chunks = r.chunks[1:]
	}
	return n, nil
}

func (r *chunkReader) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return nil
}

// blockingReader blocks in Read until closed
type blockingReader struct {
	once   sync.Once
	closed chan struct{}
}

func newBlockingReader() *blockingReader {
	return &blockingReader{closed: make(chan struct{})}
}

func (r *blockingReader) Read(p []byte) (int, error) {
	<-r.closed
	return 0, errors.New("body closed")
}

func (r *blockingReader) Close() error {
	r.once.Do(func() { close(r.closed) })
	return nil
}

func testPlaybackConfig() config.PlaybackConfig {
	return config.Default().Playback
}

// quietTone returns low-amplitude samples without any large jumps
func quietTone(n, sampleRate int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(0.05 * math.Sin(2*math.Pi*220*float64(i)/float64(sampleRate)))
	}
	return out
}
