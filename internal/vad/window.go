package vad

// Windower accumulates captured samples and yields fixed-size windows.
// Samples that do not fill a window are held for the next push.
type Windower struct {
	size    int
	pending []int16
}

// NewWindower creates a windower for windows of size samples
func NewWindower(size int) *Windower {
	return &Windower{size: size, pending: make([]int16, 0, size)}
}

// Push appends samples and returns every complete window. Returned windows
// do not alias the input.
func (w *Windower) Push(samples []int16) [][]int16 {
	var windows [][]int16
	for len(samples) > 0 {
		n := min(w.size-len(w.pending), len(samples))
		w.pending = append(w.pending, samples[:n]...)
		samples = samples[n:]
		if len(w.pending) == w.size {
			windows = append(windows, w.pending)
			w.pending = make([]int16, 0, w.size)
		}
	}
	return windows
}

// Buffered returns the number of samples waiting for a full window
func (w *Windower) Buffered() int {
	return len(w.pending)
}

// Reset drops any partial window
func (w *Windower) Reset() {
	w.pending = w.pending[:0]
}
