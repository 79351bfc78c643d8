package playback

import (
	"errors"
	"time"
)

var (
	// ErrDeviceUnavailable is returned when the output device cannot be opened
	ErrDeviceUnavailable = errors.New("audio output unavailable")
	// ErrTransport is returned when the upstream byte stream fails mid-utterance
	ErrTransport = errors.New("audio stream transport failed")
	// ErrOutputClosed is returned when scheduling on a released output
	ErrOutputClosed = errors.New("audio output closed")
	// ErrFormat is returned for a buffer that cannot be played at the session rate
	ErrFormat = errors.New("unsupported audio format")
)

// Output is an audio device timeline. Now reports the device clock; Schedule
// queues samples to start at a device time and calls done once they have been
// rendered. Close releases the device; pending blocks are discarded.
type Output interface {
	Now() time.Duration
	Schedule(samples []float32, at time.Duration, done func()) error
	Close() error
}

// OutputFactory opens an output for one utterance at the given sample rate
type OutputFactory func(sampleRate int) (Output, error)
