package capture

import "errors"

// ErrDeviceUnavailable is returned when the microphone cannot be opened or read
var ErrDeviceUnavailable = errors.New("microphone unavailable")

// Microphone opens mono capture streams
type Microphone interface {
	Open(sampleRate, framesPerBuffer int) (MicStream, error)
}

// MicStream is an open capture stream. Read blocks until a buffer of
// normalized samples is available; Close must unblock a pending Read and
// release the device.
type MicStream interface {
	Read() ([]float32, error)
	Close() error
}
