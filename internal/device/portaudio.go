package device

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gordonklaus/portaudio"
	"go.uber.org/zap"

	"github.com/rokas2025/playvoice/internal/capture"
	"github.com/rokas2025/playvoice/internal/metrics"
	"github.com/rokas2025/playvoice/internal/playback"
)

// Initialize starts the PortAudio host
func Initialize() error {
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("portaudio initialize: %w", err)
	}
	return nil
}

// Terminate releases the PortAudio host
func Terminate() error {
	return portaudio.Terminate()
}

// Microphone opens the default input device
type Microphone struct {
	logger *zap.Logger
}

// NewMicrophone creates a default input device opener
func NewMicrophone(logger *zap.Logger) *Microphone {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Microphone{logger: logger.With(zap.String("component", "microphone"))}
}

// Open starts a mono float32 input stream
func (m *Microphone) Open(sampleRate, framesPerBuffer int) (capture.MicStream, error) {
	buf := make([]float32, framesPerBuffer)
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(sampleRate), len(buf), buf)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", capture.ErrDeviceUnavailable, err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("%w: %v", capture.ErrDeviceUnavailable, err)
	}

	m.logger.Debug("Input stream opened",
		zap.Int("sample_rate", sampleRate),
		zap.Int("frames_per_buffer", framesPerBuffer))

	return &micStream{stream: stream, buf: buf, logger: m.logger}, nil
}

type micStream struct {
	stream *portaudio.Stream
	buf    []float32
	logger *zap.Logger

	readMu sync.Mutex
	closed atomic.Bool
	once   sync.Once
}

func (s *micStream) Read() ([]float32, error) {
	s.readMu.Lock()
	defer s.readMu.Unlock()

	if s.closed.Load() {
		return nil, capture.ErrDeviceUnavailable
	}
	if err := s.stream.Read(); err != nil {
		// An overflow drops samples but leaves the stream usable
		if errors.Is(err, portaudio.InputOverflowed) {
			s.logger.Debug("Input overflowed")
		} else {
			if s.closed.Load() {
				return nil, capture.ErrDeviceUnavailable
			}
			return nil, fmt.Errorf("%w: %v", capture.ErrDeviceUnavailable, err)
		}
	}

	out := make([]float32, len(s.buf))
	copy(out, s.buf)
	return out, nil
}

func (s *micStream) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		// Abort unblocks a pending Read
		s.stream.Abort()
		s.readMu.Lock()
		defer s.readMu.Unlock()
		err = s.stream.Close()
	})
	return err
}

// Speaker opens the default output device behind a Mixer
type Speaker struct {
	frames  int
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewSpeaker creates a default output device opener writing frames samples per buffer
func NewSpeaker(frames int, logger *zap.Logger, m *metrics.Metrics) *Speaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Speaker{
		frames:  frames,
		logger:  logger.With(zap.String("component", "speaker")),
		metrics: m,
	}
}

// Open starts a mono float32 output stream fed by a fresh Mixer
func (s *Speaker) Open(sampleRate int) (playback.Output, error) {
	out := make([]float32, s.frames)
	stream, err := portaudio.OpenDefaultStream(0, 1, float64(sampleRate), len(out), out)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", playback.ErrDeviceUnavailable, err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("%w: %v", playback.ErrDeviceUnavailable, err)
	}

	mixer := playback.NewMixer(sampleRate)
	ctx, cancel := context.WithCancel(context.Background())
	pumped := make(chan struct{})

	go func() {
		defer close(pumped)
		mixer.Pump(ctx, len(out), s.sink(stream, out, sampleRate))
	}()

	mixer.OnClose(func() error {
		cancel()
		<-pumped
		stopErr := stream.Stop()
		if err := stream.Close(); err != nil {
			return err
		}
		return stopErr
	})

	return mixer, nil
}

// sink writes rendered buffers to the device. After a hard write failure
// it keeps the mixer clock running at real-time pace so scheduled blocks
// still complete.
func (s *Speaker) sink(stream *portaudio.Stream, out []float32, sampleRate int) func([]float32) error {
	var paced func([]float32) error
	return func(buf []float32) error {
		if paced != nil {
			return paced(buf)
		}
		copy(out, buf)
		err := stream.Write()
		if err == nil || errors.Is(err, portaudio.OutputUnderflowed) {
			return nil
		}
		s.logger.Error("Output write failed, continuing silently", zap.Error(err))
		s.metrics.RecordPlaybackError("device")
		paced = playback.PacedSink(sampleRate)
		return paced(buf)
	}
}
