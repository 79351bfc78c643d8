package vad

import (
	"fmt"
	"math"
	"sync"
	"time"
)

const (
	// energyScale is the RMS amplitude treated as certain speech
	energyScale = 10000.0
	// defaultSmoothing weights the newest window in the running probability
	defaultSmoothing = 0.3
)

// Processor is an energy-based voice activity detector. Each window's RMS is
// normalized to a probability, exponentially smoothed and compared with the
// threshold.
type Processor struct {
	threshold  float32
	windowSize int // Samples per window (512 for 32ms at 16kHz)
	sampleRate int

	// VAD state
	lastResult float32
	smoothing  float32 // Smoothing factor for results

	// Statistics
	totalWindows  uint64
	voiceWindows  uint64
	lastProcessed time.Time

	mu sync.RWMutex
}

// Result represents the result of voice activity detection for one window
type Result struct {
	Probability float32 `json:"probability"`  // Smoothed voice probability (0.0 - 1.0)
	Energy      float32 `json:"energy"`       // Normalized RMS of this window alone
	HasVoice    bool    `json:"has_voice"`    // Whether voice was detected
	Confidence  float32 `json:"confidence"`   // Distance from the threshold scaled to 0-1
	WindowIndex int     `json:"window_index"` // Window index processed
	Samples     int     `json:"samples"`      // Samples in the window
}

// ProcessorStats represents VAD processor statistics
type ProcessorStats struct {
	TotalWindows    uint64    `json:"total_windows"`
	VoiceWindows    uint64    `json:"voice_windows"`
	VoicePercentage float64   `json:"voice_percentage"`
	LastProcessed   time.Time `json:"last_processed"`
	Threshold       float32   `json:"threshold"`
}

// NewProcessor creates a new VAD processor instance
func NewProcessor(threshold float32, windowSize int, sampleRate int) (*Processor, error) {
	if threshold < 0 || threshold > 1 {
		return nil, fmt.Errorf("threshold must be between 0 and 1, got %f", threshold)
	}

	if windowSize <= 0 {
		return nil, fmt.Errorf("window size must be positive, got %d", windowSize)
	}

	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}

	return &Processor{
		threshold:  threshold,
		windowSize: windowSize,
		sampleRate: sampleRate,
		smoothing:  defaultSmoothing,
	}, nil
}

// Process processes a window of audio samples and returns voice activity probability
func (p *Processor) Process(samples []int16) (*Result, error) {
	if len(samples) != p.windowSize {
		return nil, fmt.Errorf("expected %d samples, got %d", p.windowSize, len(samples))
	}

	energy := windowEnergy(samples)

	p.mu.Lock()
	defer p.mu.Unlock()

	probability := energy
	if p.totalWindows > 0 {
		probability = p.smoothing*energy + (1-p.smoothing)*p.lastResult
	}
	p.lastResult = probability

	hasVoice := probability >= p.threshold

	p.totalWindows++
	if hasVoice {
		p.voiceWindows++
	}
	p.lastProcessed = time.Now()

	// Confidence is higher when probability is far from threshold
	confidence := float32(math.Abs(float64(probability - p.threshold)))
	if confidence > 0.5 {
		confidence = 0.5
	}
	confidence = confidence * 2

	return &Result{
		Probability: probability,
		Energy:      energy,
		HasVoice:    hasVoice,
		Confidence:  confidence,
		WindowIndex: int(p.totalWindows - 1),
		Samples:     len(samples),
	}, nil
}

// windowEnergy returns the RMS of samples normalized to 0-1
func windowEnergy(samples []int16) float32 {
	var energy float64
	for _, sample := range samples {
		energy += float64(sample) * float64(sample)
	}
	energy = math.Sqrt(energy / float64(len(samples)))

	normalized := energy / energyScale
	if normalized > 1.0 {
		normalized = 1.0
	}
	return float32(normalized)
}

// GetStats returns current processor statistics
func (p *Processor) GetStats() ProcessorStats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	voicePercentage := float64(0)
	if p.totalWindows > 0 {
		voicePercentage = float64(p.voiceWindows) / float64(p.totalWindows) * 100
	}

	return ProcessorStats{
		TotalWindows:    p.totalWindows,
		VoiceWindows:    p.voiceWindows,
		VoicePercentage: voicePercentage,
		LastProcessed:   p.lastProcessed,
		Threshold:       p.threshold,
	}
}

// Reset resets the processor state and statistics
func (p *Processor) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.totalWindows = 0
	p.voiceWindows = 0
	p.lastResult = 0
	p.lastProcessed = time.Time{}
}
