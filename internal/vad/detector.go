package vad

import (
	"fmt"

	"github.com/rokas2025/playvoice/internal/config"
	"github.com/rokas2025/playvoice/internal/metrics"
)

// Detector chains windowing, energy VAD and segmentation over a live
// capture stream. It is owned by one capture loop.
type Detector struct {
	windower  *Windower
	processor *Processor
	segmenter *Segmenter
	metrics   *metrics.Metrics
}

// NewDetector builds a detector from VAD configuration
func NewDetector(cfg config.VADConfig, sampleRate int, m *metrics.Metrics) (*Detector, error) {
	processor, err := NewProcessor(cfg.Threshold, cfg.WindowSize, sampleRate)
	if err != nil {
		return nil, fmt.Errorf("failed to create VAD processor: %w", err)
	}

	return &Detector{
		windower:  NewWindower(cfg.WindowSize),
		processor: processor,
		segmenter: NewSegmenter(SegmentConfig{
			SilenceDuration:    cfg.GetSilenceDuration(),
			MinSpeechDuration:  cfg.GetMinSpeechDuration(),
			MinSilenceDuration: cfg.GetMinSilenceDuration(),
			SampleRate:         sampleRate,
		}),
		metrics: m,
	}, nil
}

// Push feeds captured samples and returns any segmentation events other
// than EventNone, in order
func (d *Detector) Push(samples []int16) ([]Event, error) {
	var events []Event
	for _, window := range d.windower.Push(samples) {
		result, err := d.processor.Process(window)
		if err != nil {
			return events, err
		}
		d.metrics.RecordVADWindow(result.HasVoice)

		if ev := d.segmenter.Feed(result.HasVoice, result.Samples); ev != EventNone {
			events = append(events, ev)
		}
	}
	return events, nil
}

// Reset clears partial windows, smoothing state and any utterance in progress
func (d *Detector) Reset() {
	d.windower.Reset()
	d.processor.Reset()
	d.segmenter.Reset()
}

// Stats combines window and segmentation counters
type Stats struct {
	Windows  ProcessorStats
	Segments SegmenterStats
}

// Stats returns the counters accumulated since the detector was created
func (d *Detector) Stats() Stats {
	return Stats{
		Windows:  d.processor.GetStats(),
		Segments: d.segmenter.GetStats(),
	}
}
