package vad

import (
	"time"
)

// SegmentState represents the current state of utterance segmentation
type SegmentState int

const (
	StateIdle SegmentState = iota
	StateSpeech
	StateTrailingSilence
)

func (s SegmentState) String() string {
	switch s {
	case StateSpeech:
		return "speech"
	case StateTrailingSilence:
		return "trailing_silence"
	default:
		return "idle"
	}
}

// Event is what a segmenter reports after a window
type Event int

const (
	EventNone Event = iota
	EventSpeechStart
	EventEndOfUtterance
	// EventDiscarded marks a voiced span too short to count as speech
	EventDiscarded
)

func (e Event) String() string {
	switch e {
	case EventSpeechStart:
		return "speech_start"
	case EventEndOfUtterance:
		return "end_of_utterance"
	case EventDiscarded:
		return "discarded"
	default:
		return "none"
	}
}

// SegmentConfig contains segmentation thresholds
type SegmentConfig struct {
	SilenceDuration    time.Duration // trailing silence that ends an utterance
	MinSpeechDuration  time.Duration
	MinSilenceDuration time.Duration // shorter pauses stay inside the utterance
	SampleRate         int
}

// Segmenter finds utterance boundaries from per-window voice decisions.
// Time is derived from sample counts so results do not depend on wall clock.
type Segmenter struct {
	silenceSamples    int
	minSpeechSamples  int
	minSilenceSamples int

	state         SegmentState
	speechSamples int
	silenceRun    int

	utterances uint64
	discarded  uint64
}

// SegmenterStats represents segmenter statistics
type SegmenterStats struct {
	State      string `json:"state"`
	Utterances uint64 `json:"utterances"`
	Discarded  uint64 `json:"discarded"`
}

func durationToSamples(d time.Duration, rate int) int {
	return int(d * time.Duration(rate) / time.Second)
}

// NewSegmenter creates a new segmenter
func NewSegmenter(cfg SegmentConfig) *Segmenter {
	return &Segmenter{
		silenceSamples:    durationToSamples(cfg.SilenceDuration, cfg.SampleRate),
		minSpeechSamples:  durationToSamples(cfg.MinSpeechDuration, cfg.SampleRate),
		minSilenceSamples: durationToSamples(cfg.MinSilenceDuration, cfg.SampleRate),
	}
}

// Feed advances the segmenter by one window of n samples
func (s *Segmenter) Feed(hasVoice bool, n int) Event {
	switch s.state {
	case StateIdle:
		if hasVoice {
			s.state = StateSpeech
			s.speechSamples = n
			s.silenceRun = 0
			return EventSpeechStart
		}

	case StateSpeech:
		if hasVoice {
			s.speechSamples += n
			s.silenceRun = 0
			return EventNone
		}
		s.silenceRun += n
		if s.silenceRun >= s.minSilenceSamples {
			s.state = StateTrailingSilence
		}
		return s.checkEnd()

	case StateTrailingSilence:
		if hasVoice {
			// Speech resumed, the pause belongs to the utterance
			s.state = StateSpeech
			s.speechSamples += n
			s.silenceRun = 0
			return EventNone
		}
		s.silenceRun += n
		return s.checkEnd()
	}

	return EventNone
}

func (s *Segmenter) checkEnd() Event {
	if s.state != StateTrailingSilence || s.silenceRun < s.silenceSamples {
		return EventNone
	}

	enough := s.speechSamples >= s.minSpeechSamples
	s.Reset()
	if !enough {
		s.discarded++
		return EventDiscarded
	}
	s.utterances++
	return EventEndOfUtterance
}

// State returns the current segmentation state
func (s *Segmenter) State() SegmentState {
	return s.state
}

// Reset returns to idle, dropping any utterance in progress
func (s *Segmenter) Reset() {
	s.state = StateIdle
	s.speechSamples = 0
	s.silenceRun = 0
}

// GetStats returns segmenter statistics
func (s *Segmenter) GetStats() SegmenterStats {
	return SegmenterStats{
		State:      s.state.String(),
		Utterances: s.utterances,
		Discarded:  s.discarded,
	}
}
