package turn

import "time"

// Turn sources
const (
	SourceVoice = "voice"
	SourceText  = "text"
)

const timingLimit = 50

// TurnTiming records where the time of one turn went. SpeechMs spans the
// first partial transcript to the commit and is zero for typed input.
type TurnTiming struct {
	Utterance   string    `json:"utterance_id"`
	Source      string    `json:"source"`
	Input       string    `json:"input"`
	Output      string    `json:"output,omitempty"`
	SpeechMs    int64     `json:"stt_ms"`
	ReplyMs     int64     `json:"llm_ms"`
	SynthesisMs int64     `json:"tts_ms"`
	PlaybackMs  int64     `json:"playback_ms"`
	TotalMs     int64     `json:"total_ms"`
	Error       string    `json:"error,omitempty"`
	At          time.Time `json:"at"`
}

// TimingSummary averages the completed turns of a session
type TimingSummary struct {
	Turns         int     `json:"turns"`
	Failed        int     `json:"failed"`
	AvgSpeechMs   float64 `json:"avg_stt_ms"`
	AvgReplyMs    float64 `json:"avg_llm_ms"`
	AvgSynthesis  float64 `json:"avg_tts_ms"`
	AvgPlaybackMs float64 `json:"avg_playback_ms"`
	AvgTotalMs    float64 `json:"avg_total_ms"`
}

// Summarize averages the turns that completed without error
func Summarize(timings []TurnTiming) TimingSummary {
	var sum TimingSummary
	var speech, replyMs, synth, playback, total int64
	for _, t := range timings {
		if t.Error != "" {
			sum.Failed++
			continue
		}
		sum.Turns++
		speech += t.SpeechMs
		replyMs += t.ReplyMs
		synth += t.SynthesisMs
		playback += t.PlaybackMs
		total += t.TotalMs
	}
	if sum.Turns == 0 {
		return sum
	}
	n := float64(sum.Turns)
	sum.AvgSpeechMs = float64(speech) / n
	sum.AvgReplyMs = float64(replyMs) / n
	sum.AvgSynthesis = float64(synth) / n
	sum.AvgPlaybackMs = float64(playback) / n
	sum.AvgTotalMs = float64(total) / n
	return sum
}

func millis(d time.Duration) int64 {
	return d.Milliseconds()
}
