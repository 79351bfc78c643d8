// Package audio handles PCM framing, sample decoding and block shaping.
// It turns an unaligned byte stream into whole 16-bit mono frames, decodes them
// into normalized blocks, mutes blocks carrying decoding spikes and applies the
// fade-in ramp used for cross-fading at block boundaries.
package audio
