// Package vad implements local voice activity detection: an energy-based
// processor over fixed windows and a segmenter that turns per-window decisions
// into utterance boundaries. Capture uses it when commits are decided on this
// side of the transport.
package vad
