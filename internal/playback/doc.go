// Package playback turns TTS byte streams and buffers into scheduled audio on an
// output device. The streaming path runs a reader goroutine and a scheduling
// goroutine joined by a bounded queue; blocks overlap by a short fade so
// boundaries do not click. The Mixer is a pure-Go output with its own sample
// clock that device backends pull rendered audio from.
package playback
