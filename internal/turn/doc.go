// Package turn coordinates a voice conversation.
//
// A Session moves through Ready, Listening, Thinking and Speaking. While
// listening the microphone is captured; a committed transcript stops
// capture, the reply is generated and spoken, and capture restarts once
// playback completes. Capture and playback are never active together.
//
// The Manager keeps the registry of live sessions and stops sessions that
// have been idle for longer than the configured timeout.
package turn
