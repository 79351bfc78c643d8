// Package capture streams microphone audio to a realtime transcription
// backend and turns its replies into transcript events.
//
// An Adapter owns one microphone stream and one transport connection while
// capture is active. The connection is opened first, then the microphone;
// Stop releases both and waits for the capture and receive loops to exit.
package capture
