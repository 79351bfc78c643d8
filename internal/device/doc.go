// Package device binds the capture and playback pipelines to the host
// sound card through PortAudio.
//
// Initialize must be called once before opening any stream and Terminate
// once after all streams are closed.
package device
