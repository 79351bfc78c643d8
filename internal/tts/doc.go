// Package tts turns reply text into 16-bit PCM through a vendor
// text-to-speech HTTP API.
//
// A response is handed to playback either as a live stream or as a whole
// buffer, decided from the response itself: chunked responses and
// responses without a Content-Length are streamed.
package tts
