// Package protocol implements the realtime transcription wire messages:
// inbound session, transcript and error notifications, and outbound base64
// PCM audio chunks with an optional commit flag.
package protocol
