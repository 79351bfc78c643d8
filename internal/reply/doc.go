// Package reply generates assistant replies through an OpenAI-compatible
// chat-completions endpoint.
package reply
