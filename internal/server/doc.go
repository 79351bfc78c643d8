// Package server implements the HTTP control API: session lifecycle,
// live session events over websocket, health, sanitized configuration
// and the Prometheus scrape endpoint.
package server
