// Package metrics defines the Prometheus instruments for playback, turn-taking,
// upstream clients and the HTTP API. Instruments are registered against a
// caller-supplied registerer so tests can use private registries.
package metrics
