// Package api defines public API contracts for plugin-loader.
package api

// LogSink receives formatted diagnostic lines. Implementations must not
// block or fail the caller.
type LogSink interface {
	Start() error
	Stop() error
	Send(line []byte) error
}
