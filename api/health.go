// Package api defines public API contracts for plugin-loader.
package api

// Health is implemented by components that can report liveness and readiness.
type Health interface {
	// LivenessCheck fails when internal bookkeeping is inconsistent.
	LivenessCheck() error
	// ReadinessCheck fails while accepted plugins are still waiting to load.
	ReadinessCheck() error
}
