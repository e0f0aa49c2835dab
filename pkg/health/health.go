// Package health exposes liveness and readiness endpoints for a plugin
// host.
package health

import (
	"github.com/heptiolabs/healthcheck"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/srediag/plugin-loader/api"
)

const defaultGoroutineThreshold = 10000

// Options configures NewHandler.
type Options struct {
	// Registerer, when set, also exports each check as a Prometheus gauge.
	Registerer prometheus.Registerer
	// Namespace prefixes the exported gauges.
	Namespace string
	// GoroutineThreshold fails liveness above this many goroutines. Zero
	// selects the default.
	GoroutineThreshold int
}

// NewHandler returns an http.Handler serving /live and /ready backed by h.
func NewHandler(h api.Health, opts Options) healthcheck.Handler {
	var hc healthcheck.Handler
	if opts.Registerer != nil {
		hc = healthcheck.NewMetricsHandler(opts.Registerer, opts.Namespace)
	} else {
		hc = healthcheck.NewHandler()
	}
	threshold := opts.GoroutineThreshold
	if threshold <= 0 {
		threshold = defaultGoroutineThreshold
	}
	hc.AddLivenessCheck("catalog", h.LivenessCheck)
	hc.AddLivenessCheck("goroutines", healthcheck.GoroutineCountCheck(threshold))
	hc.AddReadinessCheck("plugins-loaded", h.ReadinessCheck)
	return hc
}
