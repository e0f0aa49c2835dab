// Package adapter provides adapters for plugin-loader integration with external systems.
package adapter

import (
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const instrumentationName = "github.com/srediag/plugin-loader"

// OTel bundles the providers handed to the loader pipeline. Nil providers
// resolve to no-ops.
type OTel struct {
	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
}

// Tracer returns the pipeline tracer.
func (o OTel) Tracer() trace.Tracer {
	if o.TracerProvider == nil {
		return tracenoop.NewTracerProvider().Tracer(instrumentationName)
	}
	return o.TracerProvider.Tracer(instrumentationName)
}

// Meter returns the pipeline meter.
func (o OTel) Meter() metric.Meter {
	if o.MeterProvider == nil {
		return metricnoop.NewMeterProvider().Meter(instrumentationName)
	}
	return o.MeterProvider.Meter(instrumentationName)
}
