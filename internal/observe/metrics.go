// Package observe provides the OpenTelemetry metric instruments used across
// the service and a Prometheus exporter bridge for /metrics.
//
// Tests should build Metrics with [NewMetrics] over their own
// [metric.MeterProvider]; [Nop] returns instruments that record nothing.
package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// meterName is the instrumentation scope name used for all metrics.
const meterName = "github.com/dialsense/dialsense"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// DetectionDuration tracks detector latency. Use with attribute:
	//   attribute.String("strategy", ...)
	DetectionDuration metric.Float64Histogram

	// Outcomes counts detector outcomes. Use with attributes:
	//   attribute.String("strategy", ...), attribute.String("result", ...), attribute.Bool("fallback", ...)
	Outcomes metric.Int64Counter

	// TerminalCalls counts calls reaching a terminal status. Use with attribute:
	//   attribute.String("status", ...)
	TerminalCalls metric.Int64Counter

	// ActiveCalls tracks calls that have not yet reached a terminal status.
	ActiveCalls metric.Int64UpDownCounter

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("route", ...), attribute.Int("status", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries in seconds. Detectors
// take one to three seconds.
var latencyBuckets = []float64{
	0.01, 0.05, 0.1, 0.25, 0.5, 1, 1.5, 2, 2.5, 3, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.DetectionDuration, err = m.Float64Histogram("dialsense.amd.detection.duration",
		metric.WithDescription("Latency of answering machine detection per strategy."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("dialsense.http.request.duration",
		metric.WithDescription("HTTP request processing time."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.Outcomes, err = m.Int64Counter("dialsense.amd.outcomes",
		metric.WithDescription("Detection outcomes by strategy, result, and fallback."),
	); err != nil {
		return nil, err
	}
	if met.TerminalCalls, err = m.Int64Counter("dialsense.calls.terminal",
		metric.WithDescription("Calls that reached a terminal status."),
	); err != nil {
		return nil, err
	}

	if met.ActiveCalls, err = m.Int64UpDownCounter("dialsense.calls.active",
		metric.WithDescription("Calls in progress."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// Nop returns metrics backed by a no-op provider.
func Nop() *Metrics {
	m, _ := NewMetrics(noop.NewMeterProvider())
	return m
}

// RecordDetection records one detector outcome.
func (m *Metrics) RecordDetection(ctx context.Context, strategy, result string, fallback bool, latency time.Duration) {
	m.DetectionDuration.Record(ctx, latency.Seconds(),
		metric.WithAttributes(attribute.String("strategy", strategy)),
	)
	m.Outcomes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("strategy", strategy),
		attribute.String("result", result),
		attribute.Bool("fallback", fallback),
	))
}

// CallStarted marks a call as in progress.
func (m *Metrics) CallStarted(ctx context.Context) {
	m.ActiveCalls.Add(ctx, 1)
}

// CallFinished marks a call as terminal with the given status.
func (m *Metrics) CallFinished(ctx context.Context, status string) {
	m.ActiveCalls.Add(ctx, -1)
	m.TerminalCalls.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}
