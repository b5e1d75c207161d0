// Package metrics defines the broker's OpenTelemetry instruments and an
// InitProvider that backs them with a Prometheus exporter. The package
// serves no HTTP /metrics endpoint, and the broker's command wiring hands
// the Monitor Service's counters a nil *Metrics, so nothing is recorded
// here at run time.
//
// Grounded directly on MrWong99-glyphoxa's internal/observe package: the
// same NewMetrics(mp metric.MeterProvider)-plus-struct-of-instruments
// shape, generalized from its voice-pipeline/NPC instruments to the
// broker's upstream/tool/cache instruments.
package metrics

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/aditzel/mcp-squared"

// Metrics holds every OpenTelemetry instrument the broker records to.
// All fields are safe for concurrent use; the underlying OTel types
// handle their own synchronization.
type Metrics struct {
	RequestsTotal      metric.Int64Counter
	RequestsSuccessful metric.Int64Counter
	RequestsFailed     metric.Int64Counter

	ToolCalls metric.Int64Counter

	ActiveConnections metric.Int64UpDownCounter

	CacheHits   metric.Int64Counter
	CacheMisses metric.Int64Counter

	UpstreamDialDuration metric.Float64Histogram
	ToolCallDuration     metric.Float64Histogram
}

var latencyBuckets = []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30}

// New creates a fully initialized Metrics struct using the given
// MeterProvider. Returns an error if any instrument creation fails.
func New(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	met := &Metrics{}
	var err error

	if met.RequestsTotal, err = m.Int64Counter("mcpsquared.requests.total",
		metric.WithDescription("Total MCP requests handled across every session.")); err != nil {
		return nil, err
	}
	if met.RequestsSuccessful, err = m.Int64Counter("mcpsquared.requests.successful",
		metric.WithDescription("Total MCP requests that completed without error.")); err != nil {
		return nil, err
	}
	if met.RequestsFailed, err = m.Int64Counter("mcpsquared.requests.failed",
		metric.WithDescription("Total MCP requests that returned an error.")); err != nil {
		return nil, err
	}
	if met.ToolCalls, err = m.Int64Counter("mcpsquared.tool.calls",
		metric.WithDescription("Total tool invocations by qualified tool name and status.")); err != nil {
		return nil, err
	}
	if met.ActiveConnections, err = m.Int64UpDownCounter("mcpsquared.active_connections",
		metric.WithDescription("Number of live Daemon IPC client sessions.")); err != nil {
		return nil, err
	}
	if met.CacheHits, err = m.Int64Counter("mcpsquared.cache.hits",
		metric.WithDescription("Retriever search requests served from a warm index.")); err != nil {
		return nil, err
	}
	if met.CacheMisses, err = m.Int64Counter("mcpsquared.cache.misses",
		metric.WithDescription("Retriever search requests that required a fresh scan.")); err != nil {
		return nil, err
	}
	if met.UpstreamDialDuration, err = m.Float64Histogram("mcpsquared.upstream.dial.duration",
		metric.WithDescription("Latency of upstream connect-and-initialize."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...)); err != nil {
		return nil, err
	}
	if met.ToolCallDuration, err = m.Float64Histogram("mcpsquared.tool.call.duration",
		metric.WithDescription("Latency of one upstream tool invocation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...)); err != nil {
		return nil, err
	}

	return met, nil
}

// RecordRequest records one MCP request's outcome.
func (m *Metrics) RecordRequest(ctx context.Context, method string, failed bool) {
	m.RequestsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("method", method)))
	if failed {
		m.RequestsFailed.Add(ctx, 1, metric.WithAttributes(attribute.String("method", method)))
	} else {
		m.RequestsSuccessful.Add(ctx, 1, metric.WithAttributes(attribute.String("method", method)))
	}
}

// RecordToolCall records one tool invocation's outcome.
func (m *Metrics) RecordToolCall(ctx context.Context, qualifiedName, status string) {
	m.ToolCalls.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tool", qualifiedName),
		attribute.String("status", status),
	))
}

// RecordCacheLookup records a Retriever search as a hit or miss against
// the index's warm state.
func (m *Metrics) RecordCacheLookup(ctx context.Context, hit bool) {
	if hit {
		m.CacheHits.Add(ctx, 1)
	} else {
		m.CacheMisses.Add(ctx, 1)
	}
}
