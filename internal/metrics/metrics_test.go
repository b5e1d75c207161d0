package metrics

import (
	"context"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := New(mp)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func TestNewCreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("New returned nil")
	}
}

func TestRecordRequestSplitsSuccessAndFailure(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordRequest(ctx, "tools/call", false)
	m.RecordRequest(ctx, "tools/call", true)

	rm := collect(t, reader)

	total := findMetric(rm, "mcpsquared.requests.total")
	if total == nil {
		t.Fatal("requests.total not found")
	}
	sum, ok := total.Data.(metricdata.Sum[int64])
	if !ok || len(sum.DataPoints) == 0 || sum.DataPoints[0].Value != 2 {
		t.Errorf("requests.total = %+v, want count 2", sum.DataPoints)
	}

	failed := findMetric(rm, "mcpsquared.requests.failed")
	if failed == nil {
		t.Fatal("requests.failed not found")
	}
	failedSum, ok := failed.Data.(metricdata.Sum[int64])
	if !ok || len(failedSum.DataPoints) == 0 || failedSum.DataPoints[0].Value != 1 {
		t.Errorf("requests.failed = %+v, want count 1", failedSum.DataPoints)
	}
}

func TestRecordToolCallTagsStatus(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordToolCall(ctx, "fs:read_file", "ok")
	m.RecordToolCall(ctx, "fs:read_file", "error")

	rm := collect(t, reader)
	met := findMetric(rm, "mcpsquared.tool.calls")
	if met == nil {
		t.Fatal("tool.calls not found")
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("tool.calls is not a sum")
	}

	var okCount int64
	for _, dp := range sum.DataPoints {
		for _, kv := range dp.Attributes.ToSlice() {
			if string(kv.Key) == "status" && kv.Value.AsString() == "ok" {
				okCount = dp.Value
			}
		}
	}
	if okCount != 1 {
		t.Errorf("ok tool calls = %d, want 1", okCount)
	}
}

func TestRecordCacheLookupTracksHitsAndMisses(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordCacheLookup(ctx, true)
	m.RecordCacheLookup(ctx, true)
	m.RecordCacheLookup(ctx, false)

	rm := collect(t, reader)

	hits := findMetric(rm, "mcpsquared.cache.hits")
	misses := findMetric(rm, "mcpsquared.cache.misses")
	if hits == nil || misses == nil {
		t.Fatal("cache hit/miss metrics not found")
	}
	hitSum := hits.Data.(metricdata.Sum[int64])
	missSum := misses.Data.(metricdata.Sum[int64])
	if hitSum.DataPoints[0].Value != 2 {
		t.Errorf("cache hits = %d, want 2", hitSum.DataPoints[0].Value)
	}
	if missSum.DataPoints[0].Value != 1 {
		t.Errorf("cache misses = %d, want 1", missSum.DataPoints[0].Value)
	}
}

func TestActiveConnectionsIsUpDownCounter(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.ActiveConnections.Add(ctx, 1)
	m.ActiveConnections.Add(ctx, 1)
	m.ActiveConnections.Add(ctx, -1)

	rm := collect(t, reader)
	met := findMetric(rm, "mcpsquared.active_connections")
	if met == nil {
		t.Fatal("active_connections not found")
	}
	sum := met.Data.(metricdata.Sum[int64])
	if sum.DataPoints[0].Value != 1 {
		t.Errorf("active_connections = %d, want 1", sum.DataPoints[0].Value)
	}
}
