package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/aditzel/mcp-squared/internal/metrics"
)

// ToolCounter tracks per-tool call outcomes for the `tools` monitor
// command, kept only when tool call tracking is enabled (spec 4.9).
type ToolCounter struct {
	Calls     int64 `json:"calls"`
	Successes int64 `json:"successes"`
	Failures  int64 `json:"failures"`
}

// StatsSnapshot is the `stats` monitor command's reply payload.
type StatsSnapshot struct {
	RequestsTotal      int64     `json:"requestsTotal"`
	RequestsSuccessful int64     `json:"requestsSuccessful"`
	RequestsFailed     int64     `json:"requestsFailed"`
	ActiveConnections  int64     `json:"activeConnections"`
	CacheHits          int64     `json:"cacheHits"`
	CacheMisses        int64     `json:"cacheMisses"`
	CacheSize          int       `json:"cacheSize"`
	LastIndexRefresh   time.Time `json:"lastIndexRefresh,omitempty"`
}

// Counters is the process-wide, readable cumulative counter set the
// Monitor Service's `stats`/`tools` commands report from. Every Record*
// call also mirrors the same event into an optional *metrics.Metrics so
// the Monitor protocol and the /metrics Prometheus scrape stay in sync,
// per the spec's "also mirrored into the OpenTelemetry/Prometheus
// registry" requirement.
type Counters struct {
	mirror *metrics.Metrics

	mu                 sync.Mutex
	requestsTotal      int64
	requestsSuccessful int64
	requestsFailed     int64
	activeConnections  int64
	cacheHits          int64
	cacheMisses        int64
	lastIndexRefresh   time.Time

	toolTracking bool
	toolCounters map[string]*ToolCounter
}

// NewCounters builds an empty Counters. mirror may be nil if OpenTelemetry
// export is disabled; toolTracking enables the per-tool `tools` command.
func NewCounters(mirror *metrics.Metrics, toolTracking bool) *Counters {
	return &Counters{
		mirror:       mirror,
		toolTracking: toolTracking,
		toolCounters: map[string]*ToolCounter{},
	}
}

// RecordRequest records one MCP request's outcome.
func (c *Counters) RecordRequest(ctx context.Context, method string, failed bool) {
	c.mu.Lock()
	c.requestsTotal++
	if failed {
		c.requestsFailed++
	} else {
		c.requestsSuccessful++
	}
	c.mu.Unlock()

	if c.mirror != nil {
		c.mirror.RecordRequest(ctx, method, failed)
	}
}

// RecordCacheLookup records a Retriever search as a hit or miss.
func (c *Counters) RecordCacheLookup(ctx context.Context, hit bool) {
	c.mu.Lock()
	if hit {
		c.cacheHits++
	} else {
		c.cacheMisses++
	}
	c.mu.Unlock()

	if c.mirror != nil {
		c.mirror.RecordCacheLookup(ctx, hit)
	}
}

// RecordToolCall records one tool invocation's outcome. status is "ok" or
// "error". A no-op for the local per-tool table when tool tracking is
// disabled, but always mirrored to OpenTelemetry.
func (c *Counters) RecordToolCall(ctx context.Context, qualifiedName, status string) {
	if c.toolTracking {
		c.mu.Lock()
		tc, ok := c.toolCounters[qualifiedName]
		if !ok {
			tc = &ToolCounter{}
			c.toolCounters[qualifiedName] = tc
		}
		tc.Calls++
		if status == "ok" {
			tc.Successes++
		} else {
			tc.Failures++
		}
		c.mu.Unlock()
	}

	if c.mirror != nil {
		c.mirror.RecordToolCall(ctx, qualifiedName, status)
	}
}

// SetActiveConnections sets the current live Daemon IPC session count.
func (c *Counters) SetActiveConnections(n int64) {
	c.mu.Lock()
	c.activeConnections = n
	c.mu.Unlock()
}

// SetLastIndexRefresh records the wall-clock time of the most recent
// successful periodic refresher sweep.
func (c *Counters) SetLastIndexRefresh(at time.Time) {
	c.mu.Lock()
	c.lastIndexRefresh = at
	c.mu.Unlock()
}

// Snapshot returns the current stats, filling in cacheSize from the
// supplied index tool count.
func (c *Counters) Snapshot(cacheSize int) StatsSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return StatsSnapshot{
		RequestsTotal:      c.requestsTotal,
		RequestsSuccessful: c.requestsSuccessful,
		RequestsFailed:     c.requestsFailed,
		ActiveConnections:  c.activeConnections,
		CacheHits:          c.cacheHits,
		CacheMisses:        c.cacheMisses,
		CacheSize:          cacheSize,
		LastIndexRefresh:   c.lastIndexRefresh,
	}
}

// ToolTrackingEnabled reports whether the `tools` command has data to
// return.
func (c *Counters) ToolTrackingEnabled() bool {
	return c.toolTracking
}

// ToolSnapshot returns a copy of the per-tool counters. With limit > 0 it
// returns at most limit entries (0 means unlimited); which tools are kept
// follows map iteration order and is not ranked by call count.
func (c *Counters) ToolSnapshot(limit int) map[string]ToolCounter {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]ToolCounter, len(c.toolCounters))
	n := 0
	for name, tc := range c.toolCounters {
		if limit > 0 && n >= limit {
			break
		}
		out[name] = *tc
		n++
	}
	return out
}
