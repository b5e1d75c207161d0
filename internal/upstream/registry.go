package upstream

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/aditzel/mcp-squared/internal/appconfig"
	"github.com/aditzel/mcp-squared/internal/catalog"
)

// reconnectBackoff mirrors the teacher's own retry shape (a capped
// exponential backoff driven by k8s.io/apimachinery/pkg/util/wait) rather
// than a hand-rolled sleep loop.
var reconnectBackoff = wait.Backoff{
	Duration: 500 * time.Millisecond,
	Factor:   2.0,
	Jitter:   0.1,
	Steps:    5,
	Cap:      30 * time.Second,
}

// Registry owns one Cataloger per enabled upstream and the fan-out dial,
// periodic refresh, and reconnect-with-backoff loop that keeps them
// current (spec section 4.1 and 4.4).
type Registry struct {
	logger *slog.Logger
	lookup func(string) (string, bool)

	mu         sync.RWMutex
	catalogers map[string]*Cataloger
}

// NewRegistry builds an empty Registry. lookup resolves environment
// variable references in upstream env/header values; pass os.LookupEnv in
// production.
func NewRegistry(logger *slog.Logger, lookup func(string) (string, bool)) *Registry {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	return &Registry{logger: logger, lookup: lookup, catalogers: map[string]*Cataloger{}}
}

// Configure rebuilds the set of Catalogers to match cfg.Upstreams,
// disconnecting and dropping any upstream no longer present or disabled,
// and adding Catalogers for any newly enabled one. It does not dial;
// callers should follow with DialAll.
func (r *Registry) Configure(cfg *appconfig.Config) {
	r.mu.Lock()
	defer r.mu.Unlock()

	keep := map[string]bool{}
	for key, uc := range cfg.Upstreams {
		if !uc.Enabled {
			continue
		}
		keep[key] = true
		if _, exists := r.catalogers[key]; !exists {
			r.catalogers[key] = NewCataloger(*uc, r.logger)
		}
	}
	for key, c := range r.catalogers {
		if !keep[key] {
			_ = c.Disconnect()
			delete(r.catalogers, key)
		}
	}
}

// All returns every registered Cataloger, sorted by nothing in particular
// (callers that need determinism should sort by Key()).
func (r *Registry) All() []*Cataloger {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Cataloger, 0, len(r.catalogers))
	for _, c := range r.catalogers {
		out = append(out, c)
	}
	return out
}

// Sources adapts All to catalog.ToolSource for the Retriever.
func (r *Registry) Sources() []catalog.ToolSource {
	all := r.All()
	out := make([]catalog.ToolSource, len(all))
	for i, c := range all {
		out[i] = c
	}
	return out
}

// Get returns the Cataloger for key, if registered.
func (r *Registry) Get(key string) (*Cataloger, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.catalogers[key]
	return c, ok
}

// DialAll connects every registered Cataloger concurrently and fetches the
// tool list of each one that connects. It waits for every attempt to
// finish; dial and list failures are logged and left in each Cataloger's
// state rather than returned, so DialAll returns nil and a single
// unreachable upstream never blocks the rest from connecting.
func (r *Registry) DialAll(ctx context.Context) error {
	group, gctx := errgroup.WithContext(context.Background())
	_ = gctx // each dial gets its own timeout below; the group is only for fan-out control
	for _, c := range r.All() {
		c := c
		group.Go(func() error {
			dialCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			defer cancel()
			if err := c.Connect(dialCtx, r.lookup); err != nil {
				r.logger.Warn("upstream dial failed", "upstream", c.Key(), "error", err)
				return nil
			}
			if err := c.Refresh(dialCtx); err != nil {
				r.logger.Warn("upstream tool list failed", "upstream", c.Key(), "error", err)
			}
			return nil // never fail the group: every upstream gets its own chance
		})
	}
	return group.Wait()
}

// RefreshAll calls Refresh on every connected Cataloger concurrently.
func (r *Registry) RefreshAll(ctx context.Context) {
	group, _ := errgroup.WithContext(ctx)
	for _, c := range r.All() {
		c := c
		group.Go(func() error {
			if c.State() != StateConnected {
				return nil
			}
			if err := c.Refresh(ctx); err != nil {
				r.logger.Warn("upstream refresh failed", "upstream", c.Key(), "error", err)
			}
			return nil
		})
	}
	_ = group.Wait()
}

// Reconnect retries Connect for one upstream with capped exponential
// backoff, stopping early on ctx cancellation or a successful connect.
func (r *Registry) Reconnect(ctx context.Context, key string) error {
	c, ok := r.Get(key)
	if !ok {
		return nil
	}
	return wait.ExponentialBackoff(reconnectBackoff, func() (bool, error) {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		if err := c.Connect(ctx, r.lookup); err != nil {
			r.logger.Debug("reconnect attempt failed", "upstream", key, "error", err)
			return false, nil
		}
		return true, nil
	})
}

// Run drives the periodic refresh loop until ctx is cancelled, per spec
// section 4.4's default 30s refresh interval (overridable via
// operations.index.refreshIntervalMs).
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.RefreshAll(ctx)
			r.reconnectDisconnected(ctx)
		}
	}
}

func (r *Registry) reconnectDisconnected(ctx context.Context) {
	for _, c := range r.All() {
		if c.State() == StateError || c.State() == StateDisconnected {
			go func(key string) {
				if err := r.Reconnect(ctx, key); err != nil {
					r.logger.Debug("background reconnect gave up", "upstream", key, "error", err)
				}
			}(c.Key())
		}
	}
}

// Shutdown disconnects every Cataloger.
func (r *Registry) Shutdown() {
	for _, c := range r.All() {
		_ = c.Disconnect()
	}
}
