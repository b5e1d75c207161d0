package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/aditzel/mcp-squared/internal/appconfig"
	"github.com/aditzel/mcp-squared/internal/catalog"
	"github.com/aditzel/mcp-squared/internal/instancedir"
	"github.com/aditzel/mcp-squared/internal/llmsummary"
	"github.com/aditzel/mcp-squared/internal/mcperr"
	"github.com/aditzel/mcp-squared/internal/metrics"
	"github.com/aditzel/mcp-squared/internal/monitor"
	"github.com/aditzel/mcp-squared/internal/obslog"
	"github.com/aditzel/mcp-squared/internal/oauth"
	"github.com/aditzel/mcp-squared/internal/policy"
	"github.com/aditzel/mcp-squared/internal/session"
	"github.com/aditzel/mcp-squared/internal/upstream"
)

// dataDir returns the per-user directory holding the Index Store, token
// store, and instance registry, creating it if necessary.
func dataDir() (string, error) {
	base, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(base, "mcp-squared")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	return dir, nil
}

// resolveConfigPath finds the config file to load, honoring --project as
// an override for the working directory search root.
func resolveConfigPath(flags *globalFlags) (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	if flags.project != "" {
		cwd = flags.project
	}
	path := appconfig.Discover(cwd, os.UserConfigDir)
	if path == "" {
		return "", mcperr.New(mcperr.CodeConfigNotFound, "no config file found; run `mcpsquared init` first")
	}
	return path, nil
}

func loadConfig(flags *globalFlags) (*appconfig.Config, error) {
	path, err := resolveConfigPath(flags)
	if err != nil {
		return nil, err
	}
	cfg, err := appconfig.Load(path)
	if err != nil {
		return nil, err
	}
	if flags.security == "hardened" {
		// Hardened is the loaded policy as-is (allow/block/confirm as configured).
	} else if flags.security == "permissive" {
		cfg.Permissive()
	}
	if flags.refreshInterval != "" {
		d, err := time.ParseDuration(flags.refreshInterval)
		if err != nil {
			return nil, fmt.Errorf("invalid --refresh-interval %q: %w", flags.refreshInterval, err)
		}
		cfg.Operations.Index.RefreshIntervalMs = int(d.Milliseconds())
	}
	return cfg, nil
}

func newLogger(flags *globalFlags) *slog.Logger {
	level := slog.LevelInfo
	if flags.verbose {
		level = slog.LevelDebug
	}
	return obslog.New(obslog.Options{Level: level})
}

// appStack bundles every shared component the server and daemon
// subcommands assemble identically: the Index Store, Retriever, OAuth
// token store, upstream Registry, policy Engine, and the Session Server
// built on top of them.
type appStack struct {
	cfg       *appconfig.Config
	store     *catalog.Store
	retriever *catalog.Retriever
	oauthStore *oauth.Store
	upstreams *upstream.Registry
	engine    *policy.Engine
	counters  *monitor.Counters
	session   *session.Server
	logger    *slog.Logger

	closers []func() error
}

// buildStack wires every shared component per spec section 4, following
// the teacher's own setUpBroker/setUpRouter-style composition root.
func buildStack(ctx context.Context, flags *globalFlags, logger *slog.Logger) (*appStack, error) {
	cfg, err := loadConfig(flags)
	if err != nil {
		return nil, err
	}

	dir, err := dataDir()
	if err != nil {
		return nil, fmt.Errorf("resolve data dir: %w", err)
	}

	store, err := catalog.Open(filepath.Join(dir, "catalog.db"))
	if err != nil {
		return nil, err
	}

	oauthStore, err := oauth.NewStore(filepath.Join(dir, "tokens"))
	if err != nil {
		store.Close()
		return nil, err
	}

	retriever := catalog.NewRetriever(store, nil)

	compiled, err := policy.Compile(cfg.Security.Allow, cfg.Security.Block, cfg.Security.Confirm)
	if err != nil {
		store.Close()
		return nil, err
	}
	engine := policy.NewEngine(compiled)

	registry := upstream.NewRegistry(logger, os.LookupEnv)
	registry.Configure(cfg)

	var mirror *metrics.Metrics
	counters := monitor.NewCounters(mirror, false)

	sessionServer := session.NewServer(retriever, session.RegistryAdapter{Registry: registry}, engine, cfg, logger)

	if cfg.Operations.Summarize.Enabled {
		summarizer, err := llmsummary.New(cfg.Operations.Summarize.Provider, cfg.Operations.Summarize.Model)
		if err != nil {
			logger.Warn("describe_tools summarization disabled: failed to build LLM backend", "error", err)
		} else {
			sessionServer.SetSummarizer(summarizer)
		}
	}

	stack := &appStack{
		cfg:        cfg,
		store:      store,
		retriever:  retriever,
		oauthStore: oauthStore,
		upstreams:  registry,
		engine:     engine,
		counters:   counters,
		session:    sessionServer,
		logger:     logger,
	}
	stack.closers = append(stack.closers, store.Close)

	if err := registry.DialAll(ctx); err != nil {
		logger.Warn("one or more upstreams failed to dial at startup", "error", err)
	}
	if _, err := retriever.SyncFromCataloger(ctx, registry.Sources()); err != nil {
		logger.Warn("initial catalog sync failed", "error", err)
	}

	return stack, nil
}

// Close releases every resource buildStack opened, in reverse order.
func (s *appStack) Close() {
	s.upstreams.Shutdown()
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			s.logger.Warn("error closing resource during shutdown", "error", err)
		}
	}
}

// openInstanceRegistry opens the shared per-user instance directory.
func openInstanceRegistry() (*instancedir.Registry, error) {
	dir, err := dataDir()
	if err != nil {
		return nil, err
	}
	return instancedir.Open(filepath.Join(dir, "instances"))
}
