package appconfig

import (
	"context"
	"log/slog"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Observer is notified whenever the config is reloaded. It mirrors the
// teacher's config.Observer interface (internal/config/mcpservers.go),
// widened from a single MCPServersConfig argument to the broker's full
// Config.
type Observer interface {
	OnConfigChange(ctx context.Context, cfg *Config)
}

// Watcher holds the live config plus its registered observers and drives
// hot reload off viper's fsnotify integration, the same way the teacher's
// cmd/mcp-broker-router/main.go wires viper.WatchConfig/OnConfigChange.
type Watcher struct {
	mu        sync.RWMutex
	cfg       *Config
	path      string
	observers []Observer
	logger    *slog.Logger
}

// NewWatcher loads path once and returns a Watcher ready to Start.
func NewWatcher(path string, logger *slog.Logger) (*Watcher, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	return &Watcher{cfg: cfg, path: path, logger: logger}, nil
}

// Register adds obs to the set notified on every reload, and fires it
// once immediately with the currently loaded config.
func (w *Watcher) Register(ctx context.Context, obs Observer) {
	w.mu.Lock()
	w.observers = append(w.observers, obs)
	cfg := w.cfg
	w.mu.Unlock()
	go obs.OnConfigChange(ctx, cfg)
}

// Current returns the currently loaded config.
func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.cfg
}

// Start begins watching the config file for changes, reloading and
// notifying observers on each change. It returns immediately. ctx is
// handed to observers; canceling it does not stop viper's file watcher,
// which keeps running for the life of the process.
func (w *Watcher) Start(ctx context.Context) error {
	v := viper.New()
	v.SetConfigFile(w.path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return err
	}

	v.WatchConfig()
	v.OnConfigChange(func(in fsnotify.Event) {
		w.logger.Info("config file changed, reloading", "path", in.Name)
		cfg, err := Load(w.path)
		if err != nil {
			w.logger.Error("config reload failed, keeping previous config", "error", err)
			return
		}
		w.mu.Lock()
		w.cfg = cfg
		observers := append([]Observer(nil), w.observers...)
		w.mu.Unlock()
		for _, obs := range observers {
			go obs.OnConfigChange(ctx, cfg)
		}
	})

	go func() {
		<-ctx.Done()
	}()
	return nil
}
