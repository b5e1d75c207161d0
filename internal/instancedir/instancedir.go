// Package instancedir implements the instance registry (spec section 6):
// one JSON file per running mcp-squared process under a per-user
// directory, atomically written, so a `proxy` invocation or a `monitor`
// CLI can discover a live daemon's socket without guessing a fixed path.
// Grounded on internal/oauth.Store's write-temp-then-rename pattern, which
// itself follows the teacher's own atomic-write discipline for its
// config-observer state.
package instancedir

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/gofrs/flock"

	"github.com/aditzel/mcp-squared/internal/mcperr"
)

// Instance is one running process's registry entry. Socket is a
// filesystem path (UNIX) or "tcp://host:port", per spec section 6.
type Instance struct {
	ID         string    `json:"id"`
	PID        int       `json:"pid"`
	SocketPath string    `json:"socketPath"`
	StartedAt  time.Time `json:"startedAt"`

	// Optional descriptive fields.
	ConfigPath        string `json:"configPath,omitempty"`
	Label             string `json:"label,omitempty"`
	MonitorSocketPath string `json:"monitorSocketPath,omitempty"`
}

// Registry is the per-user directory of instance entries.
type Registry struct {
	dir string
	mu  sync.Mutex
}

// Open builds a Registry rooted at dir, creating it if necessary.
func Open(dir string) (*Registry, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, mcperr.Wrap(mcperr.CodeInstanceRegistryStale, "create instance registry dir", err)
	}
	return &Registry{dir: dir}, nil
}

func (r *Registry) entryPath(id string) string {
	return filepath.Join(r.dir, id+".json")
}

func (r *Registry) lockPath(id string) string {
	return filepath.Join(r.dir, id+".lock")
}

// Register atomically writes inst's entry, overwriting any prior entry
// with the same ID.
func (r *Registry) Register(inst Instance) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	lock := flock.New(r.lockPath(inst.ID))
	locked, err := lock.TryLock()
	if err != nil {
		return mcperr.Wrap(mcperr.CodeInstanceRegistryStale, "lock instance entry "+inst.ID, err)
	}
	if !locked {
		return mcperr.New(mcperr.CodeInstanceRegistryStale, "instance entry busy: "+inst.ID)
	}
	defer func() { _ = lock.Unlock() }()

	data, err := json.MarshalIndent(inst, "", "  ")
	if err != nil {
		return mcperr.Wrap(mcperr.CodeInstanceRegistryStale, "marshal instance entry "+inst.ID, err)
	}

	final := r.entryPath(inst.ID)
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return mcperr.Wrap(mcperr.CodeInstanceRegistryStale, "write instance entry "+inst.ID, err)
	}
	if f, err := os.Open(tmp); err == nil {
		_ = f.Sync()
		_ = f.Close()
	}
	if err := os.Rename(tmp, final); err != nil {
		return mcperr.Wrap(mcperr.CodeInstanceRegistryStale, "rename instance entry "+inst.ID, err)
	}
	return nil
}

// Unregister removes id's entry, if any.
func (r *Registry) Unregister(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	err := os.Remove(r.entryPath(id))
	if err != nil && !os.IsNotExist(err) {
		return mcperr.Wrap(mcperr.CodeInstanceRegistryStale, "remove instance entry "+id, err)
	}
	_ = os.Remove(r.lockPath(id))
	return nil
}

// List returns every entry currently on disk, regardless of liveness. If
// prune is true, entries whose process is no longer reachable (per
// IsAlive) are removed as they're discovered and omitted from the result,
// implementing the spec's "may opt in to pruning invalid and unreachable
// entries".
func (r *Registry) List(prune bool) ([]Instance, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, mcperr.Wrap(mcperr.CodeInstanceRegistryStale, "list instance registry", err)
	}

	var out []Instance
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(r.dir, e.Name()))
		if err != nil {
			continue
		}
		var inst Instance
		if err := json.Unmarshal(data, &inst); err != nil {
			continue
		}
		if prune && !IsAlive(inst) {
			_ = r.Unregister(inst.ID)
			continue
		}
		out = append(out, inst)
	}
	return out, nil
}

// Find returns the first registered instance whose process is alive, or
// ok=false if none is. Used by the Proxy to locate a daemon to connect to
// without auto-spawning a new one.
func (r *Registry) Find(prune bool) (Instance, bool, error) {
	instances, err := r.List(prune)
	if err != nil {
		return Instance{}, false, err
	}
	for _, inst := range instances {
		if IsAlive(inst) {
			return inst, true, nil
		}
	}
	return Instance{}, false, nil
}

// FindByID returns the entry with the given id, if present and alive.
// Used by CLI subcommands honoring an explicit --instance flag instead of
// falling back to "the first live one".
func (r *Registry) FindByID(id string, prune bool) (Instance, bool, error) {
	instances, err := r.List(prune)
	if err != nil {
		return Instance{}, false, err
	}
	for _, inst := range instances {
		if inst.ID == id && IsAlive(inst) {
			return inst, true, nil
		}
	}
	return Instance{}, false, nil
}

// IsAlive probes whether inst's process still exists. On POSIX, signal 0
// checks existence/permission without actually sending a signal; a
// permission error still means the process exists.
func IsAlive(inst Instance) bool {
	if inst.PID <= 0 {
		return false
	}
	proc, err := os.FindProcess(inst.PID)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}
