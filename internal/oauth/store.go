package oauth

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"

	"github.com/aditzel/mcp-squared/internal/mcperr"
)

// Store is the on-disk, one-file-per-upstream Token Store. Each record is
// written to a temp file and atomically renamed into place, and a
// per-upstream flock guards concurrent writers (the daemon process and a
// one-off `mcpsquared auth` CLI invocation can both be writing at once).
type Store struct {
	dir string
	mu  sync.Mutex
}

// NewStore builds a Store rooted at dir, creating it if necessary.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, mcperr.Wrap(mcperr.CodeTokenStoreIO, "create token store dir", err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) recordPath(upstreamKey string) string {
	return filepath.Join(s.dir, upstreamKey+".json")
}

func (s *Store) lockPath(upstreamKey string) string {
	return filepath.Join(s.dir, upstreamKey+".lock")
}

// Load reads the persisted record for upstreamKey, returning (record, found).
func (s *Store) Load(upstreamKey string) (TokenRecord, bool, error) {
	data, err := os.ReadFile(s.recordPath(upstreamKey))
	if os.IsNotExist(err) {
		return TokenRecord{}, false, nil
	}
	if err != nil {
		return TokenRecord{}, false, mcperr.Wrap(mcperr.CodeTokenStoreIO, "read token record for "+upstreamKey, err)
	}
	var rec TokenRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return TokenRecord{}, false, mcperr.Wrap(mcperr.CodeTokenStoreIO, "parse token record for "+upstreamKey, err)
	}
	return rec, true, nil
}

// Save persists rec atomically: write to a temp file in the same
// directory, fsync, then rename over the final path, so a crash never
// leaves a half-written record.
func (s *Store) Save(rec TokenRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock := flock.New(s.lockPath(rec.UpstreamKey))
	locked, err := lock.TryLock()
	if err != nil {
		return mcperr.Wrap(mcperr.CodeTokenStoreIO, "lock token store for "+rec.UpstreamKey, err)
	}
	if !locked {
		return mcperr.New(mcperr.CodeTokenStoreIO, "token store busy for "+rec.UpstreamKey)
	}
	defer func() { _ = lock.Unlock() }()

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return mcperr.Wrap(mcperr.CodeTokenStoreIO, "marshal token record for "+rec.UpstreamKey, err)
	}

	final := s.recordPath(rec.UpstreamKey)
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return mcperr.Wrap(mcperr.CodeTokenStoreIO, "write temp token record for "+rec.UpstreamKey, err)
	}
	f, err := os.Open(tmp)
	if err == nil {
		_ = f.Sync()
		_ = f.Close()
	}
	if err := os.Rename(tmp, final); err != nil {
		return mcperr.Wrap(mcperr.CodeTokenStoreIO, "rename token record for "+rec.UpstreamKey, err)
	}
	return nil
}

// Delete removes the persisted record for upstreamKey, if any.
func (s *Store) Delete(upstreamKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := os.Remove(s.recordPath(upstreamKey))
	if err != nil && !os.IsNotExist(err) {
		return mcperr.Wrap(mcperr.CodeTokenStoreIO, "delete token record for "+upstreamKey, err)
	}
	_ = os.Remove(s.lockPath(upstreamKey))
	return nil
}
