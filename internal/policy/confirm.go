package policy

import (
	"crypto/rand"
	"encoding/base64"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultTokenLifetime is the default confirmation token TTL (spec
// section 3: "default 10 minutes").
const DefaultTokenLifetime = 10 * time.Minute

// ConfirmationRecord is the short-lived mapping from an opaque token to
// the (upstreamKey, toolName, mintedAt) triple it guards.
type ConfirmationRecord struct {
	UpstreamKey string
	ToolName    string
	MintedAt    time.Time
}

// Clock abstracts time.Now so tests can control TTL expiry deterministically,
// per spec section 9's "single ConfirmationStore with interior locking ...
// so tests can inject a clock for TTL assertions."
type Clock func() time.Time

// ConfirmationStore is process-wide state tracking live confirmation
// tokens with TTL-based teardown. It is safe for concurrent use.
type ConfirmationStore struct {
	mu       sync.Mutex
	records  map[string]ConfirmationRecord
	lifetime time.Duration
	now      Clock
}

// NewConfirmationStore builds a store with the given token lifetime (use
// DefaultTokenLifetime in production) and clock (use time.Now in
// production).
func NewConfirmationStore(lifetime time.Duration, now Clock) *ConfirmationStore {
	if now == nil {
		now = time.Now
	}
	return &ConfirmationStore{
		records:  map[string]ConfirmationRecord{},
		lifetime: lifetime,
		now:      now,
	}
}

// Mint creates a fresh, single-use confirmation record for
// (upstreamKey, bareToolName) and returns its token.
func (s *ConfirmationStore) Mint(upstreamKey, bareToolName string) string {
	token := newToken()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[token] = ConfirmationRecord{
		UpstreamKey: upstreamKey,
		ToolName:    bareToolName,
		MintedAt:    s.now(),
	}
	return token
}

// Validate consumes token if it is live and matches (upstreamKey,
// bareToolName); it is erased on any terminal outcome (success, mismatch,
// or expiry), so a token can be validated at most once.
func (s *ConfirmationStore) Validate(token, upstreamKey, bareToolName string) bool {
	if token == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[token]
	if !ok {
		return false
	}
	delete(s.records, token) // single-use: erase regardless of outcome

	if s.now().Sub(rec.MintedAt) > s.lifetime {
		return false // expired
	}
	return rec.UpstreamKey == upstreamKey && rec.ToolName == bareToolName
}

// Clear removes every live token, returning the number removed (used by
// clear_selection_cache's counterpart for confirmations, and tests).
func (s *ConfirmationStore) Clear() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.records)
	s.records = map[string]ConfirmationRecord{}
	return n
}

// Count returns the number of currently live tokens (ignoring expiry).
func (s *ConfirmationStore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func newToken() string {
	// 128 bits of randomness, base64-url encoded, prefixed with a uuid to
	// keep tokens trivially distinguishable from schema hashes/IDs in logs.
	var buf [16]byte
	_, _ = rand.Read(buf[:])
	return uuid.New().String()[:8] + "." + base64.RawURLEncoding.EncodeToString(buf[:])
}
