// Package catalog implements the Tool Catalog & Retriever: an on-disk
// full-text (with optional vector-reranked) index over the union of
// upstream tool schemas, change detection, and incremental refresh (spec
// sections 3 and 4.2-4.3). The store itself is the one genuinely new
// storage layer this broker needs beyond what the teacher repo carries;
// it is grounded on the teacher's own storage idioms (sync.Map-backed
// in-memory maps in internal/session/cache.go, atomic txn-style mutation
// in broker.go's toolMapping) generalized to a durable, queryable store
// backed by modernc.org/sqlite — the closest embedded, dependency-light
// database/sql driver to what every other pack repo reaches for when it
// needs more than an in-memory map (pgx/v5 for Postgres, go-duckdb for
// embedded analytics).
package catalog

import (
	"encoding/json"
	"time"
)

// CatalogedTool is the normalized record for one tool from one upstream.
type CatalogedTool struct {
	UpstreamKey string
	ToolName    string
	Description string
	InputSchema json.RawMessage
}

// QualifiedName returns "upstreamKey:toolName".
func (t CatalogedTool) QualifiedName() string {
	return t.UpstreamKey + ":" + t.ToolName
}

// SplitQualifiedName splits a qualified name on its first colon, per spec
// section 3's parse rule. ok is false if name contains no colon.
func SplitQualifiedName(name string) (upstreamKey, bareName string, ok bool) {
	for i := 0; i < len(name); i++ {
		if name[i] == ':' {
			return name[:i], name[i+1:], true
		}
	}
	return "", name, false
}

// IndexedTool is the persisted form of a CatalogedTool plus a schema hash
// (for change detection) and an optional fixed-length embedding vector.
type IndexedTool struct {
	CatalogedTool
	SchemaHash string
	Embedding  []float32
}

// ToolSnapshot maps qualified tool name to schema hash at an instant.
type ToolSnapshot struct {
	Hashes    map[string]string
	Timestamp time.Time
}

// ToolChanges is the result of diffing two ToolSnapshots for one upstream
// (or the wildcard aggregate).
type ToolChanges struct {
	UpstreamKey string // "*" for the wildcard aggregate
	Added       []string
	Removed     []string
	Modified    []string
	DetectedAt  time.Time
}

// DetectChanges diffs two snapshots, returning the added/removed/modified
// bare tool names, per spec section 3's definitions:
//   added    = in after but not before
//   removed  = in before but not after
//   modified = in both but with a different hash
func DetectChanges(upstreamKey string, before, after ToolSnapshot) ToolChanges {
	changes := ToolChanges{UpstreamKey: upstreamKey, DetectedAt: after.Timestamp}
	for name, afterHash := range after.Hashes {
		beforeHash, existed := before.Hashes[name]
		if !existed {
			changes.Added = append(changes.Added, name)
		} else if beforeHash != afterHash {
			changes.Modified = append(changes.Modified, name)
		}
	}
	for name := range before.Hashes {
		if _, stillThere := after.Hashes[name]; !stillThere {
			changes.Removed = append(changes.Removed, name)
		}
	}
	return changes
}

// CooccurrenceEntry is one unordered pair-count row. ToolKeyA is always
// lexicographically less than ToolKeyB.
type CooccurrenceEntry struct {
	ToolKeyA string
	ToolKeyB string
	Count    int
}

// OrderPair returns (a, b) reordered so the first return value sorts
// lexicographically before the second, implementing the unordered-pair
// invariant from spec section 3.
func OrderPair(a, b string) (string, string) {
	if a <= b {
		return a, b
	}
	return b, a
}
