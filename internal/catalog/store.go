package catalog

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	_ "modernc.org/sqlite" // registers the "sqlite" database/sql driver

	"github.com/aditzel/mcp-squared/internal/mcperr"
)

const schemaDDL = `
CREATE TABLE IF NOT EXISTS tools (
	upstream_key TEXT NOT NULL,
	tool_name    TEXT NOT NULL,
	description  TEXT NOT NULL DEFAULT '',
	input_schema TEXT NOT NULL,
	schema_hash  TEXT NOT NULL,
	embedding    BLOB,
	PRIMARY KEY (upstream_key, tool_name)
);

CREATE VIRTUAL TABLE IF NOT EXISTS tools_fts USING fts5(
	upstream_key UNINDEXED,
	tool_name,
	description
);

CREATE TABLE IF NOT EXISTS cooccurrence (
	tool_a TEXT NOT NULL,
	tool_b TEXT NOT NULL,
	count  INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (tool_a, tool_b)
);
`

// Store is the on-disk, keyed Index Store from spec section 4.2: full-text
// and optional vector lookup over tool rows, schema-hash change detection,
// and co-occurrence counts. It is backed by modernc.org/sqlite (a pure-Go,
// CGo-free SQLite implementation), the pick closest in spirit to the
// teacher's own preference for dependency-light, embeddable components
// (the teacher embeds its entire k8s CRD/controller state in etcd via
// controller-runtime rather than standing up its own database — this is
// the analogous "just enough database" for a process-local tool catalog).
//
// Every exported method here commits its write before returning, per the
// store's "every write is durable before return" contract; a single
// sync.Mutex serializes writers (spec section 5: "No long-running
// computation holds the single writer lock of the index store").
type Store struct {
	db       *sql.DB
	writeMu  sync.Mutex
}

// Open creates or opens a Store at path (use ":memory:" for tests, or a
// file path with query parameters such as "?_pragma=busy_timeout(5000)").
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, mcperr.Wrap(mcperr.CodeIndexStoreIO, "open index store", err)
	}
	db.SetMaxOpenConns(1) // sqlite: single writer, and we serialize writes ourselves anyway
	if _, err := db.Exec(schemaDDL); err != nil {
		_ = db.Close()
		return nil, mcperr.Wrap(mcperr.CodeIndexStoreIO, "create index store schema", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Clear deletes every row from every table. clear_selection_cache does not
// use it; that path clears only co-occurrence counters.
func (s *Store) Clear(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mcperr.Wrap(mcperr.CodeIndexStoreIO, "begin clear", err)
	}
	defer func() { _ = tx.Rollback() }()
	for _, stmt := range []string{"DELETE FROM tools", "DELETE FROM tools_fts", "DELETE FROM cooccurrence"} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return mcperr.Wrap(mcperr.CodeIndexStoreIO, "clear "+stmt, err)
		}
	}
	return tx.Commit()
}

// IndexTool inserts or replaces the row keyed by (upstreamKey, toolName),
// recomputing the schema hash and clearing any stale embedding if the
// schema changed, per spec section 4.2.
func (s *Store) IndexTool(ctx context.Context, t CatalogedTool) error {
	return s.IndexTools(ctx, []CatalogedTool{t})
}

// IndexTools applies a batch of indexTool operations atomically: observers
// see either all the changes or none.
func (s *Store) IndexTools(ctx context.Context, batch []CatalogedTool) error {
	if len(batch) == 0 {
		return nil
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mcperr.Wrap(mcperr.CodeIndexStoreIO, "begin indexTools", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, t := range batch {
		if err := indexToolTx(ctx, tx, t); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return mcperr.Wrap(mcperr.CodeIndexStoreIO, "commit indexTools", err)
	}
	return nil
}

func indexToolTx(ctx context.Context, tx *sql.Tx, t CatalogedTool) error {
	newHash, err := SchemaHash(t.InputSchema)
	if err != nil {
		return mcperr.Wrap(mcperr.CodeIndexSchemaMismatch, "hash input schema for "+t.QualifiedName(), err)
	}

	var existingHash string
	var existingEmbedding []byte
	row := tx.QueryRowContext(ctx, `SELECT schema_hash, embedding FROM tools WHERE upstream_key = ? AND tool_name = ?`,
		t.UpstreamKey, t.ToolName)
	err = row.Scan(&existingHash, &existingEmbedding)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		existingEmbedding = nil
	case err != nil:
		return mcperr.Wrap(mcperr.CodeIndexStoreIO, "read existing row for "+t.QualifiedName(), err)
	}

	keepEmbedding := existingEmbedding
	if existingHash != newHash {
		keepEmbedding = nil // schema changed: embedding is stale
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO tools (upstream_key, tool_name, description, input_schema, schema_hash, embedding)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(upstream_key, tool_name) DO UPDATE SET
			description = excluded.description,
			input_schema = excluded.input_schema,
			schema_hash = excluded.schema_hash,
			embedding = excluded.embedding
	`, t.UpstreamKey, t.ToolName, t.Description, string(t.InputSchema), newHash, keepEmbedding); err != nil {
		return mcperr.Wrap(mcperr.CodeIndexStoreIO, "upsert "+t.QualifiedName(), err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM tools_fts WHERE upstream_key = ? AND tool_name = ?`,
		t.UpstreamKey, t.ToolName); err != nil {
		return mcperr.Wrap(mcperr.CodeIndexStoreIO, "refresh fts row for "+t.QualifiedName(), err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO tools_fts (upstream_key, tool_name, description) VALUES (?, ?, ?)`,
		t.UpstreamKey, t.ToolName, t.Description); err != nil {
		return mcperr.Wrap(mcperr.CodeIndexStoreIO, "index fts row for "+t.QualifiedName(), err)
	}
	return nil
}

// RemoveToolsForUpstream deletes every row with the given upstream key,
// returning the removed count.
func (s *Store) RemoveToolsForUpstream(ctx context.Context, upstreamKey string) (int, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, mcperr.Wrap(mcperr.CodeIndexStoreIO, "begin removeToolsForUpstream", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `DELETE FROM tools WHERE upstream_key = ?`, upstreamKey)
	if err != nil {
		return 0, mcperr.Wrap(mcperr.CodeIndexStoreIO, "delete tools for "+upstreamKey, err)
	}
	n, _ := res.RowsAffected()

	if _, err := tx.ExecContext(ctx, `DELETE FROM tools_fts WHERE upstream_key = ?`, upstreamKey); err != nil {
		return 0, mcperr.Wrap(mcperr.CodeIndexStoreIO, "delete fts rows for "+upstreamKey, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, mcperr.Wrap(mcperr.CodeIndexStoreIO, "commit removeToolsForUpstream", err)
	}
	return int(n), nil
}

// GetTool reads one row by identity, returning (tool, found).
func (s *Store) GetTool(ctx context.Context, upstreamKey, toolName string) (IndexedTool, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT upstream_key, tool_name, description, input_schema, schema_hash, embedding
		FROM tools WHERE upstream_key = ? AND tool_name = ?`, upstreamKey, toolName)
	return scanIndexedTool(row)
}

// GetToolsForUpstream returns every row for one upstream, ordered by tool name.
func (s *Store) GetToolsForUpstream(ctx context.Context, upstreamKey string) ([]IndexedTool, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT upstream_key, tool_name, description, input_schema, schema_hash, embedding
		FROM tools WHERE upstream_key = ? ORDER BY tool_name ASC`, upstreamKey)
	if err != nil {
		return nil, mcperr.Wrap(mcperr.CodeIndexStoreIO, "getToolsForUpstream", err)
	}
	defer rows.Close()
	return scanIndexedTools(rows)
}

// GetAllTools returns every indexed row, ordered by upstream key then tool name.
func (s *Store) GetAllTools(ctx context.Context) ([]IndexedTool, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT upstream_key, tool_name, description, input_schema, schema_hash, embedding
		FROM tools ORDER BY upstream_key ASC, tool_name ASC`)
	if err != nil {
		return nil, mcperr.Wrap(mcperr.CodeIndexStoreIO, "getAllTools", err)
	}
	defer rows.Close()
	return scanIndexedTools(rows)
}

// GetToolCount returns the number of distinct (upstreamKey, toolName) rows.
func (s *Store) GetToolCount(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tools`).Scan(&n); err != nil {
		return 0, mcperr.Wrap(mcperr.CodeIndexStoreIO, "getToolCount", err)
	}
	return n, nil
}

// Snapshot calls at and wraps the hashes it returns in a ToolSnapshot. It
// does not read the store itself and leaves Timestamp zero.
func (s *Store) Snapshot(ctx context.Context, at func() (hashes map[string]string, err error)) (ToolSnapshot, error) {
	hashes, err := at()
	return ToolSnapshot{Hashes: hashes}, err
}

// ScanResult is one search hit.
type ScanResult struct {
	Tool  IndexedTool
	Score float64
}

// Search returns up to limit rows whose tokenized name or description
// matches query by fts5's built-in BM25 ranking, breaking ties by upstream
// key then tool name ascending. Empty or whitespace-only queries yield an
// empty list.
func (s *Store) Search(ctx context.Context, query string, limit int) ([]ScanResult, error) {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return nil, nil
	}
	matchQuery := ftsMatchQuery(trimmed)

	rows, err := s.db.QueryContext(ctx, `
		SELECT t.upstream_key, t.tool_name, t.description, t.input_schema, t.schema_hash, t.embedding,
		       bm25(tools_fts) AS rank
		FROM tools_fts
		JOIN tools t ON t.upstream_key = tools_fts.upstream_key AND t.tool_name = tools_fts.tool_name
		WHERE tools_fts MATCH ?
		ORDER BY rank ASC, t.upstream_key ASC, t.tool_name ASC
		LIMIT ?
	`, matchQuery, limit)
	if err != nil {
		return nil, mcperr.Wrap(mcperr.CodeIndexStoreIO, "search", err)
	}
	defer rows.Close()

	var out []ScanResult
	for rows.Next() {
		var it IndexedTool
		var schema string
		var embedding []byte
		var rank float64
		if err := rows.Scan(&it.UpstreamKey, &it.ToolName, &it.Description, &schema, &it.SchemaHash, &embedding, &rank); err != nil {
			return nil, mcperr.Wrap(mcperr.CodeIndexStoreIO, "scan search row", err)
		}
		it.InputSchema = []byte(schema)
		it.Embedding = decodeEmbedding(embedding)
		// bm25() returns lower-is-better; invert to a friendlier higher-is-better score.
		out = append(out, ScanResult{Tool: it, Score: -rank})
	}
	return out, rows.Err()
}

// SearchCount returns the total number of matches for query, ignoring limit.
func (s *Store) SearchCount(ctx context.Context, query string) (int, error) {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return 0, nil
	}
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tools_fts WHERE tools_fts MATCH ?`, ftsMatchQuery(trimmed)).Scan(&n)
	if err != nil {
		return 0, mcperr.Wrap(mcperr.CodeIndexStoreIO, "searchCount", err)
	}
	return n, nil
}

// SearchSemantic returns the nearest neighbors to queryVec by cosine
// similarity among rows that have an embedding.
func (s *Store) SearchSemantic(ctx context.Context, queryVec []float32, limit int) ([]ScanResult, error) {
	all, err := s.GetAllTools(ctx)
	if err != nil {
		return nil, err
	}
	var scored []ScanResult
	for _, t := range all {
		if len(t.Embedding) == 0 {
			continue
		}
		scored = append(scored, ScanResult{Tool: t, Score: cosineSimilarity(queryVec, t.Embedding)})
	}
	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].Tool.UpstreamKey < scored[j].Tool.UpstreamKey
	})
	if limit > 0 && len(scored) > limit {
		scored = scored[:limit]
	}
	return scored, nil
}

// UpdateEmbeddings attaches vectors to existing rows. A mismatched vector
// length among the batch fails the whole batch before any writes land.
func (s *Store) UpdateEmbeddings(ctx context.Context, updates map[string][]float32) error {
	if len(updates) == 0 {
		return nil
	}
	var dim int
	for _, vec := range updates {
		if dim == 0 {
			dim = len(vec)
		} else if len(vec) != dim {
			return mcperr.New(mcperr.CodeIndexSchemaMismatch, "updateEmbeddings: mismatched vector length in batch")
		}
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mcperr.Wrap(mcperr.CodeIndexStoreIO, "begin updateEmbeddings", err)
	}
	defer func() { _ = tx.Rollback() }()

	for qualified, vec := range updates {
		upstreamKey, toolName, ok := SplitQualifiedName(qualified)
		if !ok {
			return mcperr.New(mcperr.CodeIndexSchemaMismatch, "updateEmbeddings: not a qualified name: "+qualified)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE tools SET embedding = ? WHERE upstream_key = ? AND tool_name = ?`,
			encodeEmbedding(vec), upstreamKey, toolName); err != nil {
			return mcperr.Wrap(mcperr.CodeIndexStoreIO, "update embedding for "+qualified, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return mcperr.Wrap(mcperr.CodeIndexStoreIO, "commit updateEmbeddings", err)
	}
	return nil
}

// RecordCooccurrence increments the unordered pair (a, b) by one.
func (s *Store) RecordCooccurrence(ctx context.Context, a, b string) error {
	return s.RecordCooccurrences(ctx, []string{a, b})
}

// RecordCooccurrences increments every unordered pair among names in one
// transaction. A single-element list is a no-op.
func (s *Store) RecordCooccurrences(ctx context.Context, names []string) error {
	if len(names) < 2 {
		return nil
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mcperr.Wrap(mcperr.CodeIndexStoreIO, "begin recordCooccurrences", err)
	}
	defer func() { _ = tx.Rollback() }()

	for i := 0; i < len(names); i++ {
		for j := i + 1; j < len(names); j++ {
			a, b := OrderPair(names[i], names[j])
			if a == b {
				continue
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO cooccurrence (tool_a, tool_b, count) VALUES (?, ?, 1)
				ON CONFLICT(tool_a, tool_b) DO UPDATE SET count = count + 1
			`, a, b); err != nil {
				return mcperr.Wrap(mcperr.CodeIndexStoreIO, "increment cooccurrence", err)
			}
		}
	}
	return tx.Commit()
}

// GetRelatedTools returns tools that co-occur with key at least minCount
// times, ordered by count descending, capped at limit.
func (s *Store) GetRelatedTools(ctx context.Context, key string, minCount, limit int) ([]CooccurrenceEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tool_a, tool_b, count FROM cooccurrence
		WHERE (tool_a = ? OR tool_b = ?) AND count >= ?
		ORDER BY count DESC, tool_a ASC, tool_b ASC
		LIMIT ?
	`, key, key, minCount, limit)
	if err != nil {
		return nil, mcperr.Wrap(mcperr.CodeIndexStoreIO, "getRelatedTools", err)
	}
	defer rows.Close()

	var out []CooccurrenceEntry
	for rows.Next() {
		var e CooccurrenceEntry
		if err := rows.Scan(&e.ToolKeyA, &e.ToolKeyB, &e.Count); err != nil {
			return nil, mcperr.Wrap(mcperr.CodeIndexStoreIO, "scan cooccurrence row", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// GetSuggestedBundles scores candidate tool sets that co-occur with any of
// keys at least minCount times and returns up to limit suggestions as
// qualified tool names, excluding keys already in the input set.
func (s *Store) GetSuggestedBundles(ctx context.Context, keys []string, minCount, limit int) ([]string, error) {
	seen := map[string]bool{}
	for _, k := range keys {
		seen[k] = true
	}
	scores := map[string]int{}
	for _, k := range keys {
		related, err := s.GetRelatedTools(ctx, k, minCount, limit*4+16)
		if err != nil {
			return nil, err
		}
		for _, e := range related {
			other := e.ToolKeyA
			if other == k {
				other = e.ToolKeyB
			}
			if seen[other] {
				continue
			}
			if e.Count > scores[other] {
				scores[other] = e.Count
			}
		}
	}
	type scored struct {
		name  string
		count int
	}
	var ranked []scored
	for name, count := range scores {
		ranked = append(ranked, scored{name, count})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].count != ranked[j].count {
			return ranked[i].count > ranked[j].count
		}
		return ranked[i].name < ranked[j].name
	})
	if limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}
	out := make([]string, len(ranked))
	for i, r := range ranked {
		out[i] = r.name
	}
	return out, nil
}

// ClearCooccurrences resets all co-occurrence counters, returning the
// number of pairs that were present.
func (s *Store) ClearCooccurrences(ctx context.Context) (int, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	n, err := s.GetCooccurrenceCount(ctx)
	if err != nil {
		return 0, err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM cooccurrence`); err != nil {
		return 0, mcperr.Wrap(mcperr.CodeIndexStoreIO, "clearCooccurrences", err)
	}
	return n, nil
}

// GetCooccurrenceCount returns the number of distinct tracked pairs.
func (s *Store) GetCooccurrenceCount(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cooccurrence`).Scan(&n); err != nil {
		return 0, mcperr.Wrap(mcperr.CodeIndexStoreIO, "getCooccurrenceCount", err)
	}
	return n, nil
}

func scanIndexedTool(row *sql.Row) (IndexedTool, bool, error) {
	var it IndexedTool
	var schema string
	var embedding []byte
	err := row.Scan(&it.UpstreamKey, &it.ToolName, &it.Description, &schema, &it.SchemaHash, &embedding)
	if errors.Is(err, sql.ErrNoRows) {
		return IndexedTool{}, false, nil
	}
	if err != nil {
		return IndexedTool{}, false, mcperr.Wrap(mcperr.CodeIndexStoreIO, "getTool", err)
	}
	it.InputSchema = []byte(schema)
	it.Embedding = decodeEmbedding(embedding)
	return it, true, nil
}

func scanIndexedTools(rows *sql.Rows) ([]IndexedTool, error) {
	var out []IndexedTool
	for rows.Next() {
		var it IndexedTool
		var schema string
		var embedding []byte
		if err := rows.Scan(&it.UpstreamKey, &it.ToolName, &it.Description, &schema, &it.SchemaHash, &embedding); err != nil {
			return nil, mcperr.Wrap(mcperr.CodeIndexStoreIO, "scan row", err)
		}
		it.InputSchema = []byte(schema)
		it.Embedding = decodeEmbedding(embedding)
		out = append(out, it)
	}
	return out, rows.Err()
}

// ftsMatchQuery quotes each token so fts5 treats the query as a prefix
// phrase search rather than parsing stray punctuation as fts5 operators.
func ftsMatchQuery(query string) string {
	fields := strings.Fields(query)
	quoted := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.ReplaceAll(f, `"`, ``)
		if f == "" {
			continue
		}
		quoted = append(quoted, fmt.Sprintf(`"%s"*`, f))
	}
	return strings.Join(quoted, " ")
}

func encodeEmbedding(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, f := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeEmbedding(buf []byte) []float32 {
	if len(buf) == 0 {
		return nil
	}
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return -1
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
