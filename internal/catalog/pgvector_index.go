package catalog

import (
	"context"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
)

// VectorIndex is an optional out-of-process nearest-neighbor search
// backend for tool embeddings, used in place of Store's in-process
// cosine scan over sqlite BLOB rows once a catalog grows past what a
// full table scan can rank quickly. Retriever falls back to the sqlite
// scan whenever no VectorIndex is configured.
type VectorIndex interface {
	// Upsert stores or replaces the embedding for a qualified tool name.
	Upsert(ctx context.Context, upstreamKey, toolName string, embedding []float32) error
	// Delete removes a tool's embedding, e.g. when an upstream drops it.
	Delete(ctx context.Context, upstreamKey, toolName string) error
	// Search returns up to limit tools whose embeddings are closest to
	// queryVec by cosine distance, most similar first.
	Search(ctx context.Context, queryVec []float32, limit int) ([]VectorHit, error)
}

// VectorHit is one VectorIndex search result.
type VectorHit struct {
	UpstreamKey string
	ToolName    string
	Distance    float64
}

// PgVectorIndex stores tool embeddings in a Postgres table with a
// pgvector column, grounded on MrWong99-glyphoxa's
// pkg/memory/postgres/semantic_index.go: the same pgxpool.Pool +
// pgvector.NewVector upsert/nearest-neighbor query shape, narrowed from
// that package's session-scoped chunk table to one row per (upstream,
// tool) pair.
type PgVectorIndex struct {
	pool *pgxpool.Pool
}

// NewPgVectorIndex wraps an already-connected pool. The caller is
// responsible for having run the schema migration that creates the
// tool_embeddings table with a vector column of the right dimension and,
// optionally, an HNSW index on it.
func NewPgVectorIndex(pool *pgxpool.Pool) *PgVectorIndex {
	return &PgVectorIndex{pool: pool}
}

// EnsureSchema creates the tool_embeddings table and its pgvector column
// if they do not already exist, sized for dims-length vectors.
func (idx *PgVectorIndex) EnsureSchema(ctx context.Context, dims int) error {
	_, err := idx.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector")
	if err != nil {
		return fmt.Errorf("pgvector index: enable extension: %w", err)
	}
	_, err = idx.pool.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS tool_embeddings (
			upstream_key TEXT NOT NULL,
			tool_name    TEXT NOT NULL,
			embedding    vector(%d) NOT NULL,
			PRIMARY KEY (upstream_key, tool_name)
		)`, dims))
	if err != nil {
		return fmt.Errorf("pgvector index: create table: %w", err)
	}
	return nil
}

func (idx *PgVectorIndex) Upsert(ctx context.Context, upstreamKey, toolName string, embedding []float32) error {
	vec := pgvector.NewVector(embedding)
	_, err := idx.pool.Exec(ctx, `
		INSERT INTO tool_embeddings (upstream_key, tool_name, embedding)
		VALUES ($1, $2, $3)
		ON CONFLICT (upstream_key, tool_name) DO UPDATE SET embedding = EXCLUDED.embedding
	`, upstreamKey, toolName, vec)
	if err != nil {
		return fmt.Errorf("pgvector index: upsert %s:%s: %w", upstreamKey, toolName, err)
	}
	return nil
}

func (idx *PgVectorIndex) Delete(ctx context.Context, upstreamKey, toolName string) error {
	_, err := idx.pool.Exec(ctx, `DELETE FROM tool_embeddings WHERE upstream_key = $1 AND tool_name = $2`, upstreamKey, toolName)
	if err != nil {
		return fmt.Errorf("pgvector index: delete %s:%s: %w", upstreamKey, toolName, err)
	}
	return nil
}

func (idx *PgVectorIndex) Search(ctx context.Context, queryVec []float32, limit int) ([]VectorHit, error) {
	vec := pgvector.NewVector(queryVec)
	rows, err := idx.pool.Query(ctx, `
		SELECT upstream_key, tool_name, embedding <=> $1 AS distance
		FROM tool_embeddings
		ORDER BY embedding <=> $1
		LIMIT $2
	`, vec, limit)
	if err != nil {
		return nil, fmt.Errorf("pgvector index: search: %w", err)
	}
	defer rows.Close()

	var hits []VectorHit
	for rows.Next() {
		var h VectorHit
		if err := rows.Scan(&h.UpstreamKey, &h.ToolName, &h.Distance); err != nil {
			return nil, fmt.Errorf("pgvector index: scan hit: %w", err)
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Distance < hits[j].Distance })
	return hits, nil
}

