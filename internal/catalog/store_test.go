package catalog

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func tool(upstream, name, desc string) CatalogedTool {
	return CatalogedTool{
		UpstreamKey: upstream,
		ToolName:    name,
		Description: desc,
		InputSchema: json.RawMessage(`{"type":"object","properties":{"path":{"type":"string"}}}`),
	}
}

func TestIndexAndGetTool(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.IndexTool(ctx, tool("fs", "read_file", "reads a file from disk")))

	got, found, err := s.GetTool(ctx, "fs", "read_file")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "reads a file from disk", got.Description)
	assert.NotEmpty(t, got.SchemaHash)
}

func TestIndexToolClearsEmbeddingOnSchemaChange(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.IndexTool(ctx, tool("fs", "read_file", "v1")))
	require.NoError(t, s.UpdateEmbeddings(ctx, map[string][]float32{"fs:read_file": {0.1, 0.2, 0.3}}))

	got, _, err := s.GetTool(ctx, "fs", "read_file")
	require.NoError(t, err)
	assert.NotEmpty(t, got.Embedding)

	changed := tool("fs", "read_file", "v1")
	changed.InputSchema = json.RawMessage(`{"type":"object","properties":{"path":{"type":"string"},"mode":{"type":"string"}}}`)
	require.NoError(t, s.IndexTool(ctx, changed))

	got, _, err = s.GetTool(ctx, "fs", "read_file")
	require.NoError(t, err)
	assert.Empty(t, got.Embedding, "embedding should be cleared when schema hash changes")
}

func TestIndexToolKeepsEmbeddingWhenSchemaUnchanged(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.IndexTool(ctx, tool("fs", "read_file", "v1")))
	require.NoError(t, s.UpdateEmbeddings(ctx, map[string][]float32{"fs:read_file": {0.1, 0.2, 0.3}}))

	require.NoError(t, s.IndexTool(ctx, tool("fs", "read_file", "v1 updated description")))

	got, _, err := s.GetTool(ctx, "fs", "read_file")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, got.Embedding)
	assert.Equal(t, "v1 updated description", got.Description)
}

func TestRemoveToolsForUpstream(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.IndexTools(ctx, []CatalogedTool{
		tool("fs", "read_file", "reads"),
		tool("fs", "write_file", "writes"),
		tool("net", "fetch", "fetches"),
	}))

	n, err := s.RemoveToolsForUpstream(ctx, "fs")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	all, err := s.GetAllTools(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "net", all[0].UpstreamKey)
}

func TestSearchFindsByDescriptionToken(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.IndexTools(ctx, []CatalogedTool{
		tool("fs", "read_file", "reads file contents from local disk"),
		tool("net", "fetch_url", "fetches a remote http resource"),
	}))

	hits, err := s.Search(ctx, "disk", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "read_file", hits[0].Tool.ToolName)
}

func TestSearchEmptyQueryReturnsNothing(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	require.NoError(t, s.IndexTool(ctx, tool("fs", "read_file", "reads")))

	hits, err := s.Search(ctx, "   ", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestCooccurrenceRecordAndQuery(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.RecordCooccurrence(ctx, "fs:read_file", "fs:write_file"))
	require.NoError(t, s.RecordCooccurrence(ctx, "fs:write_file", "fs:read_file")) // reversed order, same pair
	require.NoError(t, s.RecordCooccurrence(ctx, "fs:read_file", "net:fetch_url"))

	related, err := s.GetRelatedTools(ctx, "fs:read_file", 1, 10)
	require.NoError(t, err)
	require.Len(t, related, 2)
	assert.Equal(t, 2, related[0].Count, "reversed-order pairs must accumulate onto the same counter")
}

func TestClearCooccurrencesResetsCounters(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	require.NoError(t, s.RecordCooccurrence(ctx, "a", "b"))

	n, err := s.ClearCooccurrences(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	count, err := s.GetCooccurrenceCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestGetSuggestedBundlesExcludesInputSet(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	require.NoError(t, s.RecordCooccurrence(ctx, "fs:read_file", "fs:write_file"))
	require.NoError(t, s.RecordCooccurrence(ctx, "fs:read_file", "fs:write_file"))
	require.NoError(t, s.RecordCooccurrence(ctx, "fs:read_file", "net:fetch_url"))

	suggestions, err := s.GetSuggestedBundles(ctx, []string{"fs:read_file"}, 1, 5)
	require.NoError(t, err)
	assert.Contains(t, suggestions, "fs:write_file")
	assert.NotContains(t, suggestions, "fs:read_file")
	assert.Equal(t, "fs:write_file", suggestions[0], "higher count should rank first")
}

func TestClearRemovesEverything(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	require.NoError(t, s.IndexTool(ctx, tool("fs", "read_file", "reads")))
	require.NoError(t, s.RecordCooccurrence(ctx, "a", "b"))

	require.NoError(t, s.Clear(ctx))

	n, err := s.GetToolCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	cn, err := s.GetCooccurrenceCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, cn)
}
