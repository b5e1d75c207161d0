package session

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aditzel/mcp-squared/internal/appconfig"
	"github.com/aditzel/mcp-squared/internal/catalog"
	"github.com/aditzel/mcp-squared/internal/policy"
	"github.com/aditzel/mcp-squared/internal/upstream"
)

type fakeUpstream struct {
	key           string
	state         upstream.State
	tools         []catalog.CatalogedTool
	serverName    string
	serverVersion string
	transport     string

	callText string
	callErr  bool
	err      error
}

func (f *fakeUpstream) Key() string                          { return f.key }
func (f *fakeUpstream) State() upstream.State                { return f.state }
func (f *fakeUpstream) CachedTools() []catalog.CatalogedTool { return f.tools }
func (f *fakeUpstream) CallTool(_ context.Context, _ string, _ map[string]any) (string, bool, error) {
	return f.callText, f.callErr, f.err
}
func (f *fakeUpstream) ServerInfo() (string, string) { return f.serverName, f.serverVersion }
func (f *fakeUpstream) Transport() string            { return f.transport }

type fakeRegistry struct {
	byKey map[string]*fakeUpstream
}

func (r *fakeRegistry) Get(key string) (UpstreamHandle, bool) {
	h, ok := r.byKey[key]
	if !ok {
		return nil, false
	}
	return h, true
}

func (r *fakeRegistry) All() []UpstreamHandle {
	out := make([]UpstreamHandle, 0, len(r.byKey))
	for _, h := range r.byKey {
		out = append(out, h)
	}
	return out
}

func testConfig() *appconfig.Config {
	cfg := &appconfig.Config{}
	cfg.ApplyDefaults()
	cfg.Permissive()
	return cfg
}

func newTestServer(t *testing.T, registry *fakeRegistry) *Server {
	t.Helper()
	store, err := catalog.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	retriever := catalog.NewRetriever(store, catalog.NoopEmbeddingGenerator{})

	cfg := testConfig()
	policyCfg, err := policy.Compile(cfg.Security.Allow, cfg.Security.Block, cfg.Security.Confirm)
	require.NoError(t, err)
	engine := policy.NewEngine(policyCfg)

	logger := slog.New(slog.NewTextHandler(discardWriter{}, nil))
	return NewServer(retriever, registry, engine, cfg, logger)
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func callToolReq(args map[string]interface{}) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	return req
}

func TestHandleFindToolsReturnsMatchingTool(t *testing.T) {
	registry := &fakeRegistry{byKey: map[string]*fakeUpstream{}}
	s := newTestServer(t, registry)
	ctx := context.Background()

	require.NoError(t, s.retriever.Store().IndexTool(ctx, catalog.CatalogedTool{
		UpstreamKey: "fs", ToolName: "read_file", Description: "reads file contents from disk",
		InputSchema: []byte(`{"type":"object"}`),
	}))

	result, err := s.handleFindTools(ctx, callToolReq(map[string]interface{}{"query": "disk"}))
	require.NoError(t, err)
	text := resultText(t, result)

	var found findToolsResponse
	require.NoError(t, json.Unmarshal([]byte(text), &found))
	require.Len(t, found.Tools, 1)
	assert.Equal(t, "fs:read_file", found.Tools[0].Name)
	assert.Equal(t, "disk", found.Query)
	assert.Equal(t, 1, found.TotalMatches)
}

func TestHandleExecuteConfirmRequiredWithoutToken(t *testing.T) {
	registry := &fakeRegistry{byKey: map[string]*fakeUpstream{
		"fs": {key: "fs", state: upstream.StateConnected, callText: "ok"},
	}}
	s := newTestServer(t, registry)
	cfg := testConfig()
	cfg.Security.Allow = nil
	cfg.Security.Confirm = []string{"*:*"}
	s.SetConfig(cfg)
	policyCfg, err := policy.Compile(cfg.Security.Allow, cfg.Security.Block, cfg.Security.Confirm)
	require.NoError(t, err)
	s.engine.SetPolicy(policyCfg)

	ctx := context.Background()
	result, err := s.handleExecute(ctx, callToolReq(map[string]interface{}{"tool": "fs:read_file"}))
	require.NoError(t, err)
	text := resultText(t, result)
	assert.Contains(t, text, "confirmation_required")
}

func TestHandleExecuteAllowedCallsUpstream(t *testing.T) {
	upstreamHandle := &fakeUpstream{key: "fs", state: upstream.StateConnected, callText: "file contents"}
	registry := &fakeRegistry{byKey: map[string]*fakeUpstream{"fs": upstreamHandle}}
	s := newTestServer(t, registry) // testConfig() is permissive: allow=*:*

	ctx := context.Background()
	result, err := s.handleExecute(ctx, callToolReq(map[string]interface{}{"tool": "fs:read_file"}))
	require.NoError(t, err)
	assert.Equal(t, "file contents", resultText(t, result))
}

func TestHandleExecuteBlockedToolReturnsError(t *testing.T) {
	registry := &fakeRegistry{byKey: map[string]*fakeUpstream{
		"fs": {key: "fs", state: upstream.StateConnected},
	}}
	s := newTestServer(t, registry)
	cfg := testConfig()
	cfg.Security.Allow = []string{"*:*"}
	cfg.Security.Block = []string{"fs:delete_file"}
	s.SetConfig(cfg)
	policyCfg, err := policy.Compile(cfg.Security.Allow, cfg.Security.Block, cfg.Security.Confirm)
	require.NoError(t, err)
	s.engine.SetPolicy(policyCfg)

	ctx := context.Background()
	result, err := s.handleExecute(ctx, callToolReq(map[string]interface{}{"tool": "fs:delete_file"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestHandleListNamespacesReturnsEveryUpstream(t *testing.T) {
	registry := &fakeRegistry{byKey: map[string]*fakeUpstream{
		"fs":  {key: "fs", state: upstream.StateConnected, tools: []catalog.CatalogedTool{{ToolName: "read_file"}}},
		"net": {key: "net", state: upstream.StateError},
	}}
	s := newTestServer(t, registry)

	result, err := s.handleListNamespaces(context.Background(), callToolReq(nil))
	require.NoError(t, err)
	var listed listNamespacesResult
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &listed))
	require.Len(t, listed.Namespaces, 2)
}

func TestHandleDescribeToolsReportsAmbiguousBareName(t *testing.T) {
	registry := &fakeRegistry{byKey: map[string]*fakeUpstream{}}
	s := newTestServer(t, registry)
	ctx := context.Background()

	require.NoError(t, s.retriever.Store().IndexTool(ctx, catalog.CatalogedTool{
		UpstreamKey: "fs", ToolName: "search", Description: "searches the filesystem",
		InputSchema: []byte(`{"type":"object"}`),
	}))
	require.NoError(t, s.retriever.Store().IndexTool(ctx, catalog.CatalogedTool{
		UpstreamKey: "web", ToolName: "search", Description: "searches the web",
		InputSchema: []byte(`{"type":"object"}`),
	}))

	result, err := s.handleDescribeTools(ctx, callToolReq(map[string]interface{}{
		"names": []interface{}{"search"},
	}))
	require.NoError(t, err)
	var described describeToolsResponse
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &described))
	require.Empty(t, described.Tools)
	require.Len(t, described.Ambiguous, 1)
	assert.Equal(t, "search", described.Ambiguous[0].Name)
	assert.Equal(t, []string{"fs:search", "web:search"}, described.Ambiguous[0].Alternatives)
}

func TestHandleExecuteAmbiguousBareNameReturnsAlternatives(t *testing.T) {
	registry := &fakeRegistry{byKey: map[string]*fakeUpstream{
		"fs":  {key: "fs", state: upstream.StateConnected},
		"web": {key: "web", state: upstream.StateConnected},
	}}
	s := newTestServer(t, registry)
	ctx := context.Background()

	require.NoError(t, s.retriever.Store().IndexTool(ctx, catalog.CatalogedTool{
		UpstreamKey: "fs", ToolName: "search", Description: "searches the filesystem",
		InputSchema: []byte(`{"type":"object"}`),
	}))
	require.NoError(t, s.retriever.Store().IndexTool(ctx, catalog.CatalogedTool{
		UpstreamKey: "web", ToolName: "search", Description: "searches the web",
		InputSchema: []byte(`{"type":"object"}`),
	}))

	result, err := s.handleExecute(ctx, callToolReq(map[string]interface{}{"tool": "search"}))
	require.NoError(t, err)
	text := resultText(t, result)
	assert.Contains(t, text, `"ambiguous":true`)
	assert.Contains(t, text, "fs:search")
	assert.Contains(t, text, "web:search")
}

func TestHandleClearSelectionCacheResetsState(t *testing.T) {
	registry := &fakeRegistry{byKey: map[string]*fakeUpstream{}}
	s := newTestServer(t, registry)
	ctx := context.Background()

	require.NoError(t, s.retriever.RecordExecution(ctx, []string{"fs:a", "fs:b"}))
	s.engine.Evaluate("fs", "a", "")

	result, err := s.handleClearSelectionCache(ctx, callToolReq(nil))
	require.NoError(t, err)
	var counts map[string]int
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &counts))
	assert.Equal(t, 1, counts["cooccurrencePairsCleared"])
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content)
	tc, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok)
	return tc.Text
}
