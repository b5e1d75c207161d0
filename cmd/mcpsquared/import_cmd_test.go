package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pelletier/go-toml/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const externalFixture = `{
  "mcpServers": {
    "filesystem": {"command": "mcp-server-filesystem", "args": ["/data"]},
    "weather": {"url": "https://weather.example.com/mcp"}
  }
}`

func TestRunImportMergesStdioAndHTTPUpstreams(t *testing.T) {
	dir := t.TempDir()
	externalPath := filepath.Join(dir, "external.json")
	require.NoError(t, os.WriteFile(externalPath, []byte(externalFixture), 0o644))

	flags := &globalFlags{project: dir}
	require.NoError(t, runImport(flags, externalPath))

	data, err := os.ReadFile(filepath.Join(dir, "mcp-squared.toml"))
	require.NoError(t, err)

	var doc configDocument
	require.NoError(t, toml.Unmarshal(data, &doc))
	require.Contains(t, doc.Upstreams, "filesystem")
	assert.Equal(t, "mcp-server-filesystem", doc.Upstreams["filesystem"].Command)
	require.Contains(t, doc.Upstreams, "weather")
	assert.Equal(t, "https://weather.example.com/mcp", doc.Upstreams["weather"].URL)
}

func TestRunImportSkipsExistingUpstreamWithoutForce(t *testing.T) {
	dir := t.TempDir()
	externalPath := filepath.Join(dir, "external.json")
	require.NoError(t, os.WriteFile(externalPath, []byte(externalFixture), 0o644))

	flags := &globalFlags{project: dir}
	require.NoError(t, runImport(flags, externalPath))
	require.NoError(t, runImport(flags, externalPath)) // second run: everything already present

	data, err := os.ReadFile(filepath.Join(dir, "mcp-squared.toml"))
	require.NoError(t, err)
	var doc configDocument
	require.NoError(t, toml.Unmarshal(data, &doc))
	assert.Len(t, doc.Upstreams, 2)
}

func TestRunImportRejectsEntryWithoutCommandOrURL(t *testing.T) {
	dir := t.TempDir()
	externalPath := filepath.Join(dir, "external.json")
	require.NoError(t, os.WriteFile(externalPath, []byte(`{"mcpServers":{"broken":{}}}`), 0o644))

	flags := &globalFlags{project: dir}
	require.NoError(t, runImport(flags, externalPath))

	data, err := os.ReadFile(filepath.Join(dir, "mcp-squared.toml"))
	require.NoError(t, err)
	var doc configDocument
	require.NoError(t, toml.Unmarshal(data, &doc))
	assert.NotContains(t, doc.Upstreams, "broken")
}
