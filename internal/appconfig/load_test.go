package appconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTemp(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadMinimalAppliesHardenedDefaults(t *testing.T) {
	path := writeTemp(t, `schemaVersion = 1`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Empty(t, cfg.Security.Allow)
	assert.Empty(t, cfg.Security.Block)
	assert.Equal(t, []string{"*:*"}, cfg.Security.Confirm)
	assert.Equal(t, 10, cfg.Operations.FindTools.DefaultLimit)
	assert.Equal(t, 50, cfg.Operations.FindTools.MaxLimit)
}

func TestLoadMissingSchemaVersionMigratesFromZero(t *testing.T) {
	path := writeTemp(t, `
[upstreams.fs]
transport = "stdio"
command = "fs-server"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, CurrentSchemaVersion, cfg.SchemaVersion)
}

func TestLoadUnknownNewerSchemaVersionIsHardError(t *testing.T) {
	path := writeTemp(t, `schemaVersion = 99`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "99")
	assert.Contains(t, err.Error(), "unknown_schema_version")
}

func TestDecodeUpstreamStdioAndHTTP(t *testing.T) {
	path := writeTemp(t, `
schemaVersion = 1

[upstreams.fs]
transport = "stdio"
command = "fs-server"
args = ["--root", "/tmp"]
enabled = true
[upstreams.fs.env]
API_KEY = "$MY_SECRET"

[upstreams.remote]
transport = "http"
url = "https://example.test/mcp"
enabled = true
[upstreams.remote.headers]
X-Trace = "1"
[upstreams.remote.auth]
callbackPort = 9999
clientName = "mcp-squared"
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	fs := cfg.Upstreams["fs"]
	require.NotNil(t, fs)
	assert.Equal(t, TransportStdio, fs.Transport)
	assert.Equal(t, "fs-server", fs.Command)
	assert.Equal(t, []string{"--root", "/tmp"}, fs.Args)

	remote := cfg.Upstreams["remote"]
	require.NotNil(t, remote)
	assert.Equal(t, TransportHTTP, remote.Transport)
	require.NotNil(t, remote.Auth)
	assert.True(t, remote.Auth.Enabled)
	assert.Equal(t, 9999, remote.Auth.CallbackPort)
}

func TestUpstreamAuthAsBareBoolean(t *testing.T) {
	path := writeTemp(t, `
[upstreams.remote]
transport = "http"
url = "https://example.test/mcp"
auth = true
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.NotNil(t, cfg.Upstreams["remote"].Auth)
	assert.True(t, cfg.Upstreams["remote"].Auth.Enabled)
}

func TestResolveEnvExpandsAndReportsUnresolved(t *testing.T) {
	u := &UpstreamConfig{Env: map[string]string{
		"A": "$FOO-${BAR}",
		"B": "$MISSING",
	}}
	lookup := func(name string) (string, bool) {
		switch name {
		case "FOO":
			return "foo", true
		case "BAR":
			return "bar", true
		default:
			return "", false
		}
	}
	resolved, missing := u.ResolveEnv(lookup)
	assert.Equal(t, "foo-bar", resolved["A"])
	assert.Equal(t, "$MISSING", resolved["B"])
	assert.Equal(t, []string{"MISSING"}, missing)
}

func TestApplyDefaultsIsIdempotent(t *testing.T) {
	cfg := &Config{}
	cfg.ApplyDefaults()
	first := *cfg
	cfg.ApplyDefaults()
	assert.Equal(t, first.Operations, cfg.Operations)
	assert.Equal(t, first.Security, cfg.Security)
}

func TestPermissiveOverridesSecurity(t *testing.T) {
	cfg := &Config{}
	cfg.ApplyDefaults()
	cfg.Permissive()
	assert.Equal(t, []string{"*:*"}, cfg.Security.Allow)
	assert.Empty(t, cfg.Security.Block)
	assert.Empty(t, cfg.Security.Confirm)
}
