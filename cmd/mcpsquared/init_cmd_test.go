package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunInitWritesConfigWithDefaults(t *testing.T) {
	dir := t.TempDir()
	flags := &globalFlags{project: dir}

	require.NoError(t, runInit(flags))

	data, err := os.ReadFile(filepath.Join(dir, "mcp-squared.toml"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "schemaVersion = 1")
	assert.Contains(t, string(data), "[security.tools]")
}

func TestRunInitRefusesToOverwriteWithoutForce(t *testing.T) {
	dir := t.TempDir()
	flags := &globalFlags{project: dir}
	require.NoError(t, runInit(flags))

	err := runInit(flags)
	assert.Error(t, err)
}

func TestRunInitOverwritesWithForce(t *testing.T) {
	dir := t.TempDir()
	flags := &globalFlags{project: dir}
	require.NoError(t, runInit(flags))

	flags.force = true
	assert.NoError(t, runInit(flags))
}

func TestRunInitDryRunDoesNotWriteFile(t *testing.T) {
	dir := t.TempDir()
	flags := &globalFlags{project: dir, dryRun: true}

	require.NoError(t, runInit(flags))

	_, err := os.Stat(filepath.Join(dir, "mcp-squared.toml"))
	assert.True(t, os.IsNotExist(err))
}
