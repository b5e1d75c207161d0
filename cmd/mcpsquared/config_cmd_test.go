package main

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigValidateSucceedsAgainstFreshlyInitedConfig(t *testing.T) {
	dir := t.TempDir()
	flags := &globalFlags{project: dir}
	require.NoError(t, runInit(flags))

	validate := newConfigValidateCmd(flags)
	validate.SetArgs(nil)
	assert.NoError(t, validate.RunE(&cobra.Command{}, nil))
}

func TestRunConfigViewFailsWithoutAConfig(t *testing.T) {
	dir := t.TempDir()
	flags := &globalFlags{project: dir}
	assert.Error(t, runConfigView(flags))
}
