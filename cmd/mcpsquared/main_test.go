package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewRootCmdRegistersEverySubcommand(t *testing.T) {
	root := newRootCmd(&globalFlags{})

	want := []string{"server", "config", "test", "auth", "import", "init", "install", "monitor", "daemon", "proxy"}
	got := map[string]bool{}
	for _, c := range root.Commands() {
		got[c.Name()] = true
	}
	for _, name := range want {
		assert.True(t, got[name], "expected subcommand %q to be registered", name)
	}
}

func TestNewRootCmdDefinesGlobalFlags(t *testing.T) {
	flags := &globalFlags{}
	root := newRootCmd(flags)

	for _, name := range []string{
		"verbose", "dry-run", "no-interactive", "security", "project",
		"force", "instance", "socket", "daemon-socket", "daemon-secret",
		"no-daemon-spawn", "refresh-interval", "no-auto-refresh",
	} {
		assert.NotNil(t, root.PersistentFlags().Lookup(name), "expected persistent flag --%s", name)
	}
}
