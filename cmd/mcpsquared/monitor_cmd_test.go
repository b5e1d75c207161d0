package main

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aditzel/mcp-squared/internal/instancedir"
)

func withFakeDataDir(t *testing.T, dir string) {
	t.Helper()
	t.Setenv("XDG_CACHE_HOME", dir)
}

func TestResolveMonitorSocketHonorsExplicitFlag(t *testing.T) {
	flags := &globalFlags{socket: "/explicit/monitor.sock"}
	got, err := resolveMonitorSocket(flags)
	require.NoError(t, err)
	assert.Equal(t, "/explicit/monitor.sock", got)
}

func TestResolveMonitorSocketFindsRegisteredInstance(t *testing.T) {
	withFakeDataDir(t, t.TempDir())

	reg, err := openInstanceRegistry()
	require.NoError(t, err)
	require.NoError(t, reg.Register(instancedir.Instance{
		ID:                "inst-1",
		PID:               os.Getpid(),
		SocketPath:        "/tmp/daemon.sock",
		MonitorSocketPath: "/tmp/monitor.sock",
		StartedAt:         time.Now(),
	}))

	got, err := resolveMonitorSocket(&globalFlags{})
	require.NoError(t, err)
	assert.Equal(t, "/tmp/monitor.sock", got)
}

func TestResolveMonitorSocketHonorsInstanceFlag(t *testing.T) {
	withFakeDataDir(t, t.TempDir())

	reg, err := openInstanceRegistry()
	require.NoError(t, err)
	require.NoError(t, reg.Register(instancedir.Instance{
		ID: "a", PID: os.Getpid(), SocketPath: "/tmp/a.sock", MonitorSocketPath: "/tmp/a-monitor.sock", StartedAt: time.Now(),
	}))
	require.NoError(t, reg.Register(instancedir.Instance{
		ID: "b", PID: os.Getpid(), SocketPath: "/tmp/b.sock", MonitorSocketPath: "/tmp/b-monitor.sock", StartedAt: time.Now(),
	}))

	got, err := resolveMonitorSocket(&globalFlags{instance: "b"})
	require.NoError(t, err)
	assert.Equal(t, "/tmp/b-monitor.sock", got)
}

func TestResolveMonitorSocketErrorsWhenNoInstanceRunning(t *testing.T) {
	withFakeDataDir(t, t.TempDir())

	_, err := resolveMonitorSocket(&globalFlags{})
	assert.Error(t, err)
}
