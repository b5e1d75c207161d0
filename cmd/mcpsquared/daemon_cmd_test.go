package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveSocketUsesFallbackWhenOverrideEmpty(t *testing.T) {
	network, address := resolveSocket("", "/tmp/mcp-squared/daemon.sock")
	assert.Equal(t, "unix", network)
	assert.Equal(t, "/tmp/mcp-squared/daemon.sock", address)
}

func TestResolveSocketHonorsOverride(t *testing.T) {
	network, address := resolveSocket("/custom/daemon.sock", "/tmp/fallback.sock")
	assert.Equal(t, "unix", network)
	assert.Equal(t, "/custom/daemon.sock", address)
}

func TestResolveSocketRecognizesTCPScheme(t *testing.T) {
	network, address := resolveSocket("tcp://127.0.0.1:9000", "/tmp/fallback.sock")
	assert.Equal(t, "tcp", network)
	assert.Equal(t, "127.0.0.1:9000", address)
}
