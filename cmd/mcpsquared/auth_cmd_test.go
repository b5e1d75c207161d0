package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssuerFromUpstreamURLStripsPathAndQuery(t *testing.T) {
	issuer, err := issuerFromUpstreamURL("https://mcp.example.com/v1/stream?token=abc")
	require.NoError(t, err)
	assert.Equal(t, "https://mcp.example.com", issuer)
}

func TestIssuerFromUpstreamURLRejectsRelativeURL(t *testing.T) {
	_, err := issuerFromUpstreamURL("/just/a/path")
	assert.Error(t, err)
}
