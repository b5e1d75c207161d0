package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompileRoundTripsAcceptedPatterns(t *testing.T) {
	for _, raw := range []string{"*:*", "fs:read_*", "net:*", "a?c:d?f"} {
		p, err := Compile(raw)
		require.NoError(t, err)
		assert.Equal(t, raw, p.String())
	}
}

func TestGlobMatchingIsCaseInsensitive(t *testing.T) {
	p, err := Compile("FS:Read_*")
	require.NoError(t, err)
	assert.True(t, p.Matches("fs", "read_file"))
	assert.True(t, p.Matches("FS", "READ_FILE"))
}

func TestNormalizeToolNameStripsQualification(t *testing.T) {
	assert.Equal(t, "read_file", NormalizeToolName("fs", "fs:read_file"))
	assert.Equal(t, "read_file", NormalizeToolName("fs", "read_file"))
	assert.Equal(t, "read_file", NormalizeToolName("other", "fs:read_file"))
}
