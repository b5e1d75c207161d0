package oauth

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildAuthorizationURLIncludesPKCEChallenge(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	p := NewProvider(store, "fs", "http://127.0.0.1:8765/callback")

	authURL, err := p.BuildAuthorizationURL("https://auth.example.com/authorize", "client-1", []string{"read"})
	require.NoError(t, err)

	parsed, err := url.Parse(authURL)
	require.NoError(t, err)
	q := parsed.Query()
	assert.Equal(t, "S256", q.Get("code_challenge_method"))
	assert.NotEmpty(t, q.Get("code_challenge"))
	assert.Equal(t, p.pendingState, q.Get("state"))
	assert.Equal(t, "client-1", q.Get("client_id"))
}

func TestVerifyStateRejectsMismatch(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	p := NewProvider(store, "fs", "http://127.0.0.1:8765/callback")

	_, err = p.BuildAuthorizationURL("https://auth.example.com/authorize", "client-1", nil)
	require.NoError(t, err)

	assert.Error(t, p.VerifyState("wrong-state"))
	assert.NoError(t, p.VerifyState(p.pendingState))
}

func TestPKCEChallengeIsDeterministicForVerifier(t *testing.T) {
	v, err := pkceVerifier()
	require.NoError(t, err)
	assert.Equal(t, pkceChallenge(v), pkceChallenge(v))

	v2, err := pkceVerifier()
	require.NoError(t, err)
	assert.NotEqual(t, v, v2, "verifiers must be freshly random per attempt")
}

func TestJWTExpiryParsesExpClaim(t *testing.T) {
	// header {"alg":"none"} payload {"exp":1700000000} unsigned JWT
	token := "eyJhbGciOiJub25lIn0.eyJleHAiOjE3MDAwMDAwMDB9."
	exp, ok := jwtExpiry(token)
	require.True(t, ok)
	assert.Equal(t, int64(1700000000), exp.Unix())
}

func TestJWTExpiryReturnsFalseForOpaqueToken(t *testing.T) {
	_, ok := jwtExpiry("not-a-jwt-at-all")
	assert.False(t, ok)
}
