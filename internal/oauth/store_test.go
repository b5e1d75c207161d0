package oauth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreSaveAndLoadRoundTrips(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	rec := TokenRecord{
		UpstreamKey: "fs",
		AccessToken: "tok-123",
		ExpiresAt:   time.Now().Add(time.Hour).Truncate(time.Second),
		Scopes:      []string{"read"},
	}
	require.NoError(t, store.Save(rec))

	got, found, err := store.Load("fs")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, rec.AccessToken, got.AccessToken)
	assert.Equal(t, rec.ExpiresAt.Unix(), got.ExpiresAt.Unix())
}

func TestStoreLoadMissingReturnsNotFound(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	_, found, err := store.Load("nonexistent")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestStoreDeleteRemovesRecord(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, store.Save(TokenRecord{UpstreamKey: "fs", AccessToken: "tok"}))

	require.NoError(t, store.Delete("fs"))
	_, found, err := store.Load("fs")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestTokenRecordExpired(t *testing.T) {
	now := time.Now()
	expired := TokenRecord{ExpiresAt: now.Add(-time.Minute)}
	assert.True(t, expired.Expired(now))

	fresh := TokenRecord{ExpiresAt: now.Add(time.Hour)}
	assert.False(t, fresh.Expired(now))

	noExpiry := TokenRecord{}
	assert.False(t, noExpiry.Expired(now))

	withinMargin := TokenRecord{ExpiresAt: now.Add(30 * time.Second)}
	assert.True(t, withinMargin.Expired(now), "tokens expiring within the safety margin count as expired")
}
