package auth

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sondrele/tibber-data-poller/pkg/model"
)

func storedSession(t *testing.T, expiresAt int64) model.TokenSession {
	t.Helper()
	session, err := model.NewTokenSession(
		"access-1", "refresh-1", expiresAt,
		[]string{"data-api-user-read", "data-api-homes-read"},
	)
	require.NoError(t, err)
	return *session
}

func TestNewStoreRequiresPersistedSession(t *testing.T) {
	_, err := NewStore(&MemoryBlobStore{}, zerolog.Nop())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestStoreCommitAndRead(t *testing.T) {
	blobs := &MemoryBlobStore{}
	require.NoError(t, blobs.Save(storedSession(t, time.Now().Add(time.Hour).Unix())))

	store, err := NewStore(blobs, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, "access-1", store.AccessToken())

	refreshed := storedSession(t, time.Now().Add(2*time.Hour).Unix())
	refreshed.AccessToken = "access-2"
	require.NoError(t, store.Commit(refreshed))

	assert.Equal(t, "access-2", store.AccessToken())

	persisted, err := blobs.Load()
	require.NoError(t, err)
	assert.Equal(t, "access-2", persisted.AccessToken, "commit must persist before exposing the session")
}

func TestStoreRejectsInvalidCommit(t *testing.T) {
	blobs := &MemoryBlobStore{}
	require.NoError(t, blobs.Save(storedSession(t, time.Now().Add(time.Hour).Unix())))

	store, err := NewStore(blobs, zerolog.Nop())
	require.NoError(t, err)

	bad := storedSession(t, time.Now().Add(time.Hour).Unix())
	bad.AccessToken = ""
	require.Error(t, store.Commit(bad))
	assert.Equal(t, "access-1", store.AccessToken(), "failed commit must not replace the session")
}

func TestStoreNeedsRefresh(t *testing.T) {
	blobs := &MemoryBlobStore{}
	require.NoError(t, blobs.Save(storedSession(t, time.Now().Add(2*time.Minute).Unix())))

	store, err := NewStore(blobs, zerolog.Nop())
	require.NoError(t, err)

	assert.True(t, store.NeedsRefresh(time.Now()), "inside the five minute threshold")

	fresh := storedSession(t, time.Now().Add(time.Hour).Unix())
	require.NoError(t, store.Commit(fresh))
	assert.False(t, store.NeedsRefresh(time.Now()))
}

func TestSQLiteBlobStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.db")

	blobs, err := NewSQLiteBlobStore(path)
	require.NoError(t, err)
	defer func() {
		_ = blobs.Close()
	}()

	_, err = blobs.Load()
	assert.ErrorIs(t, err, ErrNoSession)

	session := storedSession(t, time.Now().Add(time.Hour).Unix())
	require.NoError(t, blobs.Save(session))

	loaded, err := blobs.Load()
	require.NoError(t, err)
	assert.Equal(t, session.AccessToken, loaded.AccessToken)
	assert.Equal(t, session.RefreshToken, loaded.RefreshToken)
	assert.Equal(t, session.Scopes, loaded.Scopes)

	// Overwrite keeps a single row
	session.AccessToken = "rotated"
	require.NoError(t, blobs.Save(session))
	loaded, err = blobs.Load()
	require.NoError(t, err)
	assert.Equal(t, "rotated", loaded.AccessToken)
}

func TestSQLiteBlobStoreCreatesParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "tokens.db")

	blobs, err := NewSQLiteBlobStore(path)
	require.NoError(t, err)
	defer func() {
		_ = blobs.Close()
	}()

	require.NoError(t, blobs.Save(storedSession(t, time.Now().Add(time.Hour).Unix())))
}

func TestSQLiteBlobStoreRequiresPath(t *testing.T) {
	_, err := NewSQLiteBlobStore("")
	assert.Error(t, err)
}
