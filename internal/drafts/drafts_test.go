package drafts

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-krawl-offline/internal/models"
	"go-krawl-offline/internal/store"
)

func openTestManager(t *testing.T) (*Manager, *store.Store) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return NewManager(s), s
}

func TestSaveAssignsIDAndExpiry(t *testing.T) {
	m, _ := openTestManager(t)

	draft, err := m.Save("", "stop", "user-1", map[string]any{"name": "New cafe"})
	require.NoError(t, err)
	assert.NotEmpty(t, draft.ID)
	assert.WithinDuration(t, time.Now().UTC().Add(TTL), draft.ExpiresAt, time.Minute)

	got, err := m.Get(draft.ID)
	require.NoError(t, err)
	assert.Equal(t, "New cafe", got.Data["name"])
}

func TestSaveUpdateExtendsExpiryKeepsCreatedAt(t *testing.T) {
	m, _ := openTestManager(t)

	draft, err := m.Save("", "stop", "user-1", map[string]any{"name": "v1"})
	require.NoError(t, err)

	updated, err := m.Save(draft.ID, "stop", "user-1", map[string]any{"name": "v2"})
	require.NoError(t, err)

	assert.Equal(t, draft.ID, updated.ID)
	assert.Equal(t, draft.CreatedAt, updated.CreatedAt)
	assert.Equal(t, "v2", updated.Data["name"])
	assert.False(t, updated.ExpiresAt.Before(draft.ExpiresAt))
}

func TestExpiredDraftIsPurgedOnRead(t *testing.T) {
	m, s := openTestManager(t)

	// Plant a draft whose expiry is already in the past.
	stale := models.DraftRecord{
		ID:        "stale-draft",
		Kind:      "stop",
		UserID:    "user-1",
		ExpiresAt: time.Now().UTC().Add(-time.Hour),
	}
	require.NoError(t, s.Put(store.Drafts, stale.ID, stale))

	_, err := m.Get(stale.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.False(t, s.Has(store.Drafts, stale.ID), "expired draft must be purged lazily")
}

func TestListFiltersByUserAndSkipsExpired(t *testing.T) {
	m, s := openTestManager(t)

	_, err := m.Save("", "stop", "user-1", map[string]any{"n": 1})
	require.NoError(t, err)
	_, err = m.Save("", "tour", "user-2", map[string]any{"n": 2})
	require.NoError(t, err)
	require.NoError(t, s.Put(store.Drafts, "expired", models.DraftRecord{
		ID:        "expired",
		UserID:    "user-1",
		ExpiresAt: time.Now().UTC().Add(-time.Minute),
	}))

	mine, err := m.List("user-1")
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "user-1", mine[0].UserID)

	all, err := m.List("")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestPurgeExpired(t *testing.T) {
	m, s := openTestManager(t)

	_, err := m.Save("", "stop", "user-1", map[string]any{"n": 1})
	require.NoError(t, err)
	require.NoError(t, s.Put(store.Drafts, "old-1", models.DraftRecord{
		ID: "old-1", ExpiresAt: time.Now().UTC().Add(-time.Hour),
	}))
	require.NoError(t, s.Put(store.Drafts, "old-2", models.DraftRecord{
		ID: "old-2", ExpiresAt: time.Now().UTC().Add(-time.Hour),
	}))

	purged, err := m.PurgeExpired()
	require.NoError(t, err)
	assert.Equal(t, 2, purged)

	live, err := m.List("")
	require.NoError(t, err)
	assert.Len(t, live, 1)
}

func TestDeleteMissingDraft(t *testing.T) {
	m, _ := openTestManager(t)
	assert.ErrorIs(t, m.Delete("nope"), store.ErrNotFound)
}
