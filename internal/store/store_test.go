package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-krawl-offline/internal/models"
)

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, path
}

func TestPutGetRoundtrip(t *testing.T) {
	s, _ := openTestStore(t)

	tour := models.TourRecord{
		ID:           "tour-1",
		Name:         "Old Town Walk",
		StopIDs:      []string{"stop-1", "stop-2"},
		Size:         4096,
		DownloadedAt: time.Now().UTC().Truncate(time.Second),
		Status:       models.TourStatusComplete,
	}
	require.NoError(t, s.Put(Tours, tour.ID, tour))

	var got models.TourRecord
	require.NoError(t, s.Get(Tours, tour.ID, &got))
	assert.Equal(t, tour, got)
}

func TestGetMissingReturnsNotFound(t *testing.T) {
	s, _ := openTestStore(t)

	var got models.TourRecord
	err := s.Get(Tours, "nope", &got)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRawBlobRoundtrip(t *testing.T) {
	s, _ := openTestStore(t)

	payload := []byte{0xff, 0xd8, 0xff, 0xe0, 0x00, 0x10}
	require.NoError(t, s.PutRaw(Blobs, "blob-1", payload))

	got, err := s.GetRaw(Blobs, "blob-1")
	require.NoError(t, err)
	assert.Equal(t, payload, got)
	assert.True(t, s.Has(Blobs, "blob-1"))
	assert.False(t, s.Has(Blobs, "blob-2"))
}

func TestCollectionsAreIsolated(t *testing.T) {
	s, _ := openTestStore(t)

	require.NoError(t, s.Put(Tours, "shared-key", models.TourRecord{ID: "shared-key"}))
	require.NoError(t, s.Put(Stops, "shared-key", models.StopRecord{ID: "shared-key"}))
	require.NoError(t, s.Delete(Tours, "shared-key"))

	assert.False(t, s.Has(Tours, "shared-key"))
	assert.True(t, s.Has(Stops, "shared-key"))
}

func TestKeysAndGetAll(t *testing.T) {
	s, _ := openTestStore(t)

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.Put(Stops, id, models.StopRecord{ID: id, TourID: "tour-1"}))
	}

	keys, err := s.Keys(Stops)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, keys)

	stops, err := GetAll[models.StopRecord](s, Stops)
	require.NoError(t, err)
	assert.Len(t, stops, 3)
}

func TestReopenPreservesData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Put(Tours, "tour-1", models.TourRecord{ID: "tour-1", Name: "Survivor"}))
	require.NoError(t, s.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	var got models.TourRecord
	require.NoError(t, s2.Get(Tours, "tour-1", &got))
	assert.Equal(t, "Survivor", got.Name)
}

func TestCloseIsIdempotent(t *testing.T) {
	s, _ := openTestStore(t)
	assert.NoError(t, s.Close())
	assert.NoError(t, s.Close())
}
