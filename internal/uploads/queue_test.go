package uploads

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-krawl-offline/internal/api"
	"go-krawl-offline/internal/models"
	"go-krawl-offline/internal/store"
)

func openTestQueue(t *testing.T, handler http.Handler) (*Queue, *store.Store) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	var client *api.Client
	if handler != nil {
		server := httptest.NewServer(handler)
		t.Cleanup(server.Close)
		client = api.NewClient(server.URL, "token", server.Client())
		client.MaxRetries = 1
	}

	q, err := NewQueue(s, client)
	require.NoError(t, err)
	return q, s
}

func TestEnqueueAssignsIncreasingSeq(t *testing.T) {
	q, _ := openTestQueue(t, nil)

	first, err := q.Enqueue("stop", map[string]any{"name": "first"})
	require.NoError(t, err)
	second, err := q.Enqueue("stop", map[string]any{"name": "second"})
	require.NoError(t, err)

	assert.Less(t, first.Seq, second.Seq)

	pending, err := q.Pending()
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, first.ID, pending[0].ID)
	assert.Equal(t, second.ID, pending[1].ID)
}

func TestSeqSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := store.Open(path)
	require.NoError(t, err)

	q, err := NewQueue(s, nil)
	require.NoError(t, err)
	item, err := q.Enqueue("stop", map[string]any{"name": "persisted"})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s2, err := store.Open(path)
	require.NoError(t, err)
	defer s2.Close()

	q2, err := NewQueue(s2, nil)
	require.NoError(t, err)
	next, err := q2.Enqueue("stop", map[string]any{"name": "later"})
	require.NoError(t, err)
	assert.Greater(t, next.Seq, item.Seq, "sequence must continue after restart")
}

func TestDrainPushesInSubmissionOrder(t *testing.T) {
	var mu sync.Mutex
	var received []string
	q, _ := openTestQueue(t, handlerRecordingName(&mu, &received))

	for _, name := range []string{"first", "second", "third"} {
		_, err := q.Enqueue("stop", map[string]any{"name": name})
		require.NoError(t, err)
	}

	result, err := q.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, result.Pushed)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"first", "second", "third"}, received)

	pending, err := q.Pending()
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func decodeJSONBody(r *http.Request, out any) error {
	return json.NewDecoder(r.Body).Decode(out)
}

// handlerRecordingName decodes the upload payload and records its name
// field in arrival order.
func handlerRecordingName(mu *sync.Mutex, received *[]string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		if err := decodeJSONBody(r, &payload); err == nil {
			if name, ok := payload["name"].(string); ok {
				mu.Lock()
				*received = append(*received, name)
				mu.Unlock()
			}
		}
		w.WriteHeader(http.StatusCreated)
	})
}

func TestDrainFailureIsolation(t *testing.T) {
	// The middle item hits a transient server error; the items around it
	// must still be pushed, and the failed one stays queued.
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		_ = decodeJSONBody(r, &payload)
		if payload["name"] == "middle" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusCreated)
	})

	q, _ := openTestQueue(t, handler)

	for _, name := range []string{"head", "middle", "tail"} {
		_, err := q.Enqueue("stop", map[string]any{"name": name})
		require.NoError(t, err)
	}

	result, err := q.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, result.Pushed)
	assert.Equal(t, 1, result.Retained)

	pending, err := q.Pending()
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "middle", pending[0].Payload["name"])
	assert.Equal(t, 1, pending[0].Attempts)
	assert.NotEmpty(t, pending[0].LastError)
}

func TestRejectedItemIsNotRetried(t *testing.T) {
	calls := 0
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusUnprocessableEntity)
	})

	q, s := openTestQueue(t, handler)
	item, err := q.Enqueue("stop", map[string]any{"name": "bad"})
	require.NoError(t, err)

	result, err := q.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Rejected)

	// The verdict is a persisted flag, not an error-message pattern: it
	// survives even if the recorded text is rewritten.
	var stored models.PendingUpload
	require.NoError(t, s.Get(store.Uploads, item.ID, &stored))
	assert.True(t, stored.Rejected)
	stored.LastError = "some unrelated note"
	require.NoError(t, s.Put(store.Uploads, item.ID, stored))

	// Second drain leaves the rejected item alone.
	result, err = q.Drain(context.Background())
	require.NoError(t, err)
	assert.Zero(t, result.Pushed)
	assert.Equal(t, 1, calls, "rejected item must not be pushed again")

	// The user can inspect and discard it.
	require.NoError(t, q.Discard(item.ID))
	pending, err := q.Pending()
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestDrainHaltsOnAuthFailure(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	q, _ := openTestQueue(t, handler)
	for i := 0; i < 3; i++ {
		_, err := q.Enqueue("stop", map[string]any{"n": i})
		require.NoError(t, err)
	}

	_, err := q.Drain(context.Background())
	assert.ErrorIs(t, err, api.ErrUnauthorized)

	pending, err := q.Pending()
	require.NoError(t, err)
	assert.Len(t, pending, 3, "nothing is lost when credentials are missing")
}
