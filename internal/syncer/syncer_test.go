package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-krawl-offline/internal/api"
	"go-krawl-offline/internal/models"
	"go-krawl-offline/internal/store"
)

func openTestEngine(t *testing.T, handler http.Handler, monitor Monitor) (*Engine, *store.Store) {
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

	return NewEngine(s, client, nil, monitor, 0), s
}

// echoProgressHandler accepts progress pushes and echoes the pushed visit
// state back as the merged result.
func echoProgressHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			VisitedStops []string `json:"visitedStops"`
		}
		_ = json.NewDecoder(r.Body).Decode(&payload)

		tourID := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/krawls/"), "/progress")
		_ = json.NewEncoder(w).Encode(models.RemoteProgress{
			TourID:       tourID,
			VisitedStops: payload.VisitedStops,
		})
	})
}

func TestMarkVisitedOfflineStaysDirty(t *testing.T) {
	e, s := openTestEngine(t, nil, NewManualMonitor(false))

	require.NoError(t, e.MarkVisited(context.Background(), "tour-1", "stop-1"))
	require.NoError(t, e.MarkVisited(context.Background(), "tour-1", "stop-2"))
	// Revisiting is a no-op.
	require.NoError(t, e.MarkVisited(context.Background(), "tour-1", "stop-1"))

	var progress models.TourProgress
	require.NoError(t, s.Get(store.Progress, "tour-1", &progress))
	assert.Equal(t, []string{"stop-1", "stop-2"}, progress.VisitedStops)
	assert.True(t, progress.Dirty, "unsynced mutation must stay marked dirty")
}

func TestConcurrentMarkVisitedKeepsEveryVisit(t *testing.T) {
	e, s := openTestEngine(t, nil, NewManualMonitor(false))

	const visits = 20
	var wg sync.WaitGroup
	for i := 0; i < visits; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			stopID := fmt.Sprintf("stop-%d", i)
			assert.NoError(t, e.MarkVisited(context.Background(), "tour-1", stopID))
		}(i)
	}
	wg.Wait()

	var progress models.TourProgress
	require.NoError(t, s.Get(store.Progress, "tour-1", &progress))
	assert.Len(t, progress.VisitedStops, visits, "racing visit marks must not overwrite each other")
	assert.True(t, progress.Dirty)
}

func TestCycleClearsDirtyAndAdoptsMergedState(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Server merges in a stop visited on another device.
		_ = json.NewEncoder(w).Encode(models.RemoteProgress{
			TourID:       "tour-1",
			VisitedStops: []string{"stop-1", "stop-other-device"},
			UpdatedAt:    time.Now().UTC(),
		})
	})

	e, s := openTestEngine(t, handler, NewManualMonitor(false))
	require.NoError(t, e.MarkVisited(context.Background(), "tour-1", "stop-1"))

	status := e.Cycle(context.Background())
	require.Len(t, status.Results, 1)
	assert.True(t, status.Results[0].Updated)
	assert.Empty(t, status.Results[0].Err)

	var progress models.TourProgress
	require.NoError(t, s.Get(store.Progress, "tour-1", &progress))
	assert.False(t, progress.Dirty)
	assert.Equal(t, []string{"stop-1", "stop-other-device"}, progress.VisitedStops,
		"server's merged answer is authoritative")
	assert.False(t, progress.LastSyncedAt.IsZero())
}

func TestCycleIsolatesPerTourFailures(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "tour-bad") {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		echoProgressHandler().ServeHTTP(w, r)
	})

	e, s := openTestEngine(t, handler, NewManualMonitor(false))
	require.NoError(t, e.MarkVisited(context.Background(), "tour-bad", "stop-1"))
	require.NoError(t, e.MarkVisited(context.Background(), "tour-good", "stop-1"))

	status := e.Cycle(context.Background())
	require.Len(t, status.Results, 2)

	byTour := map[string]models.SyncResult{}
	for _, r := range status.Results {
		byTour[r.TourID] = r
	}
	assert.NotEmpty(t, byTour["tour-bad"].Err)
	assert.True(t, byTour["tour-good"].Updated, "one tour's failure must not block another")

	var good, bad models.TourProgress
	require.NoError(t, s.Get(store.Progress, "tour-good", &good))
	require.NoError(t, s.Get(store.Progress, "tour-bad", &bad))
	assert.False(t, good.Dirty)
	assert.True(t, bad.Dirty, "failed push stays dirty for the next cycle")
}

func TestConcurrentCyclesCoalesce(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	release := make(chan struct{})
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		mu.Unlock()
		<-release
		echoProgressHandler().ServeHTTP(w, r)
	})

	e, _ := openTestEngine(t, handler, NewManualMonitor(false))
	require.NoError(t, e.MarkVisited(context.Background(), "tour-1", "stop-1"))

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.Cycle(context.Background())
		}()
	}

	// Give the first cycle time to claim the flag, then let it finish.
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls == 1
	}, 2*time.Second, 5*time.Millisecond)
	close(release)
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, calls, "overlapping cycles must coalesce into one push")
}

func TestRunSyncsOnOnlineTransition(t *testing.T) {
	var mu sync.Mutex
	pushes := 0
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		pushes++
		mu.Unlock()
		echoProgressHandler().ServeHTTP(w, r)
	})

	monitor := NewManualMonitor(false)
	e, _ := openTestEngine(t, handler, monitor)
	require.NoError(t, e.MarkVisited(context.Background(), "tour-1", "stop-1"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx)

	// Offline: nothing pushed yet.
	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	assert.Zero(t, pushes)
	mu.Unlock()

	monitor.SetOnline(true)
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return pushes == 1
	}, 2*time.Second, 10*time.Millisecond, "online transition must trigger a sync cycle")
}

func TestManualMonitorBroadcastsOnlyTransitions(t *testing.T) {
	m := NewManualMonitor(false)
	ch := m.Subscribe()
	defer m.Unsubscribe(ch)

	m.SetOnline(false) // no transition
	select {
	case <-ch:
		t.Fatal("no notification expected without a transition")
	case <-time.After(20 * time.Millisecond):
	}

	m.SetOnline(true)
	select {
	case online := <-ch:
		assert.True(t, online)
	case <-time.After(time.Second):
		t.Fatal("expected transition notification")
	}
	assert.True(t, m.Online())
}
