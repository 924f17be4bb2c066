package syncer

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"go-krawl-offline/internal/api"
	"go-krawl-offline/internal/models"
	"go-krawl-offline/internal/store"
	"go-krawl-offline/internal/uploads"
)

// Engine reconciles local visit state with the server and drains the
// upload queue. It syncs on offline-to-online transitions and on an
// interval while online; explicit Cycle calls and overlapping triggers
// coalesce into one running cycle.
type Engine struct {
	Store    *store.Store
	Client   *api.Client
	Queue    *uploads.Queue
	Monitor  Monitor
	Interval time.Duration

	mu         sync.Mutex
	syncing    bool
	lastSyncAt time.Time
	results    []models.SyncResult

	// progressMu serializes read-modify-write of progress records so
	// concurrent visit marks and sync writes never lose an update.
	progressMu sync.Mutex
}

// NewEngine wires a sync engine. Interval <= 0 disables periodic cycles;
// transition-triggered and manual cycles still run.
func NewEngine(s *store.Store, c *api.Client, q *uploads.Queue, m Monitor, interval time.Duration) *Engine {
	return &Engine{Store: s, Client: c, Queue: q, Monitor: m, Interval: interval}
}

// MarkVisited records a stop visit locally and, when online, kicks off a
// sync cycle in the background. The local write always succeeds offline;
// the dirty flag carries the pending push across restarts.
func (e *Engine) MarkVisited(ctx context.Context, tourID, stopID string) error {
	changed, err := e.recordVisit(tourID, stopID)
	if err != nil || !changed {
		return err
	}
	log.Debugf("Marked stop %s visited on tour %s", stopID, tourID)

	if e.Monitor != nil && e.Monitor.Online() {
		go e.Cycle(ctx)
	}
	return nil
}

// recordVisit is the serialized read-modify-write behind MarkVisited.
func (e *Engine) recordVisit(tourID, stopID string) (bool, error) {
	e.progressMu.Lock()
	defer e.progressMu.Unlock()

	var progress models.TourProgress
	if err := e.Store.Get(store.Progress, tourID, &progress); err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return false, err
		}
		progress = models.TourProgress{TourID: tourID}
	}
	if !progress.MarkVisited(stopID, time.Now().UTC()) {
		return false, nil
	}
	if err := e.Store.Put(store.Progress, tourID, progress); err != nil {
		return false, err
	}
	return true, nil
}

// Status returns a snapshot of the engine state.
func (e *Engine) Status() models.SyncStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	results := append([]models.SyncResult(nil), e.results...)
	return models.SyncStatus{
		IsSyncing:  e.syncing,
		LastSyncAt: e.lastSyncAt,
		Results:    results,
	}
}

// Cycle runs one full sync pass: push every dirty tour progress record,
// then drain the upload queue. A cycle already in flight absorbs the
// call; per-tour pushes run concurrently and fail independently, so one
// tour's bad luck never blocks another's.
func (e *Engine) Cycle(ctx context.Context) models.SyncStatus {
	e.mu.Lock()
	if e.syncing {
		e.mu.Unlock()
		log.Debug("Sync cycle already in progress, coalescing")
		return e.Status()
	}
	e.syncing = true
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.syncing = false
		e.lastSyncAt = time.Now().UTC()
		e.mu.Unlock()
	}()

	dirty, err := e.dirtyProgress()
	if err != nil {
		log.WithError(err).Error("Failed to read progress records for sync")
		e.setResults(nil)
		return e.Status()
	}

	results := make([]models.SyncResult, len(dirty))
	var wg sync.WaitGroup
	for i, progress := range dirty {
		wg.Add(1)
		go func(i int, progress models.TourProgress) {
			defer wg.Done()
			results[i] = e.pushProgress(ctx, progress)
		}(i, progress)
	}
	wg.Wait()
	e.setResults(results)

	if e.Queue != nil {
		if _, err := e.Queue.Drain(ctx); err != nil {
			log.WithError(err).Warn("Upload drain during sync cycle ended with error")
		}
	}
	return e.Status()
}

// pushProgress reconciles one tour's visit state. The server's merged
// response is authoritative: whatever it returns replaces the local
// visited set, and the record is only marked clean if no newer local
// mutation landed during the push.
func (e *Engine) pushProgress(ctx context.Context, progress models.TourProgress) models.SyncResult {
	result := models.SyncResult{TourID: progress.TourID}

	merged, err := e.Client.PostProgress(ctx, progress.TourID, progress)
	if err != nil {
		result.Err = err.Error()
		log.WithError(err).Warnf("Progress sync failed for tour %s", progress.TourID)
		return result
	}

	if err := e.adoptMerged(progress, merged); err != nil {
		result.Err = err.Error()
		return result
	}

	result.Updated = true
	log.Debugf("Synced progress for tour %s (%d stops visited)", progress.TourID, len(merged.VisitedStops))
	return result
}

// adoptMerged replaces the local record with the server's merged answer,
// holding the progress lock so a visit marked during the push is neither
// lost nor marked clean.
func (e *Engine) adoptMerged(pushed models.TourProgress, merged models.RemoteProgress) error {
	e.progressMu.Lock()
	defer e.progressMu.Unlock()

	var current models.TourProgress
	if err := e.Store.Get(store.Progress, pushed.TourID, &current); err != nil {
		current = pushed
	}
	updated := models.TourProgress{
		TourID:       pushed.TourID,
		VisitedStops: merged.VisitedStops,
		UpdatedAt:    merged.UpdatedAt,
		LastSyncedAt: time.Now().UTC(),
		Dirty:        current.UpdatedAt.After(pushed.UpdatedAt),
	}
	return e.Store.Put(store.Progress, pushed.TourID, updated)
}

func (e *Engine) dirtyProgress() ([]models.TourProgress, error) {
	all, err := store.GetAll[models.TourProgress](e.Store, store.Progress)
	if err != nil {
		return nil, err
	}
	var dirty []models.TourProgress
	for _, p := range all {
		if p.Dirty {
			dirty = append(dirty, p)
		}
	}
	sort.Slice(dirty, func(i, j int) bool { return dirty[i].TourID < dirty[j].TourID })
	return dirty, nil
}

func (e *Engine) setResults(results []models.SyncResult) {
	e.mu.Lock()
	e.results = results
	e.mu.Unlock()
}

// Run drives the engine until ctx is cancelled: a cycle on every
// offline-to-online transition, plus periodic cycles while online when an
// interval is configured.
func (e *Engine) Run(ctx context.Context) {
	transitions := e.Monitor.Subscribe()
	defer e.Monitor.Unsubscribe(transitions)

	var tick <-chan time.Time
	if e.Interval > 0 {
		ticker := time.NewTicker(e.Interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	if e.Monitor.Online() {
		e.Cycle(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case online, ok := <-transitions:
			if !ok {
				return
			}
			if online {
				log.Info("Connectivity restored, starting sync cycle")
				e.Cycle(ctx)
			}
		case <-tick:
			if e.Monitor.Online() {
				e.Cycle(ctx)
			}
		}
	}
}
