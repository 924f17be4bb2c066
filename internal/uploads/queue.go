package uploads

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"go-krawl-offline/internal/api"
	"go-krawl-offline/internal/models"
	"go-krawl-offline/internal/store"
)

// Queue persists user-created content that could not be pushed while
// offline and drains it in submission order once connectivity returns.
// Items survive restarts; the sequence counter is rebuilt from the store.
type Queue struct {
	Store  *store.Store
	Client *api.Client

	mu        sync.Mutex
	nextSeq   int64
	uploading bool
}

// NewQueue opens the queue over the given store, recovering the sequence
// counter from any persisted items.
func NewQueue(s *store.Store, c *api.Client) (*Queue, error) {
	q := &Queue{Store: s, Client: c, nextSeq: 1}
	items, err := store.GetAll[models.PendingUpload](s, store.Uploads)
	if err != nil {
		return nil, fmt.Errorf("recovering upload queue: %w", err)
	}
	for _, item := range items {
		if item.Seq >= q.nextSeq {
			q.nextSeq = item.Seq + 1
		}
	}
	return q, nil
}

// Enqueue persists a new upload and returns it. Never blocks on network;
// the drain pass does the pushing.
func (q *Queue) Enqueue(kind string, payload map[string]any) (models.PendingUpload, error) {
	q.mu.Lock()
	seq := q.nextSeq
	q.nextSeq++
	q.mu.Unlock()

	item := models.PendingUpload{
		ID:        uuid.NewString(),
		Seq:       seq,
		Kind:      kind,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
	if err := q.Store.Put(store.Uploads, item.ID, item); err != nil {
		return models.PendingUpload{}, fmt.Errorf("enqueueing %s upload: %w", kind, err)
	}
	log.Infof("Queued %s upload %s (seq %d)", kind, item.ID, item.Seq)
	return item, nil
}

// Pending returns the queued items in submission order.
func (q *Queue) Pending() ([]models.PendingUpload, error) {
	items, err := store.GetAll[models.PendingUpload](q.Store, store.Uploads)
	if err != nil {
		return nil, err
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Seq < items[j].Seq })
	return items, nil
}

// Uploading reports whether a drain pass is in flight.
func (q *Queue) Uploading() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.uploading
}

// DrainResult summarizes one drain pass.
type DrainResult struct {
	Pushed   int
	Rejected int
	Retained int
}

// Drain pushes queued items oldest first. A transient failure on one item
// does not block the rest of the pass; the item stays queued for the next
// drain, so retries are unbounded without head-of-line blocking. A server
// rejection is recorded on the item and never retried automatically. An
// authentication failure ends the pass early since every remaining push
// would fail the same way. Concurrent calls coalesce into the running pass.
func (q *Queue) Drain(ctx context.Context) (DrainResult, error) {
	q.mu.Lock()
	if q.uploading {
		q.mu.Unlock()
		log.Debug("Upload drain already in progress, skipping")
		return DrainResult{}, nil
	}
	q.uploading = true
	q.mu.Unlock()
	defer func() {
		q.mu.Lock()
		q.uploading = false
		q.mu.Unlock()
	}()

	items, err := q.Pending()
	if err != nil {
		return DrainResult{}, err
	}

	var result DrainResult
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if item.Rejected {
			// Already rejected; waiting for the user to edit or discard.
			result.Retained++
			continue
		}

		err := q.Client.PostUpload(ctx, item)
		switch {
		case err == nil:
			if delErr := q.Store.Delete(store.Uploads, item.ID); delErr != nil {
				log.WithError(delErr).Errorf("Failed to remove pushed upload %s", item.ID)
			}
			result.Pushed++
			log.Infof("Pushed queued %s upload %s", item.Kind, item.ID)

		case errors.Is(err, api.ErrUnauthorized):
			q.recordFailure(item, err)
			result.Retained++
			log.WithError(err).Warn("Upload drain halted: authentication required")
			return result, err

		case errors.Is(err, api.ErrRejected):
			q.recordRejection(item, err)
			result.Rejected++
			log.WithError(err).Warnf("Upload %s rejected by server", item.ID)

		default:
			q.recordFailure(item, err)
			result.Retained++
			log.WithError(err).Warnf("Upload %s failed, will retry on next drain", item.ID)
		}
	}
	return result, nil
}

func (q *Queue) recordFailure(item models.PendingUpload, cause error) {
	item.Attempts++
	item.LastError = cause.Error()
	if err := q.Store.Put(store.Uploads, item.ID, item); err != nil {
		log.WithError(err).Errorf("Failed to record failure on upload %s", item.ID)
	}
}

// recordRejection pins the server's final verdict on the item so later
// drains skip it; only an explicit discard or edit clears it.
func (q *Queue) recordRejection(item models.PendingUpload, cause error) {
	item.Rejected = true
	q.recordFailure(item, cause)
}

// Discard removes a queued item, typically one the server rejected.
func (q *Queue) Discard(id string) error {
	if !q.Store.Has(store.Uploads, id) {
		return store.ErrNotFound
	}
	return q.Store.Delete(store.Uploads, id)
}
