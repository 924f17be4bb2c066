package drafts

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"go-krawl-offline/internal/models"
	"go-krawl-offline/internal/store"
)

// TTL is how long an untouched draft survives before lazy purge.
const TTL = 30 * 24 * time.Hour

// Manager persists content-creation drafts so work in progress survives
// restarts and connectivity loss. Expired drafts are purged lazily on
// read, never by a background sweeper.
type Manager struct {
	Store *store.Store
}

// NewManager creates a draft manager over the given store.
func NewManager(s *store.Store) *Manager {
	return &Manager{Store: s}
}

// Save creates or updates a draft. An empty id creates a new draft;
// saving extends the expiry from now.
func (m *Manager) Save(id, kind, userID string, data map[string]any) (models.DraftRecord, error) {
	now := time.Now().UTC()
	draft := models.DraftRecord{
		ID:        id,
		Kind:      kind,
		UserID:    userID,
		Data:      data,
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(TTL),
	}

	if id == "" {
		draft.ID = uuid.NewString()
	} else {
		var existing models.DraftRecord
		if err := m.Store.Get(store.Drafts, id, &existing); err == nil {
			draft.CreatedAt = existing.CreatedAt
		}
	}

	if err := m.Store.Put(store.Drafts, draft.ID, draft); err != nil {
		return models.DraftRecord{}, fmt.Errorf("saving draft %s: %w", draft.ID, err)
	}
	log.Debugf("Saved %s draft %s", kind, draft.ID)
	return draft, nil
}

// Get returns a draft by id. An expired draft is purged and reported as
// not found.
func (m *Manager) Get(id string) (models.DraftRecord, error) {
	var draft models.DraftRecord
	if err := m.Store.Get(store.Drafts, id, &draft); err != nil {
		return models.DraftRecord{}, err
	}
	if time.Now().UTC().After(draft.ExpiresAt) {
		if err := m.Store.Delete(store.Drafts, id); err != nil {
			log.WithError(err).Warnf("Failed to purge expired draft %s", id)
		}
		return models.DraftRecord{}, store.ErrNotFound
	}
	return draft, nil
}

// List returns a user's live drafts, newest first, purging any expired
// ones encountered along the way.
func (m *Manager) List(userID string) ([]models.DraftRecord, error) {
	all, err := store.GetAll[models.DraftRecord](m.Store, store.Drafts)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	var live []models.DraftRecord
	for _, draft := range all {
		if now.After(draft.ExpiresAt) {
			if err := m.Store.Delete(store.Drafts, draft.ID); err != nil {
				log.WithError(err).Warnf("Failed to purge expired draft %s", draft.ID)
			}
			continue
		}
		if userID != "" && draft.UserID != userID {
			continue
		}
		live = append(live, draft)
	}
	sort.Slice(live, func(i, j int) bool { return live[i].UpdatedAt.After(live[j].UpdatedAt) })
	return live, nil
}

// Delete removes a draft, typically after a successful submit.
func (m *Manager) Delete(id string) error {
	if !m.Store.Has(store.Drafts, id) {
		return store.ErrNotFound
	}
	return m.Store.Delete(store.Drafts, id)
}

// PurgeExpired removes every expired draft and returns how many went.
func (m *Manager) PurgeExpired() (int, error) {
	all, err := store.GetAll[models.DraftRecord](m.Store, store.Drafts)
	if err != nil {
		return 0, err
	}
	now := time.Now().UTC()
	purged := 0
	for _, draft := range all {
		if now.After(draft.ExpiresAt) {
			if err := m.Store.Delete(store.Drafts, draft.ID); err != nil {
				log.WithError(err).Warnf("Failed to purge expired draft %s", draft.ID)
				continue
			}
			purged++
		}
	}
	return purged, nil
}
