package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"git.mills.io/prologic/bitcask"
	log "github.com/sirupsen/logrus"
)

// Custom Store Errors
var (
	// ErrNotFound is returned when a key is not found in a collection.
	ErrNotFound = errors.New("key not found")
	// ErrStorageUnavailable is returned when the underlying store cannot be
	// opened. Callers treat this as "offline features disabled", not a
	// fatal application error.
	ErrStorageUnavailable = errors.New("local storage unavailable")
)

// Named collections. Keys are namespaced as "<collection>/<key>" inside a
// single bitcask instance; a collection is the moral equivalent of one
// object store in the original layout.
const (
	Tours    = "tours"
	Stops    = "stops"
	Blobs    = "blobs"    // raw payload bytes, content-addressed
	BlobInfo = "blobinfo" // BlobInfo metadata, same key as the payload
	Tiles    = "tiles" // raw map tile bytes, keyed "<tourID>/<z>/<x>/<y>"
	Uploads  = "uploads"
	Drafts   = "drafts"
	Progress = "progress"
)

// Blobs can be multi-megabyte photos; lift bitcask's default value cap.
const maxValueSize = 64 << 20

// Store wraps the bitcask instance and provides collection-scoped access.
// Each call is atomic with respect to itself; there are no transactions
// across calls.
type Store struct {
	db *bitcask.Bitcask
	sync.RWMutex
	closeOnce sync.Once
	closeErr  error
}

// Open initializes the store at the given directory. A failure to open is
// reported as ErrStorageUnavailable so callers can degrade gracefully.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil && filepath.Dir(path) != "." {
		return nil, fmt.Errorf("%w: creating store directory: %v", ErrStorageUnavailable, err)
	}

	db, err := bitcask.Open(path, bitcask.WithMaxValueSize(maxValueSize))
	if err != nil {
		log.WithError(err).Errorf("Failed to open store at %s", path)
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	log.Debugf("Store opened at %s", path)
	return &Store{db: db}, nil
}

// Close safely closes the store.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		s.Lock()
		defer s.Unlock()
		s.closeErr = s.db.Close()
		if s.closeErr != nil {
			log.WithError(s.closeErr).Error("Error closing store")
		}
	})
	return s.closeErr
}

func storeKey(collection, key string) []byte {
	return []byte(collection + "/" + key)
}

// Put JSON-encodes value and writes it under collection/key.
func (s *Store) Put(collection, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshaling %s/%s: %w", collection, key, err)
	}
	return s.PutRaw(collection, key, data)
}

// PutRaw writes raw bytes under collection/key. Used for blob payloads
// where JSON encoding would only add base64 overhead.
func (s *Store) PutRaw(collection, key string, data []byte) error {
	s.Lock()
	defer s.Unlock()
	if err := s.db.Put(storeKey(collection, key), data); err != nil {
		return fmt.Errorf("writing %s/%s: %w", collection, key, err)
	}
	return nil
}

// Get reads collection/key and JSON-decodes it into out.
func (s *Store) Get(collection, key string, out any) error {
	data, err := s.GetRaw(collection, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("unmarshaling %s/%s: %w", collection, key, err)
	}
	return nil
}

// GetRaw reads the raw bytes stored under collection/key.
func (s *Store) GetRaw(collection, key string) ([]byte, error) {
	s.RLock()
	defer s.RUnlock()
	data, err := s.db.Get(storeKey(collection, key))
	if err != nil {
		if errors.Is(err, bitcask.ErrKeyNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("reading %s/%s: %w", collection, key, err)
	}
	return data, nil
}

// Has reports whether collection/key exists.
func (s *Store) Has(collection, key string) bool {
	s.RLock()
	defer s.RUnlock()
	return s.db.Has(storeKey(collection, key))
}

// Delete removes collection/key. Deleting a missing key is not an error.
func (s *Store) Delete(collection, key string) error {
	s.Lock()
	defer s.Unlock()
	if err := s.db.Delete(storeKey(collection, key)); err != nil {
		return fmt.Errorf("deleting %s/%s: %w", collection, key, err)
	}
	return nil
}

// Keys returns all keys in a collection, with the collection prefix
// stripped.
func (s *Store) Keys(collection string) ([]string, error) {
	s.RLock()
	defer s.RUnlock()
	prefix := collection + "/"
	var keys []string
	err := s.db.Scan([]byte(prefix), func(key []byte) error {
		keys = append(keys, strings.TrimPrefix(string(key), prefix))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", collection, err)
	}
	return keys, nil
}

// ForEach invokes fn for every record in a collection. Mutating the
// collection from inside fn is not supported.
func (s *Store) ForEach(collection string, fn func(key string, data []byte) error) error {
	keys, err := s.Keys(collection)
	if err != nil {
		return err
	}
	for _, key := range keys {
		data, err := s.GetRaw(collection, key)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return err
		}
		if err := fn(key, data); err != nil {
			return err
		}
	}
	return nil
}

// GetAll decodes every record in a collection into values of type T.
func GetAll[T any](s *Store, collection string) ([]T, error) {
	var out []T
	err := s.ForEach(collection, func(key string, data []byte) error {
		var v T
		if err := json.Unmarshal(data, &v); err != nil {
			log.WithError(err).Warnf("Skipping undecodable record %s/%s", collection, key)
			return nil
		}
		out = append(out, v)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
