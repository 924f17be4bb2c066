package search

import (
	"fmt"
	"os"

	"github.com/blevesearch/bleve/v2"
	log "github.com/sirupsen/logrus"

	"go-krawl-offline/internal/models"
)

// stopDocument is the indexed shape of a stop. Only the text fields that
// matter for lookup are indexed; the full record stays in the store.
type stopDocument struct {
	TourID      string `json:"tourId"`
	Name        string `json:"name"`
	Description string `json:"description"`
	CreatorNote string `json:"creatorNote"`
}

// Hit is one search result: the stop id plus its owning tour.
type Hit struct {
	StopID string
	TourID string
	Score  float64
}

// Index provides full-text lookup over downloaded stops so search keeps
// working without connectivity.
type Index struct {
	idx bleve.Index
}

// Open opens the search index at path, creating it on first use.
func Open(path string) (*Index, error) {
	idx, err := bleve.Open(path)
	if err != nil {
		if _, statErr := os.Stat(path); statErr == nil {
			return nil, fmt.Errorf("opening search index at %s: %w", path, err)
		}
		mapping := bleve.NewIndexMapping()
		idx, err = bleve.New(path, mapping)
		if err != nil {
			return nil, fmt.Errorf("creating search index at %s: %w", path, err)
		}
		log.Debugf("Created search index at %s", path)
	}
	return &Index{idx: idx}, nil
}

// Close flushes and closes the index.
func (s *Index) Close() error {
	return s.idx.Close()
}

// IndexStop adds or updates a stop's searchable fields.
func (s *Index) IndexStop(stop models.StopRecord) error {
	doc := stopDocument{
		TourID:      stop.TourID,
		Name:        stop.Name,
		Description: stop.Description,
		CreatorNote: stop.CreatorNote,
	}
	if err := s.idx.Index(stop.ID, doc); err != nil {
		return fmt.Errorf("indexing stop %s: %w", stop.ID, err)
	}
	return nil
}

// RemoveStop drops a stop from the index. Removing an unindexed stop is
// not an error.
func (s *Index) RemoveStop(stopID string) error {
	if err := s.idx.Delete(stopID); err != nil {
		return fmt.Errorf("removing stop %s from index: %w", stopID, err)
	}
	return nil
}

// Query runs a match query over the indexed stop text and returns up to
// limit hits, best first.
func (s *Index) Query(query string, limit int) ([]Hit, error) {
	if limit <= 0 {
		limit = 20
	}
	q := bleve.NewMatchQuery(query)
	req := bleve.NewSearchRequestOptions(q, limit, 0, false)
	req.Fields = []string{"tourId"}

	res, err := s.idx.Search(req)
	if err != nil {
		return nil, fmt.Errorf("searching for %q: %w", query, err)
	}

	hits := make([]Hit, 0, len(res.Hits))
	for _, h := range res.Hits {
		hit := Hit{StopID: h.ID, Score: h.Score}
		if tourID, ok := h.Fields["tourId"].(string); ok {
			hit.TourID = tourID
		}
		hits = append(hits, hit)
	}
	return hits, nil
}
