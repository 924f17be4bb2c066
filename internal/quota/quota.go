package quota

import (
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"go-krawl-offline/internal/models"
	"go-krawl-offline/internal/store"
)

// ErrInsufficientStorage is the guard's veto: surfaced to the user before
// a download starts rather than mid-flight.
var ErrInsufficientStorage = errors.New("insufficient storage for download")

// Defaults applied by NewGuard when the config leaves them zero.
const (
	DefaultLowRatio = 0.9
	DefaultMinFree  = 50 << 20 // 50 MB absolute floor
)

// StatFunc reports filesystem totals for a path: quota (total bytes) and
// available bytes. Injectable so tests control the numbers.
type StatFunc func(path string) (quota, available int64, err error)

func statfs(path string) (int64, int64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, 0, err
	}
	bsize := int64(st.Bsize)
	return int64(st.Blocks) * bsize, int64(st.Bavail) * bsize, nil
}

// Guard answers "how much room is left" and "is it too little". The
// download pipeline consults it pre-flight; the UI reads it as a signal.
type Guard struct {
	Path     string
	LowRatio float64
	MinFree  int64
	Stat     StatFunc
}

// NewGuard builds a guard over the data path using platform statfs.
func NewGuard(path string, cfg models.QuotaConfig) *Guard {
	g := &Guard{
		Path:     path,
		LowRatio: cfg.LowRatio,
		MinFree:  cfg.MinFreeMB << 20,
		Stat:     statfs,
	}
	if g.LowRatio <= 0 {
		g.LowRatio = DefaultLowRatio
	}
	if g.MinFree <= 0 {
		g.MinFree = DefaultMinFree
	}
	return g
}

// Quota returns platform-reported quota, usage and available headroom.
// When the platform does not expose quota introspection the values are
// zeros: "unknown", not an error.
func (g *Guard) Quota() (quota, usage, available int64) {
	q, avail, err := g.Stat(g.Path)
	if err != nil {
		log.WithError(err).Debugf("Quota introspection unavailable for %s", g.Path)
		return 0, 0, 0
	}
	return q, q - avail, avail
}

// IsLow reports storage pressure: true when usage crosses the ratio
// threshold or the absolute headroom floor, whichever trips first.
func (g *Guard) IsLow() bool {
	quota, usage, available := g.Quota()
	if quota == 0 {
		// Unknown quota never blocks.
		return false
	}
	if float64(usage)/float64(quota) >= g.LowRatio {
		return true
	}
	return available < g.MinFree
}

// CheckHeadroom is the pipeline's pre-flight: fails fast when storage is
// low instead of starting a download that will be evicted mid-flight.
func (g *Guard) CheckHeadroom() error {
	if g.IsLow() {
		quota, usage, _ := g.Quota()
		return fmt.Errorf("%w: %d of %d bytes used", ErrInsufficientStorage, usage, quota)
	}
	return nil
}

// UsageReport derives the full storage snapshot, including the cached
// tours' aggregate footprint. Recomputed on demand, never persisted.
func (g *Guard) UsageReport(s *store.Store) (models.StorageUsage, error) {
	quota, usage, available := g.Quota()
	report := models.StorageUsage{
		Quota:     quota,
		Usage:     usage,
		Available: available,
		IsLow:     g.IsLow(),
	}

	tours, err := store.GetAll[models.TourRecord](s, store.Tours)
	if err != nil {
		return models.StorageUsage{}, fmt.Errorf("reading tour records: %w", err)
	}
	report.TourCount = len(tours)
	for _, t := range tours {
		report.ToursSize += t.Size
	}
	return report, nil
}
