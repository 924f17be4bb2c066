package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"go-krawl-offline/internal/api"
	"go-krawl-offline/internal/helpers"
	"go-krawl-offline/internal/models"
	"go-krawl-offline/internal/quota"
	"go-krawl-offline/internal/search"
	"go-krawl-offline/internal/store"
	"go-krawl-offline/internal/tiles"
)

const defaultConcurrency = 4

// Rough per-photo figure backing the advisory size estimate shown while
// real byte counts accumulate.
const estimatedBytesPerMedia = 200 << 10

// Download is the handle for one in-flight (or just-finished) download.
// Progress is pull-based: observers poll Progress() for a snapshot.
type Download struct {
	TourID string

	mu       sync.Mutex
	progress models.DownloadProgress
	cancel   context.CancelFunc
	done     chan struct{}
}

// Progress returns a snapshot of the current download state.
func (d *Download) Progress() models.DownloadProgress {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.progress
}

// Cancel requests cooperative cancellation. The check happens between
// units; an in-flight fetch finishes or fails naturally and its result is
// discarded.
func (d *Download) Cancel() {
	d.cancel()
}

// Done is closed when the run reaches a terminal state.
func (d *Download) Done() <-chan struct{} {
	return d.done
}

// update mutates the progress snapshot. Percent never regresses even if
// callers race: it is computed from a running completed-count, and the
// setter refuses to lower it.
func (d *Download) update(fn func(p *models.DownloadProgress)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	prev := d.progress.Percent
	fn(&d.progress)
	if d.progress.Percent < prev {
		d.progress.Percent = prev
	}
	if d.progress.Percent > 100 {
		d.progress.Percent = 100
	}
}

// Registry tracks active downloads, one per tour id. It is injected and
// empty on cold start; nothing here is package-level state.
type Registry struct {
	mu     sync.Mutex
	active map[string]*Download
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{active: make(map[string]*Download)}
}

// Progress returns the progress snapshot for a tour id, if any download
// (in-flight or unreleased terminal) is registered.
func (r *Registry) Progress(tourID string) (models.DownloadProgress, bool) {
	r.mu.Lock()
	d, ok := r.active[tourID]
	r.mu.Unlock()
	if !ok {
		return models.DownloadProgress{}, false
	}
	return d.Progress(), true
}

// Release drops a terminal entry once its observers have consumed it.
// An entry still downloading is never released.
func (r *Registry) Release(tourID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.active[tourID]
	if !ok {
		return
	}
	if d.Progress().Status != models.DownloadStatusDownloading {
		delete(r.active, tourID)
	}
}

// claim registers a new download for tourID unless one is already in
// flight, in which case the existing handle is returned. Test-and-set
// under the registry lock enforces at most one active download per id.
func (r *Registry) claim(tourID string, d *Download) (*Download, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.active[tourID]; ok {
		if existing.Progress().Status == models.DownloadStatusDownloading {
			return existing, false
		}
	}
	r.active[tourID] = d
	return d, true
}

// Pipeline orchestrates fetching a tour's full content set and persisting
// it unit by unit.
type Pipeline struct {
	Store       *store.Store
	Client      *api.Client
	Guard       *quota.Guard
	Registry    *Registry
	Index       *search.Index // optional; nil disables offline search
	Concurrency int

	// TileURL is the slippy-map template ({z}/{x}/{y} placeholders) used
	// to cache the tiles covering the tour area. Empty disables the map
	// tile phase. TileZooms defaults to the standard zoom range.
	TileURL   string
	TileZooms []int
}

// New wires a pipeline. Concurrency <= 0 selects the default bound.
func New(s *store.Store, c *api.Client, g *quota.Guard, r *Registry, idx *search.Index, concurrency int) *Pipeline {
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	return &Pipeline{Store: s, Client: c, Guard: g, Registry: r, Index: idx, Concurrency: concurrency}
}

// Start begins downloading a tour. A second call for a tour already
// downloading is a no-op returning the existing handle. Storage pressure
// fails fast with quota.ErrInsufficientStorage before any fetch.
func (p *Pipeline) Start(ctx context.Context, tourID string) (*Download, error) {
	runCtx, cancel := context.WithCancel(ctx)
	d := &Download{
		TourID: tourID,
		cancel: cancel,
		done:   make(chan struct{}),
		progress: models.DownloadProgress{
			TourID:      tourID,
			Status:      models.DownloadStatusDownloading,
			CurrentStep: "Fetching tour data...",
		},
	}

	handle, claimed := p.Registry.claim(tourID, d)
	if !claimed {
		cancel()
		log.Debugf("Download already in progress for tour %s, returning existing handle", tourID)
		return handle, nil
	}

	if err := p.Guard.CheckHeadroom(); err != nil {
		p.Registry.mu.Lock()
		delete(p.Registry.active, tourID)
		p.Registry.mu.Unlock()
		cancel()
		return nil, err
	}

	go p.run(runCtx, d)
	return d, nil
}

type blobJob struct {
	id  string
	url string
}

type blobResult struct {
	job blobJob
	n   int64
	err error
}

func (p *Pipeline) run(ctx context.Context, d *Download) {
	defer close(d.done)
	defer d.cancel()

	log.Infof("Starting download for tour %s", d.TourID)

	manifest, err := p.Client.GetTour(ctx, d.TourID)
	if err != nil {
		// Nothing persisted yet, so no partial record to write.
		p.fail(d, fmt.Sprintf("Failed to fetch tour: %v", err))
		return
	}

	stops := append([]models.ManifestStop(nil), manifest.Stops...)
	sort.SliceStable(stops, func(i, j int) bool { return stops[i].Order < stops[j].Order })

	// Stop details are fetched up front so the full unit count (stops +
	// unique blobs + map tiles) is known before any blob work starts.
	var (
		stopIDs    []string
		blobJobs   []blobJob
		seenBlobs  = make(map[string]struct{})
		stopBlobs  = make(map[string][]string)
		points     []tiles.Point
		mediaRefs  int
		downloaded int64
	)

	for i, ref := range stops {
		if err := ctx.Err(); err != nil {
			p.finalizePartial(d, manifest, stopIDs, downloaded, "Download cancelled")
			return
		}

		detail, err := p.Client.GetStop(ctx, ref.ID)
		if err != nil {
			p.writePartial(manifest, stopIDs, downloaded)
			p.fail(d, fmt.Sprintf("Failed to fetch stop %s: %v", ref.ID, err))
			return
		}

		rec := models.StopRecord{
			ID:           detail.ID,
			TourID:       d.TourID,
			Name:         detail.Name,
			Description:  detail.Description,
			CreatorNote:  detail.CreatorNote,
			Lat:          detail.Lat,
			Lon:          detail.Lon,
			MediaURLs:    detail.MediaURLs,
			DownloadedAt: time.Now().UTC(),
		}
		for _, u := range detail.MediaURLs {
			id := helpers.BlobID(u)
			rec.BlobIDs = append(rec.BlobIDs, id)
			mediaRefs++
			if _, seen := seenBlobs[id]; !seen {
				seenBlobs[id] = struct{}{}
				blobJobs = append(blobJobs, blobJob{id: id, url: u})
			}
		}
		stopBlobs[rec.ID] = rec.BlobIDs
		points = append(points, tiles.Point{Lat: rec.Lat, Lon: rec.Lon})

		if err := p.Store.Put(store.Stops, rec.ID, rec); err != nil {
			p.writePartial(manifest, stopIDs, downloaded)
			p.fail(d, fmt.Sprintf("Failed to save stop %s: %v", rec.Name, err))
			return
		}
		if p.Index != nil {
			if err := p.Index.IndexStop(rec); err != nil {
				log.WithError(err).Warnf("Failed to index stop %s for offline search", rec.ID)
			}
		}
		stopIDs = append(stopIDs, rec.ID)

		total := len(stops) + len(blobJobs) // grows as blobs are discovered
		completed := i + 1
		d.update(func(pr *models.DownloadProgress) {
			pr.Percent = completed * 100 / max(total, 1)
			pr.CurrentStep = fmt.Sprintf("Downloading stop %d of %d: %s", completed, len(stops), detail.Name)
		})
	}

	tileCoords := p.tourTiles(points)
	totalUnits := len(stops) + len(blobJobs) + len(tileCoords)
	completedUnits := len(stops)
	estimated := estimateTourSize(manifest, mediaRefs)

	// Already-persisted blobs and tiles are counted complete without a
	// fetch, which is what makes a retry after failure idempotent.
	var pending []blobJob
	for _, job := range blobJobs {
		if p.Store.Has(store.Blobs, job.id) {
			var info models.BlobInfo
			if err := p.Store.Get(store.BlobInfo, job.id, &info); err == nil {
				downloaded += info.Length
			}
			completedUnits++
			continue
		}
		pending = append(pending, job)
	}
	pendingTiles := make([]tiles.Coord, 0, len(tileCoords))
	for _, c := range tileCoords {
		if p.Store.Has(store.Tiles, tileKey(d.TourID, c)) {
			completedUnits++
			continue
		}
		pendingTiles = append(pendingTiles, c)
	}
	d.update(func(pr *models.DownloadProgress) {
		pr.Percent = completedUnits * 100 / max(totalUnits, 1)
		pr.DownloadedBytes = downloaded
		pr.TotalBytes = estimated
	})

	failMsg, cancelled := p.fetchBlobs(ctx, d, pending, totalUnits, &completedUnits, &downloaded)
	if cancelled {
		p.finalizePartial(d, manifest, stopIDs, downloaded, "Download cancelled")
		return
	}
	if failMsg != "" {
		p.writePartial(manifest, stopIDs, downloaded)
		p.fail(d, failMsg)
		return
	}

	if p.fetchTiles(ctx, d, pendingTiles, totalUnits, &completedUnits, &downloaded) {
		p.finalizePartial(d, manifest, stopIDs, downloaded, "Download cancelled")
		return
	}

	size := p.tourSize(stopIDs, stopBlobs)
	record := models.TourRecord{
		ID:           manifest.ID,
		Name:         manifest.Name,
		Description:  manifest.Description,
		StopIDs:      stopIDs,
		Size:         size,
		Version:      manifest.Version,
		DownloadedAt: time.Now().UTC(),
		Status:       models.TourStatusComplete,
	}
	if err := p.Store.Put(store.Tours, record.ID, record); err != nil {
		p.fail(d, fmt.Sprintf("Failed to save tour record: %v", err))
		return
	}

	d.update(func(pr *models.DownloadProgress) {
		pr.Status = models.DownloadStatusCompleted
		pr.Percent = 100
		pr.CurrentStep = "Download complete"
		pr.DownloadedBytes = downloaded
	})
	log.Infof("Completed download for tour %s (%s)", d.TourID, helpers.BytesToSize(uint64(size)))
}

// fetchBlobs runs the bounded worker pool over pending blob jobs. Each
// blob is persisted all-or-nothing; progress is bumped from a running
// completed-count so the percentage stays monotonic regardless of which
// fetch finishes first.
func (p *Pipeline) fetchBlobs(ctx context.Context, d *Download, pending []blobJob, totalUnits int, completedUnits *int, downloaded *int64) (failMsg string, cancelled bool) {
	if len(pending) == 0 {
		return "", ctx.Err() != nil
	}

	jobs := make(chan blobJob)
	results := make(chan blobResult)
	var wg sync.WaitGroup

	for w := 0; w < p.Concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				n, err := p.fetchOne(ctx, job)
				results <- blobResult{job: job, n: n, err: err}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, job := range pending {
			// Cancel check between units: stop issuing new fetches.
			select {
			case <-ctx.Done():
				return
			case jobs <- job:
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	blobsDone := 0
	for res := range results {
		if err := ctx.Err(); err != nil {
			// Result of an in-flight fetch after cancel is discarded; the
			// blob was either fully persisted before the cancel or not at
			// all.
			cancelled = true
			continue
		}
		if res.err != nil {
			if failMsg == "" {
				failMsg = fmt.Sprintf("Failed to fetch media: %v", res.err)
			}
			// First failure cancels the rest of the run.
			d.cancel()
			continue
		}
		*completedUnits++
		*downloaded += res.n
		blobsDone++
		done, total := *completedUnits, totalUnits
		bytes := *downloaded
		d.update(func(pr *models.DownloadProgress) {
			pr.Percent = done * 100 / max(total, 1)
			pr.CurrentStep = fmt.Sprintf("Downloading media %d of %d", blobsDone, len(pending))
			pr.DownloadedBytes = bytes
		})
	}

	if failMsg != "" {
		return failMsg, false
	}
	return "", cancelled || ctx.Err() != nil
}

// fetchOne downloads and persists a single blob. The payload write and
// its info record are only issued after the full body is in memory and
// length-checked, so a cut-off transfer never leaves a truncated blob.
func (p *Pipeline) fetchOne(ctx context.Context, job blobJob) (int64, error) {
	data, err := p.Client.FetchBlob(ctx, job.url)
	if err != nil {
		return 0, err
	}
	if err := p.Store.PutRaw(store.Blobs, job.id, data); err != nil {
		return 0, err
	}
	info := models.BlobInfo{
		ID:        job.id,
		SourceURL: job.url,
		Length:    int64(len(data)),
		FetchedAt: time.Now().UTC(),
	}
	if err := p.Store.Put(store.BlobInfo, job.id, info); err != nil {
		return 0, err
	}
	return info.Length, nil
}

// tourTiles returns the tile set covering the tour's stops, empty when
// the tile phase is disabled or no stop carries coordinates.
func (p *Pipeline) tourTiles(points []tiles.Point) []tiles.Coord {
	if p.TileURL == "" {
		return nil
	}
	box, ok := tiles.Bounds(points)
	if !ok {
		return nil
	}
	zooms := p.TileZooms
	if len(zooms) == 0 {
		zooms = tiles.ZoomRange(tiles.DefaultZoomMin, tiles.DefaultZoomMax)
	}
	return tiles.Enumerate(box, zooms)
}

// Tiles are cached per tour so removing one tour never punches holes in
// another tour's map.
func tileKey(tourID string, c tiles.Coord) string {
	return tourID + "/" + c.Path()
}

// fetchTiles caches the map tiles covering the tour area. Tile fetches
// are best effort: a failed tile is logged and its unit still counted,
// never failing the download, since the map degrades gracefully without
// it. Returns true when the run was cancelled mid-phase.
func (p *Pipeline) fetchTiles(ctx context.Context, d *Download, pending []tiles.Coord, totalUnits int, completedUnits *int, downloaded *int64) bool {
	if len(pending) == 0 {
		return ctx.Err() != nil
	}

	jobs := make(chan tiles.Coord)
	results := make(chan int64)
	var wg sync.WaitGroup

	for w := 0; w < p.Concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for c := range jobs {
				data, err := p.Client.FetchBlob(ctx, tiles.URL(p.TileURL, c))
				if err != nil {
					log.WithError(err).Warnf("Failed to fetch map tile %s", c.Path())
					results <- 0
					continue
				}
				if err := p.Store.PutRaw(store.Tiles, tileKey(d.TourID, c), data); err != nil {
					log.WithError(err).Warnf("Failed to cache map tile %s", c.Path())
					results <- 0
					continue
				}
				results <- int64(len(data))
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, c := range pending {
			select {
			case <-ctx.Done():
				return
			case jobs <- c:
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	cancelled := false
	tilesDone := 0
	for n := range results {
		if ctx.Err() != nil {
			cancelled = true
			continue
		}
		*completedUnits++
		*downloaded += n
		tilesDone++
		done, total := *completedUnits, totalUnits
		bytes := *downloaded
		step := fmt.Sprintf("Downloading map tiles %d of %d", tilesDone, len(pending))
		d.update(func(pr *models.DownloadProgress) {
			pr.Percent = done * 100 / max(total, 1)
			pr.CurrentStep = step
			pr.DownloadedBytes = bytes
		})
	}
	return cancelled || ctx.Err() != nil
}

// estimateTourSize is the advisory total shown while real byte counts
// accumulate: the manifest JSON plus a flat per-photo figure.
func estimateTourSize(manifest models.TourManifest, mediaRefs int) int64 {
	data, _ := json.Marshal(manifest)
	return int64(len(data)) + int64(mediaRefs)*estimatedBytesPerMedia
}

// TileCacheSize sums the cached map tile bytes for a tour.
func TileCacheSize(s *store.Store, tourID string) (int64, error) {
	keys, err := s.Keys(store.Tiles)
	if err != nil {
		return 0, err
	}
	prefix := tourID + "/"
	var size int64
	for _, key := range keys {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if data, err := s.GetRaw(store.Tiles, key); err == nil {
			size += int64(len(data))
		}
	}
	return size, nil
}

// tourSize sums the persisted blob sizes for the given stops.
func (p *Pipeline) tourSize(stopIDs []string, stopBlobs map[string][]string) int64 {
	var size int64
	counted := make(map[string]struct{})
	for _, stopID := range stopIDs {
		for _, blobID := range stopBlobs[stopID] {
			if _, ok := counted[blobID]; ok {
				continue
			}
			counted[blobID] = struct{}{}
			var info models.BlobInfo
			if err := p.Store.Get(store.BlobInfo, blobID, &info); err == nil {
				size += info.Length
			}
		}
	}
	return size
}

func (p *Pipeline) fail(d *Download, step string) {
	d.update(func(pr *models.DownloadProgress) {
		pr.Status = models.DownloadStatusFailed
		pr.CurrentStep = step
	})
	log.Warnf("Download failed for tour %s: %s", d.TourID, step)
}

func (p *Pipeline) finalizePartial(d *Download, manifest models.TourManifest, stopIDs []string, downloaded int64, step string) {
	p.writePartial(manifest, stopIDs, downloaded)
	p.fail(d, step)
}

// writePartial records whatever was persisted before the run stopped, so
// a later invocation can resume without re-fetching.
func (p *Pipeline) writePartial(manifest models.TourManifest, stopIDs []string, downloaded int64) {
	if manifest.ID == "" {
		return
	}
	record := models.TourRecord{
		ID:           manifest.ID,
		Name:         manifest.Name,
		Description:  manifest.Description,
		StopIDs:      stopIDs,
		Size:         downloaded,
		Version:      manifest.Version,
		DownloadedAt: time.Now().UTC(),
		Status:       models.TourStatusPartial,
	}
	if err := p.Store.Put(store.Tours, record.ID, record); err != nil {
		log.WithError(err).Errorf("Failed to write partial tour record for %s", manifest.ID)
	}
}

// Verify reconstructs a tour's completeness by checking presence of every
// referenced blob id, rather than trusting the stored status field.
func Verify(s *store.Store, tourID string) (bool, error) {
	var tour models.TourRecord
	if err := s.Get(store.Tours, tourID, &tour); err != nil {
		return false, err
	}
	for _, stopID := range tour.StopIDs {
		var stop models.StopRecord
		if err := s.Get(store.Stops, stopID, &stop); err != nil {
			return false, nil
		}
		for _, blobID := range stop.BlobIDs {
			if !s.Has(store.Blobs, blobID) {
				return false, nil
			}
		}
	}
	return true, nil
}

// Remove deletes a tour, its stops, its map tile cache, and any blobs no
// retained tour still references. A blob shared with another downloaded
// tour survives.
func (p *Pipeline) Remove(tourID string) error {
	var tour models.TourRecord
	if err := p.Store.Get(store.Tours, tourID, &tour); err != nil {
		return err
	}

	// Blob ids still referenced by other retained tours.
	retained := make(map[string]struct{})
	others, err := store.GetAll[models.TourRecord](p.Store, store.Tours)
	if err != nil {
		return err
	}
	for _, other := range others {
		if other.ID == tourID {
			continue
		}
		for _, stopID := range other.StopIDs {
			var stop models.StopRecord
			if err := p.Store.Get(store.Stops, stopID, &stop); err != nil {
				continue
			}
			for _, blobID := range stop.BlobIDs {
				retained[blobID] = struct{}{}
			}
		}
	}

	for _, stopID := range tour.StopIDs {
		var stop models.StopRecord
		if err := p.Store.Get(store.Stops, stopID, &stop); err == nil {
			for _, blobID := range stop.BlobIDs {
				if _, keep := retained[blobID]; keep {
					continue
				}
				if err := p.Store.Delete(store.Blobs, blobID); err != nil {
					log.WithError(err).Warnf("Failed to delete blob %s", blobID)
				}
				if err := p.Store.Delete(store.BlobInfo, blobID); err != nil {
					log.WithError(err).Warnf("Failed to delete blob info %s", blobID)
				}
			}
		}
		if err := p.Store.Delete(store.Stops, stopID); err != nil {
			log.WithError(err).Warnf("Failed to delete stop %s", stopID)
		}
		if p.Index != nil {
			if err := p.Index.RemoveStop(stopID); err != nil {
				log.WithError(err).Warnf("Failed to remove stop %s from search index", stopID)
			}
		}
	}

	if keys, err := p.Store.Keys(store.Tiles); err != nil {
		log.WithError(err).Warnf("Failed to scan tile cache for %s", tourID)
	} else {
		prefix := tourID + "/"
		for _, key := range keys {
			if !strings.HasPrefix(key, prefix) {
				continue
			}
			if err := p.Store.Delete(store.Tiles, key); err != nil {
				log.WithError(err).Warnf("Failed to delete map tile %s", key)
			}
		}
	}

	if err := p.Store.Delete(store.Progress, tourID); err != nil {
		log.WithError(err).Debugf("No progress record to delete for %s", tourID)
	}
	if err := p.Store.Delete(store.Tours, tourID); err != nil {
		return fmt.Errorf("deleting tour record %s: %w", tourID, err)
	}
	log.Infof("Removed downloaded tour %s", tourID)
	return nil
}
