package models

import "time"

// Tour status values stored in TourRecord.Status.
const (
	TourStatusComplete = "complete"
	TourStatusPartial  = "partial"
	TourStatusStale    = "stale"
)

// Download status values stored in DownloadProgress.Status.
const (
	DownloadStatusDownloading = "downloading"
	DownloadStatusCompleted   = "completed"
	DownloadStatusFailed      = "failed"
)

type (
	// Config holds the application's configuration settings.
	Config struct {
		DataPath      string         `toml:"DataPath" json:"DataPath"`
		BaseURL       string         `toml:"BaseUrl" json:"BaseUrl"`
		APIKey        string         `toml:"ApiKey" json:"ApiKey"`
		LogLevel      string         `toml:"LogLevel" json:"LogLevel"`
		LogFormat     string         `toml:"LogFormat" json:"LogFormat"`
		Download      DownloadConfig `toml:"Download" json:"Download"`
		Sync          SyncConfig     `toml:"Sync" json:"Sync"`
		Quota         QuotaConfig    `toml:"Quota" json:"Quota"`
		APITimeoutSec int            `toml:"ApiTimeoutSec" json:"ApiTimeoutSec"`
		MaxRetries    int            `toml:"MaxRetries" json:"MaxRetries"`
	}

	// DownloadConfig holds settings specific to the download pipeline.
	// TileURL is a slippy-map template with {z}/{x}/{y} placeholders;
	// empty disables offline map tiles.
	DownloadConfig struct {
		Concurrency int    `toml:"Concurrency"`
		TileURL     string `toml:"TileUrl"`
		TileZoomMin int    `toml:"TileZoomMin"`
		TileZoomMax int    `toml:"TileZoomMax"`
	}

	// SyncConfig holds settings for the sync engine.
	SyncConfig struct {
		IntervalSec      int `toml:"IntervalSec"`
		ProbeIntervalSec int `toml:"ProbeIntervalSec"`
	}

	// QuotaConfig holds storage guard thresholds.
	QuotaConfig struct {
		LowRatio  float64 `toml:"LowRatio"`
		MinFreeMB int64   `toml:"MinFreeMB"`
	}

	// TourRecord is the persisted record for a downloaded tour. One exists
	// per tour id; created and updated only by the download pipeline.
	TourRecord struct {
		ID           string    `json:"id"`
		Name         string    `json:"name"`
		Description  string    `json:"description,omitempty"`
		StopIDs      []string  `json:"stopIds"` // visit order
		Size         int64     `json:"size"`    // sum of blob sizes at completion
		Version      string    `json:"version,omitempty"`
		DownloadedAt time.Time `json:"downloadedAt"`
		Status       string    `json:"status"` // complete | partial | stale
	}

	// StopRecord is a single point of interest within a tour. The tour id is
	// a back-reference, not an ownership edge.
	StopRecord struct {
		ID           string    `json:"id"`
		TourID       string    `json:"tourId"`
		Name         string    `json:"name"`
		Description  string    `json:"description,omitempty"`
		CreatorNote  string    `json:"creatorNote,omitempty"`
		Lat          float64   `json:"lat"`
		Lon          float64   `json:"lon"`
		BlobIDs      []string  `json:"blobIds"`
		MediaURLs    []string  `json:"mediaUrls"`
		DownloadedAt time.Time `json:"downloadedAt"`
	}

	// BlobInfo describes a persisted media blob. The payload itself is
	// stored raw in the blobs collection, keyed by the same content id.
	BlobInfo struct {
		ID        string    `json:"id"` // content id derived from source URL
		SourceURL string    `json:"sourceUrl"`
		Length    int64     `json:"length"`
		FetchedAt time.Time `json:"fetchedAt"`
	}

	// DownloadProgress is the ephemeral per-download state polled by the UI.
	// It lives in the registry only; the durable outcome is the TourRecord.
	DownloadProgress struct {
		TourID          string `json:"tourId"`
		Status          string `json:"status"` // downloading | completed | failed
		Percent         int    `json:"percent"`
		CurrentStep     string `json:"currentStep"`
		DownloadedBytes int64  `json:"downloadedBytes"`
		TotalBytes      int64  `json:"totalBytes,omitempty"` // advisory estimate, 0 until the stop list is known
	}

	// TourProgress is the locally mutated visit state the sync engine
	// reconciles against the server. Dirty marks a mutation not yet
	// acknowledged remotely.
	TourProgress struct {
		TourID       string    `json:"tourId"`
		VisitedStops []string  `json:"visitedStops"`
		UpdatedAt    time.Time `json:"updatedAt"`
		LastSyncedAt time.Time `json:"lastSyncedAt,omitempty"`
		Dirty        bool      `json:"dirty"`
	}

	// PendingUpload is a queued remote write created while offline. Removed
	// only after the server confirms persistence. Rejected marks a final
	// server verdict; such items wait for the user instead of being retried.
	PendingUpload struct {
		ID        string         `json:"id"`
		Seq       int64          `json:"seq"` // FIFO drain order
		Kind      string         `json:"kind"`
		Payload   map[string]any `json:"payload"`
		CreatedAt time.Time      `json:"createdAt"`
		Attempts  int            `json:"attempts"`
		LastError string         `json:"lastError,omitempty"`
		Rejected  bool           `json:"rejected,omitempty"`
	}

	// DraftRecord is an autosaved content-creation draft. Drafts expire 30
	// days after creation and are purged lazily.
	DraftRecord struct {
		ID        string         `json:"id"`
		Kind      string         `json:"kind"` // stop | tour
		UserID    string         `json:"userId"`
		Data      map[string]any `json:"data"`
		CreatedAt time.Time      `json:"createdAt"`
		UpdatedAt time.Time      `json:"updatedAt"`
		ExpiresAt time.Time      `json:"expiresAt"`
	}

	// StorageUsage is derived on demand, never persisted.
	StorageUsage struct {
		Quota     int64 `json:"quota"`
		Usage     int64 `json:"usage"`
		Available int64 `json:"available"`
		IsLow     bool  `json:"isLow"`
		TourCount int   `json:"tourCount"`
		ToursSize int64 `json:"toursSize"`
	}

	// SyncResult is the per-tour outcome of one sync cycle.
	SyncResult struct {
		TourID  string `json:"tourId"`
		Updated bool   `json:"updated"`
		Err     string `json:"error,omitempty"`
	}

	// SyncStatus is the aggregate engine state exposed to observers.
	SyncStatus struct {
		IsSyncing  bool         `json:"isSyncing"`
		LastSyncAt time.Time    `json:"lastSyncAt,omitempty"`
		Results    []SyncResult `json:"results"`
	}

	// TourManifest is the remote collaborator's response for a tour:
	// metadata plus the ordered stop list.
	TourManifest struct {
		ID          string         `json:"id"`
		Name        string         `json:"name"`
		Description string         `json:"description,omitempty"`
		Version     string         `json:"version,omitempty"`
		Stops       []ManifestStop `json:"stops"`
	}

	// ManifestStop is a stop reference inside a tour manifest. Order
	// defines the visit sequence.
	ManifestStop struct {
		ID    string `json:"id"`
		Order int    `json:"order"`
	}

	// StopDetail is the remote collaborator's response for a single stop.
	StopDetail struct {
		ID          string   `json:"id"`
		Name        string   `json:"name"`
		Description string   `json:"description,omitempty"`
		CreatorNote string   `json:"creatorNote,omitempty"`
		Lat         float64  `json:"lat"`
		Lon         float64  `json:"lon"`
		MediaURLs   []string `json:"mediaUrls"`
	}

	// RemoteProgress is the authoritative progress state returned by the
	// server after a push (last-writer-wins, server as arbiter).
	RemoteProgress struct {
		TourID       string    `json:"tourId"`
		VisitedStops []string  `json:"visitedStops"`
		UpdatedAt    time.Time `json:"updatedAt"`
	}
)

// Visited reports whether stopID is recorded in the local visit state.
func (p *TourProgress) Visited(stopID string) bool {
	for _, id := range p.VisitedStops {
		if id == stopID {
			return true
		}
	}
	return false
}

// MarkVisited appends stopID if not already present and stamps the
// mutation time. Returns true when the record changed.
func (p *TourProgress) MarkVisited(stopID string, now time.Time) bool {
	if p.Visited(stopID) {
		return false
	}
	p.VisitedStops = append(p.VisitedStops, stopID)
	p.UpdatedAt = now
	p.Dirty = true
	return true
}
