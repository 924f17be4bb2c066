package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	"go-krawl-offline/internal/models"
)

// Custom Error Types
var (
	ErrRateLimited  = errors.New("API rate limit exceeded")
	ErrUnauthorized = errors.New("API request requires authentication")
	ErrNotFound     = errors.New("API resource not found")
	ErrServerError  = errors.New("API server error")
	// ErrRejected covers server-side validation or version conflicts on a
	// push. Recorded per item, never retried automatically.
	ErrRejected = errors.New("API rejected the request")
)

const DefaultBaseURL = "https://krawl.app/api"

// Client talks to the backend API. All authenticated calls carry the
// bearer credential; its absence on a protected endpoint surfaces as
// ErrUnauthorized.
type Client struct {
	BaseURL    string
	APIKey     string
	HttpClient *http.Client
	MaxRetries int
}

// NewClient creates a new API client.
func NewClient(baseURL, apiKey string, httpClient *http.Client) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &Client{
		BaseURL:    baseURL,
		APIKey:     apiKey,
		HttpClient: httpClient,
		MaxRetries: 3,
	}
}

// doJSON executes one request with retry on rate limits and server
// errors, decoding a 2xx response body into out (when out is non-nil).
func (c *Client) doJSON(ctx context.Context, method, path string, payload, out any) error {
	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshaling request payload: %w", err)
		}
	}

	reqURL := c.BaseURL + path
	var lastErr error

	for attempt := 0; attempt < c.maxRetries(); attempt++ {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, reqURL, reader)
		if err != nil {
			return fmt.Errorf("creating request for %s: %w", reqURL, err)
		}
		req.Header.Set("Content-Type", "application/json")
		if c.APIKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.APIKey)
		}

		resp, err := c.HttpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("http request failed (attempt %d/%d): %w", attempt+1, c.maxRetries(), err)
			if ctx.Err() != nil {
				return lastErr
			}
			if attempt < c.maxRetries()-1 {
				log.WithError(err).Warnf("Retrying %s %s (%d/%d)...", method, path, attempt+1, c.maxRetries())
				c.sleep(ctx, time.Duration(attempt+1)*2*time.Second)
				continue
			}
			break
		}

		retryable, err := classifyStatus(resp.StatusCode)
		if err == nil {
			defer resp.Body.Close()
			if out == nil {
				_, _ = io.Copy(io.Discard, resp.Body)
				return nil
			}
			respBody, readErr := io.ReadAll(resp.Body)
			if readErr != nil {
				return fmt.Errorf("reading response body: %w", readErr)
			}
			if err := json.Unmarshal(respBody, out); err != nil {
				log.WithError(err).Errorf("Error unmarshalling response from %s", path)
				return fmt.Errorf("unmarshalling response JSON: %w", err)
			}
			return nil
		}

		lastErr = err
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		if !retryable {
			return lastErr
		}
		if attempt < c.maxRetries()-1 {
			sleep := time.Duration(attempt+1) * 3 * time.Second
			if errors.Is(lastErr, ErrRateLimited) {
				sleep = time.Duration(attempt+1) * 5 * time.Second
			}
			log.WithError(lastErr).Warnf("Retrying %s %s (%d/%d) after %s...", method, path, attempt+1, c.maxRetries(), sleep)
			c.sleep(ctx, sleep)
		}
	}

	return lastErr
}

func classifyStatus(code int) (retryable bool, err error) {
	switch {
	case code >= 200 && code < 300:
		return false, nil
	case code == http.StatusTooManyRequests:
		return true, ErrRateLimited
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return false, ErrUnauthorized
	case code == http.StatusNotFound:
		return false, ErrNotFound
	case code == http.StatusConflict || code == http.StatusUnprocessableEntity || code == http.StatusBadRequest:
		return false, fmt.Errorf("%w (status %d)", ErrRejected, code)
	case code >= 500:
		return true, fmt.Errorf("%w (status %d)", ErrServerError, code)
	default:
		return false, fmt.Errorf("API request failed with status %d", code)
	}
}

func (c *Client) maxRetries() int {
	if c.MaxRetries <= 0 {
		return 1
	}
	return c.MaxRetries
}

func (c *Client) sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

// GetTour fetches a tour manifest: metadata plus the ordered stop list.
func (c *Client) GetTour(ctx context.Context, tourID string) (models.TourManifest, error) {
	var manifest models.TourManifest
	if err := c.doJSON(ctx, http.MethodGet, "/krawls/"+tourID, nil, &manifest); err != nil {
		return models.TourManifest{}, err
	}
	return manifest, nil
}

// GetStop fetches the content fields for a single stop.
func (c *Client) GetStop(ctx context.Context, stopID string) (models.StopDetail, error) {
	var stop models.StopDetail
	if err := c.doJSON(ctx, http.MethodGet, "/gems/"+stopID, nil, &stop); err != nil {
		return models.StopDetail{}, err
	}
	return stop, nil
}

// GetProgress fetches the server's authoritative visit state for a tour.
func (c *Client) GetProgress(ctx context.Context, tourID string) (models.RemoteProgress, error) {
	var progress models.RemoteProgress
	if err := c.doJSON(ctx, http.MethodGet, "/krawls/"+tourID+"/progress", nil, &progress); err != nil {
		return models.RemoteProgress{}, err
	}
	return progress, nil
}

// PostProgress pushes local visit state and returns the authoritative
// merged state (last-writer-wins, server as arbiter).
func (c *Client) PostProgress(ctx context.Context, tourID string, local models.TourProgress) (models.RemoteProgress, error) {
	var merged models.RemoteProgress
	payload := map[string]any{
		"visitedStops": local.VisitedStops,
		"updatedAt":    local.UpdatedAt,
	}
	if err := c.doJSON(ctx, http.MethodPost, "/krawls/"+tourID+"/progress", payload, &merged); err != nil {
		return models.RemoteProgress{}, err
	}
	return merged, nil
}

// PostUpload pushes one queued upload payload.
func (c *Client) PostUpload(ctx context.Context, upload models.PendingUpload) error {
	path := "/uploads"
	switch upload.Kind {
	case "stop":
		path = "/gems"
	case "tour":
		path = "/krawls"
	}
	return c.doJSON(ctx, http.MethodPost, path, upload.Payload, nil)
}

// FetchBlob downloads a media asset. The whole payload is read before
// returning so callers can persist it all-or-nothing; a declared
// Content-Length that disagrees with the body is an error, never a
// truncated write.
func (c *Client) FetchBlob(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating blob request for %s: %w", url, err)
	}
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.HttpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching blob %s: %w", url, err)
	}
	defer resp.Body.Close()

	if _, err := classifyStatus(resp.StatusCode); err != nil {
		return nil, fmt.Errorf("fetching blob %s: %w", url, err)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading blob %s: %w", url, err)
	}
	if resp.ContentLength > 0 && int64(len(data)) != resp.ContentLength {
		return nil, fmt.Errorf("blob %s truncated: got %d of %d bytes", url, len(data), resp.ContentLength)
	}
	return data, nil
}
