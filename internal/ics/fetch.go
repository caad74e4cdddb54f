package ics

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	appLog "uspacecal/internal/log"
)

// ErrNoCourseID is returned for courses without an identifier; they have no feed.
var ErrNoCourseID = errors.New("course has no identifier")

// StatusError reports a non-success HTTP status from the feed source.
type StatusError struct {
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return "feed request failed: " + e.Status
}

// cacheEntry holds HTTP cache metadata for a single feed URL.
type cacheEntry struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Fetcher retrieves per-course calendar feeds. When cacheDir is set it
// sends conditional requests (ETag / Last-Modified) and serves 304 answers
// from the disk cache.
type Fetcher struct {
	client   *http.Client
	baseURL  string
	cacheDir string
}

// NewFetcher creates a new feed Fetcher for feeds below baseURL.
// An empty cacheDir disables the conditional-GET cache.
func NewFetcher(baseURL, cacheDir string, timeout time.Duration) *Fetcher {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Fetcher{
		client:   &http.Client{Timeout: timeout},
		baseURL:  strings.TrimRight(baseURL, "/"),
		cacheDir: cacheDir,
	}
}

// FeedURL builds <base>/<courseId>/<semester>/1/ww.ics.
func (f *Fetcher) FeedURL(courseID, semester string) string {
	return fmt.Sprintf("%s/%s/%s/1/ww.ics", f.baseURL, url.PathEscape(courseID), url.PathEscape(semester))
}

// Fetch downloads the raw feed of one course. There is no retry and no
// stale-cache fallback: any failure means the course has no feed this run.
func (f *Fetcher) Fetch(ctx context.Context, courseID, semester string) ([]byte, error) {
	if courseID == "" {
		return nil, ErrNoCourseID
	}
	feedURL := f.FeedURL(courseID, semester)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, err
	}

	var (
		cachePath  string
		cachedBody []byte
	)
	if f.cacheDir != "" {
		cachePath = f.cachePathForURL(feedURL)
		meta, _ := loadCacheMeta(cachePath)
		cachedBody, _ = loadCacheBody(cachePath)
		if len(cachedBody) > 0 {
			// Conditional headers only make sense when we can serve a 304.
			if meta.ETag != "" {
				req.Header.Set("If-None-Match", meta.ETag)
			}
			if meta.LastModified != "" {
				req.Header.Set("If-Modified-Since", meta.LastModified)
			}
		}
	}

	appLog.Debug("feed fetch start", "course_id", courseID, "semester", semester, "url", redactURL(feedURL))

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch feed %s: %w", courseID, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return nil, fmt.Errorf("read feed %s: %w", courseID, readErr)
		}

		if cachePath != "" {
			newMeta := cacheEntry{
				URL:          feedURL,
				ETag:         resp.Header.Get("ETag"),
				LastModified: resp.Header.Get("Last-Modified"),
			}
			if err := saveCache(cachePath, newMeta, body); err != nil {
				// Log but still return the freshly fetched body.
				appLog.Error("feed cache save failed", err, "course_id", courseID)
			}
		}

		appLog.Debug("feed fetch success", "course_id", courseID, "bytes", len(body), "from_cache", false)
		return body, nil

	case http.StatusNotModified:
		if len(cachedBody) == 0 {
			return nil, errors.New("received 304 Not Modified but no cached body available")
		}
		appLog.Debug("feed not modified; using cache", "course_id", courseID)
		return cachedBody, nil

	default:
		return nil, &StatusError{StatusCode: resp.StatusCode, Status: resp.Status}
	}
}

func (f *Fetcher) cachePathForURL(u string) string {
	sum := sha256.Sum256([]byte(u))
	// Use first 16 hex chars as directory name.
	return filepath.Join(f.cacheDir, hex.EncodeToString(sum[:8]))
}

func loadCacheMeta(cachePath string) (cacheEntry, error) {
	var meta cacheEntry
	data, err := os.ReadFile(filepath.Join(cachePath, "meta.json"))
	if err != nil {
		return meta, err
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return cacheEntry{}, err
	}
	return meta, nil
}

func loadCacheBody(cachePath string) ([]byte, error) {
	return os.ReadFile(filepath.Join(cachePath, "body.ics"))
}

func saveCache(cachePath string, meta cacheEntry, body []byte) error {
	if err := os.MkdirAll(cachePath, 0o700); err != nil {
		return err
	}

	// Write body first so meta never points at missing body.
	if err := os.WriteFile(filepath.Join(cachePath, "body.ics"), body, 0o600); err != nil {
		return err
	}

	meta.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(&meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(cachePath, "meta.json"), data, 0o600)
}

// redactURL reduces a URL to scheme and host for logging; feed paths carry
// course and semester identifiers.
func redactURL(u string) string {
	const redactedSuffix = "/...(redacted)"

	parsed, err := url.Parse(u)
	if err != nil || parsed.Host == "" {
		return "ics://...(redacted)"
	}
	return parsed.Scheme + "://" + parsed.Host + redactedSuffix
}
