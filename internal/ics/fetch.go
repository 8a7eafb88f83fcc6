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
	"time"

	appLog "mealendar/internal/log"
)

// maxBodySize bounds a single feed download.
const maxBodySize = 16 << 20

// Feed is a single ICS subscription.
type Feed struct {
	// ID is the configured identifier; it becomes Event.SourceID.
	ID string
	// URL is the ICS endpoint. webcal:// is rewritten to https://.
	URL string
}

// FetchResult contains the outcome of fetching a single feed.
type FetchResult struct {
	Feed      Feed
	Body      []byte // ICS payload (either freshly fetched or from cache)
	FromCache bool   // true if the cached body was reused
}

// cacheMeta holds HTTP validators for a single ICS URL.
type cacheMeta struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Fetcher downloads feeds with conditional GET (ETag / Last-Modified) and
// keeps the last good body on disk, so an unreachable feed still renders.
type Fetcher struct {
	Client   *http.Client
	cacheDir string
}

// NewFetcher creates a Fetcher caching under cacheDir, e.g.
// "/var/lib/mealendar/ics-cache". An empty cacheDir disables the disk
// cache.
func NewFetcher(cacheDir string, timeout time.Duration) *Fetcher {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Fetcher{
		Client:   &http.Client{Timeout: timeout},
		cacheDir: cacheDir,
	}
}

// Fetch downloads one feed. Network failures and non-OK statuses fall back
// to the cached body when one exists.
func (f *Fetcher) Fetch(ctx context.Context, feed Feed) (FetchResult, error) {
	target, err := normalizeURL(feed.URL)
	if err != nil {
		return FetchResult{}, err
	}

	var (
		meta       cacheMeta
		cachedBody []byte
		cachePath  string
	)
	if f.cacheDir != "" {
		cachePath = f.cachePath(target)
		if err := os.MkdirAll(cachePath, 0o700); err != nil {
			return FetchResult{}, err
		}
		meta, _ = loadMeta(cachePath)
		cachedBody, _ = os.ReadFile(filepath.Join(cachePath, "body.ics"))
	}

	fallback := func(cause error) (FetchResult, error) {
		if len(cachedBody) == 0 {
			return FetchResult{}, cause
		}
		appLog.Warn("ics fetch failed, using cached body", "id", feed.ID, "url", redactURL(target), "err", cause)
		return FetchResult{Feed: feed, Body: cachedBody, FromCache: true}, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return FetchResult{}, err
	}
	if len(cachedBody) > 0 {
		if meta.ETag != "" {
			req.Header.Set("If-None-Match", meta.ETag)
		}
		if meta.LastModified != "" {
			req.Header.Set("If-Modified-Since", meta.LastModified)
		}
	}

	appLog.Debug("ics fetch start", "id", feed.ID, "url", redactURL(target))

	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return FetchResult{}, ctx.Err()
		}
		return fallback(err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
		if err != nil {
			return fallback(err)
		}
		if cachePath != "" {
			m := cacheMeta{
				URL:          target,
				ETag:         resp.Header.Get("ETag"),
				LastModified: resp.Header.Get("Last-Modified"),
			}
			if err := saveCache(cachePath, m, body); err != nil {
				appLog.Error("ics cache save failed", err, "id", feed.ID, "url", redactURL(target))
			}
		}
		appLog.Info("ics fetch success", "id", feed.ID, "url", redactURL(target), "bytes", len(body))
		return FetchResult{Feed: feed, Body: body}, nil

	case http.StatusNotModified:
		if len(cachedBody) == 0 {
			return FetchResult{}, errors.New("ics: 304 Not Modified without a cached body")
		}
		appLog.Debug("ics not modified", "id", feed.ID, "url", redactURL(target))
		return FetchResult{Feed: feed, Body: cachedBody, FromCache: true}, nil

	default:
		return fallback(fmt.Errorf("ics: unexpected status %s", resp.Status))
	}
}

func (f *Fetcher) cachePath(target string) string {
	sum := sha256.Sum256([]byte(target))
	return filepath.Join(f.cacheDir, hex.EncodeToString(sum[:8]))
}

func loadMeta(cachePath string) (cacheMeta, error) {
	var meta cacheMeta
	data, err := os.ReadFile(filepath.Join(cachePath, "meta.json"))
	if err != nil {
		return meta, err
	}
	err = json.Unmarshal(data, &meta)
	return meta, err
}

func saveCache(cachePath string, meta cacheMeta, body []byte) error {
	// Body first so meta never points at a missing body.
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

func normalizeURL(raw string) (string, error) {
	if raw == "" {
		return "", errors.New("ics: feed URL is empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("ics: bad feed URL: %w", err)
	}
	switch u.Scheme {
	case "webcal", "webcals":
		u.Scheme = "https"
	case "http", "https":
	default:
		return "", fmt.Errorf("ics: unsupported scheme %q", u.Scheme)
	}
	return u.String(), nil
}

// redactURL keeps only scheme and host; private feed URLs carry secrets in
// the path or query.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "ics://...(redacted)"
	}
	return u.Scheme + "://" + u.Host + "/...(redacted)"
}
