package cover

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"melodycommons/logger"
)

// Resolver fetches cover art from a remote lookup service and caches it on
// disk. Cover availability never blocks the caller: a failed resolve still
// returns a constructible remote URL and simply no local path.
type Resolver struct {
	client  *http.Client
	apiURL  string
	dir     string
	maxSize int64
}

// NewResolver creates a Resolver caching into dir. timeout bounds each remote
// request; maxSize caps accepted image bodies.
func NewResolver(apiURL, dir string, timeout time.Duration, maxSize int64) (*Resolver, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cover directory %s: %w", dir, err)
	}
	return &Resolver{
		client:  &http.Client{Timeout: timeout},
		apiURL:  apiURL,
		dir:     dir,
		maxSize: maxSize,
	}, nil
}

// CacheKey derives the deterministic cache filename for a track's metadata.
// Eight hex characters of the md5 are enough collision tolerance at library
// scale; the track id keeps keys distinct across tracks with identical tags.
func CacheKey(trackID int64, title, artist, album string) string {
	sum := md5.Sum([]byte(fmt.Sprintf("%s_%s_%s", title, artist, album)))
	return fmt.Sprintf("%d_%s.jpg", trackID, hex.EncodeToString(sum[:])[:8])
}

// CachePath returns the on-disk path for a track's cover cache entry.
func (r *Resolver) CachePath(trackID int64, title, artist, album string) string {
	return filepath.Join(r.dir, CacheKey(trackID, title, artist, album))
}

// RemoteURL builds the lookup-service URL for the given metadata. It is
// returned to clients even when no image could be cached locally.
func (r *Resolver) RemoteURL(title, artist, album string) string {
	params := url.Values{}
	params.Set("title", title)
	if artist != "" {
		params.Set("artist", artist)
	}
	if album != "" {
		params.Set("album", album)
	}
	return r.apiURL + "?" + params.Encode()
}

// Resolve returns (coverURL, coverPath) for a track. If a cached file already
// exists at the derived key the network is never touched; repeated calls with
// unchanged metadata are no-ops. Otherwise the remote service is queried with
// progressively relaxed parameters and the first acceptable image is cached.
// coverPath is empty when every attempt failed.
func (r *Resolver) Resolve(trackID int64, title, artist, album string) (string, string) {
	coverURL := r.RemoteURL(title, artist, album)
	cachePath := r.CachePath(trackID, title, artist, album)

	if _, err := os.Stat(cachePath); err == nil {
		return coverURL, cachePath
	}

	data := r.fetchRelaxed(title, artist, album)
	if data == nil {
		return coverURL, ""
	}

	if err := os.WriteFile(cachePath, data, 0644); err != nil {
		logger.Error("Failed to write cover cache file",
			logger.String("path", cachePath), logger.ErrorField(err))
		return coverURL, ""
	}
	return coverURL, cachePath
}

// Refresh deletes the cache entry at the current key and re-resolves, so a
// refresh always re-fetches instead of short-circuiting on the existence
// check.
func (r *Resolver) Refresh(trackID int64, title, artist, album string) (string, string) {
	cachePath := r.CachePath(trackID, title, artist, album)
	if err := os.Remove(cachePath); err != nil && !os.IsNotExist(err) {
		logger.Warn("Failed to remove old cover cache file",
			logger.String("path", cachePath), logger.ErrorField(err))
	}
	return r.Resolve(trackID, title, artist, album)
}

// fetchRelaxed tries title+artist+album, then title+artist, then title alone,
// stopping at the first success.
func (r *Resolver) fetchRelaxed(title, artist, album string) []byte {
	attempts := [][3]string{{title, artist, album}}
	if album != "" {
		attempts = append(attempts, [3]string{title, artist, ""})
	}
	if artist != "" {
		attempts = append(attempts, [3]string{title, "", ""})
	}

	for _, a := range attempts {
		if data := r.fetch(a[0], a[1], a[2]); data != nil {
			return data
		}
	}
	return nil
}

// fetch performs one lookup. Anything other than a 200 image body within the
// size cap is a soft failure and returns nil.
func (r *Resolver) fetch(title, artist, album string) []byte {
	resp, err := r.client.Get(r.RemoteURL(title, artist, album))
	if err != nil {
		logger.Warn("Cover lookup request failed",
			logger.String("title", title), logger.ErrorField(err))
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		logger.Warn("Cover lookup returned non-200",
			logger.String("title", title), logger.Int("status", resp.StatusCode))
		return nil
	}
	if !strings.Contains(strings.ToLower(resp.Header.Get("Content-Type")), "image") {
		logger.Warn("Cover lookup returned non-image content type",
			logger.String("title", title),
			logger.String("contentType", resp.Header.Get("Content-Type")))
		return nil
	}

	// Read one byte past the cap to detect oversize bodies without buffering
	// arbitrarily large responses.
	data, err := io.ReadAll(io.LimitReader(resp.Body, r.maxSize+1))
	if err != nil {
		logger.Warn("Failed to read cover body",
			logger.String("title", title), logger.ErrorField(err))
		return nil
	}
	if int64(len(data)) > r.maxSize {
		logger.Warn("Cover image too large, skipping",
			logger.String("title", title), logger.Int("bytes", len(data)))
		return nil
	}
	return data
}
