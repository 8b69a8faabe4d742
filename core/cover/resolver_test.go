package cover

import (
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestResolver(t *testing.T, handler http.HandlerFunc) (*Resolver, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	r, err := NewResolver(srv.URL, t.TempDir(), 2*time.Second, 1024)
	require.NoError(t, err)
	return r, srv
}

func imageHandler(calls *atomic.Int32) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write([]byte("jpeg-bytes"))
	}
}

func TestCacheKeyDeterministic(t *testing.T) {
	a := CacheKey(7, "Title", "Artist", "Album")
	b := CacheKey(7, "Title", "Artist", "Album")
	c := CacheKey(7, "Title", "Artist", "Other Album")
	d := CacheKey(8, "Title", "Artist", "Album")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.NotEqual(t, a, d)
	assert.True(t, strings.HasPrefix(a, "7_"))
	assert.True(t, strings.HasSuffix(a, ".jpg"))
}

func TestResolveCachesAndSkipsNetwork(t *testing.T) {
	var calls atomic.Int32
	r, _ := newTestResolver(t, imageHandler(&calls))

	url1, path1 := r.Resolve(1, "Song", "Artist", "Album")
	require.NotEmpty(t, path1)
	assert.Contains(t, url1, "title=Song")
	assert.Equal(t, int32(1), calls.Load())

	data, err := os.ReadFile(path1)
	require.NoError(t, err)
	assert.Equal(t, "jpeg-bytes", string(data))

	// Unchanged metadata: cache hit, no second request.
	url2, path2 := r.Resolve(1, "Song", "Artist", "Album")
	assert.Equal(t, url1, url2)
	assert.Equal(t, path1, path2)
	assert.Equal(t, int32(1), calls.Load())
}

func TestResolveRelaxesQueryParameters(t *testing.T) {
	var queries []string
	r, _ := newTestResolver(t, func(w http.ResponseWriter, req *http.Request) {
		queries = append(queries, req.URL.RawQuery)
		// Only succeed once artist and album are gone.
		if req.URL.Query().Get("artist") != "" || req.URL.Query().Get("album") != "" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte("png"))
	})

	_, path := r.Resolve(2, "Song", "Artist", "Album")
	require.NotEmpty(t, path)
	require.Len(t, queries, 3)
	assert.Contains(t, queries[0], "album=")
	assert.Contains(t, queries[1], "artist=")
	assert.NotContains(t, queries[1], "album=")
	assert.NotContains(t, queries[2], "artist=")
}

func TestResolveSoftFailureStillReturnsURL(t *testing.T) {
	r, _ := newTestResolver(t, func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	url, path := r.Resolve(3, "Song", "Artist", "")
	assert.NotEmpty(t, url)
	assert.Empty(t, path)
}

func TestResolveRejectsWrongContentType(t *testing.T) {
	r, _ := newTestResolver(t, func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html>not an image</html>"))
	})

	_, path := r.Resolve(4, "Song", "", "")
	assert.Empty(t, path)
}

func TestResolveRejectsOversizedBody(t *testing.T) {
	r, _ := newTestResolver(t, func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write(make([]byte, 4096)) // Cap in newTestResolver is 1024
	})

	_, path := r.Resolve(5, "Song", "", "")
	assert.Empty(t, path)
}

func TestRefreshDeletesCacheFirst(t *testing.T) {
	var calls atomic.Int32
	r, _ := newTestResolver(t, imageHandler(&calls))

	_, path := r.Resolve(6, "Song", "Artist", "")
	require.NotEmpty(t, path)
	require.Equal(t, int32(1), calls.Load())

	// Plain Resolve short-circuits; Refresh must hit the network again.
	_, _ = r.Resolve(6, "Song", "Artist", "")
	require.Equal(t, int32(1), calls.Load())

	_, refreshed := r.Refresh(6, "Song", "Artist", "")
	assert.Equal(t, path, refreshed)
	assert.Equal(t, int32(2), calls.Load())
}
