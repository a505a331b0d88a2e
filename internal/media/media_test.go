package media

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrefetchDownloadsAndCaches(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write([]byte("jpeg:" + r.URL.Path))
	}))
	defer srv.Close()

	c := NewCache(filepath.Join(t.TempDir(), "images"), 2, time.Second)
	urls := []string{srv.URL + "/a.jpg", srv.URL + "/b.jpg", srv.URL + "/a.jpg", ""}

	res, err := c.Prefetch(context.Background(), urls)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Downloaded)
	assert.Equal(t, int64(2), hits.Load())
	assert.Equal(t, []byte("jpeg:/a.jpg"), c.Load(srv.URL+"/a.jpg"))
	assert.Equal(t, ".jpg", filepath.Ext(c.Path(srv.URL+"/a.jpg")))

	res, err = c.Prefetch(context.Background(), urls)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Cached)
	assert.Equal(t, int64(2), hits.Load())
}

func TestPrefetchCountsFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/page.jpg" {
			w.Header().Set("Content-Type", "text/html")
			_, _ = w.Write([]byte("<html>"))
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c := NewCache(t.TempDir(), 1, time.Second)
	res, err := c.Prefetch(context.Background(), []string{srv.URL + "/missing.png", srv.URL + "/page.jpg"})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Failed)
	assert.Nil(t, c.Load(srv.URL+"/missing.png"))
	assert.Nil(t, c.Load(""))
}
