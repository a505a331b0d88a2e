// Package media prefetches offer images into a local cache so sinks can send
// bytes instead of URLs.
package media

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const maxImageBytes = 10 << 20

// Result holds the counts of a prefetch run.
type Result struct {
	Downloaded int
	Cached     int
	Failed     int
}

// Cache stores images under a directory, one file per URL.
type Cache struct {
	dir         string
	client      *http.Client
	concurrency int
}

// NewCache creates an image cache rooted at dir.
func NewCache(dir string, concurrency int, timeout time.Duration) *Cache {
	if timeout == 0 {
		timeout = 20 * time.Second
	}
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Cache{
		dir:         dir,
		concurrency: concurrency,
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return http.ErrUseLastResponse
				}
				return nil
			},
		},
	}
}

// Path returns the cache file for an image URL.
func (c *Cache) Path(imageURL string) string {
	sum := sha1.Sum([]byte(imageURL))
	ext := ".img"
	if u, err := url.Parse(imageURL); err == nil {
		if e := strings.ToLower(path.Ext(u.Path)); e != "" && len(e) <= 5 {
			ext = e
		}
	}
	return filepath.Join(c.dir, hex.EncodeToString(sum[:])+ext)
}

// Load returns the cached bytes of an image, or nil when not cached.
func (c *Cache) Load(imageURL string) []byte {
	if imageURL == "" {
		return nil
	}
	data, err := os.ReadFile(c.Path(imageURL))
	if err != nil {
		return nil
	}
	return data
}

// Prefetch downloads every uncached URL with bounded concurrency. Individual
// failures are counted, not returned; once a host fails, its remaining URLs
// are skipped.
func (c *Cache) Prefetch(ctx context.Context, urls []string) (*Result, error) {
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "media: create %s", c.dir)
	}

	seen := make(map[string]bool)
	var todo []string
	for _, u := range urls {
		u = strings.TrimSpace(u)
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		todo = append(todo, u)
	}

	var downloaded, cached, failed atomic.Int64
	var mu sync.Mutex
	failedHosts := make(map[string]struct{})

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)

	for _, u := range todo {
		g.Go(func() error {
			if _, err := os.Stat(c.Path(u)); err == nil {
				cached.Add(1)
				return nil
			}
			host := hostOf(u)
			mu.Lock()
			_, bad := failedHosts[host]
			mu.Unlock()
			if bad {
				failed.Add(1)
				return nil
			}

			if err := c.download(gctx, u); err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				failed.Add(1)
				mu.Lock()
				failedHosts[host] = struct{}{}
				mu.Unlock()
				zap.L().Warn("media: download failed", zap.String("url", u), zap.Error(err))
				return nil
			}
			downloaded.Add(1)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "media: prefetch")
	}

	res := &Result{
		Downloaded: int(downloaded.Load()),
		Cached:     int(cached.Load()),
		Failed:     int(failed.Load()),
	}
	zap.L().Info("media: prefetch complete",
		zap.Int("downloaded", res.Downloaded),
		zap.Int("cached", res.Cached),
		zap.Int("failed", res.Failed),
	)
	return res, nil
}

func (c *Cache) download(ctx context.Context, imageURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return eris.Wrap(err, "media: create request")
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; offerpilot/1.0)")

	resp, err := c.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "media: get")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return eris.Errorf("media: status %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "image/") {
		return eris.Errorf("media: unexpected content type %s", ct)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		return eris.Wrap(err, "media: read body")
	}

	dst := c.Path(imageURL)
	tmp := dst + ".part"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return eris.Wrap(err, "media: write")
	}
	return eris.Wrap(os.Rename(tmp, dst), "media: rename")
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Host)
}
