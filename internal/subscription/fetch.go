package subscription

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/twj0/subcheck-termux-ubuntu/internal/config"
)

// defaultGitHubMirrors are prefixes prepended to a raw.githubusercontent.com
// (or github.com) URL to route around a blocked direct connection, ordered
// by historical reliability, with "" (direct fetch) as the final fallback.
// Ported from the original GitHubProxyManager's PROXIES list; overridable
// via config.GitHubProxyConfig.Mirrors.
var defaultGitHubMirrors = []string{
	"https://ghproxy.com/",
	"https://mirror.ghproxy.com/",
	"https://raw.githack.com/",
	"https://cdn.jsdelivr.net/gh/",
	"",
}

const mirrorProbeTimeout = 5 * time.Second

// Fetcher retrieves subscription documents over HTTP, rewriting
// GitHub-hosted URLs through a working mirror and caching bodies on disk.
type Fetcher struct {
	client     *http.Client
	cache      *config.FetchCache
	cacheTTL   time.Duration
	now        func() time.Time
	mirrors    []string
	mirrorOnce sync.Once
	mirrorPfx  string
}

// FetcherConfig configures a Fetcher.
type FetcherConfig struct {
	Cache    *config.FetchCache // optional; nil disables caching
	CacheTTL time.Duration
	Timeout  time.Duration
	Now      func() time.Time // optional, defaults to time.Now
	Mirrors  []string         // optional, defaults to defaultGitHubMirrors
}

// NewFetcher constructs a Fetcher from cfg.
func NewFetcher(cfg FetcherConfig) *Fetcher {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	mirrors := cfg.Mirrors
	if mirrors == nil {
		mirrors = defaultGitHubMirrors
	}
	return &Fetcher{
		client:   &http.Client{Timeout: timeout},
		cache:    cfg.Cache,
		cacheTTL: cfg.CacheTTL,
		now:      now,
		mirrors:  mirrors,
	}
}

// Fetch retrieves the subscription document at url, consulting the cache
// first and rewriting GitHub URLs through a working mirror on a miss. A
// single URL's failure is always returned as an error rather than a panic,
// so a batch caller can skip it without aborting the rest.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	if f.cache != nil && f.cacheTTL > 0 {
		if body, fresh, err := f.cache.Get(url, f.cacheTTL); err == nil && fresh {
			return body, nil
		}
	}

	body, err := f.fetchLive(ctx, url)
	if err != nil {
		return nil, err
	}

	if f.cache != nil {
		_ = f.cache.Put(url, body, f.now())
	}
	return body, nil
}

func (f *Fetcher) fetchLive(ctx context.Context, url string) ([]byte, error) {
	if !isGitHubRawURL(url) {
		return f.get(ctx, url)
	}

	prefix := f.resolveMirrorPrefix(ctx, url)
	body, err := f.get(ctx, prefix+url)
	if err != nil && prefix != "" {
		// Mirror picked by the canary probe turned out stale; fall back to
		// a direct fetch rather than giving up on this URL entirely.
		return f.get(ctx, url)
	}
	return body, err
}

// resolveMirrorPrefix picks the first mirror prefix whose canary request
// against url succeeds (HTTP 200 or 404 both count as "the mirror is up",
// matching the original GitHubProxyManager.test_proxy semantics), caching
// the winner for the lifetime of this Fetcher.
func (f *Fetcher) resolveMirrorPrefix(ctx context.Context, url string) string {
	f.mirrorOnce.Do(func() {
		mirrors := f.mirrors
		if mirrors == nil {
			mirrors = defaultGitHubMirrors
		}
		for _, prefix := range mirrors {
			if prefix == "" {
				f.mirrorPfx = ""
				return
			}
			probeCtx, cancel := context.WithTimeout(ctx, mirrorProbeTimeout)
			status, err := f.probe(probeCtx, prefix+url)
			cancel()
			if err == nil && (status == http.StatusOK || status == http.StatusNotFound) {
				f.mirrorPfx = prefix
				return
			}
		}
		f.mirrorPfx = ""
	})
	return f.mirrorPfx
}

func (f *Fetcher) probe(ctx context.Context, url string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return 0, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}

func (f *Fetcher) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("subscription: build request for %s: %w", url, err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("subscription: fetch %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("subscription: fetch %s: unexpected status %d", url, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("subscription: read body of %s: %w", url, err)
	}
	return body, nil
}

func isGitHubRawURL(url string) bool {
	return strings.Contains(url, "raw.githubusercontent.com") || strings.Contains(url, "github.com")
}
