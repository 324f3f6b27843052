package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/bulk-harvester/internal/checkpoint"
	"github.com/JakeFAU/bulk-harvester/internal/clock/system"
	"github.com/JakeFAU/bulk-harvester/internal/proxy"
	"github.com/JakeFAU/bulk-harvester/internal/ratelimit"
	"github.com/JakeFAU/bulk-harvester/internal/urlutil"
)

// fakeSession serves canned pages keyed by URL and records every fetch.
type fakeSession struct {
	mu      sync.Mutex
	links   map[string][]string
	errs    map[string]error
	fetched []string
	onFetch func(count int) // runs after each fetch completes
}

func (f *fakeSession) FetchAndExtract(_ context.Context, url string, _ string) (*PageResult, error) {
	f.mu.Lock()
	f.fetched = append(f.fetched, url)
	count := len(f.fetched)
	err := f.errs[url]
	links := f.links[url]
	hook := f.onFetch
	f.mu.Unlock()

	if hook != nil {
		hook(count)
	}
	if err != nil {
		return nil, err
	}
	return &PageResult{
		URL:        url,
		Title:      "page",
		Links:      links,
		StatusCode: 200,
		FetchedAt:  time.Now(),
	}, nil
}

func (f *fakeSession) Close() error { return nil }

func (f *fakeSession) fetchedURLs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string{}, f.fetched...)
}

func fetchCounts(urls []string) map[string]int {
	counts := make(map[string]int)
	for _, u := range urls {
		counts[u]++
	}
	return counts
}

// stubLimiter records backoff calls and never waits.
type stubLimiter struct {
	mu           sync.Mutex
	hostBackoffs []string
	ipBackoffs   []string
}

func (s *stubLimiter) WaitForSlot(context.Context, string, string) error { return nil }

func (s *stubLimiter) Snapshot() ratelimit.Snapshot { return ratelimit.Snapshot{} }

func (s *stubLimiter) Restore(ratelimit.Snapshot) {}

func (s *stubLimiter) BackoffHost(host string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hostBackoffs = append(s.hostBackoffs, host)
}

func (s *stubLimiter) BackoffIP(ip string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ipBackoffs = append(s.ipBackoffs, ip)
}

// stubProxies hands out one fixed proxy and records evictions.
type stubProxies struct {
	mu       sync.Mutex
	proxyURL string
	evicted  []string
}

func (s *stubProxies) HasProxies() bool { return s.proxyURL != "" }

func (s *stubProxies) ProxyForHost(string) string { return s.proxyURL }

func (s *stubProxies) Host(proxyURL string) string { return urlutil.Hostname(proxyURL) }

func (s *stubProxies) Snapshot() proxy.Snapshot { return proxy.Snapshot{} }

func (s *stubProxies) Restore(proxy.Snapshot) {}

func (s *stubProxies) ReportPermanentFailure(proxyURL string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evicted = append(s.evicted, proxyURL)
}

// testDeps wires a real (disabled) limiter and an empty assignor around a
// fake session. store may be nil.
func testDeps(t *testing.T, session BrowserSession, store *checkpoint.Store) Deps {
	t.Helper()
	clk := system.New()
	limiter := ratelimit.New(ratelimit.Config{Enabled: false}, clk)
	assignor, err := proxy.New(proxy.Config{})
	require.NoError(t, err)
	return Deps{
		Pipeline:    NewPipeline(limiter, assignor, session, nil, clk, zap.NewNop()),
		Limiter:     limiter,
		Proxies:     assignor,
		Checkpoints: store,
		Clock:       clk,
		Logger:      zap.NewNop(),
	}
}
