// Package proxy assigns outbound proxies to target hosts, with sticky or
// rotating strategies and eviction on permanent failures.
package proxy

import (
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/JakeFAU/bulk-harvester/internal/metrics"
)

// Strategy selects how proxies are handed out.
type Strategy string

const (
	// StrategyStickyByHost binds each hostname to one proxy for the life of
	// the job, until that proxy is reported failed.
	StrategyStickyByHost Strategy = "sticky_by_host"
	// StrategySequential advances the rotation cursor on every call,
	// regardless of hostname.
	StrategySequential Strategy = "sequential"
)

// Config holds assignor configuration.
type Config struct {
	Proxies  []string
	Strategy Strategy
}

// Assignor maps target hostnames to proxy URLs.
type Assignor struct {
	mu       sync.Mutex
	proxies  []string
	strategy Strategy
	byHost   map[string]string
	avoid    map[string]string // host -> proxy reported failed for that host
	cursor   int
}

// New creates an Assignor. Proxy URLs must parse; a malformed entry is a
// configuration error, not something to discover mid-crawl.
func New(cfg Config) (*Assignor, error) {
	metrics.Init()
	strategy := cfg.Strategy
	if strategy == "" {
		strategy = StrategyStickyByHost
	}
	if strategy != StrategyStickyByHost && strategy != StrategySequential {
		return nil, fmt.Errorf("unknown proxy strategy %q", strategy)
	}
	proxies := make([]string, 0, len(cfg.Proxies))
	for _, raw := range cfg.Proxies {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if _, err := url.Parse(raw); err != nil {
			return nil, fmt.Errorf("parse proxy url %q: %w", raw, err)
		}
		proxies = append(proxies, raw)
	}
	return &Assignor{
		proxies:  proxies,
		strategy: strategy,
		byHost:   make(map[string]string),
		avoid:    make(map[string]string),
	}, nil
}

// HasProxies reports whether any proxies are configured.
func (a *Assignor) HasProxies() bool {
	return len(a.proxies) > 0
}

// ProxyForHost returns the proxy URL to use for host, or "" for a direct
// connection. Sticky assignments are created lazily on first use.
func (a *Assignor) ProxyForHost(host string) string {
	if len(a.proxies) == 0 {
		return ""
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.strategy == StrategySequential {
		return a.next()
	}

	host = strings.ToLower(host)
	if assigned, ok := a.byHost[host]; ok {
		return assigned
	}
	assigned := a.next()
	if failed, ok := a.avoid[host]; ok {
		// The cursor may still point at the proxy this host just burned;
		// skip past it so the fresh assignment is actually fresh.
		for i := 0; i < len(a.proxies) && assigned == failed; i++ {
			assigned = a.next()
		}
		delete(a.avoid, host)
	}
	a.byHost[host] = assigned
	return assigned
}

// ReportPermanentFailure evicts every host mapping that points at proxyURL so
// the next request for those hosts gets a fresh assignment, and remembers the
// failed proxy per host so reassignment skips it when the pool allows. The
// proxy stays in the rotation pool; removing it from the pool is an operator
// action.
func (a *Assignor) ReportPermanentFailure(proxyURL string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for host, assigned := range a.byHost {
		if assigned == proxyURL {
			delete(a.byHost, host)
			a.avoid[host] = proxyURL
			metrics.ObserveProxyEviction()
		}
	}
}

// Host extracts the host portion (IP or name, without scheme or port) from a
// proxy URL, for per-IP rate limiting.
func (a *Assignor) Host(proxyURL string) string {
	return Host(proxyURL)
}

// Host extracts the host portion (IP or name, without scheme or port) from a
// proxy URL, for per-IP rate limiting. Returns "" when the URL cannot be parsed.
func Host(proxyURL string) string {
	if proxyURL == "" {
		return ""
	}
	u, err := url.Parse(proxyURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

func (a *Assignor) next() string {
	p := a.proxies[a.cursor%len(a.proxies)]
	a.cursor = (a.cursor + 1) % len(a.proxies)
	return p
}
