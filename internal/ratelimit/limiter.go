// Package ratelimit implements sliding-window request accounting with explicit
// backoff, tracked independently per target host and per proxy IP.
package ratelimit

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/JakeFAU/bulk-harvester/internal/metrics"
)

// windowSpan is the interval over which request timestamps are counted.
const windowSpan = time.Minute

const (
	defaultHostBackoff = time.Minute
	defaultIPBackoff   = 2 * time.Minute
)

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

// Config holds rate limiter configuration. A zero Max* value disables the
// corresponding check; Enabled=false disables the limiter entirely.
type Config struct {
	Enabled                     bool
	MaxRequestsPerMinutePerHost int
	MinDelayPerHost             time.Duration
	MaxRandomDelayPerHost       time.Duration
	MaxRequestsPerMinutePerIP   int
	HostBackoff                 time.Duration
	IPBackoff                   time.Duration
}

// window tracks request timestamps and deadlines for one key (host or IP).
type window struct {
	timestamps   []time.Time
	lastRequest  time.Time
	backoffUntil time.Time
}

// Limiter manages per-host and per-IP request windows.
//
// All window state is guarded by a single mutex; waits are computed under the
// lock but slept outside it, re-checking in a loop, so a slow host never holds
// the lock while sleeping.
type Limiter struct {
	mu     sync.Mutex
	cfg    Config
	clock  Clock
	hosts  map[string]*window
	ips    map[string]*window
	jitter func(max time.Duration) time.Duration
}

// New creates a Limiter.
func New(cfg Config, clock Clock) *Limiter {
	metrics.Init()
	if cfg.HostBackoff <= 0 {
		cfg.HostBackoff = defaultHostBackoff
	}
	if cfg.IPBackoff <= 0 {
		cfg.IPBackoff = defaultIPBackoff
	}
	return &Limiter{
		cfg:   cfg,
		clock: clock,
		hosts: make(map[string]*window),
		ips:   make(map[string]*window),
		jitter: func(max time.Duration) time.Duration {
			if max <= 0 {
				return 0
			}
			return time.Duration(rand.Int63n(int64(max)))
		},
	}
}

// WaitForSlot blocks until a request to host (optionally via proxyIP) is safe
// to issue, then takes the slot: the request is recorded in the relevant
// windows under the same lock acquisition as the final admission check, so
// concurrent callers can never over-fill a window between checking it and
// counting themselves. Callers issue the network action immediately after a
// nil return; there is no separate recording step.
func (l *Limiter) WaitForSlot(ctx context.Context, host, proxyIP string) error {
	if !l.cfg.Enabled {
		return nil
	}
	start := l.clock.Now()
	for {
		delay := l.tryAcquire(host, proxyIP)
		if delay <= 0 {
			break
		}
		if err := l.clock.Sleep(ctx, delay); err != nil {
			return fmt.Errorf("rate limit wait for %s: %w", host, err)
		}
	}
	if waited := l.clock.Now().Sub(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(host, waited)
	}
	return nil
}

// tryAcquire runs the admission rules in a fixed order: host backoff, IP
// backoff, minimum inter-request spacing, host window occupancy, IP window
// occupancy. When every rule passes it records the request while still
// holding the lock and returns 0; otherwise it returns the sleep required by
// the first unsatisfied rule.
func (l *Limiter) tryAcquire(host, proxyIP string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	hw := l.getOrCreate(l.hosts, host)

	if d := hw.backoffUntil.Sub(now); d > 0 {
		return d
	}

	perIP := proxyIP != "" && l.cfg.MaxRequestsPerMinutePerIP > 0
	var iw *window
	if perIP {
		iw = l.getOrCreate(l.ips, proxyIP)
		if d := iw.backoffUntil.Sub(now); d > 0 {
			return d
		}
	}

	if l.cfg.MinDelayPerHost > 0 && !hw.lastRequest.IsZero() {
		spacing := l.cfg.MinDelayPerHost + l.jitter(l.cfg.MaxRandomDelayPerHost)
		if d := hw.lastRequest.Add(spacing).Sub(now); d > 0 {
			return d
		}
	}

	if l.cfg.MaxRequestsPerMinutePerHost > 0 {
		hw.prune(now)
		if len(hw.timestamps) >= l.cfg.MaxRequestsPerMinutePerHost {
			return hw.timestamps[0].Add(windowSpan).Sub(now)
		}
	}

	if perIP {
		iw.prune(now)
		if len(iw.timestamps) >= l.cfg.MaxRequestsPerMinutePerIP {
			return iw.timestamps[0].Add(windowSpan).Sub(now)
		}
	}

	// Admitted: take the slot before releasing the lock.
	hw.prune(now)
	hw.timestamps = append(hw.timestamps, now)
	hw.lastRequest = now
	if proxyIP != "" {
		iw = l.getOrCreate(l.ips, proxyIP)
		iw.prune(now)
		iw.timestamps = append(iw.timestamps, now)
		iw.lastRequest = now
	}
	return 0
}

// BackoffHost defers all requests for host until now + the configured host
// backoff. Callers decide when an error warrants this; it is never automatic.
func (l *Limiter) BackoffHost(host string) {
	if !l.cfg.Enabled {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	hw := l.getOrCreate(l.hosts, host)
	hw.backoffUntil = l.clock.Now().Add(l.cfg.HostBackoff)
	metrics.ObserveBackoff("host")
}

// BackoffIP defers all requests through proxyIP until now + the configured IP
// backoff.
func (l *Limiter) BackoffIP(proxyIP string) {
	if !l.cfg.Enabled || proxyIP == "" {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	iw := l.getOrCreate(l.ips, proxyIP)
	iw.backoffUntil = l.clock.Now().Add(l.cfg.IPBackoff)
	metrics.ObserveBackoff("ip")
}

func (l *Limiter) getOrCreate(m map[string]*window, key string) *window {
	w, ok := m[key]
	if !ok {
		w = &window{}
		m[key] = w
	}
	return w
}

// prune drops timestamps older than the window span.
func (w *window) prune(now time.Time) {
	cutoff := now.Add(-windowSpan)
	i := 0
	for i < len(w.timestamps) && !w.timestamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.timestamps = append(w.timestamps[:0], w.timestamps[i:]...)
	}
}
