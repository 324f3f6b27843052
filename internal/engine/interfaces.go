package engine

import (
	"context"
	"time"

	"github.com/JakeFAU/bulk-harvester/internal/proxy"
	"github.com/JakeFAU/bulk-harvester/internal/ratelimit"
)

// PageResult is what a fetcher returns for one URL.
type PageResult struct {
	URL        string
	Title      string
	Text       string
	HTML       string
	Links      []string
	StatusCode int
	FetchedAt  time.Time
}

// BrowserSession fetches a URL, optionally through a proxy, and returns the
// extracted page.
type BrowserSession interface {
	FetchAndExtract(ctx context.Context, url string, proxyURL string) (*PageResult, error)
	Close() error
}

// RateLimiter gates request issuance per host and per proxy IP. WaitForSlot
// both admits and records the request; a nil return means the slot is taken.
type RateLimiter interface {
	WaitForSlot(ctx context.Context, host string, proxyIP string) error
	BackoffHost(host string)
	BackoffIP(proxyIP string)
	Snapshot() ratelimit.Snapshot
	Restore(ratelimit.Snapshot)
}

// ProxyAssignor maps hostnames to proxies and tracks permanent failures.
type ProxyAssignor interface {
	HasProxies() bool
	ProxyForHost(host string) string
	ReportPermanentFailure(proxyURL string)
	Host(proxyURL string) string
	Snapshot() proxy.Snapshot
	Restore(proxy.Snapshot)
}

// PageSink receives every successfully fetched page (database row, blob
// write, or both).
type PageSink interface {
	StorePage(ctx context.Context, jobID string, page *PageResult) error
}

// ArtifactStore persists job output artifacts and returns their location.
type ArtifactStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Notifier announces job completion to downstream consumers.
type Notifier interface {
	JobCompleted(ctx context.Context, jobID string, summary any) error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
