// Package engine contains the crawl orchestrators: a depth-bounded discovery
// frontier, a flat-list batch processor, and the per-URL pipeline both share.
package engine

import "time"

// Item is one pending unit of discovery work.
type Item struct {
	URL   string `json:"url"`
	Depth int    `json:"depth"`
}

// FailedRecord is a terminal per-URL failure. RetryCount is always recorded
// as zero: failed URLs are re-run only by an explicit operator action, never
// automatically.
type FailedRecord struct {
	URL        string    `json:"url"`
	Error      string    `json:"error"`
	FailedAt   time.Time `json:"failedAt"`
	RetryCount int       `json:"retryCount"`
}

// DiscoverOptions controls one discovery job.
type DiscoverOptions struct {
	SeedURL         string
	MaxDepth        int
	Concurrency     int
	ExcludePatterns []string
	Keywords        []string
}

// ScrapeOptions controls one batch job.
type ScrapeOptions struct {
	URLs        []string
	Concurrency int
}

// DiscoveryResult summarizes a finished (or drained-on-shutdown) discovery
// job.
type DiscoveryResult struct {
	SeedURL        string         `json:"seedUrl"`
	DiscoveredURLs []string       `json:"discoveredUrls"`
	VisitedCount   int            `json:"visitedCount"`
	FailedCount    int            `json:"failedCount"`
	Failed         []FailedRecord `json:"failed,omitempty"`
	Duration       time.Duration  `json:"duration"`
	ArtifactPath   string         `json:"artifactPath,omitempty"`
	Interrupted    bool           `json:"interrupted"`
}

// ScrapeResult summarizes a finished (or drained-on-shutdown) batch job.
type ScrapeResult struct {
	RequestedCount int            `json:"requestedCount"`
	ProcessedCount int            `json:"processedCount"`
	FailedCount    int            `json:"failedCount"`
	Failed         []FailedRecord `json:"failed,omitempty"`
	Duration       time.Duration  `json:"duration"`
	Interrupted    bool           `json:"interrupted"`
}

// Stats is the point-in-time view exposed over the HTTP surface.
type Stats struct {
	JobsRun        int       `json:"jobsRun"`
	PagesVisited   int       `json:"pagesVisited"`
	PagesFailed    int       `json:"pagesFailed"`
	URLsDiscovered int       `json:"urlsDiscovered"`
	LastJobAt      time.Time `json:"lastJobAt,omitempty"`
}
