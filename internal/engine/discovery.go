package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strconv"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/bulk-harvester/internal/checkpoint"
	"github.com/JakeFAU/bulk-harvester/internal/metrics"
	"github.com/JakeFAU/bulk-harvester/internal/urlutil"
)

const defaultConcurrency = 5

// Deps bundles the collaborators shared by both orchestrators. Checkpoints,
// Artifacts, and Notifier may be nil to disable the corresponding feature.
type Deps struct {
	Pipeline    *Pipeline
	Limiter     RateLimiter
	Proxies     ProxyAssignor
	Checkpoints *checkpoint.Store
	Artifacts   ArtifactStore
	Notifier    Notifier
	Coordinator *Coordinator
	Clock       Clock
	Logger      *zap.Logger
	SaveEvery   int
	BaseFilter  urlutil.FilterConfig
}

// Discoverer walks a site breadth-first from a seed URL down to a maximum
// depth, feeding every frontier item through the shared pipeline.
type Discoverer struct {
	deps Deps
}

// NewDiscoverer returns a discovery orchestrator over the given
// collaborators.
func NewDiscoverer(deps Deps) *Discoverer {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Discoverer{deps: deps}
}

// discoveryJob is the arena for one job: all mutable collections live here,
// guarded by mu because the shutdown saver can run concurrently with the
// drain loop.
type discoveryJob struct {
	mu         sync.Mutex
	id         string
	seed       string
	maxDepth   int
	discovered map[string]struct{}
	order      []string
	visited    []string
	frontier   []Item
	failed     []FailedRecord
}

// Discover runs one discovery job to completion (or until shutdown is
// requested) and returns its summary. A bad seed or filter option is a
// *ValidationError before any work starts; per-page failures never abort the
// job.
func (d *Discoverer) Discover(ctx context.Context, opts DiscoverOptions) (*DiscoveryResult, error) {
	start := d.deps.Clock.Now()

	seed, err := urlutil.Normalize(opts.SeedURL)
	if err != nil {
		return nil, validationErrorf("seed url %q: %v", opts.SeedURL, err)
	}
	if opts.MaxDepth < 0 {
		return nil, validationErrorf("maxDepth must be >= 0, got %d", opts.MaxDepth)
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}

	filterCfg := d.deps.BaseFilter
	filterCfg.ExcludePatterns = append(append([]string{}, filterCfg.ExcludePatterns...), opts.ExcludePatterns...)
	if len(opts.Keywords) > 0 {
		filterCfg.Keywords = opts.Keywords
	}
	filter, err := urlutil.NewFilter(filterCfg)
	if err != nil {
		return nil, validationErrorf("link filter: %v", err)
	}

	job := &discoveryJob{
		id:         checkpoint.DeriveJobID("discovery", []string{seed, strconv.Itoa(opts.MaxDepth)}),
		seed:       seed,
		maxDepth:   opts.MaxDepth,
		discovered: map[string]struct{}{},
	}
	if !d.restore(job) {
		job.discovered[seed] = struct{}{}
		job.order = []string{seed}
		job.frontier = []Item{{URL: seed, Depth: 0}}
	}

	if d.deps.Coordinator != nil {
		d.deps.Coordinator.SetSaver(func() error { return d.save(job, opts) })
		defer d.deps.Coordinator.ClearSaver()
	}

	d.deps.Logger.Info("discovery started",
		zap.String("job_id", job.id),
		zap.String("seed", seed),
		zap.Int("max_depth", opts.MaxDepth),
		zap.Int("concurrency", concurrency),
		zap.Int("frontier", len(job.frontier)))

	processedThisRun := 0
	interrupted := false

	for {
		if ctx.Err() != nil || (d.deps.Coordinator != nil && d.deps.Coordinator.Requested()) {
			interrupted = true
			break
		}

		job.mu.Lock()
		n := len(job.frontier)
		if n > concurrency {
			n = concurrency
		}
		batch := make([]Item, n)
		copy(batch, job.frontier[:n])
		job.frontier = job.frontier[n:]
		job.mu.Unlock()
		if n == 0 {
			break
		}

		type outcome struct {
			page *PageResult
			err  error
		}
		results := make([]outcome, len(batch))
		var g errgroup.Group
		for i, item := range batch {
			metrics.IncActiveWorkers()
			g.Go(func() error {
				defer metrics.DecActiveWorkers()
				page, err := d.deps.Pipeline.Process(ctx, job.id, item.URL)
				results[i] = outcome{page: page, err: err}
				return nil
			})
		}
		g.Wait()

		job.mu.Lock()
		var requeue []Item
		for i, item := range batch {
			if results[i].err != nil {
				if aborted(ctx, results[i].err) {
					// Torn down mid-flight, not refused by the site: put the
					// item back so a resume fetches it.
					requeue = append(requeue, item)
					continue
				}
				job.failed = append(job.failed, FailedRecord{
					URL:      item.URL,
					Error:    results[i].err.Error(),
					FailedAt: d.deps.Clock.Now(),
				})
				continue
			}
			job.visited = append(job.visited, item.URL)
			if item.Depth >= job.maxDepth {
				continue
			}
			for _, link := range results[i].page.Links {
				if !filter.Included(link) {
					continue
				}
				if _, seen := job.discovered[link]; seen {
					continue
				}
				job.discovered[link] = struct{}{}
				job.order = append(job.order, link)
				job.frontier = append(job.frontier, Item{URL: link, Depth: item.Depth + 1})
			}
		}
		if len(requeue) > 0 {
			job.frontier = append(requeue, job.frontier...)
		}
		frontierLen := len(job.frontier)
		job.mu.Unlock()
		metrics.SetFrontierSize("discovery", frontierLen)

		processedThisRun += len(batch)
		if d.deps.SaveEvery > 0 && d.deps.Checkpoints != nil && processedThisRun%d.deps.SaveEvery < len(batch) {
			if err := d.save(job, opts); err != nil {
				d.deps.Logger.Warn("periodic checkpoint failed", zap.Error(err))
			} else {
				metrics.ObserveCheckpointSave("periodic")
			}
		}
	}
	metrics.SetFrontierSize("discovery", 0)

	if interrupted && d.deps.Coordinator != nil {
		if err := d.deps.Coordinator.SaveOnce(); err != nil {
			d.deps.Logger.Error("final checkpoint save failed", zap.Error(err))
		} else {
			metrics.ObserveCheckpointSave("shutdown")
		}
	}

	result := &DiscoveryResult{
		SeedURL:        seed,
		DiscoveredURLs: append([]string{}, job.order...),
		VisitedCount:   len(job.visited),
		FailedCount:    len(job.failed),
		Failed:         append([]FailedRecord{}, job.failed...),
		Duration:       d.deps.Clock.Now().Sub(start),
		Interrupted:    interrupted,
	}

	if !interrupted {
		if d.deps.Artifacts != nil {
			uri, err := d.writeArtifact(ctx, job, result)
			if err != nil {
				d.deps.Logger.Warn("artifact write failed", zap.Error(err))
			} else {
				result.ArtifactPath = uri
			}
		}
		if d.deps.Checkpoints != nil {
			if err := d.deps.Checkpoints.Discard(job.id); err != nil {
				d.deps.Logger.Warn("checkpoint discard failed", zap.Error(err))
			}
		}
		if d.deps.Notifier != nil {
			if err := d.deps.Notifier.JobCompleted(ctx, job.id, result); err != nil {
				d.deps.Logger.Warn("completion notify failed", zap.Error(err))
			}
		}
	}

	d.deps.Logger.Info("discovery finished",
		zap.String("job_id", job.id),
		zap.Int("discovered", len(result.DiscoveredURLs)),
		zap.Int("visited", result.VisitedCount),
		zap.Int("failed", result.FailedCount),
		zap.Bool("interrupted", interrupted),
		zap.Duration("duration", result.Duration))
	return result, nil
}

// restore loads a compatible checkpoint into the job, including the limiter
// and assignor state. Returns false when the job starts fresh.
func (d *Discoverer) restore(job *discoveryJob) bool {
	if d.deps.Checkpoints == nil {
		return false
	}
	state, err := d.deps.Checkpoints.Load(job.id)
	if err != nil {
		d.deps.Logger.Warn("checkpoint load failed, starting fresh", zap.Error(err))
		return false
	}
	if state == nil {
		return false
	}

	job.order = state.DiscoveredURLs
	for _, u := range state.DiscoveredURLs {
		job.discovered[u] = struct{}{}
	}
	job.visited = state.VisitedURLs
	for _, item := range state.CrawlQueue {
		job.frontier = append(job.frontier, Item{URL: item.URL, Depth: item.Depth})
	}
	if len(state.FailedURLDetails) > 0 {
		for _, f := range state.FailedURLDetails {
			job.failed = append(job.failed, FailedRecord(f))
		}
	} else {
		for _, u := range state.FailedURLs {
			job.failed = append(job.failed, FailedRecord{URL: u, Error: "failed before resume"})
		}
	}
	d.deps.Limiter.Restore(checkpoint.DecodeRateLimiter(state.RateLimiter))
	d.deps.Proxies.Restore(checkpoint.DecodeProxy(state.Proxy))

	d.deps.Logger.Info("resuming discovery from checkpoint",
		zap.String("job_id", job.id),
		zap.Int("discovered", len(job.order)),
		zap.Int("visited", len(job.visited)),
		zap.Int("frontier", len(job.frontier)))
	return true
}

func (d *Discoverer) save(job *discoveryJob, opts DiscoverOptions) error {
	if d.deps.Checkpoints == nil {
		return nil
	}
	job.mu.Lock()
	state := &checkpoint.State{
		Timestamp: d.deps.Clock.Now(),
		OriginalArgs: map[string]any{
			"seedUrl":         job.seed,
			"maxDepth":        job.maxDepth,
			"concurrency":     opts.Concurrency,
			"excludePatterns": opts.ExcludePatterns,
			"keywords":        opts.Keywords,
		},
		DiscoveredURLs: append([]string{}, job.order...),
		VisitedURLs:    append([]string{}, job.visited...),
		RateLimiter:    checkpoint.EncodeRateLimiter(d.deps.Limiter.Snapshot()),
		Proxy:          checkpoint.EncodeProxy(d.deps.Proxies.Snapshot()),
	}
	for _, item := range job.frontier {
		state.CrawlQueue = append(state.CrawlQueue, checkpoint.QueueItem{URL: item.URL, Depth: item.Depth})
	}
	for _, f := range job.failed {
		state.FailedURLs = append(state.FailedURLs, f.URL)
		state.FailedURLDetails = append(state.FailedURLDetails, checkpoint.FailedDetail(f))
	}
	job.mu.Unlock()
	return d.deps.Checkpoints.Save(job.id, state)
}

func (d *Discoverer) writeArtifact(ctx context.Context, job *discoveryJob, result *DiscoveryResult) (string, error) {
	payload, err := json.MarshalIndent(struct {
		SeedURL        string   `json:"seedUrl"`
		DiscoveredURLs []string `json:"discoveredUrls"`
		VisitedCount   int      `json:"visitedCount"`
		FailedCount    int      `json:"failedCount"`
	}{
		SeedURL:        result.SeedURL,
		DiscoveredURLs: result.DiscoveredURLs,
		VisitedCount:   result.VisitedCount,
		FailedCount:    result.FailedCount,
	}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal artifact: %w", err)
	}
	name := path.Join("discovery", job.id+".json")
	return d.deps.Artifacts.PutObject(ctx, name, "application/json", payload)
}
