package engine

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/bulk-harvester/internal/checkpoint"
	"github.com/JakeFAU/bulk-harvester/internal/metrics"
	"github.com/JakeFAU/bulk-harvester/internal/urlutil"
)

// BatchRunner processes a flat, pre-validated URL list through the shared
// pipeline. No depth or child discovery: what goes in is exactly what gets
// fetched.
type BatchRunner struct {
	deps Deps
}

// NewBatchRunner returns a batch orchestrator over the given collaborators.
func NewBatchRunner(deps Deps) *BatchRunner {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &BatchRunner{deps: deps}
}

// batchJob holds the live state of one batch run. remaining always reflects
// exactly what is left to do: each URL is spliced out the moment it
// completes, success or failure, and that list is what gets checkpointed.
type batchJob struct {
	mu             sync.Mutex
	id             string
	remaining      []string
	processedTotal int
	failed         []FailedRecord
}

// Scrape runs one batch job to completion (or until shutdown is requested).
// An empty or entirely invalid URL list is a *ValidationError.
func (b *BatchRunner) Scrape(ctx context.Context, opts ScrapeOptions) (*ScrapeResult, error) {
	start := b.deps.Clock.Now()

	urls, err := canonicalizeList(opts.URLs)
	if err != nil {
		return nil, err
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}

	job := &batchJob{
		id:        checkpoint.DeriveJobID("scrape", urls),
		remaining: urls,
	}
	b.restore(job)

	if b.deps.Coordinator != nil {
		b.deps.Coordinator.SetSaver(func() error { return b.save(job, opts) })
		defer b.deps.Coordinator.ClearSaver()
	}

	b.deps.Logger.Info("batch started",
		zap.String("job_id", job.id),
		zap.Int("requested", len(urls)),
		zap.Int("remaining", len(job.remaining)),
		zap.Int("concurrency", concurrency))

	processedThisRun := 0
	interrupted := false

	for {
		if ctx.Err() != nil || (b.deps.Coordinator != nil && b.deps.Coordinator.Requested()) {
			interrupted = true
			break
		}

		job.mu.Lock()
		n := len(job.remaining)
		if n > concurrency {
			n = concurrency
		}
		batch := make([]string, n)
		copy(batch, job.remaining[:n])
		job.mu.Unlock()
		if n == 0 {
			break
		}

		var g errgroup.Group
		for _, u := range batch {
			metrics.IncActiveWorkers()
			g.Go(func() error {
				defer metrics.DecActiveWorkers()
				_, err := b.deps.Pipeline.Process(ctx, job.id, u)
				if err != nil && aborted(ctx, err) {
					// Torn down mid-flight, not refused by the site: leave
					// the URL in remaining so a resume fetches it.
					return nil
				}

				job.mu.Lock()
				job.remaining = splice(job.remaining, u)
				job.processedTotal++
				if err != nil {
					job.failed = append(job.failed, FailedRecord{
						URL:      u,
						Error:    err.Error(),
						FailedAt: b.deps.Clock.Now(),
					})
				}
				job.mu.Unlock()
				return nil
			})
		}
		g.Wait()

		job.mu.Lock()
		remaining := len(job.remaining)
		job.mu.Unlock()
		metrics.SetFrontierSize("batch", remaining)

		processedThisRun += len(batch)
		if b.deps.SaveEvery > 0 && b.deps.Checkpoints != nil && processedThisRun%b.deps.SaveEvery < len(batch) {
			if err := b.save(job, opts); err != nil {
				b.deps.Logger.Warn("periodic checkpoint failed", zap.Error(err))
			} else {
				metrics.ObserveCheckpointSave("periodic")
			}
		}
	}
	metrics.SetFrontierSize("batch", 0)

	if interrupted && b.deps.Coordinator != nil {
		if err := b.deps.Coordinator.SaveOnce(); err != nil {
			b.deps.Logger.Error("final checkpoint save failed", zap.Error(err))
		} else {
			metrics.ObserveCheckpointSave("shutdown")
		}
	}

	result := &ScrapeResult{
		RequestedCount: len(urls),
		ProcessedCount: job.processedTotal,
		FailedCount:    len(job.failed),
		Failed:         append([]FailedRecord{}, job.failed...),
		Duration:       b.deps.Clock.Now().Sub(start),
		Interrupted:    interrupted,
	}

	if !interrupted {
		if b.deps.Checkpoints != nil {
			if err := b.deps.Checkpoints.Discard(job.id); err != nil {
				b.deps.Logger.Warn("checkpoint discard failed", zap.Error(err))
			}
		}
		if b.deps.Notifier != nil {
			if err := b.deps.Notifier.JobCompleted(ctx, job.id, result); err != nil {
				b.deps.Logger.Warn("completion notify failed", zap.Error(err))
			}
		}
	}

	b.deps.Logger.Info("batch finished",
		zap.String("job_id", job.id),
		zap.Int("processed", result.ProcessedCount),
		zap.Int("failed", result.FailedCount),
		zap.Bool("interrupted", interrupted),
		zap.Duration("duration", result.Duration))
	return result, nil
}

func (b *BatchRunner) restore(job *batchJob) {
	if b.deps.Checkpoints == nil {
		return
	}
	state, err := b.deps.Checkpoints.Load(job.id)
	if err != nil {
		b.deps.Logger.Warn("checkpoint load failed, starting fresh", zap.Error(err))
		return
	}
	if state == nil {
		return
	}

	job.remaining = state.URLsToProcess
	job.processedTotal = state.ProcessedURLCount
	for _, f := range state.FailedURLDetails {
		job.failed = append(job.failed, FailedRecord(f))
	}
	b.deps.Limiter.Restore(checkpoint.DecodeRateLimiter(state.RateLimiter))
	b.deps.Proxies.Restore(checkpoint.DecodeProxy(state.Proxy))

	b.deps.Logger.Info("resuming batch from checkpoint",
		zap.String("job_id", job.id),
		zap.Int("remaining", len(job.remaining)),
		zap.Int("processed", job.processedTotal))
}

func (b *BatchRunner) save(job *batchJob, opts ScrapeOptions) error {
	if b.deps.Checkpoints == nil {
		return nil
	}
	job.mu.Lock()
	state := &checkpoint.State{
		Timestamp: b.deps.Clock.Now(),
		OriginalArgs: map[string]any{
			"urlCount":    job.processedTotal + len(job.remaining),
			"concurrency": opts.Concurrency,
		},
		URLsToProcess:     append([]string{}, job.remaining...),
		ProcessedURLCount: job.processedTotal,
		RateLimiter:       checkpoint.EncodeRateLimiter(b.deps.Limiter.Snapshot()),
		Proxy:             checkpoint.EncodeProxy(b.deps.Proxies.Snapshot()),
	}
	for _, f := range job.failed {
		state.FailedURLDetails = append(state.FailedURLDetails, checkpoint.FailedDetail(f))
	}
	job.mu.Unlock()
	return b.deps.Checkpoints.Save(job.id, state)
}

// canonicalizeList normalizes and deduplicates a URL list, preserving order.
// Every entry must normalize cleanly; a bad entry or an empty result is a
// *ValidationError.
func canonicalizeList(raw []string) ([]string, error) {
	seen := make(map[string]struct{}, len(raw))
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		u, err := urlutil.Normalize(r)
		if err != nil {
			return nil, validationErrorf("url %q: %v", r, err)
		}
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	if len(out) == 0 {
		return nil, validationErrorf("url list is empty")
	}
	return out, nil
}

// ParseURLList reads a line-delimited URL list, skipping blank lines and
// #-comments.
func ParseURLList(r io.Reader) ([]string, error) {
	var urls []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read url list: %w", err)
	}
	return urls, nil
}

// aborted reports whether err means the fetch was torn down by cancellation
// rather than refused by the target. Aborted work is left queued for resume
// instead of being recorded as a failure. A deadline on an individual fetch
// while the job context is still live is a genuine failure, not an abort.
func aborted(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, context.Canceled)
}

// splice removes the first occurrence of u, preserving order.
func splice(list []string, u string) []string {
	for i, v := range list {
		if v == u {
			return append(list[:i:i], list[i+1:]...)
		}
	}
	return list
}
