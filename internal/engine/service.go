package engine

import (
	"context"
	"sync"
)

// Service is the outer surface the HTTP API and CLI talk to: it runs jobs
// one at a time and accumulates cross-job stats and failed records.
type Service struct {
	jobMu      sync.Mutex // serializes job execution
	mu         sync.Mutex // guards stats and failed
	discoverer *Discoverer
	batches    *BatchRunner
	clock      Clock

	stats  Stats
	failed []FailedRecord
}

// NewService wraps the two orchestrators behind a single job surface.
func NewService(discoverer *Discoverer, batches *BatchRunner, clk Clock) *Service {
	return &Service{discoverer: discoverer, batches: batches, clock: clk}
}

// Discover runs a discovery job. Jobs are serialized: the limiter, assignor,
// and checkpoint saver are shared state sized for one active job.
func (s *Service) Discover(ctx context.Context, opts DiscoverOptions) (*DiscoveryResult, error) {
	s.jobMu.Lock()
	defer s.jobMu.Unlock()

	result, err := s.discoverer.Discover(ctx, opts)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.JobsRun++
	s.stats.PagesVisited += result.VisitedCount
	s.stats.PagesFailed += result.FailedCount
	s.stats.URLsDiscovered += len(result.DiscoveredURLs)
	s.stats.LastJobAt = s.clock.Now()
	s.failed = append(s.failed, result.Failed...)
	return result, nil
}

// Scrape runs a batch job.
func (s *Service) Scrape(ctx context.Context, opts ScrapeOptions) (*ScrapeResult, error) {
	s.jobMu.Lock()
	defer s.jobMu.Unlock()

	result, err := s.batches.Scrape(ctx, opts)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.JobsRun++
	s.stats.PagesVisited += result.ProcessedCount - result.FailedCount
	s.stats.PagesFailed += result.FailedCount
	s.stats.LastJobAt = s.clock.Now()
	s.failed = append(s.failed, result.Failed...)
	return result, nil
}

// Stats returns a copy of the cross-job counters.
func (s *Service) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Failed returns a copy of every failed record accumulated since start or
// since the last clear.
func (s *Service) Failed() []FailedRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]FailedRecord{}, s.failed...)
}

// ClearFailed drops the accumulated failed records and returns how many were
// dropped.
func (s *Service) ClearFailed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.failed)
	s.failed = nil
	return n
}
