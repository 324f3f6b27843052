package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/bulk-harvester/internal/config"
	"github.com/JakeFAU/bulk-harvester/internal/engine"
	"github.com/JakeFAU/bulk-harvester/internal/metrics"
)

// JobRunner is the surface the HTTP handlers drive. *engine.Service
// satisfies it.
type JobRunner interface {
	Discover(ctx context.Context, opts engine.DiscoverOptions) (*engine.DiscoveryResult, error)
	Scrape(ctx context.Context, opts engine.ScrapeOptions) (*engine.ScrapeResult, error)
	Stats() engine.Stats
	Failed() []engine.FailedRecord
	ClearFailed() int
}

// IDGenerator mints job IDs for submitted work.
type IDGenerator interface {
	NewID() (string, error)
}

// JobState tracks a submitted job through its lifecycle.
type JobState string

const (
	JobStateQueued    JobState = "queued"
	JobStateRunning   JobState = "running"
	JobStateSucceeded JobState = "succeeded"
	JobStateFailed    JobState = "failed"
)

// Job is the registry entry returned from the status endpoint. Exactly one
// of Discovery or Scrape is set once the job succeeds.
type Job struct {
	ID        string                  `json:"id"`
	Kind      string                  `json:"kind"`
	State     JobState                `json:"state"`
	Submitted time.Time               `json:"submitted"`
	Finished  time.Time               `json:"finished,omitempty"`
	Error     string                  `json:"error,omitempty"`
	Discovery *engine.DiscoveryResult `json:"discovery,omitempty"`
	Scrape    *engine.ScrapeResult    `json:"scrape,omitempty"`
}

// Server wires HTTP handlers to the job service.
type Server struct {
	router chi.Router
	svc    JobRunner
	idGen  IDGenerator
	clock  engine.Clock
	cfg    config.Config
	logger *zap.Logger

	mu          sync.Mutex
	jobs        map[string]*Job
	order       []string
	maxFinished int
}

// maxFinishedJobs caps how many completed jobs the registry retains for
// polling; beyond that the oldest finished entries are dropped. Queued and
// running jobs are never evicted.
const maxFinishedJobs = 100

// NewServer constructs a Server with middleware and routes.
func NewServer(svc JobRunner, idGen IDGenerator, clock engine.Clock, cfg config.Config, logger *zap.Logger) *Server {
	s := &Server{
		svc:    svc,
		idGen:  idGen,
		clock:  clock,
		cfg:    cfg,
		logger: logger,
		jobs:   map[string]*Job{},

		maxFinished: maxFinishedJobs,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/discover", s.submitDiscover)
		r.Post("/scrape", s.submitScrape)
		r.Get("/jobs/{job_id}", s.getJob)
		r.Get("/stats", s.getStats)
		r.Get("/failed", s.listFailed)
		r.Delete("/failed", s.clearFailed)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type discoverRequest struct {
	SeedURL         string   `json:"seed_url"`
	MaxDepth        *int     `json:"max_depth"`
	Concurrency     *int     `json:"concurrency"`
	ExcludePatterns []string `json:"exclude_patterns"`
	Keywords        []string `json:"keywords"`
}

type scrapeRequest struct {
	URLs        []string `json:"urls"`
	Concurrency *int     `json:"concurrency"`
}

func (s *Server) submitDiscover(w http.ResponseWriter, r *http.Request) {
	var req discoverRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.SeedURL == "" {
		writeError(w, http.StatusBadRequest, "seed_url required")
		return
	}
	opts := engine.DiscoverOptions{
		SeedURL:         req.SeedURL,
		MaxDepth:        valueOrDefault(req.MaxDepth, s.cfg.Crawler.MaxDepthDefault),
		Concurrency:     valueOrDefault(req.Concurrency, s.cfg.Crawler.Concurrency),
		ExcludePatterns: req.ExcludePatterns,
		Keywords:        req.Keywords,
	}
	job, err := s.startJob("discovery", func(ctx context.Context) (func(*Job), error) {
		result, err := s.svc.Discover(ctx, opts)
		if err != nil {
			return nil, err
		}
		return func(j *Job) { j.Discovery = result }, nil
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": job.ID})
}

func (s *Server) submitScrape(w http.ResponseWriter, r *http.Request) {
	var req scrapeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if len(req.URLs) == 0 {
		writeError(w, http.StatusBadRequest, "urls required")
		return
	}
	opts := engine.ScrapeOptions{
		URLs:        req.URLs,
		Concurrency: valueOrDefault(req.Concurrency, s.cfg.Crawler.Concurrency),
	}
	job, err := s.startJob("scrape", func(ctx context.Context) (func(*Job), error) {
		result, err := s.svc.Scrape(ctx, opts)
		if err != nil {
			return nil, err
		}
		return func(j *Job) { j.Scrape = result }, nil
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": job.ID})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	s.mu.Lock()
	job, ok := s.jobs[jobID]
	var snapshot Job
	if ok {
		snapshot = *job
	}
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": snapshot})
}

func (s *Server) getStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Stats())
}

func (s *Server) listFailed(w http.ResponseWriter, _ *http.Request) {
	failed := s.svc.Failed()
	writeJSON(w, http.StatusOK, map[string]any{
		"count":  len(failed),
		"failed": failed,
	})
}

func (s *Server) clearFailed(w http.ResponseWriter, _ *http.Request) {
	cleared := s.svc.ClearFailed()
	writeJSON(w, http.StatusOK, map[string]int{"cleared": cleared})
}

// startJob registers a job, kicks off run in the background, and returns the
// registry entry. Run returns a completion callback that is applied to the
// entry under the registry lock, so status readers always see a consistent
// snapshot.
func (s *Server) startJob(kind string, run func(ctx context.Context) (func(*Job), error)) (*Job, error) {
	jobID, err := s.idGen.NewID()
	if err != nil {
		return nil, err
	}
	job := &Job{
		ID:        jobID,
		Kind:      kind,
		State:     JobStateQueued,
		Submitted: s.clock.Now(),
	}
	s.mu.Lock()
	s.jobs[jobID] = job
	s.order = append(s.order, jobID)
	s.mu.Unlock()

	go func() {
		s.mu.Lock()
		job.State = JobStateRunning
		s.mu.Unlock()

		// Detached from the request context: the job outlives the 202
		// response.
		complete, err := run(context.Background())

		s.mu.Lock()
		job.Finished = s.clock.Now()
		if err != nil {
			job.State = JobStateFailed
			job.Error = err.Error()
			s.logger.Warn("job failed", zap.String("jobId", jobID), zap.String("kind", kind), zap.Error(err))
		} else {
			complete(job)
			job.State = JobStateSucceeded
		}
		s.evictFinishedLocked()
		s.mu.Unlock()
	}()
	return job, nil
}

// evictFinishedLocked drops the oldest finished jobs once more than
// maxFinished of them have accumulated. Callers hold s.mu.
func (s *Server) evictFinishedLocked() {
	finished := 0
	for _, j := range s.jobs {
		if j.State == JobStateSucceeded || j.State == JobStateFailed {
			finished++
		}
	}
	if finished <= s.maxFinished {
		return
	}
	kept := s.order[:0]
	for _, id := range s.order {
		j, ok := s.jobs[id]
		if !ok {
			continue
		}
		done := j.State == JobStateSucceeded || j.State == JobStateFailed
		if done && finished > s.maxFinished {
			delete(s.jobs, id)
			finished--
			continue
		}
		kept = append(kept, id)
	}
	s.order = kept
}

func valueOrDefault[T any](ptr *T, def T) T {
	if ptr == nil {
		return def
	}
	return *ptr
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
