package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/bulk-harvester/internal/config"
	"github.com/JakeFAU/bulk-harvester/internal/engine"
)

type fakeRunner struct {
	mu           sync.Mutex
	discoverOpts []engine.DiscoverOptions
	scrapeOpts   []engine.ScrapeOptions
	discoverErr  error
	scrapeErr    error
	stats        engine.Stats
	failed       []engine.FailedRecord
	cleared      int
}

func (f *fakeRunner) Discover(_ context.Context, opts engine.DiscoverOptions) (*engine.DiscoveryResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.discoverOpts = append(f.discoverOpts, opts)
	if f.discoverErr != nil {
		return nil, f.discoverErr
	}
	return &engine.DiscoveryResult{
		SeedURL:        opts.SeedURL,
		DiscoveredURLs: []string{opts.SeedURL},
		VisitedCount:   1,
	}, nil
}

func (f *fakeRunner) Scrape(_ context.Context, opts engine.ScrapeOptions) (*engine.ScrapeResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scrapeOpts = append(f.scrapeOpts, opts)
	if f.scrapeErr != nil {
		return nil, f.scrapeErr
	}
	return &engine.ScrapeResult{
		RequestedCount: len(opts.URLs),
		ProcessedCount: len(opts.URLs),
	}, nil
}

func (f *fakeRunner) Stats() engine.Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats
}

func (f *fakeRunner) Failed() []engine.FailedRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]engine.FailedRecord{}, f.failed...)
}

func (f *fakeRunner) ClearFailed() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := len(f.failed)
	f.failed = nil
	f.cleared += n
	return n
}

type fakeIDGen struct {
	mu  sync.Mutex
	ids []string
}

func (f *fakeIDGen) NewID() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.ids) == 0 {
		return "", errors.New("no ids left")
	}
	id := f.ids[0]
	f.ids = f.ids[1:]
	return id, nil
}

type fakeClock struct {
	now time.Time
}

func (f *fakeClock) Now() time.Time { return f.now }

func testConfig() config.Config {
	return config.Config{
		Crawler: config.CrawlerConfig{
			Concurrency:     5,
			MaxDepthDefault: 2,
		},
	}
}

func newTestServer(runner *fakeRunner, ids ...string) *Server {
	if len(ids) == 0 {
		ids = []string{"job-1"}
	}
	idGen := &fakeIDGen{ids: ids}
	clock := &fakeClock{now: time.Unix(100, 0)}
	return NewServer(runner, idGen, clock, testConfig(), zap.NewNop())
}

func waitForJob(t *testing.T, server *Server, jobID string) Job {
	t.Helper()
	var job Job
	require.Eventually(t, func() bool {
		req := httptest.NewRequest(http.MethodGet, "/v1/jobs/"+jobID, nil)
		rec := httptest.NewRecorder()
		server.Handler().ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			return false
		}
		var payload struct {
			Job Job `json:"job"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
			return false
		}
		job = payload.Job
		return job.State == JobStateSucceeded || job.State == JobStateFailed
	}, 2*time.Second, 5*time.Millisecond)
	return job
}

func TestServer_SubmitDiscover_Succeeds(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{}
	server := newTestServer(runner, "job-discover")

	body := []byte(`{"seed_url":"https://example.com","max_depth":3}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/discover", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Contains(t, rec.Body.String(), "job-discover")

	job := waitForJob(t, server, "job-discover")
	require.Equal(t, JobStateSucceeded, job.State)
	require.Equal(t, "discovery", job.Kind)
	require.NotNil(t, job.Discovery)
	require.Equal(t, "https://example.com", job.Discovery.SeedURL)

	runner.mu.Lock()
	defer runner.mu.Unlock()
	require.Len(t, runner.discoverOpts, 1)
	require.Equal(t, 3, runner.discoverOpts[0].MaxDepth)
	require.Equal(t, 5, runner.discoverOpts[0].Concurrency)
}

func TestServer_SubmitDiscover_AppliesDefaults(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{}
	server := newTestServer(runner)

	body := []byte(`{"seed_url":"https://example.com"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/discover", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)

	waitForJob(t, server, "job-1")

	runner.mu.Lock()
	defer runner.mu.Unlock()
	require.Len(t, runner.discoverOpts, 1)
	require.Equal(t, 2, runner.discoverOpts[0].MaxDepth)
	require.Equal(t, 5, runner.discoverOpts[0].Concurrency)
}

func TestServer_SubmitDiscover_InvalidJSON(t *testing.T) {
	t.Parallel()

	server := newTestServer(&fakeRunner{})
	req := httptest.NewRequest(http.MethodPost, "/v1/discover", bytes.NewBufferString("{invalid"))
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_SubmitDiscover_MissingSeed(t *testing.T) {
	t.Parallel()

	server := newTestServer(&fakeRunner{})
	req := httptest.NewRequest(http.MethodPost, "/v1/discover", bytes.NewBufferString(`{"max_depth":2}`))
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "seed_url required")
}

func TestServer_SubmitDiscover_JobFailure(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{discoverErr: errors.New("seed rejected")}
	server := newTestServer(runner, "job-fail")

	body := []byte(`{"seed_url":"https://example.com"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/discover", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)

	job := waitForJob(t, server, "job-fail")
	require.Equal(t, JobStateFailed, job.State)
	require.Contains(t, job.Error, "seed rejected")
	require.Nil(t, job.Discovery)
}

func TestServer_SubmitScrape_Succeeds(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{}
	server := newTestServer(runner, "job-scrape")

	body := []byte(`{"urls":["https://a.test/1","https://a.test/2"],"concurrency":2}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/scrape", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)

	job := waitForJob(t, server, "job-scrape")
	require.Equal(t, JobStateSucceeded, job.State)
	require.Equal(t, "scrape", job.Kind)
	require.NotNil(t, job.Scrape)
	require.Equal(t, 2, job.Scrape.ProcessedCount)

	runner.mu.Lock()
	defer runner.mu.Unlock()
	require.Len(t, runner.scrapeOpts, 1)
	require.Equal(t, 2, runner.scrapeOpts[0].Concurrency)
}

func TestServer_SubmitScrape_MissingURLs(t *testing.T) {
	t.Parallel()

	server := newTestServer(&fakeRunner{})
	req := httptest.NewRequest(http.MethodPost, "/v1/scrape", bytes.NewBufferString(`{"urls":[]}`))
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "urls required")
}

func TestServer_JobRegistry_EvictsOldestFinished(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{}
	server := newTestServer(runner, "job-1", "job-2", "job-3")
	server.maxFinished = 2

	for _, id := range []string{"job-1", "job-2", "job-3"} {
		body := []byte(`{"seed_url":"https://example.com"}`)
		req := httptest.NewRequest(http.MethodPost, "/v1/discover", bytes.NewReader(body))
		rec := httptest.NewRecorder()
		server.Handler().ServeHTTP(rec, req)
		require.Equal(t, http.StatusAccepted, rec.Code)
		waitForJob(t, server, id)
	}

	// The oldest finished job is gone; the two newest survive.
	req := httptest.NewRequest(http.MethodGet, "/v1/jobs/job-1", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)

	for _, id := range []string{"job-2", "job-3"} {
		req := httptest.NewRequest(http.MethodGet, "/v1/jobs/"+id, nil)
		rec := httptest.NewRecorder()
		server.Handler().ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, "job %s", id)
	}
}

func TestServer_GetJob_NotFound(t *testing.T) {
	t.Parallel()

	server := newTestServer(&fakeRunner{})
	req := httptest.NewRequest(http.MethodGet, "/v1/jobs/missing", nil)
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_GetStats(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{stats: engine.Stats{JobsRun: 4, PagesVisited: 120}}
	server := newTestServer(runner)

	req := httptest.NewRequest(http.MethodGet, "/v1/stats", nil)
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var stats engine.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	require.Equal(t, 4, stats.JobsRun)
	require.Equal(t, 120, stats.PagesVisited)
}

func TestServer_FailedListAndClear(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{failed: []engine.FailedRecord{
		{URL: "https://a.test/broken", Error: "status 503"},
	}}
	server := newTestServer(runner)

	req := httptest.NewRequest(http.MethodGet, "/v1/failed", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "https://a.test/broken")
	require.Contains(t, rec.Body.String(), `"count":1`)

	req = httptest.NewRequest(http.MethodDelete, "/v1/failed", nil)
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"cleared":1`)

	req = httptest.NewRequest(http.MethodGet, "/v1/failed", nil)
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Contains(t, rec.Body.String(), `"count":0`)
}

func TestServer_Healthz(t *testing.T) {
	t.Parallel()

	server := newTestServer(&fakeRunner{})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "ok")
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestServer_Metrics(t *testing.T) {
	t.Parallel()

	server := newTestServer(&fakeRunner{})
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}
