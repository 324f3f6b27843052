// Package collysession implements the HTTP browser session using gocolly.
package collysession

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/bulk-harvester/internal/engine"
	"github.com/JakeFAU/bulk-harvester/internal/extract"
)

// Config controls collector behavior. When UserAgents is non-empty the
// session rotates through it round-robin; otherwise UserAgent is used for
// every request.
type Config struct {
	UserAgent   string
	UserAgents  []string
	Timeout     time.Duration
	MaxBodySize int
}

// Session fetches pages over plain HTTP and extracts title, text, and links.
// Each fetch clones the base collector so per-URL proxy transports never
// leak between requests.
type Session struct {
	cfg    Config
	base   *colly.Collector
	logger *zap.Logger
	uaNext atomic.Uint64
}

// New builds a Session.
func New(cfg Config, logger *zap.Logger) *Session {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	// AllowURLRevisit because the session outlives a single job and clones
	// share the visited store; dedup within a job happens upstream.
	c := colly.NewCollector(colly.Async(false), colly.IgnoreRobotsTxt(), colly.AllowURLRevisit())
	if cfg.MaxBodySize > 0 {
		c.MaxBodySize = cfg.MaxBodySize
	}
	return &Session{cfg: cfg, base: c, logger: logger}
}

// FetchAndExtract performs one GET, through proxyURL when non-empty, and
// parses the response body.
func (s *Session) FetchAndExtract(ctx context.Context, rawURL string, proxyURL string) (*engine.PageResult, error) {
	collector := s.base.Clone()
	if ua := s.userAgent(); ua != "" {
		collector.UserAgent = ua
	}
	collector.SetRequestTimeout(s.cfg.Timeout)

	transport, err := newTransport(proxyURL)
	if err != nil {
		return nil, err
	}
	collector.WithTransport(transport)

	var (
		body     []byte
		status   int
		finalURL string
		fetchErr error
	)
	collector.OnResponse(func(r *colly.Response) {
		body = append([]byte(nil), r.Body...)
		status = r.StatusCode
		finalURL = r.Request.URL.String()
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			fetchErr = fmt.Errorf("status %d: %w", r.StatusCode, err)
			return
		}
		fetchErr = err
	})

	if err := s.visit(ctx, collector, rawURL); err != nil {
		return nil, err
	}
	if fetchErr != nil {
		return nil, fmt.Errorf("fetch %s: %w", rawURL, fetchErr)
	}
	if finalURL == "" {
		finalURL = rawURL
	}

	page, err := extract.Parse(string(body), finalURL)
	if err != nil {
		return nil, fmt.Errorf("extract %s: %w", rawURL, err)
	}
	return &engine.PageResult{
		URL:        rawURL,
		Title:      page.Title,
		Text:       page.Text,
		HTML:       string(body),
		Links:      page.Links,
		StatusCode: status,
		FetchedAt:  time.Now().UTC(),
	}, nil
}

// Close releases nothing; collector clones hold no persistent resources.
func (s *Session) Close() error { return nil }

func (s *Session) userAgent() string {
	if len(s.cfg.UserAgents) > 0 {
		n := s.uaNext.Add(1) - 1
		return s.cfg.UserAgents[n%uint64(len(s.cfg.UserAgents))]
	}
	return s.cfg.UserAgent
}

func (s *Session) visit(ctx context.Context, collector *colly.Collector, rawURL string) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(rawURL)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("visit %s: %w", rawURL, err)
		}
		return nil
	}
}

func newTransport(proxyURL string) (*http.Transport, error) {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
	if proxyURL != "" {
		parsed, err := url.Parse(proxyURL)
		if err != nil {
			return nil, fmt.Errorf("parse proxy url %q: %w", proxyURL, err)
		}
		transport.Proxy = http.ProxyURL(parsed)
	}
	return transport, nil
}
