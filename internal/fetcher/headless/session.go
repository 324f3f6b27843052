// Package headless implements the browser session with chromedp for pages
// that need JavaScript rendering.
package headless

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/bulk-harvester/internal/engine"
	"github.com/JakeFAU/bulk-harvester/internal/extract"
	"github.com/JakeFAU/bulk-harvester/internal/urlutil"
)

// Config controls the behavior of the headless session. When UserAgents is
// non-empty the session rotates through it round-robin; otherwise UserAgent
// is applied to every navigation.
type Config struct {
	UserAgent         string
	UserAgents        []string
	NavigationTimeout time.Duration
	MaxParallel       int
	// RenderQPS caps rendered fetches per second per target domain, on top
	// of the engine's own rate limiting. Zero disables the cap.
	RenderQPS float64
}

// Session renders pages in headless Chrome. One exec allocator is kept per
// proxy URL (including the direct, proxyless one) and reused across fetches,
// since the proxy can only be set at browser launch.
type Session struct {
	cfg    Config
	logger *zap.Logger

	slots  chan struct{}
	uaNext atomic.Uint64

	mu         sync.Mutex
	allocators map[string]browserAllocator
	domains    map[string]*rate.Limiter
	closed     bool
}

type browserAllocator struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a headless session. No browser is launched until the first
// fetch.
func New(cfg Config, logger *zap.Logger) (*Session, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var slots chan struct{}
	if cfg.MaxParallel > 0 {
		slots = make(chan struct{}, cfg.MaxParallel)
	}
	return &Session{
		cfg:        cfg,
		logger:     logger,
		slots:      slots,
		allocators: make(map[string]browserAllocator),
		domains:    make(map[string]*rate.Limiter),
	}, nil
}

// FetchAndExtract renders one page, through proxyURL when non-empty, and
// parses the rendered DOM.
func (s *Session) FetchAndExtract(ctx context.Context, rawURL string, proxyURL string) (*engine.PageResult, error) {
	if limiter := s.domainLimiter(urlutil.Hostname(rawURL)); limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("render rate wait: %w", err)
		}
	}
	if err := s.acquire(ctx); err != nil {
		return nil, err
	}
	defer s.release()

	alloc, err := s.allocatorFor(proxyURL)
	if err != nil {
		return nil, err
	}

	taskCtx, taskCancel := chromedp.NewContext(alloc)
	defer taskCancel()
	taskCtx, cancel := context.WithTimeout(taskCtx, s.cfg.NavigationTimeout)
	defer cancel()

	meta := newResponseMeta()
	chromedp.ListenTarget(taskCtx, meta.captureEvent)

	html, finalURL, err := s.render(taskCtx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("render %s: %w", rawURL, err)
	}

	status, responseURL := meta.snapshotWithFallbacks(rawURL, finalURL)
	if status >= 400 {
		return nil, fmt.Errorf("render %s: status %d %s", rawURL, status, http.StatusText(status))
	}

	page, err := extract.Parse(html, responseURL)
	if err != nil {
		return nil, fmt.Errorf("extract %s: %w", rawURL, err)
	}
	return &engine.PageResult{
		URL:        rawURL,
		Title:      page.Title,
		Text:       page.Text,
		HTML:       html,
		Links:      page.Links,
		StatusCode: status,
		FetchedAt:  time.Now().UTC(),
	}, nil
}

// Close shuts down every launched browser.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for key, alloc := range s.allocators {
		alloc.cancel()
		delete(s.allocators, key)
	}
	return nil
}

func (s *Session) render(ctx context.Context, rawURL string) (string, string, error) {
	var (
		html     string
		finalURL string
	)
	actions := []chromedp.Action{
		s.networkSetupAction(),
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(500 * time.Millisecond),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if err := chromedp.Run(ctx, actions...); err != nil {
		return "", "", fmt.Errorf("chromedp run: %w", err)
	}
	return html, finalURL, nil
}

func (s *Session) networkSetupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if ua := s.userAgent(); ua != "" {
			if err := emulation.SetUserAgentOverride(ua).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

func (s *Session) userAgent() string {
	if len(s.cfg.UserAgents) > 0 {
		n := s.uaNext.Add(1) - 1
		return s.cfg.UserAgents[n%uint64(len(s.cfg.UserAgents))]
	}
	return s.cfg.UserAgent
}

// allocatorFor returns the shared exec allocator for a proxy, creating it on
// first use.
func (s *Session) allocatorFor(proxyURL string) (context.Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errors.New("headless session closed")
	}
	if alloc, ok := s.allocators[proxyURL]; ok {
		return alloc.ctx, nil
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	if proxyURL != "" {
		opts = append(opts, chromedp.ProxyServer(proxyURL))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	s.allocators[proxyURL] = browserAllocator{ctx: allocCtx, cancel: allocCancel}
	s.logger.Debug("created browser allocator", zap.String("proxy", proxyURL))
	return allocCtx, nil
}

func (s *Session) domainLimiter(host string) *rate.Limiter {
	if s.cfg.RenderQPS <= 0 || host == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	limiter, ok := s.domains[host]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(s.cfg.RenderQPS), 1)
		s.domains[host] = limiter
	}
	return limiter
}

func (s *Session) acquire(ctx context.Context) error {
	if s.slots == nil {
		return nil
	}
	select {
	case s.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("headless slot wait canceled: %w", ctx.Err())
	}
}

func (s *Session) release() {
	if s.slots == nil {
		return
	}
	select {
	case <-s.slots:
	default:
	}
}

type responseMeta struct {
	mu     sync.RWMutex
	status int
	url    string
}

func newResponseMeta() *responseMeta {
	return &responseMeta{}
}

func (m *responseMeta) captureEvent(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	m.mu.Lock()
	m.status = int(resp.Response.Status)
	m.url = resp.Response.URL
	m.mu.Unlock()
}

func (m *responseMeta) snapshotWithFallbacks(requestURL, finalURL string) (int, string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	url := m.url
	switch {
	case url != "":
	case finalURL != "":
		url = finalURL
	default:
		url = requestURL
	}
	status := m.status
	if status == 0 {
		status = http.StatusOK
	}
	return status, url
}
