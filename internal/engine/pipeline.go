package engine

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/bulk-harvester/internal/metrics"
	"github.com/JakeFAU/bulk-harvester/internal/urlutil"
)

// Pipeline runs one URL through proxy lookup, rate limiting, fetch, and
// error classification. It is shared by the discovery and batch
// orchestrators and carries no per-job state of its own.
type Pipeline struct {
	limiter RateLimiter
	proxies ProxyAssignor
	session BrowserSession
	sink    PageSink
	clock   Clock
	logger  *zap.Logger
}

// NewPipeline wires the per-URL pipeline. sink may be nil when page
// persistence is disabled.
func NewPipeline(limiter RateLimiter, proxies ProxyAssignor, session BrowserSession, sink PageSink, clk Clock, logger *zap.Logger) *Pipeline {
	metrics.Init()
	return &Pipeline{
		limiter: limiter,
		proxies: proxies,
		session: session,
		sink:    sink,
		clock:   clk,
		logger:  logger,
	}
}

// Process fetches one URL. WaitForSlot both admits and records the request,
// so the fetch follows a nil return directly. Fetch errors feed back into the
// limiter and assignor before being returned.
func (p *Pipeline) Process(ctx context.Context, jobID string, rawURL string) (*PageResult, error) {
	host := urlutil.Hostname(rawURL)
	if host == "" {
		return nil, fmt.Errorf("no hostname in %q", rawURL)
	}

	proxyURL := p.proxies.ProxyForHost(host)
	proxyIP := ""
	if proxyURL != "" {
		proxyIP = p.proxies.Host(proxyURL)
	}

	if err := p.limiter.WaitForSlot(ctx, host, proxyIP); err != nil {
		return nil, fmt.Errorf("wait for slot: %w", err)
	}

	page, err := p.session.FetchAndExtract(ctx, rawURL, proxyURL)
	if err != nil {
		p.classify(err, host, proxyURL, proxyIP)
		metrics.ObservePage(host, "failure")
		return nil, err
	}
	metrics.ObservePage(host, "success")

	if p.sink != nil {
		if err := p.sink.StorePage(ctx, jobID, page); err != nil {
			// Persistence is best effort; the page itself was fetched fine.
			p.logger.Warn("store page failed", zap.String("url", rawURL), zap.Error(err))
		}
	}
	return page, nil
}

// classify translates a fetch error into limiter/assignor side effects. A
// 429-shaped error backs off the host (and the proxy IP when one was used).
// A dead-connection error evicts the proxy's host mappings and backs off its
// IP. Everything else is just a failed item.
func (p *Pipeline) classify(err error, host, proxyURL, proxyIP string) {
	switch {
	case isRateLimited(err):
		p.logger.Warn("rate limit signal",
			zap.String("host", host), zap.Error(err))
		p.limiter.BackoffHost(host)
		if proxyIP != "" {
			p.limiter.BackoffIP(proxyIP)
		}
	case isConnectivity(err) && proxyURL != "":
		p.logger.Warn("connectivity signal, evicting proxy",
			zap.String("host", host), zap.String("proxy", proxyURL), zap.Error(err))
		p.proxies.ReportPermanentFailure(proxyURL)
		p.limiter.BackoffIP(proxyIP)
	}
}
