// Package app initializes and holds long-lived application services, acting
// as the dependency injection container for the CLI and HTTP server.
package app

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	gstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/bulk-harvester/internal/checkpoint"
	"github.com/JakeFAU/bulk-harvester/internal/clock/system"
	"github.com/JakeFAU/bulk-harvester/internal/config"
	"github.com/JakeFAU/bulk-harvester/internal/database"
	"github.com/JakeFAU/bulk-harvester/internal/engine"
	collysession "github.com/JakeFAU/bulk-harvester/internal/fetcher/colly"
	"github.com/JakeFAU/bulk-harvester/internal/fetcher/headless"
	"github.com/JakeFAU/bulk-harvester/internal/proxy"
	pubsubpublisher "github.com/JakeFAU/bulk-harvester/internal/publisher/pubsub"
	"github.com/JakeFAU/bulk-harvester/internal/ratelimit"
	"github.com/JakeFAU/bulk-harvester/internal/sink"
	"github.com/JakeFAU/bulk-harvester/internal/storage"
	"github.com/JakeFAU/bulk-harvester/internal/storage/gcs"
	"github.com/JakeFAU/bulk-harvester/internal/storage/local"
	"github.com/JakeFAU/bulk-harvester/internal/urlutil"
)

// App holds all the shared, long-lived services for the application. It is
// initialized once at startup and passed to the components that need it.
type App struct {
	cfg         config.Config
	logger      *zap.Logger
	service     *engine.Service
	coordinator *engine.Coordinator
	session     engine.BrowserSession
	pages       *database.PageStore
	pubsubConn  *pubsub.Client
	gcsConn     *gstorage.Client
}

// Config returns the loaded configuration.
func (a *App) Config() config.Config { return a.cfg }

// Logger returns the shared zap logger instance.
func (a *App) Logger() *zap.Logger { return a.logger }

// Service returns the job service the CLI and HTTP handlers drive.
func (a *App) Service() *engine.Service { return a.service }

// Coordinator returns the shutdown coordinator. Signal handlers call its
// RequestShutdown; orchestrators drain and persist from there.
func (a *App) Coordinator() *engine.Coordinator { return a.coordinator }

// New builds the full service graph from configuration. It fails fast: any
// service that cannot be initialized aborts startup.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	clk := system.New()

	limiter := ratelimit.New(ratelimit.Config{
		Enabled:                     cfg.RateLimit.Enabled,
		MaxRequestsPerMinutePerHost: cfg.RateLimit.MaxPerMinuteHost,
		MinDelayPerHost:             time.Duration(cfg.RateLimit.MinDelayMs) * time.Millisecond,
		MaxRandomDelayPerHost:       time.Duration(cfg.RateLimit.MaxRandomDelayMs) * time.Millisecond,
		MaxRequestsPerMinutePerIP:   cfg.RateLimit.MaxPerMinuteIP,
		HostBackoff:                 time.Duration(cfg.RateLimit.HostBackoffSec) * time.Second,
		IPBackoff:                   time.Duration(cfg.RateLimit.IPBackoffSec) * time.Second,
	}, clk)

	proxies, err := proxy.New(proxy.Config{
		Proxies:  cfg.Proxy.Proxies,
		Strategy: proxy.Strategy(cfg.Proxy.Strategy),
	})
	if err != nil {
		return nil, fmt.Errorf("init proxy assignor: %w", err)
	}

	app := &App{cfg: cfg, logger: logger}

	var checkpoints *checkpoint.Store
	if cfg.Checkpoint.Enabled {
		checkpoints, err = checkpoint.NewStore(cfg.Checkpoint.Dir, logger)
		if err != nil {
			return nil, fmt.Errorf("init checkpoint store: %w", err)
		}
	}

	blobs, err := app.buildBlobStore(ctx)
	if err != nil {
		return nil, err
	}

	if cfg.DB.DSN != "" {
		app.pages, err = database.NewPageStore(ctx, database.Config{
			DSN:      cfg.DB.DSN,
			Table:    cfg.DB.Table,
			MaxConns: cfg.DB.MaxConns,
		})
		if err != nil {
			return nil, fmt.Errorf("init page store: %w", err)
		}
	}

	var artifacts engine.ArtifactStore
	if blobs != nil {
		artifacts = blobs
	}

	var pageSink engine.PageSink
	if blobs != nil || app.pages != nil {
		if blobs == nil {
			blobs = &storage.NoOp{}
		}
		pageSink = sink.New(blobs, app.pages, logger)
	}

	notifier, err := app.buildNotifier(ctx)
	if err != nil {
		return nil, err
	}

	app.session, err = app.buildSession(cfg, logger)
	if err != nil {
		return nil, err
	}

	app.coordinator = engine.NewCoordinator(logger)

	pipeline := engine.NewPipeline(limiter, proxies, app.session, pageSink, clk, logger)
	deps := engine.Deps{
		Pipeline:    pipeline,
		Limiter:     limiter,
		Proxies:     proxies,
		Checkpoints: checkpoints,
		Artifacts:   artifacts,
		Notifier:    notifier,
		Coordinator: app.coordinator,
		Clock:       clk,
		Logger:      logger,
		SaveEvery:   cfg.Checkpoint.SaveEvery,
		BaseFilter: urlutil.FilterConfig{
			ExcludePatterns:   cfg.Filter.ExcludePatterns,
			BlockedExtensions: cfg.Filter.BlockedExtensions,
			Keywords:          cfg.Filter.Keywords,
		},
	}
	app.service = engine.NewService(engine.NewDiscoverer(deps), engine.NewBatchRunner(deps), clk)

	logger.Info("application services initialized",
		zap.Bool("headless", cfg.Headless.Enabled),
		zap.Int("proxies", len(cfg.Proxy.Proxies)),
		zap.Bool("checkpoints", cfg.Checkpoint.Enabled),
		zap.String("storage", cfg.Storage.Provider),
	)
	return app, nil
}

func (a *App) buildBlobStore(ctx context.Context) (storage.Provider, error) {
	switch a.cfg.Storage.Provider {
	case "local":
		store, err := local.New(local.Config{BaseDir: a.cfg.Storage.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("init local blob store: %w", err)
		}
		return store, nil
	case "gcs":
		client, err := gstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("init gcs client: %w", err)
		}
		a.gcsConn = client
		store, err := gcs.New(client, gcs.Config{Bucket: a.cfg.Storage.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("init gcs blob store: %w", err)
		}
		return store, nil
	case "":
		a.logger.Info("blob storage disabled; page HTML and artifacts will be discarded")
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown storage provider: %s", a.cfg.Storage.Provider)
	}
}

func (a *App) buildNotifier(ctx context.Context) (engine.Notifier, error) {
	if a.cfg.PubSub.ProjectID == "" || a.cfg.PubSub.TopicName == "" {
		return nil, nil
	}
	client, err := pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("init pubsub client: %w", err)
	}
	a.pubsubConn = client
	return pubsubpublisher.New(client.Topic(a.cfg.PubSub.TopicName)), nil
}

func (a *App) buildSession(cfg config.Config, logger *zap.Logger) (engine.BrowserSession, error) {
	if cfg.Headless.Enabled {
		session, err := headless.New(headless.Config{
			UserAgent:         cfg.Crawler.UserAgent,
			UserAgents:        cfg.Crawler.UserAgents,
			NavigationTimeout: cfg.NavTimeout(),
			MaxParallel:       cfg.Headless.MaxParallel,
			RenderQPS:         cfg.Headless.RenderQPS,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("init headless session: %w", err)
		}
		return session, nil
	}
	return collysession.New(collysession.Config{
		UserAgent:  cfg.Crawler.UserAgent,
		UserAgents: cfg.Crawler.UserAgents,
		Timeout:    cfg.RequestTimeout(),
	}, logger), nil
}

// Close gracefully shuts down all services in the container.
func (a *App) Close() {
	if a.session != nil {
		if err := a.session.Close(); err != nil {
			a.logger.Warn("error closing browser session", zap.Error(err))
		}
	}
	if a.pages != nil {
		a.pages.Close()
	}
	if a.pubsubConn != nil {
		if err := a.pubsubConn.Close(); err != nil {
			a.logger.Warn("error closing pubsub client", zap.Error(err))
		}
	}
	if a.gcsConn != nil {
		if err := a.gcsConn.Close(); err != nil {
			a.logger.Warn("error closing gcs client", zap.Error(err))
		}
	}
	if err := a.logger.Sync(); err != nil {
		// Best effort: stderr sync commonly fails on some platforms.
		_ = err
	}
}
