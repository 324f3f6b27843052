package app

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/bulk-harvester/internal/config"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	return config.Config{
		Server: config.ServerConfig{Port: 8080},
		Crawler: config.CrawlerConfig{
			Concurrency:     5,
			MaxDepthDefault: 2,
			UserAgent:       "bulk-harvester-test/0.1",
			TimeoutSeconds:  30,
		},
		RateLimit: config.RateLimitConfig{
			Enabled:          true,
			MaxPerMinuteHost: 20,
		},
		Checkpoint: config.CheckpointConfig{
			Enabled:   true,
			Dir:       filepath.Join(dir, "checkpoints"),
			SaveEvery: 10,
		},
		Storage: config.StorageConfig{
			Provider: "local",
			LocalDir: filepath.Join(dir, "artifacts"),
		},
	}
}

func TestNew_WiresServiceGraph(t *testing.T) {
	t.Parallel()

	a, err := New(context.Background(), testConfig(t), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(a.Close)

	require.NotNil(t, a.Service())
	require.NotNil(t, a.Coordinator())
	require.NotNil(t, a.Logger())
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Crawler.Concurrency = 0

	_, err := New(context.Background(), cfg, zap.NewNop())
	require.Error(t, err)
}

func TestNew_RejectsMalformedProxy(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Proxy.Proxies = []string{"http://\x7f bad proxy"}

	_, err := New(context.Background(), cfg, zap.NewNop())
	require.Error(t, err)
}

func TestNew_StorageDisabled(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Storage = config.StorageConfig{}

	a, err := New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(a.Close)
	require.NotNil(t, a.Service())
}
