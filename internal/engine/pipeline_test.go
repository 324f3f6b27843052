package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/bulk-harvester/internal/clock/system"
)

func TestProcessClassifiesRateLimit(t *testing.T) {
	session := &fakeSession{
		errs: map[string]error{
			"https://a.test/hot": errors.New("fetch failed: 429 Too Many Requests"),
		},
	}
	limiter := &stubLimiter{}
	proxies := &stubProxies{proxyURL: "http://10.0.0.1:8080"}
	p := NewPipeline(limiter, proxies, session, nil, system.New(), zap.NewNop())

	_, err := p.Process(context.Background(), "job", "https://a.test/hot")
	require.Error(t, err)

	assert.Equal(t, []string{"a.test"}, limiter.hostBackoffs)
	assert.Equal(t, []string{"10.0.0.1"}, limiter.ipBackoffs)
	assert.Empty(t, proxies.evicted)
}

func TestProcessClassifiesDeadProxy(t *testing.T) {
	session := &fakeSession{
		errs: map[string]error{
			"https://a.test/x": errors.New("dial tcp: connection refused"),
		},
	}
	limiter := &stubLimiter{}
	proxies := &stubProxies{proxyURL: "http://10.0.0.2:8080"}
	p := NewPipeline(limiter, proxies, session, nil, system.New(), zap.NewNop())

	_, err := p.Process(context.Background(), "job", "https://a.test/x")
	require.Error(t, err)

	assert.Equal(t, []string{"http://10.0.0.2:8080"}, proxies.evicted)
	assert.Equal(t, []string{"10.0.0.2"}, limiter.ipBackoffs)
	assert.Empty(t, limiter.hostBackoffs)
}

func TestProcessConnectivityWithoutProxyHasNoSideEffects(t *testing.T) {
	session := &fakeSession{
		errs: map[string]error{
			"https://a.test/x": errors.New("dial tcp: connection refused"),
		},
	}
	limiter := &stubLimiter{}
	proxies := &stubProxies{}
	p := NewPipeline(limiter, proxies, session, nil, system.New(), zap.NewNop())

	_, err := p.Process(context.Background(), "job", "https://a.test/x")
	require.Error(t, err)

	assert.Empty(t, proxies.evicted)
	assert.Empty(t, limiter.ipBackoffs)
	assert.Empty(t, limiter.hostBackoffs)
}

func TestProcessOrdinaryErrorHasNoSideEffects(t *testing.T) {
	session := &fakeSession{
		errs: map[string]error{
			"https://a.test/x": errors.New("status 500"),
		},
	}
	limiter := &stubLimiter{}
	proxies := &stubProxies{proxyURL: "http://10.0.0.1:8080"}
	p := NewPipeline(limiter, proxies, session, nil, system.New(), zap.NewNop())

	_, err := p.Process(context.Background(), "job", "https://a.test/x")
	require.Error(t, err)

	assert.Empty(t, proxies.evicted)
	assert.Empty(t, limiter.ipBackoffs)
	assert.Empty(t, limiter.hostBackoffs)
}

func TestProcessRejectsHostlessURL(t *testing.T) {
	p := NewPipeline(&stubLimiter{}, &stubProxies{}, &fakeSession{}, nil, system.New(), zap.NewNop())
	_, err := p.Process(context.Background(), "job", "not-a-url")
	require.Error(t, err)
}
