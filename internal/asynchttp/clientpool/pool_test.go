package clientpool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bdurand/asynchttp-dispatcher/internal/config"
)

func testConfig(poolSize int) *config.Config {
	return &config.Config{
		ConnectionPoolSize: poolSize,
		ConnectionTimeout:  0,
	}
}

func TestGetReturnsSameClientForSameKey(t *testing.T) {
	p, err := New(testConfig(2))
	require.NoError(t, err)

	c1 := p.Get("https://example.test")
	c2 := p.Get("https://example.test")
	assert.Same(t, c1, c2)
	assert.Equal(t, 1, p.Len())
}

func TestGetEvictsLeastRecentlyUsed(t *testing.T) {
	p, err := New(testConfig(2))
	require.NoError(t, err)

	p.Get("https://a.test")
	p.Get("https://b.test")
	p.Get("https://a.test") // touch a, making b the LRU
	p.Get("https://c.test") // evicts b

	assert.Equal(t, 2, p.Len())
	assert.NotNil(t, p.Breaker("https://a.test"))
	assert.NotNil(t, p.Breaker("https://c.test"))
	assert.Nil(t, p.Breaker("https://b.test"))
}

func TestLimiterDisabledByDefault(t *testing.T) {
	p, err := New(testConfig(2))
	require.NoError(t, err)
	p.Get("https://a.test")
	assert.Nil(t, p.Limiter("https://a.test"))
}

func TestLimiterEnabledWhenConfigured(t *testing.T) {
	cfg := testConfig(2)
	cfg.RateLimitPerHost = 5
	p, err := New(cfg)
	require.NoError(t, err)
	p.Get("https://a.test")
	assert.NotNil(t, p.Limiter("https://a.test"))
}

func TestProxyURLRejectsInvalidURL(t *testing.T) {
	cfg := testConfig(2)
	cfg.ProxyURL = "://not-a-url"
	_, err := New(cfg)
	assert.Error(t, err)
}
