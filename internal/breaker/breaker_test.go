// Copyright 2025 James Ross
package breaker_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bdurand/asynchttp-dispatcher/internal/asynchttp/clientpool"
	"github.com/bdurand/asynchttp-dispatcher/internal/breaker"
	"github.com/bdurand/asynchttp-dispatcher/internal/config"
)

// issue mimics reactor.issue's breaker gating around one HTTP exchange:
// check Allow before dialing, Record the outcome after (reactor.go's
// "if cb := pool.Breaker(key); cb != nil && !cb.Allow() { ... }" /
// "cb.Record(err == nil)" pair).
func issue(cb *breaker.CircuitBreaker, key string, ok bool) error {
	if !cb.Allow() {
		return fmt.Errorf("asynchttp: circuit open for %s", key)
	}
	cb.Record(ok)
	return nil
}

func TestBreakerOpensAfterRepeatedTaskFailuresToOneHost(t *testing.T) {
	cfg := &config.Config{ConnectionPoolSize: 4}
	pool, err := clientpool.New(cfg)
	require.NoError(t, err)

	key := "https://flaky-upstream.test"
	pool.Get(key) // lazily creates the per-host breaker, as reactor.issue does via pool.Get

	cb := pool.Breaker(key)
	require.NotNil(t, cb)
	assert.Equal(t, breaker.Closed, cb.State())

	// Five tasks dispatched to the same host all fail their HTTP exchange;
	// clientpool's breaker needs five samples in its window before it
	// can open.
	require.NoError(t, issue(cb, key, false))
	require.NoError(t, issue(cb, key, false))
	require.NoError(t, issue(cb, key, false))
	require.NoError(t, issue(cb, key, false))
	require.NoError(t, issue(cb, key, false))
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, breaker.Open, cb.State())

	// A further task routed to the same host is refused before it ever
	// reaches client.Do, exactly as reactor.issue would see it; the
	// refusal is a plain error that classifies as Transport{unknown}.
	err = issue(cb, key, true)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), key)
}

func TestBreakerRecoversOnceProbeToHostSucceeds(t *testing.T) {
	key := "https://recovers.test"
	// A tighter cooldown than clientpool.New's fixed 30s default, so the
	// test observes the same Allow/Record contract reactor.issue relies
	// on without waiting out the real cooldown window.
	cb := breaker.New(2*time.Second, 20*time.Millisecond, 0.5, 2)

	require.NoError(t, issue(cb, key, false))
	require.NoError(t, issue(cb, key, false))
	time.Sleep(5 * time.Millisecond)
	require.Equal(t, breaker.Open, cb.State())

	time.Sleep(30 * time.Millisecond)
	require.NoError(t, issue(cb, key, true))
	assert.Equal(t, breaker.Closed, cb.State())
}
