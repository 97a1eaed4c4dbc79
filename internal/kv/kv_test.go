package kv

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

// kvConformanceSuite exercises the KV contract against every
// implementation, the same table-of-implementations pattern the
// teacher uses for its queue backend conformance tests.
type kvConformanceSuite struct {
	suite.Suite
	kv      KV
	cleanup func()
}

func TestKVConformance(t *testing.T) {
	t.Run("memory", func(t *testing.T) {
		suite.Run(t, &kvConformanceSuite{kv: NewMemory(), cleanup: func() {}})
	})
	t.Run("redis", func(t *testing.T) {
		mr, err := miniredis.Run()
		require.NoError(t, err)
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		suite.Run(t, &kvConformanceSuite{
			kv:      NewRedisKVFromClient(client),
			cleanup: func() { client.Close(); mr.Close() },
		})
	})
}

func (s *kvConformanceSuite) TearDownSuite() {
	if s.cleanup != nil {
		s.cleanup()
	}
}

func (s *kvConformanceSuite) TestSetNXRejectsSecondWriter() {
	ctx := context.Background()
	ok, err := s.kv.SetNX(ctx, "lock:a", "owner-1", time.Minute)
	s.Require().NoError(err)
	s.True(ok)

	ok, err = s.kv.SetNX(ctx, "lock:a", "owner-2", time.Minute)
	s.Require().NoError(err)
	s.False(ok)
}

func (s *kvConformanceSuite) TestGetMissingIsNotFound() {
	_, ok, err := s.kv.Get(context.Background(), "missing")
	s.Require().NoError(err)
	s.False(ok)
}

func (s *kvConformanceSuite) TestZSetHeartbeatIndex() {
	ctx := context.Background()
	s.Require().NoError(s.kv.ZAdd(ctx, "inflight", 100, "task-1"))
	s.Require().NoError(s.kv.ZAdd(ctx, "inflight", 200, "task-2"))
	s.Require().NoError(s.kv.ZAdd(ctx, "inflight", 300, "task-3"))

	stale, err := s.kv.ZRangeByScore(ctx, "inflight", 0, 250)
	s.Require().NoError(err)
	s.ElementsMatch([]string{"task-1", "task-2"}, stale)

	score, ok, err := s.kv.ZScore(ctx, "inflight", "task-1")
	s.Require().NoError(err)
	s.True(ok)
	s.Equal(float64(100), score)

	s.Require().NoError(s.kv.ZRem(ctx, "inflight", "task-1"))
	_, ok, err = s.kv.ZScore(ctx, "inflight", "task-1")
	s.Require().NoError(err)
	s.False(ok)
}

func (s *kvConformanceSuite) TestHashPayloadStorage() {
	ctx := context.Background()
	s.Require().NoError(s.kv.HSet(ctx, "jobs", "task-1", `{"jid":"j1"}`))
	v, ok, err := s.kv.HGet(ctx, "jobs", "task-1")
	s.Require().NoError(err)
	s.True(ok)
	s.Equal(`{"jid":"j1"}`, v)

	s.Require().NoError(s.kv.HDel(ctx, "jobs", "task-1"))
	_, ok, err = s.kv.HGet(ctx, "jobs", "task-1")
	s.Require().NoError(err)
	s.False(ok)
}

func (s *kvConformanceSuite) TestSetOverwritesExistingValue() {
	ctx := context.Background()
	s.Require().NoError(s.kv.Set(ctx, "blob:k", "v1", 0))
	v, ok, err := s.kv.Get(ctx, "blob:k")
	s.Require().NoError(err)
	s.True(ok)
	s.Equal("v1", v)

	s.Require().NoError(s.kv.Set(ctx, "blob:k", "v2", 0))
	v, ok, err = s.kv.Get(ctx, "blob:k")
	s.Require().NoError(err)
	s.True(ok)
	s.Equal("v2", v)
}

func (s *kvConformanceSuite) TestCompareAndDeleteRequiresMatchingValue() {
	ctx := context.Background()
	ok, err := s.kv.SetNX(ctx, "gc:lock", "token-a", time.Minute)
	s.Require().NoError(err)
	s.True(ok)

	deleted, err := s.kv.CompareAndDelete(ctx, "gc:lock", "token-b")
	s.Require().NoError(err)
	s.False(deleted)

	deleted, err = s.kv.CompareAndDelete(ctx, "gc:lock", "token-a")
	s.Require().NoError(err)
	s.True(deleted)

	_, ok, err = s.kv.Get(ctx, "gc:lock")
	s.Require().NoError(err)
	s.False(ok)
}

func (s *kvConformanceSuite) TestCompareAndDeleteOnMissingKeyIsNoop() {
	deleted, err := s.kv.CompareAndDelete(context.Background(), "gc:missing", "anything")
	s.Require().NoError(err)
	s.False(deleted)
}

func (s *kvConformanceSuite) TestDelRemovesAcrossTypes() {
	ctx := context.Background()
	s.Require().NoError(s.kv.HSet(ctx, "k", "f", "v"))
	s.Require().NoError(s.kv.Del(ctx, "k"))
	_, ok, err := s.kv.HGet(ctx, "k", "f")
	s.Require().NoError(err)
	s.False(ok)
}
