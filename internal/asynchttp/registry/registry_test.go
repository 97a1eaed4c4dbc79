package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bdurand/asynchttp-dispatcher/internal/jobqueue"
	"github.com/bdurand/asynchttp-dispatcher/internal/kv"
)

func newTestRegistry(processID string) (*Registry, *jobqueue.Memory) {
	jq := jobqueue.NewMemory()
	reg := New(kv.NewMemory(), jq, processID, time.Hour, 2*time.Minute)
	return reg, jq
}

func TestRegisterThenUnregisterRemovesEntry(t *testing.T) {
	reg, _ := newTestRegistry("proc-1")
	ctx := context.Background()

	job := jobqueue.Job{Class: "HTTPRequest", JID: "j1", Args: []any{"GET", "http://example.com"}}
	require.NoError(t, reg.Register(ctx, "task-1", job))

	count, err := reg.CleanupOrphans(ctx, time.Hour, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 0, count, "freshly registered task is not an orphan")

	require.NoError(t, reg.Unregister(ctx, "task-1"))

	count, err = reg.CleanupOrphans(ctx, 0, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 0, count, "unregistered task leaves nothing to recover")
}

func TestStaleHeartbeatIsRecoveredAsOrphan(t *testing.T) {
	reg, jq := newTestRegistry("proc-1")
	ctx := context.Background()

	job := jobqueue.Job{Class: "HTTPRequest", JID: "j2"}
	require.NoError(t, reg.Register(ctx, "task-2", job))

	frozen := time.Now()
	reg.now = func() time.Time { return frozen.Add(-10 * time.Second) }
	require.NoError(t, reg.UpdateHeartbeats(ctx, []string{"task-2"}))

	reg.now = func() time.Time { return frozen }
	count, err := reg.CleanupOrphans(ctx, 2*time.Second, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Len(t, jq.Jobs(), 1)
	assert.Equal(t, "j2", jq.Jobs()[0].JID)
}

func TestCleanupOrphansSkipsEntryRefreshedBeforePass(t *testing.T) {
	reg, jq := newTestRegistry("proc-1")
	ctx := context.Background()

	base := time.Now()
	reg.now = func() time.Time { return base.Add(-10 * time.Second) }
	require.NoError(t, reg.Register(ctx, "task-3", jobqueue.Job{Class: "HTTPRequest", JID: "j3"}))

	// The entry was registered 10s ago, but its heartbeat is refreshed to
	// "now" before the GC pass runs, so it is no longer older than the
	// orphan threshold and must not be recovered.
	reg.now = func() time.Time { return base }
	require.NoError(t, reg.UpdateHeartbeats(ctx, []string{"task-3"}))

	count, err := reg.CleanupOrphans(ctx, 2*time.Second, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 0, count)
	assert.Empty(t, jq.Jobs())
}

func TestCleanupOrphansRemovesDanglingIndexEntryWithoutPayload(t *testing.T) {
	reg, jq := newTestRegistry("proc-1")
	ctx := context.Background()

	base := time.Now()
	reg.now = func() time.Time { return base.Add(-10 * time.Second) }
	require.NoError(t, reg.Register(ctx, "task-4", jobqueue.Job{Class: "HTTPRequest", JID: "j4"}))
	require.NoError(t, reg.Unregister(ctx, "task-4")) // removes hash entry but not, hypothetically, the zset

	// Re-insert only the zset half to simulate a dangling entry.
	require.NoError(t, reg.kv.ZAdd(ctx, indexKey, nowMillis(reg.now()), reg.member("task-4")))

	reg.now = func() time.Time { return base }
	count, err := reg.CleanupOrphans(ctx, 2*time.Second, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 0, count)
	assert.Empty(t, jq.Jobs())

	_, ok, err := reg.kv.ZScore(ctx, indexKey, reg.member("task-4"))
	require.NoError(t, err)
	assert.False(t, ok, "dangling index entry should be removed")
}

func TestGCLockRoundTrip(t *testing.T) {
	reg, _ := newTestRegistry("proc-1")
	other, _ := newTestRegistry("proc-2")
	other.kv = reg.kv
	ctx := context.Background()

	ok, err := reg.AcquireGCLock(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = other.AcquireGCLock(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "a second process must not acquire a held lock")

	require.NoError(t, other.ReleaseGCLock(ctx))
	ok, err = reg.AcquireGCLock(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "releasing someone else's token must be a no-op")

	require.NoError(t, reg.ReleaseGCLock(ctx))
	ok, err = other.AcquireGCLock(ctx)
	require.NoError(t, err)
	assert.True(t, ok, "lock is free after the true owner releases it")
}
