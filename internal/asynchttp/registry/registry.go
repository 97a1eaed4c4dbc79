// Package registry implements the InflightRegistry (spec.md §4.6): the
// KV-backed index of in-flight tasks used for cross-process visibility,
// heartbeat refresh, and orphan recovery. It generalizes the teacher's
// internal/reaper.Reaper — which scans Redis SCAN for per-worker
// processing-list keys and re-queues jobs whose owning worker's
// heartbeat key is gone — to the sorted-set + optimistic-re-read +
// distributed-lock protocol spec.md §4.6 describes, expressed entirely
// through internal/kv.KV so it is testable against miniredis or the
// in-process Memory fake without a real Redis.
package registry

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/bdurand/asynchttp-dispatcher/internal/jobqueue"
	"github.com/bdurand/asynchttp-dispatcher/internal/kv"
	"github.com/bdurand/asynchttp-dispatcher/internal/obs"
)

// Key layout, spec.md §6.
const (
	indexKey  = "async_http:inflight_index"
	jobsKey   = "async_http:inflight_jobs"
	gcLockKey = "async_http:gc_lock"
)

// Registry is the InflightRegistry collaborator. One instance exists
// per dispatcher process; processID distinguishes this process's
// entries (and GC lock ownership) from any other process sharing the
// same KV backend.
type Registry struct {
	kv        kv.KV
	jobQueue  jobqueue.JobQueue
	processID string
	entryTTL  time.Duration
	lockTTL   time.Duration
	now       func() time.Time
}

// New builds a Registry. entryTTL bounds the zset/hash keys
// (spec.md §4 "KV-backed entries": "TTL on KV keys is 3 × orphan_threshold,
// floored at 1 hour"); lockTTL bounds the GC lock ("TTL 2 ×
// heartbeat_interval, floored at 2 minutes"). Callers compute both per
// those floors before calling New.
func New(store kv.KV, jq jobqueue.JobQueue, processID string, entryTTL, lockTTL time.Duration) *Registry {
	return &Registry{
		kv:        store,
		jobQueue:  jq,
		processID: processID,
		entryTTL:  entryTTL,
		lockTTL:   lockTTL,
		now:       time.Now,
	}
}

// SetClock overrides the registry's time source, for tests in other
// packages that need deterministic control over heartbeat/orphan
// timing without a real clock dependency.
func (r *Registry) SetClock(now func() time.Time) {
	r.now = now
}

func (r *Registry) member(taskID string) string {
	return r.processID + ":" + taskID
}

func nowMillis(t time.Time) float64 {
	return float64(t.UnixMilli())
}

// Register adds taskID to the heartbeat index and stores job as its
// re-enqueue payload, per spec.md §4.6: "ZADD inflight_index now_ms
// process_id:task_id; HSET inflight_jobs process_id:task_id
// serialized_job; set TTL."
func (r *Registry) Register(ctx context.Context, taskID string, job jobqueue.Job) error {
	payload, err := job.Marshal()
	if err != nil {
		return fmt.Errorf("registry: marshal job for %s: %w", taskID, err)
	}
	member := r.member(taskID)
	if err := r.kv.ZAdd(ctx, indexKey, nowMillis(r.now()), member); err != nil {
		return fmt.Errorf("registry: register %s: %w", taskID, err)
	}
	if err := r.kv.HSet(ctx, jobsKey, member, string(payload)); err != nil {
		return fmt.Errorf("registry: store payload for %s: %w", taskID, err)
	}
	if err := r.kv.Expire(ctx, indexKey, r.entryTTL); err != nil {
		return fmt.Errorf("registry: set index ttl: %w", err)
	}
	if err := r.kv.Expire(ctx, jobsKey, r.entryTTL); err != nil {
		return fmt.Errorf("registry: set jobs ttl: %w", err)
	}
	return nil
}

// UpdateHeartbeats refreshes every id's score to the current timestamp
// in a single batch (spec.md §4.6).
func (r *Registry) UpdateHeartbeats(ctx context.Context, taskIDs []string) error {
	if len(taskIDs) == 0 {
		return nil
	}
	now := nowMillis(r.now())
	for _, id := range taskIDs {
		if err := r.kv.ZAdd(ctx, indexKey, now, r.member(id)); err != nil {
			return fmt.Errorf("registry: heartbeat %s: %w", id, err)
		}
	}
	return r.kv.Expire(ctx, indexKey, r.entryTTL)
}

// Unregister removes taskID from both the zset and the hash,
// spec.md §4.6's normal-termination path.
func (r *Registry) Unregister(ctx context.Context, taskID string) error {
	member := r.member(taskID)
	if err := r.kv.ZRem(ctx, indexKey, member); err != nil {
		return fmt.Errorf("registry: unregister %s: %w", taskID, err)
	}
	return r.kv.HDel(ctx, jobsKey, member)
}

// AcquireGCLock attempts to take the distributed GC lock, returning
// true iff this process acquired it (spec.md §4.6: "SET gc_lock
// <self_token> NX EX ttl").
func (r *Registry) AcquireGCLock(ctx context.Context) (bool, error) {
	ok, err := r.kv.SetNX(ctx, gcLockKey, r.processID, r.lockTTL)
	if err != nil {
		return false, fmt.Errorf("registry: acquire gc lock: %w", err)
	}
	return ok, nil
}

// ReleaseGCLock deletes the lock only if it still holds this process's
// token (spec.md §4.6: "via WATCH/MULTI/EXEC, delete only if value
// equals self_token"), backed by kv.KV.CompareAndDelete.
func (r *Registry) ReleaseGCLock(ctx context.Context) error {
	_, err := r.kv.CompareAndDelete(ctx, gcLockKey, r.processID)
	if err != nil {
		return fmt.Errorf("registry: release gc lock: %w", err)
	}
	return nil
}

// CleanupOrphans must be called while this process holds the GC lock.
// It scans inflight_index for entries whose heartbeat is older than
// orphanThreshold, re-reads each one's score to avoid racing a
// concurrent heartbeat, and re-enqueues the ones that are still stale
// via JobQueue.Push, following spec.md §4.6 steps 1-3 exactly. It
// mirrors the scan → liveness check → pop-and-requeue shape of
// internal/reaper.Reaper.scanOnce, generalized from SCAN-over-
// processing-lists to ZRANGEBYSCORE-over-the-heartbeat-index.
func (r *Registry) CleanupOrphans(ctx context.Context, orphanThreshold time.Duration, logger *zap.Logger) (int, error) {
	cutoff := nowMillis(r.now().Add(-orphanThreshold))
	candidates, err := r.kv.ZRangeByScore(ctx, indexKey, kv.NegInf, cutoff)
	if err != nil {
		return 0, fmt.Errorf("registry: scan orphans: %w", err)
	}

	recovered := 0
	for _, member := range candidates {
		score, ok, err := r.kv.ZScore(ctx, indexKey, member)
		if err != nil {
			logger.Error("registry: re-read score failed", obs.String("member", member), obs.Err(err))
			continue
		}
		if !ok {
			// Unregistered between the scan and here; nothing to do.
			continue
		}
		if score > cutoff {
			// A heartbeat landed after the scan; no longer an orphan.
			continue
		}

		payload, found, err := r.kv.HGet(ctx, jobsKey, member)
		if err != nil {
			logger.Error("registry: fetch payload failed", obs.String("member", member), obs.Err(err))
			continue
		}
		if !found {
			if err := r.kv.ZRem(ctx, indexKey, member); err != nil {
				logger.Error("registry: remove dangling index entry failed", obs.String("member", member), obs.Err(err))
			}
			continue
		}

		job, err := jobqueue.UnmarshalJob([]byte(payload))
		if err != nil {
			logger.Error("registry: unmarshal orphan payload failed", obs.String("member", member), obs.Err(err))
			continue
		}

		if _, err := r.jobQueue.Push(ctx, job); err != nil {
			logger.Error("registry: re-enqueue orphan failed", obs.String("member", member), obs.Err(err))
			continue
		}

		if err := r.kv.ZRem(ctx, indexKey, member); err != nil {
			logger.Error("registry: remove recovered index entry failed", obs.String("member", member), obs.Err(err))
		}
		if err := r.kv.HDel(ctx, jobsKey, member); err != nil {
			logger.Error("registry: remove recovered payload failed", obs.String("member", member), obs.Err(err))
		}

		logger.Info("registry: recovered orphaned task", obs.String("member", member), obs.TaskID(job.JID))
		obs.RegistryOrphansRecovered.Inc()
		recovered++
	}

	return recovered, nil
}
