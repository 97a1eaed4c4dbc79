// Package kv defines the KV collaborator the dispatcher uses for
// distributed coordination (spec.md §6): the heartbeat sorted set, the
// hash of serialized jobs kept for re-enqueue, and the distributed GC
// lock. It replaces
// the teacher's internal/redisclient, which built a bare *redis.Client
// directly against github.com/go-redis/redis/v8; here the connection
// building is folded into a single v9 implementation behind an
// interface so the registry and reactor packages can be tested against
// an in-memory fake or miniredis without importing go-redis directly.
package kv

import (
	"context"
	"time"
)

// KV is the minimal surface the dispatcher's InflightRegistry and
// BlobStore need from a shared key-value store (spec.md §6 "KV").
type KV interface {
	// SetNX sets key to value with the given TTL only if key does not
	// already exist, reporting whether the set happened. Backs the
	// distributed GC lock (spec.md §4.6).
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// Set unconditionally writes key, optionally with a TTL (ttl <= 0
	// means no expiry). Backs the BlobStore Redis-keyed implementation.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	Get(ctx context.Context, key string) (string, bool, error)
	Del(ctx context.Context, keys ...string) error
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// ZAdd upserts member's score in the sorted set at key, used for the
	// heartbeat index: member identifies the task (the registry uses
	// "process_id:task_id"), score is the Unix
	// millisecond timestamp of the last heartbeat.
	ZAdd(ctx context.Context, key string, score float64, member string) error
	ZScore(ctx context.Context, key, member string) (float64, bool, error)
	// ZRangeByScore returns members whose score falls within [min, max].
	ZRangeByScore(ctx context.Context, key string, min, max float64) ([]string, error)
	ZRem(ctx context.Context, key string, members ...string) error

	HSet(ctx context.Context, key, field, value string) error
	HGet(ctx context.Context, key, field string) (string, bool, error)
	HDel(ctx context.Context, key string, fields ...string) error

	// CompareAndDelete deletes key only if its current value equals
	// expected, atomically. Backs the GC lock release described in
	// spec.md §4.6 ("via WATCH/MULTI/EXEC, delete only if value equals
	// self_token") — WATCH/MULTI/EXEC is a Redis-specific mechanism for
	// this compare-and-delete; the collaborator interface exposes the
	// operation itself so non-Redis implementations can provide their
	// own atomicity.
	CompareAndDelete(ctx context.Context, key, expected string) (bool, error)

	// Close releases any underlying connections.
	Close() error
}
