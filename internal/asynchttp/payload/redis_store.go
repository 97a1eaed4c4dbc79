package payload

import (
	"context"
	"encoding/base64"
	"time"

	"github.com/google/uuid"

	"github.com/bdurand/asynchttp-dispatcher/internal/kv"
)

// RedisStore is the "Redis-keyed (optional millisecond TTL)"
// BlobStore implementation from spec.md §4.5, built on the same KV
// collaborator the InflightRegistry uses.
type RedisStore struct {
	kv     kv.KV
	prefix string
	ttl    time.Duration
}

// NewRedisStore returns a RedisStore namespacing keys under prefix. A
// ttl of 0 means entries never expire.
func NewRedisStore(store kv.KV, prefix string, ttl time.Duration) *RedisStore {
	return &RedisStore{kv: store, prefix: prefix, ttl: ttl}
}

func (r *RedisStore) fullKey(key string) string {
	return r.prefix + ":" + key
}

func (r *RedisStore) Store(ctx context.Context, key string, data []byte) (string, error) {
	encoded := base64.StdEncoding.EncodeToString(data)
	if err := r.kv.Set(ctx, r.fullKey(key), encoded, r.ttl); err != nil {
		return "", err
	}
	return key, nil
}

func (r *RedisStore) Fetch(ctx context.Context, key string) ([]byte, bool, error) {
	v, ok, err := r.kv.Get(ctx, r.fullKey(key))
	if err != nil || !ok {
		return nil, ok, err
	}
	data, err := base64.StdEncoding.DecodeString(v)
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (r *RedisStore) Delete(ctx context.Context, key string) error {
	return r.kv.Del(ctx, r.fullKey(key))
}

func (r *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	_, ok, err := r.kv.Get(ctx, r.fullKey(key))
	return ok, err
}

func (r *RedisStore) GenerateKey() string { return uuid.NewString() }
func (r *RedisStore) Name() string        { return "redis" }
