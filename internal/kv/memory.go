package kv

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Memory is an in-process KV implementation used by unit tests that do
// not need real Redis semantics (TTL expiry is honored on read, same as
// the teacher's in-memory test doubles elsewhere in the package).
type Memory struct {
	mu      sync.Mutex
	strings map[string]memEntry
	zsets   map[string]map[string]float64
	hashes  map[string]map[string]string
}

type memEntry struct {
	value   string
	expires time.Time
	hasTTL  bool
}

// NewMemory returns an empty in-process KV.
func NewMemory() *Memory {
	return &Memory{
		strings: make(map[string]memEntry),
		zsets:   make(map[string]map[string]float64),
		hashes:  make(map[string]map[string]string),
	}
}

func (m *Memory) expired(e memEntry) bool {
	return e.hasTTL && time.Now().After(e.expires)
}

func (m *Memory) SetNX(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.strings[key]; ok && !m.expired(e) {
		return false, nil
	}
	m.strings[key] = memEntry{value: value, expires: time.Now().Add(ttl), hasTTL: ttl > 0}
	return true, nil
}

func (m *Memory) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.strings[key] = memEntry{value: value, expires: time.Now().Add(ttl), hasTTL: ttl > 0}
	return nil
}

func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.strings[key]
	if !ok || m.expired(e) {
		return "", false, nil
	}
	return e.value, true, nil
}

func (m *Memory) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.strings, k)
		delete(m.zsets, k)
		delete(m.hashes, k)
	}
	return nil
}

func (m *Memory) Expire(_ context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.strings[key]; ok {
		e.expires = time.Now().Add(ttl)
		e.hasTTL = true
		m.strings[key] = e
	}
	return nil
}

func (m *Memory) ZAdd(_ context.Context, key string, score float64, member string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.zsets[key]
	if !ok {
		set = make(map[string]float64)
		m.zsets[key] = set
	}
	set[member] = score
	return nil
}

func (m *Memory) ZScore(_ context.Context, key, member string) (float64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.zsets[key]
	if !ok {
		return 0, false, nil
	}
	score, ok := set[member]
	return score, ok, nil
}

func (m *Memory) ZRangeByScore(_ context.Context, key string, min, max float64) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.zsets[key]
	if !ok {
		return nil, nil
	}
	var out []string
	for member, score := range set {
		if score >= min && score <= max {
			out = append(out, member)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *Memory) ZRem(_ context.Context, key string, members ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.zsets[key]
	if !ok {
		return nil
	}
	for _, mem := range members {
		delete(set, mem)
	}
	return nil
}

func (m *Memory) HSet(_ context.Context, key, field, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.hashes[key]
	if !ok {
		h = make(map[string]string)
		m.hashes[key] = h
	}
	h[field] = value
	return nil
}

func (m *Memory) HGet(_ context.Context, key, field string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.hashes[key]
	if !ok {
		return "", false, nil
	}
	v, ok := h[field]
	return v, ok, nil
}

func (m *Memory) HDel(_ context.Context, key string, fields ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.hashes[key]
	if !ok {
		return nil
	}
	for _, f := range fields {
		delete(h, f)
	}
	return nil
}

// CompareAndDelete deletes key only if it currently holds expected.
// The whole operation runs under the package mutex already guarding
// every other method, giving it the same atomicity a Redis
// WATCH/MULTI/EXEC transaction provides for RedisKV.
func (m *Memory) CompareAndDelete(_ context.Context, key, expected string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.strings[key]
	if !ok || m.expired(e) || e.value != expected {
		return false, nil
	}
	delete(m.strings, key)
	return true, nil
}

func (m *Memory) Close() error { return nil }
