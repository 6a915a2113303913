// Package cachetest provides an in-memory cache.Cache for tests.
package cachetest

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/birbparty/aleo-beacon/internal/cache"
)

// MemCache is an in-memory cache.Cache that also records TTLs. Set Err to
// make every call fail.
type MemCache struct {
	mu     sync.Mutex
	data   map[string][]byte
	ttls   map[string]time.Duration
	closed bool
	Err    error
}

var _ cache.Cache = (*MemCache)(nil)

// NewMemCache creates an empty cache
func NewMemCache() *MemCache {
	return &MemCache{
		data: make(map[string][]byte),
		ttls: make(map[string]time.Duration),
	}
}

func (m *MemCache) check() error {
	if m.closed {
		return cache.ErrCacheClosed
	}
	return m.Err
}

func (m *MemCache) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return nil, err
	}
	value, ok := m.data[key]
	if !ok {
		return nil, cache.ErrKeyNotFound
	}
	return value, nil
}

func (m *MemCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return err
	}
	m.data[key] = value
	m.ttls[key] = ttl
	return nil
}

func (m *MemCache) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return err
	}
	delete(m.data, key)
	return nil
}

func (m *MemCache) Exists(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return false, err
	}
	_, ok := m.data[key]
	return ok, nil
}

func (m *MemCache) GetMultiple(ctx context.Context, keys []string) (map[string][]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return nil, err
	}
	results := make(map[string][]byte)
	for _, key := range keys {
		if value, ok := m.data[key]; ok {
			results[key] = value
		}
	}
	return results, nil
}

func (m *MemCache) SetMultiple(ctx context.Context, items map[string][]byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return err
	}
	for key, value := range items {
		m.data[key] = value
		m.ttls[key] = ttl
	}
	return nil
}

func (m *MemCache) DeleteMultiple(ctx context.Context, keys []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return err
	}
	for _, key := range keys {
		delete(m.data, key)
	}
	return nil
}

func (m *MemCache) DeletePattern(ctx context.Context, pattern string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prefix := strings.TrimSuffix(pattern, "*")
	n := 0
	for key := range m.data {
		if strings.HasPrefix(key, prefix) {
			delete(m.data, key)
			n++
		}
	}
	return n, nil
}

func (m *MemCache) Ping(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.check()
}

func (m *MemCache) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Keys returns the stored keys
func (m *MemCache) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		keys = append(keys, k)
	}
	return keys
}

// TTL returns the ttl key was last written with
func (m *MemCache) TTL(key string) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ttls[key]
}
