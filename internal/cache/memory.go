// ABOUTME: In-process cache backend: bounded LRU with per-entry expiry
// ABOUTME: Concurrent misses on one key share a single compute via singleflight

package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"golang.org/x/sync/singleflight"

	"github.com/2389/helpdesk-gateway/internal/metrics"
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// Memory is the default cache backend.
type Memory struct {
	entries *lru.Cache
	group   singleflight.Group
	// mu orders stores against invalidations. gen advances on every
	// invalidation; a compute that overlapped one returns its value but
	// does not store it.
	mu  sync.Mutex
	gen uint64
	now func() time.Time
}

// NewMemory creates a memory cache holding at most maxEntries keys.
func NewMemory(maxEntries int) (*Memory, error) {
	if maxEntries <= 0 {
		maxEntries = 10_000
	}
	entries, err := lru.New(maxEntries)
	if err != nil {
		return nil, fmt.Errorf("creating lru: %w", err)
	}
	return &Memory{entries: entries, now: time.Now}, nil
}

// Fetch returns the live entry for key or computes and stores it.
func (m *Memory) Fetch(ctx context.Context, key string, ttl time.Duration, compute ComputeFunc) ([]byte, error) {
	if v, ok := m.get(key); ok {
		metrics.RecordCacheHit()
		return v, nil
	}
	metrics.RecordCacheMiss()

	v, err, _ := m.group.Do(key, func() (any, error) {
		if v, ok := m.get(key); ok {
			return v, nil
		}
		gen := m.generation()
		value, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		m.mu.Lock()
		if m.gen == gen {
			m.entries.Add(key, memoryEntry{value: value, expiresAt: m.now().Add(ttl)})
		}
		m.mu.Unlock()
		return value, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// Invalidate removes key immediately.
func (m *Memory) Invalidate(ctx context.Context, key string) error {
	m.mu.Lock()
	m.gen++
	m.entries.Remove(key)
	m.mu.Unlock()
	m.group.Forget(key)
	return nil
}

func (m *Memory) generation() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gen
}

// Len reports the number of stored entries, expired ones included.
func (m *Memory) Len() int {
	return m.entries.Len()
}

func (m *Memory) get(key string) ([]byte, bool) {
	raw, ok := m.entries.Get(key)
	if !ok {
		return nil, false
	}
	entry := raw.(memoryEntry)
	if !m.now().Before(entry.expiresAt) {
		m.entries.Remove(key)
		return nil, false
	}
	return entry.value, true
}
