package cache

import (
	"context"
	"sync"
	"time"
)

// Entry is immutable once written; refreshes replace it wholesale.
type Entry struct {
	Key              string        `json:"key"`
	Payload          []byte        `json:"payload"`
	CreatedAt        time.Time     `json:"createdAt"`
	TTL              time.Duration `json:"ttl"`
	RefreshThreshold float64       `json:"refreshThreshold"`
}

func (e Entry) Age(now time.Time) time.Duration { return now.Sub(e.CreatedAt) }

// Expired reports whether the entry is past its hard TTL.
func (e Entry) Expired(now time.Time) bool { return e.Age(now) > e.TTL }

// Stale reports whether the entry is due for a background refresh.
func (e Entry) Stale(now time.Time) bool {
	return e.Age(now) >= time.Duration(float64(e.TTL)*e.RefreshThreshold)
}

// Store persists cache entries. Implementations must be safe for concurrent use.
type Store interface {
	Get(ctx context.Context, key string) (Entry, bool, error)
	Set(ctx context.Context, e Entry) error
	Delete(ctx context.Context, keys ...string) (int, error)
	// Keys lists stored keys matching a glob pattern.
	Keys(ctx context.Context, pattern string) ([]string, error)
}

// MemoryStore is the process-local Store.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]Entry)}
}

func (m *MemoryStore) Get(_ context.Context, key string) (Entry, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[key]
	return e, ok, nil
}

func (m *MemoryStore) Set(_ context.Context, e Entry) error {
	m.mu.Lock()
	m.entries[e.Key] = e
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, keys ...string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, k := range keys {
		if _, ok := m.entries[k]; ok {
			delete(m.entries, k)
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) Keys(_ context.Context, pattern string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.entries))
	for k := range m.entries {
		if matchGlob(pattern, k) {
			out = append(out, k)
		}
	}
	return out, nil
}

func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
