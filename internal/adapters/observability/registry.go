package observability

import (
	"sync"
	"sync/atomic"
	"time"
)

// Registry holds the process-wide counters for the channel client and the
// cache layer. Every component receives the same handle; counters only move
// forward until Reset.
type Registry struct {
	cacheName string

	requests      atomic.Int64
	successes     atomic.Int64
	failures      atomic.Int64
	mockFallbacks atomic.Int64
	latencyNanos  atomic.Int64
	latencyCount  atomic.Int64
	lastRequestAt atomic.Int64 // unix nanos, 0 = never

	hits            atomic.Int64
	misses          atomic.Int64
	sets            atomic.Int64
	deletes         atomic.Int64
	errors          atomic.Int64
	refreshes       atomic.Int64
	refreshFailures atomic.Int64
	refreshDropped  atomic.Int64

	mu            sync.RWMutex
	clientResetAt time.Time
	cacheResetAt  time.Time
	now           func() time.Time
}

func NewRegistry(cacheName string) *Registry {
	r := &Registry{cacheName: cacheName, now: time.Now}
	r.clientResetAt = r.now()
	r.cacheResetAt = r.clientResetAt
	return r
}

type ClientSnapshot struct {
	Requests      int64      `json:"requests"`
	Successes     int64      `json:"successes"`
	Failures      int64      `json:"failures"`
	MockFallbacks int64      `json:"mockFallbacks"`
	AvgLatencyMs  float64    `json:"avgLatencyMs"`
	LastRequestAt *time.Time `json:"lastRequestAt,omitempty"`
	LastResetAt   time.Time  `json:"lastResetAt"`
}

type CacheSnapshot struct {
	Hits            int64     `json:"hits"`
	Misses          int64     `json:"misses"`
	Sets            int64     `json:"sets"`
	Deletes         int64     `json:"deletes"`
	Errors          int64     `json:"errors"`
	Refreshes       int64     `json:"refreshes"`
	RefreshFailures int64     `json:"refreshFailures"`
	RefreshDropped  int64     `json:"refreshDropped"`
	HitRate         float64   `json:"hitRate"`
	ErrorRate       float64   `json:"errorRate"`
	LastResetAt     time.Time `json:"lastResetAt"`
}

type Snapshot struct {
	Client ClientSnapshot `json:"client"`
	Cache  CacheSnapshot  `json:"cache"`
}

// ---- channel client ----

func (r *Registry) ClientRequest() {
	r.requests.Add(1)
	r.lastRequestAt.Store(r.now().UnixNano())
}

func (r *Registry) ClientSuccess(d time.Duration) {
	r.successes.Add(1)
	r.observeLatency(d)
}

func (r *Registry) ClientFailure(d time.Duration) {
	r.failures.Add(1)
	r.observeLatency(d)
}

func (r *Registry) ClientMockFallback() {
	r.mockFallbacks.Add(1)
	MockFallbacks.Inc()
}

func (r *Registry) observeLatency(d time.Duration) {
	r.latencyNanos.Add(int64(d))
	r.latencyCount.Add(1)
}

// ---- cache ----

func (r *Registry) CacheHit() { r.hits.Add(1); ObserveCache(r.cacheName, "hit") }
func (r *Registry) CacheMiss() { r.misses.Add(1); ObserveCache(r.cacheName, "miss") }
func (r *Registry) CacheSet() { r.sets.Add(1); ObserveCache(r.cacheName, "set") }
func (r *Registry) CacheError() { r.errors.Add(1); ObserveCache(r.cacheName, "error") }
func (r *Registry) CacheRefresh() { r.refreshes.Add(1); ObserveCache(r.cacheName, "refresh") }

func (r *Registry) CacheDelete(n int) {
	if n <= 0 {
		return
	}
	r.deletes.Add(int64(n))
	CacheEvents.WithLabelValues(r.cacheName, "del").Add(float64(n))
}

func (r *Registry) CacheRefreshFailure() {
	r.refreshFailures.Add(1)
	ObserveCache(r.cacheName, "refresh_error")
}

func (r *Registry) CacheRefreshDropped() {
	r.refreshDropped.Add(1)
	ObserveCache(r.cacheName, "refresh_drop")
}

// ---- read side ----

func (r *Registry) Client() ClientSnapshot {
	s := ClientSnapshot{
		Requests:      r.requests.Load(),
		Successes:     r.successes.Load(),
		Failures:      r.failures.Load(),
		MockFallbacks: r.mockFallbacks.Load(),
		LastResetAt:   r.resetAt(&r.clientResetAt),
	}
	if n := r.latencyCount.Load(); n > 0 {
		s.AvgLatencyMs = float64(r.latencyNanos.Load()) / float64(n) / float64(time.Millisecond)
	}
	if ts := r.lastRequestAt.Load(); ts != 0 {
		t := time.Unix(0, ts).UTC()
		s.LastRequestAt = &t
	}
	return s
}

func (r *Registry) Cache() CacheSnapshot {
	s := CacheSnapshot{
		Hits:            r.hits.Load(),
		Misses:          r.misses.Load(),
		Sets:            r.sets.Load(),
		Deletes:         r.deletes.Load(),
		Errors:          r.errors.Load(),
		Refreshes:       r.refreshes.Load(),
		RefreshFailures: r.refreshFailures.Load(),
		RefreshDropped:  r.refreshDropped.Load(),
		LastResetAt:     r.resetAt(&r.cacheResetAt),
	}
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
		s.ErrorRate = float64(s.Errors) / float64(total)
	}
	return s
}

func (r *Registry) Snapshot() Snapshot {
	return Snapshot{Client: r.Client(), Cache: r.Cache()}
}

// ResetCache zeroes the cache counters only.
func (r *Registry) ResetCache() {
	for _, c := range []*atomic.Int64{&r.hits, &r.misses, &r.sets, &r.deletes, &r.errors,
		&r.refreshes, &r.refreshFailures, &r.refreshDropped} {
		c.Store(0)
	}
	r.stampReset(&r.cacheResetAt)
}

// Reset zeroes every counter. Operator action only.
func (r *Registry) Reset() {
	for _, c := range []*atomic.Int64{&r.requests, &r.successes, &r.failures, &r.mockFallbacks,
		&r.latencyNanos, &r.latencyCount, &r.lastRequestAt} {
		c.Store(0)
	}
	r.stampReset(&r.clientResetAt)
	r.ResetCache()
}

func (r *Registry) stampReset(at *time.Time) {
	r.mu.Lock()
	*at = r.now()
	r.mu.Unlock()
}

func (r *Registry) resetAt(at *time.Time) time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return *at
}
