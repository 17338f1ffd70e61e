// Package cache is the request-fingerprinted review cache: TTL expiry,
// refresh-ahead on a bounded worker pool, single-flight loading and
// key/listing/pattern invalidation. Store failures never fail a read; the
// cache degrades to computing every request.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"guest_reviews/internal/adapters/observability"
	"guest_reviews/internal/domain"
)

const (
	MinTTL                  = 120 * time.Second
	MaxTTL                  = 300 * time.Second
	DefaultRefreshThreshold = 0.8
	defaultComputeTimeout   = 30 * time.Second
)

type Config struct {
	Prefix           string
	TTL              time.Duration
	RefreshThreshold float64
	RefreshWorkers   int
	RefreshQueue     int
	// ComputeTimeout bounds a single load; loads are detached from the
	// caller's context so one caller leaving never cancels the others.
	ComputeTimeout time.Duration
	// SweepInterval > 0 starts a janitor that drops hard-expired entries.
	SweepInterval time.Duration
}

// ClampTTL bounds d to [MinTTL, MaxTTL].
func ClampTTL(d time.Duration) time.Duration {
	switch {
	case d < MinTTL:
		return MinTTL
	case d > MaxTTL:
		return MaxTTL
	}
	return d
}

// Selector picks entries to invalidate. Exactly one field must be set.
type Selector struct {
	Key       string
	ListingID *int64
	Pattern   string
}

type Cache struct {
	cfg       Config
	store     Store
	metrics   *observability.Registry
	group     singleflight.Group
	refresher *Refresher
	now       func() time.Time
	stop      chan struct{}

	// epoch moves on every invalidation. A load that started under an older
	// epoch does not write its result back.
	epochMu sync.RWMutex
	epoch   uint64
}

func New(store Store, metrics *observability.Registry, cfg Config) *Cache {
	cfg.TTL = ClampTTL(cfg.TTL)
	if cfg.RefreshThreshold <= 0 || cfg.RefreshThreshold > 1 {
		cfg.RefreshThreshold = DefaultRefreshThreshold
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "reviews"
	}
	if cfg.ComputeTimeout <= 0 {
		cfg.ComputeTimeout = defaultComputeTimeout
	}
	if cfg.RefreshWorkers <= 0 {
		cfg.RefreshWorkers = 2
	}
	if cfg.RefreshQueue <= 0 {
		cfg.RefreshQueue = 64
	}
	c := &Cache{
		cfg:       cfg,
		store:     store,
		metrics:   metrics,
		refresher: NewRefresher(cfg.RefreshWorkers, cfg.RefreshQueue),
		now:       time.Now,
		stop:      make(chan struct{}),
	}
	if cfg.SweepInterval > 0 {
		go c.janitor(cfg.SweepInterval)
	}
	return c
}

func (c *Cache) TTL() time.Duration { return c.cfg.TTL }

func (c *Cache) Prefix() string { return c.cfg.Prefix }

// Key derives a key under the cache prefix, optionally namespaced further
// (e.g. "stats").
func (c *Cache) Key(namespace string, params map[string]string) string {
	prefix := c.cfg.Prefix
	if namespace != "" {
		prefix += ":" + namespace
	}
	return Key(prefix, params)
}

// GetOrFetch serves key from the store or computes it with fetch.
//
//	absent or age > TTL           -> MISS, computed inline (single-flight)
//	age < TTL*threshold           -> HIT
//	TTL*threshold <= age <= TTL   -> HIT, background refresh scheduled
//	store error                   -> BYPASS, computed inline, error counted
func (c *Cache) GetOrFetch(ctx context.Context, key string, fetch domain.FetchFunc) (domain.CacheResult, error) {
	e, ok, err := c.store.Get(ctx, key)
	if err != nil {
		c.metrics.CacheError()
		c.metrics.CacheMiss()
		log.Warn().Err(err).Str("key", key).Msg("cache read failed; bypassing")
		payload, ferr := c.load(ctx, key, fetch, false)
		if ferr != nil {
			return domain.CacheResult{}, ferr
		}
		return domain.CacheResult{Payload: payload, Status: domain.CacheBypass}, nil
	}

	now := c.now()
	if ok && !e.Expired(now) {
		c.metrics.CacheHit()
		res := domain.CacheResult{Payload: e.Payload, Status: domain.CacheHit, Age: e.Age(now)}
		if e.Stale(now) {
			res.RefreshScheduled = c.scheduleRefresh(key, fetch)
		}
		return res, nil
	}

	c.metrics.CacheMiss()
	payload, err := c.load(ctx, key, fetch, true)
	if err != nil {
		return domain.CacheResult{}, err
	}
	return domain.CacheResult{Payload: payload, Status: domain.CacheMiss}, nil
}

// load runs fetch at most once per key at a time. Waiters give up when their
// own ctx ends; the computation itself keeps going for the others.
func (c *Cache) load(ctx context.Context, key string, fetch domain.FetchFunc, write bool) ([]byte, error) {
	ch := c.group.DoChan(key, func() (any, error) {
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.ComputeTimeout)
		defer cancel()
		return c.compute(cctx, key, fetch, write)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.([]byte), nil
	}
}

func (c *Cache) compute(ctx context.Context, key string, fetch domain.FetchFunc, write bool) (payload []byte, err error) {
	started := c.currentEpoch()
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: cache fetch panicked: %v", domain.ErrInternal, p)
		}
	}()
	payload, err = fetch(ctx)
	if err != nil {
		return nil, err
	}
	if write {
		c.write(ctx, key, payload, started)
	}
	return payload, nil
}

func (c *Cache) currentEpoch() uint64 {
	c.epochMu.RLock()
	defer c.epochMu.RUnlock()
	return c.epoch
}

// bumpEpoch waits for in-progress writes, then retires every load started
// before it.
func (c *Cache) bumpEpoch() {
	c.epochMu.Lock()
	c.epoch++
	c.epochMu.Unlock()
}

// write stores payload unless an invalidation ran since the load started.
// The epoch check and the Set happen under the read lock, so an
// invalidation either sees the entry or makes the write skip.
func (c *Cache) write(ctx context.Context, key string, payload []byte, started uint64) {
	c.epochMu.RLock()
	defer c.epochMu.RUnlock()
	if c.epoch != started {
		log.Debug().Str("key", key).Msg("cache write skipped; invalidated during load")
		return
	}
	err := c.store.Set(ctx, Entry{
		Key:              key,
		Payload:          payload,
		CreatedAt:        c.now(),
		TTL:              c.cfg.TTL,
		RefreshThreshold: c.cfg.RefreshThreshold,
	})
	if err != nil {
		c.metrics.CacheError()
		log.Warn().Err(err).Str("key", key).Msg("cache write failed")
		return
	}
	c.metrics.CacheSet()
}

func (c *Cache) scheduleRefresh(key string, fetch domain.FetchFunc) bool {
	err := c.refresher.Schedule(key, func() {
		_, err, _ := c.group.Do(key, func() (any, error) {
			ctx, cancel := context.WithTimeout(context.Background(), c.cfg.ComputeTimeout)
			defer cancel()
			return c.compute(ctx, key, fetch, true)
		})
		if err != nil {
			// the stale entry stays servable until its hard TTL
			c.metrics.CacheRefreshFailure()
			log.Warn().Err(err).Str("key", key).Msg("background refresh failed")
			return
		}
		c.metrics.CacheRefresh()
	})
	switch {
	case err == nil:
		return true
	case errors.Is(err, ErrQueueFull):
		c.metrics.CacheRefreshDropped()
		log.Warn().Str("key", key).Msg("refresh queue full; refresh dropped")
	}
	return false
}

// Invalidate removes the entries chosen by sel and returns how many were removed.
func (c *Cache) Invalidate(ctx context.Context, sel Selector) (int, error) {
	set := 0
	if sel.Key != "" {
		set++
	}
	if sel.ListingID != nil {
		set++
	}
	if sel.Pattern != "" {
		set++
	}
	if set != 1 {
		return 0, domain.NewValidationError("selector", "exactly one of key, listingId or pattern is required")
	}
	switch {
	case sel.Key != "":
		return c.InvalidateKey(ctx, sel.Key)
	case sel.ListingID != nil:
		return c.InvalidateListing(ctx, *sel.ListingID)
	default:
		return c.InvalidatePattern(ctx, sel.Pattern)
	}
}

func (c *Cache) InvalidateKey(ctx context.Context, key string) (int, error) {
	c.bumpEpoch()
	return c.evict(ctx, key)
}

// InvalidateListing removes every entry whose key carries listingId=<id>.
func (c *Cache) InvalidateListing(ctx context.Context, listingID int64) (int, error) {
	c.bumpEpoch()
	keys, err := c.keys(ctx, c.cfg.Prefix+"*")
	if err != nil {
		return 0, err
	}
	var doomed []string
	for _, k := range keys {
		if keyHasListing(k, listingID) {
			doomed = append(doomed, k)
		}
	}
	return c.evict(ctx, doomed...)
}

// InvalidateUnscoped removes entries whose key has no listing filter, i.e.
// pages and stats computed over every listing.
func (c *Cache) InvalidateUnscoped(ctx context.Context) (int, error) {
	c.bumpEpoch()
	keys, err := c.keys(ctx, c.cfg.Prefix+"*")
	if err != nil {
		return 0, err
	}
	var doomed []string
	for _, k := range keys {
		if !keyHasAnyListing(k) {
			doomed = append(doomed, k)
		}
	}
	return c.evict(ctx, doomed...)
}

// InvalidatePattern removes every entry whose key matches a glob pattern.
// The pattern must start with the cache prefix.
func (c *Cache) InvalidatePattern(ctx context.Context, pattern string) (int, error) {
	if err := validatePattern(pattern); err != nil {
		return 0, err
	}
	if !strings.HasPrefix(pattern, c.cfg.Prefix+":") && !strings.HasPrefix(pattern, c.cfg.Prefix+"*") {
		return 0, domain.NewValidationError("pattern", fmt.Sprintf("must start with %q", c.cfg.Prefix))
	}
	c.bumpEpoch()
	keys, err := c.keys(ctx, pattern)
	if err != nil {
		return 0, err
	}
	return c.evict(ctx, keys...)
}

// Reset drops every entry under the prefix and zeroes the cache counters.
func (c *Cache) Reset(ctx context.Context) (int, error) {
	c.bumpEpoch()
	keys, err := c.keys(ctx, c.cfg.Prefix+"*")
	if err != nil {
		return 0, err
	}
	n, err := c.evict(ctx, keys...)
	c.metrics.ResetCache()
	return n, err
}

// Sweep drops hard-expired entries.
func (c *Cache) Sweep(ctx context.Context) (int, error) {
	keys, err := c.keys(ctx, c.cfg.Prefix+"*")
	if err != nil {
		return 0, err
	}
	now := c.now()
	var doomed []string
	for _, k := range keys {
		e, ok, err := c.store.Get(ctx, k)
		if err != nil {
			c.metrics.CacheError()
			return 0, fmt.Errorf("%w: %v", domain.ErrCache, err)
		}
		if ok && e.Expired(now) {
			doomed = append(doomed, k)
		}
	}
	return c.delete(ctx, doomed...)
}

func (c *Cache) Stats() observability.CacheSnapshot { return c.metrics.Cache() }

// WaitRefreshes blocks until scheduled background refreshes have finished.
func (c *Cache) WaitRefreshes() { c.refresher.Wait() }

// Close stops the janitor and drains the refresh queue.
func (c *Cache) Close() {
	select {
	case <-c.stop:
	default:
		close(c.stop)
	}
	c.refresher.Close()
}

func (c *Cache) janitor(every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-t.C:
			if n, err := c.Sweep(context.Background()); err != nil {
				log.Warn().Err(err).Msg("cache sweep failed")
			} else if n > 0 {
				log.Debug().Int("removed", n).Msg("cache sweep")
			}
		}
	}
}

// keys lists store keys matching pattern. Store-side matching is only a
// prefilter: Redis MATCH lets * cross '/', so results are re-checked with
// matchGlob to give every store the same semantics.
func (c *Cache) keys(ctx context.Context, pattern string) ([]string, error) {
	keys, err := c.store.Keys(ctx, pattern)
	if err != nil {
		c.metrics.CacheError()
		return nil, fmt.Errorf("%w: list keys: %v", domain.ErrCache, err)
	}
	out := keys[:0]
	for _, k := range keys {
		if matchGlob(pattern, k) {
			out = append(out, k)
		}
	}
	return out, nil
}

// evict deletes keys and drops any single-flight call registered for them,
// so later readers start a fresh load instead of joining a stale one.
func (c *Cache) evict(ctx context.Context, keys ...string) (int, error) {
	for _, k := range keys {
		c.group.Forget(k)
	}
	return c.delete(ctx, keys...)
}

func (c *Cache) delete(ctx context.Context, keys ...string) (int, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	n, err := c.store.Delete(ctx, keys...)
	if err != nil {
		c.metrics.CacheError()
		return n, fmt.Errorf("%w: delete: %v", domain.ErrCache, err)
	}
	c.metrics.CacheDelete(n)
	return n, nil
}
