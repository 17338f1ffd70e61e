package redisad

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"guest_reviews/internal/cache"
)

const scanBatch = 200

// Store keeps cache entries in Redis. Each entry expires in Redis at its hard
// TTL, so expired keys never need sweeping.
type Store struct{ c *redis.Client }

func New(addr, pass string, db int) *Store {
	return NewFromClient(redis.NewClient(&redis.Options{Addr: addr, Password: pass, DB: db}))
}

func NewFromClient(c *redis.Client) *Store { return &Store{c: c} }

func (s *Store) Get(ctx context.Context, key string) (cache.Entry, bool, error) {
	v, err := s.c.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return cache.Entry{}, false, nil
	}
	if err != nil {
		return cache.Entry{}, false, err
	}
	var e cache.Entry
	if err := json.Unmarshal(v, &e); err != nil {
		// unreadable entries are treated as absent and overwritten on the next load
		return cache.Entry{}, false, nil
	}
	return e, true, nil
}

func (s *Store) Set(ctx context.Context, e cache.Entry) error {
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	ttl := e.TTL
	if ttl <= 0 {
		ttl = time.Minute
	}
	return s.c.Set(ctx, e.Key, b, ttl).Err()
}

func (s *Store) Delete(ctx context.Context, keys ...string) (int, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	n, err := s.c.Del(ctx, keys...).Result()
	return int(n), err
}

// Keys walks the keyspace with SCAN; Redis MATCH uses the same glob syntax
// as the in-memory store.
func (s *Store) Keys(ctx context.Context, pattern string) ([]string, error) {
	var (
		out    []string
		cursor uint64
	)
	for {
		keys, next, err := s.c.Scan(ctx, cursor, pattern, scanBatch).Result()
		if err != nil {
			return nil, err
		}
		out = append(out, keys...)
		if next == 0 {
			return out, nil
		}
		cursor = next
	}
}

func (s *Store) Ping(ctx context.Context) error { return s.c.Ping(ctx).Err() }

func (s *Store) Close() error { return s.c.Close() }
