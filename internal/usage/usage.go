// Package usage counts expensive-tier oracle calls per UTC day so the
// interactive path can enforce a daily cap.
package usage

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
)

// DayLayout is the key format of a usage day.
const DayLayout = "2006-01-02"

// Day returns the usage day for t.
func Day(t time.Time) string {
	return t.UTC().Format(DayLayout)
}

// Counter is a per-day call counter.
type Counter interface {
	Count(ctx context.Context, day string) (int64, error)
	Incr(ctx context.Context, day string) (int64, error)
}

// Exhausted reports whether the day's count has reached limit. A limit of
// zero or less disables the cap.
func Exhausted(ctx context.Context, c Counter, day string, limit int64) (bool, error) {
	if limit <= 0 {
		return false, nil
	}
	n, err := c.Count(ctx, day)
	if err != nil {
		return false, err
	}
	return n >= limit, nil
}

// StoreBackend is the subset of the store used by StoreCounter.
type StoreBackend interface {
	IncrAIUsage(ctx context.Context, day string) (int64, error)
	GetAIUsage(ctx context.Context, day string) (int64, error)
}

// StoreCounter keeps counts in the ai_usage table.
type StoreCounter struct {
	backend StoreBackend
}

// NewStoreCounter wraps a store.
func NewStoreCounter(b StoreBackend) *StoreCounter {
	return &StoreCounter{backend: b}
}

func (c *StoreCounter) Count(ctx context.Context, day string) (int64, error) {
	n, err := c.backend.GetAIUsage(ctx, day)
	return n, eris.Wrapf(err, "usage: count %s", day)
}

func (c *StoreCounter) Incr(ctx context.Context, day string) (int64, error) {
	n, err := c.backend.IncrAIUsage(ctx, day)
	return n, eris.Wrapf(err, "usage: incr %s", day)
}

// RedisCounter keeps counts in Redis under prefix+day. Keys expire after
// ttl so old days clean themselves up.
type RedisCounter struct {
	rdb    redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisCounter creates a RedisCounter. An empty prefix uses
// "portal:ai_usage:"; ttl <= 0 keeps keys for 48 hours.
func NewRedisCounter(rdb redis.UniversalClient, prefix string, ttl time.Duration) *RedisCounter {
	if prefix == "" {
		prefix = "portal:ai_usage:"
	}
	if ttl <= 0 {
		ttl = 48 * time.Hour
	}
	return &RedisCounter{rdb: rdb, prefix: prefix, ttl: ttl}
}

// NewRedisCounterFromURL parses a redis:// URL and connects.
func NewRedisCounterFromURL(ctx context.Context, rawURL string) (*RedisCounter, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, eris.Wrap(err, "usage: parse redis url")
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close() //nolint:errcheck,gosec
		return nil, eris.Wrap(err, "usage: ping redis")
	}
	return NewRedisCounter(rdb, "", 0), nil
}

func (c *RedisCounter) key(day string) string {
	return c.prefix + day
}

func (c *RedisCounter) Count(ctx context.Context, day string) (int64, error) {
	n, err := c.rdb.Get(ctx, c.key(day)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, eris.Wrapf(err, "usage: redis get %s", day)
}

// Incr increments and refreshes the expiry in one pipeline.
func (c *RedisCounter) Incr(ctx context.Context, day string) (int64, error) {
	pipe := c.rdb.TxPipeline()
	incr := pipe.Incr(ctx, c.key(day))
	pipe.Expire(ctx, c.key(day), c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, eris.Wrapf(err, "usage: redis incr %s", day)
	}
	return incr.Val(), nil
}

// Close releases the Redis client.
func (c *RedisCounter) Close() error {
	return c.rdb.Close()
}
