package kv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is the go-redis backed Store used in production and, via
// miniredis, in tests.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to the given address. Ping failures are surfaced at
// startup rather than on first cache miss.
func NewRedisStore(ctx context.Context, addr, password string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	pingCtx, cancel := context.WithTimeout(ctx, OpTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return &RedisStore{client: client}, nil
}

// NewRedisStoreFromClient wraps an existing client (tests use miniredis here).
func NewRedisStoreFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Close releases the underlying connection pool.
func (s *RedisStore) Close() error { return s.client.Close() }

func (s *RedisStore) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, OpTimeout)
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	ctx, cancel := s.bounded(ctx)
	defer cancel()
	val, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	return val, err
}

// SetEx implements Store.
func (s *RedisStore) SetEx(ctx context.Context, key, value string, ttl time.Duration) error {
	ctx, cancel := s.bounded(ctx)
	defer cancel()
	return s.client.Set(ctx, key, value, ttl).Err()
}

// Delete implements Store.
func (s *RedisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	ctx, cancel := s.bounded(ctx)
	defer cancel()
	return s.client.Del(ctx, keys...).Err()
}

// ScanPrefix implements Store with cursor-based SCAN so large keyspaces never
// block the store.
func (s *RedisStore) ScanPrefix(ctx context.Context, prefix string) ([]string, error) {
	ctx, cancel := s.bounded(ctx)
	defer cancel()
	var (
		keys   []string
		cursor uint64
	)
	for {
		batch, next, err := s.client.Scan(ctx, cursor, prefix+"*", 100).Result()
		if err != nil {
			return nil, err
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			return keys, nil
		}
	}
}

// IncrWithTTL implements Store. The TTL is applied only when the increment
// created the key, so a day-bucketed quota counter expires on schedule.
func (s *RedisStore) IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	ctx, cancel := s.bounded(ctx)
	defer cancel()
	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

// ZAdd implements Store.
func (s *RedisStore) ZAdd(ctx context.Context, key string, members ...Member) error {
	if len(members) == 0 {
		return nil
	}
	ctx, cancel := s.bounded(ctx)
	defer cancel()
	zs := make([]redis.Z, len(members))
	for i, m := range members {
		zs[i] = redis.Z{Score: m.Score, Member: m.Member}
	}
	return s.client.ZAdd(ctx, key, zs...).Err()
}

// ZCard implements Store.
func (s *RedisStore) ZCard(ctx context.Context, key string) (int64, error) {
	ctx, cancel := s.bounded(ctx)
	defer cancel()
	return s.client.ZCard(ctx, key).Result()
}

// ZPopOldest implements Store: a ZRANGE by rank plus ZREMRANGEBYRANK in one
// transaction pipeline.
func (s *RedisStore) ZPopOldest(ctx context.Context, key string, n int64) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}
	ctx, cancel := s.bounded(ctx)
	defer cancel()
	pipe := s.client.TxPipeline()
	rng := pipe.ZRange(ctx, key, 0, n-1)
	pipe.ZRemRangeByRank(ctx, key, 0, n-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	return rng.Val(), nil
}

// ZRem implements Store.
func (s *RedisStore) ZRem(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	ctx, cancel := s.bounded(ctx)
	defer cancel()
	vals := make([]any, len(members))
	for i, m := range members {
		vals[i] = m
	}
	return s.client.ZRem(ctx, key, vals...).Err()
}
