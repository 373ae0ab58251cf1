package store

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisSet is an OrderedSet backed by a Redis sorted set, with every member
// inserted at score 0 so Redis orders members lexicographically.
type RedisSet struct {
	client *redis.Client
}

// NewRedisSet builds a RedisSet client from a redis:// URL.
func NewRedisSet(url string) (*RedisSet, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("store: parse redis url: %w", err)
	}
	return &RedisSet{client: redis.NewClient(opt)}, nil
}

// Append implements OrderedSet.
func (s *RedisSet) Append(ctx context.Context, key, member string) error {
	return s.client.ZAdd(ctx, key, redis.Z{Score: 0, Member: member}).Err()
}

// RangeByLex implements OrderedSet using ZRANGEBYLEX with the caller's
// already-bracketed start/end ("[..." / "(..." / "+" / "-").
func (s *RedisSet) RangeByLex(ctx context.Context, key, start, end string) ([]string, error) {
	if end == "" {
		end = "+"
	}
	return s.client.ZRangeByLex(ctx, key, &redis.ZRangeBy{Min: start, Max: end}).Result()
}

// Range implements OrderedSet, returning every member of key.
func (s *RedisSet) Range(ctx context.Context, key string) ([]string, error) {
	return s.client.ZRange(ctx, key, 0, -1).Result()
}

// Close releases the underlying Redis connection pool.
func (s *RedisSet) Close() error {
	return s.client.Close()
}
