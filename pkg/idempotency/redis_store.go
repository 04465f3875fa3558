package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps idempotency records in Redis. SET NX makes the
// insert-if-absent atomic across processes.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedisStore creates a Redis-backed idempotency store. A zero ttl
// means records never expire, which is rarely what you want in Redis.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl, prefix: "idem:"}
}

func (s *RedisStore) redisKey(key Key) string {
	return s.prefix + key.String()
}

func (s *RedisStore) Get(ctx context.Context, key Key) ([]byte, bool, error) {
	if err := key.Validate(); err != nil {
		return nil, false, err
	}
	val, err := s.client.Get(ctx, s.redisKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("idempotency get: %w", err)
	}
	return val, true, nil
}

func (s *RedisStore) Put(ctx context.Context, key Key, value []byte) ([]byte, bool, error) {
	if err := key.Validate(); err != nil {
		return nil, false, err
	}
	won, err := s.client.SetNX(ctx, s.redisKey(key), value, s.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("idempotency put: %w", err)
	}
	if won {
		return value, true, nil
	}
	stored, err := s.client.Get(ctx, s.redisKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		// Winner's record expired between SETNX and GET; claim it now.
		return s.Put(ctx, key, value)
	}
	if err != nil {
		return nil, false, fmt.Errorf("idempotency put: read winner: %w", err)
	}
	return stored, false, nil
}

func (s *RedisStore) Complete(ctx context.Context, key Key, value []byte) error {
	if err := key.Validate(); err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.redisKey(key), value, s.ttl).Err(); err != nil {
		return fmt.Errorf("idempotency complete: %w", err)
	}
	return nil
}

func (s *RedisStore) Release(ctx context.Context, key Key) error {
	if err := key.Validate(); err != nil {
		return err
	}
	if err := s.client.Del(ctx, s.redisKey(key)).Err(); err != nil {
		return fmt.Errorf("idempotency release: %w", err)
	}
	return nil
}
