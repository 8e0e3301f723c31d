package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisIdempotencyStore shares idempotency state between instances.
type RedisIdempotencyStore struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisIdempotencyStore uses client; keys are namespaced by keyPrefix.
func NewRedisIdempotencyStore(client *redis.Client, keyPrefix string) *RedisIdempotencyStore {
	if keyPrefix == "" {
		keyPrefix = "cart:idempotency:"
	}
	return &RedisIdempotencyStore{client: client, keyPrefix: keyPrefix}
}

// Claim uses SET NX so exactly one caller wins a key.
func (s *RedisIdempotencyStore) Claim(ctx context.Context, key string, lease time.Duration) (bool, []byte, error) {
	k := s.keyPrefix + key
	for range 2 {
		ok, err := s.client.SetNX(ctx, k, pendingMarker, lease).Result()
		if err != nil {
			return false, nil, fmt.Errorf("claim %s: %w", key, err)
		}
		if ok {
			return true, nil, nil
		}
		val, err := s.client.Get(ctx, k).Bytes()
		if errors.Is(err, redis.Nil) {
			// Expired between SETNX and GET.
			continue
		}
		if err != nil {
			return false, nil, fmt.Errorf("read %s: %w", key, err)
		}
		if string(val) == pendingMarker {
			return false, nil, nil
		}
		return false, val, nil
	}
	return false, nil, nil
}

func (s *RedisIdempotencyStore) Complete(ctx context.Context, key string, reply []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, s.keyPrefix+key, reply, ttl).Err(); err != nil {
		return fmt.Errorf("store reply %s: %w", key, err)
	}
	return nil
}

func (s *RedisIdempotencyStore) Release(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("release %s: %w", key, err)
	}
	return nil
}

var _ IdempotencyStore = (*RedisIdempotencyStore)(nil)
