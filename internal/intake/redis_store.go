package intake

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lingosum/intake/internal/model"
)

const payloadKeyPrefix = "intake:payload:"

// RedisStore is a Store shared between processes. Entries expire after ttl
// so payloads staged by a surface that never comes back do not linger.
type RedisStore struct {
	redis *redis.Client
	ttl   time.Duration
}

func NewRedisStore(redisClient *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{redis: redisClient, ttl: ttl}
}

func (s *RedisStore) Put(ctx context.Context, handle model.Handle, payload []byte) error {
	return s.redis.Set(ctx, payloadKey(handle), payload, s.ttl).Err()
}

func (s *RedisStore) Get(ctx context.Context, handle model.Handle) ([]byte, error) {
	data, err := s.redis.Get(ctx, payloadKey(handle)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read payload: %w", err)
	}
	return data, nil
}

func (s *RedisStore) Delete(ctx context.Context, handle model.Handle) error {
	return s.redis.Del(ctx, payloadKey(handle)).Err()
}

func payloadKey(handle model.Handle) string {
	return payloadKeyPrefix + string(handle)
}
