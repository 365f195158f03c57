package redis

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// FlagStore keeps plain string flags (deferred session markers) in Redis.
type FlagStore struct {
	client *redis.Client
}

func NewFlagStore(client *redis.Client) *FlagStore {
	return &FlagStore{client: client}
}

func (s *FlagStore) GetFlag(ctx context.Context, key string) (string, bool, error) {
	v, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, transient(err)
	}
	return v, true, nil
}

func (s *FlagStore) SetFlag(ctx context.Context, key, value string, ttl time.Duration) error {
	return transient(s.client.Set(ctx, key, value, ttl).Err())
}

func (s *FlagStore) DeleteFlag(ctx context.Context, key string) error {
	return transient(s.client.Del(ctx, key).Err())
}
