package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"mathquest-engine/internal/domain"
)

// TimerStore keeps one JSON timer record per scope key. Writes are guarded by
// WATCH on the key so only the holder of the current version can replace it.
type TimerStore struct {
	client *redis.Client
}

func NewTimerStore(client *redis.Client) *TimerStore {
	return &TimerStore{client: client}
}

func (s *TimerStore) LoadTimer(ctx context.Context, key string) (domain.TimerRecord, bool, error) {
	raw, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.TimerRecord{}, false, nil
	}
	if err != nil {
		return domain.TimerRecord{}, false, transient(err)
	}
	var rec domain.TimerRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return domain.TimerRecord{}, true, fmt.Errorf("%w: %s: %v", domain.ErrMalformedRecord, key, err)
	}
	return rec, true, nil
}

func (s *TimerStore) SwapTimer(ctx context.Context, key string, expected int64, next domain.TimerRecord, ttl time.Duration) (bool, error) {
	payload, err := json.Marshal(next)
	if err != nil {
		return false, err
	}

	swapped := false
	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		version, err := storedVersion(ctx, tx, key)
		if err != nil {
			return err
		}
		if version != expected {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, ttl)
			return nil
		})
		if err == nil {
			swapped = true
		}
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		// Someone else wrote between WATCH and EXEC: the caller reloads.
		return false, nil
	}
	if err != nil {
		return false, transient(err)
	}
	return swapped, nil
}

func (s *TimerStore) DeleteTimer(ctx context.Context, key string) error {
	return transient(s.client.Del(ctx, key).Err())
}

// storedVersion reads the version under WATCH. Absent and unreadable records
// are version 0 so a fresh write can replace them.
func storedVersion(ctx context.Context, tx *redis.Tx, key string) (int64, error) {
	raw, err := tx.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var rec domain.TimerRecord
	if json.Unmarshal(raw, &rec) != nil || rec.Validate() != nil {
		return 0, nil
	}
	return rec.Version, nil
}
