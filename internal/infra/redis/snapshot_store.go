package redis

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"mathquest-engine/internal/domain"
)

// SnapshotStore keeps one hash per access code, field = user id, value = JSON
// entry. A side counter hands out join order. Ranking happens on read.
type SnapshotStore struct {
	client *redis.Client
}

func NewSnapshotStore(client *redis.Client) *SnapshotStore {
	return &SnapshotStore{client: client}
}

func (s *SnapshotStore) UpsertEntry(ctx context.Context, accessCode string, entry domain.LeaderboardEntry, ttl time.Duration) (bool, error) {
	key, seqKey := snapshotKey(accessCode), snapshotSeqKey(accessCode)
	created := false
	err := watch(ctx, s.client, func(tx *redis.Tx) error {
		cur, found, err := readEntry(ctx, tx, key, entry.UserID)
		if err != nil {
			return err
		}
		next := entry
		next.Rank = 0
		if found {
			next = cur
			next.Username = entry.Username
			next.AvatarEmoji = entry.AvatarEmoji
			if entry.ParticipationType != "" {
				next.ParticipationType = entry.ParticipationType
			}
		} else {
			// Gaps from lost races are harmless, only the order matters.
			seq, err := tx.Incr(ctx, seqKey).Result()
			if err != nil {
				return err
			}
			next.JoinOrder = seq
		}
		payload, err := json.Marshal(next)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, entry.UserID, payload)
			if ttl > 0 {
				pipe.PExpire(ctx, key, ttl)
				pipe.PExpire(ctx, seqKey, ttl)
			}
			return nil
		})
		created = !found
		return err
	}, key)
	if err != nil {
		return false, transient(err)
	}
	return created, nil
}

func (s *SnapshotStore) SetScore(ctx context.Context, accessCode, userID string, score float64) (bool, error) {
	key := snapshotKey(accessCode)
	found := false
	err := watch(ctx, s.client, func(tx *redis.Tx) error {
		cur, ok, err := readEntry(ctx, tx, key, userID)
		if err != nil || !ok {
			found = false
			return err
		}
		cur.Score = score
		payload, err := json.Marshal(cur)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, userID, payload)
			return nil
		})
		found = true
		return err
	}, key)
	if err != nil {
		return false, transient(err)
	}
	return found, nil
}

func (s *SnapshotStore) RemoveEntry(ctx context.Context, accessCode, userID string) error {
	return transient(s.client.HDel(ctx, snapshotKey(accessCode), userID).Err())
}

func (s *SnapshotStore) Entries(ctx context.Context, accessCode string) ([]domain.LeaderboardEntry, error) {
	fields, err := s.client.HGetAll(ctx, snapshotKey(accessCode)).Result()
	if err != nil {
		return nil, transient(err)
	}
	entries := make([]domain.LeaderboardEntry, 0, len(fields))
	for userID, raw := range fields {
		var e domain.LeaderboardEntry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			log.Warn().Err(err).Str("access_code", accessCode).Str("user_id", userID).Msg("skipping malformed leaderboard entry")
			continue
		}
		entries = append(entries, e)
	}
	slices.SortFunc(entries, func(a, b domain.LeaderboardEntry) int {
		switch {
		case domain.RankBefore(a, b):
			return -1
		case domain.RankBefore(b, a):
			return 1
		}
		return 0
	})
	return entries, nil
}

func (s *SnapshotStore) ClearSnapshot(ctx context.Context, accessCode string) error {
	return transient(s.client.Del(ctx, snapshotKey(accessCode), snapshotSeqKey(accessCode)).Err())
}

// readEntry loads one entry under WATCH. An unreadable entry is treated as
// absent and gets overwritten.
func readEntry(ctx context.Context, tx *redis.Tx, key, userID string) (domain.LeaderboardEntry, bool, error) {
	raw, err := tx.HGet(ctx, key, userID).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.LeaderboardEntry{}, false, nil
	}
	if err != nil {
		return domain.LeaderboardEntry{}, false, err
	}
	var e domain.LeaderboardEntry
	if err := json.Unmarshal(raw, &e); err != nil {
		return domain.LeaderboardEntry{}, false, nil
	}
	return e, true, nil
}
