package redis

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
	"mathquest-engine/internal/domain"
)

const (
	joinOrderPrefix = "mathquest:game:join_order:"
	snapshotPrefix  = "mathquest:game:leaderboard_snapshot:"
	practicePrefix  = "practice_session:"
	questionPrefix  = "mathquest:question:"
)

func joinOrderKey(accessCode string) string { return joinOrderPrefix + accessCode }

func snapshotKey(accessCode string) string { return snapshotPrefix + accessCode }

func snapshotSeqKey(accessCode string) string { return snapshotPrefix + accessCode + ":seq" }

func practiceKey(sessionID string) string { return practicePrefix + sessionID }

func questionKey(uid string) string { return questionPrefix + uid }

// maxWatchRetries bounds optimistic transactions that keep losing a WATCH race.
const maxWatchRetries = 8

var errWatchExhausted = errors.New("optimistic transaction kept conflicting")

// transient marks a client error as retryable. Callers handle redis.Nil first.
func transient(err error) error {
	if err == nil {
		return nil
	}
	return domain.Transient(err)
}

// watch runs fn in a WATCH/MULTI transaction over keys and reruns it when a
// watched key changed underneath.
func watch(ctx context.Context, client *redis.Client, fn func(*redis.Tx) error, keys ...string) error {
	for i := 0; i < maxWatchRetries; i++ {
		err := client.Watch(ctx, fn, keys...)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return errWatchExhausted
}
