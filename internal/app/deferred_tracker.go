package app

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	deferredActive = "active"
	deferredOver   = "over"
)

// DeferredKey is the flag key of one replay attempt.
func DeferredKey(accessCode, userID string, attempt int) string {
	return fmt.Sprintf("deferred_session:%s:%s:%d", accessCode, userID, attempt)
}

// DeferredTracker records whether a replay attempt is in progress.
type DeferredTracker struct {
	store FlagStore
	ttl   time.Duration
	retry RetryPolicy
}

func NewDeferredTracker(store FlagStore, ttl time.Duration, retry RetryPolicy) *DeferredTracker {
	return &DeferredTracker{store: store, ttl: ttl, retry: retry.normalized()}
}

// HasOngoingSession is true only for a flag that reads exactly "active".
// Store errors read as false.
func (t *DeferredTracker) HasOngoingSession(ctx context.Context, accessCode, userID string, attempt int) bool {
	key := DeferredKey(accessCode, userID, attempt)
	value, err := retryValue(ctx, t.retry, func(ctx context.Context) (string, error) {
		v, _, err := t.store.GetFlag(ctx, key)
		return v, err
	})
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("deferred session lookup failed")
		return false
	}
	return value == deferredActive
}

func (t *DeferredTracker) MarkActive(ctx context.Context, accessCode, userID string, attempt int) error {
	return t.set(ctx, DeferredKey(accessCode, userID, attempt), deferredActive)
}

func (t *DeferredTracker) MarkOver(ctx context.Context, accessCode, userID string, attempt int) error {
	return t.set(ctx, DeferredKey(accessCode, userID, attempt), deferredOver)
}

func (t *DeferredTracker) set(ctx context.Context, key, value string) error {
	return t.retry.do(ctx, func(ctx context.Context) error {
		return t.store.SetFlag(ctx, key, value, t.ttl)
	})
}
