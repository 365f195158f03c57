package app

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"mathquest-engine/internal/domain"
)

// LeaderboardService maintains the ranked snapshot broadcast to viewers.
type LeaderboardService struct {
	store SnapshotStore
	clock clockwork.Clock
	ttl   time.Duration
	retry RetryPolicy
}

func NewLeaderboardService(store SnapshotStore, clock clockwork.Clock, ttl time.Duration, retry RetryPolicy) *LeaderboardService {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &LeaderboardService{store: store, clock: clock, ttl: ttl, retry: retry.normalized()}
}

// AddUser inserts an entry with initialScore, or refreshes the name and avatar of
// an existing one. Re-adding never resets a score or the join order.
func (s *LeaderboardService) AddUser(ctx context.Context, accessCode string, entry domain.LeaderboardEntry) (domain.Leaderboard, error) {
	if accessCode == "" || entry.UserID == "" {
		return domain.Leaderboard{}, domain.Validation("accessCode and userId are required")
	}
	if err := s.retry.do(ctx, func(ctx context.Context) error {
		_, err := s.store.UpsertEntry(ctx, accessCode, entry, s.ttl)
		return err
	}); err != nil {
		return domain.Leaderboard{}, err
	}
	return s.Snapshot(ctx, accessCode)
}

// UpdateScore sets the score of a known entry.
func (s *LeaderboardService) UpdateScore(ctx context.Context, accessCode, userID string, score float64) (domain.Leaderboard, error) {
	found, err := retryValue(ctx, s.retry, func(ctx context.Context) (bool, error) {
		return s.store.SetScore(ctx, accessCode, userID, score)
	})
	if err != nil {
		return domain.Leaderboard{}, err
	}
	if !found {
		return domain.Leaderboard{}, domain.NotFound("Participant not found in leaderboard")
	}
	return s.Snapshot(ctx, accessCode)
}

func (s *LeaderboardService) RemoveUser(ctx context.Context, accessCode, userID string) (domain.Leaderboard, error) {
	if err := s.retry.do(ctx, func(ctx context.Context) error {
		return s.store.RemoveEntry(ctx, accessCode, userID)
	}); err != nil {
		return domain.Leaderboard{}, err
	}
	return s.Snapshot(ctx, accessCode)
}

// Snapshot returns the entries ranked by score, ties in join order.
func (s *LeaderboardService) Snapshot(ctx context.Context, accessCode string) (domain.Leaderboard, error) {
	entries, err := retryValue(ctx, s.retry, func(ctx context.Context) ([]domain.LeaderboardEntry, error) {
		return s.store.Entries(ctx, accessCode)
	})
	if err != nil {
		return domain.Leaderboard{}, err
	}
	for i := range entries {
		entries[i].Rank = i + 1
	}
	if entries == nil {
		entries = []domain.LeaderboardEntry{}
	}
	return domain.Leaderboard{AccessCode: accessCode, Entries: entries, UpdatedAt: s.clock.Now()}, nil
}

func (s *LeaderboardService) Clear(ctx context.Context, accessCode string) error {
	return s.retry.do(ctx, func(ctx context.Context) error {
		return s.store.ClearSnapshot(ctx, accessCode)
	})
}
