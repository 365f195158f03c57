package app

import (
	"context"
	"math"
	"time"

	"github.com/rs/zerolog/log"
	"mathquest-engine/internal/domain"
)

// BonusConfig shapes the join-order bonus curve.
type BonusConfig struct {
	Base      float64
	Decrement float64
	Min       float64
	Capacity  int
	TTL       time.Duration
}

func DefaultBonusConfig() BonusConfig {
	return BonusConfig{Base: 0.01, Decrement: 0.001, Min: 0.001, Capacity: 20, TTL: time.Hour}
}

// At returns the bonus for a 0-indexed join position.
func (c BonusConfig) At(position int) float64 {
	bonus := math.Max(c.Min, c.Base-float64(position)*c.Decrement)
	return math.Round(bonus*1e6) / 1e6
}

func (c BonusConfig) validate() error {
	if c.Base <= 0 || c.Min < 0 || c.Decrement < 0 || c.Capacity <= 0 {
		return domain.Validation("bonus config requires base > 0, min >= 0, decrement >= 0, capacity > 0")
	}
	return nil
}

// BonusLedger hands out a small, decreasing bonus to the first Capacity joiners
// of an access code. Reconnects and joiners past the cap get 0.
type BonusLedger struct {
	store JoinOrderStore
	cfg   BonusConfig
	retry RetryPolicy
}

func NewBonusLedger(store JoinOrderStore, cfg BonusConfig, retry RetryPolicy) (*BonusLedger, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &BonusLedger{store: store, cfg: cfg, retry: retry.normalized()}, nil
}

// Assign never fails: store errors are logged and yield 0.
func (l *BonusLedger) Assign(ctx context.Context, accessCode, userID string) float64 {
	bonus, err := l.TryAssign(ctx, accessCode, userID)
	if err != nil {
		log.Error().Err(err).
			Str("access_code", accessCode).
			Str("user_id", userID).
			Msg("join order bonus failed")
		return 0
	}
	return bonus
}

// TryAssign is Assign with the store error surfaced.
func (l *BonusLedger) TryAssign(ctx context.Context, accessCode, userID string) (float64, error) {
	type appendResult struct {
		position int
		appended bool
	}
	res, err := retryValue(ctx, l.retry, func(ctx context.Context) (appendResult, error) {
		pos, ok, err := l.store.AppendJoiner(ctx, accessCode, userID, l.cfg.Capacity, l.cfg.TTL)
		return appendResult{position: pos, appended: ok}, err
	})
	if err != nil {
		return 0, err
	}
	if !res.appended {
		return 0, nil
	}
	bonus := l.cfg.At(res.position)
	log.Debug().
		Str("access_code", accessCode).
		Str("user_id", userID).
		Int("position", res.position).
		Float64("bonus", bonus).
		Msg("join order bonus assigned")
	return bonus, nil
}

// JoinOrder returns the recorded join order of an access code.
func (l *BonusLedger) JoinOrder(ctx context.Context, accessCode string) ([]string, error) {
	return retryValue(ctx, l.retry, func(ctx context.Context) ([]string, error) {
		return l.store.JoinOrder(ctx, accessCode)
	})
}
