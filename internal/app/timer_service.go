package app

import (
	"context"
	"errors"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"mathquest-engine/internal/domain"
)

const maxTimerSwaps = 8

// errTimerUnchanged tells mutate that the stored record already satisfies the request.
var errTimerUnchanged = errors.New("timer unchanged")

// TimerOptions configures the timer service.
type TimerOptions struct {
	Retry RetryPolicy
	// TTL bounds how long an abandoned timer record lives in the store.
	TTL time.Duration
}

// TimerService is the single authority for question countdowns. Time left is
// derived from a stored end timestamp; every write is a versioned compare-and-swap.
type TimerService struct {
	store TimerStore
	clock clockwork.Clock
	retry RetryPolicy
	ttl   time.Duration
}

func NewTimerService(store TimerStore, clock clockwork.Clock, opts TimerOptions) *TimerService {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &TimerService{store: store, clock: clock, retry: opts.Retry.normalized(), ttl: opts.TTL}
}

func (s *TimerService) nowMs() int64 {
	return s.clock.Now().UnixMilli()
}

// SetQuestion resets the scope to a stopped timer for questionUID with the full duration left.
func (s *TimerService) SetQuestion(ctx context.Context, scope domain.TimerScope, questionUID string, durationMs int64) (domain.TimerState, error) {
	if err := validateTimerInput(scope, questionUID, durationMs); err != nil {
		return domain.TimerState{}, err
	}
	rec, _, err := s.mutate(ctx, scope, func(domain.TimerRecord, bool, int64) (domain.TimerRecord, error) {
		return domain.TimerRecord{
			QuestionUID: questionUID,
			Status:      domain.TimerStop,
			DurationMs:  durationMs,
			TimeLeftMs:  durationMs,
		}, nil
	})
	if err != nil {
		return domain.TimerState{}, err
	}
	return rec.StateAt(scope, s.nowMs()), nil
}

// Start runs the timer for questionUID. A durationMs of 0 reuses the stored
// duration of the same question. Starting a different question while one is
// running stops the running one first. Starting a paused question resumes it.
func (s *TimerService) Start(ctx context.Context, scope domain.TimerScope, questionUID string, durationMs int64) (domain.TimerState, error) {
	if scope.AccessCode == "" || questionUID == "" {
		return domain.TimerState{}, domain.Validation("accessCode and questionUid are required")
	}
	if durationMs < 0 {
		return domain.TimerState{}, domain.Validation("durationMs must be positive")
	}
	rec, _, err := s.mutate(ctx, scope, func(cur domain.TimerRecord, exists bool, now int64) (domain.TimerRecord, error) {
		sameQuestion := exists && cur.QuestionUID == questionUID
		duration := durationMs
		if duration == 0 {
			if !sameQuestion || cur.DurationMs <= 0 {
				return domain.TimerRecord{}, domain.Validation("durationMs is required for a new question")
			}
			duration = cur.DurationMs
		}

		if sameQuestion {
			switch cur.Status {
			case domain.TimerRun:
				if cur.EndMs > now {
					return cur, errTimerUnchanged
				}
			case domain.TimerPause:
				if cur.TimeLeftMs > 0 {
					cur.Status = domain.TimerRun
					cur.EndMs = now + cur.TimeLeftMs
					return cur, nil
				}
			}
		} else if exists && cur.Status == domain.TimerRun && cur.EndMs > now {
			log.Info().
				Str("scope", scope.String()).
				Str("question_uid", cur.QuestionUID).
				Str("next_question_uid", questionUID).
				Msg("stopping running timer before starting next question")
		}

		return domain.TimerRecord{
			QuestionUID: questionUID,
			Status:      domain.TimerRun,
			DurationMs:  duration,
			TimeLeftMs:  duration,
			EndMs:       now + duration,
		}, nil
	})
	if err != nil {
		return domain.TimerState{}, err
	}
	return rec.StateAt(scope, s.nowMs()), nil
}

// Pause freezes a running timer. Already paused or stopped timers are returned as-is.
// A running timer with nothing left stops instead.
func (s *TimerService) Pause(ctx context.Context, scope domain.TimerScope) (domain.TimerState, error) {
	rec, _, err := s.mutate(ctx, scope, func(cur domain.TimerRecord, exists bool, now int64) (domain.TimerRecord, error) {
		if !exists {
			return cur, domain.NotFound("Timer not found")
		}
		if cur.Status != domain.TimerRun {
			return cur, errTimerUnchanged
		}
		left := cur.StateAt(scope, now).TimeLeftMs
		cur.EndMs = 0
		cur.TimeLeftMs = left
		cur.Status = domain.TimerPause
		if left == 0 {
			cur.Status = domain.TimerStop
		}
		return cur, nil
	})
	if err != nil {
		return domain.TimerState{}, err
	}
	return rec.StateAt(scope, s.nowMs()), nil
}

// Resume restarts a paused timer from its stored time left.
func (s *TimerService) Resume(ctx context.Context, scope domain.TimerScope) (domain.TimerState, error) {
	rec, _, err := s.mutate(ctx, scope, func(cur domain.TimerRecord, exists bool, now int64) (domain.TimerRecord, error) {
		if !exists {
			return cur, domain.NotFound("Timer not found")
		}
		switch cur.Status {
		case domain.TimerRun:
			return cur, errTimerUnchanged
		case domain.TimerStop:
			return cur, domain.InvalidState("Timer is stopped; start it instead")
		}
		cur.Status = domain.TimerRun
		cur.EndMs = now + cur.TimeLeftMs
		return cur, nil
	})
	if err != nil {
		return domain.TimerState{}, err
	}
	return rec.StateAt(scope, s.nowMs()), nil
}

// Stop ends the countdown with nothing left.
func (s *TimerService) Stop(ctx context.Context, scope domain.TimerScope) (domain.TimerState, error) {
	rec, _, err := s.mutate(ctx, scope, func(cur domain.TimerRecord, exists bool, _ int64) (domain.TimerRecord, error) {
		if !exists {
			return cur, domain.NotFound("Timer not found")
		}
		if cur.Status == domain.TimerStop && cur.TimeLeftMs == 0 {
			return cur, errTimerUnchanged
		}
		cur.Status = domain.TimerStop
		cur.TimeLeftMs = 0
		cur.EndMs = 0
		return cur, nil
	})
	if err != nil {
		return domain.TimerState{}, err
	}
	return rec.StateAt(scope, s.nowMs()), nil
}

// SetDuration changes the duration of a paused or stopped timer. A paused timer
// keeps at most the new duration left; a stopped one is rearmed with it.
func (s *TimerService) SetDuration(ctx context.Context, scope domain.TimerScope, durationMs int64) (domain.TimerState, error) {
	if durationMs <= 0 {
		return domain.TimerState{}, domain.Validation("durationMs must be positive")
	}
	rec, _, err := s.mutate(ctx, scope, func(cur domain.TimerRecord, exists bool, _ int64) (domain.TimerRecord, error) {
		if !exists {
			return cur, domain.NotFound("Timer not found")
		}
		switch cur.Status {
		case domain.TimerRun:
			return cur, domain.InvalidState("Pause the timer before changing its duration")
		case domain.TimerPause:
			cur.TimeLeftMs = min(cur.TimeLeftMs, durationMs)
		case domain.TimerStop:
			cur.TimeLeftMs = durationMs
		}
		cur.DurationMs = durationMs
		return cur, nil
	})
	if err != nil {
		return domain.TimerState{}, err
	}
	return rec.StateAt(scope, s.nowMs()), nil
}

// Get reads the canonical state. A running timer whose end has passed is moved
// to stop; expired is true only for the caller whose write made that transition.
func (s *TimerService) Get(ctx context.Context, scope domain.TimerScope) (domain.TimerState, bool, error) {
	rec, wrote, err := s.mutate(ctx, scope, func(cur domain.TimerRecord, exists bool, now int64) (domain.TimerRecord, error) {
		if !exists {
			return cur, domain.NotFound("Timer not found")
		}
		if cur.Status != domain.TimerRun || cur.EndMs > now {
			return cur, errTimerUnchanged
		}
		cur.Status = domain.TimerStop
		cur.TimeLeftMs = 0
		cur.EndMs = 0
		return cur, nil
	})
	if err != nil {
		return domain.TimerState{}, false, err
	}
	if wrote {
		log.Info().
			Str("scope", scope.String()).
			Str("question_uid", rec.QuestionUID).
			Msg("timer expired")
	}
	return rec.StateAt(scope, s.nowMs()), wrote, nil
}

// Clear removes the record of scope.
func (s *TimerService) Clear(ctx context.Context, scope domain.TimerScope) error {
	return s.retry.do(ctx, func(ctx context.Context) error {
		return s.store.DeleteTimer(ctx, scope.Key())
	})
}

type timerMutation func(cur domain.TimerRecord, exists bool, nowMs int64) (domain.TimerRecord, error)

// mutate loads the record, applies fn and swaps the result in if the version
// did not move in between. It reports whether a write happened.
func (s *TimerService) mutate(ctx context.Context, scope domain.TimerScope, fn timerMutation) (domain.TimerRecord, bool, error) {
	key := scope.Key()
	for i := 0; i < maxTimerSwaps; i++ {
		cur, exists, err := s.load(ctx, scope)
		if err != nil {
			return domain.TimerRecord{}, false, err
		}

		now := s.nowMs()
		next, err := fn(cur, exists, now)
		if errors.Is(err, errTimerUnchanged) {
			return cur, false, nil
		}
		if err != nil {
			return domain.TimerRecord{}, false, err
		}

		expected := cur.Version
		// Versions keep growing across Clear and corruption because they never go below the wall clock.
		next.Version = max(expected+1, now)
		if err := next.Validate(); err != nil {
			return domain.TimerRecord{}, false, domain.Validation(err.Error())
		}

		swapped, err := retryValue(ctx, s.retry, func(ctx context.Context) (bool, error) {
			return s.store.SwapTimer(ctx, key, expected, next, s.ttl)
		})
		if err != nil {
			return domain.TimerRecord{}, false, err
		}
		if swapped {
			return next, true, nil
		}
		log.Debug().Str("scope", scope.String()).Int("try", i+1).Msg("timer version moved, retrying swap")
	}
	return domain.TimerRecord{}, false, domain.Transient(errors.New("timer contention: too many concurrent writers"))
}

func (s *TimerService) load(ctx context.Context, scope domain.TimerScope) (domain.TimerRecord, bool, error) {
	type loaded struct {
		rec    domain.TimerRecord
		exists bool
	}
	res, err := retryValue(ctx, s.retry, func(ctx context.Context) (loaded, error) {
		rec, ok, err := s.store.LoadTimer(ctx, scope.Key())
		if err == nil && ok {
			err = rec.Validate()
			if err != nil {
				err = errors.Join(domain.ErrMalformedRecord, err)
			}
		}
		return loaded{rec: rec, exists: ok}, err
	})
	if errors.Is(err, domain.ErrMalformedRecord) {
		log.Error().Err(err).Str("scope", scope.String()).Msg("malformed timer record, treating as stopped")
		return domain.TimerRecord{Status: domain.TimerStop}, true, nil
	}
	if err != nil {
		return domain.TimerRecord{}, false, err
	}
	return res.rec, res.exists, nil
}

func validateTimerInput(scope domain.TimerScope, questionUID string, durationMs int64) error {
	if scope.AccessCode == "" || questionUID == "" {
		return domain.Validation("accessCode and questionUid are required")
	}
	if durationMs <= 0 {
		return domain.Validation("durationMs must be positive")
	}
	return nil
}
