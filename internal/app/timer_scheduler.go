package app

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"mathquest-engine/internal/domain"
)

// ExpiryFunc receives the stopped state of a timer that just expired.
type ExpiryFunc func(ctx context.Context, state domain.TimerState)

// TimerScheduler keeps one one-shot timer per running scope so expiry is
// observed and broadcast even when no client reads the timer.
type TimerScheduler struct {
	timers   *TimerService
	clock    clockwork.Clock
	onExpire ExpiryFunc

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	active map[string]*scheduledExpiry
}

type scheduledExpiry struct {
	timer clockwork.Timer
	done  chan struct{}
}

func NewTimerScheduler(timers *TimerService, clock clockwork.Clock, onExpire ExpiryFunc) *TimerScheduler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &TimerScheduler{
		timers:   timers,
		clock:    clock,
		onExpire: onExpire,
		ctx:      ctx,
		cancel:   cancel,
		active:   make(map[string]*scheduledExpiry),
	}
}

// Track arms an expiry check for a running state and cancels any check for a
// scope that is no longer running.
func (s *TimerScheduler) Track(state domain.TimerState) {
	if state.Status != domain.TimerRun {
		s.Cancel(state.Scope)
		return
	}
	delay := time.Duration(state.TimerEndDateMs-s.clock.Now().UnixMilli()) * time.Millisecond
	if delay < 0 {
		delay = 0
	}
	s.schedule(state.Scope, delay)
}

// Cancel drops the pending check of scope, if any.
func (s *TimerScheduler) Cancel(scope domain.TimerScope) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.active[scope.Key()]; ok {
		entry.stop()
		delete(s.active, scope.Key())
	}
}

// Pending reports how many scopes have an armed check.
func (s *TimerScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// Close cancels every pending check and waits for in-flight callbacks.
func (s *TimerScheduler) Close() {
	s.cancel()
	s.mu.Lock()
	for key, entry := range s.active {
		entry.stop()
		delete(s.active, key)
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *TimerScheduler) schedule(scope domain.TimerScope, delay time.Duration) {
	if s.ctx.Err() != nil {
		return
	}
	entry := &scheduledExpiry{timer: s.clock.NewTimer(delay), done: make(chan struct{})}

	s.mu.Lock()
	if prev, ok := s.active[scope.Key()]; ok {
		prev.stop()
	}
	s.active[scope.Key()] = entry
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		select {
		case <-entry.timer.Chan():
			s.fire(scope, entry)
		case <-entry.done:
		case <-s.ctx.Done():
		}
	}()

	log.Debug().Str("scope", scope.String()).Dur("delay", delay).Msg("scheduled timer expiry check")
}

func (s *TimerScheduler) fire(scope domain.TimerScope, entry *scheduledExpiry) {
	s.mu.Lock()
	if s.active[scope.Key()] == entry {
		delete(s.active, scope.Key())
	}
	s.mu.Unlock()

	state, expired, err := s.timers.Get(s.ctx, scope)
	if err != nil {
		log.Warn().Err(err).Str("scope", scope.String()).Msg("timer expiry check failed")
		return
	}
	if expired {
		if s.onExpire != nil {
			s.onExpire(s.ctx, state)
		}
		return
	}
	// Fired ahead of a resumed or restarted countdown: check again at the new end.
	if state.Status == domain.TimerRun {
		s.Track(state)
	}
}

func (e *scheduledExpiry) stop() {
	select {
	case <-e.done:
	default:
		close(e.done)
	}
	if !e.timer.Stop() {
		select {
		case <-e.timer.Chan():
		default:
		}
	}
}
