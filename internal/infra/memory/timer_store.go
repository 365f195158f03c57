package memory

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"mathquest-engine/internal/domain"
)

// TimerStore is an in-memory implementation of app.TimerStore.
type TimerStore struct {
	clock clockwork.Clock

	mu      sync.Mutex
	records map[string]expiring[domain.TimerRecord]
}

func NewTimerStore(clock clockwork.Clock) *TimerStore {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &TimerStore{clock: clock, records: make(map[string]expiring[domain.TimerRecord])}
}

func (s *TimerStore) LoadTimer(_ context.Context, key string) (domain.TimerRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.liveLocked(key)
	return rec, ok, nil
}

func (s *TimerStore) SwapTimer(_ context.Context, key string, expected int64, next domain.TimerRecord, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.liveLocked(key)
	version := int64(0)
	if ok && cur.Validate() == nil {
		version = cur.Version
	}
	if version != expected {
		return false, nil
	}
	s.records[key] = newExpiring(next, s.clock.Now(), ttl)
	return true, nil
}

func (s *TimerStore) DeleteTimer(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, key)
	return nil
}

func (s *TimerStore) liveLocked(key string) (domain.TimerRecord, bool) {
	entry, ok := s.records[key]
	if !ok {
		return domain.TimerRecord{}, false
	}
	if entry.expired(s.clock.Now()) {
		delete(s.records, key)
		return domain.TimerRecord{}, false
	}
	return entry.value, true
}
