package memory

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// FlagStore is an in-memory implementation of app.FlagStore.
type FlagStore struct {
	clock clockwork.Clock

	mu    sync.Mutex
	flags map[string]expiring[string]
}

func NewFlagStore(clock clockwork.Clock) *FlagStore {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &FlagStore{clock: clock, flags: make(map[string]expiring[string])}
}

func (s *FlagStore) GetFlag(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.flags[key]
	if !ok {
		return "", false, nil
	}
	if entry.expired(s.clock.Now()) {
		delete(s.flags, key)
		return "", false, nil
	}
	return entry.value, true, nil
}

func (s *FlagStore) SetFlag(_ context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flags[key] = newExpiring(value, s.clock.Now(), ttl)
	return nil
}

func (s *FlagStore) DeleteFlag(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.flags, key)
	return nil
}
