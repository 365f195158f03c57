package memory

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// JoinOrderStore is an in-memory implementation of app.JoinOrderStore. The
// duplicate check, capacity check and append happen under one lock.
type JoinOrderStore struct {
	clock clockwork.Clock

	mu    sync.Mutex
	lists map[string]expiring[[]string]
}

func NewJoinOrderStore(clock clockwork.Clock) *JoinOrderStore {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &JoinOrderStore{clock: clock, lists: make(map[string]expiring[[]string])}
}

func (s *JoinOrderStore) AppendJoiner(_ context.Context, accessCode, userID string, capacity int, ttl time.Duration) (int, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.liveLocked(accessCode)
	for i, id := range list {
		if id == userID {
			return i, false, nil
		}
	}
	if len(list) >= capacity {
		return len(list), false, nil
	}
	pos := len(list)
	s.lists[accessCode] = newExpiring(append(list, userID), s.clock.Now(), ttl)
	return pos, true, nil
}

func (s *JoinOrderStore) JoinOrder(_ context.Context, accessCode string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.liveLocked(accessCode)
	return append([]string(nil), list...), nil
}

func (s *JoinOrderStore) liveLocked(accessCode string) []string {
	entry, ok := s.lists[accessCode]
	if !ok {
		return nil
	}
	if entry.expired(s.clock.Now()) {
		delete(s.lists, accessCode)
		return nil
	}
	return entry.value
}
