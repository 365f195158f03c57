package memory

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"mathquest-engine/internal/domain"
)

// PracticeStore is an in-memory implementation of app.PracticeStore. Sessions
// are kept encoded so callers never share a pointer with the store.
type PracticeStore struct {
	clock clockwork.Clock

	mu       sync.Mutex
	sessions map[string]expiring[[]byte]
}

func NewPracticeStore(clock clockwork.Clock) *PracticeStore {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &PracticeStore{clock: clock, sessions: make(map[string]expiring[[]byte])}
}

func (s *PracticeStore) SaveSession(_ context.Context, session *domain.PracticeSession, ttl time.Duration) error {
	raw, err := json.Marshal(session)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.SessionID] = newExpiring(raw, s.clock.Now(), ttl)
	return nil
}

func (s *PracticeStore) LoadSession(_ context.Context, sessionID string) (*domain.PracticeSession, bool, error) {
	s.mu.Lock()
	entry, ok := s.sessions[sessionID]
	if ok && entry.expired(s.clock.Now()) {
		delete(s.sessions, sessionID)
		ok = false
	}
	s.mu.Unlock()
	if !ok {
		return nil, false, nil
	}
	var session domain.PracticeSession
	if err := json.Unmarshal(entry.value, &session); err != nil {
		return nil, false, err
	}
	return &session, true, nil
}
