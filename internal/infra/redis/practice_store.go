package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"mathquest-engine/internal/domain"
)

// PracticeStore keeps each practice session as one JSON document with expiry.
type PracticeStore struct {
	client *redis.Client
}

func NewPracticeStore(client *redis.Client) *PracticeStore {
	return &PracticeStore{client: client}
}

func (s *PracticeStore) SaveSession(ctx context.Context, session *domain.PracticeSession, ttl time.Duration) error {
	payload, err := json.Marshal(session)
	if err != nil {
		return err
	}
	return transient(s.client.Set(ctx, practiceKey(session.SessionID), payload, ttl).Err())
}

func (s *PracticeStore) LoadSession(ctx context.Context, sessionID string) (*domain.PracticeSession, bool, error) {
	raw, err := s.client.Get(ctx, practiceKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, transient(err)
	}
	var session domain.PracticeSession
	if err := json.Unmarshal(raw, &session); err != nil {
		return nil, false, fmt.Errorf("%w: practice session %s: %v", domain.ErrMalformedRecord, sessionID, err)
	}
	return &session, true, nil
}
