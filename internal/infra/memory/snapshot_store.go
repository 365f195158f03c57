package memory

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"mathquest-engine/internal/domain"
)

// SnapshotStore is an in-memory implementation of app.SnapshotStore. Each
// board keeps its entries ranked and repairs the order locally after a change.
type SnapshotStore struct {
	clock clockwork.Clock

	mu     sync.Mutex
	boards map[string]*board
}

type board struct {
	ordered     []domain.LeaderboardEntry
	indexByUser map[string]int
	nextSeq     int64
	expiresAt   time.Time
}

func NewSnapshotStore(clock clockwork.Clock) *SnapshotStore {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &SnapshotStore{clock: clock, boards: make(map[string]*board)}
}

func (s *SnapshotStore) UpsertEntry(_ context.Context, accessCode string, entry domain.LeaderboardEntry, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.liveLocked(accessCode)
	if b == nil {
		b = &board{indexByUser: make(map[string]int)}
		s.boards[accessCode] = b
	}
	if ttl > 0 {
		b.expiresAt = s.clock.Now().Add(ttl)
	}

	if idx, ok := b.indexByUser[entry.UserID]; ok {
		cur := &b.ordered[idx]
		cur.Username = entry.Username
		cur.AvatarEmoji = entry.AvatarEmoji
		if entry.ParticipationType != "" {
			cur.ParticipationType = entry.ParticipationType
		}
		return false, nil
	}

	b.nextSeq++
	entry.JoinOrder = b.nextSeq
	entry.Rank = 0
	b.ordered = append(b.ordered, entry)
	idx := len(b.ordered) - 1
	b.indexByUser[entry.UserID] = idx
	b.bubble(idx)
	return true, nil
}

func (s *SnapshotStore) SetScore(_ context.Context, accessCode, userID string, score float64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.liveLocked(accessCode)
	if b == nil {
		return false, nil
	}
	idx, ok := b.indexByUser[userID]
	if !ok {
		return false, nil
	}
	b.ordered[idx].Score = score
	b.bubble(idx)
	return true, nil
}

func (s *SnapshotStore) RemoveEntry(_ context.Context, accessCode, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.liveLocked(accessCode)
	if b == nil {
		return nil
	}
	idx, ok := b.indexByUser[userID]
	if !ok {
		return nil
	}
	b.ordered = append(b.ordered[:idx], b.ordered[idx+1:]...)
	delete(b.indexByUser, userID)
	for i := idx; i < len(b.ordered); i++ {
		b.indexByUser[b.ordered[i].UserID] = i
	}
	return nil
}

func (s *SnapshotStore) Entries(_ context.Context, accessCode string) ([]domain.LeaderboardEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.liveLocked(accessCode)
	if b == nil {
		return nil, nil
	}
	return append([]domain.LeaderboardEntry(nil), b.ordered...), nil
}

func (s *SnapshotStore) ClearSnapshot(_ context.Context, accessCode string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.boards, accessCode)
	return nil
}

func (s *SnapshotStore) liveLocked(accessCode string) *board {
	b, ok := s.boards[accessCode]
	if !ok {
		return nil
	}
	if !b.expiresAt.IsZero() && !s.clock.Now().Before(b.expiresAt) {
		delete(s.boards, accessCode)
		return nil
	}
	return b
}

// bubble moves the entry at idx until its neighbours are ordered again.
// Only one row changes per call, so this is O(distance moved).
func (b *board) bubble(idx int) {
	for idx > 0 && domain.RankBefore(b.ordered[idx], b.ordered[idx-1]) {
		b.swap(idx, idx-1)
		idx--
	}
	for idx < len(b.ordered)-1 && domain.RankBefore(b.ordered[idx+1], b.ordered[idx]) {
		b.swap(idx, idx+1)
		idx++
	}
}

func (b *board) swap(i, j int) {
	b.ordered[i], b.ordered[j] = b.ordered[j], b.ordered[i]
	b.indexByUser[b.ordered[i].UserID] = i
	b.indexByUser[b.ordered[j].UserID] = j
}
