package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"mathquest-engine/internal/domain"
)

// GameRepository is an in-memory implementation of app.GameRepository for
// single-instance runs and tests. One lock makes the participant upsert atomic.
type GameRepository struct {
	clock clockwork.Clock

	mu           sync.Mutex
	games        map[string]domain.GameInstance
	users        map[string]domain.User
	participants map[participantKey]*domain.GameParticipant
	byID         map[string]participantKey
}

type participantKey struct {
	gameID  string
	userID  string
	attempt int
}

func NewGameRepository(clock clockwork.Clock, games ...domain.GameInstance) *GameRepository {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	r := &GameRepository{
		clock:        clock,
		games:        make(map[string]domain.GameInstance),
		users:        make(map[string]domain.User),
		participants: make(map[participantKey]*domain.GameParticipant),
		byID:         make(map[string]participantKey),
	}
	for _, g := range games {
		r.PutGame(g)
	}
	return r
}

// PutGame inserts or replaces a game instance.
func (r *GameRepository) PutGame(game domain.GameInstance) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if game.ID == "" {
		game.ID = uuid.NewString()
	}
	r.games[game.AccessCode] = game
}

func (r *GameRepository) FindGameInstance(_ context.Context, accessCode string) (domain.GameInstance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	game, ok := r.games[accessCode]
	if !ok {
		return domain.GameInstance{}, domain.NotFound(domain.MsgGameNotFound)
	}
	return game, nil
}

func (r *GameRepository) UpsertUser(_ context.Context, user domain.User) (domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.users[user.ID]; ok {
		if user.Username != "" {
			existing.Username = user.Username
		}
		if user.AvatarEmoji != "" {
			existing.AvatarEmoji = user.AvatarEmoji
		}
		r.users[user.ID] = existing
		return existing, nil
	}
	if user.Username == "" {
		user.Username = domain.GuestName(user.ID)
	}
	r.users[user.ID] = user
	return user, nil
}

func (r *GameRepository) LatestAttempt(_ context.Context, gameInstanceID, userID string) (int, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	latest, found := 0, false
	for key := range r.participants {
		if key.gameID == gameInstanceID && key.userID == userID {
			if !found || key.attempt > latest {
				latest = key.attempt
			}
			found = true
		}
	}
	return latest, found, nil
}

func (r *GameRepository) UpsertParticipant(_ context.Context, p domain.GameParticipant) (domain.GameParticipant, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := participantKey{gameID: p.GameInstanceID, userID: p.UserID, attempt: p.AttemptCount}
	if existing, ok := r.participants[key]; ok {
		existing.Username = p.Username
		existing.AvatarEmoji = p.AvatarEmoji
		existing.Status = domain.ParticipantActive
		return *existing, false, nil
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Status == "" {
		p.Status = domain.ParticipantActive
	}
	p.JoinedAt = r.clock.Now()
	stored := p
	r.participants[key] = &stored
	r.byID[p.ID] = key
	return p, true, nil
}

func (r *GameRepository) AddLiveScore(_ context.Context, participantID string, delta float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key, ok := r.byID[participantID]
	if !ok {
		return domain.NotFound("Participant not found")
	}
	r.participants[key].LiveScore += delta
	return nil
}

// Participants lists the rows of a game, mostly for tests and exports.
func (r *GameRepository) Participants(gameInstanceID string) []domain.GameParticipant {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.GameParticipant, 0)
	for key, p := range r.participants {
		if key.gameID == gameInstanceID {
			out = append(out, *p)
		}
	}
	return out
}
