package app

import (
	"context"
	"time"

	"mathquest-engine/internal/domain"
)

// TimerStore persists one timer record per scope key. SwapTimer writes next only
// if the stored version still equals expected; expected 0 means "absent or unreadable".
// LoadTimer reports an unreadable record with an error wrapping domain.ErrMalformedRecord.
type TimerStore interface {
	LoadTimer(ctx context.Context, key string) (domain.TimerRecord, bool, error)
	SwapTimer(ctx context.Context, key string, expected int64, next domain.TimerRecord, ttl time.Duration) (bool, error)
	DeleteTimer(ctx context.Context, key string) error
}

// JoinOrderStore keeps the capped, duplicate-free join list of an access code.
// AppendJoiner returns the pre-append position and whether userID was appended.
type JoinOrderStore interface {
	AppendJoiner(ctx context.Context, accessCode, userID string, capacity int, ttl time.Duration) (int, bool, error)
	JoinOrder(ctx context.Context, accessCode string) ([]string, error)
}

// FlagStore is a plain string key-value store with expiry.
type FlagStore interface {
	GetFlag(ctx context.Context, key string) (string, bool, error)
	SetFlag(ctx context.Context, key, value string, ttl time.Duration) error
	DeleteFlag(ctx context.Context, key string) error
}

// SnapshotStore holds leaderboard entries per access code. Entries returns them
// ranked (score desc, join order asc). UpsertEntry keeps the score and join order
// of an existing entry and reports whether it was created.
type SnapshotStore interface {
	UpsertEntry(ctx context.Context, accessCode string, entry domain.LeaderboardEntry, ttl time.Duration) (bool, error)
	SetScore(ctx context.Context, accessCode, userID string, score float64) (bool, error)
	RemoveEntry(ctx context.Context, accessCode, userID string) error
	Entries(ctx context.Context, accessCode string) ([]domain.LeaderboardEntry, error)
	ClearSnapshot(ctx context.Context, accessCode string) error
}

// GameRepository is the relational side: game instances, users and participants.
// UpsertParticipant must be a single transactional write keyed by
// (GameInstanceID, UserID, AttemptCount); it reports whether a row was created.
type GameRepository interface {
	FindGameInstance(ctx context.Context, accessCode string) (domain.GameInstance, error)
	UpsertUser(ctx context.Context, user domain.User) (domain.User, error)
	LatestAttempt(ctx context.Context, gameInstanceID, userID string) (int, bool, error)
	UpsertParticipant(ctx context.Context, p domain.GameParticipant) (domain.GameParticipant, bool, error)
	AddLiveScore(ctx context.Context, participantID string, delta float64) error
}

// QuestionRepository loads question bank entries (cache/backing store).
type QuestionRepository interface {
	GetQuestion(ctx context.Context, uid string) (domain.Question, error)
	SelectQuestions(ctx context.Context, filter domain.QuestionFilter) ([]domain.Question, error)
}

// PracticeStore persists practice sessions so they survive reconnects. Completed
// sessions are kept until they expire so a repeated end returns the same summary.
type PracticeStore interface {
	SaveSession(ctx context.Context, session *domain.PracticeSession, ttl time.Duration) error
	LoadSession(ctx context.Context, sessionID string) (*domain.PracticeSession, bool, error)
}
