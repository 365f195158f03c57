package domain

import "time"

// GameStatus is the lifecycle status of a game instance.
type GameStatus string

const (
	GameStatusPending   GameStatus = "pending"
	GameStatusActive    GameStatus = "active"
	GameStatusPaused    GameStatus = "paused"
	GameStatusCompleted GameStatus = "completed"
)

// PlayMode selects how a game instance is played.
type PlayMode string

const (
	PlayModeQuiz       PlayMode = "quiz"
	PlayModeTournament PlayMode = "tournament"
	PlayModePractice   PlayMode = "practice"
)

// GameInstance is owned by the persistence layer; the engine only reads it.
type GameInstance struct {
	ID            string     `json:"id"`
	AccessCode    string     `json:"accessCode"`
	Name          string     `json:"name"`
	Status        GameStatus `json:"status"`
	PlayMode      PlayMode   `json:"playMode"`
	AvailableFrom *time.Time `json:"availableFrom,omitempty"`
	AvailableTo   *time.Time `json:"availableTo,omitempty"`
}

// ReplayOpen reports whether a completed game can be replayed at now.
// Both bounds are inclusive and both must be set.
func (g GameInstance) ReplayOpen(now time.Time) bool {
	if g.AvailableFrom == nil || g.AvailableTo == nil {
		return false
	}
	return !now.Before(*g.AvailableFrom) && !now.After(*g.AvailableTo)
}

// User is the minimal profile the engine needs.
type User struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	AvatarEmoji string `json:"avatarEmoji,omitempty"`
}

// GuestName is the display name of a user who never gave one.
func GuestName(userID string) string {
	id := []rune(userID)
	if len(id) > 8 {
		id = id[:8]
	}
	return "guest-" + string(id)
}

// ParticipantStatus tracks a participant row.
type ParticipantStatus string

const (
	ParticipantActive    ParticipantStatus = "active"
	ParticipantLeft      ParticipantStatus = "left"
	ParticipantCompleted ParticipantStatus = "completed"
)

// ParticipationType distinguishes live players from deferred replays.
type ParticipationType string

const (
	ParticipationLive     ParticipationType = "LIVE"
	ParticipationDeferred ParticipationType = "DEFERRED"
)

// GameParticipant is unique per (GameInstanceID, UserID, AttemptCount).
// Live participation uses attempt 0, deferred replays count from 1.
type GameParticipant struct {
	ID             string            `json:"id"`
	GameInstanceID string            `json:"gameInstanceId"`
	UserID         string            `json:"userId"`
	Username       string            `json:"username"`
	AvatarEmoji    string            `json:"avatarEmoji,omitempty"`
	AttemptCount   int               `json:"attemptCount"`
	LiveScore      float64           `json:"liveScore"`
	DeferredScore  float64           `json:"deferredScore"`
	Status         ParticipantStatus `json:"status"`
	JoinedAt       time.Time         `json:"joinedAt"`
}

// ParticipationType derives the participation kind from the attempt count.
func (p GameParticipant) ParticipationType() ParticipationType {
	if p.AttemptCount > 0 {
		return ParticipationDeferred
	}
	return ParticipationLive
}
