package postgres

import (
	"time"

	"github.com/uptrace/bun"
	"mathquest-engine/internal/domain"
)

type gameInstanceModel struct {
	bun.BaseModel `bun:"table:game_instances"`

	ID            string     `bun:"id,pk"`
	AccessCode    string     `bun:"access_code"`
	Name          string     `bun:"name"`
	Status        string     `bun:"status"`
	PlayMode      string     `bun:"play_mode"`
	AvailableFrom *time.Time `bun:"available_from"`
	AvailableTo   *time.Time `bun:"available_to"`
}

func (m gameInstanceModel) toDomain() domain.GameInstance {
	return domain.GameInstance{
		ID:            m.ID,
		AccessCode:    m.AccessCode,
		Name:          m.Name,
		Status:        domain.GameStatus(m.Status),
		PlayMode:      domain.PlayMode(m.PlayMode),
		AvailableFrom: m.AvailableFrom,
		AvailableTo:   m.AvailableTo,
	}
}

type userModel struct {
	bun.BaseModel `bun:"table:users"`

	ID          string `bun:"id,pk"`
	Username    string `bun:"username"`
	AvatarEmoji string `bun:"avatar_emoji"`
}

type participantModel struct {
	bun.BaseModel `bun:"table:game_participants,alias:gp"`

	ID             string    `bun:"id,pk"`
	GameInstanceID string    `bun:"game_instance_id"`
	UserID         string    `bun:"user_id"`
	AttemptCount   int       `bun:"attempt_count"`
	LiveScore      float64   `bun:"live_score"`
	DeferredScore  float64   `bun:"deferred_score"`
	Status         string    `bun:"status"`
	JoinedAt       time.Time `bun:"joined_at"`

	// Inserted is true when the upsert created the row (xmax = 0).
	Inserted bool `bun:"inserted,scanonly"`
}

func (m participantModel) toDomain(user domain.User) domain.GameParticipant {
	return domain.GameParticipant{
		ID:             m.ID,
		GameInstanceID: m.GameInstanceID,
		UserID:         m.UserID,
		Username:       user.Username,
		AvatarEmoji:    user.AvatarEmoji,
		AttemptCount:   m.AttemptCount,
		LiveScore:      m.LiveScore,
		DeferredScore:  m.DeferredScore,
		Status:         domain.ParticipantStatus(m.Status),
		JoinedAt:       m.JoinedAt,
	}
}
