package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/driver/pgdriver"
	"mathquest-engine/internal/domain"
)

// GameRepository is the bun-backed relational store for games, users and participants.
type GameRepository struct {
	db *bun.DB
}

func NewGameRepository(db *bun.DB) *GameRepository {
	return &GameRepository{db: db}
}

func (r *GameRepository) FindGameInstance(ctx context.Context, accessCode string) (domain.GameInstance, error) {
	var m gameInstanceModel
	err := r.db.NewSelect().Model(&m).Where("access_code = ?", accessCode).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.GameInstance{}, domain.NotFound(domain.MsgGameNotFound)
	}
	if err != nil {
		return domain.GameInstance{}, storeErr("find game instance", err)
	}
	return m.toDomain(), nil
}

// CreateGameInstance inserts a game. A taken access code is a validation error.
func (r *GameRepository) CreateGameInstance(ctx context.Context, g domain.GameInstance) (domain.GameInstance, error) {
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	m := gameInstanceModel{
		ID:            g.ID,
		AccessCode:    g.AccessCode,
		Name:          g.Name,
		Status:        string(g.Status),
		PlayMode:      string(g.PlayMode),
		AvailableFrom: g.AvailableFrom,
		AvailableTo:   g.AvailableTo,
	}
	if _, err := r.db.NewInsert().Model(&m).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			return domain.GameInstance{}, domain.Validation("Access code already in use")
		}
		return domain.GameInstance{}, storeErr("create game instance", err)
	}
	return m.toDomain(), nil
}

// SetGameStatus moves a game through its lifecycle.
func (r *GameRepository) SetGameStatus(ctx context.Context, accessCode string, status domain.GameStatus) error {
	res, err := r.db.NewUpdate().Model((*gameInstanceModel)(nil)).
		Set("status = ?", string(status)).
		Where("access_code = ?", accessCode).
		Exec(ctx)
	if err != nil {
		return storeErr("set game status", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.NotFound(domain.MsgGameNotFound)
	}
	return nil
}

// UpsertUser creates the user or refreshes the profile fields that were given.
// Empty fields keep the stored values; a new user without a name becomes a guest.
func (r *GameRepository) UpsertUser(ctx context.Context, user domain.User) (domain.User, error) {
	m := userModel{ID: user.ID, Username: user.Username, AvatarEmoji: user.AvatarEmoji}
	if m.Username == "" {
		m.Username = domain.GuestName(user.ID)
	}
	err := r.db.NewInsert().Model(&m).
		On("CONFLICT (id) DO UPDATE").
		Set("username = CASE WHEN ? = '' THEN ?TableAlias.username ELSE EXCLUDED.username END", user.Username).
		Set("avatar_emoji = CASE WHEN ? = '' THEN ?TableAlias.avatar_emoji ELSE EXCLUDED.avatar_emoji END", user.AvatarEmoji).
		Returning("*").
		Scan(ctx)
	if err != nil {
		return domain.User{}, storeErr("upsert user", err)
	}
	return domain.User{ID: m.ID, Username: m.Username, AvatarEmoji: m.AvatarEmoji}, nil
}

func (r *GameRepository) LatestAttempt(ctx context.Context, gameInstanceID, userID string) (int, bool, error) {
	var latest sql.NullInt64
	err := r.db.NewSelect().Model((*participantModel)(nil)).
		ColumnExpr("max(attempt_count)").
		Where("game_instance_id = ?", gameInstanceID).
		Where("user_id = ?", userID).
		Scan(ctx, &latest)
	if err != nil {
		return 0, false, storeErr("latest attempt", err)
	}
	if !latest.Valid {
		return 0, false, nil
	}
	return int(latest.Int64), true, nil
}

// UpsertParticipant inserts or reactivates the row for (game, user, attempt) in
// one statement, so concurrent joins converge on a single row.
func (r *GameRepository) UpsertParticipant(ctx context.Context, p domain.GameParticipant) (domain.GameParticipant, bool, error) {
	m := participantModel{
		ID:             uuid.NewString(),
		GameInstanceID: p.GameInstanceID,
		UserID:         p.UserID,
		AttemptCount:   p.AttemptCount,
		Status:         string(p.Status),
	}
	err := r.db.NewInsert().Model(&m).
		ExcludeColumn("joined_at").
		On("CONFLICT (game_instance_id, user_id, attempt_count) DO UPDATE").
		Set("status = EXCLUDED.status").
		Returning("*, (xmax = 0) AS inserted").
		Scan(ctx)
	if err != nil {
		return domain.GameParticipant{}, false, storeErr("upsert participant", err)
	}
	user := domain.User{ID: p.UserID, Username: p.Username, AvatarEmoji: p.AvatarEmoji}
	return m.toDomain(user), m.Inserted, nil
}

func (r *GameRepository) AddLiveScore(ctx context.Context, participantID string, delta float64) error {
	res, err := r.db.NewUpdate().Model((*participantModel)(nil)).
		Set("live_score = live_score + ?", delta).
		Where("id = ?", participantID).
		Exec(ctx)
	if err != nil {
		return storeErr("add live score", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.NotFound("Participant not found")
	}
	return nil
}

// Participants lists the rows of a game, used by exports.
func (r *GameRepository) Participants(ctx context.Context, gameInstanceID string) ([]domain.GameParticipant, error) {
	type row struct {
		participantModel `bun:",extend"`
		Username         string `bun:"username"`
		AvatarEmoji      string `bun:"avatar_emoji"`
	}
	var rows []row
	err := r.db.NewSelect().Model(&rows).
		ColumnExpr("gp.*").
		ColumnExpr("u.username, u.avatar_emoji").
		Join("JOIN users AS u ON u.id = gp.user_id").
		Where("gp.game_instance_id = ?", gameInstanceID).
		OrderExpr("gp.attempt_count, gp.joined_at").
		Scan(ctx)
	if err != nil {
		return nil, storeErr("list participants", err)
	}
	out := make([]domain.GameParticipant, 0, len(rows))
	for _, rw := range rows {
		out = append(out, rw.participantModel.toDomain(domain.User{ID: rw.UserID, Username: rw.Username, AvatarEmoji: rw.AvatarEmoji}))
	}
	return out, nil
}

func isUniqueViolation(err error) bool {
	var pgErr pgdriver.Error
	if errors.As(err, &pgErr) {
		return pgErr.Field('C') == "23505"
	}
	return false
}

// storeErr marks database failures as transient so callers retry them.
func storeErr(op string, err error) error {
	return domain.Transient(fmt.Errorf("%s: %w", op, err))
}
