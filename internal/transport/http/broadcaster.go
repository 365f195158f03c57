package http

import (
	"context"

	"github.com/rs/zerolog/log"
	"mathquest-engine/internal/domain"
)

// Publisher delivers an event to every viewer of a room, wherever it is connected.
type Publisher interface {
	Publish(ctx context.Context, room string, ev domain.Event) error
}

// Broadcaster turns engine results into room events. Delivery is fire and
// forget: failures are logged and never reach the caller.
type Broadcaster struct {
	pub Publisher
}

func NewBroadcaster(pub Publisher) *Broadcaster {
	return &Broadcaster{pub: pub}
}

type timerPayload struct {
	AccessCode string `json:"accessCode"`
	domain.TimerState
}

type countPayload struct {
	AccessCode string `json:"accessCode"`
	Count      int    `json:"count"`
}

// TimerRooms lists the rooms that follow a timer scope: replays are private to
// their player, live timers go to players and projectors.
func TimerRooms(scope domain.TimerScope) []string {
	if scope.Deferred() {
		return []string{domain.UserRoom(scope.UserID)}
	}
	return []string{domain.GameRoom(scope.AccessCode), domain.ProjectionRoom(scope.AccessCode)}
}

func (b *Broadcaster) emit(ctx context.Context, room, typ string, payload any) {
	if err := b.pub.Publish(ctx, room, domain.Event{Type: typ, Payload: payload}); err != nil {
		log.Error().Err(err).Str("room", room).Str("event", typ).Msg("event publish failed")
	}
}

func (b *Broadcaster) TimerUpdated(ctx context.Context, state domain.TimerState) {
	payload := timerPayload{AccessCode: state.Scope.AccessCode, TimerState: state}
	for _, room := range TimerRooms(state.Scope) {
		b.emit(ctx, room, domain.EventTimerUpdated, payload)
	}
}

// TimerExpired is the expiry callback of the timer scheduler.
func (b *Broadcaster) TimerExpired(ctx context.Context, state domain.TimerState) {
	log.Info().Str("scope", state.Scope.String()).Str("question_uid", state.QuestionUID).Msg("timer expired")
	b.TimerUpdated(ctx, state)
}

func (b *Broadcaster) Leaderboard(ctx context.Context, board domain.Leaderboard) {
	b.emit(ctx, domain.GameRoom(board.AccessCode), domain.EventLeaderboardUpdate, board)
	b.emit(ctx, domain.ProjectionRoom(board.AccessCode), domain.EventLeaderboardUpdate, board)
}

// GameEnded carries the final standings to players and projectors.
func (b *Broadcaster) GameEnded(ctx context.Context, board domain.Leaderboard) {
	b.emit(ctx, domain.GameRoom(board.AccessCode), domain.EventGameEnded, board)
	b.emit(ctx, domain.ProjectionRoom(board.AccessCode), domain.EventGameEnded, board)
}

func (b *Broadcaster) ConnectedCount(ctx context.Context, accessCode string, count int) {
	b.emit(ctx, domain.GameRoom(accessCode), domain.EventConnectedCount, countPayload{AccessCode: accessCode, Count: count})
}

func (b *Broadcaster) Practice(ctx context.Context, sessionID, typ string, payload any) {
	b.emit(ctx, domain.PracticeRoom(sessionID), typ, payload)
}
