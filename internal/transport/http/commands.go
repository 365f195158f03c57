package http

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/rs/zerolog/log"
	"mathquest-engine/internal/app"
	"mathquest-engine/internal/domain"
)

// Role selects the command table a connection may use.
type Role string

const (
	RoleTeacher   Role = "teacher"
	RoleStudent   Role = "student"
	RoleProjector Role = "projector"
	RolePractice  Role = "practice"
)

type commandFunc func(ctx context.Context, c *connection, payload json.RawMessage) error

func (h *WSHandler) commandTables() map[Role]map[string]commandFunc {
	return map[Role]map[string]commandFunc{
		RoleTeacher: {
			"set_question":    h.setQuestion,
			"timer_action":    h.timerAction,
			"get_timer":       h.getTimer,
			"get_leaderboard": h.getLeaderboard,
			"update_score":    h.updateScore,
			"remove_player":   h.removePlayer,
			"end_game":        h.endGame,
		},
		RoleStudent: {
			"join_game":     h.joinGame,
			"finish_replay": h.finishReplay,
			"timer_action":  h.replayTimerAction,
			"get_timer":     h.getTimer,
		},
		RoleProjector: {
			"get_leaderboard": h.getLeaderboard,
			"get_timer":       h.getTimer,
		},
		RolePractice: {
			"start_practice_session":     h.startPractice,
			"submit_practice_answer":     h.submitPractice,
			"retry_practice_question":    h.retryPractice,
			"get_next_practice_question": h.nextPractice,
			"end_practice_session":       h.endPractice,
			"get_practice_session_state": h.practiceState,
		},
	}
}

func decode[T any](raw json.RawMessage) (T, error) {
	var v T
	if len(raw) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, domain.Validation("Invalid payload")
	}
	return v, nil
}

type setQuestionPayload struct {
	QuestionUID string `json:"questionUid"`
	DurationMs  int64  `json:"durationMs"`
}

type timerActionPayload struct {
	Action      string `json:"action"`
	QuestionUID string `json:"questionUid"`
	DurationMs  int64  `json:"durationMs"`
}

func (h *WSHandler) setQuestion(ctx context.Context, c *connection, raw json.RawMessage) error {
	p, err := decode[setQuestionPayload](raw)
	if err != nil {
		return err
	}
	state, err := h.services.Timers.SetQuestion(ctx, c.timerScope(), p.QuestionUID, p.DurationMs)
	if err != nil {
		return err
	}
	h.timerChanged(ctx, state)
	return nil
}

func (h *WSHandler) timerAction(ctx context.Context, c *connection, raw json.RawMessage) error {
	p, err := decode[timerActionPayload](raw)
	if err != nil {
		return err
	}
	timers, scope := h.services.Timers, c.timerScope()

	var state domain.TimerState
	switch p.Action {
	case "start":
		state, err = timers.Start(ctx, scope, p.QuestionUID, p.DurationMs)
	case "pause":
		state, err = timers.Pause(ctx, scope)
	case "resume":
		state, err = timers.Resume(ctx, scope)
	case "stop":
		state, err = timers.Stop(ctx, scope)
	case "set_duration":
		state, err = timers.SetDuration(ctx, scope, p.DurationMs)
	default:
		return domain.Validation("Unknown timer action")
	}
	if err != nil {
		return err
	}
	h.timerChanged(ctx, state)
	return nil
}

// replayTimerAction lets a replaying student drive the private timer of their attempt.
func (h *WSHandler) replayTimerAction(ctx context.Context, c *connection, raw json.RawMessage) error {
	if !c.deferred {
		return domain.InvalidState("Only replays control their own timer")
	}
	return h.timerAction(ctx, c, raw)
}

func (h *WSHandler) getTimer(ctx context.Context, c *connection, _ json.RawMessage) error {
	state, expired, err := h.services.Timers.Get(ctx, c.timerScope())
	if err != nil {
		return err
	}
	if expired {
		h.timerChanged(ctx, state)
		return nil
	}
	c.reply(domain.EventTimerUpdated, timerPayload{AccessCode: state.Scope.AccessCode, TimerState: state})
	return nil
}

func (h *WSHandler) timerChanged(ctx context.Context, state domain.TimerState) {
	if h.services.Scheduler != nil {
		h.services.Scheduler.Track(state)
	}
	h.events.TimerUpdated(ctx, state)
}

func (h *WSHandler) getLeaderboard(ctx context.Context, c *connection, _ json.RawMessage) error {
	board, err := h.services.Leaderboard.Snapshot(ctx, c.accessCode)
	if err != nil {
		return err
	}
	c.reply(domain.EventLeaderboardUpdate, board)
	return nil
}

type playerPayload struct {
	UserID string  `json:"userId"`
	Score  float64 `json:"score"`
}

func (h *WSHandler) updateScore(ctx context.Context, c *connection, raw json.RawMessage) error {
	p, err := decode[playerPayload](raw)
	if err != nil {
		return err
	}
	board, err := h.services.Leaderboard.UpdateScore(ctx, c.accessCode, p.UserID, p.Score)
	if err != nil {
		return err
	}
	h.events.Leaderboard(ctx, board)
	return nil
}

func (h *WSHandler) removePlayer(ctx context.Context, c *connection, raw json.RawMessage) error {
	p, err := decode[playerPayload](raw)
	if err != nil {
		return err
	}
	board, err := h.services.Leaderboard.RemoveUser(ctx, c.accessCode, p.UserID)
	if err != nil {
		return err
	}
	h.events.Leaderboard(ctx, board)
	return nil
}

type endGamePayload struct {
	ClearLeaderboard bool `json:"clearLeaderboard"`
}

// endGame drops the live timer, publishes the final standings and optionally
// discards the snapshot.
func (h *WSHandler) endGame(ctx context.Context, c *connection, raw json.RawMessage) error {
	p, err := decode[endGamePayload](raw)
	if err != nil {
		return err
	}
	scope := domain.LiveScope(c.accessCode)
	if h.services.Scheduler != nil {
		h.services.Scheduler.Cancel(scope)
	}
	if err := h.services.Timers.Clear(ctx, scope); err != nil {
		return err
	}
	board, err := h.services.Leaderboard.Snapshot(ctx, c.accessCode)
	if err != nil {
		return err
	}
	h.events.GameEnded(ctx, board)
	if p.ClearLeaderboard {
		return h.services.Leaderboard.Clear(ctx, c.accessCode)
	}
	return nil
}

type joinPayload struct {
	Username    string `json:"username"`
	AvatarEmoji string `json:"avatarEmoji"`
}

func (h *WSHandler) joinGame(ctx context.Context, c *connection, raw json.RawMessage) error {
	p, err := decode[joinPayload](raw)
	if err != nil {
		return err
	}
	name := p.Username
	if name == "" {
		name = c.name
	}
	outcome, err := h.services.Join.Join(ctx, app.JoinRequest{
		UserID:      c.userID,
		AccessCode:  c.accessCode,
		Username:    name,
		AvatarEmoji: p.AvatarEmoji,
	})
	c.reply(domain.EventGameJoined, app.NewJoinResult(outcome, err))
	if err != nil {
		return nil
	}

	c.joined = true
	c.deferred = outcome.Deferred
	c.attempt = outcome.Participant.AttemptCount
	h.hub.join(domain.UserRoom(c.userID), c.client)

	if outcome.Deferred {
		if err := h.services.Tracker.MarkActive(ctx, c.accessCode, c.userID, c.attempt); err != nil {
			log.Error().Err(err).Str("access_code", c.accessCode).Str("user_id", c.userID).Msg("deferred session flag not set")
		}
		return nil
	}

	players := domain.PlayersRoom(c.accessCode)
	h.hub.join(domain.GameRoom(c.accessCode), c.client)
	h.hub.join(players, c.client)
	h.events.ConnectedCount(ctx, c.accessCode, h.hub.Count(players))
	if outcome.Effects.Leaderboard != nil {
		h.events.Leaderboard(ctx, *outcome.Effects.Leaderboard)
	}

	// Late joiners resync on the running question.
	state, _, err := h.services.Timers.Get(ctx, c.timerScope())
	if err == nil {
		c.reply(domain.EventTimerUpdated, timerPayload{AccessCode: c.accessCode, TimerState: state})
	} else if !errors.Is(err, domain.ErrNotFound) {
		log.Warn().Err(err).Str("access_code", c.accessCode).Msg("timer resync failed")
	}
	return nil
}

type replayFinishedPayload struct {
	AccessCode   string `json:"accessCode"`
	AttemptCount int    `json:"attemptCount"`
}

func (h *WSHandler) finishReplay(ctx context.Context, c *connection, _ json.RawMessage) error {
	if !c.joined || !c.deferred {
		return domain.InvalidState("No replay in progress")
	}
	scope := c.timerScope()
	if err := h.services.Tracker.MarkOver(ctx, c.accessCode, c.userID, c.attempt); err != nil {
		return err
	}
	if h.services.Scheduler != nil {
		h.services.Scheduler.Cancel(scope)
	}
	if err := h.services.Timers.Clear(ctx, scope); err != nil {
		log.Warn().Err(err).Str("scope", scope.String()).Msg("replay timer not cleared")
	}
	c.reply(domain.EventReplayFinished, replayFinishedPayload{AccessCode: c.accessCode, AttemptCount: c.attempt})
	c.joined, c.deferred = false, false
	return nil
}

type startPracticePayload struct {
	Settings domain.PracticeSettings `json:"settings"`
}

type practiceStartedPayload struct {
	Session  *domain.PracticeSession `json:"session"`
	Question domain.QuestionView     `json:"question"`
}

type submitPracticePayload struct {
	SessionID       string    `json:"sessionId"`
	QuestionUID     string    `json:"questionUid"`
	SelectedAnswers []float64 `json:"selectedAnswers"`
	TimeSpentMs     int64     `json:"timeSpentMs"`
}

type practiceFeedbackPayload struct {
	Feedback   domain.PracticeFeedback   `json:"feedback"`
	Statistics domain.PracticeStatistics `json:"statistics"`
}

type practiceCommandPayload struct {
	SessionID   string `json:"sessionId"`
	QuestionUID string `json:"questionUid"`
	SkipCurrent bool   `json:"skipCurrent"`
	Reason      string `json:"reason"`
}

type practiceQuestionReady struct {
	SessionID string              `json:"sessionId"`
	Question  domain.QuestionView `json:"question"`
}

type practiceCompleted struct {
	SessionID string                 `json:"sessionId"`
	Summary   domain.PracticeSummary `json:"summary"`
}

type practiceStatePayload struct {
	Session  *domain.PracticeSession `json:"session"`
	Question *domain.QuestionView    `json:"question,omitempty"`
}

func (h *WSHandler) startPractice(ctx context.Context, c *connection, raw json.RawMessage) error {
	p, err := decode[startPracticePayload](raw)
	if err != nil {
		return err
	}
	session, view, err := h.services.Practice.Start(ctx, c.userID, p.Settings)
	if err != nil {
		return err
	}
	h.hub.join(domain.PracticeRoom(session.SessionID), c.client)
	h.events.Practice(ctx, session.SessionID, domain.EventPracticeStarted, practiceStartedPayload{Session: session, Question: view})
	return nil
}

func (h *WSHandler) submitPractice(ctx context.Context, c *connection, raw json.RawMessage) error {
	p, err := decode[submitPracticePayload](raw)
	if err != nil {
		return err
	}
	if err := h.ownSession(ctx, c, p.SessionID); err != nil {
		return err
	}
	feedback, session, err := h.services.Practice.SubmitAnswer(ctx, p.SessionID, p.QuestionUID, p.SelectedAnswers, p.TimeSpentMs)
	if err != nil {
		return err
	}
	h.events.Practice(ctx, p.SessionID, domain.EventPracticeFeedback, practiceFeedbackPayload{Feedback: feedback, Statistics: session.Statistics})
	return nil
}

func (h *WSHandler) retryPractice(ctx context.Context, c *connection, raw json.RawMessage) error {
	p, err := decode[practiceCommandPayload](raw)
	if err != nil {
		return err
	}
	if err := h.ownSession(ctx, c, p.SessionID); err != nil {
		return err
	}
	view, err := h.services.Practice.RetryQuestion(ctx, p.SessionID, p.QuestionUID)
	if err != nil {
		return err
	}
	h.events.Practice(ctx, p.SessionID, domain.EventPracticeQuestion, practiceQuestionReady{SessionID: p.SessionID, Question: view})
	return nil
}

func (h *WSHandler) nextPractice(ctx context.Context, c *connection, raw json.RawMessage) error {
	p, err := decode[practiceCommandPayload](raw)
	if err != nil {
		return err
	}
	if err := h.ownSession(ctx, c, p.SessionID); err != nil {
		return err
	}
	next, err := h.services.Practice.GetNextQuestion(ctx, p.SessionID, p.SkipCurrent)
	if err != nil {
		return err
	}
	if next.Completed {
		h.events.Practice(ctx, p.SessionID, domain.EventPracticeCompleted, practiceCompleted{SessionID: p.SessionID, Summary: *next.Summary})
		return nil
	}
	h.events.Practice(ctx, p.SessionID, domain.EventPracticeQuestion, practiceQuestionReady{SessionID: p.SessionID, Question: *next.Question})
	return nil
}

func (h *WSHandler) endPractice(ctx context.Context, c *connection, raw json.RawMessage) error {
	p, err := decode[practiceCommandPayload](raw)
	if err != nil {
		return err
	}
	if err := h.ownSession(ctx, c, p.SessionID); err != nil {
		return err
	}
	reason := domain.EndReason(p.Reason)
	if reason == "" {
		reason = domain.EndUserQuit
	}
	summary, err := h.services.Practice.End(ctx, p.SessionID, reason)
	if err != nil {
		return err
	}
	h.events.Practice(ctx, p.SessionID, domain.EventPracticeCompleted, practiceCompleted{SessionID: p.SessionID, Summary: summary})
	return nil
}

// practiceState resyncs a reconnecting client and puts it back in the session room.
func (h *WSHandler) practiceState(ctx context.Context, c *connection, raw json.RawMessage) error {
	p, err := decode[practiceCommandPayload](raw)
	if err != nil {
		return err
	}
	session, err := h.ownedSession(ctx, c, p.SessionID)
	if err != nil {
		return err
	}
	h.hub.join(domain.PracticeRoom(session.SessionID), c.client)

	out := practiceStatePayload{Session: session}
	if session.State == domain.PracticeQuestionReady || session.State == domain.PracticeAnswered {
		view, err := h.services.Practice.CurrentQuestion(ctx, session)
		if err != nil {
			return err
		}
		out.Question = &view
	}
	c.reply(domain.EventPracticeState, out)
	return nil
}

// ownedSession loads a practice session of this connection's user. Sessions of
// other users look missing.
func (h *WSHandler) ownedSession(ctx context.Context, c *connection, sessionID string) (*domain.PracticeSession, error) {
	session, err := h.services.Practice.GetState(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.UserID != c.userID {
		return nil, domain.NotFound(domain.MsgSessionNotFound)
	}
	return session, nil
}

func (h *WSHandler) ownSession(ctx context.Context, c *connection, sessionID string) error {
	_, err := h.ownedSession(ctx, c, sessionID)
	return err
}
