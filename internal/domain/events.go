package domain

// Outbound event types delivered through the gateway.
const (
	EventTimerUpdated      = "timer_updated"
	EventGameJoined        = "game_joined"
	EventConnectedCount    = "connected_count"
	EventLeaderboardUpdate = "leaderboard_update"
	EventPracticeStarted   = "practice_session_created"
	EventPracticeQuestion  = "practice_question_ready"
	EventPracticeFeedback  = "practice_answer_feedback"
	EventPracticeCompleted = "practice_session_completed"
	EventPracticeState     = "practice_session_state"
	EventReplayFinished    = "replay_finished"
	EventGameEnded         = "game_ended"
	EventError             = "error"
)

// Event is the envelope published to a room.
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// Room names. PlayersRoom only holds live students and backs connected_count.
func GameRoom(accessCode string) string       { return "game:" + accessCode }
func ProjectionRoom(accessCode string) string { return "projection:" + accessCode }
func PlayersRoom(accessCode string) string    { return "players:" + accessCode }
func UserRoom(userID string) string           { return "user:" + userID }
func PracticeRoom(sessionID string) string    { return "practice:" + sessionID }
