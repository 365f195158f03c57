package http

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"mathquest-engine/internal/app"
	"mathquest-engine/internal/domain"
	"mathquest-engine/internal/infra/memory"
)

type testMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	retry := app.RetryPolicy{Attempts: 1, Timeout: time.Second}

	games := memory.NewGameRepository(clock, domain.GameInstance{
		ID: "g1", AccessCode: "ABC", Name: "Fractions", Status: domain.GameStatusActive, PlayMode: domain.PlayModeQuiz,
	})
	questions := memory.NewQuestionRepository(memory.NewStaticQuestionLoader(domain.Question{
		UID: "q1", Text: "2 + 2?", Type: domain.QuestionMultipleChoice, Discipline: "math", GradeLevel: "CE1",
		AnswerOptions: []string{"3", "4"}, CorrectAnswers: []bool{false, true},
	}), time.Minute)

	timers := app.NewTimerService(memory.NewTimerStore(clock), clock, app.TimerOptions{Retry: retry})
	tracker := app.NewDeferredTracker(memory.NewFlagStore(clock), time.Hour, retry)
	ledger, err := app.NewBonusLedger(memory.NewJoinOrderStore(clock), app.DefaultBonusConfig(), retry)
	if err != nil {
		t.Fatalf("ledger: %v", err)
	}
	board := app.NewLeaderboardService(memory.NewSnapshotStore(clock), clock, time.Hour, retry)

	hub := NewHub()
	events := NewBroadcaster(hub)
	scheduler := app.NewTimerScheduler(timers, clock, events.TimerExpired)
	t.Cleanup(scheduler.Close)

	ws := NewWSHandler(Services{
		Timers:      timers,
		Scheduler:   scheduler,
		Join:        app.NewJoinService(games, tracker, ledger, board, clock, app.JoinOptions{Retry: retry}),
		Tracker:     tracker,
		Leaderboard: board,
		Practice:    app.NewPracticeService(questions, memory.NewPracticeStore(clock), clock, time.Hour, retry),
	}, hub, events, nil)

	server := httptest.NewServer(NewRouter(ws, nil))
	t.Cleanup(server.Close)
	return server
}

func dial(t *testing.T, server *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	u := "ws" + server.URL[len("http"):] + "/ws?" + query
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, typ string, payload any) {
	t.Helper()
	if err := conn.WriteJSON(map[string]any{"type": typ, "payload": payload}); err != nil {
		t.Fatalf("write %s: %v", typ, err)
	}
}

// readUntil skips other events until one of type want arrives.
func readUntil(t *testing.T, conn *websocket.Conn, want string) json.RawMessage {
	t.Helper()
	for i := 0; i < 10; i++ {
		var msg testMessage
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read json waiting for %s: %v", want, err)
		}
		if msg.Type == want {
			return msg.Payload
		}
	}
	t.Fatalf("no %s event within 10 messages", want)
	return nil
}

func TestWebSocketLiveGameFlow(t *testing.T) {
	server := newTestServer(t)

	teacher := dial(t, server, "role=teacher&accessCode=ABC")
	send(t, teacher, "set_question", map[string]any{"questionUid": "q1", "durationMs": 30000})
	var timer struct {
		AccessCode  string `json:"accessCode"`
		Status      string `json:"status"`
		TimeLeftMs  int64  `json:"timeLeftMs"`
		QuestionUID string `json:"questionUid"`
	}
	json.Unmarshal(readUntil(t, teacher, "timer_updated"), &timer)
	if timer.Status != "stop" || timer.TimeLeftMs != 30000 || timer.AccessCode != "ABC" {
		t.Fatalf("unexpected timer after set_question %+v", timer)
	}

	send(t, teacher, "timer_action", map[string]any{"action": "start", "questionUid": "q1"})
	json.Unmarshal(readUntil(t, teacher, "timer_updated"), &timer)
	if timer.Status != "run" || timer.QuestionUID != "q1" {
		t.Fatalf("unexpected timer after start %+v", timer)
	}

	student := dial(t, server, "role=student&accessCode=ABC&userId=u1&name=Alice")
	send(t, student, "join_game", map[string]any{"avatarEmoji": "🐼"})
	var joined app.JoinResult
	json.Unmarshal(readUntil(t, student, "game_joined"), &joined)
	if !joined.Success || joined.Participant == nil || joined.Participant.Username != "Alice" || joined.Deferred {
		t.Fatalf("unexpected join result %+v", joined)
	}
	json.Unmarshal(readUntil(t, student, "timer_updated"), &timer)
	if timer.Status != "run" {
		t.Fatalf("late joiner must receive the running timer, got %+v", timer)
	}

	var count countPayload
	json.Unmarshal(readUntil(t, teacher, "connected_count"), &count)
	if count.Count != 1 {
		t.Fatalf("expected only the student to be counted, got %d", count.Count)
	}
	var board domain.Leaderboard
	json.Unmarshal(readUntil(t, teacher, "leaderboard_update"), &board)
	if len(board.Entries) != 1 || board.Entries[0].UserID != "u1" || board.Entries[0].Score != 0.01 {
		t.Fatalf("unexpected leaderboard %+v", board)
	}

	send(t, teacher, "timer_action", map[string]any{"action": "set_duration", "durationMs": 1000})
	var failure errorPayload
	json.Unmarshal(readUntil(t, teacher, "error"), &failure)
	if failure.Message == "" || failure.Command != "timer_action" {
		t.Fatalf("expected set_duration while running to fail, got %+v", failure)
	}
}

func TestWebSocketScoreAndEndGame(t *testing.T) {
	server := newTestServer(t)
	teacher := dial(t, server, "role=teacher&accessCode=ABC")
	student := dial(t, server, "role=student&accessCode=ABC&userId=u1&name=Alice")

	send(t, student, "join_game", nil)
	readUntil(t, student, "game_joined")
	readUntil(t, teacher, "leaderboard_update")

	send(t, teacher, "update_score", map[string]any{"userId": "u1", "score": 5})
	var board domain.Leaderboard
	json.Unmarshal(readUntil(t, teacher, "leaderboard_update"), &board)
	if len(board.Entries) != 1 || board.Entries[0].Score != 5 {
		t.Fatalf("expected updated score, got %+v", board.Entries)
	}

	send(t, teacher, "update_score", map[string]any{"userId": "ghost", "score": 1})
	var failure errorPayload
	json.Unmarshal(readUntil(t, teacher, "error"), &failure)
	if failure.Command != "update_score" || failure.Message == "Internal server error" {
		t.Fatalf("expected a not found error, got %+v", failure)
	}

	send(t, teacher, "end_game", map[string]any{"clearLeaderboard": true})
	var final domain.Leaderboard
	json.Unmarshal(readUntil(t, student, "game_ended"), &final)
	if len(final.Entries) != 1 || final.Entries[0].UserID != "u1" {
		t.Fatalf("expected final standings, got %+v", final)
	}

	send(t, teacher, "get_leaderboard", nil)
	json.Unmarshal(readUntil(t, teacher, "leaderboard_update"), &board)
	if len(board.Entries) != 0 {
		t.Fatalf("expected cleared leaderboard, got %+v", board.Entries)
	}
}

func TestWebSocketConnectedCountIgnoresStaff(t *testing.T) {
	server := newTestServer(t)
	teacher := dial(t, server, "role=teacher&accessCode=ABC")
	dial(t, server, "role=projector&accessCode=ABC")

	var count countPayload
	for _, id := range []string{"u1", "u2"} {
		student := dial(t, server, "role=student&accessCode=ABC&userId="+id+"&name="+id)
		send(t, student, "join_game", nil)
		readUntil(t, student, "game_joined")
		json.Unmarshal(readUntil(t, teacher, "connected_count"), &count)
	}
	if count.Count != 2 {
		t.Fatalf("expected two students, got %d", count.Count)
	}

	late := dial(t, server, "role=student&accessCode=ABC&userId=u3&name=u3")
	send(t, late, "join_game", nil)
	readUntil(t, late, "game_joined")
	json.Unmarshal(readUntil(t, teacher, "connected_count"), &count)
	if count.Count != 3 {
		t.Fatalf("expected three students, got %d", count.Count)
	}
	late.Close()
	json.Unmarshal(readUntil(t, teacher, "connected_count"), &count)
	if count.Count != 2 {
		t.Fatalf("expected the count to drop on disconnect, got %d", count.Count)
	}
}

func TestWebSocketJoinUnknownGame(t *testing.T) {
	server := newTestServer(t)
	student := dial(t, server, "role=student&accessCode=NOPE&userId=u1&name=Alice")
	send(t, student, "join_game", nil)

	var res app.JoinResult
	json.Unmarshal(readUntil(t, student, "game_joined"), &res)
	if res.Success || res.Error != domain.MsgGameNotFound {
		t.Fatalf("unexpected join result %+v", res)
	}
}

func TestWebSocketPracticeFlow(t *testing.T) {
	server := newTestServer(t)
	conn := dial(t, server, "role=practice&userId=u1")

	send(t, conn, "start_practice_session", map[string]any{
		"settings": map[string]any{"discipline": "math", "gradeLevel": "CE1", "questionCount": 1, "showImmediateFeedback": true},
	})
	var started practiceStartedPayload
	json.Unmarshal(readUntil(t, conn, "practice_session_created"), &started)
	if started.Session == nil || started.Question.UID != "q1" {
		t.Fatalf("unexpected start payload %+v", started)
	}
	sid := started.Session.SessionID

	send(t, conn, "submit_practice_answer", map[string]any{"sessionId": sid, "questionUid": "q1", "selectedAnswers": []float64{1}, "timeSpentMs": 1200})
	var fb practiceFeedbackPayload
	json.Unmarshal(readUntil(t, conn, "practice_answer_feedback"), &fb)
	if !fb.Feedback.IsCorrect || fb.Statistics.CorrectAnswers != 1 {
		t.Fatalf("unexpected feedback %+v", fb)
	}

	send(t, conn, "get_next_practice_question", map[string]any{"sessionId": sid})
	var done practiceCompleted
	json.Unmarshal(readUntil(t, conn, "practice_session_completed"), &done)
	if done.Summary.TotalQuestions != 1 || done.Summary.FinalAccuracy != 100 {
		t.Fatalf("unexpected summary %+v", done)
	}

	other := dial(t, server, "role=practice&userId=intruder")
	send(t, other, "get_practice_session_state", map[string]any{"sessionId": sid})
	var failure errorPayload
	json.Unmarshal(readUntil(t, other, "error"), &failure)
	if failure.Message != domain.MsgSessionNotFound {
		t.Fatalf("foreign session must look missing, got %+v", failure)
	}
}

func TestWebSocketPracticeCommandsRequireOwner(t *testing.T) {
	server := newTestServer(t)
	owner := dial(t, server, "role=practice&userId=u1")
	send(t, owner, "start_practice_session", map[string]any{
		"settings": map[string]any{"discipline": "math", "gradeLevel": "CE1", "questionCount": 1},
	})
	var started practiceStartedPayload
	json.Unmarshal(readUntil(t, owner, "practice_session_created"), &started)
	sid := started.Session.SessionID

	other := dial(t, server, "role=practice&userId=intruder")
	commands := []struct {
		typ     string
		payload map[string]any
	}{
		{"submit_practice_answer", map[string]any{"sessionId": sid, "questionUid": "q1", "selectedAnswers": []float64{0}}},
		{"retry_practice_question", map[string]any{"sessionId": sid, "questionUid": "q1"}},
		{"get_next_practice_question", map[string]any{"sessionId": sid, "skipCurrent": true}},
		{"end_practice_session", map[string]any{"sessionId": sid}},
	}
	for _, cmd := range commands {
		send(t, other, cmd.typ, cmd.payload)
		var failure errorPayload
		json.Unmarshal(readUntil(t, other, "error"), &failure)
		if failure.Command != cmd.typ || failure.Message != domain.MsgSessionNotFound {
			t.Fatalf("%s on a foreign session must look missing, got %+v", cmd.typ, failure)
		}
	}

	send(t, owner, "submit_practice_answer", map[string]any{"sessionId": sid, "questionUid": "q1", "selectedAnswers": []float64{1}})
	var fb practiceFeedbackPayload
	json.Unmarshal(readUntil(t, owner, "practice_answer_feedback"), &fb)
	if !fb.Feedback.IsCorrect || fb.Statistics.QuestionsAttempted != 1 {
		t.Fatalf("owner's session must be untouched, got %+v", fb)
	}
}

func TestWebSocketRejectsUnknownCommandAndRole(t *testing.T) {
	server := newTestServer(t)

	projector := dial(t, server, "role=projector&accessCode=ABC")
	send(t, projector, "join_game", nil)
	var failure errorPayload
	json.Unmarshal(readUntil(t, projector, "error"), &failure)
	if failure.Message != "unsupported message type" {
		t.Fatalf("projector must not join, got %+v", failure)
	}

	resp, err := http.Get(server.URL + "/ws?role=admin&accessCode=ABC")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown role, got %d", resp.StatusCode)
	}
}

func TestHealthz(t *testing.T) {
	server := newTestServer(t)
	resp, err := http.Get(server.URL + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	buf := new(bytes.Buffer)
	_, _ = buf.ReadFrom(resp.Body)
	if resp.StatusCode != http.StatusOK || buf.String() != "ok" {
		t.Fatalf("unexpected healthz response %d %q", resp.StatusCode, buf.String())
	}
}
