package integration

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/jonboulle/clockwork"
	goredis "github.com/redis/go-redis/v9"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"
	"mathquest-engine/internal/app"
	"mathquest-engine/internal/domain"
	pgstore "mathquest-engine/internal/infra/postgres"
	"mathquest-engine/internal/infra/postgres/migrations"
	infraredis "mathquest-engine/internal/infra/redis"
)

type stack struct {
	db     *bun.DB
	pool   *pgxpool.Pool
	redis  *goredis.Client
	games  *pgstore.GameRepository
	clock  clockwork.Clock
	retry  app.RetryPolicy
	ledger *app.BonusLedger
	board  *app.LeaderboardService
	join   *app.JoinService
}

func TestConcurrentLiveJoinsEndToEnd(t *testing.T) {
	ctx := context.Background()
	s := startStack(t, ctx)

	game, err := s.games.CreateGameInstance(ctx, domain.GameInstance{
		AccessCode: "LIVE1",
		Name:       "Live",
		Status:     domain.GameStatusActive,
		PlayMode:   domain.PlayModeQuiz,
	})
	if err != nil {
		t.Fatalf("create game: %v", err)
	}
	if _, err := s.games.CreateGameInstance(ctx, domain.GameInstance{AccessCode: "LIVE1", Status: domain.GameStatusPending, PlayMode: domain.PlayModeQuiz}); err == nil {
		t.Fatalf("expected duplicate access code to be rejected")
	}

	var wg sync.WaitGroup
	created := make(chan bool, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := s.join.Join(ctx, app.JoinRequest{UserID: "u1", AccessCode: "LIVE1", Username: "Ada"})
			if err != nil {
				t.Errorf("join: %v", err)
				return
			}
			created <- !out.AlreadyJoined
		}()
	}
	wg.Wait()
	close(created)
	fresh := 0
	for c := range created {
		if c {
			fresh++
		}
	}
	if fresh != 1 {
		t.Fatalf("expected exactly one created participant, got %d", fresh)
	}

	if _, err := s.join.Join(ctx, app.JoinRequest{UserID: "u2", AccessCode: "LIVE1", Username: "<b>Bob</b>"}); err != nil {
		t.Fatalf("join u2: %v", err)
	}

	participants, err := s.games.Participants(ctx, game.ID)
	if err != nil {
		t.Fatalf("participants: %v", err)
	}
	if len(participants) != 2 {
		t.Fatalf("expected one row per user, got %+v", participants)
	}
	scores := map[string]float64{}
	for _, p := range participants {
		scores[p.UserID] = p.LiveScore
		if p.AttemptCount != 0 {
			t.Fatalf("live participation must use attempt 0, got %+v", p)
		}
	}
	if scores["u1"] != 0.01 || scores["u2"] != 0.009 {
		t.Fatalf("unexpected join bonuses %+v", scores)
	}

	board, err := s.board.Snapshot(ctx, "LIVE1")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(board.Entries) != 2 || board.Entries[0].UserID != "u1" || board.Entries[1].Username != "Bob" {
		t.Fatalf("unexpected leaderboard %+v", board.Entries)
	}
}

func TestReplayAttemptsEndToEnd(t *testing.T) {
	ctx := context.Background()
	s := startStack(t, ctx)

	now := s.clock.Now()
	from, to := now.Add(-time.Hour), now.Add(time.Hour)
	if _, err := s.games.CreateGameInstance(ctx, domain.GameInstance{
		AccessCode:    "DONE1",
		Status:        domain.GameStatusCompleted,
		PlayMode:      domain.PlayModeQuiz,
		AvailableFrom: &from,
		AvailableTo:   &to,
	}); err != nil {
		t.Fatalf("create game: %v", err)
	}

	first, err := s.join.Join(ctx, app.JoinRequest{UserID: "u1", AccessCode: "DONE1"})
	if err != nil {
		t.Fatalf("first replay: %v", err)
	}
	if !first.Deferred || first.Participant.AttemptCount != 1 || first.Participant.Username != "guest-u1" {
		t.Fatalf("unexpected first replay %+v", first.Participant)
	}

	second, err := s.join.Join(ctx, app.JoinRequest{UserID: "u1", AccessCode: "DONE1"})
	if err != nil {
		t.Fatalf("second replay: %v", err)
	}
	if second.Participant.AttemptCount != 2 {
		t.Fatalf("expected a new attempt without an active replay, got %d", second.Participant.AttemptCount)
	}

	if err := s.games.SetGameStatus(ctx, "DONE1", domain.GameStatusActive); err != nil {
		t.Fatalf("set status: %v", err)
	}
	live, err := s.join.Join(ctx, app.JoinRequest{UserID: "u1", AccessCode: "DONE1"})
	if err != nil {
		t.Fatalf("live join: %v", err)
	}
	if live.Deferred || live.Participant.AttemptCount != 0 {
		t.Fatalf("expected live participation, got %+v", live.Participant)
	}

	if _, err := s.join.Join(ctx, app.JoinRequest{UserID: "u1", AccessCode: "NOPE"}); err == nil || err.Error() != domain.MsgGameNotFound {
		t.Fatalf("expected game not found, got %v", err)
	}
}

func TestTimerAndPracticeEndToEnd(t *testing.T) {
	ctx := context.Background()
	s := startStack(t, ctx)

	loader := pgstore.NewQuestionLoader(s.pool)
	n, err := loader.UpsertQuestions(ctx, []domain.Question{
		{UID: "it-1", Text: "2 + 2", Type: domain.QuestionMultipleChoice, Discipline: "math", GradeLevel: "CP", Themes: []string{"addition"}, AnswerOptions: []string{"3", "4"}, CorrectAnswers: []bool{false, true}},
		{UID: "it-2", Text: "9 / 2", Type: domain.QuestionNumeric, Discipline: "math", GradeLevel: "CP", Themes: []string{"division"}, Numeric: &domain.NumericAnswer{Value: 4.5}},
	})
	if err != nil || n != 2 {
		t.Fatalf("upsert questions: n=%d err=%v", n, err)
	}

	timers := app.NewTimerService(infraredis.NewTimerStore(s.redis), s.clock, app.TimerOptions{Retry: s.retry, TTL: time.Hour})
	scope := domain.LiveScope("T1")
	if _, err := timers.Start(ctx, scope, "it-1", 30_000); err != nil {
		t.Fatalf("start timer: %v", err)
	}
	paused, err := timers.Pause(ctx, scope)
	if err != nil || paused.Status != domain.TimerPause {
		t.Fatalf("pause: %+v %v", paused, err)
	}
	stopped, err := timers.Stop(ctx, scope)
	if err != nil || stopped.Status != domain.TimerStop || stopped.TimeLeftMs != 0 {
		t.Fatalf("stop: %+v %v", stopped, err)
	}

	questions := infraredis.NewQuestionRepository(s.redis, loader, time.Minute)
	practice := app.NewPracticeService(questions, infraredis.NewPracticeStore(s.redis), s.clock, time.Hour, s.retry)
	session, view, err := practice.Start(ctx, "u1", domain.PracticeSettings{
		Discipline:            "math",
		GradeLevel:            "CP",
		QuestionCount:         2,
		ShowImmediateFeedback: true,
	})
	if err != nil {
		t.Fatalf("start practice: %v", err)
	}
	if len(session.QuestionPool) != 2 {
		t.Fatalf("expected both questions in pool, got %v", session.QuestionPool)
	}

	answers := map[string][]float64{"it-1": {1}, "it-2": {4.5}}
	for i := 0; i < 2; i++ {
		fb, _, err := practice.SubmitAnswer(ctx, session.SessionID, view.UID, answers[view.UID], 1_000)
		if err != nil {
			t.Fatalf("submit %s: %v", view.UID, err)
		}
		if !fb.IsCorrect {
			t.Fatalf("expected %s to be correct, got %+v", view.UID, fb)
		}
		next, err := practice.GetNextQuestion(ctx, session.SessionID, false)
		if err != nil {
			t.Fatalf("next question: %v", err)
		}
		if next.Completed {
			break
		}
		view = *next.Question
	}

	summary, err := practice.End(ctx, session.SessionID, domain.EndCompleted)
	if err != nil {
		t.Fatalf("end: %v", err)
	}
	if summary.CorrectAnswers != 2 || summary.FinalAccuracy != 100 {
		t.Fatalf("unexpected summary %+v", summary)
	}
}

func startStack(t *testing.T, ctx context.Context) *stack {
	t.Helper()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	t.Cleanup(pgCleanup)
	redisURL, redisCleanup := startRedis(t, ctx)
	t.Cleanup(redisCleanup)

	db := bun.NewDB(sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(pgURL))), pgdialect.New())
	t.Cleanup(func() { db.Close() })
	migrateDB(t, ctx, db)

	pool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	t.Cleanup(pool.Close)

	redisClient, err := redisClientFromURL(redisURL)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	t.Cleanup(func() { redisClient.Close() })

	s := &stack{
		db:    db,
		pool:  pool,
		redis: redisClient,
		games: pgstore.NewGameRepository(db),
		clock: clockwork.NewRealClock(),
		retry: app.DefaultRetryPolicy(),
	}
	s.ledger, err = app.NewBonusLedger(infraredis.NewJoinOrderStore(redisClient), app.DefaultBonusConfig(), s.retry)
	if err != nil {
		t.Fatalf("bonus ledger: %v", err)
	}
	s.board = app.NewLeaderboardService(infraredis.NewSnapshotStore(redisClient), s.clock, time.Hour, s.retry)
	tracker := app.NewDeferredTracker(infraredis.NewFlagStore(redisClient), time.Hour, s.retry)
	s.join = app.NewJoinService(s.games, tracker, s.ledger, s.board, s.clock, app.JoinOptions{Retry: s.retry})
	return s
}

func migrateDB(t *testing.T, ctx context.Context, db *bun.DB) {
	t.Helper()
	migrator := migrate.NewMigrator(db, migrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		t.Fatalf("migrator init: %v", err)
	}
	if _, err := migrator.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
}

func startPostgres(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "postgres:15-alpine",
		Env:          map[string]string{"POSTGRES_USER": "mathquest", "POSTGRES_PASSWORD": "mathquest", "POSTGRES_DB": "mathquest"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForLog("database system is ready to accept connections").WithOccurrence(2).WithStartupTimeout(60 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start postgres: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://mathquest:mathquest@%s:%s/mathquest?sslmode=disable", host, port.Port())
	return dsn, func() {
		_ = container.Terminate(ctx)
	}
}

func startRedis(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start redis: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("redis host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379/tcp")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}
	url := fmt.Sprintf("redis://%s:%s", host, port.Port())
	return url, func() {
		_ = container.Terminate(ctx)
	}
}

func redisClientFromURL(url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return goredis.NewClient(opts), nil
}

func requireDocker(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("integration tests skipped in short mode")
	}
	if _, err := tc.NewDockerProvider(); err != nil {
		t.Skipf("docker not available: %v", err)
	}
}
