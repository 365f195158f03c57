package cli

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jonboulle/clockwork"
	"mathquest-engine/internal/app"
	"mathquest-engine/internal/config"
	"mathquest-engine/internal/domain"
	"mathquest-engine/internal/infra/memory"
	redisstore "mathquest-engine/internal/infra/redis"
)

func TestOpenBackendsInMemory(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	b, err := openBackends(ctx, config.Default(), clock, "")
	if err != nil {
		t.Fatalf("open backends: %v", err)
	}
	defer b.Close()

	if _, ok := b.timers.(*memory.TimerStore); !ok {
		t.Fatalf("expected in-memory timer store, got %T", b.timers)
	}

	eng, err := newEngine(config.Default(), b, clock)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	outcome, err := eng.join.Join(ctx, app.JoinRequest{UserID: "u1", AccessCode: "DEMO", Username: "Ada"})
	if err != nil {
		t.Fatalf("join demo game: %v", err)
	}
	if outcome.Deferred || outcome.Effects.Bonus != 0.01 {
		t.Fatalf("expected live join with first bonus, got %+v", outcome)
	}

	replay, err := eng.join.Join(ctx, app.JoinRequest{UserID: "u1", AccessCode: "REPLAY"})
	if err != nil {
		t.Fatalf("join replay: %v", err)
	}
	if !replay.Deferred || replay.Participant.AttemptCount != 1 {
		t.Fatalf("expected first deferred attempt, got %+v", replay.Participant)
	}

	q, err := b.questions.GetQuestion(ctx, "demo-div-1")
	if err != nil || q.Numeric == nil {
		t.Fatalf("expected sample numeric question, got %+v %v", q, err)
	}
}

func TestOpenBackendsRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := config.Default()
	cfg.Redis.Addr = mr.Addr()

	b, err := openBackends(context.Background(), cfg, clockwork.NewRealClock(), "")
	if err != nil {
		t.Fatalf("open backends: %v", err)
	}
	defer b.Close()

	if _, ok := b.snapshots.(*redisstore.SnapshotStore); !ok {
		t.Fatalf("expected redis snapshot store, got %T", b.snapshots)
	}
	if _, ok := b.games.(*memory.GameRepository); !ok {
		t.Fatalf("expected in-memory games without postgres, got %T", b.games)
	}
}

func TestOpenBackendsRedisUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := config.Default()
	cfg.Redis.Addr = mr.Addr()
	mr.Close()

	if _, err := openBackends(context.Background(), cfg, clockwork.NewRealClock(), ""); err == nil {
		t.Fatalf("expected ping failure")
	}
}

func TestOpenBackendsMissingQuestionFile(t *testing.T) {
	_, err := openBackends(context.Background(), config.Default(), clockwork.NewFakeClock(), "does-not-exist.xlsx")
	if err == nil {
		t.Fatalf("expected error for missing question file")
	}
}

func TestRetryPolicyFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Timer.StoreTimeout = "750ms"
	cfg.Timer.Retries = 5
	p := retryPolicy(cfg)
	if p.Timeout != 750*time.Millisecond || p.Attempts != 5 {
		t.Fatalf("unexpected policy %+v", p)
	}

	cfg.Timer.StoreTimeout = "soon"
	cfg.Timer.Retries = 0
	p = retryPolicy(cfg)
	if p != app.DefaultRetryPolicy() {
		t.Fatalf("expected defaults for bad values, got %+v", p)
	}
}

func TestBonusConfigFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Bonus.Capacity = 3
	cfg.Bonus.TTL = ""
	bc := bonusConfig(cfg)
	if bc.Capacity != 3 || bc.TTL != time.Hour || bc.Base != 0.01 {
		t.Fatalf("unexpected bonus config %+v", bc)
	}
}

func TestParseFlags(t *testing.T) {
	if s, err := parseStatus(" Completed "); err != nil || s != domain.GameStatusCompleted {
		t.Fatalf("parse status: %q %v", s, err)
	}
	if _, err := parseStatus("archived"); err == nil {
		t.Fatalf("expected error for unknown status")
	}
	if m, err := parsePlayMode("tournament"); err != nil || m != domain.PlayModeTournament {
		t.Fatalf("parse play mode: %q %v", m, err)
	}
	if ts, err := parseTime("replay-from", ""); err != nil || ts != nil {
		t.Fatalf("empty time must be nil, got %v %v", ts, err)
	}
	ts, err := parseTime("replay-to", "2025-01-02T03:04:05Z")
	if err != nil || ts.Year() != 2025 {
		t.Fatalf("parse time: %v %v", ts, err)
	}
	if _, err := parseTime("replay-to", "tomorrow"); err == nil {
		t.Fatalf("expected error for bad time")
	}
}
