package cli

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"mathquest-engine/internal/app"
	"mathquest-engine/internal/config"
	"mathquest-engine/internal/domain"
	"mathquest-engine/internal/infra/memory"
	pgstore "mathquest-engine/internal/infra/postgres"
	redisstore "mathquest-engine/internal/infra/redis"
	"mathquest-engine/internal/infra/xlsx"
)

// backends holds the stores behind the engine. Redis and Postgres are optional;
// whatever is not configured falls back to the in-memory implementation.
type backends struct {
	timers    app.TimerStore
	joinOrder app.JoinOrderStore
	flags     app.FlagStore
	snapshots app.SnapshotStore
	practice  app.PracticeStore
	games     app.GameRepository
	questions app.QuestionRepository

	redis *redis.Client
	pool  *pgxpool.Pool
	db    *bun.DB
}

func (b *backends) Close() {
	if b.redis != nil {
		if err := b.redis.Close(); err != nil {
			log.Warn().Err(err).Msg("closing redis client")
		}
	}
	if b.pool != nil {
		b.pool.Close()
	}
	if b.db != nil {
		if err := b.db.Close(); err != nil {
			log.Warn().Err(err).Msg("closing postgres connection")
		}
	}
}

func newRedisClient(cfg config.Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
}

func openBunDB(url string) *bun.DB {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(url)))
	return bun.NewDB(sqldb, pgdialect.New())
}

// openBackends connects the configured stores. questionFile optionally seeds the
// in-memory question bank from a workbook when Postgres is not configured.
func openBackends(ctx context.Context, cfg config.Config, clock clockwork.Clock, questionFile string) (*backends, error) {
	b := &backends{}

	var loader memory.QuestionLoader
	if cfg.Postgres.URL != "" {
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return nil, fmt.Errorf("connect postgres pool: %w", err)
		}
		b.pool = pool
		b.db = openBunDB(cfg.Postgres.URL)
		loader = pgstore.NewQuestionLoader(pool)
		b.games = pgstore.NewGameRepository(b.db)
	} else {
		questions := sampleQuestions()
		if questionFile != "" {
			imported, err := readQuestionFile(questionFile)
			if err != nil {
				return nil, err
			}
			questions = imported
		}
		loader = memory.NewStaticQuestionLoader(questions...)
		b.games = memory.NewGameRepository(clock, sampleGames(clock.Now())...)
		log.Warn().Int("questions", len(questions)).Msg("postgres not configured, using in-memory games and question bank")
	}

	questionTTL := config.TTLDuration(cfg.Quiz.TTL, 10*time.Minute)
	if cfg.Redis.Addr != "" {
		client := newRedisClient(cfg)
		if err := client.Ping(ctx).Err(); err != nil {
			b.Close()
			client.Close()
			return nil, fmt.Errorf("ping redis %s: %w", cfg.Redis.Addr, err)
		}
		b.redis = client
		b.timers = redisstore.NewTimerStore(client)
		b.joinOrder = redisstore.NewJoinOrderStore(client)
		b.flags = redisstore.NewFlagStore(client)
		b.snapshots = redisstore.NewSnapshotStore(client)
		b.practice = redisstore.NewPracticeStore(client)
		b.questions = redisstore.NewQuestionRepository(client, loader, questionTTL)
		return b, nil
	}

	log.Warn().Msg("redis not configured, engine state is local to this process")
	b.timers = memory.NewTimerStore(clock)
	b.joinOrder = memory.NewJoinOrderStore(clock)
	b.flags = memory.NewFlagStore(clock)
	b.snapshots = memory.NewSnapshotStore(clock)
	b.practice = memory.NewPracticeStore(clock)
	b.questions = memory.NewQuestionRepository(loader, questionTTL)
	return b, nil
}

func readQuestionFile(path string) ([]domain.Question, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open question file: %w", err)
	}
	defer f.Close()
	questions, err := xlsx.ReadQuestions(f)
	if err != nil {
		return nil, err
	}
	if len(questions) == 0 {
		return nil, fmt.Errorf("no valid questions in %s", path)
	}
	return questions, nil
}

func retryPolicy(cfg config.Config) app.RetryPolicy {
	p := app.DefaultRetryPolicy()
	p.Timeout = config.TTLDuration(cfg.Timer.StoreTimeout, p.Timeout)
	if cfg.Timer.Retries > 0 {
		p.Attempts = cfg.Timer.Retries
	}
	return p
}

func bonusConfig(cfg config.Config) app.BonusConfig {
	d := app.DefaultBonusConfig()
	return app.BonusConfig{
		Base:      cfg.Bonus.Base,
		Decrement: cfg.Bonus.Decrement,
		Min:       cfg.Bonus.Min,
		Capacity:  cfg.Bonus.Capacity,
		TTL:       config.TTLDuration(cfg.Bonus.TTL, d.TTL),
	}
}

// engine is every use case built on top of a set of backends.
type engine struct {
	timers      *app.TimerService
	tracker     *app.DeferredTracker
	leaderboard *app.LeaderboardService
	join        *app.JoinService
	practice    *app.PracticeService
}

func newEngine(cfg config.Config, b *backends, clock clockwork.Clock) (*engine, error) {
	retry := retryPolicy(cfg)
	ledger, err := app.NewBonusLedger(b.joinOrder, bonusConfig(cfg), retry)
	if err != nil {
		return nil, err
	}
	tracker := app.NewDeferredTracker(b.flags, config.TTLDuration(cfg.Deferred.TTL, 24*time.Hour), retry)
	leaderboard := app.NewLeaderboardService(b.snapshots, clock, config.TTLDuration(cfg.Leaderboard.TTL, 24*time.Hour), retry)
	return &engine{
		timers: app.NewTimerService(b.timers, clock, app.TimerOptions{
			Retry: retry,
			TTL:   config.TTLDuration(cfg.Timer.TTL, 24*time.Hour),
		}),
		tracker:     tracker,
		leaderboard: leaderboard,
		join:        app.NewJoinService(b.games, tracker, ledger, leaderboard, clock, app.JoinOptions{Retry: retry}),
		practice:    app.NewPracticeService(b.questions, b.practice, clock, config.TTLDuration(cfg.Practice.TTL, 24*time.Hour), retry),
	}, nil
}
