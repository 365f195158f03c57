package cli

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"mathquest-engine/internal/app"
	"mathquest-engine/internal/config"
	transport "mathquest-engine/internal/transport/http"
	natsbus "mathquest-engine/internal/transport/nats"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	var questionFile string
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the game session server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			return runServer(cmd.Context(), cfg, *port, questionFile)
		},
	}
	cmd.Flags().StringVar(&questionFile, "questions", "", "xlsx question bank for the in-memory loader")
	return cmd
}

func runServer(ctx context.Context, cfg config.Config, portFlag, questionFile string) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Postgres.URL != "" {
		if err := runMigrations(ctx, cfg); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	clock := clockwork.NewRealClock()
	stores, err := openBackends(ctx, cfg, clock, questionFile)
	if err != nil {
		return err
	}
	defer stores.Close()

	eng, err := newEngine(cfg, stores, clock)
	if err != nil {
		return err
	}

	hub := transport.NewHub()
	var publisher transport.Publisher = hub
	if cfg.NATS.URL != "" {
		natsCfg := natsbus.DefaultConfig(cfg.NATS.URL, cfg.NATS.SubjectPrefix)
		nc, err := natsbus.Connect(natsCfg)
		if err != nil {
			return err
		}
		defer nc.Drain()

		relay, err := natsbus.StartRelay(nc, natsCfg.SubjectPrefix, hub)
		if err != nil {
			return err
		}
		defer relay.Close()
		publisher = natsbus.NewPublisher(nc, natsCfg.SubjectPrefix)
		log.Info().Str("url", cfg.NATS.URL).Msg("room events fan out through NATS")
	}

	events := transport.NewBroadcaster(publisher)
	scheduler := app.NewTimerScheduler(eng.timers, clock, events.TimerExpired)
	defer scheduler.Close()

	ws := transport.NewWSHandler(transport.Services{
		Timers:      eng.timers,
		Scheduler:   scheduler,
		Join:        eng.join,
		Tracker:     eng.tracker,
		Leaderboard: eng.leaderboard,
		Practice:    eng.practice,
	}, hub, events, cfg.Server.AllowedOrigins)

	server := &http.Server{
		Addr:              ":" + finalPort,
		Handler:           transport.NewRouter(ws, cfg.Server.AllowedOrigins),
		ReadHeaderTimeout: 15 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", server.Addr).Msg("starting mathquest engine")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
