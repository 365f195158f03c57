package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"mathquest-engine/internal/config"
	"mathquest-engine/internal/domain"
	pgstore "mathquest-engine/internal/infra/postgres"
)

// NewImportQuestionsCmd loads a question bank workbook into Postgres.
func NewImportQuestionsCmd(configPath *string) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "import-questions",
		Short: "Import an xlsx question bank into Postgres",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := postgresConfig(*configPath)
			if err != nil {
				return err
			}
			if file == "" {
				return fmt.Errorf("--file is required")
			}
			questions, err := readQuestionFile(file)
			if err != nil {
				return err
			}

			pool, err := pgxpool.Connect(cmd.Context(), cfg.Postgres.URL)
			if err != nil {
				return err
			}
			defer pool.Close()

			n, err := pgstore.NewQuestionLoader(pool).UpsertQuestions(cmd.Context(), questions)
			if err != nil {
				return err
			}
			log.Info().Int("questions", n).Str("file", file).Msg("question bank imported")
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "xlsx workbook to import")
	return cmd
}

// NewCreateGameCmd registers a game instance so students can join it.
func NewCreateGameCmd(configPath *string) *cobra.Command {
	var (
		game       domain.GameInstance
		status     string
		playMode   string
		replayFrom string
		replayTo   string
	)
	cmd := &cobra.Command{
		Use:   "create-game",
		Short: "Create a game instance",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := postgresConfig(*configPath)
			if err != nil {
				return err
			}
			game.AccessCode = strings.TrimSpace(game.AccessCode)
			if game.AccessCode == "" {
				return fmt.Errorf("--access-code is required")
			}
			if game.Status, err = parseStatus(status); err != nil {
				return err
			}
			if game.PlayMode, err = parsePlayMode(playMode); err != nil {
				return err
			}
			if game.AvailableFrom, err = parseTime("replay-from", replayFrom); err != nil {
				return err
			}
			if game.AvailableTo, err = parseTime("replay-to", replayTo); err != nil {
				return err
			}

			db := openBunDB(cfg.Postgres.URL)
			defer db.Close()
			created, err := pgstore.NewGameRepository(db).CreateGameInstance(cmd.Context(), game)
			if err != nil {
				return err
			}
			log.Info().Str("id", created.ID).Str("access_code", created.AccessCode).Str("status", string(created.Status)).Msg("game created")
			return nil
		},
	}
	cmd.Flags().StringVar(&game.AccessCode, "access-code", "", "access code students join with")
	cmd.Flags().StringVar(&game.Name, "name", "", "display name")
	cmd.Flags().StringVar(&status, "status", string(domain.GameStatusPending), "pending, active, paused or completed")
	cmd.Flags().StringVar(&playMode, "play-mode", string(domain.PlayModeQuiz), "quiz, tournament or practice")
	cmd.Flags().StringVar(&replayFrom, "replay-from", "", "RFC 3339 start of the replay window")
	cmd.Flags().StringVar(&replayTo, "replay-to", "", "RFC 3339 end of the replay window")
	cmd.AddCommand(newSetGameStatusCmd(configPath))
	return cmd
}

func newSetGameStatusCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status <access-code> <status>",
		Short: "Move an existing game to another status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := postgresConfig(*configPath)
			if err != nil {
				return err
			}
			status, err := parseStatus(args[1])
			if err != nil {
				return err
			}
			db := openBunDB(cfg.Postgres.URL)
			defer db.Close()
			if err := pgstore.NewGameRepository(db).SetGameStatus(cmd.Context(), args[0], status); err != nil {
				return err
			}
			log.Info().Str("access_code", args[0]).Str("status", string(status)).Msg("game status updated")
			return nil
		},
	}
}

func postgresConfig(path string) (config.Config, error) {
	cfg, err := loadConfig(path)
	if err != nil {
		return cfg, err
	}
	if cfg.Postgres.URL == "" {
		return cfg, fmt.Errorf("postgres url not configured")
	}
	return cfg, nil
}

func parseStatus(raw string) (domain.GameStatus, error) {
	switch s := domain.GameStatus(strings.ToLower(strings.TrimSpace(raw))); s {
	case domain.GameStatusPending, domain.GameStatusActive, domain.GameStatusPaused, domain.GameStatusCompleted:
		return s, nil
	default:
		return "", fmt.Errorf("unknown game status %q", raw)
	}
}

func parsePlayMode(raw string) (domain.PlayMode, error) {
	switch m := domain.PlayMode(strings.ToLower(strings.TrimSpace(raw))); m {
	case domain.PlayModeQuiz, domain.PlayModeTournament, domain.PlayModePractice:
		return m, nil
	default:
		return "", fmt.Errorf("unknown play mode %q", raw)
	}
}

func parseTime(flag, raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, fmt.Errorf("--%s: %w", flag, err)
	}
	return &t, nil
}
