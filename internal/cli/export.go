package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"mathquest-engine/internal/app"
	"mathquest-engine/internal/config"
	redisstore "mathquest-engine/internal/infra/redis"
	"mathquest-engine/internal/infra/xlsx"
)

// NewExportLeaderboardCmd writes the current leaderboard snapshot of a game to a workbook.
func NewExportLeaderboardCmd(configPath *string) *cobra.Command {
	var accessCode, out string
	cmd := &cobra.Command{
		Use:   "export-leaderboard",
		Short: "Export a game's leaderboard snapshot to an xlsx file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			if cfg.Redis.Addr == "" {
				return fmt.Errorf("leaderboard export needs redis: snapshots of an in-memory server are not reachable")
			}
			accessCode = strings.TrimSpace(accessCode)
			if accessCode == "" {
				return fmt.Errorf("--access-code is required")
			}
			if out == "" {
				out = "leaderboard-" + accessCode + ".xlsx"
			}

			client := newRedisClient(cfg)
			defer client.Close()

			clock := clockwork.NewRealClock()
			leaderboard := app.NewLeaderboardService(
				redisstore.NewSnapshotStore(client),
				clock,
				config.TTLDuration(cfg.Leaderboard.TTL, 0),
				retryPolicy(cfg),
			)
			board, err := leaderboard.Snapshot(cmd.Context(), accessCode)
			if err != nil {
				return err
			}

			f, err := os.Create(out)
			if err != nil {
				return err
			}
			if err := xlsx.WriteLeaderboard(f, board); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			log.Info().Str("access_code", accessCode).Int("entries", len(board.Entries)).Str("file", out).Msg("leaderboard exported")
			return nil
		},
	}
	cmd.Flags().StringVar(&accessCode, "access-code", "", "game access code")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default leaderboard-<code>.xlsx)")
	return cmd
}
