package xlsx

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
	"mathquest-engine/internal/domain"
)

const leaderboardSheet = "Leaderboard"

var leaderboardHeader = []interface{}{"Rank", "Username", "Score", "Participation", "Join order", "User ID"}

// WriteLeaderboard renders a ranked snapshot as a single-sheet workbook.
func WriteLeaderboard(w io.Writer, board domain.Leaderboard) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), leaderboardSheet); err != nil {
		return err
	}
	if err := f.SetSheetRow(leaderboardSheet, "A1", &leaderboardHeader); err != nil {
		return err
	}
	for i, e := range board.Entries {
		row := []interface{}{e.Rank, e.Username, e.Score, string(e.ParticipationType), e.JoinOrder, e.UserID}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(leaderboardSheet, cell, &row); err != nil {
			return err
		}
	}
	if err := f.SetColWidth(leaderboardSheet, "B", "B", 24); err != nil {
		return err
	}
	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write leaderboard workbook: %w", err)
	}
	return nil
}
