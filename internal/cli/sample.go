package cli

import (
	"time"

	"mathquest-engine/internal/domain"
)

// sampleGames seeds the in-memory repository: one live game and one completed
// game open for replay for a week.
func sampleGames(now time.Time) []domain.GameInstance {
	from := now.Add(-time.Hour)
	to := now.Add(7 * 24 * time.Hour)
	return []domain.GameInstance{
		{
			ID:         "game-demo",
			AccessCode: "DEMO",
			Name:       "Demo live game",
			Status:     domain.GameStatusActive,
			PlayMode:   domain.PlayModeQuiz,
		},
		{
			ID:            "game-replay",
			AccessCode:    "REPLAY",
			Name:          "Demo replay",
			Status:        domain.GameStatusCompleted,
			PlayMode:      domain.PlayModeQuiz,
			AvailableFrom: &from,
			AvailableTo:   &to,
		},
	}
}

func sampleQuestions() []domain.Question {
	return []domain.Question{
		{
			UID:            "demo-add-1",
			Title:          "Addition",
			Text:           "What is 7 + 5?",
			Type:           domain.QuestionMultipleChoice,
			Discipline:     "math",
			GradeLevel:     "CE1",
			Themes:         []string{"addition"},
			TimeLimitSec:   20,
			AnswerOptions:  []string{"11", "12", "13"},
			CorrectAnswers: []bool{false, true, false},
		},
		{
			UID:            "demo-mul-1",
			Title:          "Multiplication",
			Text:           "Which products equal 12?",
			Type:           domain.QuestionMultipleChoice,
			Discipline:     "math",
			GradeLevel:     "CE2",
			Themes:         []string{"multiplication"},
			TimeLimitSec:   30,
			AnswerOptions:  []string{"3 x 4", "2 x 5", "6 x 2"},
			CorrectAnswers: []bool{true, false, true},
			Explanation:    "3 x 4 and 6 x 2 both make 12.",
		},
		{
			UID:          "demo-div-1",
			Title:        "Division",
			Text:         "What is 7 / 2?",
			Type:         domain.QuestionNumeric,
			Discipline:   "math",
			GradeLevel:   "CM1",
			Themes:       []string{"division", "decimals"},
			TimeLimitSec: 30,
			Numeric:      &domain.NumericAnswer{Value: 3.5, Tolerance: 0.01},
		},
	}
}
