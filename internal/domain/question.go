package domain

import "math"

// QuestionType selects how an answer is checked.
type QuestionType string

const (
	QuestionMultipleChoice QuestionType = "multipleChoice"
	QuestionNumeric        QuestionType = "numeric"
)

// NumericAnswer is the expected value of a numeric question.
type NumericAnswer struct {
	Value     float64 `json:"correctAnswer"`
	Tolerance float64 `json:"tolerance,omitempty"`
	Unit      string  `json:"unit,omitempty"`
}

// Question is a question bank entry, including its answer key.
type Question struct {
	UID            string         `json:"uid"`
	Title          string         `json:"title"`
	Text           string         `json:"text"`
	Type           QuestionType   `json:"questionType"`
	Discipline     string         `json:"discipline"`
	GradeLevel     string         `json:"gradeLevel"`
	Themes         []string       `json:"themes"`
	TimeLimitSec   int            `json:"timeLimit,omitempty"`
	AnswerOptions  []string       `json:"answerOptions,omitempty"`
	CorrectAnswers []bool         `json:"correctAnswers,omitempty"`
	Numeric        *NumericAnswer `json:"numericQuestion,omitempty"`
	Explanation    string         `json:"explanation,omitempty"`
}

// QuestionView is what a client sees before answering.
type QuestionView struct {
	UID           string       `json:"uid"`
	Title         string       `json:"title"`
	Text          string       `json:"text"`
	Type          QuestionType `json:"questionType"`
	AnswerOptions []string     `json:"answerOptions,omitempty"`
	Unit          string       `json:"unit,omitempty"`
	TimeLimitSec  int          `json:"timeLimit,omitempty"`
	Index         int          `json:"questionIndex"`
	Total         int          `json:"totalQuestions"`
}

// View strips the answer key.
func (q Question) View(index, total int) QuestionView {
	v := QuestionView{
		UID:           q.UID,
		Title:         q.Title,
		Text:          q.Text,
		Type:          q.Type,
		AnswerOptions: q.AnswerOptions,
		TimeLimitSec:  q.TimeLimitSec,
		Index:         index,
		Total:         total,
	}
	if q.Numeric != nil {
		v.Unit = q.Numeric.Unit
	}
	return v
}

// CorrectIndices lists the indices of correct options.
func (q Question) CorrectIndices() []int {
	out := make([]int, 0, len(q.CorrectAnswers))
	for i, ok := range q.CorrectAnswers {
		if ok {
			out = append(out, i)
		}
	}
	return out
}

// Check grades selected answers. Multiple choice needs set equality with the
// correct indices; numeric questions take the first value within tolerance.
func (q Question) Check(selected []float64) bool {
	if q.Type == QuestionNumeric {
		if q.Numeric == nil || len(selected) != 1 {
			return false
		}
		return math.Abs(selected[0]-q.Numeric.Value) <= q.Numeric.Tolerance
	}
	correct := q.CorrectIndices()
	if len(correct) == 0 {
		return false
	}
	seen := make(map[int]struct{}, len(selected))
	for _, v := range selected {
		if v != math.Trunc(v) || v < 0 {
			return false
		}
		seen[int(v)] = struct{}{}
	}
	if len(seen) != len(correct) {
		return false
	}
	for _, idx := range correct {
		if _, ok := seen[idx]; !ok {
			return false
		}
	}
	return true
}

// QuestionFilter selects a question pool.
type QuestionFilter struct {
	Discipline string
	GradeLevel string
	Themes     []string
	Limit      int
}

// Matches reports whether q satisfies the filter (any theme matches).
func (f QuestionFilter) Matches(q Question) bool {
	if f.Discipline != "" && q.Discipline != f.Discipline {
		return false
	}
	if f.GradeLevel != "" && q.GradeLevel != f.GradeLevel {
		return false
	}
	if len(f.Themes) == 0 {
		return true
	}
	for _, want := range f.Themes {
		for _, have := range q.Themes {
			if want == have {
				return true
			}
		}
	}
	return false
}
