package xlsx

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/xuri/excelize/v2"
	"mathquest-engine/internal/domain"
)

// Question sheet columns, after one header row:
//
//	uid | discipline | gradeLevel | themes | type | text | options | correct | tolerance | explanation | timeLimit
//
// themes and correct are comma separated, options are separated by "|".
// For numeric questions correct holds the expected value.
const questionColumns = 11

// ReadQuestions imports every sheet of a question bank workbook. Invalid rows
// are logged and skipped.
func ReadQuestions(r io.Reader) ([]domain.Question, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open question workbook: %w", err)
	}
	defer f.Close()

	var out []domain.Question
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("read sheet %s: %w", sheet, err)
		}
		for i, row := range rows {
			if i == 0 {
				continue
			}
			q, err := parseQuestionRow(row)
			if err != nil {
				log.Warn().Err(err).Str("sheet", sheet).Int("row", i+1).Msg("skipping question row")
				continue
			}
			out = append(out, q)
		}
	}
	return out, nil
}

func parseQuestionRow(row []string) (domain.Question, error) {
	if len(row) < 8 {
		return domain.Question{}, fmt.Errorf("expected at least 8 columns, got %d", len(row))
	}
	for len(row) < questionColumns {
		row = append(row, "")
	}
	q := domain.Question{
		UID:         strings.TrimSpace(row[0]),
		Discipline:  strings.TrimSpace(row[1]),
		GradeLevel:  strings.TrimSpace(row[2]),
		Themes:      splitList(row[3], ","),
		Type:        domain.QuestionType(strings.TrimSpace(row[4])),
		Text:        strings.TrimSpace(row[5]),
		Explanation: strings.TrimSpace(row[9]),
	}
	if q.UID == "" || q.Text == "" {
		return domain.Question{}, fmt.Errorf("uid and text are required")
	}
	if v := strings.TrimSpace(row[10]); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil {
			return domain.Question{}, fmt.Errorf("time limit: %w", err)
		}
		q.TimeLimitSec = limit
	}

	switch q.Type {
	case domain.QuestionNumeric:
		value, err := strconv.ParseFloat(strings.TrimSpace(row[7]), 64)
		if err != nil {
			return domain.Question{}, fmt.Errorf("numeric answer: %w", err)
		}
		q.Numeric = &domain.NumericAnswer{Value: value}
		if v := strings.TrimSpace(row[8]); v != "" {
			if q.Numeric.Tolerance, err = strconv.ParseFloat(v, 64); err != nil {
				return domain.Question{}, fmt.Errorf("tolerance: %w", err)
			}
		}
	case domain.QuestionMultipleChoice, "":
		q.Type = domain.QuestionMultipleChoice
		q.AnswerOptions = splitList(row[6], "|")
		q.CorrectAnswers = make([]bool, len(q.AnswerOptions))
		for _, idx := range splitList(row[7], ",") {
			n, err := strconv.Atoi(idx)
			if err != nil || n < 0 || n >= len(q.AnswerOptions) {
				return domain.Question{}, fmt.Errorf("correct index %q out of range", idx)
			}
			q.CorrectAnswers[n] = true
		}
		if len(q.CorrectIndices()) == 0 {
			return domain.Question{}, fmt.Errorf("no correct answer")
		}
	default:
		return domain.Question{}, fmt.Errorf("unknown question type %q", q.Type)
	}
	return q, nil
}

func splitList(s, sep string) []string {
	out := []string{}
	for _, part := range strings.Split(s, sep) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
