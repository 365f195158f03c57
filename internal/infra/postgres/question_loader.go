package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"mathquest-engine/internal/domain"
)

// QuestionLoader loads question JSONB from Postgres.
type QuestionLoader struct {
	pool *pgxpool.Pool
}

func NewQuestionLoader(pool *pgxpool.Pool) *QuestionLoader {
	return &QuestionLoader{pool: pool}
}

func (l *QuestionLoader) LoadQuestion(ctx context.Context, uid string) (domain.Question, error) {
	var raw []byte
	err := l.pool.QueryRow(ctx, `SELECT data FROM questions WHERE uid=$1`, uid).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Question{}, domain.NotFound("Question not found")
	}
	if err != nil {
		return domain.Question{}, domain.Transient(fmt.Errorf("load question: %w", err))
	}
	return decodeQuestion(uid, raw)
}

// SelectQuestions filters on the indexed columns; any shared theme matches.
// A zero limit returns every match.
func (l *QuestionLoader) SelectQuestions(ctx context.Context, filter domain.QuestionFilter) ([]domain.Question, error) {
	themes := filter.Themes
	if themes == nil {
		themes = []string{}
	}
	rows, err := l.pool.Query(ctx, `
		SELECT uid, data FROM questions
		WHERE ($1 = '' OR discipline = $1)
		  AND ($2 = '' OR grade_level = $2)
		  AND (cardinality($3::text[]) = 0 OR themes && $3::text[])
		ORDER BY uid
		LIMIT NULLIF($4, 0)`,
		filter.Discipline, filter.GradeLevel, themes, filter.Limit)
	if err != nil {
		return nil, domain.Transient(fmt.Errorf("select questions: %w", err))
	}
	defer rows.Close()

	var out []domain.Question
	for rows.Next() {
		var uid string
		var raw []byte
		if err := rows.Scan(&uid, &raw); err != nil {
			return nil, domain.Transient(fmt.Errorf("scan question: %w", err))
		}
		q, err := decodeQuestion(uid, raw)
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Transient(fmt.Errorf("select questions: %w", err))
	}
	return out, nil
}

func decodeQuestion(uid string, raw []byte) (domain.Question, error) {
	var q domain.Question
	if err := json.Unmarshal(raw, &q); err != nil {
		return domain.Question{}, fmt.Errorf("%w: question %s: %v", domain.ErrMalformedRecord, uid, err)
	}
	q.UID = uid
	return q, nil
}

// UpsertQuestions writes question bank entries in one batch, replacing existing uids.
func (l *QuestionLoader) UpsertQuestions(ctx context.Context, questions []domain.Question) (int, error) {
	batch := &pgx.Batch{}
	for _, q := range questions {
		data, err := json.Marshal(q)
		if err != nil {
			return 0, fmt.Errorf("marshal question %s: %w", q.UID, err)
		}
		themes := q.Themes
		if themes == nil {
			themes = []string{}
		}
		batch.Queue(`
			INSERT INTO questions (uid, discipline, grade_level, themes, data)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (uid) DO UPDATE
			SET discipline = EXCLUDED.discipline,
			    grade_level = EXCLUDED.grade_level,
			    themes = EXCLUDED.themes,
			    data = EXCLUDED.data`,
			q.UID, q.Discipline, q.GradeLevel, themes, data)
	}
	results := l.pool.SendBatch(ctx, batch)
	defer results.Close()
	for range questions {
		if _, err := results.Exec(); err != nil {
			return 0, domain.Transient(fmt.Errorf("upsert questions: %w", err))
		}
	}
	return len(questions), nil
}
