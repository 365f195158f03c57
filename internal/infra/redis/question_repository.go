package redis

import (
	"context"
	"encoding/json"
	"math/rand"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
	"mathquest-engine/internal/domain"
)

// QuestionLoader fetches question bank entries from a backing store (e.g., Postgres).
type QuestionLoader interface {
	LoadQuestion(ctx context.Context, uid string) (domain.Question, error)
	SelectQuestions(ctx context.Context, filter domain.QuestionFilter) ([]domain.Question, error)
}

// QuestionRepository caches questions in Redis and falls back to a loader on cache miss.
// Each question is stored as: SET mathquest:question:{uid} {json}
type QuestionRepository struct {
	client *redis.Client
	loader QuestionLoader
	ttl    time.Duration
	sf     singleflight.Group

	rndMu sync.Mutex
	rnd   *rand.Rand
}

func NewQuestionRepository(client *redis.Client, loader QuestionLoader, ttl time.Duration) *QuestionRepository {
	return &QuestionRepository{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (r *QuestionRepository) GetQuestion(ctx context.Context, uid string) (domain.Question, error) {
	if q, ok := r.cached(ctx, uid); ok {
		return q, nil
	}

	result, err, _ := r.sf.Do(uid, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		if q, ok := r.cached(ctx, uid); ok {
			return q, nil
		}
		q, err := r.loader.LoadQuestion(ctx, uid)
		if err != nil {
			return domain.Question{}, err
		}
		r.store(ctx, q)
		return q, nil
	})
	if err != nil {
		return domain.Question{}, err
	}
	return result.(domain.Question), nil
}

// SelectQuestions always asks the loader; the returned questions warm the cache.
func (r *QuestionRepository) SelectQuestions(ctx context.Context, filter domain.QuestionFilter) ([]domain.Question, error) {
	questions, err := r.loader.SelectQuestions(ctx, filter)
	if err != nil {
		return nil, err
	}
	r.store(ctx, questions...)
	return questions, nil
}

func (r *QuestionRepository) cached(ctx context.Context, uid string) (domain.Question, bool) {
	raw, err := r.client.Get(ctx, questionKey(uid)).Bytes()
	if err != nil {
		return domain.Question{}, false
	}
	var q domain.Question
	if err := json.Unmarshal(raw, &q); err != nil {
		return domain.Question{}, false
	}
	return q, true
}

func (r *QuestionRepository) store(ctx context.Context, questions ...domain.Question) {
	if len(questions) == 0 {
		return
	}
	pipe := r.client.Pipeline()
	for _, q := range questions {
		payload, err := json.Marshal(q)
		if err != nil {
			continue
		}
		pipe.Set(ctx, questionKey(q.UID), payload, r.ttlWithJitter())
	}
	if _, err := pipe.Exec(ctx); err != nil {
		log.Warn().Err(err).Int("questions", len(questions)).Msg("question cache fill failed")
	}
}

func (r *QuestionRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	// add up to 10% jitter to spread expirations
	r.rndMu.Lock()
	defer r.rndMu.Unlock()
	jitterMax := int64(r.ttl) / 10
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}
