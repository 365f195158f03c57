package memory

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"mathquest-engine/internal/domain"
)

// QuestionLoader fetches question bank entries from a backing store.
type QuestionLoader interface {
	LoadQuestion(ctx context.Context, uid string) (domain.Question, error)
	SelectQuestions(ctx context.Context, filter domain.QuestionFilter) ([]domain.Question, error)
}

// QuestionRepository caches questions with TTL to avoid repeated DB hits.
// Selections always go to the loader; the questions they return warm the cache.
type QuestionRepository struct {
	loader QuestionLoader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group
	rndMu  sync.Mutex
	rnd    *rand.Rand

	mu    sync.RWMutex
	cache map[string]cachedQuestion
}

type cachedQuestion struct {
	question  domain.Question
	expiresAt time.Time
}

func NewQuestionRepository(loader QuestionLoader, ttl time.Duration) *QuestionRepository {
	return &QuestionRepository{
		loader: loader,
		ttl:    ttl,
		clock:  time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:  make(map[string]cachedQuestion),
	}
}

func (r *QuestionRepository) GetQuestion(ctx context.Context, uid string) (domain.Question, error) {
	if q, ok := r.cached(uid); ok {
		return q, nil
	}

	result, err, _ := r.sf.Do(uid, func() (interface{}, error) {
		if q, ok := r.cached(uid); ok {
			return q, nil
		}
		q, err := r.loader.LoadQuestion(ctx, uid)
		if err != nil {
			return domain.Question{}, err
		}
		r.store(q)
		return q, nil
	})
	if err != nil {
		return domain.Question{}, err
	}
	return result.(domain.Question), nil
}

func (r *QuestionRepository) SelectQuestions(ctx context.Context, filter domain.QuestionFilter) ([]domain.Question, error) {
	questions, err := r.loader.SelectQuestions(ctx, filter)
	if err != nil {
		return nil, err
	}
	for _, q := range questions {
		r.store(q)
	}
	return questions, nil
}

func (r *QuestionRepository) cached(uid string) (domain.Question, bool) {
	now := r.clock()
	r.mu.RLock()
	defer r.mu.RUnlock()
	if entry, ok := r.cache[uid]; ok && entry.expiresAt.After(now) {
		return entry.question, true
	}
	return domain.Question{}, false
}

func (r *QuestionRepository) store(q domain.Question) {
	expiresAt := r.clock().Add(r.ttlWithJitter())
	r.mu.Lock()
	r.cache[q.UID] = cachedQuestion{question: q, expiresAt: expiresAt}
	r.mu.Unlock()
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

// StaticQuestionLoader is a loader backed by an in-memory slice (tests/demos).
type StaticQuestionLoader struct {
	questions []domain.Question
	byUID     map[string]int
}

func NewStaticQuestionLoader(questions ...domain.Question) *StaticQuestionLoader {
	l := &StaticQuestionLoader{questions: questions, byUID: make(map[string]int, len(questions))}
	for i, q := range questions {
		l.byUID[q.UID] = i
	}
	return l
}

func (l *StaticQuestionLoader) LoadQuestion(_ context.Context, uid string) (domain.Question, error) {
	if i, ok := l.byUID[uid]; ok {
		return l.questions[i], nil
	}
	return domain.Question{}, domain.NotFound("Question not found")
}

func (l *StaticQuestionLoader) SelectQuestions(_ context.Context, filter domain.QuestionFilter) ([]domain.Question, error) {
	out := make([]domain.Question, 0)
	for _, q := range l.questions {
		if !filter.Matches(q) {
			continue
		}
		out = append(out, q)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}
