package app

import (
	"context"
	"math"
	"math/rand"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"mathquest-engine/internal/domain"
)

const (
	practicePointsPerCorrect = 10
	practicePoolOversample   = 3
)

// NextQuestion is the result of advancing a practice session: either the next
// question or, once the pool is exhausted, the completion summary.
type NextQuestion struct {
	Question  *domain.QuestionView    `json:"question,omitempty"`
	Summary   *domain.PracticeSummary `json:"summary,omitempty"`
	Completed bool                    `json:"completed"`
}

// PracticeService runs self-paced sessions. Operations on one session id are
// serialised in-process; the session itself lives in the PracticeStore.
type PracticeService struct {
	questions QuestionRepository
	store     PracticeStore
	clock     clockwork.Clock
	ttl       time.Duration
	retry     RetryPolicy
	locks     *keyedMutex

	rndMu sync.Mutex
	rnd   *rand.Rand
}

func NewPracticeService(questions QuestionRepository, store PracticeStore, clock clockwork.Clock, ttl time.Duration, retry RetryPolicy) *PracticeService {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &PracticeService{
		questions: questions,
		store:     store,
		clock:     clock,
		ttl:       ttl,
		retry:     retry.normalized(),
		locks:     newKeyedMutex(),
		rnd:       rand.New(rand.NewSource(clock.Now().UnixNano())),
	}
}

// Start builds the question pool and opens a session on its first question.
func (s *PracticeService) Start(ctx context.Context, userID string, settings domain.PracticeSettings) (*domain.PracticeSession, domain.QuestionView, error) {
	if userID == "" {
		return nil, domain.QuestionView{}, domain.Validation("userId is required")
	}
	if err := settings.Validate(); err != nil {
		return nil, domain.QuestionView{}, err
	}

	pool, err := s.buildPool(ctx, settings)
	if err != nil {
		return nil, domain.QuestionView{}, err
	}

	now := s.clock.Now()
	session := &domain.PracticeSession{
		SessionID:    uuid.NewString(),
		UserID:       userID,
		Settings:     settings,
		State:        domain.PracticeCreated,
		QuestionPool: pool,
		Answers:      []domain.PracticeAnswer{},
		Statistics:   domain.PracticeStatistics{RetriedQuestions: []string{}},
		CreatedAt:    now,
		ExpiresAt:    now.Add(s.ttl),
	}
	view, err := s.currentView(ctx, session)
	if err != nil {
		return nil, domain.QuestionView{}, err
	}
	session.State = domain.PracticeQuestionReady
	if err := s.save(ctx, session); err != nil {
		return nil, domain.QuestionView{}, err
	}

	log.Info().
		Str("session_id", session.SessionID).
		Str("user_id", userID).
		Int("questions", len(pool)).
		Msg("practice session started")
	return session, view, nil
}

// SubmitAnswer grades the current question. It is only valid while that
// question is ready; a rejected submission leaves the session untouched.
func (s *PracticeService) SubmitAnswer(ctx context.Context, sessionID, questionUID string, selected []float64, timeSpentMs int64) (domain.PracticeFeedback, *domain.PracticeSession, error) {
	unlock := s.locks.lock(sessionID)
	defer unlock()

	session, err := s.load(ctx, sessionID)
	if err != nil {
		return domain.PracticeFeedback{}, nil, err
	}
	if session.State != domain.PracticeQuestionReady {
		return domain.PracticeFeedback{}, nil, domain.InvalidState("No question is awaiting an answer")
	}
	if questionUID != session.CurrentQuestionUID() {
		return domain.PracticeFeedback{}, nil, domain.InvalidState("Answer does not match the current question")
	}
	if timeSpentMs < 0 {
		return domain.PracticeFeedback{}, nil, domain.Validation("timeSpentMs cannot be negative")
	}

	question, err := retryValue(ctx, s.retry, func(ctx context.Context) (domain.Question, error) {
		return s.questions.GetQuestion(ctx, questionUID)
	})
	if err != nil {
		return domain.PracticeFeedback{}, nil, err
	}

	correct := question.Check(selected)
	session.Answers = append(session.Answers, domain.PracticeAnswer{
		QuestionUID:     questionUID,
		SelectedAnswers: append([]float64(nil), selected...),
		IsCorrect:       correct,
		SubmittedAt:     s.clock.Now(),
		TimeSpentMs:     timeSpentMs,
		AttemptNumber:   attemptsFor(session, questionUID) + 1,
	})
	session.State = domain.PracticeAnswered

	feedback := domain.PracticeFeedback{
		QuestionUID: questionUID,
		IsCorrect:   correct,
		CanRetry:    session.Settings.AllowRetry && !correct,
	}
	if correct {
		feedback.PointsEarned = practicePointsPerCorrect
	}
	if session.Settings.ShowImmediateFeedback {
		feedback.CorrectAnswers = question.CorrectIndices()
		feedback.NumericAnswer = question.Numeric
		feedback.Explanation = question.Explanation
	}
	session.LastFeedback = &feedback
	recomputeStatistics(session)

	if err := s.save(ctx, session); err != nil {
		return domain.PracticeFeedback{}, nil, err
	}
	return feedback, session, nil
}

// RetryQuestion reopens the current question after a wrong answer when retries
// are allowed. Its previous answer stops counting until it is answered again.
func (s *PracticeService) RetryQuestion(ctx context.Context, sessionID, questionUID string) (domain.QuestionView, error) {
	unlock := s.locks.lock(sessionID)
	defer unlock()

	session, err := s.load(ctx, sessionID)
	if err != nil {
		return domain.QuestionView{}, err
	}
	if session.State != domain.PracticeAnswered || session.LastFeedback == nil || !session.LastFeedback.CanRetry {
		return domain.QuestionView{}, domain.InvalidState("Retry is not available for this question")
	}
	if questionUID != session.CurrentQuestionUID() {
		return domain.QuestionView{}, domain.InvalidState("Retry does not match the current question")
	}

	view, err := s.currentView(ctx, session)
	if err != nil {
		return domain.QuestionView{}, err
	}
	session.State = domain.PracticeQuestionReady
	session.LastFeedback = nil
	if !slices.Contains(session.Statistics.RetriedQuestions, questionUID) {
		session.Statistics.RetriedQuestions = append(session.Statistics.RetriedQuestions, questionUID)
	}
	recomputeStatistics(session)

	if err := s.save(ctx, session); err != nil {
		return domain.QuestionView{}, err
	}
	return view, nil
}

// GetNextQuestion advances past an answered question, or past an unanswered
// one when skipCurrent is set. Advancing past the last question completes the session.
func (s *PracticeService) GetNextQuestion(ctx context.Context, sessionID string, skipCurrent bool) (NextQuestion, error) {
	unlock := s.locks.lock(sessionID)
	defer unlock()

	session, err := s.load(ctx, sessionID)
	if err != nil {
		return NextQuestion{}, err
	}
	switch session.State {
	case domain.PracticeAnswered:
	case domain.PracticeQuestionReady:
		if !skipCurrent {
			return NextQuestion{}, domain.InvalidState("Answer the current question or skip it")
		}
	default:
		return NextQuestion{}, domain.InvalidState("Practice session is already completed")
	}

	session.CurrentIndex++
	session.LastFeedback = nil
	if session.CurrentIndex >= len(session.QuestionPool) {
		summary := s.complete(session, domain.EndCompleted)
		if err := s.save(ctx, session); err != nil {
			return NextQuestion{}, err
		}
		return NextQuestion{Summary: &summary, Completed: true}, nil
	}

	view, err := s.currentView(ctx, session)
	if err != nil {
		return NextQuestion{}, err
	}
	session.State = domain.PracticeQuestionReady
	recomputeStatistics(session)
	if err := s.save(ctx, session); err != nil {
		return NextQuestion{}, err
	}
	return NextQuestion{Question: &view}, nil
}

// End completes the session from any state. Ending a completed session
// returns its existing summary.
func (s *PracticeService) End(ctx context.Context, sessionID string, reason domain.EndReason) (domain.PracticeSummary, error) {
	if !reason.Valid() {
		return domain.PracticeSummary{}, domain.Validation("Unknown end reason")
	}
	unlock := s.locks.lock(sessionID)
	defer unlock()

	session, err := s.load(ctx, sessionID)
	if err != nil {
		return domain.PracticeSummary{}, err
	}
	if session.State == domain.PracticeCompleted {
		return session.Summary(), nil
	}
	summary := s.complete(session, reason)
	if err := s.save(ctx, session); err != nil {
		return domain.PracticeSummary{}, err
	}
	return summary, nil
}

// GetState returns the stored session for reconnect resync.
func (s *PracticeService) GetState(ctx context.Context, sessionID string) (*domain.PracticeSession, error) {
	return s.load(ctx, sessionID)
}

// CurrentQuestion returns the view of the question at the current index.
func (s *PracticeService) CurrentQuestion(ctx context.Context, session *domain.PracticeSession) (domain.QuestionView, error) {
	return s.currentView(ctx, session)
}

func (s *PracticeService) complete(session *domain.PracticeSession, reason domain.EndReason) domain.PracticeSummary {
	now := s.clock.Now()
	session.State = domain.PracticeCompleted
	session.EndReason = reason
	session.CompletedAt = &now
	session.LastFeedback = nil
	recomputeStatistics(session)
	log.Info().
		Str("session_id", session.SessionID).
		Str("reason", string(reason)).
		Int("correct", session.Statistics.CorrectAnswers).
		Msg("practice session completed")
	return session.Summary()
}

func (s *PracticeService) buildPool(ctx context.Context, settings domain.PracticeSettings) ([]string, error) {
	var uids []string
	if len(settings.QuestionUIDs) > 0 {
		for _, uid := range settings.QuestionUIDs {
			if _, err := retryValue(ctx, s.retry, func(ctx context.Context) (domain.Question, error) {
				return s.questions.GetQuestion(ctx, uid)
			}); err != nil {
				return nil, err
			}
			uids = append(uids, uid)
		}
	} else {
		filter := domain.QuestionFilter{
			Discipline: settings.Discipline,
			GradeLevel: settings.GradeLevel,
			Themes:     settings.Themes,
		}
		if !settings.RandomizeQuestions {
			filter.Limit = settings.QuestionCount
		} else {
			filter.Limit = settings.QuestionCount * practicePoolOversample
		}
		questions, err := retryValue(ctx, s.retry, func(ctx context.Context) ([]domain.Question, error) {
			return s.questions.SelectQuestions(ctx, filter)
		})
		if err != nil {
			return nil, err
		}
		for _, q := range questions {
			uids = append(uids, q.UID)
		}
	}

	if settings.RandomizeQuestions {
		s.rndMu.Lock()
		s.rnd.Shuffle(len(uids), func(i, j int) { uids[i], uids[j] = uids[j], uids[i] })
		s.rndMu.Unlock()
	}
	if len(uids) > settings.QuestionCount {
		uids = uids[:settings.QuestionCount]
	}
	if len(uids) == 0 {
		return nil, domain.NotFound(domain.MsgNoQuestionsFound)
	}
	return uids, nil
}

func (s *PracticeService) currentView(ctx context.Context, session *domain.PracticeSession) (domain.QuestionView, error) {
	uid := session.CurrentQuestionUID()
	if uid == "" {
		return domain.QuestionView{}, domain.InvalidState("No current question")
	}
	q, err := retryValue(ctx, s.retry, func(ctx context.Context) (domain.Question, error) {
		return s.questions.GetQuestion(ctx, uid)
	})
	if err != nil {
		return domain.QuestionView{}, err
	}
	return q.View(session.CurrentIndex, len(session.QuestionPool)), nil
}

func (s *PracticeService) load(ctx context.Context, sessionID string) (*domain.PracticeSession, error) {
	type loaded struct {
		session *domain.PracticeSession
		ok      bool
	}
	res, err := retryValue(ctx, s.retry, func(ctx context.Context) (loaded, error) {
		session, ok, err := s.store.LoadSession(ctx, sessionID)
		return loaded{session: session, ok: ok}, err
	})
	if err != nil {
		return nil, err
	}
	if !res.ok {
		return nil, domain.NotFound(domain.MsgSessionNotFound)
	}
	return res.session, nil
}

func (s *PracticeService) save(ctx context.Context, session *domain.PracticeSession) error {
	return s.retry.do(ctx, func(ctx context.Context) error {
		return s.store.SaveSession(ctx, session, s.ttl)
	})
}

// recomputeStatistics derives the running totals from the answer history. Each
// question counts once, by its latest answer; a question reopened for retry is
// left out until it is answered again. Time spent includes every attempt.
func recomputeStatistics(session *domain.PracticeSession) {
	pending := ""
	if session.State == domain.PracticeQuestionReady {
		pending = session.CurrentQuestionUID()
	}

	latest := make(map[string]bool, len(session.Answers))
	var total int64
	for _, a := range session.Answers {
		total += a.TimeSpentMs
		latest[a.QuestionUID] = a.IsCorrect
	}
	delete(latest, pending)

	stats := &session.Statistics
	stats.QuestionsAttempted = len(latest)
	stats.CorrectAnswers = 0
	for _, ok := range latest {
		if ok {
			stats.CorrectAnswers++
		}
	}
	stats.IncorrectAnswers = stats.QuestionsAttempted - stats.CorrectAnswers
	stats.TotalTimeSpent = total
	stats.AccuracyPercentage = 0
	stats.AverageTimePerQuestion = 0
	if stats.QuestionsAttempted > 0 {
		stats.AccuracyPercentage = math.Round(float64(stats.CorrectAnswers)/float64(stats.QuestionsAttempted)*10000) / 100
		stats.AverageTimePerQuestion = math.Round(float64(total)/float64(stats.QuestionsAttempted)*100) / 100
	}
	if stats.RetriedQuestions == nil {
		stats.RetriedQuestions = []string{}
	}
}

func attemptsFor(session *domain.PracticeSession, questionUID string) int {
	n := 0
	for _, a := range session.Answers {
		if a.QuestionUID == questionUID {
			n++
		}
	}
	return n
}
