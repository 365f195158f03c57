package app_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"mathquest-engine/internal/app"
	"mathquest-engine/internal/domain"
	"mathquest-engine/internal/infra/memory"
)

func practiceBank() []domain.Question {
	return []domain.Question{
		{
			UID: "m1", Text: "2 + 2?", Type: domain.QuestionMultipleChoice,
			Discipline: "math", GradeLevel: "CE1", Themes: []string{"addition"},
			AnswerOptions: []string{"3", "4", "5"}, CorrectAnswers: []bool{false, true, false},
			Explanation: "Two plus two is four.",
		},
		{
			UID: "m2", Text: "Pick the even numbers", Type: domain.QuestionMultipleChoice,
			Discipline: "math", GradeLevel: "CE1", Themes: []string{"parity"},
			AnswerOptions: []string{"1", "2", "3", "4"}, CorrectAnswers: []bool{false, true, false, true},
		},
		{
			UID: "n1", Text: "Half of 3?", Type: domain.QuestionNumeric,
			Discipline: "math", GradeLevel: "CE1", Themes: []string{"fractions"},
			Numeric: &domain.NumericAnswer{Value: 1.5, Tolerance: 0.01},
		},
	}
}

func newPracticeService(clock clockwork.Clock) *app.PracticeService {
	repo := memory.NewQuestionRepository(memory.NewStaticQuestionLoader(practiceBank()...), time.Minute)
	return app.NewPracticeService(repo, memory.NewPracticeStore(clock), clock, 24*time.Hour, testRetry())
}

func practiceSettings(count int) domain.PracticeSettings {
	return domain.PracticeSettings{
		Discipline:            "math",
		GradeLevel:            "CE1",
		QuestionCount:         count,
		ShowImmediateFeedback: true,
		AllowRetry:            true,
	}
}

func TestPracticeFullFlow(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	practice := newPracticeService(clock)

	session, view, err := practice.Start(ctx, "u1", practiceSettings(3))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if session.State != domain.PracticeQuestionReady || view.UID != "m1" || view.Total != 3 {
		t.Fatalf("unexpected start state %+v / %+v", session, view)
	}

	fb, _, err := practice.SubmitAnswer(ctx, session.SessionID, "m1", []float64{1}, 4000)
	if err != nil {
		t.Fatalf("submit m1: %v", err)
	}
	if !fb.IsCorrect || fb.CanRetry || fb.Explanation == "" || len(fb.CorrectAnswers) != 1 {
		t.Fatalf("unexpected feedback %+v", fb)
	}

	next, err := practice.GetNextQuestion(ctx, session.SessionID, false)
	if err != nil || next.Question == nil || next.Question.UID != "m2" {
		t.Fatalf("expected m2, got %+v err=%v", next, err)
	}
	fb, _, _ = practice.SubmitAnswer(ctx, session.SessionID, "m2", []float64{3, 1}, 6000)
	if !fb.IsCorrect {
		t.Fatalf("set equality should accept any order")
	}

	practice.GetNextQuestion(ctx, session.SessionID, false)
	fb, st, _ := practice.SubmitAnswer(ctx, session.SessionID, "n1", []float64{2}, 2000)
	if fb.IsCorrect {
		t.Fatalf("2 is outside tolerance of 1.5")
	}
	if st.Statistics.QuestionsAttempted != 3 || st.Statistics.CorrectAnswers != 2 {
		t.Fatalf("unexpected statistics %+v", st.Statistics)
	}

	done, err := practice.GetNextQuestion(ctx, session.SessionID, false)
	if err != nil {
		t.Fatalf("next past end: %v", err)
	}
	if !done.Completed || done.Summary == nil {
		t.Fatalf("expected completion summary, got %+v", done)
	}
	sum := done.Summary
	if sum.TotalQuestions != 3 || sum.CorrectAnswers != 2 || sum.TotalTimeSpent != 12000 || sum.AverageTimePerQuestion != 4000 {
		t.Fatalf("unexpected summary %+v", sum)
	}
	if sum.FinalAccuracy != 66.67 || sum.Reason != domain.EndCompleted {
		t.Fatalf("unexpected accuracy or reason %+v", sum)
	}

	if _, err := practice.GetNextQuestion(ctx, session.SessionID, false); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("completed session must reject next, got %v", err)
	}
}

func TestPracticeSubmitInWrongStateLeavesStatistics(t *testing.T) {
	ctx := context.Background()
	practice := newPracticeService(clockwork.NewFakeClock())
	session, _, _ := practice.Start(ctx, "u1", practiceSettings(2))

	practice.SubmitAnswer(ctx, session.SessionID, "m1", []float64{0}, 1000)
	before, _ := practice.GetState(ctx, session.SessionID)

	if _, _, err := practice.SubmitAnswer(ctx, session.SessionID, "m1", []float64{1}, 1000); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("expected invalid state on second submit, got %v", err)
	}
	after, _ := practice.GetState(ctx, session.SessionID)
	if after.Statistics.QuestionsAttempted != before.Statistics.QuestionsAttempted ||
		after.Statistics.TotalTimeSpent != before.Statistics.TotalTimeSpent ||
		len(after.Answers) != len(before.Answers) {
		t.Fatalf("rejected submit changed statistics: %+v vs %+v", after.Statistics, before.Statistics)
	}
}

func TestPracticeSubmitForOtherQuestionRejected(t *testing.T) {
	ctx := context.Background()
	practice := newPracticeService(clockwork.NewFakeClock())
	session, _, _ := practice.Start(ctx, "u1", practiceSettings(2))
	if _, _, err := practice.SubmitAnswer(ctx, session.SessionID, "m2", []float64{1}, 10); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("expected invalid state, got %v", err)
	}
}

func TestPracticeRetry(t *testing.T) {
	ctx := context.Background()
	practice := newPracticeService(clockwork.NewFakeClock())
	session, _, _ := practice.Start(ctx, "u1", practiceSettings(2))

	fb, st, _ := practice.SubmitAnswer(ctx, session.SessionID, "m1", []float64{0}, 1000)
	if !fb.CanRetry || st.Statistics.QuestionsAttempted != 1 {
		t.Fatalf("wrong answer should be retryable, got %+v", fb)
	}

	view, err := practice.RetryQuestion(ctx, session.SessionID, "m1")
	if err != nil || view.UID != "m1" || view.Index != 0 {
		t.Fatalf("retry: %+v err=%v", view, err)
	}
	st, _ = practice.GetState(ctx, session.SessionID)
	if st.State != domain.PracticeQuestionReady || st.Statistics.QuestionsAttempted != 0 {
		t.Fatalf("retried question must not count until re-answered, got %+v", st.Statistics)
	}
	if len(st.Statistics.RetriedQuestions) != 1 {
		t.Fatalf("expected retried question recorded")
	}

	fb, st, _ = practice.SubmitAnswer(ctx, session.SessionID, "m1", []float64{1}, 500)
	if !fb.IsCorrect || st.Statistics.QuestionsAttempted != 1 || st.Statistics.CorrectAnswers != 1 {
		t.Fatalf("unexpected stats after retry %+v", st.Statistics)
	}
	if st.Statistics.TotalTimeSpent != 1500 || st.Answers[1].AttemptNumber != 2 {
		t.Fatalf("time must accumulate across attempts, got %+v", st.Statistics)
	}

	if _, err := practice.RetryQuestion(ctx, session.SessionID, "m1"); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("correct answer must not be retryable, got %v", err)
	}
}

func TestPracticeRetryDisabled(t *testing.T) {
	ctx := context.Background()
	practice := newPracticeService(clockwork.NewFakeClock())
	settings := practiceSettings(1)
	settings.AllowRetry = false
	settings.ShowImmediateFeedback = false
	session, _, _ := practice.Start(ctx, "u1", settings)

	fb, _, _ := practice.SubmitAnswer(ctx, session.SessionID, "m1", []float64{2}, 10)
	if fb.CanRetry || fb.CorrectAnswers != nil || fb.Explanation != "" {
		t.Fatalf("feedback must stay minimal, got %+v", fb)
	}
	if _, err := practice.RetryQuestion(ctx, session.SessionID, "m1"); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("expected invalid state, got %v", err)
	}
}

func TestPracticeSkipAndEnd(t *testing.T) {
	ctx := context.Background()
	practice := newPracticeService(clockwork.NewFakeClock())
	session, _, _ := practice.Start(ctx, "u1", practiceSettings(3))

	if _, err := practice.GetNextQuestion(ctx, session.SessionID, false); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("unanswered question needs skip, got %v", err)
	}
	next, err := practice.GetNextQuestion(ctx, session.SessionID, true)
	if err != nil || next.Question == nil || next.Question.Index != 1 {
		t.Fatalf("skip: %+v err=%v", next, err)
	}

	sum, err := practice.End(ctx, session.SessionID, domain.EndUserQuit)
	if err != nil {
		t.Fatalf("end: %v", err)
	}
	if sum.Reason != domain.EndUserQuit || sum.TotalQuestions != 3 || sum.CorrectAnswers != 0 {
		t.Fatalf("unexpected summary %+v", sum)
	}
	again, err := practice.End(ctx, session.SessionID, domain.EndTimeout)
	if err != nil || again.Reason != domain.EndUserQuit {
		t.Fatalf("ending twice keeps the first reason, got %+v err=%v", again, err)
	}
	if _, err := practice.End(ctx, session.SessionID, "bored"); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error for unknown reason, got %v", err)
	}
}

func TestPracticeUnknownSession(t *testing.T) {
	practice := newPracticeService(clockwork.NewFakeClock())
	_, _, err := practice.SubmitAnswer(context.Background(), "missing", "m1", nil, 0)
	if !errors.Is(err, domain.ErrNotFound) || err.Error() != domain.MsgSessionNotFound {
		t.Fatalf("expected session not found, got %v", err)
	}
}

func TestPracticeStartValidation(t *testing.T) {
	ctx := context.Background()
	practice := newPracticeService(clockwork.NewFakeClock())

	bad := practiceSettings(51)
	if _, _, err := practice.Start(ctx, "u1", bad); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error for 51 questions, got %v", err)
	}
	none := practiceSettings(5)
	none.Discipline = "history"
	if _, _, err := practice.Start(ctx, "u1", none); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected no questions found, got %v", err)
	}
}

func TestPracticeExplicitQuestionList(t *testing.T) {
	ctx := context.Background()
	practice := newPracticeService(clockwork.NewFakeClock())
	settings := domain.PracticeSettings{QuestionCount: 2, QuestionUIDs: []string{"n1", "m2"}}

	session, view, err := practice.Start(ctx, "u1", settings)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if view.UID != "n1" || len(session.QuestionPool) != 2 {
		t.Fatalf("expected explicit order, got %v", session.QuestionPool)
	}
}

func TestPracticeRandomizedPoolHasRequestedSize(t *testing.T) {
	ctx := context.Background()
	practice := newPracticeService(clockwork.NewFakeClock())
	settings := practiceSettings(2)
	settings.RandomizeQuestions = true

	session, _, err := practice.Start(ctx, "u1", settings)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if len(session.QuestionPool) != 2 {
		t.Fatalf("expected pool of 2, got %v", session.QuestionPool)
	}
}

func TestPracticeConcurrentSubmitsAreSerialised(t *testing.T) {
	ctx := context.Background()
	practice := newPracticeService(clockwork.NewFakeClock())
	session, _, _ := practice.Start(ctx, "u1", practiceSettings(1))

	var wg sync.WaitGroup
	var mu sync.Mutex
	accepted := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, _, err := practice.SubmitAnswer(ctx, session.SessionID, "m1", []float64{1}, 100); err == nil {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if accepted != 1 {
		t.Fatalf("expected exactly one accepted submit, got %d", accepted)
	}
}
