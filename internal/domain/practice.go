package domain

import "time"

// PracticeState is the position of a practice session in its state machine.
type PracticeState string

const (
	PracticeCreated       PracticeState = "created"
	PracticeQuestionReady PracticeState = "question_ready"
	PracticeAnswered      PracticeState = "answered"
	PracticeCompleted     PracticeState = "completed"
)

// EndReason tags why a practice session completed.
type EndReason string

const (
	EndCompleted EndReason = "completed"
	EndUserQuit  EndReason = "user_quit"
	EndTimeout   EndReason = "timeout"
)

func (r EndReason) Valid() bool {
	switch r {
	case EndCompleted, EndUserQuit, EndTimeout:
		return true
	}
	return false
}

// MaxPracticeQuestions bounds questionCount.
const MaxPracticeQuestions = 50

// PracticeSettings configures pool selection and feedback.
type PracticeSettings struct {
	GradeLevel            string   `json:"gradeLevel"`
	Discipline            string   `json:"discipline"`
	Themes                []string `json:"themes"`
	QuestionCount         int      `json:"questionCount"`
	ShowImmediateFeedback bool     `json:"showImmediateFeedback"`
	AllowRetry            bool     `json:"allowRetry"`
	RandomizeQuestions    bool     `json:"randomizeQuestions"`
	QuestionUIDs          []string `json:"questionUids,omitempty"`
}

// Validate checks the settings before a pool is built.
func (s PracticeSettings) Validate() error {
	if len(s.QuestionUIDs) == 0 {
		if s.Discipline == "" {
			return Validation("Discipline is required")
		}
		if s.GradeLevel == "" {
			return Validation("Grade level is required")
		}
	}
	if s.QuestionCount < 1 {
		return Validation("Question count must be at least 1")
	}
	if s.QuestionCount > MaxPracticeQuestions {
		return Validation("Question count cannot exceed 50")
	}
	return nil
}

// PracticeAnswer records one submission.
type PracticeAnswer struct {
	QuestionUID     string    `json:"questionUid"`
	SelectedAnswers []float64 `json:"selectedAnswers"`
	IsCorrect       bool      `json:"isCorrect"`
	SubmittedAt     time.Time `json:"submittedAt"`
	TimeSpentMs     int64     `json:"timeSpentMs"`
	AttemptNumber   int       `json:"attemptNumber"`
}

// PracticeStatistics are running totals. A retried question stops counting
// until it is answered again.
type PracticeStatistics struct {
	QuestionsAttempted     int      `json:"questionsAttempted"`
	CorrectAnswers         int      `json:"correctAnswers"`
	IncorrectAnswers       int      `json:"incorrectAnswers"`
	AccuracyPercentage     float64  `json:"accuracyPercentage"`
	TotalTimeSpent         int64    `json:"totalTimeSpent"`
	AverageTimePerQuestion float64  `json:"averageTimePerQuestion"`
	RetriedQuestions       []string `json:"retriedQuestions"`
}

// PracticeFeedback is returned after a submission.
type PracticeFeedback struct {
	QuestionUID    string         `json:"questionUid"`
	IsCorrect      bool           `json:"isCorrect"`
	CorrectAnswers []int          `json:"correctAnswers,omitempty"`
	NumericAnswer  *NumericAnswer `json:"numericCorrectAnswer,omitempty"`
	Explanation    string         `json:"explanation,omitempty"`
	CanRetry       bool           `json:"canRetry"`
	PointsEarned   int            `json:"pointsEarned"`
}

// PracticeSummary is produced when a session completes.
type PracticeSummary struct {
	TotalQuestions         int       `json:"totalQuestions"`
	CorrectAnswers         int       `json:"correctAnswers"`
	FinalAccuracy          float64   `json:"finalAccuracy"`
	TotalTimeSpent         int64     `json:"totalTimeSpent"`
	AverageTimePerQuestion float64   `json:"averageTimePerQuestion"`
	Reason                 EndReason `json:"reason"`
}

// PracticeSession is the persisted state of one self-paced session.
type PracticeSession struct {
	SessionID    string             `json:"sessionId"`
	UserID       string             `json:"userId"`
	Settings     PracticeSettings   `json:"settings"`
	State        PracticeState      `json:"state"`
	QuestionPool []string           `json:"questionPool"`
	CurrentIndex int                `json:"currentQuestionIndex"`
	Answers      []PracticeAnswer   `json:"answers"`
	LastFeedback *PracticeFeedback  `json:"lastFeedback,omitempty"`
	Statistics   PracticeStatistics `json:"statistics"`
	EndReason    EndReason          `json:"endReason,omitempty"`
	CreatedAt    time.Time          `json:"createdAt"`
	CompletedAt  *time.Time         `json:"completedAt,omitempty"`
	ExpiresAt    time.Time          `json:"expiresAt"`
}

// CurrentQuestionUID returns the uid at the current index, or "" past the end.
func (s *PracticeSession) CurrentQuestionUID() string {
	if s.CurrentIndex < 0 || s.CurrentIndex >= len(s.QuestionPool) {
		return ""
	}
	return s.QuestionPool[s.CurrentIndex]
}

// Summary builds the completion summary from running statistics.
func (s *PracticeSession) Summary() PracticeSummary {
	return PracticeSummary{
		TotalQuestions:         len(s.QuestionPool),
		CorrectAnswers:         s.Statistics.CorrectAnswers,
		FinalAccuracy:          s.Statistics.AccuracyPercentage,
		TotalTimeSpent:         s.Statistics.TotalTimeSpent,
		AverageTimePerQuestion: s.Statistics.AverageTimePerQuestion,
		Reason:                 s.EndReason,
	}
}
