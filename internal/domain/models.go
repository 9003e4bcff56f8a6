package domain

import "time"

// QuestionType selects how a question is played.
type QuestionType string

const (
	QuestionMultipleChoice QuestionType = "MULTIPLE_CHOICE"
	QuestionTrueFalse      QuestionType = "TRUE_FALSE"
	QuestionShortAnswer    QuestionType = "SHORT_ANSWER"
	QuestionOpenOral       QuestionType = "OPEN_ORAL"
	QuestionBuzzer         QuestionType = "BUZZER"
)

// BuzzerGated reports whether answering is gated behind a buzzer race.
func (t QuestionType) BuzzerGated() bool {
	return t == QuestionBuzzer
}

// Known reports whether t is a playable question type.
func (t QuestionType) Known() bool {
	switch t {
	case QuestionMultipleChoice, QuestionTrueFalse, QuestionShortAnswer, QuestionOpenOral, QuestionBuzzer:
		return true
	}
	return false
}

// SessionStatus is the lifecycle state of a session.
type SessionStatus string

const (
	StatusWaiting SessionStatus = "WAITING"
	StatusActive  SessionStatus = "ACTIVE"
	// StatusPaused is declared for wire compatibility; no transition enters it.
	StatusPaused    SessionStatus = "PAUSED"
	StatusCompleted SessionStatus = "COMPLETED"
)

// Role is fixed per connection at join time.
type Role string

const (
	RoleHost    Role = "host"
	RoleStudent Role = "student"
	RoleDisplay Role = "display"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleHost || r == RoleStudent || r == RoleDisplay
}

// Question is an immutable definition supplied by the question bank.
type Question struct {
	ID             string       `json:"id" yaml:"id"`
	Text           string       `json:"text" yaml:"text"`
	Type           QuestionType `json:"type" yaml:"type"`
	Options        []string     `json:"options,omitempty" yaml:"options"`
	CorrectAnswer  string       `json:"correctAnswer" yaml:"correctAnswer"`
	Points         int          `json:"points" yaml:"points"`
	NegativePoints int          `json:"negativePoints" yaml:"negativePoints"`
	TimeLimit      int          `json:"timeLimit" yaml:"timeLimit"`     // seconds
	ReadingTime    int          `json:"readingTime" yaml:"readingTime"` // seconds, 0 means none
	Round          int          `json:"round" yaml:"round"`
}

// Quiz is an ordered question set owned by the question bank.
type Quiz struct {
	ID        string     `json:"id" yaml:"id"`
	Title     string     `json:"title" yaml:"title"`
	Questions []Question `json:"questions" yaml:"questions"`
}

// SessionSettings are chosen by the host at launch.
type SessionSettings struct {
	AllowLateJoin   bool `json:"allowLateJoin"`
	ShowLiveResults bool `json:"showLiveResults"`
	MusicEnabled    bool `json:"musicEnabled"`
}

// Session is one live playthrough of a quiz.
type Session struct {
	ID                   string          `json:"id"`
	Code                 string          `json:"code"`
	HostID               string          `json:"hostId"`
	QuizID               string          `json:"quizId"`
	Status               SessionStatus   `json:"status"`
	CurrentQuestionIndex int             `json:"currentQuestionIndex"`
	Questions            []Question      `json:"-"`
	Settings             SessionSettings `json:"settings"`
	CreatedAt            time.Time       `json:"createdAt"`
	CompletedAt          *time.Time      `json:"completedAt,omitempty"`
}

// Participant represents one student and their accumulated score.
type Participant struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"sessionId"`
	Name       string    `json:"name"`
	Score      int       `json:"score"`
	BuzzerWins int       `json:"buzzerWins"`
	JoinedAt   time.Time `json:"joinedAt"`
}

// Answer is one scored submission. It is never modified once recorded.
type Answer struct {
	ID            string    `json:"id"`
	SessionID     string    `json:"sessionId"`
	ParticipantID string    `json:"participantId"`
	QuestionID    string    `json:"questionId"`
	Value         string    `json:"answer"`
	IsCorrect     bool      `json:"isCorrect"`
	Points        int       `json:"points"`
	TimeToAnswer  *int64    `json:"timeToAnswer,omitempty"` // milliseconds, client reported
	SubmittedAt   time.Time `json:"submittedAt"`
}

// LeaderboardEntry is a ranked view of a participant.
type LeaderboardEntry struct {
	ParticipantID string    `json:"participantId"`
	Name          string    `json:"name"`
	Score         int       `json:"score"`
	BuzzerWins    int       `json:"buzzerWins"`
	JoinedAt      time.Time `json:"joinedAt"`
	Rank          int       `json:"rank"`
}

// BuzzerPress is one press as received by the arbiter.
type BuzzerPress struct {
	ParticipantID   string    `json:"participantId"`
	ParticipantName string    `json:"participantName"`
	ClientTimestamp int64     `json:"clientTimestamp,omitempty"`
	ServerTimestamp time.Time `json:"timestamp"`
	Accepted        bool      `json:"accepted"`
}

// BuzzerState is a read-only copy of an arbiter's state.
type BuzzerState struct {
	QuestionID string        `json:"questionId"`
	Active     bool          `json:"active"`
	Locked     bool          `json:"locked"`
	Winner     *BuzzerPress  `json:"winner,omitempty"`
	Presses    []BuzzerPress `json:"-"`
	Excluded   []string      `json:"excluded,omitempty"`
}

// Phase is a timed sub-state of a question.
type Phase string

const (
	PhaseReading      Phase = "READING"
	PhaseOpen         Phase = "OPEN"
	PhaseArmed        Phase = "ARMED"
	PhaseBuzzerAnswer Phase = "BUZZER_ANSWER"
	PhaseClosed       Phase = "CLOSED"
	PhaseResults      Phase = "RESULTS"
)

// QuestionPayload is the public view of a question. It never carries the correct answer.
type QuestionPayload struct {
	ID             string       `json:"id"`
	Text           string       `json:"text"`
	Type           QuestionType `json:"type"`
	Options        []string     `json:"options,omitempty"`
	Points         int          `json:"points"`
	NegativePoints int          `json:"negativePoints"`
	TimeLimit      int          `json:"timeLimit"`
	ReadingTime    int          `json:"readingTime"`
	Round          int          `json:"round"`
	QuestionNumber int          `json:"questionNumber"`
	TotalQuestions int          `json:"totalQuestions"`
}

// NewQuestionPayload strips private fields from q.
func NewQuestionPayload(q Question, number, total int) QuestionPayload {
	return QuestionPayload{
		ID:             q.ID,
		Text:           q.Text,
		Type:           q.Type,
		Options:        append([]string(nil), q.Options...),
		Points:         q.Points,
		NegativePoints: q.NegativePoints,
		TimeLimit:      q.TimeLimit,
		ReadingTime:    q.ReadingTime,
		Round:          q.Round,
		QuestionNumber: number,
		TotalQuestions: total,
	}
}

// ActiveGameSnapshot describes what is currently showing in a session.
type ActiveGameSnapshot struct {
	SessionID      string          `json:"sessionId"`
	Question       QuestionPayload `json:"question"`
	StartTime      int64           `json:"startTime"` // unix ms when the question started
	Phase          Phase           `json:"phase"`
	PhaseStartedAt int64           `json:"phaseStartedAt"` // unix ms
	PhaseDuration  int             `json:"phaseDuration"`  // seconds, 0 when untimed
	BuzzerWinnerID string          `json:"buzzerWinnerId,omitempty"`
}

// AnswerResult is the per-participant outcome of a submission.
type AnswerResult struct {
	QuestionID    string `json:"questionId"`
	IsCorrect     bool   `json:"isCorrect"`
	Points        int    `json:"points"`
	TotalScore    int    `json:"totalScore"`
	CorrectAnswer string `json:"correctAnswer,omitempty"`
}

// GameState is reconstructed for (re)connecting clients.
type GameState struct {
	ActiveGameSnapshot
	HasAnswered      bool          `json:"hasAnswered"`
	LastAnswerResult *AnswerResult `json:"lastAnswerResult,omitempty"`
}

// QuestionResults is broadcast when the host reveals a question.
type QuestionResults struct {
	QuestionID        string   `json:"questionId"`
	CorrectAnswer     string   `json:"correctAnswer"`
	CorrectCount      int      `json:"correctCount"`
	IncorrectCount    int      `json:"incorrectCount"`
	CorrectNames      []string `json:"correctNames"`
	IncorrectNames    []string `json:"incorrectNames"`
	TotalAnswers      int      `json:"totalAnswers"`
	CorrectPercentage int      `json:"correctPercentage"`
}

// RoundSummary is emitted instead of starting the first question of a new round.
type RoundSummary struct {
	Round       int                `json:"round"`
	NextRound   int                `json:"nextRound"`
	Leaderboard []LeaderboardEntry `json:"leaderboard"`
}

// ScoreBucket is one histogram bar of the score distribution.
type ScoreBucket struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

// ParticipantResult is one row of the full results table.
type ParticipantResult struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	TotalScore  int         `json:"totalScore"`
	Rank        int         `json:"rank"`
	BuzzerWins  int         `json:"buzzerWins"`
	RoundScores map[int]int `json:"roundScores"`
}

// QuestionBuzzerStats describes the first scored press of a buzzer question.
type QuestionBuzzerStats struct {
	Winner      string `json:"winner"`
	FastestTime *int64 `json:"fastestTime,omitempty"`
	Accurate    bool   `json:"buzzerAccuracy"`
}

// QuestionStats aggregates all answers for one question.
type QuestionStats struct {
	QuestionID        string               `json:"questionId"`
	QuestionText      string               `json:"questionText"`
	Type              QuestionType         `json:"type"`
	Round             int                  `json:"round"`
	TotalAnswers      int                  `json:"totalAnswers"`
	CorrectCount      int                  `json:"correctCount"`
	WrongCount        int                  `json:"wrongCount"`
	CorrectPercentage int                  `json:"correctPercentage"`
	AverageTime       int64                `json:"averageTime"`
	CorrectNames      []string             `json:"correctNames"`
	IncorrectNames    []string             `json:"incorrectNames"`
	BuzzerStats       *QuestionBuzzerStats `json:"buzzerStats,omitempty"`
}

// BuzzerSummary aggregates buzzer questions across the session.
type BuzzerSummary struct {
	TotalBuzzerQuestions int    `json:"totalBuzzerQuestions"`
	FastestBuzz          *int64 `json:"fastestBuzz,omitempty"`
	AverageBuzzTime      int64  `json:"averageBuzzTime"`
	BuzzerAccuracy       int    `json:"buzzerAccuracy"`
}

// Analytics is the post-game aggregate for a session.
type Analytics struct {
	SessionID         string              `json:"sessionId"`
	TotalStudents     int                 `json:"totalStudents"`
	AverageScore      float64             `json:"averageScore"`
	ScoreDistribution []ScoreBucket       `json:"scoreDistribution"`
	TopPerformers     []LeaderboardEntry  `json:"topPerformers"`
	DetailedResults   []ParticipantResult `json:"detailedResults"`
	QuestionStats     []QuestionStats     `json:"questionStats"`
	BuzzerStats       BuzzerSummary       `json:"buzzerStats"`
	GeneratedAt       time.Time           `json:"generatedAt"`
}
