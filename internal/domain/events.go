package domain

import "time"

// Event names used on the session broadcast topic and in direct replies.
const (
	EventSessionJoined     = "session-joined"
	EventParticipantsList  = "participants-list"
	EventParticipantJoined = "participant-joined"
	EventParticipantLeft   = "participant-left"
	EventQuizStarted       = "quiz-started"
	EventQuestionStarted   = "question-started"
	EventQuestionOpen      = "question-open"
	EventQuestionEnded     = "question-ended"
	EventRoundEnded        = "round-ended"
	EventBuzzerActivated   = "buzzer-activated"
	EventBuzzerWinner      = "buzzer-winner"
	EventBuzzerLocked      = "buzzer-locked"
	EventBuzzerTimeout     = "buzzer-timeout"
	EventAnswerReceived    = "answer-received"
	EventShowResults       = "show-results"
	EventLeaderboardUpdate = "leaderboard-update"
	EventQuizEnded         = "end-quiz"
	EventAnalyticsReady    = "analytics-ready"
	EventAnalytics         = "analytics"
	EventError             = "error"
)

// Event is one message fanned out to session subscribers.
type Event struct {
	Type    string    `json:"type"`
	Payload any       `json:"payload"`
	At      time.Time `json:"-"`
}

// QuizStartedPayload announces the WAITING to ACTIVE transition.
type QuizStartedPayload struct {
	SessionID      string `json:"sessionId"`
	TotalQuestions int    `json:"totalQuestions"`
}

// QuestionEndedPayload is broadcast when a question stops accepting answers on its own.
type QuestionEndedPayload struct {
	QuestionID string `json:"questionId"`
	Reason     string `json:"reason"`
}

type BuzzerActivatedPayload struct {
	QuestionID     string   `json:"questionId"`
	PhaseStartedAt int64    `json:"phaseStartedAt"`
	PhaseDuration  int      `json:"phaseDuration"`
	Excluded       []string `json:"excluded"`
}

type BuzzerWinnerPayload struct {
	QuestionID      string `json:"questionId"`
	ParticipantID   string `json:"participantId"`
	ParticipantName string `json:"participantName"`
	Timestamp       int64  `json:"timestamp"`
	PhaseStartedAt  int64  `json:"phaseStartedAt"`
	PhaseDuration   int    `json:"phaseDuration"`
}

type BuzzerLockedPayload struct {
	QuestionID string `json:"questionId"`
	WinnerID   string `json:"winnerId"`
}

type BuzzerTimeoutPayload struct {
	QuestionID      string `json:"questionId"`
	ParticipantID   string `json:"participantId"`
	ParticipantName string `json:"participantName"`
}

type LeaderboardPayload struct {
	Leaderboard []LeaderboardEntry `json:"leaderboard"`
}

// QuizEndedPayload carries the final leaderboard and, when it could be
// computed, the analytics.
type QuizEndedPayload struct {
	SessionID   string             `json:"sessionId"`
	Leaderboard []LeaderboardEntry `json:"leaderboard"`
	Analytics   *Analytics         `json:"analytics,omitempty"`
}

type AnalyticsReadyPayload struct {
	SessionID string `json:"sessionId"`
}

type ParticipantJoinedPayload struct {
	Participant Participant `json:"participant"`
	Count       int         `json:"count"`
}

type ParticipantLeftPayload struct {
	ParticipantID string `json:"participantId"`
	Name          string `json:"name"`
}

type ParticipantsListPayload struct {
	Participants []Participant `json:"participants"`
}
