package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"buzzer-quiz-service/internal/domain"
	"github.com/google/uuid"
)

// ScoringEngine records answers for one session and enforces at most one
// answer per participant and question.
type ScoringEngine struct {
	store     AnswerStore
	clock     Clock
	sessionID string

	mu       sync.Mutex
	open     map[string]bool
	answers  map[answerKey]domain.Answer
	inFlight map[answerKey]struct{}
}

type answerKey struct {
	participantID string
	questionID    string
}

func NewScoringEngine(sessionID string, store AnswerStore, clock Clock) *ScoringEngine {
	return &ScoringEngine{
		store:     store,
		clock:     clock,
		sessionID: sessionID,
		open:      make(map[string]bool),
		answers:   make(map[answerKey]domain.Answer),
		inFlight:  make(map[answerKey]struct{}),
	}
}

// Open starts accepting answers for questionID.
func (e *ScoringEngine) Open(questionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.open[questionID] = true
}

// Close stops accepting answers for questionID. It is never reopened.
func (e *ScoringEngine) Close(questionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.open[questionID] = false
}

func (e *ScoringEngine) IsOpen(questionID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.open[questionID]
}

// Submit scores value against q and persists the answer together with the
// score delta. The returned participant carries the updated total.
func (e *ScoringEngine) Submit(ctx context.Context, q domain.Question, participantID, value string, timeToAnswer *int64) (domain.Answer, domain.Participant, error) {
	key := answerKey{participantID: participantID, questionID: q.ID}

	e.mu.Lock()
	if _, ok := e.answers[key]; ok {
		e.mu.Unlock()
		return domain.Answer{}, domain.Participant{}, domain.ErrDuplicateAnswer
	}
	if _, ok := e.inFlight[key]; ok {
		e.mu.Unlock()
		return domain.Answer{}, domain.Participant{}, domain.ErrDuplicateAnswer
	}
	if !e.open[q.ID] {
		e.mu.Unlock()
		return domain.Answer{}, domain.Participant{}, domain.ErrQuestionClosed
	}
	e.inFlight[key] = struct{}{}
	e.mu.Unlock()

	isCorrect := value == q.CorrectAnswer
	points := -q.NegativePoints
	if isCorrect {
		points = q.Points
	}
	answer := domain.Answer{
		ID:            uuid.NewString(),
		SessionID:     e.sessionID,
		ParticipantID: participantID,
		QuestionID:    q.ID,
		Value:         value,
		IsCorrect:     isCorrect,
		Points:        points,
		TimeToAnswer:  timeToAnswer,
		SubmittedAt:   e.clock.Now(),
	}

	participant, err := e.store.RecordAnswer(ctx, answer)

	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.inFlight, key)
	if err != nil {
		if errors.Is(err, domain.ErrDuplicateAnswer) {
			return domain.Answer{}, domain.Participant{}, domain.ErrDuplicateAnswer
		}
		return domain.Answer{}, domain.Participant{}, fmt.Errorf("record answer: %w", err)
	}
	e.answers[key] = answer
	return answer, participant, nil
}

// Answer returns the recorded answer for a participant and question.
func (e *ScoringEngine) Answer(participantID, questionID string) (domain.Answer, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	a, ok := e.answers[answerKey{participantID: participantID, questionID: questionID}]
	return a, ok
}

// Answers returns every answer recorded for questionID in submission order.
func (e *ScoringEngine) Answers(questionID string) []domain.Answer {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]domain.Answer, 0)
	for key, a := range e.answers {
		if key.questionID == questionID {
			out = append(out, a)
		}
	}
	sortAnswers(out)
	return out
}

// Load seeds recorded answers, used when a session actor is rebuilt from storage.
func (e *ScoringEngine) Load(answers []domain.Answer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, a := range answers {
		e.answers[answerKey{participantID: a.ParticipantID, questionID: a.QuestionID}] = a
	}
}
