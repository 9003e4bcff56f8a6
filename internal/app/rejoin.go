package app

import "buzzer-quiz-service/internal/domain"

// RejoinView is what a session knows about one connection at join time.
type RejoinView struct {
	Status   domain.SessionStatus
	Snapshot *domain.ActiveGameSnapshot
	Question *domain.Question
	Revealed bool
	Answer   *domain.Answer
	Score    int
}

// RejoinCoordinator rebuilds the game state a (re)connecting client needs to
// render the current question.
type RejoinCoordinator struct{}

// GameState returns nil unless the session is running a question. Hosts and
// displays get the snapshot only. Students additionally learn whether they
// answered; the correct answer is included only if they got it right or the
// question has been revealed.
func (RejoinCoordinator) GameState(view RejoinView, role domain.Role) *domain.GameState {
	if view.Status != domain.StatusActive || view.Snapshot == nil {
		return nil
	}
	state := &domain.GameState{ActiveGameSnapshot: *view.Snapshot}
	if role != domain.RoleStudent || view.Answer == nil {
		return state
	}

	state.HasAnswered = true
	result := &domain.AnswerResult{
		QuestionID: view.Answer.QuestionID,
		IsCorrect:  view.Answer.IsCorrect,
		Points:     view.Answer.Points,
		TotalScore: view.Score,
	}
	if view.Question != nil && (view.Answer.IsCorrect || view.Revealed) {
		result.CorrectAnswer = view.Question.CorrectAnswer
	}
	state.LastAnswerResult = result
	return state
}
