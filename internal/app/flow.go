package app

import (
	"context"
	"fmt"
	"math"
	"time"

	"buzzer-quiz-service/internal/domain"
)

const (
	closeReasonTime      = "time"
	closeReasonAnswered  = "answered"
	closeReasonExhausted = "exhausted"
)

// questionFlow is the timed state of the question currently on screen.
type questionFlow struct {
	active         bool
	index          int
	question       domain.Question
	startedAt      time.Time
	phase          domain.Phase
	phaseStartedAt time.Time
	phaseDuration  int
	deadline       time.Time
	winnerID       string

	readingTimer *scheduledTask
	phaseTimer   *scheduledTask
	answerTimer  *scheduledTask
}

func (s *Session) startQuestionLocked(ctx context.Context, index int) {
	s.stopFlowLocked()

	s.data.CurrentQuestionIndex = index
	if err := s.deps.store.UpdateSession(ctx, s.data); err != nil {
		s.deps.logger.Warn("persist question index", "session", s.data.ID, "index", index, "error", err)
	}

	q := s.data.Questions[index]
	s.questionGen++
	s.flow = questionFlow{
		active:    true,
		index:     index,
		question:  q,
		startedAt: s.deps.clock.Now(),
	}

	reading := time.Duration(q.ReadingTime) * time.Second
	s.setPhaseLocked(domain.PhaseReading, reading)
	s.broadcastLocked(domain.EventQuestionStarted, s.snapshotLocked())
	s.deps.logger.Debug("question started", "session", s.data.ID, "question", q.ID, "index", index)

	if reading > 0 {
		s.flow.readingTimer = s.afterPhaseLocked(reading, s.enterAnswerPhaseLocked)
		return
	}
	s.enterAnswerPhaseLocked()
}

func (s *Session) enterAnswerPhaseLocked() {
	if s.flow.question.Type.BuzzerGated() {
		q := s.flow.question
		now := s.deps.clock.Now()
		if q.TimeLimit > 0 {
			limit := time.Duration(q.TimeLimit) * time.Second
			s.flow.deadline = now.Add(limit)
			s.flow.phaseTimer = s.afterQuestionLocked(limit, func() {
				if s.flow.phase == domain.PhaseArmed {
					s.closeQuestionLocked(closeReasonTime)
				}
			})
		}
		s.buzzer.Activate(q.ID)
		s.scoring.Open(q.ID)
		s.armBuzzerLocked()
		return
	}
	s.openDirectLocked()
}

func (s *Session) openDirectLocked() {
	q := s.flow.question
	limit := time.Duration(q.TimeLimit) * time.Second
	s.scoring.Open(q.ID)
	s.setPhaseLocked(domain.PhaseOpen, limit)
	s.broadcastLocked(domain.EventQuestionOpen, s.snapshotLocked())
	if limit > 0 {
		s.flow.phaseTimer = s.afterPhaseLocked(limit, func() {
			s.closeQuestionLocked(closeReasonTime)
		})
	}
}

// armBuzzerLocked enters ARMED for whatever remains of the question deadline.
func (s *Session) armBuzzerLocked() {
	var remaining time.Duration
	if !s.flow.deadline.IsZero() {
		remaining = s.flow.deadline.Sub(s.deps.clock.Now())
	}
	s.flow.winnerID = ""
	s.setPhaseLocked(domain.PhaseArmed, remaining)
	s.broadcastLocked(domain.EventBuzzerActivated, domain.BuzzerActivatedPayload{
		QuestionID:     s.flow.question.ID,
		PhaseStartedAt: s.flow.phaseStartedAt.UnixMilli(),
		PhaseDuration:  s.flow.phaseDuration,
		Excluded:       s.buzzer.State().Excluded,
	})
}

// Press races a student for the buzzer of the current question.
func (s *Session) Press(ctx context.Context, caller Caller, clientTimestamp int64) (domain.BuzzerPress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if caller.Role != domain.RoleStudent {
		return domain.BuzzerPress{}, domain.ErrPermissionDenied
	}
	p, ok := s.participants[caller.ParticipantID]
	if !ok {
		return domain.BuzzerPress{}, domain.ErrParticipantNotFound
	}
	if s.data.Status != domain.StatusActive || !s.flow.active || s.flow.phase != domain.PhaseArmed {
		return domain.BuzzerPress{}, domain.ErrBuzzerInactive
	}

	press, err := s.buzzer.Press(p.ID, p.Name, clientTimestamp)
	if err != nil {
		return press, err
	}

	if updated, err := s.deps.store.IncrementBuzzerWins(ctx, p.ID); err != nil {
		s.deps.logger.Warn("increment buzzer wins", "session", s.data.ID, "participant", p.ID, "error", err)
		// keep the live leaderboard on whatever the store holds
		if stored, gerr := s.deps.store.GetParticipant(ctx, p.ID); gerr == nil {
			p.BuzzerWins = stored.BuzzerWins
		}
	} else {
		p.BuzzerWins = updated.BuzzerWins
	}

	s.flow.winnerID = p.ID
	s.setPhaseLocked(domain.PhaseBuzzerAnswer, s.deps.answerWindow)
	s.broadcastLocked(domain.EventBuzzerWinner, domain.BuzzerWinnerPayload{
		QuestionID:      s.flow.question.ID,
		ParticipantID:   p.ID,
		ParticipantName: p.Name,
		Timestamp:       press.ServerTimestamp.UnixMilli(),
		PhaseStartedAt:  s.flow.phaseStartedAt.UnixMilli(),
		PhaseDuration:   s.flow.phaseDuration,
	})
	s.broadcastLocked(domain.EventBuzzerLocked, domain.BuzzerLockedPayload{
		QuestionID: s.flow.question.ID,
		WinnerID:   p.ID,
	})
	s.flow.answerTimer = s.afterPhaseLocked(s.deps.answerWindow, s.buzzerTimeoutLocked)
	return press, nil
}

func (s *Session) buzzerTimeoutLocked() {
	winnerID := s.flow.winnerID
	name := ""
	if p, ok := s.participants[winnerID]; ok {
		name = p.Name
	}
	s.broadcastLocked(domain.EventBuzzerTimeout, domain.BuzzerTimeoutPayload{
		QuestionID:      s.flow.question.ID,
		ParticipantID:   winnerID,
		ParticipantName: name,
	})
	s.rearmOrCloseLocked()
}

// rearmOrCloseLocked reopens the buzzer without the last winner, unless the
// deadline has passed or nobody is left to press.
func (s *Session) rearmOrCloseLocked() {
	s.flow.answerTimer.Cancel()
	s.buzzer.Reopen()

	if !s.flow.deadline.IsZero() && !s.deps.clock.Now().Before(s.flow.deadline) {
		s.closeQuestionLocked(closeReasonTime)
		return
	}
	if s.allExcludedLocked() {
		s.closeQuestionLocked(closeReasonExhausted)
		return
	}
	s.armBuzzerLocked()
}

func (s *Session) allExcludedLocked() bool {
	for id := range s.participants {
		if !s.buzzer.IsExcluded(id) {
			return false
		}
	}
	return true
}

// Submit scores an answer for the current question.
func (s *Session) Submit(ctx context.Context, caller Caller, questionID, value string, timeToAnswer *int64) (domain.AnswerResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if caller.Role != domain.RoleStudent {
		return domain.AnswerResult{}, domain.ErrPermissionDenied
	}
	p, ok := s.participants[caller.ParticipantID]
	if !ok {
		return domain.AnswerResult{}, domain.ErrParticipantNotFound
	}
	// a repeat is a duplicate whatever phase the question has moved on to
	if _, answered := s.scoring.Answer(p.ID, questionID); answered {
		return domain.AnswerResult{}, domain.ErrDuplicateAnswer
	}
	switch s.data.Status {
	case domain.StatusWaiting:
		return domain.AnswerResult{}, fmt.Errorf("session not started: %w", domain.ErrInvalidState)
	case domain.StatusCompleted:
		return domain.AnswerResult{}, domain.ErrQuestionClosed
	}
	if !s.flow.active || s.flow.question.ID != questionID {
		if s.hasQuestionLocked(questionID) {
			return domain.AnswerResult{}, domain.ErrQuestionClosed
		}
		return domain.AnswerResult{}, domain.ErrQuestionNotFound
	}

	q := s.flow.question
	switch s.flow.phase {
	case domain.PhaseReading:
		return domain.AnswerResult{}, fmt.Errorf("question not open yet: %w", domain.ErrInvalidState)
	case domain.PhaseArmed:
		return domain.AnswerResult{}, fmt.Errorf("press the buzzer first: %w", domain.ErrInvalidState)
	case domain.PhaseBuzzerAnswer:
		if s.flow.winnerID != p.ID {
			return domain.AnswerResult{}, fmt.Errorf("another participant holds the buzzer: %w", domain.ErrInvalidState)
		}
	}

	answer, updated, err := s.scoring.Submit(ctx, q, p.ID, value, timeToAnswer)
	if err != nil {
		return domain.AnswerResult{}, err
	}
	p.Score = updated.Score

	result := domain.AnswerResult{
		QuestionID: q.ID,
		IsCorrect:  answer.IsCorrect,
		Points:     answer.Points,
		TotalScore: p.Score,
	}
	if answer.IsCorrect {
		result.CorrectAnswer = q.CorrectAnswer
	}
	s.deliverLocked(caller.Reply, domain.EventAnswerReceived, result)
	s.broadcastLocked(domain.EventLeaderboardUpdate, domain.LeaderboardPayload{Leaderboard: s.leaderboardLocked()})

	if q.Type.BuzzerGated() {
		s.flow.answerTimer.Cancel()
		if answer.IsCorrect {
			s.closeQuestionLocked(closeReasonAnswered)
		} else {
			s.rearmOrCloseLocked()
		}
	}
	return result, nil
}

// Reveal freezes scoring for the current question and broadcasts its results.
func (s *Session) Reveal(_ context.Context, caller Caller) (domain.QuestionResults, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if caller.Role != domain.RoleHost {
		return domain.QuestionResults{}, domain.ErrPermissionDenied
	}
	if s.data.Status != domain.StatusActive || !s.flow.active {
		return domain.QuestionResults{}, fmt.Errorf("no question to reveal: %w", domain.ErrInvalidState)
	}

	q := s.flow.question
	s.stopFlowLocked()
	s.revealed[q.ID] = true
	s.flow.winnerID = ""
	s.setPhaseLocked(domain.PhaseResults, 0)

	results := s.resultsLocked(q)
	s.broadcastLocked(domain.EventShowResults, results)
	return results, nil
}

func (s *Session) resultsLocked(q domain.Question) domain.QuestionResults {
	results := domain.QuestionResults{
		QuestionID:     q.ID,
		CorrectAnswer:  q.CorrectAnswer,
		CorrectNames:   []string{},
		IncorrectNames: []string{},
	}
	for _, a := range s.scoring.Answers(q.ID) {
		name := ""
		if p, ok := s.participants[a.ParticipantID]; ok {
			name = p.Name
		}
		if a.IsCorrect {
			results.CorrectCount++
			results.CorrectNames = append(results.CorrectNames, name)
		} else {
			results.IncorrectCount++
			results.IncorrectNames = append(results.IncorrectNames, name)
		}
	}
	results.TotalAnswers = results.CorrectCount + results.IncorrectCount
	results.CorrectPercentage = percent(results.CorrectCount, results.TotalAnswers)
	return results
}

// closeQuestionLocked ends answering on its own accord and tells everyone why.
func (s *Session) closeQuestionLocked(reason string) {
	q := s.flow.question
	s.stopFlowLocked()
	s.flow.winnerID = ""
	s.setPhaseLocked(domain.PhaseClosed, 0)
	s.broadcastLocked(domain.EventQuestionEnded, domain.QuestionEndedPayload{
		QuestionID: q.ID,
		Reason:     reason,
	})
}

// haltQuestionLocked silently stops the current question on a host transition.
func (s *Session) haltQuestionLocked() {
	if !s.flow.active {
		return
	}
	s.stopFlowLocked()
	s.flow.winnerID = ""
	if s.flow.phase != domain.PhaseResults && s.flow.phase != domain.PhaseClosed {
		s.setPhaseLocked(domain.PhaseClosed, 0)
	}
}

// stopFlowLocked cancels every timer of the current question and stops both
// the arbiter and answer intake.
func (s *Session) stopFlowLocked() {
	if !s.flow.active {
		return
	}
	s.flow.readingTimer.Cancel()
	s.flow.phaseTimer.Cancel()
	s.flow.answerTimer.Cancel()
	s.buzzer.Deactivate()
	s.scoring.Close(s.flow.question.ID)
}

func (s *Session) setPhaseLocked(phase domain.Phase, d time.Duration) {
	s.phaseGen++
	s.flow.phase = phase
	s.flow.phaseStartedAt = s.deps.clock.Now()
	s.flow.phaseDuration = durationSeconds(d)
	s.saveSnapshotLocked()
}

func (s *Session) snapshotLocked() domain.ActiveGameSnapshot {
	return domain.ActiveGameSnapshot{
		SessionID:      s.data.ID,
		Question:       domain.NewQuestionPayload(s.flow.question, s.flow.index+1, len(s.data.Questions)),
		StartTime:      s.flow.startedAt.UnixMilli(),
		Phase:          s.flow.phase,
		PhaseStartedAt: s.flow.phaseStartedAt.UnixMilli(),
		PhaseDuration:  s.flow.phaseDuration,
		BuzzerWinnerID: s.flow.winnerID,
	}
}

func (s *Session) saveSnapshotLocked() {
	if s.deps.snapshots == nil || !s.flow.active {
		return
	}
	if err := s.deps.snapshots.SaveSnapshot(context.Background(), s.snapshotLocked()); err != nil {
		s.deps.logger.Warn("save snapshot", "session", s.data.ID, "error", err)
	}
}

func (s *Session) hasQuestionLocked(questionID string) bool {
	for _, q := range s.data.Questions {
		if q.ID == questionID {
			return true
		}
	}
	return false
}

// afterPhaseLocked schedules fn under the session lock unless the phase has
// moved on by the time it fires.
func (s *Session) afterPhaseLocked(d time.Duration, fn func()) *scheduledTask {
	gen := s.phaseGen
	return schedule(s.deps.clock, d, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.phaseGen != gen || !s.flow.active {
			return
		}
		fn()
	})
}

// afterQuestionLocked is afterPhaseLocked scoped to the whole question.
func (s *Session) afterQuestionLocked(d time.Duration, fn func()) *scheduledTask {
	gen := s.questionGen
	return schedule(s.deps.clock, d, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.questionGen != gen || !s.flow.active {
			return
		}
		fn()
	})
}

func durationSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}
