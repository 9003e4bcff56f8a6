package app

import (
	"sort"
	"sync"

	"buzzer-quiz-service/internal/domain"
)

// BuzzerArbiter resolves concurrent presses for one question to a single winner.
// It has its own lock so the test-and-set stays linearizable even when callers
// do not serialize presses themselves.
type BuzzerArbiter struct {
	mu         sync.Mutex
	clock      Clock
	questionID string
	active     bool
	locked     bool
	winner     *domain.BuzzerPress
	presses    []domain.BuzzerPress
	excluded   map[string]struct{}
}

func NewBuzzerArbiter(clock Clock) *BuzzerArbiter {
	return &BuzzerArbiter{
		clock:    clock,
		excluded: make(map[string]struct{}),
	}
}

// Activate arms the buzzer for a fresh question.
func (a *BuzzerArbiter) Activate(questionID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.questionID = questionID
	a.active = true
	a.locked = false
	a.winner = nil
	a.presses = nil
	a.excluded = make(map[string]struct{})
}

// Press records a press stamped with the server receipt time. Only the first
// press seen while armed wins; every other press fails with ErrBuzzerInactive.
func (a *BuzzerArbiter) Press(participantID, name string, clientTimestamp int64) (domain.BuzzerPress, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	press := domain.BuzzerPress{
		ParticipantID:   participantID,
		ParticipantName: name,
		ClientTimestamp: clientTimestamp,
		ServerTimestamp: a.clock.Now(),
	}
	_, excluded := a.excluded[participantID]
	if !a.active || a.locked || excluded {
		a.presses = append(a.presses, press)
		return press, domain.ErrBuzzerInactive
	}

	press.Accepted = true
	a.presses = append(a.presses, press)
	a.locked = true
	winner := press
	a.winner = &winner
	return press, nil
}

// Reopen unlocks the buzzer for everyone except the current winner, who is
// excluded for the rest of the question.
func (a *BuzzerArbiter) Reopen() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.winner != nil {
		a.excluded[a.winner.ParticipantID] = struct{}{}
	}
	a.winner = nil
	a.locked = false
	a.active = true
}

// Exclude bars a participant from winning until the next Activate.
func (a *BuzzerArbiter) Exclude(participantID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.excluded[participantID] = struct{}{}
}

// Deactivate fully resets the arbiter.
func (a *BuzzerArbiter) Deactivate() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.questionID = ""
	a.active = false
	a.locked = false
	a.winner = nil
	a.presses = nil
	a.excluded = make(map[string]struct{})
}

// Winner returns the press holding the current lock, if any.
func (a *BuzzerArbiter) Winner() (domain.BuzzerPress, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.winner == nil {
		return domain.BuzzerPress{}, false
	}
	return *a.winner, true
}

// IsExcluded reports whether participantID may no longer win this question.
func (a *BuzzerArbiter) IsExcluded(participantID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.excluded[participantID]
	return ok
}

// State returns a copy safe to hand to other goroutines.
func (a *BuzzerArbiter) State() domain.BuzzerState {
	a.mu.Lock()
	defer a.mu.Unlock()
	state := domain.BuzzerState{
		QuestionID: a.questionID,
		Active:     a.active,
		Locked:     a.locked,
		Presses:    append([]domain.BuzzerPress(nil), a.presses...),
		Excluded:   make([]string, 0, len(a.excluded)),
	}
	if a.winner != nil {
		winner := *a.winner
		state.Winner = &winner
	}
	for id := range a.excluded {
		state.Excluded = append(state.Excluded, id)
	}
	sort.Strings(state.Excluded)
	return state
}
