package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is the root of every lookup failure.
	ErrNotFound = errors.New("not found")
	// ErrPermissionDenied is returned when the caller's role may not issue a command.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrInvalidState is returned when a command is illegal in the current phase or status.
	ErrInvalidState = errors.New("invalid state")
	// ErrDuplicateAnswer is returned when an answer already exists for a participant and question.
	ErrDuplicateAnswer = errors.New("answer already submitted for this question")
	// ErrBuzzerInactive is returned for presses while the buzzer is unarmed or already locked.
	ErrBuzzerInactive = errors.New("buzzer is not active")
	// ErrTimeout marks an internal phase expiry. It never reaches a client.
	ErrTimeout = errors.New("phase timed out")

	ErrSessionNotFound     = fmt.Errorf("quiz session %w", ErrNotFound)
	ErrParticipantNotFound = fmt.Errorf("participant %w", ErrNotFound)
	ErrQuestionNotFound    = fmt.Errorf("question %w", ErrNotFound)
	ErrQuizNotFound        = fmt.Errorf("quiz %w", ErrNotFound)
	ErrAnalyticsNotFound   = fmt.Errorf("analytics %w", ErrNotFound)

	// ErrQuestionClosed is returned for submissions after a question stopped accepting answers.
	ErrQuestionClosed = fmt.Errorf("question closed: %w", ErrInvalidState)
	// ErrLateJoinDisabled rejects fresh student joins into a running session.
	ErrLateJoinDisabled = fmt.Errorf("session has already started: %w", ErrInvalidState)

	// ErrInvalidName is returned for participant names outside 2..30 characters.
	ErrInvalidName = errors.New("name must be between 2 and 30 characters")
	// ErrNameTaken is returned when the name is already used in the session.
	ErrNameTaken = errors.New("a participant with this name already exists in this session")
	// ErrCodeTaken is returned by stores when a generated session code collides.
	ErrCodeTaken = errors.New("session code already in use")
	// ErrInvalidQuestion is returned when a question definition cannot be played.
	ErrInvalidQuestion = errors.New("invalid question definition")
)
