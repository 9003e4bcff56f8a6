package app

import (
	"fmt"
	"slices"
	"strings"
	"unicode/utf8"

	"buzzer-quiz-service/internal/domain"
)

const (
	minNameLength    = 2
	maxNameLength    = 30
	minTimeLimit     = 5
	DefaultPoints    = 100
	DefaultTimeLimit = 30
)

// SanitizeName trims a display name and truncates it to 30 characters.
func SanitizeName(raw string) (string, error) {
	name := strings.TrimSpace(raw)
	if utf8.RuneCountInString(name) < minNameLength {
		return "", domain.ErrInvalidName
	}
	if utf8.RuneCountInString(name) > maxNameLength {
		name = strings.TrimSpace(string([]rune(name)[:maxNameLength]))
	}
	return name, nil
}

// NormalizeCode upper-cases a user supplied session code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// PrepareQuestions applies defaults and rejects questions that cannot be played.
func PrepareQuestions(questions []domain.Question) ([]domain.Question, error) {
	if len(questions) == 0 {
		return nil, fmt.Errorf("quiz has no questions: %w", domain.ErrInvalidQuestion)
	}
	out := make([]domain.Question, 0, len(questions))
	seen := make(map[string]struct{}, len(questions))
	for i, q := range questions {
		if q.Points == 0 {
			q.Points = DefaultPoints
		}
		if q.TimeLimit == 0 {
			q.TimeLimit = DefaultTimeLimit
		}
		if q.Round <= 0 {
			q.Round = 1
		}
		if q.Type == domain.QuestionTrueFalse && len(q.Options) == 0 {
			q.Options = []string{"True", "False"}
		}
		if err := validateQuestion(q); err != nil {
			return nil, fmt.Errorf("question %d (%s): %w", i+1, q.ID, err)
		}
		if _, dup := seen[q.ID]; dup {
			return nil, fmt.Errorf("question %d: duplicate id %q: %w", i+1, q.ID, domain.ErrInvalidQuestion)
		}
		seen[q.ID] = struct{}{}
		out = append(out, q)
	}
	return out, nil
}

func validateQuestion(q domain.Question) error {
	switch {
	case q.ID == "":
		return fmt.Errorf("missing id: %w", domain.ErrInvalidQuestion)
	case strings.TrimSpace(q.Text) == "":
		return fmt.Errorf("missing text: %w", domain.ErrInvalidQuestion)
	case !q.Type.Known():
		return fmt.Errorf("unknown type %q: %w", q.Type, domain.ErrInvalidQuestion)
	case q.Points < 0 || q.NegativePoints < 0:
		return fmt.Errorf("negative points: %w", domain.ErrInvalidQuestion)
	case q.TimeLimit < minTimeLimit:
		return fmt.Errorf("time limit below %ds: %w", minTimeLimit, domain.ErrInvalidQuestion)
	case q.ReadingTime < 0:
		return fmt.Errorf("negative reading time: %w", domain.ErrInvalidQuestion)
	case q.CorrectAnswer == "" && q.Type != domain.QuestionOpenOral:
		return fmt.Errorf("missing correct answer: %w", domain.ErrInvalidQuestion)
	}
	if q.Type == domain.QuestionMultipleChoice || q.Type == domain.QuestionTrueFalse {
		if len(q.Options) < 2 {
			return fmt.Errorf("choice question needs at least 2 options: %w", domain.ErrInvalidQuestion)
		}
		if !slices.Contains(q.Options, q.CorrectAnswer) {
			return fmt.Errorf("correct answer not among options: %w", domain.ErrInvalidQuestion)
		}
	}
	return nil
}
