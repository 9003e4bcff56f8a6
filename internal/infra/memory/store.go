package memory

import (
	"context"
	"sort"
	"sync"

	"buzzer-quiz-service/internal/domain"
)

// Store is an in-memory implementation of app.Store. It enforces the same
// uniqueness rules as the Postgres schema.
type Store struct {
	mu           sync.RWMutex
	sessions     map[string]domain.Session
	codes        map[string]string
	participants map[string]domain.Participant
	answers      map[string][]domain.Answer
	answered     map[string]struct{}
	analytics    map[string]domain.Analytics
}

func NewStore() *Store {
	return &Store{
		sessions:     make(map[string]domain.Session),
		codes:        make(map[string]string),
		participants: make(map[string]domain.Participant),
		answers:      make(map[string][]domain.Answer),
		answered:     make(map[string]struct{}),
		analytics:    make(map[string]domain.Analytics),
	}
}

func (s *Store) CreateSession(_ context.Context, session domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.codes[session.Code]; ok {
		return domain.ErrCodeTaken
	}
	s.sessions[session.ID] = cloneSession(session)
	s.codes[session.Code] = session.ID
	return nil
}

func (s *Store) GetSession(_ context.Context, id string) (domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[id]
	if !ok {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	return cloneSession(session), nil
}

func (s *Store) GetSessionByCode(ctx context.Context, code string) (domain.Session, error) {
	s.mu.RLock()
	id, ok := s.codes[code]
	s.mu.RUnlock()
	if !ok {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	return s.GetSession(ctx, id)
}

func (s *Store) UpdateSession(_ context.Context, session domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.sessions[session.ID]
	if !ok {
		return domain.ErrSessionNotFound
	}
	current.Status = session.Status
	current.CurrentQuestionIndex = session.CurrentQuestionIndex
	current.CompletedAt = session.CompletedAt
	s.sessions[session.ID] = current
	return nil
}

func (s *Store) AddParticipant(_ context.Context, participant domain.Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[participant.SessionID]; !ok {
		return domain.ErrSessionNotFound
	}
	for _, p := range s.participants {
		if p.SessionID == participant.SessionID && p.Name == participant.Name {
			return domain.ErrNameTaken
		}
	}
	s.participants[participant.ID] = participant
	return nil
}

func (s *Store) GetParticipant(_ context.Context, id string) (domain.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.participants[id]
	if !ok {
		return domain.Participant{}, domain.ErrParticipantNotFound
	}
	return p, nil
}

func (s *Store) ListParticipants(_ context.Context, sessionID string) ([]domain.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Participant, 0)
	for _, p := range s.participants {
		if p.SessionID == sessionID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].JoinedAt.Before(out[j].JoinedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) IncrementBuzzerWins(_ context.Context, participantID string) (domain.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.participants[participantID]
	if !ok {
		return domain.Participant{}, domain.ErrParticipantNotFound
	}
	p.BuzzerWins++
	s.participants[participantID] = p
	return p, nil
}

// RecordAnswer inserts the answer and applies its delta under one lock.
func (s *Store) RecordAnswer(_ context.Context, answer domain.Answer) (domain.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.participants[answer.ParticipantID]
	if !ok {
		return domain.Participant{}, domain.ErrParticipantNotFound
	}
	key := answer.ParticipantID + "|" + answer.QuestionID
	if _, dup := s.answered[key]; dup {
		return domain.Participant{}, domain.ErrDuplicateAnswer
	}
	s.answered[key] = struct{}{}
	s.answers[answer.SessionID] = append(s.answers[answer.SessionID], answer)
	p.Score += answer.Points
	s.participants[p.ID] = p
	return p, nil
}

func (s *Store) ListAnswers(_ context.Context, sessionID string) ([]domain.Answer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.Answer(nil), s.answers[sessionID]...), nil
}

// SaveAnalytics replaces any previous analytics for the session.
func (s *Store) SaveAnalytics(_ context.Context, analytics domain.Analytics) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.analytics[analytics.SessionID] = analytics
	return nil
}

func (s *Store) GetAnalytics(_ context.Context, sessionID string) (domain.Analytics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.analytics[sessionID]
	if !ok {
		return domain.Analytics{}, domain.ErrAnalyticsNotFound
	}
	return a, nil
}

func cloneSession(session domain.Session) domain.Session {
	session.Questions = append([]domain.Question(nil), session.Questions...)
	return session
}
