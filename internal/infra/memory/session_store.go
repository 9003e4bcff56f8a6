package memory

import (
	"sync"

	"buzzer-quiz-service/internal/app"
)

// SessionRegistry is an in-memory implementation of app.SessionRegistry.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*app.Session
}

func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{
		sessions: make(map[string]*app.Session),
	}
}

func (r *SessionRegistry) GetOrCreate(code string, create func() *app.Session) *app.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	if session, ok := r.sessions[code]; ok {
		return session
	}
	session := create()
	r.sessions[code] = session
	return session
}

func (r *SessionRegistry) Get(code string) (*app.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	session, ok := r.sessions[code]
	return session, ok
}

func (r *SessionRegistry) DeleteIfIdle(code string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[code]
	if !ok || !session.Retire() {
		return false
	}
	delete(r.sessions, code)
	return true
}

func (r *SessionRegistry) Codes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	codes := make([]string, 0, len(r.sessions))
	for code := range r.sessions {
		codes = append(codes, code)
	}
	return codes
}
