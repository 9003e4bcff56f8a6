package redis

import (
	"context"
	"sync"
	"time"

	"buzzer-quiz-service/internal/app"
	"github.com/redis/go-redis/v9"
)

// SessionRegistry is a Redis-aware implementation of app.SessionRegistry.
// Notes:
//   - Actors stay in a local map; their timers and subscribers are process bound.
//   - Redis marks which codes are live on this instance so other instances (or
//     operators) can see them.
type SessionRegistry struct {
	client   *redis.Client
	ttl      time.Duration
	mu       sync.RWMutex
	sessions map[string]*app.Session
}

func NewSessionRegistry(client *redis.Client, ttl time.Duration) *SessionRegistry {
	return &SessionRegistry{
		client:   client,
		ttl:      ttl,
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
	// best-effort liveness marker
	_ = r.client.Set(context.Background(), r.key(code), session.Data().ID, r.ttl).Err()
	return session
}

func (r *SessionRegistry) Get(code string) (*app.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	session, ok := r.sessions[code]
	if ok {
		_ = r.client.Expire(context.Background(), r.key(code), r.ttl).Err()
	}
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
	_ = r.client.Del(context.Background(), r.key(code)).Err()
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

func (r *SessionRegistry) key(code string) string {
	return "quiz:session:" + code
}
