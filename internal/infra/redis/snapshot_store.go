package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"buzzer-quiz-service/internal/domain"
	"github.com/redis/go-redis/v9"
)

// SnapshotStore keeps active game snapshots as JSON strings so a restarted
// instance can still tell rejoining clients what was on screen.
type SnapshotStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewSnapshotStore(client *redis.Client, ttl time.Duration) *SnapshotStore {
	return &SnapshotStore{client: client, ttl: ttl}
}

func (s *SnapshotStore) SaveSnapshot(ctx context.Context, snapshot domain.ActiveGameSnapshot) error {
	raw, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	return s.client.Set(ctx, s.key(snapshot.SessionID), raw, s.ttl).Err()
}

func (s *SnapshotStore) LoadSnapshot(ctx context.Context, sessionID string) (domain.ActiveGameSnapshot, error) {
	raw, err := s.client.Get(ctx, s.key(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.ActiveGameSnapshot{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.ActiveGameSnapshot{}, fmt.Errorf("get snapshot: %w", err)
	}
	var snap domain.ActiveGameSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return domain.ActiveGameSnapshot{}, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return snap, nil
}

func (s *SnapshotStore) DeleteSnapshot(ctx context.Context, sessionID string) error {
	return s.client.Del(ctx, s.key(sessionID)).Err()
}

func (s *SnapshotStore) key(sessionID string) string {
	return "quiz:snapshot:" + sessionID
}
