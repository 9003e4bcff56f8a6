package memory

import (
	"context"
	"sync"

	"buzzer-quiz-service/internal/domain"
)

// SnapshotStore keeps active game snapshots in a map.
type SnapshotStore struct {
	mu        sync.RWMutex
	snapshots map[string]domain.ActiveGameSnapshot
}

func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{snapshots: make(map[string]domain.ActiveGameSnapshot)}
}

func (s *SnapshotStore) SaveSnapshot(_ context.Context, snapshot domain.ActiveGameSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[snapshot.SessionID] = snapshot
	return nil
}

func (s *SnapshotStore) LoadSnapshot(_ context.Context, sessionID string) (domain.ActiveGameSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snapshots[sessionID]
	if !ok {
		return domain.ActiveGameSnapshot{}, domain.ErrNotFound
	}
	return snap, nil
}

func (s *SnapshotStore) DeleteSnapshot(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.snapshots, sessionID)
	return nil
}
