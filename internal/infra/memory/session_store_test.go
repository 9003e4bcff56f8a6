package memory

import (
	"context"
	"testing"
	"time"

	"buzzer-quiz-service/internal/app"
	"buzzer-quiz-service/internal/domain"
)

func TestSessionRegistryLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	registry := NewSessionRegistry()

	data := domain.Session{
		ID:        "s1",
		Code:      "ABC-123",
		Status:    domain.StatusWaiting,
		Questions: sampleQuiz().Questions,
		CreatedAt: time.Now(),
	}
	if err := store.CreateSession(ctx, data); err != nil {
		t.Fatalf("create session: %v", err)
	}

	created := 0
	create := func() *app.Session {
		created++
		return app.NewSession(data, store)
	}
	session := registry.GetOrCreate("ABC-123", create)
	if session == nil {
		t.Fatalf("expected session")
	}
	if again := registry.GetOrCreate("ABC-123", create); again != session || created != 1 {
		t.Fatalf("expected the existing actor to be reused, created=%d", created)
	}

	if codes := registry.Codes(); len(codes) != 1 || codes[0] != "ABC-123" {
		t.Fatalf("unexpected codes %v", codes)
	}
	if registry.DeleteIfIdle("ABC-123") {
		t.Fatalf("a fresh waiting session must not be evicted")
	}
	if _, ok := registry.Get("ABC-123"); !ok {
		t.Fatalf("waiting session must stay registered")
	}

	host := app.Caller{Role: domain.RoleHost}
	if err := session.Start(ctx, host); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := session.ForceEnd(ctx, host); err != nil {
		t.Fatalf("end: %v", err)
	}

	if !registry.DeleteIfIdle("ABC-123") {
		t.Fatalf("expected completed session to be evicted")
	}
	if _, ok := registry.Get("ABC-123"); ok {
		t.Fatalf("expected completed session without subscribers to be removed")
	}
}

func TestSnapshotStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	snaps := NewSnapshotStore()

	if _, err := snaps.LoadSnapshot(ctx, "s1"); err == nil {
		t.Fatalf("expected missing snapshot")
	}
	want := domain.ActiveGameSnapshot{SessionID: "s1", Phase: domain.PhaseArmed, PhaseDuration: 20}
	if err := snaps.SaveSnapshot(ctx, want); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := snaps.LoadSnapshot(ctx, "s1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Phase != domain.PhaseArmed || got.PhaseDuration != 20 {
		t.Fatalf("unexpected snapshot %+v", got)
	}
	if err := snaps.DeleteSnapshot(ctx, "s1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := snaps.LoadSnapshot(ctx, "s1"); err == nil {
		t.Fatalf("expected snapshot to be deleted")
	}
}
