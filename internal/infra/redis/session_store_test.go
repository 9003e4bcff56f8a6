package redis

import (
	"context"
	"testing"
	"time"

	"buzzer-quiz-service/internal/app"
	"buzzer-quiz-service/internal/domain"
	"buzzer-quiz-service/internal/infra/memory"
	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestSessionRegistrySetsAndClearsKeys(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	ctx := context.Background()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	registry := NewSessionRegistry(client, time.Minute)

	store := memory.NewStore()
	data := domain.Session{ID: "s1", Code: "XYZ-789", Status: domain.StatusWaiting, Questions: sampleQuiz().Questions}
	if err := store.CreateSession(ctx, data); err != nil {
		t.Fatalf("create session: %v", err)
	}

	session := registry.GetOrCreate("XYZ-789", func() *app.Session { return app.NewSession(data, store) })
	if !mr.Exists("quiz:session:XYZ-789") {
		t.Fatalf("expected redis key to be set")
	}
	if got, _ := mr.Get("quiz:session:XYZ-789"); got != "s1" {
		t.Fatalf("expected liveness key to hold session id, got %q", got)
	}

	registry.DeleteIfIdle("XYZ-789")
	if !mr.Exists("quiz:session:XYZ-789") {
		t.Fatalf("expected waiting session to stay live")
	}

	host := app.Caller{Role: domain.RoleHost}
	if err := session.Start(ctx, host); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := session.ForceEnd(ctx, host); err != nil {
		t.Fatalf("end: %v", err)
	}

	registry.DeleteIfIdle("XYZ-789")
	if mr.Exists("quiz:session:XYZ-789") {
		t.Fatalf("expected redis key to be removed")
	}
	if _, ok := registry.Get("XYZ-789"); ok {
		t.Fatalf("expected actor to be dropped")
	}
}

func TestSnapshotStoreRoundTrip(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	ctx := context.Background()
	snaps := NewSnapshotStore(newClient(mr), time.Hour)

	if _, err := snaps.LoadSnapshot(ctx, "s1"); err != domain.ErrNotFound {
		t.Fatalf("expected not found, got %v", err)
	}

	want := domain.ActiveGameSnapshot{
		SessionID:      "s1",
		Question:       domain.QuestionPayload{ID: "q2", Text: "Capital of France?", Type: domain.QuestionBuzzer, QuestionNumber: 2, TotalQuestions: 3},
		StartTime:      1700000000000,
		Phase:          domain.PhaseBuzzerAnswer,
		PhaseStartedAt: 1700000005000,
		PhaseDuration:  10,
		BuzzerWinnerID: "p1",
	}
	if err := snaps.SaveSnapshot(ctx, want); err != nil {
		t.Fatalf("save: %v", err)
	}
	if ttl := mr.TTL("quiz:snapshot:s1"); ttl != time.Hour {
		t.Fatalf("expected ttl of one hour, got %v", ttl)
	}

	got, err := snaps.LoadSnapshot(ctx, "s1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Question.ID != "q2" || got.Phase != domain.PhaseBuzzerAnswer || got.BuzzerWinnerID != "p1" || got.PhaseStartedAt != want.PhaseStartedAt {
		t.Fatalf("unexpected snapshot %+v", got)
	}

	if err := snaps.DeleteSnapshot(ctx, "s1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if mr.Exists("quiz:snapshot:s1") {
		t.Fatalf("expected snapshot key removed")
	}
}
