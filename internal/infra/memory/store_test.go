package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"buzzer-quiz-service/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store := NewStore()
	err := store.CreateSession(context.Background(), domain.Session{
		ID:        "s1",
		Code:      "ABC-123",
		Status:    domain.StatusWaiting,
		CreatedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	return store
}

func TestStoreRejectsDuplicateCodeAndName(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	err := store.CreateSession(ctx, domain.Session{ID: "s2", Code: "ABC-123"})
	if !errors.Is(err, domain.ErrCodeTaken) {
		t.Fatalf("expected code taken, got %v", err)
	}

	if err := store.AddParticipant(ctx, domain.Participant{ID: "p1", SessionID: "s1", Name: "Alice"}); err != nil {
		t.Fatalf("add participant: %v", err)
	}
	err = store.AddParticipant(ctx, domain.Participant{ID: "p2", SessionID: "s1", Name: "Alice"})
	if !errors.Is(err, domain.ErrNameTaken) {
		t.Fatalf("expected name taken, got %v", err)
	}
}

func TestStoreRecordAnswerOncePerPair(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	if err := store.AddParticipant(ctx, domain.Participant{ID: "p1", SessionID: "s1", Name: "Alice"}); err != nil {
		t.Fatalf("add participant: %v", err)
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		dupes     int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.RecordAnswer(ctx, domain.Answer{
				SessionID:     "s1",
				ParticipantID: "p1",
				QuestionID:    "q1",
				Points:        100,
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, domain.ErrDuplicateAnswer):
				dupes++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if succeeded != 1 || dupes != 19 {
		t.Fatalf("expected 1 success and 19 duplicates, got %d/%d", succeeded, dupes)
	}
	p, err := store.GetParticipant(ctx, "p1")
	if err != nil {
		t.Fatalf("get participant: %v", err)
	}
	if p.Score != 100 {
		t.Fatalf("expected score 100, got %d", p.Score)
	}
	answers, _ := store.ListAnswers(ctx, "s1")
	if len(answers) != 1 {
		t.Fatalf("expected one stored answer, got %d", len(answers))
	}
}

func TestStoreAnalyticsUpsert(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	if _, err := store.GetAnalytics(ctx, "s1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	_ = store.SaveAnalytics(ctx, domain.Analytics{SessionID: "s1", TotalStudents: 1})
	_ = store.SaveAnalytics(ctx, domain.Analytics{SessionID: "s1", TotalStudents: 2})
	got, err := store.GetAnalytics(ctx, "s1")
	if err != nil {
		t.Fatalf("get analytics: %v", err)
	}
	if got.TotalStudents != 2 {
		t.Fatalf("expected latest analytics, got %+v", got)
	}
}
