package app_test

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"buzzer-quiz-service/internal/app"
	"buzzer-quiz-service/internal/domain"
	"buzzer-quiz-service/internal/infra/memory"
	"github.com/stretchr/testify/require"
)

// fakeClock fires timers only when Advance moves time past their deadline.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	fn      func()
	stopped bool
	fired   bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 11, 22, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) app.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), fn: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	pending := !t.stopped && !t.fired
	t.stopped = true
	return pending
}

// Advance fires due timers in deadline order. Callbacks run without the
// clock lock so they may schedule new timers.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	for {
		pending := make([]*fakeTimer, 0, len(c.timers))
		for _, t := range c.timers {
			if !t.stopped && !t.fired && !t.at.After(target) {
				pending = append(pending, t)
			}
		}
		if len(pending) == 0 {
			break
		}
		sort.SliceStable(pending, func(i, j int) bool { return pending[i].at.Before(pending[j].at) })
		next := pending[0]
		next.fired = true
		if next.at.After(c.now) {
			c.now = next.at
		}
		c.mu.Unlock()
		next.fn()
		c.mu.Lock()
	}
	c.now = target
	c.mu.Unlock()
}

type harness struct {
	t        *testing.T
	ctx      context.Context
	clock    *fakeClock
	store    *memory.Store
	registry *memory.SessionRegistry
	service  *app.QuizService
	session  domain.Session
	host     app.Caller
	hostSub  *app.Subscription
}

func newHarness(t *testing.T, questions []domain.Question, settings domain.SessionSettings) *harness {
	t.Helper()
	clock := newFakeClock()
	store := memory.NewStore()
	quizzes := memory.NewQuizRepository(memory.NewStaticQuizLoader(map[string]domain.Quiz{
		"quiz-1": {ID: "quiz-1", Title: "Test quiz", Questions: questions},
	}), time.Minute)
	registry := memory.NewSessionRegistry()
	service := app.NewQuizService(store, quizzes, registry, memory.NewSnapshotStore(),
		app.WithClock(clock),
		app.WithGameConfig(app.GameConfig{BuzzerAnswerWindow: 10 * time.Second}),
	)

	ctx := context.Background()
	session, err := service.CreateSession(ctx, app.CreateSessionRequest{HostID: "host-1", QuizID: "quiz-1", Settings: settings})
	require.NoError(t, err)

	h := &harness{t: t, ctx: ctx, clock: clock, store: store, registry: registry, service: service, session: session}
	_, sub, err := service.Join(ctx, session.Code, app.JoinRequest{Role: domain.RoleHost})
	require.NoError(t, err)
	h.hostSub = sub
	h.host = app.Caller{Role: domain.RoleHost, Reply: sub}
	t.Cleanup(func() { sub.Close() })
	return h
}

type student struct {
	caller app.Caller
	sub    *app.Subscription
	result app.JoinResult
}

func (h *harness) join(name string) student {
	h.t.Helper()
	// distinct join times keep ranking deterministic
	h.clock.Advance(time.Millisecond)
	result, sub, err := h.service.Join(h.ctx, h.session.Code, app.JoinRequest{Role: domain.RoleStudent, Name: name})
	require.NoError(h.t, err)
	require.NotNil(h.t, result.Participant)
	h.t.Cleanup(func() { sub.Close() })
	return student{
		caller: app.Caller{Role: domain.RoleStudent, ParticipantID: result.Participant.ID, Reply: sub},
		sub:    sub,
		result: result,
	}
}

func (h *harness) start() {
	h.t.Helper()
	require.NoError(h.t, h.service.StartQuiz(h.ctx, h.session.Code, h.host))
}

func (h *harness) submit(s student, questionID, answer string) (domain.AnswerResult, error) {
	return h.service.SubmitAnswer(h.ctx, h.session.Code, s.caller, app.AnswerSubmission{QuestionID: questionID, Answer: answer})
}

func (h *harness) press(s student) error {
	_, err := h.service.PressBuzzer(h.ctx, h.session.Code, s.caller, 0)
	return err
}

// drain returns every event already queued on sub.
func drain(sub *app.Subscription) []domain.Event {
	var out []domain.Event
	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				return out
			}
			out = append(out, ev)
		default:
			return out
		}
	}
}

func types(events []domain.Event) []string {
	out := make([]string, len(events))
	for i, ev := range events {
		out[i] = ev.Type
	}
	return out
}

func find(events []domain.Event, eventType string) (domain.Event, bool) {
	for _, ev := range events {
		if ev.Type == eventType {
			return ev, true
		}
	}
	return domain.Event{}, false
}

func directQuestion(id string, round int) domain.Question {
	return domain.Question{
		ID:             id,
		Text:           "Question " + id,
		Type:           domain.QuestionMultipleChoice,
		Options:        []string{"A", "B", "C"},
		CorrectAnswer:  "B",
		Points:         100,
		NegativePoints: 25,
		TimeLimit:      30,
		Round:          round,
	}
}

func buzzerQuestion(id string, round int) domain.Question {
	return domain.Question{
		ID:             id,
		Text:           "Buzzer " + id,
		Type:           domain.QuestionBuzzer,
		CorrectAnswer:  "Paris",
		Points:         200,
		NegativePoints: 50,
		TimeLimit:      20,
		Round:          round,
	}
}
