package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"buzzer-quiz-service/internal/domain"
	"github.com/google/uuid"
)

const (
	subscriberBuffer          = 64
	defaultBuzzerAnswerWindow = 10 * time.Second
	defaultIdleTimeout        = 30 * time.Minute
)

var errSessionRetired = errors.New("session actor retired")

// sessionDeps are shared by every live session of a service.
type sessionDeps struct {
	store        Store
	snapshots    SnapshotStore
	analytics    *AnalyticsAggregator
	clock        Clock
	logger       *slog.Logger
	answerWindow time.Duration
	idleTimeout  time.Duration
}

// Caller identifies who issued a command. Reply, when set, receives direct
// replies in order with the broadcasts they precede.
type Caller struct {
	Role          domain.Role
	ParticipantID string
	Reply         *Subscription
}

// JoinRequest is the payload of a join-session command.
type JoinRequest struct {
	Role          domain.Role `json:"role"`
	Name          string      `json:"name"`
	ParticipantID string      `json:"participantId"`
}

// JoinResult is sent back to a joining connection as session-joined.
type JoinResult struct {
	SessionID   string                 `json:"sessionId"`
	Code        string                 `json:"code"`
	Status      domain.SessionStatus   `json:"status"`
	Role        domain.Role            `json:"role"`
	Settings    domain.SessionSettings `json:"settings"`
	Participant *domain.Participant    `json:"participant,omitempty"`
	Rejoined    bool                   `json:"rejoined"`
	GameState   *domain.GameState      `json:"gameState,omitempty"`
	Analytics   *domain.Analytics      `json:"analytics,omitempty"`
}

// Session is the actor owning one live quiz session. Every mutation happens
// under mu, including the broadcasts describing it.
type Session struct {
	deps sessionDeps

	mu           sync.Mutex
	data         domain.Session
	participants map[string]*domain.Participant
	subscribers  map[*Subscription]struct{}
	scoring      *ScoringEngine
	buzzer       *BuzzerArbiter
	rejoin       RejoinCoordinator
	flow         questionFlow
	revealed     map[string]bool
	analytics    *domain.Analytics
	questionGen  uint64
	phaseGen     uint64
	idleSince    time.Time
	retired      bool
}

// NewSession builds a session actor with the wall clock and default game settings.
func NewSession(data domain.Session, store Store) *Session {
	clock := SystemClock{}
	return newSession(data, nil, nil, sessionDeps{
		store:        store,
		analytics:    NewAnalyticsAggregator(store, clock, defaultTopPerformers),
		clock:        clock,
		logger:       slog.Default(),
		answerWindow: defaultBuzzerAnswerWindow,
		idleTimeout:  defaultIdleTimeout,
	})
}

func newSession(data domain.Session, participants []domain.Participant, answers []domain.Answer, deps sessionDeps) *Session {
	s := &Session{
		deps:         deps,
		data:         data,
		participants: make(map[string]*domain.Participant, len(participants)),
		subscribers:  make(map[*Subscription]struct{}),
		scoring:      NewScoringEngine(data.ID, deps.store, deps.clock),
		buzzer:       NewBuzzerArbiter(deps.clock),
		revealed:     make(map[string]bool),
		idleSince:    deps.clock.Now(),
	}
	for i := range participants {
		p := participants[i]
		s.participants[p.ID] = &p
	}
	s.scoring.Load(answers)
	return s
}

// Data returns a copy of the session record.
func (s *Session) Data() domain.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data
}

// Leaderboard returns the current ranking.
func (s *Session) Leaderboard() []domain.LeaderboardEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.leaderboardLocked()
}

// Retire reports whether the actor may be dropped from its registry and, if
// so, stops its timers for good. Finished sessions retire as soon as nobody is
// connected; waiting and active ones after the idle timeout without
// connections. A retired session is rebuilt from storage on next use.
func (s *Session) Retire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.retired {
		return true
	}
	if len(s.subscribers) > 0 {
		return false
	}
	if s.data.Status != domain.StatusCompleted && s.deps.clock.Now().Sub(s.idleSince) < s.deps.idleTimeout {
		return false
	}
	s.stopFlowLocked()
	s.retired = true
	return true
}

// Join admits a connection. Students presenting a known participant id are
// resumed; otherwise a new participant is created from the name.
func (s *Session) Join(ctx context.Context, req JoinRequest) (JoinResult, *Subscription, error) {
	if !req.Role.Valid() {
		return JoinResult{}, nil, fmt.Errorf("role %q: %w", req.Role, domain.ErrPermissionDenied)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.retired {
		return JoinResult{}, nil, errSessionRetired
	}

	result := JoinResult{
		SessionID: s.data.ID,
		Code:      s.data.Code,
		Status:    s.data.Status,
		Role:      req.Role,
		Settings:  s.data.Settings,
	}

	var participant *domain.Participant
	fresh := false
	if req.Role == domain.RoleStudent {
		if p, ok := s.participants[req.ParticipantID]; ok && req.ParticipantID != "" {
			participant = p
			result.Rejoined = true
		} else if s.data.Status != domain.StatusCompleted {
			p, err := s.addParticipantLocked(ctx, req.Name)
			if err != nil {
				return JoinResult{}, nil, err
			}
			participant = p
			fresh = true
		}
	}
	if participant != nil {
		cp := *participant
		result.Participant = &cp
	}

	if s.data.Status == domain.StatusCompleted {
		analytics, err := s.analyticsLocked(ctx)
		if err != nil {
			s.deps.logger.Warn("load analytics on join", "session", s.data.ID, "error", err)
		} else {
			result.Analytics = &analytics
		}
	}

	participantID := ""
	if participant != nil {
		participantID = participant.ID
	}
	result.GameState = s.rejoin.GameState(s.rejoinViewLocked(ctx, participantID), req.Role)

	sub := s.subscribeLocked(req.Role, participantID)
	s.deliverLocked(sub, domain.EventSessionJoined, result)
	s.deliverLocked(sub, domain.EventParticipantsList, domain.ParticipantsListPayload{Participants: s.participantListLocked()})
	if fresh {
		s.broadcastLocked(domain.EventParticipantJoined, domain.ParticipantJoinedPayload{
			Participant: *participant,
			Count:       len(s.participants),
		})
	}
	return result, sub, nil
}

func (s *Session) addParticipantLocked(ctx context.Context, rawName string) (*domain.Participant, error) {
	name, err := SanitizeName(rawName)
	if err != nil {
		return nil, err
	}
	if s.data.Status == domain.StatusActive && !s.data.Settings.AllowLateJoin {
		return nil, domain.ErrLateJoinDisabled
	}
	for _, p := range s.participants {
		if p.Name == name {
			return nil, domain.ErrNameTaken
		}
	}

	p := domain.Participant{
		ID:        uuid.NewString(),
		SessionID: s.data.ID,
		Name:      name,
		JoinedAt:  s.deps.clock.Now(),
	}
	if err := s.deps.store.AddParticipant(ctx, p); err != nil {
		if errors.Is(err, domain.ErrNameTaken) {
			return nil, err
		}
		return nil, fmt.Errorf("add participant: %w", err)
	}
	s.participants[p.ID] = &p
	return &p, nil
}

// Leave drops a connection. The participant keeps its score and may rejoin.
func (s *Session) Leave(sub *Subscription) {
	if sub == nil {
		return
	}
	sub.Close()
	if sub.role != domain.RoleStudent || sub.participantID == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for other := range s.subscribers {
		if other.participantID == sub.participantID {
			// still connected elsewhere
			return
		}
	}
	if p, ok := s.participants[sub.participantID]; ok {
		s.broadcastLocked(domain.EventParticipantLeft, domain.ParticipantLeftPayload{
			ParticipantID: p.ID,
			Name:          p.Name,
		})
	}
}

// Start moves a WAITING session to ACTIVE and runs the first question.
func (s *Session) Start(ctx context.Context, caller Caller) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if caller.Role != domain.RoleHost {
		return domain.ErrPermissionDenied
	}
	if s.data.Status != domain.StatusWaiting {
		return fmt.Errorf("start %s session: %w", s.data.Status, domain.ErrInvalidState)
	}
	if len(s.data.Questions) == 0 {
		return fmt.Errorf("session has no questions: %w", domain.ErrInvalidState)
	}

	next := s.data
	next.Status = domain.StatusActive
	next.CurrentQuestionIndex = 0
	if err := s.deps.store.UpdateSession(ctx, next); err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	s.data = next

	s.broadcastLocked(domain.EventQuizStarted, domain.QuizStartedPayload{
		SessionID:      s.data.ID,
		TotalQuestions: len(s.data.Questions),
	})
	s.startQuestionLocked(ctx, 0)
	return nil
}

// Advance moves to the next question, stops at a round boundary unless
// forced, and completes the session once the list is exhausted.
func (s *Session) Advance(ctx context.Context, caller Caller, force bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if caller.Role != domain.RoleHost {
		return domain.ErrPermissionDenied
	}
	if s.data.Status != domain.StatusActive {
		return fmt.Errorf("advance %s session: %w", s.data.Status, domain.ErrInvalidState)
	}

	current := s.data.CurrentQuestionIndex
	next := current + 1
	if next >= len(s.data.Questions) {
		return s.completeLocked(ctx)
	}

	curRound := roundOf(s.data.Questions[current])
	nextRound := roundOf(s.data.Questions[next])
	if nextRound > curRound && !force {
		s.haltQuestionLocked()
		s.broadcastLocked(domain.EventRoundEnded, domain.RoundSummary{
			Round:       curRound,
			NextRound:   nextRound,
			Leaderboard: s.leaderboardLocked(),
		})
		return nil
	}

	s.startQuestionLocked(ctx, next)
	return nil
}

// ForceEnd completes an ACTIVE session immediately.
func (s *Session) ForceEnd(ctx context.Context, caller Caller) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if caller.Role != domain.RoleHost {
		return domain.ErrPermissionDenied
	}
	if s.data.Status != domain.StatusActive {
		return fmt.Errorf("end %s session: %w", s.data.Status, domain.ErrInvalidState)
	}
	return s.completeLocked(ctx)
}

// completeLocked persists COMPLETED, computes analytics and only then
// announces the end, so analytics-ready always follows stored analytics.
func (s *Session) completeLocked(ctx context.Context) error {
	now := s.deps.clock.Now()
	next := s.data
	next.Status = domain.StatusCompleted
	next.CompletedAt = &now
	if err := s.deps.store.UpdateSession(ctx, next); err != nil {
		return fmt.Errorf("complete session: %w", err)
	}

	s.stopFlowLocked()
	s.flow.active = false
	s.questionGen++
	s.phaseGen++
	s.data = next

	var analytics *domain.Analytics
	if a, err := s.deps.analytics.Generate(ctx, s.data); err != nil {
		s.deps.logger.Error("generate analytics", "session", s.data.ID, "error", err)
	} else {
		analytics = &a
		s.analytics = &a
	}

	s.broadcastLocked(domain.EventQuizEnded, domain.QuizEndedPayload{
		SessionID:   s.data.ID,
		Leaderboard: s.leaderboardLocked(),
		Analytics:   analytics,
	})
	s.broadcastLocked(domain.EventAnalyticsReady, domain.AnalyticsReadyPayload{SessionID: s.data.ID})

	if s.deps.snapshots != nil {
		if err := s.deps.snapshots.DeleteSnapshot(ctx, s.data.ID); err != nil {
			s.deps.logger.Warn("delete snapshot", "session", s.data.ID, "error", err)
		}
	}
	s.deps.logger.Info("session completed", "session", s.data.ID, "participants", len(s.participants))
	return nil
}

func (s *Session) analyticsLocked(ctx context.Context) (domain.Analytics, error) {
	if s.analytics != nil {
		return *s.analytics, nil
	}
	a, err := s.deps.store.GetAnalytics(ctx, s.data.ID)
	if errors.Is(err, domain.ErrNotFound) {
		a, err = s.deps.analytics.Generate(ctx, s.data)
	}
	if err != nil {
		return domain.Analytics{}, err
	}
	s.analytics = &a
	return a, nil
}

func (s *Session) rejoinViewLocked(ctx context.Context, participantID string) RejoinView {
	view := RejoinView{Status: s.data.Status}
	if s.data.Status != domain.StatusActive {
		return view
	}

	if s.flow.active {
		snap := s.snapshotLocked()
		view.Snapshot = &snap
		q := s.flow.question
		view.Question = &q
	} else if s.deps.snapshots != nil {
		// The actor was rebuilt from storage; fall back to the last saved snapshot.
		snap, err := s.deps.snapshots.LoadSnapshot(ctx, s.data.ID)
		if err == nil {
			view.Snapshot = &snap
			for i := range s.data.Questions {
				if s.data.Questions[i].ID == snap.Question.ID {
					q := s.data.Questions[i]
					view.Question = &q
				}
			}
		}
	}
	if view.Question == nil {
		return view
	}

	view.Revealed = s.revealed[view.Question.ID] || (view.Snapshot != nil && view.Snapshot.Phase == domain.PhaseResults)
	if participantID == "" {
		return view
	}
	if a, ok := s.scoring.Answer(participantID, view.Question.ID); ok {
		view.Answer = &a
	}
	if p, ok := s.participants[participantID]; ok {
		view.Score = p.Score
	}
	return view
}

func (s *Session) leaderboardLocked() []domain.LeaderboardEntry {
	return RankParticipants(s.participantListLocked())
}

func (s *Session) participantListLocked() []domain.Participant {
	out := make([]domain.Participant, 0, len(s.participants))
	for _, p := range s.participants {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].JoinedAt.Before(out[j].JoinedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Subscription is one connection's view of the session broadcast topic.
type Subscription struct {
	session       *Session
	role          domain.Role
	participantID string
	ch            chan domain.Event
	once          sync.Once
}

// Events is closed once the subscription is closed.
func (sub *Subscription) Events() <-chan domain.Event { return sub.ch }

func (sub *Subscription) Role() domain.Role { return sub.role }

func (sub *Subscription) ParticipantID() string { return sub.participantID }

// Close detaches the subscription. Safe to call more than once.
func (sub *Subscription) Close() {
	sub.once.Do(func() {
		sub.session.unsubscribe(sub)
	})
}

func (s *Session) subscribeLocked(role domain.Role, participantID string) *Subscription {
	sub := &Subscription{
		session:       s,
		role:          role,
		participantID: participantID,
		ch:            make(chan domain.Event, subscriberBuffer),
	}
	s.subscribers[sub] = struct{}{}
	s.idleSince = time.Time{}
	return sub
}

func (s *Session) unsubscribe(sub *Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subscribers[sub]; ok {
		delete(s.subscribers, sub)
		close(sub.ch)
		if len(s.subscribers) == 0 {
			s.idleSince = s.deps.clock.Now()
		}
	}
}

func (s *Session) broadcastLocked(eventType string, payload any) {
	ev := domain.Event{Type: eventType, Payload: payload, At: s.deps.clock.Now()}
	for sub := range s.subscribers {
		push(sub.ch, ev)
	}
}

// deliverLocked sends a direct reply to one subscriber if it is still attached.
func (s *Session) deliverLocked(sub *Subscription, eventType string, payload any) {
	if sub == nil {
		return
	}
	if _, ok := s.subscribers[sub]; !ok {
		return
	}
	push(sub.ch, domain.Event{Type: eventType, Payload: payload, At: s.deps.clock.Now()})
}

// push drops the oldest queued event when a slow reader's buffer is full.
// Only the session goroutine holding mu writes, so this never blocks.
func push(ch chan domain.Event, ev domain.Event) {
	select {
	case ch <- ev:
	default:
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- ev:
		default:
		}
	}
}
