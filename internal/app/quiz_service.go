package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"buzzer-quiz-service/internal/domain"
	"github.com/google/uuid"
)

// SessionStore persists session records.
type SessionStore interface {
	CreateSession(ctx context.Context, session domain.Session) error
	GetSession(ctx context.Context, id string) (domain.Session, error)
	GetSessionByCode(ctx context.Context, code string) (domain.Session, error)
	UpdateSession(ctx context.Context, session domain.Session) error
}

// ParticipantStore persists participants. Names are unique per session.
type ParticipantStore interface {
	AddParticipant(ctx context.Context, participant domain.Participant) error
	GetParticipant(ctx context.Context, id string) (domain.Participant, error)
	ListParticipants(ctx context.Context, sessionID string) ([]domain.Participant, error)
	IncrementBuzzerWins(ctx context.Context, participantID string) (domain.Participant, error)
}

// AnswerStore records an answer and applies its delta to the participant's
// score in one operation. A second answer for the same pair must fail with
// domain.ErrDuplicateAnswer and leave the score untouched.
type AnswerStore interface {
	RecordAnswer(ctx context.Context, answer domain.Answer) (domain.Participant, error)
}

// AnalyticsStore is what the aggregator reads and writes.
type AnalyticsStore interface {
	ListParticipants(ctx context.Context, sessionID string) ([]domain.Participant, error)
	ListAnswers(ctx context.Context, sessionID string) ([]domain.Answer, error)
	SaveAnalytics(ctx context.Context, analytics domain.Analytics) error
}

// Store is the full persistence port (in-memory, Postgres).
type Store interface {
	SessionStore
	ParticipantStore
	AnswerStore
	AnalyticsStore
	GetAnalytics(ctx context.Context, sessionID string) (domain.Analytics, error)
}

// SessionRegistry holds the live session actors keyed by session code.
type SessionRegistry interface {
	GetOrCreate(code string, create func() *Session) *Session
	Get(code string) (*Session, bool)
	// DeleteIfIdle drops the actor when Session.Retire agrees and reports
	// whether it did.
	DeleteIfIdle(code string) bool
	Codes() []string
}

// SnapshotStore keeps the "what's showing now" record of running sessions.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, snapshot domain.ActiveGameSnapshot) error
	LoadSnapshot(ctx context.Context, sessionID string) (domain.ActiveGameSnapshot, error)
	DeleteSnapshot(ctx context.Context, sessionID string) error
}

// QuizRepository loads quiz content (from cache/backing store).
type QuizRepository interface {
	GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
}

// GameConfig holds the tunables from the game config section.
type GameConfig struct {
	BuzzerAnswerWindow time.Duration
	TopPerformers      int
	CodeAttempts       int
	// IdleTimeout is how long an unfinished session may sit without
	// connections before its actor is evicted.
	IdleTimeout time.Duration
}

type Option func(*QuizService)

func WithClock(clock Clock) Option {
	return func(s *QuizService) { s.clock = clock }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *QuizService) { s.logger = logger }
}

func WithGameConfig(cfg GameConfig) Option {
	return func(s *QuizService) { s.game = cfg }
}

// QuizService contains the core quiz use cases.
type QuizService struct {
	store     Store
	quizzes   QuizRepository
	sessions  SessionRegistry
	snapshots SnapshotStore
	clock     Clock
	logger    *slog.Logger
	game      GameConfig
	analytics *AnalyticsAggregator

	rndMu sync.Mutex
	rnd   *rand.Rand
}

func NewQuizService(store Store, quizzes QuizRepository, sessions SessionRegistry, snapshots SnapshotStore, opts ...Option) *QuizService {
	s := &QuizService{
		store:     store,
		quizzes:   quizzes,
		sessions:  sessions,
		snapshots: snapshots,
		clock:     SystemClock{},
		logger:    slog.Default(),
		rnd:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.game.BuzzerAnswerWindow <= 0 {
		s.game.BuzzerAnswerWindow = defaultBuzzerAnswerWindow
	}
	if s.game.TopPerformers <= 0 {
		s.game.TopPerformers = defaultTopPerformers
	}
	if s.game.CodeAttempts <= 0 {
		s.game.CodeAttempts = 10
	}
	if s.game.IdleTimeout <= 0 {
		s.game.IdleTimeout = defaultIdleTimeout
	}
	s.analytics = NewAnalyticsAggregator(store, s.clock, s.game.TopPerformers)
	return s
}

// CreateSessionRequest launches a quiz.
type CreateSessionRequest struct {
	HostID   string                 `json:"hostId"`
	QuizID   string                 `json:"quizId"`
	Settings domain.SessionSettings `json:"settings"`
}

// CreateSession snapshots the quiz's questions into a new WAITING session
// with a unique join code.
func (s *QuizService) CreateSession(ctx context.Context, req CreateSessionRequest) (domain.Session, error) {
	quiz, err := s.quizzes.GetQuiz(ctx, req.QuizID)
	if err != nil {
		return domain.Session{}, err
	}
	questions, err := PrepareQuestions(quiz.Questions)
	if err != nil {
		return domain.Session{}, err
	}

	for attempt := 0; attempt < s.game.CodeAttempts; attempt++ {
		code := s.generateCode()
		if _, ok := s.sessions.Get(code); ok {
			continue
		}
		data := domain.Session{
			ID:        uuid.NewString(),
			Code:      code,
			HostID:    req.HostID,
			QuizID:    quiz.ID,
			Status:    domain.StatusWaiting,
			Questions: questions,
			Settings:  req.Settings,
			CreatedAt: s.clock.Now(),
		}
		err := s.store.CreateSession(ctx, data)
		if errors.Is(err, domain.ErrCodeTaken) {
			continue
		}
		if err != nil {
			return domain.Session{}, fmt.Errorf("create session: %w", err)
		}
		s.sessions.GetOrCreate(code, func() *Session {
			return newSession(data, nil, nil, s.sessionDeps())
		})
		s.logger.Info("session created", "session", data.ID, "code", code, "quiz", quiz.ID, "questions", len(questions))
		return data, nil
	}
	return domain.Session{}, fmt.Errorf("generate session code: %w", domain.ErrCodeTaken)
}

// GetSession returns the current record of a session by code.
func (s *QuizService) GetSession(ctx context.Context, code string) (domain.Session, error) {
	session, err := s.session(ctx, code)
	if err != nil {
		return domain.Session{}, err
	}
	return session.Data(), nil
}

// Leaderboard returns the current ranking of a session.
func (s *QuizService) Leaderboard(ctx context.Context, code string) ([]domain.LeaderboardEntry, error) {
	session, err := s.session(ctx, code)
	if err != nil {
		return nil, err
	}
	return session.Leaderboard(), nil
}

// Join admits a connection and returns a subscription that already holds the
// session-joined and participants-list replies. The caller must Leave it.
func (s *QuizService) Join(ctx context.Context, code string, req JoinRequest) (JoinResult, *Subscription, error) {
	for attempt := 0; ; attempt++ {
		session, err := s.session(ctx, code)
		if err != nil {
			return JoinResult{}, nil, err
		}
		result, sub, err := session.Join(ctx, req)
		// the actor was evicted between lookup and join; the next lookup rebuilds it
		if errors.Is(err, errSessionRetired) && attempt == 0 {
			continue
		}
		return result, sub, err
	}
}

// Leave detaches a connection and drops the actor once a finished session is idle.
func (s *QuizService) Leave(_ context.Context, code string, sub *Subscription) {
	code = NormalizeCode(code)
	session, ok := s.sessions.Get(code)
	if !ok {
		return
	}
	session.Leave(sub)
	s.sessions.DeleteIfIdle(code)
}

// EvictIdle drops every actor whose session has sat without connections for
// the idle timeout, or is finished and unwatched. It returns how many went.
func (s *QuizService) EvictIdle() int {
	evicted := 0
	for _, code := range s.sessions.Codes() {
		if s.sessions.DeleteIfIdle(code) {
			evicted++
		}
	}
	if evicted > 0 {
		s.logger.Info("evicted idle sessions", "count", evicted)
	}
	return evicted
}

func (s *QuizService) StartQuiz(ctx context.Context, code string, caller Caller) error {
	session, err := s.session(ctx, code)
	if err != nil {
		return err
	}
	return session.Start(ctx, caller)
}

func (s *QuizService) NextQuestion(ctx context.Context, code string, caller Caller, force bool) error {
	session, err := s.session(ctx, code)
	if err != nil {
		return err
	}
	return session.Advance(ctx, caller, force)
}

func (s *QuizService) PressBuzzer(ctx context.Context, code string, caller Caller, clientTimestamp int64) (domain.BuzzerPress, error) {
	session, err := s.session(ctx, code)
	if err != nil {
		return domain.BuzzerPress{}, err
	}
	return session.Press(ctx, caller, clientTimestamp)
}

// AnswerSubmission is the payload of a submit-answer command.
type AnswerSubmission struct {
	QuestionID   string `json:"questionId"`
	Answer       string `json:"answer"`
	TimeToAnswer *int64 `json:"timeToAnswer,omitempty"`
}

// SubmitAnswer records an answer and updates the leaderboard.
func (s *QuizService) SubmitAnswer(ctx context.Context, code string, caller Caller, submission AnswerSubmission) (domain.AnswerResult, error) {
	session, err := s.session(ctx, code)
	if err != nil {
		return domain.AnswerResult{}, err
	}
	return session.Submit(ctx, caller, submission.QuestionID, submission.Answer, submission.TimeToAnswer)
}

func (s *QuizService) ShowResults(ctx context.Context, code string, caller Caller) (domain.QuestionResults, error) {
	session, err := s.session(ctx, code)
	if err != nil {
		return domain.QuestionResults{}, err
	}
	return session.Reveal(ctx, caller)
}

func (s *QuizService) EndQuiz(ctx context.Context, code string, caller Caller) error {
	session, err := s.session(ctx, code)
	if err != nil {
		return err
	}
	return session.ForceEnd(ctx, caller)
}

// Analytics returns stored analytics, computing them on demand for a
// completed session that has none yet.
func (s *QuizService) Analytics(ctx context.Context, sessionID string) (domain.Analytics, error) {
	analytics, err := s.store.GetAnalytics(ctx, sessionID)
	if err == nil {
		return analytics, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return domain.Analytics{}, fmt.Errorf("get analytics: %w", err)
	}

	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return domain.Analytics{}, err
	}
	if session.Status != domain.StatusCompleted {
		return domain.Analytics{}, fmt.Errorf("session not completed: %w", domain.ErrInvalidState)
	}
	return s.analytics.Generate(ctx, session)
}

// session returns the live actor for code, rebuilding it from storage when
// this process has not seen the session yet.
func (s *QuizService) session(ctx context.Context, code string) (*Session, error) {
	code = NormalizeCode(code)
	if session, ok := s.sessions.Get(code); ok {
		return session, nil
	}

	data, err := s.store.GetSessionByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	participants, err := s.store.ListParticipants(ctx, data.ID)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	answers, err := s.store.ListAnswers(ctx, data.ID)
	if err != nil {
		return nil, fmt.Errorf("list answers: %w", err)
	}
	return s.sessions.GetOrCreate(code, func() *Session {
		return newSession(data, participants, answers, s.sessionDeps())
	}), nil
}

func (s *QuizService) sessionDeps() sessionDeps {
	return sessionDeps{
		store:        s.store,
		snapshots:    s.snapshots,
		analytics:    s.analytics,
		clock:        s.clock,
		logger:       s.logger,
		answerWindow: s.game.BuzzerAnswerWindow,
		idleTimeout:  s.game.IdleTimeout,
	}
}

const codeLetters = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// generateCode returns a join code such as ABC-123.
func (s *QuizService) generateCode() string {
	s.rndMu.Lock()
	defer s.rndMu.Unlock()
	b := make([]byte, 0, 7)
	for i := 0; i < 3; i++ {
		b = append(b, codeLetters[s.rnd.Intn(len(codeLetters))])
	}
	b = append(b, '-')
	for i := 0; i < 3; i++ {
		b = append(b, byte('0'+s.rnd.Intn(10)))
	}
	return string(b)
}
