package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"buzzer-quiz-service/internal/domain"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

const (
	constraintSessionCode     = "quiz_sessions_code_key"
	constraintParticipantName = "participants_session_name_key"
)

// Store implements app.Store on top of pgxpool.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) CreateSession(ctx context.Context, session domain.Session) error {
	questions, err := json.Marshal(session.Questions)
	if err != nil {
		return fmt.Errorf("marshal questions: %w", err)
	}
	settings, err := json.Marshal(session.Settings)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO quiz_sessions (id, code, host_id, quiz_id, status, current_question_index, questions, settings, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		session.ID, session.Code, session.HostID, session.QuizID, string(session.Status),
		session.CurrentQuestionIndex, string(questions), string(settings), session.CreatedAt)
	if isUniqueViolation(err, constraintSessionCode) {
		return domain.ErrCodeTaken
	}
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

const selectSession = `
	SELECT id, code, host_id, quiz_id, status, current_question_index, questions, settings, created_at, completed_at
	FROM quiz_sessions`

func (s *Store) GetSession(ctx context.Context, id string) (domain.Session, error) {
	return s.scanSession(s.pool.QueryRow(ctx, selectSession+` WHERE id = $1`, id))
}

func (s *Store) GetSessionByCode(ctx context.Context, code string) (domain.Session, error) {
	return s.scanSession(s.pool.QueryRow(ctx, selectSession+` WHERE code = $1`, code))
}

func (s *Store) scanSession(row pgx.Row) (domain.Session, error) {
	var (
		session   domain.Session
		status    string
		questions []byte
		settings  []byte
	)
	err := row.Scan(&session.ID, &session.Code, &session.HostID, &session.QuizID, &status,
		&session.CurrentQuestionIndex, &questions, &settings, &session.CreatedAt, &session.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	if err != nil {
		return domain.Session{}, fmt.Errorf("load session: %w", err)
	}
	session.Status = domain.SessionStatus(status)
	if err := json.Unmarshal(questions, &session.Questions); err != nil {
		return domain.Session{}, fmt.Errorf("unmarshal questions: %w", err)
	}
	if err := json.Unmarshal(settings, &session.Settings); err != nil {
		return domain.Session{}, fmt.Errorf("unmarshal settings: %w", err)
	}
	return session, nil
}

func (s *Store) UpdateSession(ctx context.Context, session domain.Session) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE quiz_sessions
		SET status = $2, current_question_index = $3, completed_at = $4
		WHERE id = $1`,
		session.ID, string(session.Status), session.CurrentQuestionIndex, session.CompletedAt)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}

func (s *Store) AddParticipant(ctx context.Context, p domain.Participant) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO participants (id, session_id, name, score, buzzer_wins, joined_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		p.ID, p.SessionID, p.Name, p.Score, p.BuzzerWins, p.JoinedAt)
	if isUniqueViolation(err, constraintParticipantName) {
		return domain.ErrNameTaken
	}
	if err != nil {
		return fmt.Errorf("insert participant: %w", err)
	}
	return nil
}

const selectParticipant = `SELECT id, session_id, name, score, buzzer_wins, joined_at FROM participants`

func (s *Store) GetParticipant(ctx context.Context, id string) (domain.Participant, error) {
	var p domain.Participant
	err := s.pool.QueryRow(ctx, selectParticipant+` WHERE id = $1`, id).
		Scan(&p.ID, &p.SessionID, &p.Name, &p.Score, &p.BuzzerWins, &p.JoinedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Participant{}, domain.ErrParticipantNotFound
	}
	if err != nil {
		return domain.Participant{}, fmt.Errorf("load participant: %w", err)
	}
	return p, nil
}

func (s *Store) ListParticipants(ctx context.Context, sessionID string) ([]domain.Participant, error) {
	rows, err := s.pool.Query(ctx, selectParticipant+` WHERE session_id = $1 ORDER BY joined_at, id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Participant, 0)
	for rows.Next() {
		var p domain.Participant
		if err := rows.Scan(&p.ID, &p.SessionID, &p.Name, &p.Score, &p.BuzzerWins, &p.JoinedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) IncrementBuzzerWins(ctx context.Context, participantID string) (domain.Participant, error) {
	var p domain.Participant
	err := s.pool.QueryRow(ctx, `
		UPDATE participants SET buzzer_wins = buzzer_wins + 1
		WHERE id = $1
		RETURNING id, session_id, name, score, buzzer_wins, joined_at`, participantID).
		Scan(&p.ID, &p.SessionID, &p.Name, &p.Score, &p.BuzzerWins, &p.JoinedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Participant{}, domain.ErrParticipantNotFound
	}
	if err != nil {
		return domain.Participant{}, fmt.Errorf("increment buzzer wins: %w", err)
	}
	return p, nil
}

// RecordAnswer inserts the answer and applies its delta in one transaction.
// The unique (participant_id, question_id) constraint is the final guard
// against double scoring.
func (s *Store) RecordAnswer(ctx context.Context, a domain.Answer) (domain.Participant, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.Participant{}, err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO answers (id, session_id, participant_id, question_id, value, is_correct, points, time_to_answer_ms, submitted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		a.ID, a.SessionID, a.ParticipantID, a.QuestionID, a.Value, a.IsCorrect, a.Points, a.TimeToAnswer, a.SubmittedAt)
	if isUniqueViolation(err, "") {
		return domain.Participant{}, domain.ErrDuplicateAnswer
	}
	if err != nil {
		return domain.Participant{}, fmt.Errorf("insert answer: %w", err)
	}

	var p domain.Participant
	err = tx.QueryRow(ctx, `
		UPDATE participants SET score = score + $1
		WHERE id = $2
		RETURNING id, session_id, name, score, buzzer_wins, joined_at`, a.Points, a.ParticipantID).
		Scan(&p.ID, &p.SessionID, &p.Name, &p.Score, &p.BuzzerWins, &p.JoinedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Participant{}, domain.ErrParticipantNotFound
	}
	if err != nil {
		return domain.Participant{}, fmt.Errorf("update score: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.Participant{}, fmt.Errorf("commit answer: %w", err)
	}
	return p, nil
}

func (s *Store) ListAnswers(ctx context.Context, sessionID string) ([]domain.Answer, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, session_id, participant_id, question_id, value, is_correct, points, time_to_answer_ms, submitted_at
		FROM answers WHERE session_id = $1 ORDER BY submitted_at, id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list answers: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Answer, 0)
	for rows.Next() {
		var a domain.Answer
		if err := rows.Scan(&a.ID, &a.SessionID, &a.ParticipantID, &a.QuestionID, &a.Value,
			&a.IsCorrect, &a.Points, &a.TimeToAnswer, &a.SubmittedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// SaveAnalytics upserts the analytics document for the session.
func (s *Store) SaveAnalytics(ctx context.Context, analytics domain.Analytics) error {
	raw, err := json.Marshal(analytics)
	if err != nil {
		return fmt.Errorf("marshal analytics: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO session_analytics (session_id, data, generated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (session_id) DO UPDATE SET data = EXCLUDED.data, generated_at = EXCLUDED.generated_at`,
		analytics.SessionID, string(raw), analytics.GeneratedAt)
	if err != nil {
		return fmt.Errorf("upsert analytics: %w", err)
	}
	return nil
}

func (s *Store) GetAnalytics(ctx context.Context, sessionID string) (domain.Analytics, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM session_analytics WHERE session_id = $1`, sessionID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Analytics{}, domain.ErrAnalyticsNotFound
	}
	if err != nil {
		return domain.Analytics{}, fmt.Errorf("load analytics: %w", err)
	}
	var analytics domain.Analytics
	if err := json.Unmarshal(raw, &analytics); err != nil {
		return domain.Analytics{}, fmt.Errorf("unmarshal analytics: %w", err)
	}
	return analytics, nil
}

// isUniqueViolation reports a Postgres 23505 error, optionally on a specific constraint.
func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}
