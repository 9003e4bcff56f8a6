package memory

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"sync"
	"time"

	"buzzer-quiz-service/internal/domain"
	"golang.org/x/sync/singleflight"
	"gopkg.in/yaml.v3"
)

// QuizLoader fetches quiz content from the question bank.
type QuizLoader interface {
	LoadQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
}

// QuizRepository caches quizzes with TTL to avoid repeated question bank hits.
type QuizRepository struct {
	loader QuizLoader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group

	rndMu sync.Mutex
	rnd   *rand.Rand

	mu    sync.RWMutex
	cache map[string]cachedQuiz
}

type cachedQuiz struct {
	quiz      domain.Quiz
	expiresAt time.Time
}

func NewQuizRepository(loader QuizLoader, ttl time.Duration) *QuizRepository {
	return &QuizRepository{
		loader: loader,
		ttl:    ttl,
		clock:  time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:  make(map[string]cachedQuiz),
	}
}

// GetQuiz returns a copy of the quiz so sessions can never alter cached questions.
func (r *QuizRepository) GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	if quiz, ok := r.cached(quizID); ok {
		return cloneQuiz(quiz), nil
	}

	result, err, _ := r.sf.Do(quizID, func() (interface{}, error) {
		if quiz, ok := r.cached(quizID); ok {
			return quiz, nil
		}

		quiz, err := r.loader.LoadQuiz(ctx, quizID)
		if err != nil {
			return domain.Quiz{}, err
		}

		r.mu.Lock()
		r.cache[quizID] = cachedQuiz{
			quiz:      quiz,
			expiresAt: r.clock().Add(r.ttlWithJitter()),
		}
		r.mu.Unlock()
		return quiz, nil
	})
	if err != nil {
		return domain.Quiz{}, err
	}
	return cloneQuiz(result.(domain.Quiz)), nil
}

// Invalidate drops a cached quiz so the next launch reloads it.
func (r *QuizRepository) Invalidate(quizID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cache, quizID)
}

func (r *QuizRepository) cached(quizID string) (domain.Quiz, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.cache[quizID]
	if !ok || !entry.expiresAt.After(r.clock()) {
		return domain.Quiz{}, false
	}
	return entry.quiz, true
}

func (r *QuizRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	// add up to 10% jitter to spread expirations
	jitterMax := int64(r.ttl) / 10
	r.rndMu.Lock()
	defer r.rndMu.Unlock()
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}

func cloneQuiz(quiz domain.Quiz) domain.Quiz {
	questions := make([]domain.Question, len(quiz.Questions))
	for i, q := range quiz.Questions {
		q.Options = append([]string(nil), q.Options...)
		questions[i] = q
	}
	quiz.Questions = questions
	return quiz
}

// StaticQuizLoader is a loader backed by an in-memory map (useful for tests/demos).
type StaticQuizLoader struct {
	quizzes map[string]domain.Quiz
}

func NewStaticQuizLoader(quizzes map[string]domain.Quiz) *StaticQuizLoader {
	return &StaticQuizLoader{quizzes: quizzes}
}

// LoadQuizFile reads a YAML list of quizzes, as used by the server when no
// Postgres question bank is configured.
func LoadQuizFile(path string) (*StaticQuizLoader, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read quiz file: %w", err)
	}
	var file struct {
		Quizzes []domain.Quiz `yaml:"quizzes"`
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse quiz file: %w", err)
	}
	quizzes := make(map[string]domain.Quiz, len(file.Quizzes))
	for _, quiz := range file.Quizzes {
		quizzes[quiz.ID] = quiz
	}
	return NewStaticQuizLoader(quizzes), nil
}

// Quizzes lists the loaded quizzes ordered by id.
func (l *StaticQuizLoader) Quizzes() []domain.Quiz {
	out := make([]domain.Quiz, 0, len(l.quizzes))
	for _, quiz := range l.quizzes {
		out = append(out, cloneQuiz(quiz))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (l *StaticQuizLoader) LoadQuiz(_ context.Context, quizID string) (domain.Quiz, error) {
	if quiz, ok := l.quizzes[quizID]; ok {
		return quiz, nil
	}
	return domain.Quiz{}, domain.ErrQuizNotFound
}
