package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"sort"
	"strconv"
	"sync"
	"time"

	"buzzer-quiz-service/internal/domain"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// QuizLoader fetches quiz content from the question bank.
type QuizLoader interface {
	LoadQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
}

// QuizRepository caches quizzes in Redis and falls back to a loader on cache miss.
// Questions are stored as: HSET quiz:{quizID}:questions {position} {question JSON}
// Metadata is stored as:   HSET quiz:{quizID}:meta title {title}
type QuizRepository struct {
	client *redis.Client
	loader QuizLoader
	ttl    time.Duration
	sf     singleflight.Group

	rndMu sync.Mutex
	rnd   *rand.Rand
}

func NewQuizRepository(client *redis.Client, loader QuizLoader, ttl time.Duration) *QuizRepository {
	return &QuizRepository{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (r *QuizRepository) GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	if quiz, ok := r.fromCache(ctx, quizID); ok {
		return quiz, nil
	}

	result, err, _ := r.sf.Do(quizID, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		if quiz, ok := r.fromCache(ctx, quizID); ok {
			return quiz, nil
		}

		quiz, err := r.loader.LoadQuiz(ctx, quizID)
		if err != nil {
			return domain.Quiz{}, err
		}
		if err := r.store(ctx, quiz); err != nil {
			slog.Warn("cache quiz in redis", "quiz", quizID, "error", err)
		}
		return quiz, nil
	})
	if err != nil {
		return domain.Quiz{}, err
	}
	return result.(domain.Quiz), nil
}

func (r *QuizRepository) store(ctx context.Context, quiz domain.Quiz) error {
	questionsKey := r.questionsKey(quiz.ID)
	metaKey := r.metaKey(quiz.ID)
	ttl := r.ttlWithJitter()

	pipe := r.client.TxPipeline()
	pipe.Del(ctx, questionsKey)
	for i, q := range quiz.Questions {
		raw, err := json.Marshal(q)
		if err != nil {
			return fmt.Errorf("marshal question %s: %w", q.ID, err)
		}
		pipe.HSet(ctx, questionsKey, strconv.Itoa(i), raw)
	}
	pipe.HSet(ctx, metaKey, "title", quiz.Title)
	if ttl > 0 {
		pipe.Expire(ctx, questionsKey, ttl)
		pipe.Expire(ctx, metaKey, ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (r *QuizRepository) fromCache(ctx context.Context, quizID string) (domain.Quiz, bool) {
	fields, err := r.client.HGetAll(ctx, r.questionsKey(quizID)).Result()
	if err != nil || len(fields) == 0 {
		return domain.Quiz{}, false
	}
	quiz, err := buildQuizFromCache(quizID, fields)
	if err != nil {
		return domain.Quiz{}, false
	}
	quiz.Title, _ = r.client.HGet(ctx, r.metaKey(quizID), "title").Result()
	return quiz, true
}

func (r *QuizRepository) questionsKey(quizID string) string {
	return "quiz:" + quizID + ":questions"
}

func (r *QuizRepository) metaKey(quizID string) string {
	return "quiz:" + quizID + ":meta"
}

// buildQuizFromCache restores question order from the hash field positions.
func buildQuizFromCache(quizID string, fields map[string]string) (domain.Quiz, error) {
	type positioned struct {
		pos int
		q   domain.Question
	}
	items := make([]positioned, 0, len(fields))
	for field, raw := range fields {
		pos, err := strconv.Atoi(field)
		if err != nil {
			return domain.Quiz{}, fmt.Errorf("bad question position %q: %w", field, err)
		}
		var q domain.Question
		if err := json.Unmarshal([]byte(raw), &q); err != nil {
			return domain.Quiz{}, fmt.Errorf("unmarshal cached question: %w", err)
		}
		items = append(items, positioned{pos: pos, q: q})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].pos < items[j].pos })

	questions := make([]domain.Question, len(items))
	for i, item := range items {
		questions[i] = item.q
	}
	return domain.Quiz{ID: quizID, Questions: questions}, nil
}

func (r *QuizRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	jitterMax := int64(r.ttl) / 10
	r.rndMu.Lock()
	defer r.rndMu.Unlock()
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}
