package integration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"buzzer-quiz-service/internal/app"
	"buzzer-quiz-service/internal/domain"
	pgstore "buzzer-quiz-service/internal/infra/postgres"
	pgmigrations "buzzer-quiz-service/internal/infra/postgres/migrations"
	infraredis "buzzer-quiz-service/internal/infra/redis"
	"github.com/jackc/pgx/v4/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"
)

func TestSessionEndToEnd(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()
	redisURL, redisCleanup := startRedis(t, ctx)
	defer redisCleanup()

	migrateSchema(t, ctx, pgURL)

	pool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer pool.Close()

	loader := pgstore.NewQuizLoader(pool)
	if err := loader.SaveQuiz(ctx, sampleQuiz()); err != nil {
		t.Fatalf("seed quiz: %v", err)
	}

	redisClient, err := redisClientFromURL(redisURL)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	defer redisClient.Close()

	service := app.NewQuizService(
		pgstore.NewStore(pool),
		infraredis.NewQuizRepository(redisClient, loader, 5*time.Minute),
		infraredis.NewSessionRegistry(redisClient, 5*time.Minute),
		infraredis.NewSnapshotStore(redisClient, 5*time.Minute),
	)

	session, err := service.CreateSession(ctx, app.CreateSessionRequest{HostID: "host-1", QuizID: "quiz-1"})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	_, hostSub, err := service.Join(ctx, session.Code, app.JoinRequest{Role: domain.RoleHost})
	if err != nil {
		t.Fatalf("host join: %v", err)
	}
	defer hostSub.Close()
	host := app.Caller{Role: domain.RoleHost, Reply: hostSub}

	alice := joinStudent(t, ctx, service, session.Code, "Alice")
	bob := joinStudent(t, ctx, service, session.Code, "Bob")

	if _, _, err := service.Join(ctx, session.Code, app.JoinRequest{Role: domain.RoleStudent, Name: "Alice"}); !errors.Is(err, domain.ErrNameTaken) {
		t.Fatalf("expected name taken, got %v", err)
	}

	if err := service.StartQuiz(ctx, session.Code, host); err != nil {
		t.Fatalf("start: %v", err)
	}

	result, err := service.SubmitAnswer(ctx, session.Code, bob, app.AnswerSubmission{QuestionID: "q1", Answer: "4"})
	if err != nil {
		t.Fatalf("submit bob: %v", err)
	}
	if !result.IsCorrect || result.Points != 100 || result.TotalScore != 100 {
		t.Fatalf("expected bob correct with 100 points, got %+v", result)
	}
	if _, err := service.SubmitAnswer(ctx, session.Code, bob, app.AnswerSubmission{QuestionID: "q1", Answer: "4"}); !errors.Is(err, domain.ErrDuplicateAnswer) {
		t.Fatalf("expected duplicate answer, got %v", err)
	}
	if _, err := service.SubmitAnswer(ctx, session.Code, alice, app.AnswerSubmission{QuestionID: "q1", Answer: "3"}); err != nil {
		t.Fatalf("submit alice: %v", err)
	}

	board, err := service.Leaderboard(ctx, session.Code)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if len(board) != 2 || board[0].Name != "Bob" || board[1].Score != -10 {
		t.Fatalf("expected bob leading and alice at -10, got %+v", board)
	}

	if err := service.EndQuiz(ctx, session.Code, host); err != nil {
		t.Fatalf("end: %v", err)
	}

	analytics, err := service.Analytics(ctx, session.ID)
	if err != nil {
		t.Fatalf("analytics: %v", err)
	}
	if analytics.TotalStudents != 2 || analytics.AverageScore != 45 {
		t.Fatalf("unexpected analytics totals: %+v", analytics)
	}
	if len(analytics.QuestionStats) != 2 || analytics.QuestionStats[0].CorrectPercentage != 50 {
		t.Fatalf("unexpected question stats: %+v", analytics.QuestionStats)
	}

	stored, err := service.GetSession(ctx, session.Code)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if stored.Status != domain.StatusCompleted {
		t.Fatalf("expected completed session, got %s", stored.Status)
	}
}

func joinStudent(t *testing.T, ctx context.Context, service *app.QuizService, code, name string) app.Caller {
	t.Helper()
	result, sub, err := service.Join(ctx, code, app.JoinRequest{Role: domain.RoleStudent, Name: name})
	if err != nil {
		t.Fatalf("join %s: %v", name, err)
	}
	t.Cleanup(sub.Close)
	return app.Caller{Role: domain.RoleStudent, ParticipantID: result.Participant.ID, Reply: sub}
}

func startPostgres(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "postgres:15-alpine",
		Env:          map[string]string{"POSTGRES_USER": "quiz", "POSTGRES_PASSWORD": "quizpass", "POSTGRES_DB": "quizdb"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start postgres: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://quiz:quizpass@%s:%s/quizdb?sslmode=disable", host, port.Port())
	return dsn, func() {
		_ = container.Terminate(ctx)
	}
}

func startRedis(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start redis: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("redis host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379/tcp")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}
	url := fmt.Sprintf("redis://%s:%s", host, port.Port())
	return url, func() {
		_ = container.Terminate(ctx)
	}
}

func migrateSchema(t *testing.T, ctx context.Context, dsn string) {
	t.Helper()
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())
	defer db.Close()

	migrator := migrate.NewMigrator(db, pgmigrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		t.Fatalf("migrator init: %v", err)
	}
	if _, err := migrator.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
}

func sampleQuiz() domain.Quiz {
	return domain.Quiz{
		ID:    "quiz-1",
		Title: "Arithmetic",
		Questions: []domain.Question{
			{
				ID:             "q1",
				Text:           "What is 2 + 2?",
				Type:           domain.QuestionMultipleChoice,
				Options:        []string{"3", "4", "5"},
				CorrectAnswer:  "4",
				Points:         100,
				NegativePoints: 10,
				TimeLimit:      60,
			},
			{
				ID:            "q2",
				Text:          "Capital of France?",
				Type:          domain.QuestionBuzzer,
				CorrectAnswer: "Paris",
				Points:        200,
				TimeLimit:     60,
				Round:         2,
			},
		},
	}
}

func redisClientFromURL(url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	}), nil
}

func requireDocker(t *testing.T) {
	t.Helper()
	if _, err := tc.NewDockerProvider(); err != nil {
		t.Skipf("docker not available: %v", err)
	}
}
