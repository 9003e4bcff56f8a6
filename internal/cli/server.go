package cli

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"buzzer-quiz-service/internal/app"
	"buzzer-quiz-service/internal/config"
	"buzzer-quiz-service/internal/domain"
	"buzzer-quiz-service/internal/infra/memory"
	pgstore "buzzer-quiz-service/internal/infra/postgres"
	redisstore "buzzer-quiz-service/internal/infra/redis"
	transport "buzzer-quiz-service/internal/transport/http"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the quiz server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

// backends are the adapters selected from config.
type backends struct {
	store     app.Store
	quizzes   app.QuizRepository
	sessions  app.SessionRegistry
	snapshots app.SnapshotStore
	close     func()
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	b, err := buildBackends(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.close()

	logger := slog.Default()
	service := app.NewQuizService(b.store, b.quizzes, b.sessions, b.snapshots,
		app.WithLogger(logger),
		app.WithGameConfig(app.GameConfig{
			BuzzerAnswerWindow: config.TTLDuration(cfg.Game.BuzzerAnswerWindow, 10*time.Second),
			TopPerformers:      cfg.Game.TopPerformers,
			CodeAttempts:       cfg.Game.CodeAttempts,
			IdleTimeout:        config.TTLDuration(cfg.Game.IdleTimeout, 30*time.Minute),
		}),
	)

	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go sweepIdleSessions(sweepCtx, service, time.Minute)

	mux := http.NewServeMux()
	transport.NewAPIHandler(service, logger).Register(mux)
	mux.HandleFunc("/ws", transport.NewWSHandler(service, transport.WithWSLogger(logger)).ServeWS)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		slog.Info("starting quiz service", "port", finalPort)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server stopped", "error", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		slog.Info("shutting down server")
	case <-ctx.Done():
		slog.Info("context canceled, shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// sweepIdleSessions evicts abandoned session actors until ctx is done.
func sweepIdleSessions(ctx context.Context, service *app.QuizService, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			service.EvictIdle()
		}
	}
}

// buildBackends picks Postgres and Redis adapters when configured and falls
// back to in-memory ones otherwise.
func buildBackends(ctx context.Context, cfg config.Config) (backends, error) {
	var closers []func()
	b := backends{close: func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		closers = append(closers, func() { _ = redisClient.Close() })
	}
	redisTTL := config.TTLDuration(cfg.Redis.TTL, 10*time.Minute)

	var loader memory.QuizLoader
	if cfg.Postgres.URL != "" {
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			b.close()
			return backends{}, err
		}
		closers = append(closers, pool.Close)
		b.store = pgstore.NewStore(pool)
		loader = pgstore.NewQuizLoader(pool)
	} else {
		b.store = memory.NewStore()
		fileLoader, err := fileOrSampleLoader(cfg.Quizzes.File)
		if err != nil {
			b.close()
			return backends{}, err
		}
		loader = fileLoader
	}

	quizTTL := config.TTLDuration(cfg.Quiz.TTL, 10*time.Minute)
	if redisClient != nil {
		b.quizzes = redisstore.NewQuizRepository(redisClient, loader, quizTTL)
		b.sessions = redisstore.NewSessionRegistry(redisClient, redisTTL)
		b.snapshots = redisstore.NewSnapshotStore(redisClient, redisTTL)
	} else {
		b.quizzes = memory.NewQuizRepository(loader, quizTTL)
		b.sessions = memory.NewSessionRegistry()
		b.snapshots = memory.NewSnapshotStore()
	}
	return b, nil
}

func fileOrSampleLoader(path string) (*memory.StaticQuizLoader, error) {
	if path == "" {
		slog.Warn("no question bank configured, serving the built-in sample quiz")
		return memory.NewStaticQuizLoader(sampleQuizzes()), nil
	}
	loader, err := memory.LoadQuizFile(path)
	if err != nil {
		return nil, err
	}
	slog.Info("loaded question bank", "path", path)
	return loader, nil
}

// sampleQuizzes is a small two-round quiz for local runs without a question bank.
func sampleQuizzes() map[string]domain.Quiz {
	return map[string]domain.Quiz{
		"sample": {
			ID:    "sample",
			Title: "Warm-up",
			Questions: []domain.Question{
				{
					ID:            "q1",
					Text:          "What is 2 + 2?",
					Type:          domain.QuestionMultipleChoice,
					Options:       []string{"3", "4", "5"},
					CorrectAnswer: "4",
					Points:        100,
					TimeLimit:     20,
					Round:         1,
				},
				{
					ID:            "q2",
					Text:          "The Earth orbits the Sun.",
					Type:          domain.QuestionTrueFalse,
					CorrectAnswer: "True",
					Points:        100,
					TimeLimit:     15,
					Round:         1,
				},
				{
					ID:             "q3",
					Text:           "Name the largest planet in the solar system.",
					Type:           domain.QuestionBuzzer,
					CorrectAnswer:  "Jupiter",
					Points:         200,
					NegativePoints: 50,
					TimeLimit:      30,
					ReadingTime:    5,
					Round:          2,
				},
			},
		},
	}
}
