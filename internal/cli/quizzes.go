package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"buzzer-quiz-service/internal/app"
	"buzzer-quiz-service/internal/domain"
	"buzzer-quiz-service/internal/export"
	"buzzer-quiz-service/internal/infra/memory"
	pgstore "buzzer-quiz-service/internal/infra/postgres"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/spf13/cobra"
)

// NewImportCmd loads a YAML question bank into Postgres.
func NewImportCmd(configPath *string) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import quizzes from a YAML file into the question bank",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			if file == "" {
				file = cfg.Quizzes.File
			}
			if file == "" {
				return fmt.Errorf("no quiz file given")
			}
			if cfg.Postgres.URL == "" {
				return fmt.Errorf("postgres url not configured")
			}
			if err := runMigrationsWithConfig(cmd.Context(), cfg); err != nil {
				return err
			}
			pool, err := pgxpool.Connect(cmd.Context(), cfg.Postgres.URL)
			if err != nil {
				return err
			}
			defer pool.Close()
			return importQuizzes(cmd.Context(), pgstore.NewQuizLoader(pool), file)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "YAML quiz file (defaults to quizzes.file)")
	return cmd
}

type quizSaver interface {
	SaveQuiz(ctx context.Context, quiz domain.Quiz) error
}

func importQuizzes(ctx context.Context, saver quizSaver, path string) error {
	loader, err := memory.LoadQuizFile(path)
	if err != nil {
		return err
	}
	for _, quiz := range loader.Quizzes() {
		// reject quizzes a session could not play
		if _, err := app.PrepareQuestions(quiz.Questions); err != nil {
			return fmt.Errorf("quiz %s: %w", quiz.ID, err)
		}
		if err := saver.SaveQuiz(ctx, quiz); err != nil {
			return err
		}
		slog.Info("imported quiz", "quiz", quiz.ID, "questions", len(quiz.Questions))
	}
	return nil
}

// NewExportCmd writes the analytics of a finished session to a file or stdout.
func NewExportCmd(configPath *string) *cobra.Command {
	var (
		sessionID string
		format    string
		out       string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export post-game analytics as JSON or XLSX",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			f, err := export.ParseFormat(format)
			if err != nil {
				return err
			}
			if cfg.Postgres.URL == "" {
				return fmt.Errorf("postgres url not configured")
			}
			pool, err := pgxpool.Connect(cmd.Context(), cfg.Postgres.URL)
			if err != nil {
				return err
			}
			defer pool.Close()

			service := app.NewQuizService(pgstore.NewStore(pool), nil, memory.NewSessionRegistry(), nil,
				app.WithGameConfig(app.GameConfig{TopPerformers: cfg.Game.TopPerformers}))
			analytics, err := service.Analytics(cmd.Context(), sessionID)
			if err != nil {
				return err
			}

			var w io.Writer = cmd.OutOrStdout()
			if out != "" {
				file, err := os.Create(out)
				if err != nil {
					return err
				}
				defer file.Close()
				w = file
			}
			return export.Write(w, f, analytics)
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "session id")
	cmd.Flags().StringVar(&format, "format", "json", "json or xlsx")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (stdout when empty)")
	_ = cmd.MarkFlagRequired("session")
	return cmd
}
