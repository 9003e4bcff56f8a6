package migrations

import (
	"context"
	_ "embed"

	"github.com/uptrace/bun"
)

//go:embed 0002_create_sessions.sql
var createSessionsSQL string

func init() {
	Migrations.MustRegister(
		func(ctx context.Context, db *bun.DB) error {
			_, err := db.ExecContext(ctx, createSessionsSQL)
			return err
		},
		func(ctx context.Context, db *bun.DB) error {
			_, err := db.ExecContext(ctx, `
				DROP TABLE IF EXISTS session_analytics;
				DROP TABLE IF EXISTS answers;
				DROP TABLE IF EXISTS participants;
				DROP TABLE IF EXISTS quiz_sessions;`)
			return err
		},
	)
}
