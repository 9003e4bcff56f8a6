// Package migrations holds the bun migrations for the Postgres schema.
package migrations

import "github.com/uptrace/bun/migrate"

// Migrations is applied by the migrate and start commands.
var Migrations = migrate.NewMigrations()
