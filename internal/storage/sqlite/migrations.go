package sqlite

import (
	"context"
	"database/sql"
	"fmt"
)

// migrations are applied in order; each statement is idempotent.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS experiments (
		id         TEXT PRIMARY KEY,
		config     TEXT NOT NULL,
		created_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS runs (
		id                 TEXT PRIMARY KEY,
		experiment_id      TEXT NOT NULL,
		seq                INTEGER NOT NULL,
		cycles_used        INTEGER NOT NULL,
		tests_used         INTEGER NOT NULL,
		false_positives    INTEGER NOT NULL,
		false_negatives    INTEGER NOT NULL,
		degenerate_updates INTEGER NOT NULL,
		reason             TEXT NOT NULL,
		truth              TEXT NOT NULL,
		estimate           TEXT NOT NULL,
		marginals          TEXT NOT NULL,
		duration_ms        INTEGER NOT NULL,
		started_at         TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_runs_experiment ON runs(experiment_id, seq)`,
	`CREATE TABLE IF NOT EXISTS outcomes (
		run_id   TEXT NOT NULL,
		seq      INTEGER NOT NULL,
		cycle    INTEGER NOT NULL,
		patients TEXT NOT NULL,
		positive BOOLEAN NOT NULL,
		PRIMARY KEY (run_id, seq)
	)`,
}

func migrate(ctx context.Context, db *sql.DB) error {
	for i, stmt := range migrations {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}
	return nil
}
