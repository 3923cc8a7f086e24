// Package sqlite persists experiments and simulation results.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/example/pooltest/screening/domain"
)

// Store implements result persistence over SQLite.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the database at the given path.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=ON")
	if err != nil {
		return nil, err
	}

	// SQLite works best with a single connection for writes
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate runs database migrations.
func (s *Store) Migrate(ctx context.Context) error {
	return migrate(ctx, s.db)
}

// SaveExperiment records an experiment and its configuration.
func (s *Store) SaveExperiment(ctx context.Context, experimentID string, cfg domain.SimulationConfig) error {
	config, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO experiments (id, config, created_at) VALUES (?, ?, ?)`,
		experimentID, string(config), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert experiment: %w", err)
	}
	return nil
}

// Export persists a batch of finished runs with their evidence logs.
// It implements the simulator's Exporter interface.
func (s *Store) Export(ctx context.Context, results []*domain.RunResult) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, result := range results {
		if err := insertRun(ctx, tx, result); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func insertRun(ctx context.Context, tx *sql.Tx, result *domain.RunResult) error {
	truth, err := json.Marshal(result.Truth)
	if err != nil {
		return fmt.Errorf("marshal truth: %w", err)
	}
	estimate, err := json.Marshal(result.Estimate)
	if err != nil {
		return fmt.Errorf("marshal estimate: %w", err)
	}
	marginals, err := json.Marshal(result.Marginals)
	if err != nil {
		return fmt.Errorf("marshal marginals: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (
			id, experiment_id, seq, cycles_used, tests_used,
			false_positives, false_negatives, degenerate_updates,
			reason, truth, estimate, marginals, duration_ms, started_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		result.ID, result.ExperimentID, result.Sequence,
		result.CyclesUsed, result.TestsUsed,
		result.FalsePositives, result.FalseNegatives, result.DegenerateUpdates,
		result.Reason.String(), string(truth), string(estimate), string(marginals),
		result.Duration.Milliseconds(),
		result.StartedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert run %s: %w", result.ID, err)
	}

	for seq, outcome := range result.Evidence {
		patients, err := json.Marshal(outcome.Pool.Patients)
		if err != nil {
			return fmt.Errorf("marshal pool: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO outcomes (run_id, seq, cycle, patients, positive)
			VALUES (?, ?, ?, ?, ?)`,
			result.ID, seq, outcome.Cycle, string(patients), outcome.Positive)
		if err != nil {
			return fmt.Errorf("insert outcome %d of run %s: %w", seq, result.ID, err)
		}
	}
	return nil
}

// RunRecord is a persisted run row.
type RunRecord struct {
	ID                string
	ExperimentID      string
	Sequence          int
	CyclesUsed        int
	TestsUsed         int
	FalsePositives    int
	FalseNegatives    int
	DegenerateUpdates int
	Reason            string
}

// ListRuns returns the persisted runs for an experiment in sequence order.
func (s *Store) ListRuns(ctx context.Context, experimentID string) ([]RunRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, experiment_id, seq, cycles_used, tests_used,
		       false_positives, false_negatives, degenerate_updates, reason
		FROM runs WHERE experiment_id = ? ORDER BY seq`,
		experimentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []RunRecord
	for rows.Next() {
		var r RunRecord
		if err := rows.Scan(&r.ID, &r.ExperimentID, &r.Sequence,
			&r.CyclesUsed, &r.TestsUsed,
			&r.FalsePositives, &r.FalseNegatives, &r.DegenerateUpdates,
			&r.Reason); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Summary aggregates an experiment's runs.
type Summary struct {
	Runs           int
	AvgTestsUsed   float64
	AvgCyclesUsed  float64
	FalsePositives int
	FalseNegatives int
}

// ExperimentSummary aggregates the persisted runs of an experiment.
func (s *Store) ExperimentSummary(ctx context.Context, experimentID string) (*Summary, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(AVG(tests_used), 0),
		       COALESCE(AVG(cycles_used), 0),
		       COALESCE(SUM(false_positives), 0),
		       COALESCE(SUM(false_negatives), 0)
		FROM runs WHERE experiment_id = ?`,
		experimentID)

	var summary Summary
	if err := row.Scan(&summary.Runs, &summary.AvgTestsUsed, &summary.AvgCyclesUsed,
		&summary.FalsePositives, &summary.FalseNegatives); err != nil {
		return nil, err
	}
	return &summary, nil
}
