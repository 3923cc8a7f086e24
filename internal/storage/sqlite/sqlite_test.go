package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/example/pooltest/screening/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return store
}

func makeResult(id, experimentID string, seq int) *domain.RunResult {
	r := &domain.RunResult{
		ID:           id,
		ExperimentID: experimentID,
		Sequence:     seq,
		Truth:        domain.StatusVector{true, false, false, true},
		Marginals:    domain.MarginalBelief{0.98, 0.01, 0.02, 0.95},
		Estimate:     domain.StatusVector{true, false, false, true},
		Evidence: []domain.TestOutcome{
			{Pool: domain.NewPool(0, 1), Positive: true, Cycle: 0},
			{Pool: domain.NewPool(0), Positive: true, Cycle: 1},
		},
		CyclesUsed: 2,
		TestsUsed:  2,
		Reason:     domain.TerminatedBudget,
		Duration:   42 * time.Millisecond,
		StartedAt:  time.Now().UTC(),
	}
	r.CountErrors()
	return r
}

func TestSaveExperimentAndExport(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	cfg := domain.DefaultConfig()
	if err := store.SaveExperiment(ctx, "exp-1", cfg); err != nil {
		t.Fatalf("SaveExperiment: %v", err)
	}

	results := []*domain.RunResult{
		makeResult("run-1", "exp-1", 0),
		makeResult("run-2", "exp-1", 1),
	}
	if err := store.Export(ctx, results); err != nil {
		t.Fatalf("Export: %v", err)
	}

	records, err := store.ListRuns(ctx, "exp-1")
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d runs, want 2", len(records))
	}
	if records[0].ID != "run-1" || records[1].ID != "run-2" {
		t.Errorf("runs out of sequence order: %v", records)
	}
	if records[0].TestsUsed != 2 || records[0].CyclesUsed != 2 {
		t.Errorf("run-1 budget fields = %+v", records[0])
	}
	if records[0].Reason != "BUDGET_EXHAUSTED" {
		t.Errorf("Reason = %q, want BUDGET_EXHAUSTED", records[0].Reason)
	}
}

func TestExportIsAtomic(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	good := makeResult("run-1", "exp-1", 0)
	dup := makeResult("run-1", "exp-1", 1) // duplicate primary key
	if err := store.Export(ctx, []*domain.RunResult{good, dup}); err == nil {
		t.Fatal("expected export of a duplicate run ID to fail")
	}

	records, err := store.ListRuns(ctx, "exp-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 0 {
		t.Errorf("failed export left %d rows behind", len(records))
	}
}

func TestExperimentSummary(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	results := []*domain.RunResult{
		makeResult("run-1", "exp-1", 0),
		makeResult("run-2", "exp-1", 1),
		makeResult("run-3", "exp-other", 0),
	}
	if err := store.Export(ctx, results); err != nil {
		t.Fatal(err)
	}

	summary, err := store.ExperimentSummary(ctx, "exp-1")
	if err != nil {
		t.Fatal(err)
	}
	if summary.Runs != 2 {
		t.Errorf("Runs = %d, want 2", summary.Runs)
	}
	if summary.AvgTestsUsed != 2 {
		t.Errorf("AvgTestsUsed = %f, want 2", summary.AvgTestsUsed)
	}
	if summary.FalsePositives != 0 || summary.FalseNegatives != 0 {
		t.Errorf("error totals = %d/%d, want 0/0",
			summary.FalsePositives, summary.FalseNegatives)
	}
}

func TestExperimentSummaryEmpty(t *testing.T) {
	store := newTestStore(t)
	summary, err := store.ExperimentSummary(context.Background(), "missing")
	if err != nil {
		t.Fatal(err)
	}
	if summary.Runs != 0 {
		t.Errorf("Runs = %d, want 0", summary.Runs)
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("second migrate failed: %v", err)
	}
}
