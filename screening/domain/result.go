package domain

import "time"

// TerminationReason explains why a simulation run stopped.
type TerminationReason int

const (
	// TerminatedBudget means the cycle budget was exhausted.
	TerminatedBudget TerminationReason = iota
	// TerminatedResolved means every marginal crossed the confidence threshold.
	TerminatedResolved
	// TerminatedNoPools means the selection policy had nothing left to test.
	TerminatedNoPools
)

func (r TerminationReason) String() string {
	switch r {
	case TerminatedBudget:
		return "BUDGET_EXHAUSTED"
	case TerminatedResolved:
		return "ALL_RESOLVED"
	case TerminatedNoPools:
		return "NO_POOLS"
	default:
		return "UNKNOWN"
	}
}

// RunResult is the outcome of one simulation run, exposed to metrics
// exporters after the loop reaches its terminal state.
type RunResult struct {
	// ID uniquely identifies the run.
	ID string

	// ExperimentID groups runs belonging to one experiment.
	ExperimentID string

	// Sequence is the 0-based index of the run within its experiment.
	Sequence int

	// Truth is the (possibly frozen) ground-truth status vector.
	Truth StatusVector

	// Marginals is the final per-patient belief.
	Marginals MarginalBelief

	// Estimate is the thresholded final status estimate.
	Estimate StatusVector

	// Evidence is the complete ordered test log.
	Evidence []TestOutcome

	// CyclesUsed and TestsUsed count consumed budget.
	CyclesUsed int
	TestsUsed  int

	// FalsePositives and FalseNegatives compare Estimate against Truth.
	FalsePositives int
	FalseNegatives int

	// DegenerateUpdates counts posterior updates recovered via the
	// weight floor (all particles inconsistent with evidence).
	DegenerateUpdates int

	// Reason explains why the run terminated.
	Reason TerminationReason

	// Duration is the wall-clock time of the run.
	Duration time.Duration

	// StartedAt is when the run began.
	StartedAt time.Time
}

// CountErrors fills FalsePositives and FalseNegatives from Estimate vs Truth.
func (r *RunResult) CountErrors() {
	r.FalsePositives = 0
	r.FalseNegatives = 0
	for i := range r.Truth {
		if i >= len(r.Estimate) {
			break
		}
		switch {
		case r.Estimate[i] && !r.Truth[i]:
			r.FalsePositives++
		case !r.Estimate[i] && r.Truth[i]:
			r.FalseNegatives++
		}
	}
}
