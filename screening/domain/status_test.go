package domain

import (
	"reflect"
	"testing"
)

func TestNewPoolSortsAndDeduplicates(t *testing.T) {
	pool := NewPool(5, 1, 3, 1, 5)
	want := []int{1, 3, 5}
	if !reflect.DeepEqual(pool.Patients, want) {
		t.Errorf("Patients = %v, want %v", pool.Patients, want)
	}
	if pool.Size() != 3 {
		t.Errorf("Size = %d, want 3", pool.Size())
	}
}

func TestPoolContains(t *testing.T) {
	pool := NewPool(2, 4, 6)
	for _, patient := range []int{2, 4, 6} {
		if !pool.Contains(patient) {
			t.Errorf("Contains(%d) = false, want true", patient)
		}
	}
	for _, patient := range []int{0, 3, 7} {
		if pool.Contains(patient) {
			t.Errorf("Contains(%d) = true, want false", patient)
		}
	}
}

func TestPoolAnyInfected(t *testing.T) {
	status := StatusVector{false, true, false, false}
	if !NewPool(0, 1).AnyInfected(status) {
		t.Error("pool containing infected patient should report infected")
	}
	if NewPool(0, 2, 3).AnyInfected(status) {
		t.Error("pool of healthy patients should report healthy")
	}
	// out-of-range members are treated as healthy
	if NewPool(10).AnyInfected(status) {
		t.Error("out-of-range member should not report infected")
	}
}

func TestStatusVectorClone(t *testing.T) {
	v := StatusVector{true, false, true}
	clone := v.Clone()
	clone[0] = false
	if !v[0] {
		t.Error("Clone must be independent of the original")
	}
	if v.CountInfected() != 2 {
		t.Errorf("CountInfected = %d, want 2", v.CountInfected())
	}
}

func TestMarginalThreshold(t *testing.T) {
	m := MarginalBelief{0.1, 0.5, 0.9, 0.49}
	got := m.Threshold(0.5)
	want := StatusVector{false, true, true, false}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Threshold(0.5) = %v, want %v", got, want)
	}
}

func TestMarginalAllResolved(t *testing.T) {
	if !(MarginalBelief{0.001, 0.999, 0}).AllResolved(0.01) {
		t.Error("marginals near 0 and 1 should be resolved")
	}
	if (MarginalBelief{0.001, 0.3}).AllResolved(0.01) {
		t.Error("mid-range marginal should not be resolved")
	}
}

func TestCountErrors(t *testing.T) {
	r := RunResult{
		Truth:    StatusVector{true, false, true, false},
		Estimate: StatusVector{true, true, false, false},
	}
	r.CountErrors()
	if r.FalsePositives != 1 {
		t.Errorf("FalsePositives = %d, want 1", r.FalsePositives)
	}
	if r.FalseNegatives != 1 {
		t.Errorf("FalseNegatives = %d, want 1", r.FalseNegatives)
	}
}

func TestTerminationReasonString(t *testing.T) {
	tests := []struct {
		reason TerminationReason
		want   string
	}{
		{TerminatedBudget, "BUDGET_EXHAUSTED"},
		{TerminatedResolved, "ALL_RESOLVED"},
		{TerminatedNoPools, "NO_POOLS"},
		{TerminationReason(99), "UNKNOWN"},
	}
	for _, tt := range tests {
		if got := tt.reason.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}
