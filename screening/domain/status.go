package domain

import "sort"

// StatusVector is the infection status of every patient in the population
// (true = infected). It is either the hidden ground truth of a simulation or
// a hypothesis about it.
type StatusVector []bool

// Clone returns an independent copy of the vector.
func (v StatusVector) Clone() StatusVector {
	out := make(StatusVector, len(v))
	copy(out, v)
	return out
}

// CountInfected returns the number of infected patients.
func (v StatusVector) CountInfected() int {
	n := 0
	for _, infected := range v {
		if infected {
			n++
		}
	}
	return n
}

// Pool is a set of patients tested together in a single reaction.
// Membership is stored as sorted patient indices.
type Pool struct {
	// Patients contains the member patient indices, in ascending order.
	Patients []int
}

// NewPool creates a pool from the given patient indices, sorting them
// and dropping duplicates.
func NewPool(patients ...int) Pool {
	members := make([]int, 0, len(patients))
	members = append(members, patients...)
	sort.Ints(members)
	dedup := members[:0]
	for i, p := range members {
		if i == 0 || p != members[i-1] {
			dedup = append(dedup, p)
		}
	}
	return Pool{Patients: dedup}
}

// Size returns the number of patients in the pool.
func (p Pool) Size() int {
	return len(p.Patients)
}

// Contains returns true if the patient is a member of the pool.
func (p Pool) Contains(patient int) bool {
	i := sort.SearchInts(p.Patients, patient)
	return i < len(p.Patients) && p.Patients[i] == patient
}

// AnyInfected reports whether the pool contains at least one patient
// marked infected in the given status vector.
func (p Pool) AnyInfected(status StatusVector) bool {
	for _, patient := range p.Patients {
		if patient < len(status) && status[patient] {
			return true
		}
	}
	return false
}

// TestOutcome records the result of testing one pool in one cycle.
// Outcomes are append-only evidence: once recorded they are never mutated.
// The same pool membership tested twice yields two distinct outcomes.
type TestOutcome struct {
	// Pool is the set of patients that were tested together.
	Pool Pool

	// Positive is the (noisy) boolean result reported by the lab.
	Positive bool

	// Cycle is the test cycle in which the pool was run (0-based).
	Cycle int
}

// MarginalBelief is the per-patient approximate probability of infection
// given all evidence so far. Values lie in [0, 1].
type MarginalBelief []float64

// Threshold converts marginals into a hard status estimate by comparing
// each value against the cutoff (patients at or above are called infected).
func (m MarginalBelief) Threshold(cutoff float64) StatusVector {
	out := make(StatusVector, len(m))
	for i, p := range m {
		out[i] = p >= cutoff
	}
	return out
}

// AllResolved reports whether every marginal is within tol of 0 or 1.
func (m MarginalBelief) AllResolved(tol float64) bool {
	for _, p := range m {
		if p > tol && p < 1-tol {
			return false
		}
	}
	return true
}
