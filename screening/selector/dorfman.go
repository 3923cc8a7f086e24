package selector

import (
	"math"
	"sort"

	"github.com/example/pooltest/screening/domain"
)

// Split divides the population into contiguous pools of near-equal size,
// the classic Dorfman first stage. With SplitFactor zero the pool size is
// derived from the scalar prior infection rate as 1 + ceil(1/sqrt(rate)),
// capped at the maximum group size.
type Split struct {
	// SplitFactor is the number of pools to form. Zero derives it from the
	// prior infection rate.
	SplitFactor int
}

// Select implements Selector.
func (s Split) Select(state *domain.BeliefState) ([]domain.Pool, error) {
	splits := s.SplitFactor
	if splits == 0 {
		rate, scalar := state.ScalarPriorRate()
		if !scalar {
			// derived Dorfman sizing has no per-patient form; use the
			// informative variant for heterogeneous priors
			return nil, domain.ErrHeterogeneousPrior
		}
		groupSize := state.MaxGroupSize
		if rate > 0 {
			derived := 1 + int(math.Ceil(1/math.Sqrt(rate)))
			if derived < groupSize {
				groupSize = derived
			}
		}
		splits = ceilDiv(state.NumPatients, groupSize)
	}
	if minSplits := ceilDiv(state.NumPatients, state.MaxGroupSize); splits < minSplits {
		splits = minSplits
	}

	indices := make([]int, state.NumPatients)
	for i := range indices {
		indices[i] = i
	}
	pools := splitIntoPools(indices, splits)
	return truncate(pools, state.TestsNeeded), nil
}

// SplitPositive retests previously positive pools by splitting each into
// smaller pools. With SplitFactor zero each positive pool is split
// exhaustively into singletons.
type SplitPositive struct {
	// SplitFactor is the number of sub-pools per positive pool. Zero means
	// exhaustive (one singleton per member).
	SplitFactor int
}

// Select implements Selector. Only uncleared positive pools with more than
// one member are split; when none remain the batch is empty, which the
// simulation loop treats as the run being cleared.
func (s SplitPositive) Select(state *domain.BeliefState) ([]domain.Pool, error) {
	var pools []domain.Pool
	for _, pool := range state.UnclearedPositives {
		if pool.Size() <= 1 {
			continue
		}
		factor := s.SplitFactor
		if factor == 0 || factor > pool.Size() {
			factor = pool.Size()
		}
		pools = append(pools, splitIntoPools(pool.Patients, factor)...)
	}
	return truncate(pools, state.TestsNeeded), nil
}

// InformativeDorfman sizes pools by expected tests per patient, following
// the pool-specific optimal Dorfman construction: patients are sorted by
// marginal belief and greedily packed into the pool size minimizing
// (1 + k*(se + (1-se-sp)*prod(1-p))) / k.
type InformativeDorfman struct {
	// CutOffLow and CutOffHigh exclude patients whose marginal is already
	// decided. Zero values for both default to (0, 1): everyone included.
	CutOffLow  float64
	CutOffHigh float64
}

// Select implements Selector.
func (s InformativeDorfman) Select(state *domain.BeliefState) ([]domain.Pool, error) {
	high := s.CutOffHigh
	if high == 0 {
		high = 1
	}
	low := s.CutOffLow

	var ids []int
	for i, p := range state.Marginals {
		if p > low && p < high {
			ids = append(ids, i)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}
	sort.SliceStable(ids, func(a, b int) bool {
		return state.Marginals[ids[a]] < state.Marginals[ids[b]]
	})

	var pools []domain.Pool
	next := 0
	for next < len(ids) {
		remaining := len(ids) - next
		maxSize := state.MaxGroupSize
		if remaining < maxSize {
			maxSize = remaining
		}

		// expected tests per patient for each candidate size; a singleton
		// costs exactly one test
		bestSize := 1
		bestCost := 1.0
		cumHealthy := 1.0
		for k := 1; k <= maxSize; k++ {
			cumHealthy *= 1 - state.Marginals[ids[next+k-1]]
			if k == 1 {
				continue
			}
			se := state.PriorNoise.SensitivityFor(k)
			sp := state.PriorNoise.SpecificityFor(k)
			cost := (1 + float64(k)*(se+(1-se-sp)*cumHealthy)) / float64(k)
			if cost < bestCost {
				bestCost = cost
				bestSize = k
			}
		}

		pools = append(pools, domain.NewPool(ids[next:next+bestSize]...))
		next += bestSize
	}

	// the remainder of the assignment is re-derived next cycle from the
	// updated marginals, so capping at the budget loses nothing
	return truncate(pools, state.TestsNeeded), nil
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}

// splitIntoPools splits the given patients into n contiguous pools, the
// first pools taking the extra patient when the division is uneven.
func splitIntoPools(patients []int, n int) []domain.Pool {
	if n < 1 {
		n = 1
	}
	if n > len(patients) {
		n = len(patients)
	}
	pools := make([]domain.Pool, 0, n)
	base := len(patients) / n
	extra := len(patients) % n
	start := 0
	for i := 0; i < n; i++ {
		size := base
		if i < extra {
			size++
		}
		if size == 0 {
			continue
		}
		pools = append(pools, domain.NewPool(patients[start:start+size]...))
		start += size
	}
	return pools
}

func truncate(pools []domain.Pool, limit int) []domain.Pool {
	if limit < 0 {
		limit = 0
	}
	if len(pools) > limit {
		pools = pools[:limit]
	}
	return pools
}
