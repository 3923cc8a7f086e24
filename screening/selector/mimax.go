package selector

import (
	"fmt"
	"math"

	"github.com/example/pooltest/screening/domain"
)

// acceptEpsilon is the minimal information-gain increment required to keep
// growing a pool. Requiring strict improvement makes the greedy construction
// prefer smaller pools on ties.
const acceptEpsilon = 1e-6

// defaultResolvedTolerance excludes patients whose marginal is already this
// close to 0 or 1 from new pools.
const defaultResolvedTolerance = 1e-3

// MaxMutualInformation greedily builds pools that maximize the expected
// mutual information between the batch's joint test outcome and the unknown
// status vector, evaluated against the particle posterior.
//
// Each pool is grown with forward greedy additions interleaved with backward
// removals. The outcome-probability table over all groups already chosen in
// the batch is tracked exactly (2^k joint configurations); the entropy of a
// candidate pool's outcome conditioned on the status vector uses the
// standard conditional-independence approximation across pool members.
type MaxMutualInformation struct {
	forward  int
	backward int

	// ResolvedTolerance controls which patients count as already resolved.
	ResolvedTolerance float64
}

// NewMaxMutualInformation creates the selector. Forward iterations must
// exceed backward iterations.
func NewMaxMutualInformation(forward, backward int) (*MaxMutualInformation, error) {
	if forward < 1 {
		return nil, fmt.Errorf("%w: forward iterations must be at least 1, got %d",
			domain.ErrInvalidConfig, forward)
	}
	if backward < 0 || backward >= forward {
		return nil, fmt.Errorf("%w: backward iterations must be in [0, forward), got %d",
			domain.ErrInvalidConfig, backward)
	}
	return &MaxMutualInformation{
		forward:           forward,
		backward:          backward,
		ResolvedTolerance: defaultResolvedTolerance,
	}, nil
}

// Select implements Selector. The batch never exceeds state.TestsNeeded
// pools or state.MaxGroupSize members per pool, and already-resolved
// patients are excluded. Selection is fully deterministic: ties in expected
// information gain go to the lowest patient index, and duplicate particles
// are collapsed in order of first occurrence.
func (m *MaxMutualInformation) Select(state *domain.BeliefState) ([]domain.Pool, error) {
	if state.TestsNeeded <= 0 {
		return nil, nil
	}
	if len(state.Particles) == 0 {
		return nil, fmt.Errorf("%w: mutual-information selection requires a particle posterior",
			domain.ErrNoParticles)
	}

	weights, particles := collapseParticles(state.ParticleWeights, state.Particles)

	eligible := make([]bool, state.NumPatients)
	anyEligible := false
	for i := range eligible {
		ok := true
		if i < len(state.Marginals) {
			p := state.Marginals[i]
			ok = p > m.ResolvedTolerance && p < 1-m.ResolvedTolerance
		}
		eligible[i] = ok
		anyEligible = anyEligible || ok
	}
	if !anyEligible {
		return nil, nil
	}

	batch := &miBatch{
		weights:      weights,
		particles:    particles,
		noise:        state.PriorNoise,
		maxGroupSize: state.MaxGroupSize,
		probPrev:     make([][]float64, len(particles)),
		used:         make([]bool, state.NumPatients),
		eligible:     eligible,
	}
	for i := range batch.probPrev {
		batch.probPrev[i] = []float64{1}
	}

	var pools []domain.Pool
	for len(pools) < state.TestsNeeded {
		members, _, ok := batch.buildGroup(m.forward, m.backward)
		if !ok {
			break
		}
		batch.commit(members)
		pools = append(pools, domain.NewPool(members...))
	}
	return pools, nil
}

// miBatch accumulates the joint outcome-probability table and conditional
// entropy of the pools already chosen within one selection batch.
type miBatch struct {
	weights   []float64
	particles []domain.StatusVector
	noise     domain.NoiseModel

	maxGroupSize int

	// probPrev[i] holds, for particle i, the probability of each of the 2^k
	// joint outcome configurations of the k pools committed so far.
	probPrev [][]float64

	// cumCond is the accumulated conditional entropy of committed pools.
	cumCond float64

	used     []bool
	eligible []bool
}

// buildGroup grows one pool with the forward/backward greedy scheme,
// returning its members and expected information gain. ok is false when no
// pool could be formed (no eligible candidates left).
func (b *miBatch) buildGroup(fw, bw int) (members []int, gain float64, ok bool) {
	numPatients := len(b.used)
	inGroup := make([]bool, numPatients)
	posCount := make([]int, len(b.particles))
	size := 0
	objOld := math.Inf(-1)
	committed := false

	for size+fw-bw <= b.maxGroupSize {
		propGroup := append([]bool(nil), inGroup...)
		propPos := append([]int(nil), posCount...)
		propSize := size
		objNew := math.Inf(-1)
		feasible := true

		for step := 0; step < fw; step++ {
			choice, obj := b.bestForward(propGroup, propPos, propSize)
			if choice < 0 {
				feasible = false
				break
			}
			propGroup[choice] = true
			b.adjustPositives(propPos, choice, 1)
			propSize++
			objNew = obj
		}
		if feasible {
			for step := 0; step < bw && propSize > 1; step++ {
				choice, obj := b.bestBackward(propGroup, propPos, propSize)
				if choice < 0 {
					break
				}
				propGroup[choice] = false
				b.adjustPositives(propPos, choice, -1)
				propSize--
				objNew = obj
			}
		}

		if !feasible || objNew <= objOld+acceptEpsilon {
			break
		}
		inGroup = propGroup
		posCount = propPos
		size = propSize
		objOld = objNew
		committed = true

		// keep the remaining iterations able to land exactly on the cap
		if excess := size + fw - b.maxGroupSize; bw < excess {
			bw = excess
		}
		if bw > fw-1 {
			bw = fw - 1
		}
		if bw < 0 {
			bw = 0
		}
	}

	if !committed {
		return nil, 0, false
	}
	for i, in := range inGroup {
		if in {
			members = append(members, i)
		}
	}
	return members, objOld, true
}

// bestForward evaluates adding each remaining eligible patient to the
// proposal and returns the one with the largest expected information gain.
// Iterating in ascending index order with a strict comparison breaks ties
// toward the lowest patient index.
func (b *miBatch) bestForward(inGroup []bool, posCount []int, size int) (choice int, obj float64) {
	choice = -1
	obj = math.Inf(-1)
	for c := range b.used {
		if b.used[c] || inGroup[c] || !b.eligible[c] {
			continue
		}
		candidate := b.objective(size+1, func(i int) bool {
			return posCount[i] > 0 || b.particles[i][c]
		})
		if candidate > obj {
			obj = candidate
			choice = c
		}
	}
	return choice, obj
}

// bestBackward evaluates removing each member of the proposal.
func (b *miBatch) bestBackward(inGroup []bool, posCount []int, size int) (choice int, obj float64) {
	choice = -1
	obj = math.Inf(-1)
	for c := range inGroup {
		if !inGroup[c] {
			continue
		}
		candidate := b.objective(size-1, func(i int) bool {
			count := posCount[i]
			if b.particles[i][c] {
				count--
			}
			return count > 0
		})
		if candidate > obj {
			obj = candidate
			choice = c
		}
	}
	return choice, obj
}

// objective computes the expected mutual information of the candidate pool
// described by its size and per-particle positivity indicator, jointly with
// every pool already committed in this batch.
func (b *miBatch) objective(size int, positive func(particle int) bool) float64 {
	se := b.noise.SensitivityFor(size)
	sp := b.noise.SpecificityFor(size)
	rho := se + sp - 1
	gamma := binaryEntropy(se) - binaryEntropy(sp)

	states := len(b.probPrev[0])
	negative := make([]float64, states)
	positiveRow := make([]float64, states)
	sumWPos := 0.0

	for i := range b.particles {
		w := b.weights[i]
		var p0, p1 float64
		if positive(i) {
			p0, p1 = sp-rho, 1-sp+rho
			sumWPos += w
		} else {
			p0, p1 = sp, 1-sp
		}
		row := b.probPrev[i]
		for st := 0; st < states; st++ {
			contrib := w * row[st]
			negative[st] += p0 * contrib
			positiveRow[st] += p1 * contrib
		}
	}

	cond := b.cumCond + binaryEntropy(sp) + gamma*sumWPos
	obj := tableEntropy(negative, positiveRow) - cond
	// information gain is non-negative; trim floating noise
	if obj < 0 && obj > -1e-9 {
		obj = 0
	}
	return obj
}

// commit folds an accepted pool into the batch state: the joint outcome
// table doubles, the conditional entropy accumulates, and the members are
// excluded from later pools in this batch.
func (b *miBatch) commit(members []int) {
	size := len(members)
	se := b.noise.SensitivityFor(size)
	sp := b.noise.SpecificityFor(size)
	rho := se + sp - 1

	sumWPos := 0.0
	states := len(b.probPrev[0])
	for i, particle := range b.particles {
		pos := false
		for _, patient := range members {
			if particle[patient] {
				pos = true
				break
			}
		}
		var p0, p1 float64
		if pos {
			p0, p1 = sp-rho, 1-sp+rho
			sumWPos += b.weights[i]
		} else {
			p0, p1 = sp, 1-sp
		}
		row := b.probPrev[i]
		next := make([]float64, 2*states)
		for st, v := range row {
			next[st] = p0 * v
			next[states+st] = p1 * v
		}
		b.probPrev[i] = next
	}
	b.cumCond += binaryEntropy(sp) + (binaryEntropy(se)-binaryEntropy(sp))*sumWPos

	for _, patient := range members {
		b.used[patient] = true
	}
}

func (b *miBatch) adjustPositives(posCount []int, patient, delta int) {
	for i, particle := range b.particles {
		if particle[patient] {
			posCount[i] += delta
		}
	}
}
