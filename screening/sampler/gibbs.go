package sampler

import (
	"math"
	"math/rand"

	"golang.org/x/sync/errgroup"

	"github.com/example/pooltest/screening/domain"
)

// rejuvenate perturbs each particle with single-coordinate MCMC sweeps
// targeting the evidence-conditioned posterior. The kernel leaves the target
// distribution invariant, so it restores particle diversity without biasing
// the belief.
//
// Per-particle RNG seeds are drawn serially from the sampler's RNG before
// the parallel section so results do not depend on scheduling.
func (s *Sampler) rejuvenate() {
	if s.gibbsCycles == 0 || len(s.evidence) == 0 {
		return
	}
	byPatient := poolsByPatient(s.evidence, s.numPatients)

	n := len(s.pop.Items)
	seeds := make([]int64, n)
	for i := range seeds {
		seeds[i] = s.rng.Int63()
	}

	grp := new(errgroup.Group)
	grp.SetLimit(s.parallelism)
	chunk := (n + s.parallelism - 1) / s.parallelism
	for start := 0; start < n; start += chunk {
		end := start + chunk
		if end > n {
			end = n
		}
		start := start
		grp.Go(func() error {
			for i := start; i < end; i++ {
				rng := rand.New(rand.NewSource(seeds[i]))
				for sweep := 0; sweep < s.gibbsCycles; sweep++ {
					s.sweep(rng, s.pop.Items[i].Status, byPatient)
				}
			}
			return nil
		})
	}
	grp.Wait()
}

// sweep runs one full coordinate pass over a particle's status vector.
//
// For each patient the full conditional P(infected | rest, evidence) is
// computed from the prior odds and the likelihood ratio over the outcomes
// whose pools contain the patient. In standard mode the new status is drawn
// directly from that conditional (Gibbs). With the Liu modification the
// opposite status is always proposed and accepted with probability
// min(1, p(flip)/p(current)), which lowers autocorrelation while keeping
// the same stationary distribution.
func (s *Sampler) sweep(rng *rand.Rand, status domain.StatusVector, byPatient [][]int) {
	for j := 0; j < s.numPatients; j++ {
		pInfected := s.conditional(j, status, byPatient[j])

		if !s.liu {
			status[j] = rng.Float64() < pInfected
			continue
		}

		pCurrent := pInfected
		if !status[j] {
			pCurrent = 1 - pInfected
		}
		pFlip := 1 - pCurrent
		if pCurrent <= 0 || rng.Float64() < pFlip/pCurrent {
			status[j] = !status[j]
		}
	}
}

// conditional returns P(status[j]=infected | status[-j], evidence).
func (s *Sampler) conditional(j int, status domain.StatusVector, outcomeIdx []int) float64 {
	rate := s.prior[j]
	if rate <= 0 {
		return 0
	}
	if rate >= 1 {
		return 1
	}
	logit := math.Log(rate / (1 - rate))

	for _, idx := range outcomeIdx {
		o := s.evidence[idx]
		if othersInfected(o.Pool, status, j) {
			// the pool indicator does not depend on patient j
			continue
		}
		se := s.noise.SensitivityFor(o.Pool.Size())
		sp := s.noise.SpecificityFor(o.Pool.Size())
		pIfInfected := outcomeProb(o.Positive, true, se, sp)
		pIfHealthy := outcomeProb(o.Positive, false, se, sp)
		logit += math.Log(math.Max(pIfInfected, minProb)) -
			math.Log(math.Max(pIfHealthy, minProb))
	}
	return 1 / (1 + math.Exp(-logit))
}

// othersInfected reports whether the pool contains an infected patient other
// than the excluded one.
func othersInfected(pool domain.Pool, status domain.StatusVector, exclude int) bool {
	for _, patient := range pool.Patients {
		if patient != exclude && patient < len(status) && status[patient] {
			return true
		}
	}
	return false
}
