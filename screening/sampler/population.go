package sampler

import (
	"math/rand"

	"github.com/example/pooltest/screening/domain"
)

// Particle is one weighted status-vector hypothesis.
type Particle struct {
	Status domain.StatusVector
	Weight float64
}

// Population is the indexed particle arena. Reweighting and resampling
// happen in place; particles are never shared outside the sampler except as
// read-only views.
type Population struct {
	Items []Particle
}

// ESS returns the effective sample size 1 / sum(w_i^2). Weights are assumed
// normalized.
func (p *Population) ESS() float64 {
	sumSq := 0.0
	for _, item := range p.Items {
		sumSq += item.Weight * item.Weight
	}
	if sumSq == 0 {
		return 0
	}
	return 1 / sumSq
}

// Marginals returns the weighted empirical mean of each patient's status.
func (p *Population) Marginals(numPatients int) domain.MarginalBelief {
	marginals := make(domain.MarginalBelief, numPatients)
	for _, item := range p.Items {
		for j, infected := range item.Status {
			if infected {
				marginals[j] += item.Weight
			}
		}
	}
	for j, m := range marginals {
		// clamp floating drift
		if m < 0 {
			marginals[j] = 0
		} else if m > 1 {
			marginals[j] = 1
		}
	}
	return marginals
}

// SystematicResample replaces the population with draws proportional to
// weight using a single uniform offset, and resets weights to uniform.
func (p *Population) SystematicResample(rng *rand.Rand) {
	n := len(p.Items)
	if n == 0 {
		return
	}
	cumulative := make([]float64, n)
	running := 0.0
	for i, item := range p.Items {
		running += item.Weight
		cumulative[i] = running
	}
	// guard against drift in the final cumulative weight
	cumulative[n-1] = 1

	offset := rng.Float64() / float64(n)
	resampled := make([]Particle, n)
	uniform := 1 / float64(n)
	src := 0
	for i := 0; i < n; i++ {
		target := offset + float64(i)/float64(n)
		for src < n-1 && cumulative[src] < target {
			src++
		}
		resampled[i] = Particle{
			Status: p.Items[src].Status.Clone(),
			Weight: uniform,
		}
	}
	p.Items = resampled
}

// Views returns read-only slices over the population for belief-state
// consumers. Callers must not mutate the returned data.
func (p *Population) Views() ([]float64, []domain.StatusVector) {
	weights := make([]float64, len(p.Items))
	particles := make([]domain.StatusVector, len(p.Items))
	for i, item := range p.Items {
		weights[i] = item.Weight
		particles[i] = item.Status
	}
	return weights, particles
}
