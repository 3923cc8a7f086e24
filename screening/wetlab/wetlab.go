// Package wetlab simulates the noisy testing device and the ground-truth
// population it operates on.
package wetlab

import (
	"math/rand"

	"github.com/example/pooltest/screening/domain"
)

// Lab is the noisy channel boundary: given a pool and the true status
// vector it reports a stochastic boolean outcome governed by the true noise
// model, which may depend on pool size.
type Lab interface {
	Test(pool domain.Pool, truth domain.StatusVector) bool
}

// NoisyLab draws outcomes from the sensitivity/specificity of its noise
// model for the tested pool's size.
type NoisyLab struct {
	noise domain.NoiseModel
	rng   *rand.Rand
}

// NewNoisyLab creates a lab with its own seeded randomness.
func NewNoisyLab(noise domain.NoiseModel, seed int64) *NoisyLab {
	return &NoisyLab{
		noise: noise,
		rng:   rand.New(rand.NewSource(seed)),
	}
}

// Test implements Lab.
func (l *NoisyLab) Test(pool domain.Pool, truth domain.StatusVector) bool {
	if pool.AnyInfected(truth) {
		return l.rng.Float64() < l.noise.SensitivityFor(pool.Size())
	}
	return l.rng.Float64() >= l.noise.SpecificityFor(pool.Size())
}

// TruthGenerator produces ground-truth status vectors from a prior
// specification: an explicit vector, per-patient rates, or a scalar base
// rate. Whether the vector is frozen across runs is the caller's choice;
// the generator just draws.
type TruthGenerator struct {
	explicit domain.StatusVector
	rates    []float64
	rng      *rand.Rand
}

// NewTruthGenerator creates a generator for the given configuration.
func NewTruthGenerator(cfg domain.SimulationConfig, seed int64) *TruthGenerator {
	g := &TruthGenerator{
		rng: rand.New(rand.NewSource(seed)),
	}
	if cfg.GroundTruth != nil {
		g.explicit = cfg.GroundTruth.Clone()
	} else {
		g.rates = cfg.PriorRates()
	}
	return g
}

// Sample returns a fresh status vector. An explicit configured vector is
// returned as a copy; otherwise each patient's status is an independent
// Bernoulli draw from their prior rate.
func (g *TruthGenerator) Sample() domain.StatusVector {
	if g.explicit != nil {
		return g.explicit.Clone()
	}
	truth := make(domain.StatusVector, len(g.rates))
	for i, rate := range g.rates {
		truth[i] = g.rng.Float64() < rate
	}
	return truth
}
