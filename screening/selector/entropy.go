package selector

import (
	"math"

	"github.com/example/pooltest/screening/domain"
)

// binaryEntropy returns the entropy (in nats) of a Bernoulli(p) outcome.
func binaryEntropy(p float64) float64 {
	if p <= 0 || p >= 1 {
		return 0
	}
	return -p*math.Log(p) - (1-p)*math.Log(1-p)
}

// tableEntropy returns the entropy of an unnormalized-but-summing-to-one
// probability table split across two outcome rows.
func tableEntropy(negative, positive []float64) float64 {
	h := 0.0
	for _, p := range negative {
		if p > 0 {
			h -= p * math.Log(p)
		}
	}
	for _, p := range positive {
		if p > 0 {
			h -= p * math.Log(p)
		}
	}
	return h
}

// collapseParticles merges identical status-vector hypotheses and sums
// their weights. The particle order is the order of first occurrence, which
// keeps downstream selection deterministic.
func collapseParticles(weights []float64, particles []domain.StatusVector) ([]float64, []domain.StatusVector) {
	if len(particles) < 2 {
		return weights, particles
	}
	index := make(map[string]int, len(particles))
	outWeights := make([]float64, 0, len(particles))
	outParticles := make([]domain.StatusVector, 0, len(particles))
	for i, particle := range particles {
		key := packStatus(particle)
		if at, seen := index[key]; seen {
			outWeights[at] += weights[i]
			continue
		}
		index[key] = len(outParticles)
		outWeights = append(outWeights, weights[i])
		outParticles = append(outParticles, particle)
	}
	return outWeights, outParticles
}

// packStatus packs a status vector into a byte-string map key.
func packStatus(status domain.StatusVector) string {
	packed := make([]byte, (len(status)+7)/8)
	for i, infected := range status {
		if infected {
			packed[i/8] |= 1 << (i % 8)
		}
	}
	return string(packed)
}
