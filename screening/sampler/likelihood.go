package sampler

import (
	"math"

	"github.com/example/pooltest/screening/domain"
)

// minProb floors probabilities inside the rejuvenation kernel so that
// log-ratios stay finite even under noiseless (0/1) noise priors.
const minProb = 1e-12

// outcomeLogProb returns the log-probability of observing the outcome's
// result given the hypothesized statuses of its pool, under the prior noise
// model. May be -Inf when the hypothesis is impossible under the model.
func outcomeLogProb(o domain.TestOutcome, status domain.StatusVector, noise domain.NoiseModel) float64 {
	se := noise.SensitivityFor(o.Pool.Size())
	sp := noise.SpecificityFor(o.Pool.Size())
	return math.Log(outcomeProb(o.Positive, o.Pool.AnyInfected(status), se, sp))
}

// evidenceLogProb sums outcomeLogProb across a slice of outcomes.
func evidenceLogProb(evidence []domain.TestOutcome, status domain.StatusVector, noise domain.NoiseModel) float64 {
	total := 0.0
	for _, o := range evidence {
		total += outcomeLogProb(o, status, noise)
	}
	return total
}

// outcomeProb is P(observed result | pool contains an infected patient).
func outcomeProb(observedPositive, anyInfected bool, se, sp float64) float64 {
	switch {
	case anyInfected && observedPositive:
		return se
	case anyInfected && !observedPositive:
		return 1 - se
	case !anyInfected && observedPositive:
		return 1 - sp
	default:
		return sp
	}
}

// poolsByPatient indexes evidence by patient so the rejuvenation kernel can
// touch only the outcomes a proposed flip can affect.
func poolsByPatient(evidence []domain.TestOutcome, numPatients int) [][]int {
	byPatient := make([][]int, numPatients)
	for idx, o := range evidence {
		for _, patient := range o.Pool.Patients {
			if patient >= 0 && patient < numPatients {
				byPatient[patient] = append(byPatient[patient], idx)
			}
		}
	}
	return byPatient
}
