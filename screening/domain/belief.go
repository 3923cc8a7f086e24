package domain

// BeliefState is the read-only snapshot of the current posterior handed to a
// selection policy. Particle data is shared, not copied; selectors must not
// mutate it.
type BeliefState struct {
	// NumPatients is the population size.
	NumPatients int

	// Marginals is the current per-patient infection belief.
	Marginals MarginalBelief

	// ParticleWeights are the normalized posterior particle weights.
	ParticleWeights []float64

	// Particles holds one hypothesized status vector per particle.
	Particles []StatusVector

	// Evidence is the full append-only log of test outcomes so far.
	Evidence []TestOutcome

	// UnclearedPositives are previously tested pools of more than one
	// patient that returned positive and have not been split since.
	UnclearedPositives []Pool

	// PriorNoise is the noise model assumed by inference and selection.
	PriorNoise NoiseModel

	// PriorRates are the per-patient prior infection rates.
	PriorRates []float64

	// TestsNeeded is the number of pools the policy may still emit this cycle.
	TestsNeeded int

	// MaxGroupSize is the largest admissible pool.
	MaxGroupSize int

	// Cycle is the 0-based index of the cycle being planned.
	Cycle int
}

// ScalarPriorRate returns the common prior infection rate, or ok=false when
// rates differ across patients.
func (s *BeliefState) ScalarPriorRate() (float64, bool) {
	if len(s.PriorRates) == 0 {
		return 0, false
	}
	rate := s.PriorRates[0]
	for _, r := range s.PriorRates[1:] {
		if r != rate {
			return 0, false
		}
	}
	return rate, true
}
