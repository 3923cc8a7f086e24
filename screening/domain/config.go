package domain

import (
	"fmt"
	"math"
)

// CycleBudget bounds one simulation run. It is immutable for the run's
// duration and consumed by the simulation loop and the selection policy.
type CycleBudget struct {
	// MaxCycles is the maximum number of test cycles.
	MaxCycles int

	// TestsPerCycle is the number of pools tested per cycle.
	TestsPerCycle int

	// MaxGroupSize is the largest admissible pool.
	MaxGroupSize int
}

// MaxTests returns the total number of tests the budget allows.
func (b CycleBudget) MaxTests() int {
	return b.MaxCycles * b.TestsPerCycle
}

// SimulationConfig holds all parameters for a pooled testing simulation.
type SimulationConfig struct {
	// NumPatients is the population size.
	// Default: 32
	NumPatients int

	// PriorInfectionRate is the base per-patient infection probability used
	// both to draw ground truth and as the sampler/decoder prior. A zero
	// rate is a meaningful value (an a-priori healthy population), so
	// WithDefaults leaves it untouched; DefaultConfig starts from 0.05.
	PriorInfectionRate float64

	// PriorPerPatient optionally overrides PriorInfectionRate with one rate
	// per patient. Length must equal NumPatients when set.
	PriorPerPatient []float64

	// GroundTruth optionally fixes the true status vector instead of drawing
	// it from the prior. Length must equal NumPatients when set.
	GroundTruth StatusVector

	// FreezeGroundTruth keeps the same true status vector across repeated
	// simulation runs instead of redrawing it per run.
	FreezeGroundTruth bool

	// Noise is the true noise model used by the simulated lab.
	// Default: sensitivity 0.85, specificity 0.97
	Noise NoiseModel

	// PriorNoise is the noise model assumed by inference and selection. It
	// may deliberately mismatch Noise. Defaults to Noise when unset.
	PriorNoise NoiseModel

	// MaxGroupSize is the largest admissible pool.
	// Default: 5
	MaxGroupSize int

	// TestsPerCycle is the number of pools tested per cycle.
	// Default: 4
	TestsPerCycle int

	// MaxCycles is the number of test cycles before the run terminates.
	// Default: 5
	MaxCycles int

	// NumParticles is the size of the SMC particle population.
	// Default: 2000
	NumParticles int

	// ResampleEachUpdate restarts inference from the prior against the full
	// evidence log on every update, instead of folding in only the newest
	// evidence. Slower but avoids accumulating approximation error.
	ResampleEachUpdate bool

	// GibbsCycles is the number of rejuvenation sweeps applied to each
	// particle after reweighting.
	// Default: 2
	GibbsCycles int

	// LiuModification switches the rejuvenation kernel to the forced-flip
	// proposal, which lowers correlation between consecutive samples.
	LiuModification bool

	// BPMaxIterations bounds loopy belief propagation rounds.
	// Default: 100
	BPMaxIterations int

	// ForwardIterations is the number of greedy growth steps per selection
	// round in the mutual-information policy.
	// Default: 1
	ForwardIterations int

	// BackwardIterations is the number of greedy removal steps per selection
	// round. Must be smaller than ForwardIterations.
	// Default: 0
	BackwardIterations int

	// ConfidenceThreshold enables early termination once every marginal is
	// within this distance of 0 or 1. Zero disables early termination.
	ConfidenceThreshold float64

	// NumSimulations is the number of independent runs to execute.
	// Default: 1
	NumSimulations int

	// ExportEvery is the metrics export cadence in runs.
	// Default: 1
	ExportEvery int

	// RandomSeed seeds all randomness. Use 0 for a time-derived seed.
	RandomSeed int64
}

// DefaultConfig returns the default configuration.
func DefaultConfig() SimulationConfig {
	return SimulationConfig{
		NumPatients:        32,
		PriorInfectionRate: 0.05,
		Noise:              UniformNoise(0.85, 0.97),
		MaxGroupSize:       5,
		TestsPerCycle:      4,
		MaxCycles:          5,
		NumParticles:       2000,
		GibbsCycles:        2,
		BPMaxIterations:    100,
		ForwardIterations:  1,
		BackwardIterations: 0,
		NumSimulations:     1,
		ExportEvery:        1,
	}
}

// WithDefaults returns a new config with defaults applied for zero values.
// PriorInfectionRate is deliberately left alone: zero means nobody is
// infected a priori, not that the field was omitted. Callers that need a
// populated default start from DefaultConfig or the file loader.
func (c SimulationConfig) WithDefaults() SimulationConfig {
	defaults := DefaultConfig()
	if c.NumPatients == 0 {
		c.NumPatients = defaults.NumPatients
	}
	if len(c.Noise.Sensitivity) == 0 && len(c.Noise.Specificity) == 0 {
		c.Noise = defaults.Noise
	}
	if len(c.PriorNoise.Sensitivity) == 0 && len(c.PriorNoise.Specificity) == 0 {
		c.PriorNoise = c.Noise
	}
	if c.MaxGroupSize == 0 {
		c.MaxGroupSize = defaults.MaxGroupSize
	}
	if c.TestsPerCycle == 0 {
		c.TestsPerCycle = defaults.TestsPerCycle
	}
	if c.MaxCycles == 0 {
		c.MaxCycles = defaults.MaxCycles
	}
	if c.NumParticles == 0 {
		c.NumParticles = defaults.NumParticles
	}
	if c.GibbsCycles == 0 {
		c.GibbsCycles = defaults.GibbsCycles
	}
	if c.BPMaxIterations == 0 {
		c.BPMaxIterations = defaults.BPMaxIterations
	}
	if c.ForwardIterations == 0 {
		c.ForwardIterations = defaults.ForwardIterations
	}
	if c.NumSimulations == 0 {
		c.NumSimulations = defaults.NumSimulations
	}
	if c.ExportEvery == 0 {
		c.ExportEvery = defaults.ExportEvery
	}
	return c
}

// Validate checks that the configuration is valid. Validation is fatal at
// setup: a mid-run failure would corrupt the evidence log's integrity.
func (c *SimulationConfig) Validate() error {
	if c.NumPatients < 1 {
		return fmt.Errorf("%w: NumPatients must be at least 1, got %d",
			ErrInvalidConfig, c.NumPatients)
	}
	if c.PriorInfectionRate < 0 || c.PriorInfectionRate > 1 {
		return fmt.Errorf("%w: PriorInfectionRate must be between 0 and 1, got %f",
			ErrInvalidConfig, c.PriorInfectionRate)
	}
	if c.PriorPerPatient != nil && len(c.PriorPerPatient) != c.NumPatients {
		return fmt.Errorf("%w: PriorPerPatient has %d entries, want %d",
			ErrInvalidConfig, len(c.PriorPerPatient), c.NumPatients)
	}
	for i, p := range c.PriorPerPatient {
		if p < 0 || p > 1 {
			return fmt.Errorf("%w: PriorPerPatient[%d] must be between 0 and 1, got %f",
				ErrInvalidConfig, i, p)
		}
	}
	if c.GroundTruth != nil && len(c.GroundTruth) != c.NumPatients {
		return fmt.Errorf("%w: GroundTruth has %d entries, want %d",
			ErrInvalidConfig, len(c.GroundTruth), c.NumPatients)
	}
	if c.MaxGroupSize < 1 {
		return fmt.Errorf("%w: MaxGroupSize must be at least 1, got %d",
			ErrInvalidConfig, c.MaxGroupSize)
	}
	if c.MaxGroupSize > c.NumPatients {
		return fmt.Errorf("%w: MaxGroupSize %d exceeds population size %d",
			ErrInvalidConfig, c.MaxGroupSize, c.NumPatients)
	}
	if c.TestsPerCycle < 1 {
		return fmt.Errorf("%w: TestsPerCycle must be at least 1, got %d",
			ErrInvalidConfig, c.TestsPerCycle)
	}
	if maxPools := maxDistinctPools(c.NumPatients, c.MaxGroupSize); c.TestsPerCycle > maxPools {
		return fmt.Errorf("%w: TestsPerCycle %d exceeds the %d distinct pools achievable",
			ErrInvalidConfig, c.TestsPerCycle, maxPools)
	}
	if c.MaxCycles < 1 {
		return fmt.Errorf("%w: MaxCycles must be at least 1, got %d",
			ErrInvalidConfig, c.MaxCycles)
	}
	if c.NumParticles < 1 {
		return fmt.Errorf("%w: NumParticles must be at least 1, got %d",
			ErrInvalidConfig, c.NumParticles)
	}
	if c.GibbsCycles < 0 {
		return fmt.Errorf("%w: GibbsCycles must not be negative, got %d",
			ErrInvalidConfig, c.GibbsCycles)
	}
	if c.BPMaxIterations < 1 {
		return fmt.Errorf("%w: BPMaxIterations must be at least 1, got %d",
			ErrInvalidConfig, c.BPMaxIterations)
	}
	if c.ForwardIterations < 1 {
		return fmt.Errorf("%w: ForwardIterations must be at least 1, got %d",
			ErrInvalidConfig, c.ForwardIterations)
	}
	if c.BackwardIterations < 0 || c.BackwardIterations >= c.ForwardIterations {
		return fmt.Errorf("%w: BackwardIterations must be in [0, ForwardIterations), got %d",
			ErrInvalidConfig, c.BackwardIterations)
	}
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold >= 0.5 {
		return fmt.Errorf("%w: ConfidenceThreshold must be in [0, 0.5), got %f",
			ErrInvalidConfig, c.ConfidenceThreshold)
	}
	if c.NumSimulations < 1 {
		return fmt.Errorf("%w: NumSimulations must be at least 1, got %d",
			ErrInvalidConfig, c.NumSimulations)
	}
	if c.ExportEvery < 1 {
		return fmt.Errorf("%w: ExportEvery must be at least 1, got %d",
			ErrInvalidConfig, c.ExportEvery)
	}
	if err := c.Noise.Validate(c.MaxGroupSize); err != nil {
		return fmt.Errorf("noise model: %w", err)
	}
	if err := c.PriorNoise.Validate(c.MaxGroupSize); err != nil {
		return fmt.Errorf("prior noise model: %w", err)
	}
	return nil
}

// Budget returns the cycle budget implied by the configuration.
func (c SimulationConfig) Budget() CycleBudget {
	return CycleBudget{
		MaxCycles:     c.MaxCycles,
		TestsPerCycle: c.TestsPerCycle,
		MaxGroupSize:  c.MaxGroupSize,
	}
}

// PriorRates returns the per-patient prior infection rates, expanding a
// scalar rate as needed.
func (c SimulationConfig) PriorRates() []float64 {
	if c.PriorPerPatient != nil {
		out := make([]float64, len(c.PriorPerPatient))
		copy(out, c.PriorPerPatient)
		return out
	}
	out := make([]float64, c.NumPatients)
	for i := range out {
		out[i] = c.PriorInfectionRate
	}
	return out
}

// maxDistinctPools returns C(n,1)+...+C(n,k), saturating to avoid overflow.
// Any realistic TestsPerCycle is far below the saturation point.
func maxDistinctPools(n, k int) int {
	const limit = 1 << 30
	total := 0
	choose := 1.0
	for size := 1; size <= k; size++ {
		choose *= float64(n-size+1) / float64(size)
		if choose > float64(limit) || total > limit {
			return limit
		}
		total += int(math.Round(choose))
	}
	return total
}
