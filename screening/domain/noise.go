package domain

import "fmt"

// NoiseModel holds the sensitivity and specificity of the testing device.
//
// Each parameter is a vector indexed by group size: entry k-1 applies to
// pools of size k, and the last entry is reused for any larger pool. A
// single-entry vector therefore models size-independent noise.
//
// The simulated lab uses the true noise model; the sampler, decoder and
// selection policy use a prior noise model that may deliberately mismatch it.
type NoiseModel struct {
	Sensitivity []float64
	Specificity []float64
}

// UniformNoise returns a noise model with size-independent parameters.
func UniformNoise(sensitivity, specificity float64) NoiseModel {
	return NoiseModel{
		Sensitivity: []float64{sensitivity},
		Specificity: []float64{specificity},
	}
}

// SensitivityFor returns the sensitivity applying to a pool of the given size.
func (nm NoiseModel) SensitivityFor(size int) float64 {
	return selectForSize(nm.Sensitivity, size)
}

// SpecificityFor returns the specificity applying to a pool of the given size.
func (nm NoiseModel) SpecificityFor(size int) float64 {
	return selectForSize(nm.Specificity, size)
}

// Validate checks the noise model against the maximum group size.
// Per-size vectors must carry either a single entry or one entry per
// admissible group size; anything else is a configuration error.
func (nm NoiseModel) Validate(maxGroupSize int) error {
	if err := validateRates("sensitivity", nm.Sensitivity, maxGroupSize); err != nil {
		return err
	}
	return validateRates("specificity", nm.Specificity, maxGroupSize)
}

func validateRates(name string, rates []float64, maxGroupSize int) error {
	if len(rates) == 0 {
		return fmt.Errorf("%w: %s must not be empty", ErrInvalidConfig, name)
	}
	if len(rates) != 1 && len(rates) != maxGroupSize {
		return fmt.Errorf("%w: %s has %d entries, want 1 or %d (one per group size)",
			ErrInvalidConfig, name, len(rates), maxGroupSize)
	}
	for i, r := range rates {
		if r < 0 || r > 1 {
			return fmt.Errorf("%w: %s[%d] must be between 0 and 1, got %f",
				ErrInvalidConfig, name, i, r)
		}
	}
	return nil
}

func selectForSize(rates []float64, size int) float64 {
	if len(rates) == 0 {
		return 0
	}
	if size < 1 {
		size = 1
	}
	if size > len(rates) {
		size = len(rates)
	}
	return rates[size-1]
}
