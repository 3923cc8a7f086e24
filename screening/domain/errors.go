package domain

import "errors"

var (
	// ErrInvalidConfig is returned when configuration is invalid.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrInvalidPool is returned when a pool violates the cycle budget.
	ErrInvalidPool = errors.New("invalid pool")

	// ErrNoParticles is returned when the sampler is used before initialization.
	ErrNoParticles = errors.New("particle population not initialized")

	// ErrHeterogeneousPrior is returned when a selector that needs a scalar
	// prior infection rate is given per-patient rates.
	ErrHeterogeneousPrior = errors.New("selector requires a scalar prior infection rate")

	// ErrRunAborted is returned when a simulation run is cancelled before
	// reaching a terminal state.
	ErrRunAborted = errors.New("simulation run aborted")
)
