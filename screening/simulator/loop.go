// Package simulator orchestrates adaptive pooled testing runs: per cycle it
// asks the selection policy for pools, queries the lab, and folds the
// outcomes back into the belief, until the cycle budget is exhausted or the
// population is resolved.
package simulator

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/example/pooltest/internal/observability"
	"github.com/example/pooltest/screening/decoder"
	"github.com/example/pooltest/screening/domain"
	"github.com/example/pooltest/screening/sampler"
	"github.com/example/pooltest/screening/selector"
	"github.com/example/pooltest/screening/wetlab"
)

// estimateCutoff thresholds the final marginals into a status estimate.
const estimateCutoff = 0.5

// Loop runs a single simulation. Control flow within a run is strictly
// sequential: each cycle's selection depends on the previous cycle's belief
// update.
type Loop struct {
	cfg       domain.SimulationConfig
	prior     []float64
	lab       wetlab.Lab
	smc       *sampler.Sampler
	dec       *decoder.Decoder
	selectors *selector.Sequence
	logger    *zap.Logger
	metrics   *observability.Metrics
}

// LoopOption configures a Loop.
type LoopOption func(*Loop)

// WithLoopLogger sets the structured logger.
func WithLoopLogger(logger *zap.Logger) LoopOption {
	return func(l *Loop) { l.logger = logger }
}

// WithLoopMetrics attaches Prometheus metrics.
func WithLoopMetrics(metrics *observability.Metrics) LoopOption {
	return func(l *Loop) { l.metrics = metrics }
}

// NewLoop assembles a simulation loop. The config must already be validated.
func NewLoop(
	cfg domain.SimulationConfig,
	lab wetlab.Lab,
	smc *sampler.Sampler,
	dec *decoder.Decoder,
	selectors *selector.Sequence,
	opts ...LoopOption,
) *Loop {
	l := &Loop{
		cfg:       cfg,
		prior:     cfg.PriorRates(),
		lab:       lab,
		smc:       smc,
		dec:       dec,
		selectors: selectors,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Run executes one simulation against the given ground truth and returns
// the final belief, status estimate and evidence log.
func (l *Loop) Run(ctx context.Context, truth domain.StatusVector) (*domain.RunResult, error) {
	started := time.Now().UTC()
	l.smc.Initialize()

	var evidence []domain.TestOutcome
	reason := domain.TerminatedBudget
	cyclesUsed := 0

	for cycle := 0; cycle < l.cfg.MaxCycles; cycle++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrRunAborted, err)
		}
		cycleStart := time.Now()

		state := l.beliefState(cycle, evidence)
		pools, err := l.selectors.ForCycle(cycle).Select(state)
		if err != nil {
			return nil, fmt.Errorf("cycle %d selection: %w", cycle, err)
		}
		if err := l.checkBatch(pools); err != nil {
			return nil, fmt.Errorf("cycle %d: %w", cycle, err)
		}
		if len(pools) == 0 {
			reason = domain.TerminatedNoPools
			break
		}

		batch := make([]domain.TestOutcome, len(pools))
		for i, pool := range pools {
			batch[i] = domain.TestOutcome{
				Pool:     pool,
				Positive: l.lab.Test(pool, truth),
				Cycle:    cycle,
			}
		}
		evidence = append(evidence, batch...)

		if err := l.smc.Update(batch); err != nil {
			return nil, fmt.Errorf("cycle %d belief update: %w", cycle, err)
		}
		cyclesUsed++

		if l.metrics != nil {
			l.metrics.CycleDuration.Observe(time.Since(cycleStart).Seconds())
		}
		l.logger.Debug("cycle complete",
			zap.Int("cycle", cycle),
			zap.Int("pools", len(pools)),
			zap.Int("evidence_len", len(evidence)))

		if l.cfg.ConfidenceThreshold > 0 &&
			l.smc.Marginals().AllResolved(l.cfg.ConfidenceThreshold) {
			reason = domain.TerminatedResolved
			break
		}
	}

	marginals := l.smc.Marginals()
	result := &domain.RunResult{
		Truth:             truth.Clone(),
		Marginals:         marginals,
		Estimate:          marginals.Threshold(estimateCutoff),
		Evidence:          evidence,
		CyclesUsed:        cyclesUsed,
		TestsUsed:         len(evidence),
		DegenerateUpdates: l.smc.DegenerateUpdates(),
		Reason:            reason,
		Duration:          time.Since(started),
		StartedAt:         started,
	}
	result.CountErrors()

	if l.metrics != nil {
		l.metrics.SimulationsTotal.Inc()
		l.metrics.RunDuration.Observe(result.Duration.Seconds())
		l.metrics.CyclesPerRun.Observe(float64(result.CyclesUsed))
		l.metrics.TestsPerRun.Observe(float64(result.TestsUsed))
		l.metrics.FalsePositivesTotal.Add(float64(result.FalsePositives))
		l.metrics.FalseNegativesTotal.Add(float64(result.FalseNegatives))
		l.metrics.DegeneratePosteriorsTotal.Add(float64(result.DegenerateUpdates))
	}
	return result, nil
}

// beliefState snapshots the current posterior for the selection policy.
// Marginals come from the fast decoder; the particle population backs the
// mutual-information computation.
func (l *Loop) beliefState(cycle int, evidence []domain.TestOutcome) *domain.BeliefState {
	decoded := l.dec.Decode(evidence, l.prior, l.cfg.PriorNoise)
	if !decoded.Converged && l.metrics != nil {
		l.metrics.BPNonConvergedTotal.Inc()
	}
	weights, particles := l.smc.Views()
	return &domain.BeliefState{
		NumPatients:        l.cfg.NumPatients,
		Marginals:          decoded.Marginals,
		ParticleWeights:    weights,
		Particles:          particles,
		Evidence:           evidence,
		UnclearedPositives: unclearedPositives(evidence),
		PriorNoise:         l.cfg.PriorNoise,
		PriorRates:         l.prior,
		TestsNeeded:        l.cfg.TestsPerCycle,
		MaxGroupSize:       l.cfg.MaxGroupSize,
		Cycle:              cycle,
	}
}

// checkBatch guards the evidence log: a policy emitting an oversized batch
// or pool is a programming error and aborts the run before any test runs.
func (l *Loop) checkBatch(pools []domain.Pool) error {
	if len(pools) > l.cfg.TestsPerCycle {
		return fmt.Errorf("%w: %d pools exceeds %d tests per cycle",
			domain.ErrInvalidPool, len(pools), l.cfg.TestsPerCycle)
	}
	for _, pool := range pools {
		if pool.Size() == 0 {
			return fmt.Errorf("%w: empty pool", domain.ErrInvalidPool)
		}
		if pool.Size() > l.cfg.MaxGroupSize {
			return fmt.Errorf("%w: pool size %d exceeds max group size %d",
				domain.ErrInvalidPool, pool.Size(), l.cfg.MaxGroupSize)
		}
		for _, patient := range pool.Patients {
			if patient < 0 || patient >= l.cfg.NumPatients {
				return fmt.Errorf("%w: patient index %d out of range",
					domain.ErrInvalidPool, patient)
			}
		}
	}
	return nil
}

// unclearedPositives returns positive multi-patient pools that no later
// outcome has begun to split (no subsequent test of a subset of the pool).
func unclearedPositives(evidence []domain.TestOutcome) []domain.Pool {
	var uncleared []domain.Pool
	for i, o := range evidence {
		if !o.Positive || o.Pool.Size() <= 1 {
			continue
		}
		cleared := false
		for _, later := range evidence[i+1:] {
			if isSubset(later.Pool, o.Pool) {
				cleared = true
				break
			}
		}
		if !cleared {
			uncleared = append(uncleared, o.Pool)
		}
	}
	return uncleared
}

// isSubset reports whether every patient of inner is in outer, for
// inner strictly smaller than outer. Both member lists are sorted.
func isSubset(inner, outer domain.Pool) bool {
	if inner.Size() >= outer.Size() {
		return false
	}
	j := 0
	for _, p := range inner.Patients {
		for j < len(outer.Patients) && outer.Patients[j] < p {
			j++
		}
		if j >= len(outer.Patients) || outer.Patients[j] != p {
			return false
		}
	}
	return true
}
