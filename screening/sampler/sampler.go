// Package sampler maintains the posterior of record for a pooled testing
// run: a sequential Monte Carlo population of status-vector hypotheses,
// reweighted against the evidence log and rejuvenated with an MCMC kernel.
package sampler

import (
	"math"
	"math/rand"
	"runtime"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/example/pooltest/screening/domain"
)

// defaultESSFraction triggers resampling when the effective sample size
// drops below this fraction of the population.
const defaultESSFraction = 0.5

// Sampler is the SMC engine. It exclusively owns its particle population;
// external consumers only ever see read-only views.
type Sampler struct {
	prior        []float64
	noise        domain.NoiseModel
	numParticles int
	numPatients  int

	gibbsCycles  int
	liu          bool
	resampleEach bool
	essFraction  float64
	parallelism  int

	rng    *rand.Rand
	logger *zap.Logger

	pop        Population
	evidence   []domain.TestOutcome
	degenerate int
}

// Option configures a Sampler.
type Option func(*Sampler)

// WithLogger sets the structured logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Sampler) { s.logger = logger }
}

// WithGibbs configures the rejuvenation kernel: number of sweeps per update
// and whether to use the forced-flip (Liu) proposal.
func WithGibbs(cycles int, liu bool) Option {
	return func(s *Sampler) {
		s.gibbsCycles = cycles
		s.liu = liu
	}
}

// WithResampleEachUpdate restarts inference from the prior against the full
// evidence log on every update.
func WithResampleEachUpdate(enabled bool) Option {
	return func(s *Sampler) { s.resampleEach = enabled }
}

// WithESSFraction overrides the effective-sample-size resampling threshold.
func WithESSFraction(fraction float64) Option {
	return func(s *Sampler) { s.essFraction = fraction }
}

// WithParallelism bounds the worker count for per-particle work.
func WithParallelism(workers int) Option {
	return func(s *Sampler) {
		if workers > 0 {
			s.parallelism = workers
		}
	}
}

// New creates a sampler for the given per-patient prior rates and prior
// noise model. The seed drives all of the sampler's randomness.
func New(prior []float64, noise domain.NoiseModel, numParticles int, seed int64, opts ...Option) *Sampler {
	s := &Sampler{
		prior:        prior,
		noise:        noise,
		numParticles: numParticles,
		numPatients:  len(prior),
		gibbsCycles:  0,
		essFraction:  defaultESSFraction,
		parallelism:  runtime.GOMAXPROCS(0),
		rng:          rand.New(rand.NewSource(seed)),
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Initialize draws the particle population from the prior with uniform
// weights, discarding any previous state and evidence.
func (s *Sampler) Initialize() {
	s.evidence = nil
	s.degenerate = 0
	s.drawFromPrior()
}

func (s *Sampler) drawFromPrior() {
	items := make([]Particle, s.numParticles)
	uniform := 1 / float64(s.numParticles)
	for i := range items {
		status := make(domain.StatusVector, s.numPatients)
		for j, rate := range s.prior {
			status[j] = s.rng.Float64() < rate
		}
		items[i] = Particle{Status: status, Weight: uniform}
	}
	s.pop = Population{Items: items}
}

// Update folds new test outcomes into the posterior. An empty delta leaves
// the belief unchanged. In full-replay mode the population is redrawn from
// the prior and reweighted against the whole evidence log; otherwise only
// the new outcomes are folded onto the existing population. Either way the
// update passes through the same reweight, resample and rejuvenation logic.
func (s *Sampler) Update(delta []domain.TestOutcome) error {
	if s.pop.Items == nil {
		return domain.ErrNoParticles
	}
	if len(delta) == 0 {
		return nil
	}
	s.evidence = append(s.evidence, delta...)

	reweightBy := delta
	if s.resampleEach {
		s.drawFromPrior()
		reweightBy = s.evidence
	}
	s.reweight(reweightBy)

	n := float64(len(s.pop.Items))
	if s.pop.ESS() < s.essFraction*n {
		s.pop.SystematicResample(s.rng)
	}
	s.rejuvenate()
	return nil
}

// reweight multiplies each particle's weight by the likelihood of the given
// outcomes under its hypothesis, then normalizes. A full collapse (every
// particle inconsistent with the evidence) is recovered by flooring weights
// to uniform and reported as a degenerate posterior, not an error.
func (s *Sampler) reweight(outcomes []domain.TestOutcome) {
	n := len(s.pop.Items)
	logWeights := make([]float64, n)

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
				item := &s.pop.Items[i]
				logWeights[i] = math.Log(item.Weight) +
					evidenceLogProb(outcomes, item.Status, s.noise)
			}
			return nil
		})
	}
	grp.Wait() // workers never fail

	maxLog := math.Inf(-1)
	for _, lw := range logWeights {
		if lw > maxLog {
			maxLog = lw
		}
	}
	if math.IsInf(maxLog, -1) {
		s.degenerate++
		s.logger.Warn("degenerate posterior: all particle weights collapsed, flooring to uniform",
			zap.Int("evidence_len", len(s.evidence)),
			zap.Int("degenerate_updates", s.degenerate))
		uniform := 1 / float64(n)
		for i := range s.pop.Items {
			s.pop.Items[i].Weight = uniform
		}
		return
	}

	sum := 0.0
	for i, lw := range logWeights {
		w := math.Exp(lw - maxLog)
		s.pop.Items[i].Weight = w
		sum += w
	}
	for i := range s.pop.Items {
		s.pop.Items[i].Weight /= sum
	}
}

// Marginals returns the weighted empirical mean of each patient's status
// across the current population.
func (s *Sampler) Marginals() domain.MarginalBelief {
	return s.pop.Marginals(s.numPatients)
}

// Views exposes read-only weight and particle slices for belief-state
// construction.
func (s *Sampler) Views() ([]float64, []domain.StatusVector) {
	return s.pop.Views()
}

// Evidence returns the full evidence log folded in so far.
func (s *Sampler) Evidence() []domain.TestOutcome {
	return s.evidence
}

// DegenerateUpdates reports how many updates were recovered via the weight
// floor.
func (s *Sampler) DegenerateUpdates() int {
	return s.degenerate
}
