package simulator

import (
	"context"
	"fmt"
	"math/rand"
	"runtime"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/example/pooltest/internal/observability"
	"github.com/example/pooltest/pkg/id"
	"github.com/example/pooltest/screening/decoder"
	"github.com/example/pooltest/screening/domain"
	"github.com/example/pooltest/screening/sampler"
	"github.com/example/pooltest/screening/selector"
	"github.com/example/pooltest/screening/wetlab"
)

// decodeCacheSize bounds the decoder's per-run LRU cache.
const decodeCacheSize = 64

// Exporter receives finished run results for persistence or display. The
// core produces metrics; it does not own their storage.
type Exporter interface {
	Export(ctx context.Context, results []*domain.RunResult) error
}

// Runner executes a batch of independent simulation runs. Runs share no
// mutable state, so they execute in parallel up to the configured limit.
type Runner struct {
	cfg          domain.SimulationConfig
	logger       *zap.Logger
	metrics      *observability.Metrics
	exporter     Exporter
	parallelism  int
	experimentID string
	sequence     SequenceFactory
}

// SequenceFactory builds a fresh selector sequence for one run.
type SequenceFactory func(cfg domain.SimulationConfig) (*selector.Sequence, error)

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithLogger sets the structured logger.
func WithLogger(logger *zap.Logger) RunnerOption {
	return func(r *Runner) { r.logger = logger }
}

// WithMetrics attaches Prometheus metrics.
func WithMetrics(metrics *observability.Metrics) RunnerOption {
	return func(r *Runner) { r.metrics = metrics }
}

// WithExporter sets the metrics exporter invoked per the export cadence.
func WithExporter(exporter Exporter) RunnerOption {
	return func(r *Runner) { r.exporter = exporter }
}

// WithParallelism bounds concurrent simulation runs.
func WithParallelism(workers int) RunnerOption {
	return func(r *Runner) {
		if workers > 0 {
			r.parallelism = workers
		}
	}
}

// WithSequenceFactory overrides the selector sequence used for each run.
func WithSequenceFactory(factory SequenceFactory) RunnerOption {
	return func(r *Runner) { r.sequence = factory }
}

// NewRunner validates the configuration and prepares a run batch.
// Configuration errors are fatal here, before any simulation cycle runs.
func NewRunner(cfg domain.SimulationConfig, opts ...RunnerOption) (*Runner, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	r := &Runner{
		cfg:          cfg,
		logger:       zap.NewNop(),
		parallelism:  runtime.GOMAXPROCS(0),
		experimentID: id.Generate(),
		sequence:     DefaultSequence,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// ExperimentID identifies this batch of runs.
func (r *Runner) ExperimentID() string {
	return r.experimentID
}

// Config returns the effective (defaulted) configuration.
func (r *Runner) Config() domain.SimulationConfig {
	return r.cfg
}

// Run executes all configured simulations and exports results per the
// export cadence. Ground truth is drawn once and reused when frozen,
// otherwise redrawn per run. All seeds derive from the configured seed, so
// a fixed seed reproduces the whole batch.
func (r *Runner) Run(ctx context.Context) ([]*domain.RunResult, error) {
	seed := r.cfg.RandomSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	seeder := rand.New(rand.NewSource(seed))

	truthGen := wetlab.NewTruthGenerator(r.cfg, seeder.Int63())
	var frozen domain.StatusVector
	if r.cfg.FreezeGroundTruth {
		frozen = truthGen.Sample()
	}

	n := r.cfg.NumSimulations
	truths := make([]domain.StatusVector, n)
	seeds := make([]int64, n)
	for i := 0; i < n; i++ {
		if frozen != nil {
			truths[i] = frozen.Clone()
		} else {
			truths[i] = truthGen.Sample()
		}
		seeds[i] = seeder.Int63()
	}

	results := make([]*domain.RunResult, n)
	grp, grpCtx := errgroup.WithContext(ctx)
	grp.SetLimit(r.parallelism)
	for i := 0; i < n; i++ {
		i := i
		grp.Go(func() error {
			result, err := r.runOne(grpCtx, i, truths[i], seeds[i])
			if err != nil {
				return fmt.Errorf("run %d: %w", i, err)
			}
			results[i] = result
			return nil
		})
	}
	if err := grp.Wait(); err != nil {
		return nil, err
	}

	if r.exporter != nil {
		for start := 0; start < n; start += r.cfg.ExportEvery {
			end := start + r.cfg.ExportEvery
			if end > n {
				end = n
			}
			if err := r.exporter.Export(ctx, results[start:end]); err != nil {
				return results, fmt.Errorf("export runs [%d,%d): %w", start, end, err)
			}
		}
	}
	return results, nil
}

func (r *Runner) runOne(ctx context.Context, seq int, truth domain.StatusVector, seed int64) (*domain.RunResult, error) {
	rng := rand.New(rand.NewSource(seed))
	labSeed := rng.Int63()
	smcSeed := rng.Int63()

	lab := wetlab.NewNoisyLab(r.cfg.Noise, labSeed)
	smc := sampler.New(
		r.cfg.PriorRates(),
		r.cfg.PriorNoise,
		r.cfg.NumParticles,
		smcSeed,
		sampler.WithGibbs(r.cfg.GibbsCycles, r.cfg.LiuModification),
		sampler.WithResampleEachUpdate(r.cfg.ResampleEachUpdate),
		sampler.WithLogger(r.logger),
	)
	dec := decoder.New(
		r.cfg.BPMaxIterations,
		decoder.WithLogger(r.logger),
		decoder.WithCache(decodeCacheSize),
	)
	selectors, err := r.sequence(r.cfg)
	if err != nil {
		return nil, err
	}

	loop := NewLoop(r.cfg, lab, smc, dec, selectors,
		WithLoopLogger(r.logger),
		WithLoopMetrics(r.metrics))
	result, err := loop.Run(ctx, truth)
	if err != nil {
		return nil, err
	}
	result.ID = id.Generate()
	result.ExperimentID = r.experimentID
	result.Sequence = seq

	r.logger.Info("simulation complete",
		zap.String("run_id", result.ID),
		zap.Int("sequence", seq),
		zap.Int("cycles_used", result.CyclesUsed),
		zap.Int("tests_used", result.TestsUsed),
		zap.Int("false_positives", result.FalsePositives),
		zap.Int("false_negatives", result.FalseNegatives),
		zap.String("reason", result.Reason.String()))
	return result, nil
}

// DefaultSequence is the standard policy: mutual-information selection for
// every cycle.
func DefaultSequence(cfg domain.SimulationConfig) (*selector.Sequence, error) {
	mimax, err := selector.NewMaxMutualInformation(cfg.ForwardIterations, cfg.BackwardIterations)
	if err != nil {
		return nil, err
	}
	return selector.NewSequence(mimax)
}

// BuildSequence maps strategy names to selectors, the last name becoming
// the default for all remaining cycles. Recognized names: "mimax",
// "split", "split-positive", "informative-dorfman".
func BuildSequence(cfg domain.SimulationConfig, names ...string) (*selector.Sequence, error) {
	if len(names) == 0 {
		return DefaultSequence(cfg)
	}
	selectors := make([]selector.Selector, 0, len(names))
	for _, name := range names {
		switch name {
		case "mimax", "g-mimax":
			mimax, err := selector.NewMaxMutualInformation(cfg.ForwardIterations, cfg.BackwardIterations)
			if err != nil {
				return nil, err
			}
			selectors = append(selectors, mimax)
		case "split", "dorfman":
			selectors = append(selectors, selector.Split{})
		case "split-positive":
			selectors = append(selectors, selector.SplitPositive{})
		case "informative-dorfman", "id":
			selectors = append(selectors, selector.InformativeDorfman{
				CutOffLow:  cfg.ConfidenceThreshold,
				CutOffHigh: 1 - cfg.ConfidenceThreshold,
			})
		default:
			return nil, fmt.Errorf("%w: unknown selector %q", domain.ErrInvalidConfig, name)
		}
	}
	return selector.NewSequence(selectors...)
}
