// Package observability exposes Prometheus metrics for simulation batches.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the simulator.
type Metrics struct {
	// Run metrics
	SimulationsTotal prometheus.Counter
	RunDuration      prometheus.Histogram
	CyclesPerRun     prometheus.Histogram
	TestsPerRun      prometheus.Histogram

	// Accuracy metrics
	FalsePositivesTotal prometheus.Counter
	FalseNegativesTotal prometheus.Counter

	// Inference health
	DegeneratePosteriorsTotal prometheus.Counter
	BPNonConvergedTotal       prometheus.Counter

	// Cycle timing
	CycleDuration prometheus.Histogram
}

// NewMetrics creates and registers all metrics with the given registerer.
// Pass a fresh registry in tests to avoid duplicate registration.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		SimulationsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "pooltest_simulations_total",
			Help: "Total number of completed simulation runs",
		}),
		RunDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "pooltest_run_duration_seconds",
			Help:    "Wall-clock duration of simulation runs",
			Buckets: prometheus.DefBuckets,
		}),
		CyclesPerRun: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "pooltest_cycles_per_run",
			Help:    "Test cycles consumed per run",
			Buckets: prometheus.LinearBuckets(1, 1, 12),
		}),
		TestsPerRun: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "pooltest_tests_per_run",
			Help:    "Pool tests consumed per run",
			Buckets: prometheus.LinearBuckets(4, 4, 16),
		}),
		FalsePositivesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "pooltest_false_positives_total",
			Help: "Healthy patients called infected, summed across runs",
		}),
		FalseNegativesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "pooltest_false_negatives_total",
			Help: "Infected patients called healthy, summed across runs",
		}),
		DegeneratePosteriorsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "pooltest_degenerate_posteriors_total",
			Help: "Posterior updates recovered via the weight floor",
		}),
		BPNonConvergedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "pooltest_bp_nonconverged_total",
			Help: "Belief propagation decodes that hit the iteration budget",
		}),
		CycleDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "pooltest_cycle_duration_seconds",
			Help:    "Duration of one select/test/update cycle",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// Handler returns the exposition handler for the given registry.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
