package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/example/pooltest/internal/config"
	"github.com/example/pooltest/internal/observability"
	"github.com/example/pooltest/internal/storage/sqlite"
	"github.com/example/pooltest/screening/domain"
	"github.com/example/pooltest/screening/selector"
	"github.com/example/pooltest/screening/simulator"
)

var (
	configPath  string
	dbPath      string
	metricsAddr string
	simulations int
	randomSeed  int64
	strategies  []string
	parallelism int
	verbose     bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a batch of group testing simulations",
	Long: `Run a batch of group testing simulations and export the results.

Each simulation draws (or reuses) a hidden ground truth, then plays the
full adaptive testing loop against it: select pools, apply noisy tests,
update the posterior. Simulations run in parallel and their results are
written to a SQLite database in batches.

EXAMPLES:
  # Defaults: 1 simulation, mutual-information selection
  pooltest run --db results.db

  # 100 simulations of an experiment described in a config file
  pooltest run --config experiment.yaml --simulations 100

  # Dorfman two-stage testing instead of mutual information
  pooltest run --strategy split --strategy split-positive

  # Expose Prometheus metrics while running
  pooltest run --config experiment.yaml --metrics :9090`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVarP(&configPath, "config", "c", "", "experiment config file (YAML)")
	runCmd.Flags().StringVar(&dbPath, "db", "", "SQLite database path (empty = no export)")
	runCmd.Flags().StringVar(&metricsAddr, "metrics", "", "address for Prometheus /metrics endpoint (empty = disabled)")
	runCmd.Flags().IntVarP(&simulations, "simulations", "n", 0, "number of simulations (overrides config)")
	runCmd.Flags().Int64Var(&randomSeed, "seed", 0, "random seed (overrides config; 0 = time-based)")
	runCmd.Flags().StringSliceVar(&strategies, "strategy", nil, "selection strategy per cycle, last repeats (mimax, split, split-positive, informative-dorfman)")
	runCmd.Flags().IntVar(&parallelism, "parallelism", 0, "number of parallel simulations (0 = auto)")
	runCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Fprintln(os.Stderr, "\nInterrupted, finishing in-flight simulations...")
		cancel()
	}()

	logger, err := buildLogger(verbose)
	if err != nil {
		return err
	}
	defer logger.Sync()

	cfg, names, err := loadExperiment()
	if err != nil {
		return err
	}

	opts := []simulator.RunnerOption{
		simulator.WithLogger(logger),
		simulator.WithParallelism(parallelism),
	}
	if len(names) > 0 {
		opts = append(opts, simulator.WithSequenceFactory(func(cfg domain.SimulationConfig) (*selector.Sequence, error) {
			return simulator.BuildSequence(cfg, names...)
		}))
	}

	var store *sqlite.Store
	if dbPath != "" {
		store, err = sqlite.New(dbPath)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer store.Close()
		if err := store.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate database: %w", err)
		}
		opts = append(opts, simulator.WithExporter(store))
	}

	if metricsAddr != "" {
		reg := prometheus.NewRegistry()
		opts = append(opts, simulator.WithMetrics(observability.NewMetrics(reg)))
		srv := &http.Server{Addr: metricsAddr, Handler: metricsMux(reg)}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Warn("metrics server stopped", zap.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer shutdownCancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	runner, err := simulator.NewRunner(cfg, opts...)
	if err != nil {
		return fmt.Errorf("configure runner: %w", err)
	}

	if store != nil {
		if err := store.SaveExperiment(ctx, runner.ExperimentID(), runner.Config()); err != nil {
			return fmt.Errorf("save experiment: %w", err)
		}
	}

	logger.Info("starting experiment",
		zap.String("experiment_id", runner.ExperimentID()),
		zap.Int("simulations", runner.Config().NumSimulations),
		zap.Int("patients", runner.Config().NumPatients))

	start := time.Now()
	results, err := runner.Run(ctx)
	if err != nil {
		return err
	}

	printSummary(results, time.Since(start))
	if store != nil {
		fmt.Printf("Results written to %s (experiment %s)\n", dbPath, runner.ExperimentID())
	}
	return nil
}

// loadExperiment builds the simulation config from the config file (if
// given) and applies flag overrides.
func loadExperiment() (domain.SimulationConfig, []string, error) {
	var cfg domain.SimulationConfig
	var names []string

	if configPath != "" {
		file, err := config.Load(configPath)
		if err != nil {
			return cfg, nil, err
		}
		cfg = file.SimulationConfig()
		names = file.Selection.Strategies
		if dbPath == "" {
			dbPath = file.Experiment.DatabasePath
		}
		if metricsAddr == "" {
			metricsAddr = file.Experiment.MetricsAddr
		}
	} else {
		cfg = domain.DefaultConfig()
	}

	if simulations > 0 {
		cfg.NumSimulations = simulations
	}
	if randomSeed != 0 {
		cfg.RandomSeed = randomSeed
	}
	if len(strategies) > 0 {
		names = strategies
	}
	return cfg, names, nil
}

func buildLogger(verbose bool) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if verbose {
		zcfg = zap.NewDevelopmentConfig()
	}
	logger, err := zcfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger, nil
}

func metricsMux(reg *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.Handler(reg))
	return mux
}

func printSummary(results []*domain.RunResult, elapsed time.Duration) {
	var cycles, tests, fp, fn int
	for _, r := range results {
		cycles += r.CyclesUsed
		tests += r.TestsUsed
		fp += r.FalsePositives
		fn += r.FalseNegatives
	}
	n := len(results)
	if n == 0 {
		fmt.Println("No simulations completed.")
		return
	}
	fmt.Printf("Completed %d simulations in %s\n", n, elapsed.Round(time.Millisecond))
	fmt.Printf("  Avg cycles: %.2f\n", float64(cycles)/float64(n))
	fmt.Printf("  Avg tests:  %.2f\n", float64(tests)/float64(n))
	fmt.Printf("  False positives: %d  False negatives: %d\n", fp, fn)
}
