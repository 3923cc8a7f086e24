package cli

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "pooltest",
	Short: "Simulate adaptive group testing with Bayesian pool selection",
	Long: `pooltest simulates adaptive group (pooled) testing of a patient
population under a noisy testing channel.

Each simulated run maintains a particle-filter posterior over infection
status, selects the next batch of pools by greedy mutual-information
maximization (or a simpler Dorfman-style strategy), applies noisy tests
against a hidden ground truth, and repeats until the test budget is
exhausted or every patient is resolved.

Results are exported to a SQLite database for later analysis.

WORKFLOW:
  1. Write an experiment config (see 'pooltest config' for the defaults)
  2. pooltest run --config experiment.yaml
  3. Inspect the SQLite database, or scrape /metrics while running

EXAMPLES:
  # Run with the built-in defaults, 10 simulations
  pooltest run --simulations 10 --db results.db

  # Run an experiment described in a config file
  pooltest run --config experiment.yaml

  # Show the effective configuration without running
  pooltest config --config experiment.yaml`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}
