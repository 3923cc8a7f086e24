package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the effective configuration",
	Long: `Display the effective simulation configuration.

Loads the config file (if --config is given), applies defaults, and
prints every parameter the simulator will use. Useful for checking what
a partial config file expands to before committing to a long run.

EXAMPLES:
  # Show the built-in defaults
  pooltest config

  # Show what an experiment file expands to
  pooltest config --config experiment.yaml`,
	RunE: runConfig,
}

func init() {
	configCmd.Flags().StringVarP(&configPath, "config", "c", "", "experiment config file (YAML)")
}

func runConfig(cmd *cobra.Command, args []string) error {
	cfg, names, err := loadExperiment()
	if err != nil {
		return err
	}
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}
	if len(names) == 0 {
		names = []string{"mimax"}
	}

	fmt.Println("Population:")
	fmt.Printf("  Patients:        %d\n", cfg.NumPatients)
	if cfg.PriorPerPatient != nil {
		fmt.Printf("  Infection rates: per-patient (%d entries)\n", len(cfg.PriorPerPatient))
	} else {
		fmt.Printf("  Infection rate:  %.4f\n", cfg.PriorInfectionRate)
	}
	fmt.Printf("  Frozen truth:    %v\n", cfg.FreezeGroundTruth || cfg.GroundTruth != nil)
	fmt.Println()

	fmt.Println("Noise channel:")
	fmt.Printf("  Sensitivity: %v\n", cfg.Noise.Sensitivity)
	fmt.Printf("  Specificity: %v\n", cfg.Noise.Specificity)
	fmt.Println()

	fmt.Println("Budget:")
	fmt.Printf("  Max group size:  %d\n", cfg.MaxGroupSize)
	fmt.Printf("  Tests per cycle: %d\n", cfg.TestsPerCycle)
	fmt.Printf("  Max cycles:      %d\n", cfg.MaxCycles)
	fmt.Println()

	fmt.Println("Inference:")
	fmt.Printf("  Particles:            %d\n", cfg.NumParticles)
	fmt.Printf("  Gibbs cycles:         %d (Liu modification: %v)\n", cfg.GibbsCycles, cfg.LiuModification)
	fmt.Printf("  Resample each update: %v\n", cfg.ResampleEachUpdate)
	fmt.Printf("  BP max iterations:    %d\n", cfg.BPMaxIterations)
	fmt.Printf("  Confidence threshold: %.4f", cfg.ConfidenceThreshold)
	if cfg.ConfidenceThreshold == 0 {
		fmt.Print(" (early termination disabled)")
	}
	fmt.Println()
	fmt.Println()

	fmt.Println("Selection:")
	fmt.Printf("  Strategies: %v\n", names)
	fmt.Printf("  Forward/backward iterations: %d/%d\n", cfg.ForwardIterations, cfg.BackwardIterations)
	fmt.Println()

	fmt.Println("Experiment:")
	fmt.Printf("  Simulations: %d\n", cfg.NumSimulations)
	fmt.Printf("  Export every: %d\n", cfg.ExportEvery)
	if cfg.RandomSeed != 0 {
		fmt.Printf("  Random seed: %d\n", cfg.RandomSeed)
	} else {
		fmt.Println("  Random seed: time-based")
	}
	return nil
}
