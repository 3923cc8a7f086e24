// Package config loads experiment configuration from YAML files with
// environment-variable overrides for operational settings.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/example/pooltest/screening/domain"
)

// File is the on-disk experiment configuration.
type File struct {
	Population struct {
		NumPatients int `yaml:"num_patients"`
		// InfectionRate is a pointer so that an omitted key can be told
		// apart from an explicit 0.0 rate.
		InfectionRate     *float64  `yaml:"infection_rate"`
		PerPatientRates   []float64 `yaml:"per_patient_rates"`
		GroundTruth       []bool    `yaml:"ground_truth"`
		FreezeGroundTruth bool      `yaml:"freeze_ground_truth"`
	} `yaml:"population"`

	Noise struct {
		Sensitivity      []float64 `yaml:"sensitivity"`
		Specificity      []float64 `yaml:"specificity"`
		PriorSensitivity []float64 `yaml:"prior_sensitivity"`
		PriorSpecificity []float64 `yaml:"prior_specificity"`
	} `yaml:"noise"`

	Budget struct {
		MaxGroupSize  int `yaml:"max_group_size"`
		TestsPerCycle int `yaml:"tests_per_cycle"`
		MaxCycles     int `yaml:"max_cycles"`
	} `yaml:"budget"`

	Inference struct {
		NumParticles        int     `yaml:"num_particles"`
		ResampleEachUpdate  bool    `yaml:"resample_each_update"`
		GibbsCycles         int     `yaml:"gibbs_cycles"`
		LiuModification     bool    `yaml:"liu_modification"`
		BPMaxIterations     int     `yaml:"bp_max_iterations"`
		ConfidenceThreshold float64 `yaml:"confidence_threshold"`
	} `yaml:"inference"`

	Selection struct {
		Strategies         []string `yaml:"strategies"`
		ForwardIterations  int      `yaml:"forward_iterations"`
		BackwardIterations int      `yaml:"backward_iterations"`
	} `yaml:"selection"`

	Experiment struct {
		NumSimulations int    `yaml:"num_simulations"`
		ExportEvery    int    `yaml:"export_every"`
		RandomSeed     int64  `yaml:"random_seed"`
		DatabasePath   string `yaml:"database_path"`
		MetricsAddr    string `yaml:"metrics_addr"`
	} `yaml:"experiment"`
}

// Load reads and parses a YAML configuration file, then applies
// environment overrides.
func Load(path string) (*File, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var f File
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	f.applyEnv()
	return &f, nil
}

// applyEnv lets deployment-specific settings override the file.
func (f *File) applyEnv() {
	if v := os.Getenv("POOLTEST_DB"); v != "" {
		f.Experiment.DatabasePath = v
	}
	if v := os.Getenv("POOLTEST_METRICS_ADDR"); v != "" {
		f.Experiment.MetricsAddr = v
	}
}

// SimulationConfig converts the file into the core configuration. Most
// defaults and all validation are applied by the simulator; the scalar
// infection rate is the exception and is defaulted here, since only the
// loader can tell an omitted key from an explicit zero.
func (f *File) SimulationConfig() domain.SimulationConfig {
	rate := domain.DefaultConfig().PriorInfectionRate
	if f.Population.InfectionRate != nil {
		rate = *f.Population.InfectionRate
	}
	cfg := domain.SimulationConfig{
		NumPatients:         f.Population.NumPatients,
		PriorInfectionRate:  rate,
		PriorPerPatient:     f.Population.PerPatientRates,
		FreezeGroundTruth:   f.Population.FreezeGroundTruth,
		MaxGroupSize:        f.Budget.MaxGroupSize,
		TestsPerCycle:       f.Budget.TestsPerCycle,
		MaxCycles:           f.Budget.MaxCycles,
		NumParticles:        f.Inference.NumParticles,
		ResampleEachUpdate:  f.Inference.ResampleEachUpdate,
		GibbsCycles:         f.Inference.GibbsCycles,
		LiuModification:     f.Inference.LiuModification,
		BPMaxIterations:     f.Inference.BPMaxIterations,
		ConfidenceThreshold: f.Inference.ConfidenceThreshold,
		ForwardIterations:   f.Selection.ForwardIterations,
		BackwardIterations:  f.Selection.BackwardIterations,
		NumSimulations:      f.Experiment.NumSimulations,
		ExportEvery:         f.Experiment.ExportEvery,
		RandomSeed:          f.Experiment.RandomSeed,
	}
	if f.Population.GroundTruth != nil {
		cfg.GroundTruth = domain.StatusVector(f.Population.GroundTruth)
	}
	cfg.Noise = domain.NoiseModel{
		Sensitivity: f.Noise.Sensitivity,
		Specificity: f.Noise.Specificity,
	}
	cfg.PriorNoise = domain.NoiseModel{
		Sensitivity: f.Noise.PriorSensitivity,
		Specificity: f.Noise.PriorSpecificity,
	}
	return cfg
}
