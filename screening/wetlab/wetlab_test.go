package wetlab

import (
	"testing"

	"github.com/example/pooltest/screening/domain"
)

func TestNoiselessLabIsExact(t *testing.T) {
	lab := NewNoisyLab(domain.UniformNoise(1, 1), 1)
	truth := domain.StatusVector{true, false, false, true}

	tests := []struct {
		pool domain.Pool
		want bool
	}{
		{domain.NewPool(0), true},
		{domain.NewPool(1), false},
		{domain.NewPool(1, 2), false},
		{domain.NewPool(1, 2, 3), true},
	}
	for _, tt := range tests {
		for trial := 0; trial < 20; trial++ {
			if got := lab.Test(tt.pool, truth); got != tt.want {
				t.Fatalf("Test(%v) = %v, want %v", tt.pool, got, tt.want)
			}
		}
	}
}

func TestNoisyLabRates(t *testing.T) {
	lab := NewNoisyLab(domain.UniformNoise(0.8, 0.9), 42)
	truth := domain.StatusVector{true, false}

	const trials = 10000
	positives := 0
	for i := 0; i < trials; i++ {
		if lab.Test(domain.NewPool(0), truth) {
			positives++
		}
	}
	rate := float64(positives) / trials
	if rate < 0.77 || rate > 0.83 {
		t.Errorf("infected pool positive rate = %f, want near 0.8", rate)
	}

	falsePositives := 0
	for i := 0; i < trials; i++ {
		if lab.Test(domain.NewPool(1), truth) {
			falsePositives++
		}
	}
	rate = float64(falsePositives) / trials
	if rate < 0.07 || rate > 0.13 {
		t.Errorf("healthy pool positive rate = %f, want near 0.1", rate)
	}
}

func TestLabDeterministicBySeed(t *testing.T) {
	truth := domain.StatusVector{true, false, true}
	a := NewNoisyLab(domain.UniformNoise(0.8, 0.9), 7)
	b := NewNoisyLab(domain.UniformNoise(0.8, 0.9), 7)
	for i := 0; i < 50; i++ {
		pool := domain.NewPool(i % 3)
		if a.Test(pool, truth) != b.Test(pool, truth) {
			t.Fatal("same seed produced different outcomes")
		}
	}
}

func TestTruthGeneratorExplicit(t *testing.T) {
	cfg := domain.SimulationConfig{
		NumPatients: 3,
		GroundTruth: domain.StatusVector{true, false, true},
	}
	gen := NewTruthGenerator(cfg, 1)
	truth := gen.Sample()
	if !truth[0] || truth[1] || !truth[2] {
		t.Errorf("Sample() = %v, want configured truth", truth)
	}
	truth[0] = false
	if next := gen.Sample(); !next[0] {
		t.Error("Sample must return an independent copy")
	}
}

func TestTruthGeneratorZeroRate(t *testing.T) {
	cfg := domain.SimulationConfig{NumPatients: 16, PriorInfectionRate: 0}
	gen := NewTruthGenerator(cfg, 5)
	for trial := 0; trial < 10; trial++ {
		if got := gen.Sample().CountInfected(); got != 0 {
			t.Fatalf("zero rate drew %d infected patients", got)
		}
	}
}

func TestTruthGeneratorRate(t *testing.T) {
	cfg := domain.SimulationConfig{NumPatients: 100, PriorInfectionRate: 0.3}
	gen := NewTruthGenerator(cfg, 9)
	total := 0
	const trials = 200
	for i := 0; i < trials; i++ {
		total += gen.Sample().CountInfected()
	}
	mean := float64(total) / trials
	if mean < 25 || mean > 35 {
		t.Errorf("mean infected = %f per 100 patients, want near 30", mean)
	}
}
