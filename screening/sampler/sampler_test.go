package sampler

import (
	"errors"
	"math"
	"reflect"
	"testing"

	"github.com/example/pooltest/screening/domain"
)

func singleton(patient int, positive bool, cycle int) domain.TestOutcome {
	return domain.TestOutcome{
		Pool:     domain.NewPool(patient),
		Positive: positive,
		Cycle:    cycle,
	}
}

func flatPrior(n int, rate float64) []float64 {
	prior := make([]float64, n)
	for i := range prior {
		prior[i] = rate
	}
	return prior
}

func weightSum(s *Sampler) float64 {
	weights, _ := s.Views()
	sum := 0.0
	for _, w := range weights {
		sum += w
	}
	return sum
}

func TestUpdateBeforeInitialize(t *testing.T) {
	s := New(flatPrior(4, 0.1), domain.UniformNoise(0.9, 0.95), 100, 1)
	err := s.Update([]domain.TestOutcome{singleton(0, true, 0)})
	if !errors.Is(err, domain.ErrNoParticles) {
		t.Fatalf("expected ErrNoParticles, got %v", err)
	}
}

func TestWeightsNormalizedAfterUpdate(t *testing.T) {
	s := New(flatPrior(8, 0.2), domain.UniformNoise(0.85, 0.97), 500, 42)
	s.Initialize()
	if err := s.Update([]domain.TestOutcome{
		singleton(0, true, 0),
		{Pool: domain.NewPool(1, 2, 3), Positive: false, Cycle: 0},
	}); err != nil {
		t.Fatal(err)
	}
	if sum := weightSum(s); math.Abs(sum-1) > 1e-9 {
		t.Errorf("weights sum to %f, want 1", sum)
	}
	for _, m := range s.Marginals() {
		if m < 0 || m > 1 {
			t.Errorf("marginal %f out of [0,1]", m)
		}
	}
}

func TestEmptyUpdateIsNoOp(t *testing.T) {
	s := New(flatPrior(4, 0.3), domain.UniformNoise(0.85, 0.97), 200, 7)
	s.Initialize()
	before := s.Marginals()
	if err := s.Update(nil); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(before, s.Marginals()) {
		t.Error("empty update changed the belief")
	}
	if len(s.Evidence()) != 0 {
		t.Errorf("empty update appended evidence: %d entries", len(s.Evidence()))
	}
}

func TestNoiselessSingletonsResolvePatients(t *testing.T) {
	noiseless := domain.UniformNoise(1, 1)
	s := New(flatPrior(4, 0.3), noiseless, 2000, 11)
	s.Initialize()
	if err := s.Update([]domain.TestOutcome{
		singleton(0, true, 0),
		singleton(1, false, 0),
	}); err != nil {
		t.Fatal(err)
	}
	m := s.Marginals()
	if m[0] != 1 {
		t.Errorf("marginal of positive-tested patient = %f, want 1", m[0])
	}
	if m[1] != 0 {
		t.Errorf("marginal of negative-tested patient = %f, want 0", m[1])
	}
}

func TestDegeneratePosteriorRecovers(t *testing.T) {
	// With a prior of 1 every particle is infected, so a noiseless negative
	// test contradicts the entire population.
	s := New([]float64{1}, domain.UniformNoise(1, 1), 50, 3)
	s.Initialize()
	if err := s.Update([]domain.TestOutcome{singleton(0, false, 0)}); err != nil {
		t.Fatalf("degenerate update should not fail: %v", err)
	}
	if got := s.DegenerateUpdates(); got != 1 {
		t.Errorf("DegenerateUpdates = %d, want 1", got)
	}
	if sum := weightSum(s); math.Abs(sum-1) > 1e-9 {
		t.Errorf("weights sum to %f after recovery, want 1", sum)
	}
}

func TestUpdateIsDeterministic(t *testing.T) {
	build := func() *Sampler {
		return New(flatPrior(10, 0.1), domain.UniformNoise(0.85, 0.97), 800, 99,
			WithGibbs(2, true))
	}
	evidence := []domain.TestOutcome{
		{Pool: domain.NewPool(0, 1, 2), Positive: true, Cycle: 0},
		{Pool: domain.NewPool(3, 4), Positive: false, Cycle: 0},
	}

	a, b := build(), build()
	a.Initialize()
	b.Initialize()
	if err := a.Update(evidence); err != nil {
		t.Fatal(err)
	}
	if err := b.Update(evidence); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(a.Marginals(), b.Marginals()) {
		t.Error("same seed and evidence produced different marginals")
	}
}

func TestResampleEachUpdateReplaysEvidence(t *testing.T) {
	noiseless := domain.UniformNoise(1, 1)
	s := New(flatPrior(4, 0.3), noiseless, 2000, 17,
		WithResampleEachUpdate(true))
	s.Initialize()

	if err := s.Update([]domain.TestOutcome{singleton(0, true, 0)}); err != nil {
		t.Fatal(err)
	}
	if err := s.Update([]domain.TestOutcome{singleton(1, false, 1)}); err != nil {
		t.Fatal(err)
	}

	// the replayed population must still satisfy the cycle-0 evidence
	m := s.Marginals()
	if m[0] != 1 {
		t.Errorf("marginal[0] = %f after replay, want 1", m[0])
	}
	if m[1] != 0 {
		t.Errorf("marginal[1] = %f after replay, want 0", m[1])
	}
	if len(s.Evidence()) != 2 {
		t.Errorf("evidence log has %d entries, want 2", len(s.Evidence()))
	}
}

func TestGibbsRejuvenationKeepsEvidenceConsistency(t *testing.T) {
	noiseless := domain.UniformNoise(1, 1)
	for _, liu := range []bool{false, true} {
		s := New(flatPrior(6, 0.4), noiseless, 500, 23, WithGibbs(3, liu))
		s.Initialize()
		if err := s.Update([]domain.TestOutcome{
			singleton(2, true, 0),
			singleton(3, false, 0),
		}); err != nil {
			t.Fatal(err)
		}
		m := s.Marginals()
		if m[2] != 1 {
			t.Errorf("liu=%v: marginal[2] = %f, want 1", liu, m[2])
		}
		if m[3] != 0 {
			t.Errorf("liu=%v: marginal[3] = %f, want 0", liu, m[3])
		}
	}
}
