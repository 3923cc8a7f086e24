package decoder

import (
	"math"
	"reflect"
	"testing"

	"github.com/example/pooltest/screening/domain"
)

func flatPrior(n int, rate float64) []float64 {
	prior := make([]float64, n)
	for i := range prior {
		prior[i] = rate
	}
	return prior
}

func TestDecodeEmptyEvidenceReturnsPrior(t *testing.T) {
	prior := []float64{0.1, 0.2, 0.3}
	result := New(100).Decode(nil, prior, domain.UniformNoise(0.85, 0.97))
	if !result.Converged {
		t.Error("empty evidence should converge immediately")
	}
	if !reflect.DeepEqual([]float64(result.Marginals), prior) {
		t.Errorf("Marginals = %v, want prior %v", result.Marginals, prior)
	}
}

func TestDecodeNoiselessSingletons(t *testing.T) {
	prior := flatPrior(4, 0.05)
	noiseless := domain.UniformNoise(1, 1)
	evidence := []domain.TestOutcome{
		{Pool: domain.NewPool(0), Positive: true},
		{Pool: domain.NewPool(1), Positive: false},
	}
	result := New(100).Decode(evidence, prior, noiseless)
	if !result.Converged {
		t.Error("tree-structured evidence should converge")
	}
	if result.Marginals[0] < 0.99 {
		t.Errorf("marginal[0] = %f, want near 1", result.Marginals[0])
	}
	if result.Marginals[1] > 0.01 {
		t.Errorf("marginal[1] = %f, want near 0", result.Marginals[1])
	}
	// untested patients keep their prior
	if math.Abs(result.Marginals[2]-0.05) > 1e-6 {
		t.Errorf("marginal[2] = %f, want prior 0.05", result.Marginals[2])
	}
}

func TestDecodeNegativePoolClearsMembers(t *testing.T) {
	prior := flatPrior(6, 0.2)
	noiseless := domain.UniformNoise(1, 1)
	evidence := []domain.TestOutcome{
		{Pool: domain.NewPool(0, 1, 2), Positive: false},
	}
	result := New(100).Decode(evidence, prior, noiseless)
	for _, patient := range []int{0, 1, 2} {
		if result.Marginals[patient] > 0.01 {
			t.Errorf("marginal[%d] = %f, want near 0", patient, result.Marginals[patient])
		}
	}
	for _, patient := range []int{3, 4, 5} {
		if math.Abs(result.Marginals[patient]-0.2) > 1e-6 {
			t.Errorf("marginal[%d] = %f, want prior 0.2", patient, result.Marginals[patient])
		}
	}
}

func TestDecodePositivePoolRaisesMembers(t *testing.T) {
	prior := flatPrior(4, 0.1)
	evidence := []domain.TestOutcome{
		{Pool: domain.NewPool(0, 1), Positive: true},
	}
	result := New(100).Decode(evidence, prior, domain.UniformNoise(0.85, 0.97))
	for _, patient := range []int{0, 1} {
		if result.Marginals[patient] <= 0.1 {
			t.Errorf("marginal[%d] = %f, want above the 0.1 prior", patient, result.Marginals[patient])
		}
	}
}

func TestDecodeOverlappingPoolsStayInRange(t *testing.T) {
	// overlapping pools induce cycles in the factor graph; whether or not
	// the messages settle, the marginals must stay in [0,1]
	prior := flatPrior(5, 0.15)
	evidence := []domain.TestOutcome{
		{Pool: domain.NewPool(0, 1, 2), Positive: true},
		{Pool: domain.NewPool(1, 2, 3), Positive: false},
		{Pool: domain.NewPool(2, 3, 4), Positive: true},
		{Pool: domain.NewPool(0, 4), Positive: false},
	}
	result := New(5).Decode(evidence, prior, domain.UniformNoise(0.85, 0.97))
	if len(result.Marginals) != 5 {
		t.Fatalf("len(Marginals) = %d, want 5", len(result.Marginals))
	}
	for i, m := range result.Marginals {
		if m < 0 || m > 1 || math.IsNaN(m) {
			t.Errorf("marginal[%d] = %f out of [0,1]", i, m)
		}
	}
	if result.Iterations < 1 || result.Iterations > 5 {
		t.Errorf("Iterations = %d, want within [1,5]", result.Iterations)
	}
}

func TestDecodeCache(t *testing.T) {
	prior := flatPrior(4, 0.1)
	noise := domain.UniformNoise(0.85, 0.97)
	evidence := []domain.TestOutcome{
		{Pool: domain.NewPool(0, 1), Positive: true},
	}
	d := New(100, WithCache(8))
	first := d.Decode(evidence, prior, noise)
	second := d.Decode(evidence, prior, noise)
	if !reflect.DeepEqual(first, second) {
		t.Error("cached decode differs from the original")
	}
}

func TestDecodeCacheKeyedByNoise(t *testing.T) {
	prior := flatPrior(4, 0.1)
	evidence := []domain.TestOutcome{
		{Pool: domain.NewPool(0, 1), Positive: true},
	}
	d := New(100, WithCache(8))
	sharp := d.Decode(evidence, prior, domain.UniformNoise(0.99, 0.99))
	blunt := d.Decode(evidence, prior, domain.UniformNoise(0.55, 0.55))
	if reflect.DeepEqual(sharp.Marginals, blunt.Marginals) {
		t.Errorf("decodes under different noise models share marginals %v", sharp.Marginals)
	}
	// a near-uninformative test barely moves the prior, a sharp one should
	if blunt.Marginals[0] >= sharp.Marginals[0] {
		t.Errorf("sharp = %f, blunt = %f, want sharp > blunt", sharp.Marginals[0], blunt.Marginals[0])
	}
}

func TestDorfmanDecode(t *testing.T) {
	prior := flatPrior(4, 0.1)
	evidence := []domain.TestOutcome{
		{Pool: domain.NewPool(0), Positive: true},
		{Pool: domain.NewPool(1), Positive: false},
		{Pool: domain.NewPool(2, 3), Positive: true}, // non-singleton ignored
	}
	result := Dorfman{}.Decode(evidence, prior, domain.NoiseModel{})
	want := domain.MarginalBelief{1, 0, 0, 0}
	if !reflect.DeepEqual(result.Marginals, want) {
		t.Errorf("Marginals = %v, want %v", result.Marginals, want)
	}
	if !result.Converged {
		t.Error("Dorfman decode is deterministic and always converged")
	}
}
