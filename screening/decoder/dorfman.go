package decoder

import (
	"github.com/example/pooltest/screening/domain"
)

// Dorfman is the deterministic decoder used by Dorfman-style strategies:
// only positive individual tests are recorded, so the marginal is 1 for any
// patient with a positive singleton outcome and 0 otherwise.
type Dorfman struct{}

// Decode implements the deterministic Dorfman decoding rule. The prior and
// noise model are ignored; the signature mirrors the belief-propagation
// decoder so the two are interchangeable.
func (Dorfman) Decode(evidence []domain.TestOutcome, prior []float64, _ domain.NoiseModel) Result {
	marginals := make(domain.MarginalBelief, len(prior))
	for _, o := range evidence {
		if o.Positive && o.Pool.Size() == 1 {
			patient := o.Pool.Patients[0]
			if patient >= 0 && patient < len(marginals) {
				marginals[patient] = 1
			}
		}
	}
	return Result{Marginals: marginals, Converged: true}
}
