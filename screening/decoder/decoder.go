// Package decoder implements loopy belief propagation over the pooled
// testing factor graph. It is the fast, best-effort belief estimate used to
// score candidate pools cheaply; the posterior of record belongs to the
// particle sampler.
package decoder

import (
	"hash/fnv"
	"math"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/example/pooltest/screening/domain"
)

const (
	defaultTolerance = 1e-6

	// messageFloor keeps log-odds arithmetic finite under noiseless priors.
	messageFloor = 1e-9
)

// Result is the outcome of one decode call.
type Result struct {
	// Marginals is the per-patient infection belief derived from the final
	// messages, converged or not.
	Marginals domain.MarginalBelief

	// Converged is false when the iteration budget ran out before messages
	// settled. Non-convergence is not an error; the marginals are still the
	// best available estimate.
	Converged bool

	// Iterations is the number of message-passing rounds performed.
	Iterations int
}

// Decoder runs synchronous sum-product message passing.
type Decoder struct {
	maxIterations int
	tolerance     float64
	logger        *zap.Logger
	cache         *lru.Cache[uint64, Result]
}

// Option configures a Decoder.
type Option func(*Decoder)

// WithLogger sets the structured logger.
func WithLogger(logger *zap.Logger) Option {
	return func(d *Decoder) { d.logger = logger }
}

// WithTolerance overrides the message convergence tolerance.
func WithTolerance(tol float64) Option {
	return func(d *Decoder) { d.tolerance = tol }
}

// WithCache enables an LRU cache of decode results keyed by the evidence
// log. Useful when the same belief is decoded repeatedly within a cycle;
// beliefs are otherwise recomputed on every call.
func WithCache(size int) Option {
	return func(d *Decoder) {
		cache, err := lru.New[uint64, Result](size)
		if err != nil {
			return
		}
		d.cache = cache
	}
}

// New creates a decoder bounded by the given number of iterations.
func New(maxIterations int, opts ...Option) *Decoder {
	d := &Decoder{
		maxIterations: maxIterations,
		tolerance:     defaultTolerance,
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Decode returns approximate per-patient marginals given the evidence, the
// per-patient prior rates and the prior noise model. The factor graph may
// contain cycles from overlapping pools, so the result is not exact.
func (d *Decoder) Decode(evidence []domain.TestOutcome, prior []float64, noise domain.NoiseModel) Result {
	var key uint64
	if d.cache != nil {
		key = fingerprint(evidence, prior, noise)
		if cached, ok := d.cache.Get(key); ok {
			return cached
		}
	}

	result := d.propagate(evidence, prior, noise)
	if !result.Converged {
		d.logger.Debug("belief propagation did not converge",
			zap.Int("iterations", result.Iterations),
			zap.Int("evidence_len", len(evidence)))
	}
	if d.cache != nil {
		d.cache.Add(key, result)
	}
	return result
}

func (d *Decoder) propagate(evidence []domain.TestOutcome, prior []float64, noise domain.NoiseModel) Result {
	numPatients := len(prior)
	if len(evidence) == 0 {
		marginals := make(domain.MarginalBelief, numPatients)
		copy(marginals, prior)
		return Result{Marginals: marginals, Converged: true}
	}

	g := buildGraph(evidence, numPatients)

	// variable-to-factor messages start at the prior; the two buffers
	// enforce the synchronous barrier between rounds.
	varToFactor := newMessages(g, func(v int) float64 { return prior[v] })
	next := newMessages(g, func(int) float64 { return 0 })
	factorToVar := newMessages(g, func(int) float64 { return 0.5 })

	iterations := 0
	converged := false
	for iterations < d.maxIterations {
		iterations++

		for f := range g.members {
			d.factorRound(g, f, noise, varToFactor[f], factorToVar[f])
		}

		delta := d.variableRound(g, prior, factorToVar, varToFactor, next)
		varToFactor, next = next, varToFactor

		if delta < d.tolerance {
			converged = true
			break
		}
	}

	return Result{
		Marginals:  d.marginals(g, prior, factorToVar),
		Converged:  converged,
		Iterations: iterations,
	}
}

// factorRound computes all messages from factor f to its member variables.
//
// The factor likelihood depends on member statuses only through the
// indicator "any member infected", so the message to variable i needs just
// the probability that every other member is healthy.
func (d *Decoder) factorRound(g *factorGraph, f int, noise domain.NoiseModel, incoming, outgoing []float64) {
	o := g.outcomes[f]
	size := len(incoming)
	se := noise.SensitivityFor(size)
	sp := noise.SpecificityFor(size)

	for slot := range incoming {
		// probability that all members except this one are healthy;
		// pools are small so the direct product is fine
		allOthersHealthy := 1.0
		for other := range incoming {
			if other != slot {
				allOthersHealthy *= 1 - incoming[other]
			}
		}

		var ifInfected, ifHealthy float64
		if o.Positive {
			ifInfected = se
			ifHealthy = allOthersHealthy*(1-sp) + (1-allOthersHealthy)*se
		} else {
			ifInfected = 1 - se
			ifHealthy = allOthersHealthy*sp + (1-allOthersHealthy)*(1-se)
		}

		total := ifInfected + ifHealthy
		if total <= 0 {
			outgoing[slot] = 0.5
		} else {
			outgoing[slot] = ifInfected / total
		}
	}
}

// variableRound recomputes every variable-to-factor message from the prior
// and the factor messages of the completed round, writing into next and
// returning the largest message change.
func (d *Decoder) variableRound(g *factorGraph, prior []float64, factorToVar, current, next messages) float64 {
	maxDelta := 0.0
	for v := 0; v < g.numPatients; v++ {
		base := logit(prior[v])
		total := base
		for _, e := range g.edges[v] {
			total += logit(factorToVar[e.factor][e.slot])
		}
		for _, e := range g.edges[v] {
			updated := sigmoid(total - logit(factorToVar[e.factor][e.slot]))
			if delta := math.Abs(updated - current[e.factor][e.slot]); delta > maxDelta {
				maxDelta = delta
			}
			next[e.factor][e.slot] = updated
		}
	}
	return maxDelta
}

func (d *Decoder) marginals(g *factorGraph, prior []float64, factorToVar messages) domain.MarginalBelief {
	marginals := make(domain.MarginalBelief, g.numPatients)
	for v := 0; v < g.numPatients; v++ {
		total := logit(prior[v])
		for _, e := range g.edges[v] {
			total += logit(factorToVar[e.factor][e.slot])
		}
		marginals[v] = sigmoid(total)
	}
	return marginals
}

// logit maps a probability to log-odds, clamping away from 0 and 1 so that
// noiseless evidence saturates rather than producing NaN.
func logit(p float64) float64 {
	if p < messageFloor {
		p = messageFloor
	} else if p > 1-messageFloor {
		p = 1 - messageFloor
	}
	return math.Log(p / (1 - p))
}

func sigmoid(x float64) float64 {
	if x > 40 {
		return 1
	}
	if x < -40 {
		return 0
	}
	return 1 / (1 + math.Exp(-x))
}

// fingerprint hashes everything Decode's output depends on: the evidence
// log, the prior and the noise model.
func fingerprint(evidence []domain.TestOutcome, prior []float64, noise domain.NoiseModel) uint64 {
	h := fnv.New64a()
	var buf [8]byte
	writeInt := func(x uint64) {
		for i := 0; i < 8; i++ {
			buf[i] = byte(x >> (8 * i))
		}
		h.Write(buf[:])
	}
	writeInt(uint64(len(prior)))
	for _, p := range prior {
		writeInt(math.Float64bits(p))
	}
	writeInt(uint64(len(noise.Sensitivity)))
	for _, se := range noise.Sensitivity {
		writeInt(math.Float64bits(se))
	}
	writeInt(uint64(len(noise.Specificity)))
	for _, sp := range noise.Specificity {
		writeInt(math.Float64bits(sp))
	}
	for _, o := range evidence {
		writeInt(uint64(o.Cycle))
		if o.Positive {
			writeInt(1)
		} else {
			writeInt(0)
		}
		for _, patient := range o.Pool.Patients {
			writeInt(uint64(patient))
		}
		writeInt(math.MaxUint64) // outcome delimiter
	}
	return h.Sum64()
}
