// Package selector contains the group selection policies: the
// mutual-information maximizing selector and the Dorfman-style splitting
// strategies, composed into per-cycle sequences.
package selector

import (
	"fmt"

	"github.com/example/pooltest/screening/domain"
)

// Selector chooses the next batch of pools to test against the current
// belief. Implementations return at most state.TestsNeeded pools, each of
// size at most state.MaxGroupSize, and may return fewer (or none) when
// there is nothing useful left to test. Selection must be deterministic
// given an identical belief state.
type Selector interface {
	Select(state *domain.BeliefState) ([]domain.Pool, error)
}

// Sequence assigns selectors to cycles by position: cycle i uses the i-th
// selector, and the final selector becomes the default for every cycle once
// the sequence is exhausted.
type Sequence struct {
	selectors []Selector
}

// NewSequence creates a sequence from one or more selectors.
func NewSequence(selectors ...Selector) (*Sequence, error) {
	if len(selectors) == 0 {
		return nil, fmt.Errorf("%w: selector sequence must not be empty", domain.ErrInvalidConfig)
	}
	return &Sequence{selectors: selectors}, nil
}

// ForCycle returns the selector to use for the given 0-based cycle.
func (s *Sequence) ForCycle(cycle int) Selector {
	if cycle >= 0 && cycle < len(s.selectors) {
		return s.selectors[cycle]
	}
	return s.selectors[len(s.selectors)-1]
}

// Len returns the number of selectors in the sequence.
func (s *Sequence) Len() int {
	return len(s.selectors)
}
