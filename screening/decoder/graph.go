package decoder

import (
	"github.com/example/pooltest/screening/domain"
)

// factorGraph is the bipartite graph connecting patient variables to test
// factors. Nodes and edges are plain index arrays rather than pointer-linked
// structures; message buffers are laid out per factor so one synchronous
// round can be double-buffered cheaply.
type factorGraph struct {
	numPatients int

	// members[f] lists the variable indices attached to factor f.
	members [][]int

	// edges[i] lists, for variable i, each (factor, slot) pair where slot is
	// the variable's position inside members[factor].
	edges [][]edge

	// outcomes[f] is the observed result for factor f.
	outcomes []domain.TestOutcome
}

type edge struct {
	factor int
	slot   int
}

func buildGraph(evidence []domain.TestOutcome, numPatients int) *factorGraph {
	g := &factorGraph{
		numPatients: numPatients,
		members:     make([][]int, len(evidence)),
		edges:       make([][]edge, numPatients),
		outcomes:    evidence,
	}
	for f, o := range evidence {
		g.members[f] = o.Pool.Patients
		for slot, patient := range o.Pool.Patients {
			if patient >= 0 && patient < numPatients {
				g.edges[patient] = append(g.edges[patient], edge{factor: f, slot: slot})
			}
		}
	}
	return g
}

// messages holds one direction of edge messages, stored per factor slot as
// the probability that the variable is infected.
type messages [][]float64

func newMessages(g *factorGraph, init func(varIdx int) float64) messages {
	m := make(messages, len(g.members))
	for f, vars := range g.members {
		m[f] = make([]float64, len(vars))
		for slot, v := range vars {
			m[f][slot] = init(v)
		}
	}
	return m
}
