package graph

import (
	"strings"

	"github.com/kiln-build/kiln/internal/kerr"
)

// WantSet computes the transitive closure of edges required to produce
// targets: a reverse traversal along InEdge chains, marking every
// ancestor edge wanted. A cycle is reported as a *kerr.GraphError naming
// the path that closed it.
//
// Order-only inputs participate in the traversal (they must finish before
// the edge can run) and in cycle detection the same as explicit and
// implicit inputs; there is no special lenience for phony
// self-references, any cycle is fatal.
func (g *Graph) WantSet(targets []FileID) (map[EdgeID]bool, error) {
	for _, e := range g.edges {
		e.mark = visitNone
	}
	wanted := make(map[EdgeID]bool)
	var stack []FileID
	for _, t := range targets {
		if err := g.visitWant(t, &stack, wanted); err != nil {
			return nil, err
		}
	}
	return wanted, nil
}

func (g *Graph) visitWant(f FileID, stack *[]FileID, wanted map[EdgeID]bool) error {
	file := &g.files[f]
	if file.InEdge == NoEdge {
		return nil
	}
	e := g.edges[file.InEdge]
	switch e.mark {
	case visitDone:
		return nil
	case visitInStack:
		return g.cycleError(f, *stack)
	}
	e.mark = visitInStack
	*stack = append(*stack, f)

	wanted[e.ID] = true
	for _, in := range e.Inputs {
		if err := g.visitWant(in, stack, wanted); err != nil {
			return err
		}
	}
	for _, in := range e.ImplicitInputs {
		if err := g.visitWant(in, stack, wanted); err != nil {
			return err
		}
	}
	for _, in := range e.OrderOnlyInputs {
		if err := g.visitWant(in, stack, wanted); err != nil {
			return err
		}
	}

	e.mark = visitDone
	*stack = (*stack)[:len(*stack)-1]
	return nil
}

// Leaves returns the outputs of every edge that has no dependent edges at
// all among its outputs, i.e. nothing in the graph consumes what it
// produces. This is the CLI's fallback target set when no targets are
// named and the manifest declares no defaults.
func (g *Graph) Leaves() []FileID {
	var out []FileID
	for _, e := range g.edges {
		hasDependent := false
		for _, o := range e.AllOutputs() {
			if len(g.files[o].Dependents) > 0 {
				hasDependent = true
				break
			}
		}
		if !hasDependent {
			out = append(out, e.AllOutputs()...)
		}
	}
	return out
}

func (g *Graph) cycleError(closing FileID, stack []FileID) error {
	start := 0
	for i, f := range stack {
		if f == closing {
			start = i
			break
		}
	}
	var b strings.Builder
	b.WriteString("dependency cycle: ")
	for _, f := range stack[start:] {
		b.WriteString(g.files[f].Path)
		b.WriteString(" -> ")
	}
	b.WriteString(g.files[stack[start]].Path)
	return kerr.NewGraphError("%s", b.String())
}
