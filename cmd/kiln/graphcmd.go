package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/google/subcommands"

	"github.com/kiln-build/kiln/internal/graph"
)

type graphCmd struct {
	common commonFlags
}

func (*graphCmd) Name() string     { return "graph" }
func (*graphCmd) Synopsis() string { return "output graphviz dot file for targets" }
func (*graphCmd) Usage() string {
	return `graph [-C DIR] [-f FILE] [targets...]:
  Print the targets' dependency graph in graphviz dot form; pipe through
  "dot -Tpng" to render it.
`
}

func (g *graphCmd) SetFlags(f *flag.FlagSet) { g.common.register(f) }

func (g *graphCmd) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	w, err := openWorkspace(&g.common, false)
	if err != nil {
		return fail(err)
	}
	targets, err := w.resolveTargets(f.Args())
	if err != nil {
		return fail(err)
	}
	wanted, err := w.res.Graph.WantSet(targets)
	if err != nil {
		return fail(err)
	}
	writeDot(w.res.Graph, wanted, targets)
	return subcommands.ExitSuccess
}

// writeDot prints the want-set as a dot digraph: a single-input,
// single-output edge draws as one labeled arrow; anything wider gets an
// ellipse node for the edge itself, with order-only inputs dotted.
func writeDot(g *graph.Graph, wanted map[graph.EdgeID]bool, targets []graph.FileID) {
	fmt.Printf("digraph kiln {\n")
	fmt.Printf("rankdir=\"LR\"\n")
	fmt.Printf("node [fontsize=10, shape=box, height=0.25]\n")
	fmt.Printf("edge [fontsize=10]\n")

	files := make(map[graph.FileID]bool)
	emitFile := func(id graph.FileID) {
		if files[id] {
			return
		}
		files[id] = true
		fmt.Printf("\"f%d\" [label=\"%s\"]\n", id, g.File(id).Path)
	}
	for _, t := range targets {
		emitFile(t)
	}

	for id := range wanted {
		e := g.Edge(id)
		for _, o := range e.AllOutputs() {
			emitFile(o)
		}
		ins := e.OrderingInputs()
		for _, in := range ins {
			emitFile(in)
		}
		if len(ins) == 1 && len(e.Outputs) == 1 && len(e.ImplicitOutputs) == 0 {
			fmt.Printf("\"f%d\" -> \"f%d\" [label=\" %s\"]\n", ins[0], e.Outputs[0], e.RuleName)
			continue
		}
		fmt.Printf("\"e%d\" [label=\"%s\", shape=ellipse]\n", id, e.RuleName)
		for _, o := range e.AllOutputs() {
			fmt.Printf("\"e%d\" -> \"f%d\"\n", id, o)
		}
		for _, in := range e.Inputs {
			fmt.Printf("\"f%d\" -> \"e%d\" [arrowhead=none]\n", in, id)
		}
		for _, in := range e.ImplicitInputs {
			fmt.Printf("\"f%d\" -> \"e%d\" [arrowhead=none]\n", in, id)
		}
		for _, in := range e.OrderOnlyInputs {
			fmt.Printf("\"f%d\" -> \"e%d\" [arrowhead=none style=dotted]\n", in, id)
		}
	}
	fmt.Printf("}\n")
}
