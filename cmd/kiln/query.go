package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/google/subcommands"

	"github.com/kiln-build/kiln/internal/graph"
	"github.com/kiln-build/kiln/internal/kerr"
)

type queryCmd struct {
	common commonFlags
}

func (*queryCmd) Name() string     { return "query" }
func (*queryCmd) Synopsis() string { return "show inputs/outputs for a path" }
func (*queryCmd) Usage() string {
	return `query [-C DIR] [-f FILE] path...:
  Print each path's producing edge and inputs, and the edges that consume it.
`
}

func (q *queryCmd) SetFlags(f *flag.FlagSet) { q.common.register(f) }

func (q *queryCmd) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() == 0 {
		return fail(kerr.NewGraphError("expected a target to query"))
	}
	w, err := openWorkspace(&q.common, false)
	if err != nil {
		return fail(err)
	}
	g := w.res.Graph

	targets, err := w.resolveTargets(f.Args())
	if err != nil {
		return fail(err)
	}

	for _, t := range targets {
		file := g.File(t)
		fmt.Printf("%s:\n", file.Path)
		if file.InEdge != graph.NoEdge {
			e := g.Edge(file.InEdge)
			fmt.Printf("  input: %s\n", e.RuleName)
			for _, in := range e.Inputs {
				fmt.Printf("    %s\n", g.File(in).Path)
			}
			for _, in := range e.ImplicitInputs {
				fmt.Printf("    | %s\n", g.File(in).Path)
			}
			for _, in := range e.OrderOnlyInputs {
				fmt.Printf("    || %s\n", g.File(in).Path)
			}
		}
		fmt.Printf("  outputs:\n")
		for _, dep := range file.Dependents {
			for _, out := range g.Edge(dep).Outputs {
				fmt.Printf("    %s\n", g.File(out).Path)
			}
		}
	}
	return subcommands.ExitSuccess
}
