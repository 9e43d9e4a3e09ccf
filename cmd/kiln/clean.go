package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/google/subcommands"

	"github.com/kiln-build/kiln/internal/clean"
)

type cleanCmd struct {
	common    commonFlags
	generator bool
}

func (*cleanCmd) Name() string     { return "clean" }
func (*cleanCmd) Synopsis() string { return "remove built files" }
func (*cleanCmd) Usage() string {
	return `clean [-C DIR] [-f FILE] [-g] [targets...]:
  Remove the outputs of the named targets' edges, or of every edge with a
  command if no targets are given.
`
}

func (c *cleanCmd) SetFlags(f *flag.FlagSet) {
	c.common.register(f)
	f.BoolVar(&c.generator, "g", false, "also remove outputs of generator rules")
}

func (c *cleanCmd) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	w, err := openWorkspace(&c.common, false)
	if err != nil {
		return fail(err)
	}

	cl := clean.New(w.res.Graph)
	cl.Generator = c.generator

	var count int
	if f.NArg() == 0 {
		count = cl.All()
	} else {
		targets, err := w.resolveTargets(f.Args())
		if err != nil {
			return fail(err)
		}
		if count, err = cl.Targets(targets); err != nil {
			return fail(err)
		}
	}
	fmt.Printf("cleaned %d files.\n", count)
	return subcommands.ExitSuccess
}
