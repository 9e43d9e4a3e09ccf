package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/google/subcommands"
)

type recompactCmd struct {
	common commonFlags
}

func (*recompactCmd) Name() string     { return "recompact" }
func (*recompactCmd) Synopsis() string { return "recompact the build and deps logs" }
func (*recompactCmd) Usage() string {
	return `recompact [-C DIR] [-f FILE]:
  Rewrite .ninja_log and .ninja_deps, dropping records shadowed by later
  ones for the same output.
`
}

func (r *recompactCmd) SetFlags(f *flag.FlagSet) { r.common.register(f) }

func (r *recompactCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	w, err := openWorkspace(&r.common, true)
	if err != nil {
		return fail(err)
	}
	defer w.close()

	if err := w.buildLog.Compact(); err != nil {
		return fail(err)
	}
	if err := w.depsLog.Compact(); err != nil {
		return fail(err)
	}
	blLive, _ := w.buildLog.Count()
	dlLive, _ := w.depsLog.Count()
	fmt.Printf("recompacted: %d build log records, %d deps records.\n", blLive, dlLive)
	return subcommands.ExitSuccess
}
