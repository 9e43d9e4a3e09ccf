package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/golang/glog"
	"github.com/google/subcommands"

	"github.com/kiln-build/kiln/internal/graph"
	"github.com/kiln-build/kiln/internal/kerr"
	"github.com/kiln-build/kiln/internal/sched"
	"github.com/kiln-build/kiln/internal/spawn"
	"github.com/kiln-build/kiln/internal/statcache"
	"github.com/kiln-build/kiln/internal/status"
	"github.com/kiln-build/kiln/internal/trace"
)

// debugFlags are the values "-d" accepts; "-d list" enumerates them.
var debugFlags = []struct{ name, desc string }{
	{"trace", "emit a Chrome trace of edge start/stop times to trace.json"},
	{"list", "list debug flags and exit"},
}

type buildCmd struct {
	common    commonFlags
	jobs      int
	keepGoing int
	debug     string
	verbose   bool
}

func (*buildCmd) Name() string     { return "build" }
func (*buildCmd) Synopsis() string { return "build the given targets (the default command)" }
func (*buildCmd) Usage() string {
	return `build [-C DIR] [-f FILE] [-j N] [-k N] [-d FLAG] [targets...]:
  Bring the targets (or the manifest's defaults) up to date.
`
}

func (b *buildCmd) SetFlags(f *flag.FlagSet) {
	b.common.register(f)
	f.IntVar(&b.jobs, "j", runtime.NumCPU(), "run `N` commands in parallel")
	f.IntVar(&b.keepGoing, "k", 1, "keep going until `N` jobs fail (0 means never stop)")
	f.StringVar(&b.debug, "d", "", "enable debugging (use '-d list' to list `flag`s)")
	f.BoolVar(&b.verbose, "v", false, "print full command lines while building")
}

func (b *buildCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if b.debug == "list" {
		for _, d := range debugFlags {
			fmt.Printf("  %-8s %s\n", d.name, d.desc)
		}
		return subcommands.ExitSuccess
	}
	if b.debug != "" && b.debug != "trace" {
		fmt.Fprintf(os.Stderr, "kiln: unknown debug flag %q ('-d list' lists them)\n", b.debug)
		return subcommands.ExitUsageError
	}
	if b.keepGoing == 0 {
		b.keepGoing = 1 << 30
	}

	w, err := openWorkspace(&b.common, true)
	if err != nil {
		return fail(err)
	}
	defer w.close()

	targets, err := w.resolveTargets(f.Args())
	if err != nil {
		return fail(err)
	}

	g := w.res.Graph
	stat := statcache.New()
	if err := checkSourceTargets(g, stat, targets); err != nil {
		return fail(err)
	}

	printer := status.NewPrinter(g)
	printer.Verbose = b.verbose
	obs := sched.MultiObserver{printer}
	var tw *trace.Writer
	if b.debug == "trace" {
		tw = trace.NewWriter("trace.json", g)
		obs = append(obs, tw)
	}

	s := sched.New(g, stat, w.buildLog, w.depsLog, spawn.NewProcessRunner(), obs, sched.Config{
		Parallelism: b.jobs,
		KeepGoing:   b.keepGoing,
	})
	summary, err := s.Build(ctx, targets)
	if err != nil {
		return fail(err)
	}
	if tw != nil {
		if terr := tw.Err(); terr != nil {
			glog.Errorf("writing trace: %v", terr)
		}
	}
	if summary.Failed > 0 {
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

// checkSourceTargets rejects a requested target that is a source file
// and does not exist: there is no edge that could produce it.
func checkSourceTargets(g *graph.Graph, stat *statcache.Cache, targets []graph.FileID) error {
	for _, t := range targets {
		file := g.File(t)
		if !file.IsSource() {
			continue
		}
		_, exists, err := stat.Stat(file.Path)
		if err != nil {
			return err
		}
		if !exists {
			return kerr.NewGraphError("target %q is missing and no rule makes it", file.Path)
		}
	}
	return nil
}

// fail prints err and maps its kind to an exit code: graph and parse
// errors exit 2, everything else exits 1.
func fail(err error) subcommands.ExitStatus {
	msg := err.Error()
	fmt.Fprintf(os.Stderr, "kiln: %s\n", strings.TrimRight(msg, "\n"))
	var ge *kerr.GraphError
	var pe *kerr.ParseError
	if errors.As(err, &ge) || errors.As(err, &pe) {
		return subcommands.ExitUsageError
	}
	return subcommands.ExitFailure
}
