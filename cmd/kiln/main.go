// Command kiln is an incremental build executor for Ninja-format build
// files: it loads build.ninja, decides which edges are out of date, runs
// them in dependency order with bounded parallelism, and records what it
// did in .ninja_log and .ninja_deps so the next run can skip the work.
//
// A bare invocation builds: "kiln [targets...]" is shorthand for
// "kiln build [targets...]". The other subcommands (clean, query, graph,
// recompact) are maintenance tools over the same graph and logs.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"

	"github.com/golang/glog"
	"github.com/google/subcommands"
)

func main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.CommandsCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(&buildCmd{}, "")
	subcommands.Register(&cleanCmd{}, "")
	subcommands.Register(&queryCmd{}, "")
	subcommands.Register(&graphCmd{}, "")
	subcommands.Register(&recompactCmd{}, "")

	// "kiln out/app" and "kiln -j8 out/app" mean "kiln build ...": insert
	// the implied subcommand unless the first argument already names one.
	named := map[string]bool{
		"build": true, "clean": true, "query": true, "graph": true,
		"recompact": true, "help": true, "commands": true, "flags": true,
	}
	if len(os.Args) < 2 || !named[os.Args[1]] {
		os.Args = append([]string{os.Args[0], "build"}, os.Args[1:]...)
	}

	flag.Parse()

	// SIGINT stops dispatching new edges; in-flight commands are drained
	// and their results still recorded before exit.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := subcommands.Execute(ctx)
	stop()
	glog.Flush()
	os.Exit(int(code))
}
