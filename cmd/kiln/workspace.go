package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/golang/glog"

	"github.com/kiln-build/kiln/internal/buildlog"
	"github.com/kiln-build/kiln/internal/depslog"
	"github.com/kiln-build/kiln/internal/graph"
	"github.com/kiln-build/kiln/internal/kerr"
	"github.com/kiln-build/kiln/internal/manifest"
)

const (
	buildLogPath = ".ninja_log"
	depsLogPath  = ".ninja_deps"
)

// workspace bundles what every subcommand needs after startup: the parsed
// graph plus (when opened) the two persistent logs.
type workspace struct {
	res      *manifest.Result
	buildLog *buildlog.Log
	depsLog  *depslog.Log
}

// commonFlags are the flags shared by every data-touching subcommand.
type commonFlags struct {
	dir      string
	manifest string
}

func (c *commonFlags) register(f *flag.FlagSet) {
	f.StringVar(&c.dir, "C", "", "change to `DIR` before doing anything else")
	f.StringVar(&c.manifest, "f", "build.ninja", "specify input build `FILE`")
}

// openWorkspace applies -C, parses the manifest, and (if withLogs) loads
// .ninja_log and .ninja_deps from the (possibly changed-into) directory.
func openWorkspace(c *commonFlags, withLogs bool) (*workspace, error) {
	if c.dir != "" {
		glog.V(1).Infof("entering directory %s", c.dir)
		if err := os.Chdir(c.dir); err != nil {
			return nil, fmt.Errorf("chdir %s: %w", c.dir, err)
		}
	}
	res, err := manifest.Parse(c.manifest)
	if err != nil {
		return nil, err
	}
	w := &workspace{res: res}
	if withLogs {
		if w.buildLog, err = buildlog.Load(buildLogPath); err != nil {
			return nil, err
		}
		if w.depsLog, err = depslog.Load(depsLogPath); err != nil {
			w.buildLog.Close()
			return nil, err
		}
	}
	return w, nil
}

func (w *workspace) close() {
	if w.buildLog != nil {
		if err := w.buildLog.Close(); err != nil {
			glog.Errorf("closing %s: %v", buildLogPath, err)
		}
	}
	if w.depsLog != nil {
		if err := w.depsLog.Close(); err != nil {
			glog.Errorf("closing %s: %v", depsLogPath, err)
		}
	}
}

// resolveTargets maps the positional target names to FileIDs, falling
// back to the manifest's default set, and then to every edge with no
// dependents. Unknown names get a did-you-mean suggestion.
func (w *workspace) resolveTargets(names []string) ([]graph.FileID, error) {
	g := w.res.Graph
	if len(names) == 0 {
		if len(w.res.Default) > 0 {
			return w.res.Default, nil
		}
		leaves := g.Leaves()
		if len(leaves) == 0 && g.NumEdges() > 0 {
			// Every edge's outputs feed some other edge; only a cycle can
			// do that, and an empty manifest is simply no work to do.
			return nil, kerr.NewGraphError("could not determine root targets")
		}
		return leaves, nil
	}
	out := make([]graph.FileID, len(names))
	for i, name := range names {
		id, ok := g.Lookup(name)
		if !ok {
			if s := suggestTarget(g, name); s != "" {
				return nil, kerr.NewGraphError("unknown target %q, did you mean %q?", name, s)
			}
			return nil, kerr.NewGraphError("unknown target %q", name)
		}
		out[i] = id
	}
	return out, nil
}
