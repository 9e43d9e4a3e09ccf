package sched

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kiln-build/kiln/internal/buildlog"
	"github.com/kiln-build/kiln/internal/depslog"
	"github.com/kiln-build/kiln/internal/graph"
	"github.com/kiln-build/kiln/internal/spawn"
	"github.com/kiln-build/kiln/internal/statcache"
)

// env is one build directory with its logs, shared across the repeated
// "runs" of a test; every run gets a fresh graph and stat cache, the way
// separate kiln invocations would.
type env struct {
	t   *testing.T
	dir string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	return &env{t: t, dir: t.TempDir()}
}

func (e *env) path(name string) string { return filepath.Join(e.dir, name) }

func (e *env) write(name, content string) {
	e.t.Helper()
	if err := os.WriteFile(e.path(name), []byte(content), 0o644); err != nil {
		e.t.Fatal(err)
	}
}

func (e *env) read(name string) string {
	e.t.Helper()
	b, err := os.ReadFile(e.path(name))
	if err != nil {
		e.t.Fatalf("reading %s: %v", name, err)
	}
	return string(b)
}

// touch advances name's mtime d into the future, so it is strictly newer
// than anything written earlier in the test regardless of filesystem
// timestamp granularity.
func (e *env) touch(name string, d time.Duration) {
	e.t.Helper()
	when := time.Now().Add(d)
	if err := os.Chtimes(e.path(name), when, when); err != nil {
		e.t.Fatal(err)
	}
}

// run performs one complete build: fresh graph from setup, logs loaded
// from the env directory, built to completion.
func (e *env) run(setup func(g *graph.Graph) []graph.FileID, cfg Config) Summary {
	e.t.Helper()
	return e.runCtx(context.Background(), setup, cfg)
}

func (e *env) runCtx(ctx context.Context, setup func(g *graph.Graph) []graph.FileID, cfg Config) Summary {
	e.t.Helper()
	g := graph.New()
	targets := setup(g)

	bl, err := buildlog.Load(e.path(".ninja_log"))
	if err != nil {
		e.t.Fatalf("loading build log: %v", err)
	}
	defer bl.Close()
	dl, err := depslog.Load(e.path(".ninja_deps"))
	if err != nil {
		e.t.Fatalf("loading deps log: %v", err)
	}
	defer dl.Close()

	if cfg.Parallelism == 0 {
		cfg.Parallelism = 2
	}
	s := New(g, statcache.New(), bl, dl, spawn.NewProcessRunner(), nil, cfg)
	summary, err := s.Build(ctx, targets)
	if err != nil {
		e.t.Fatalf("Build: %v", err)
	}
	return summary
}

// addEdge wires a command edge into g using env-relative names.
func (e *env) addEdge(g *graph.Graph, edge *graph.Edge, command string, ins, outs []string) graph.FileID {
	e.t.Helper()
	edge.RuleName = "test"
	edge.Command = command
	for _, in := range ins {
		edge.Inputs = append(edge.Inputs, g.Intern(e.path(in)))
	}
	var first graph.FileID = graph.NoFile
	for _, out := range outs {
		id := g.Intern(e.path(out))
		if first == graph.NoFile {
			first = id
		}
		edge.Outputs = append(edge.Outputs, id)
	}
	if _, err := g.AddEdge(edge); err != nil {
		e.t.Fatalf("AddEdge: %v", err)
	}
	return first
}

func (e *env) catSetup() func(g *graph.Graph) []graph.FileID {
	return func(g *graph.Graph) []graph.FileID {
		cmd := fmt.Sprintf("cat %s > %s", e.path("in"), e.path("out"))
		out := e.addEdge(g, &graph.Edge{}, cmd, []string{"in"}, []string{"out"})
		return []graph.FileID{out}
	}
}

func expectSummary(t *testing.T, got Summary, built, skipped, failed int) {
	t.Helper()
	if got.Built != built || got.CleanSkipped != skipped || got.Failed != failed {
		t.Errorf("Summary = %+v, want built=%d skipped=%d failed=%d", got, built, skipped, failed)
	}
}

func TestFirstBuildThenNoOp(t *testing.T) {
	e := newEnv(t)
	e.write("in", "A")

	expectSummary(t, e.run(e.catSetup(), Config{}), 1, 0, 0)
	if got := e.read("out"); got != "A" {
		t.Errorf("out = %q, want %q", got, "A")
	}

	logData := e.read(".ninja_log")
	lines := strings.Split(strings.TrimRight(logData, "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf(".ninja_log has %d lines, want header + 1 record:\n%s", len(lines), logData)
	}
	cmd := fmt.Sprintf("cat %s > %s", e.path("in"), e.path("out"))
	wantHash := fmt.Sprintf("%x", graph.HashCommand(cmd, "", "", ""))
	if !strings.HasSuffix(lines[1], "\t"+wantHash) {
		t.Errorf("log record %q does not end with command hash %s", lines[1], wantHash)
	}

	// Immediately rebuilding dispatches nothing and leaves the log alone.
	expectSummary(t, e.run(e.catSetup(), Config{}), 0, 1, 0)
	if got := e.read(".ninja_log"); got != logData {
		t.Errorf("no-op rebuild modified the log:\n%s", got)
	}
}

func TestInputEditedRebuilds(t *testing.T) {
	e := newEnv(t)
	e.write("in", "A")
	expectSummary(t, e.run(e.catSetup(), Config{}), 1, 0, 0)

	e.touch("in", 2*time.Second)
	expectSummary(t, e.run(e.catSetup(), Config{}), 1, 0, 0)

	lines := strings.Split(strings.TrimRight(e.read(".ninja_log"), "\n"), "\n")
	if len(lines) != 3 {
		t.Errorf(".ninja_log has %d lines, want header + 2 records", len(lines))
	}
}

func TestCommandChangedRebuilds(t *testing.T) {
	e := newEnv(t)
	e.write("in", "A")
	expectSummary(t, e.run(e.catSetup(), Config{}), 1, 0, 0)

	// Same input mtimes, different command text: predicate 3 fires.
	cpSetup := func(g *graph.Graph) []graph.FileID {
		cmd := fmt.Sprintf("cp %s %s", e.path("in"), e.path("out"))
		out := e.addEdge(g, &graph.Edge{}, cmd, []string{"in"}, []string{"out"})
		return []graph.FileID{out}
	}
	expectSummary(t, e.run(cpSetup, Config{}), 1, 0, 0)
	expectSummary(t, e.run(cpSetup, Config{}), 0, 1, 0)
}

func TestRestatPrunesDownstream(t *testing.T) {
	e := newEnv(t)
	e.write("src", "A")

	setup := func(g *graph.Graph) []graph.FileID {
		copyIfChanged := fmt.Sprintf("cmp -s %s %s || cp %s %s",
			e.path("src"), e.path("mid"), e.path("src"), e.path("mid"))
		e.addEdge(g, &graph.Edge{Restat: true}, copyIfChanged, []string{"src"}, []string{"mid"})
		down := fmt.Sprintf("cat %s > %s", e.path("mid"), e.path("out"))
		out := e.addEdge(g, &graph.Edge{}, down, []string{"mid"}, []string{"out"})
		return []graph.FileID{out}
	}

	expectSummary(t, e.run(setup, Config{}), 2, 0, 0)

	// Edit src without changing content: the restat edge reruns, leaves
	// mid untouched, and the downstream edge is pruned.
	e.touch("src", 2*time.Second)
	expectSummary(t, e.run(setup, Config{}), 1, 1, 0)

	// And the build after that is a full no-op.
	expectSummary(t, e.run(setup, Config{}), 0, 2, 0)
}

func TestDepfileDiscovery(t *testing.T) {
	e := newEnv(t)
	e.write("in", "A")
	e.write("hdr.h", "H")

	setup := func(g *graph.Graph) []graph.FileID {
		cmd := fmt.Sprintf("cat %s %s > %s && printf '%%s: %%s\\n' %s %s > %s",
			e.path("in"), e.path("hdr.h"), e.path("out"),
			e.path("out"), e.path("hdr.h"), e.path("out.d"))
		out := e.addEdge(g, &graph.Edge{Depfile: e.path("out.d"), DepsType: "gcc"},
			cmd, []string{"in"}, []string{"out"})
		return []graph.FileID{out}
	}

	expectSummary(t, e.run(setup, Config{}), 1, 0, 0)
	if _, err := os.Stat(e.path("out.d")); !os.IsNotExist(err) {
		t.Errorf("depfile not deleted after ingestion: %v", err)
	}

	dl, err := depslog.Load(e.path(".ninja_deps"))
	if err != nil {
		t.Fatalf("loading deps log: %v", err)
	}
	_, deps, ok := dl.Lookup(e.path("out"))
	dl.Close()
	if !ok || len(deps) != 1 || deps[0] != e.path("hdr.h") {
		t.Fatalf("DepsLog lookup = (%v, %v), want [hdr.h]", deps, ok)
	}

	// hdr.h is nowhere in the declared inputs; only the discovered dep can
	// trigger this rebuild.
	e.touch("hdr.h", 2*time.Second)
	expectSummary(t, e.run(setup, Config{}), 1, 0, 0)
	expectSummary(t, e.run(setup, Config{}), 0, 1, 0)
}

func TestKeepGoing(t *testing.T) {
	e := newEnv(t)
	e.write("in", "A")

	setup := func(g *graph.Graph) []graph.FileID {
		bad1 := e.addEdge(g, &graph.Edge{}, "exit 1", nil, []string{"bad1"})
		bad2 := e.addEdge(g, &graph.Edge{}, "exit 1", nil, []string{"bad2"})
		good := e.addEdge(g, &graph.Edge{},
			fmt.Sprintf("cat %s > %s", e.path("in"), e.path("good")), []string{"in"}, []string{"good"})
		return []graph.FileID{bad1, bad2, good}
	}

	sum := e.run(setup, Config{Parallelism: 3, KeepGoing: 2})
	expectSummary(t, sum, 1, 0, 2)

	bl, err := buildlog.Load(e.path(".ninja_log"))
	if err != nil {
		t.Fatal(err)
	}
	defer bl.Close()
	if _, ok := bl.Lookup(e.path("good")); !ok {
		t.Error("successful edge missing from build log")
	}
	for _, bad := range []string{"bad1", "bad2"} {
		if _, ok := bl.Lookup(e.path(bad)); ok {
			t.Errorf("failed edge %s recorded in build log", bad)
		}
	}
}

func TestFailedEdgeBlocksDependents(t *testing.T) {
	e := newEnv(t)
	setup := func(g *graph.Graph) []graph.FileID {
		e.addEdge(g, &graph.Edge{}, "exit 1", nil, []string{"mid"})
		out := e.addEdge(g, &graph.Edge{},
			fmt.Sprintf("cat %s > %s", e.path("mid"), e.path("out")), []string{"mid"}, []string{"out"})
		return []graph.FileID{out}
	}
	sum := e.run(setup, Config{KeepGoing: 10})
	expectSummary(t, sum, 0, 0, 1)
	if _, err := os.Stat(e.path("out")); !os.IsNotExist(err) {
		t.Error("dependent of a failed edge was built")
	}
}

func TestPhonyAggregator(t *testing.T) {
	e := newEnv(t)
	e.write("a", "1")
	e.write("b", "2")

	setup := func(g *graph.Graph) []graph.FileID {
		oa := e.addEdge(g, &graph.Edge{},
			fmt.Sprintf("cat %s > %s", e.path("a"), e.path("oa")), []string{"a"}, []string{"oa"})
		ob := e.addEdge(g, &graph.Edge{},
			fmt.Sprintf("cat %s > %s", e.path("b"), e.path("ob")), []string{"b"}, []string{"ob"})
		all := g.Intern(e.path("all"))
		phony := &graph.Edge{RuleName: "phony", Inputs: []graph.FileID{oa, ob}, Outputs: []graph.FileID{all}}
		if _, err := g.AddEdge(phony); err != nil {
			t.Fatal(err)
		}
		return []graph.FileID{all}
	}

	expectSummary(t, e.run(setup, Config{}), 2, 0, 0)
	// Second time: both producers clean, the phony skips too.
	sum := e.run(setup, Config{})
	if sum.Built != 0 || sum.Failed != 0 {
		t.Errorf("Summary = %+v, want nothing built", sum)
	}
}

func TestPoolDepthOne(t *testing.T) {
	e := newEnv(t)
	// Both edges append to the same file; with pool depth 1 and spare -j
	// slots they still run one at a time, so neither write is lost.
	setup := func(g *graph.Graph) []graph.FileID {
		shared := e.path("shared")
		o1 := e.addEdge(g, &graph.Edge{Pool: "heavy", PoolDepth: 1},
			fmt.Sprintf("echo one >> %s && cp %s %s", shared, shared, e.path("o1")), nil, []string{"o1"})
		o2 := e.addEdge(g, &graph.Edge{Pool: "heavy", PoolDepth: 1},
			fmt.Sprintf("echo two >> %s && cp %s %s", shared, shared, e.path("o2")), nil, []string{"o2"})
		return []graph.FileID{o1, o2}
	}
	expectSummary(t, e.run(setup, Config{Parallelism: 4}), 2, 0, 0)
	got := e.read("shared")
	if len(strings.Fields(got)) != 2 {
		t.Errorf("shared = %q, want two lines", got)
	}
}

func TestCanceledContextDispatchesNothing(t *testing.T) {
	e := newEnv(t)
	e.write("in", "A")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sum := e.runCtx(ctx, e.catSetup(), Config{})
	expectSummary(t, sum, 0, 0, 0)
	if _, err := os.Stat(e.path("out")); !os.IsNotExist(err) {
		t.Error("edge dispatched despite canceled context")
	}
}

func TestSourceTargetIsNoWork(t *testing.T) {
	e := newEnv(t)
	e.write("in", "A")
	setup := func(g *graph.Graph) []graph.FileID {
		return []graph.FileID{g.Intern(e.path("in"))}
	}
	expectSummary(t, e.run(setup, Config{}), 0, 0, 0)
}
