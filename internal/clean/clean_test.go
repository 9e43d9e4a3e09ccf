package clean

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/kiln-build/kiln/internal/graph"
)

type fixture struct {
	t   *testing.T
	dir string
	g   *graph.Graph
}

func newFixture(t *testing.T) *fixture {
	return &fixture{t: t, dir: t.TempDir(), g: graph.New()}
}

func (f *fixture) path(name string) string { return filepath.Join(f.dir, name) }

func (f *fixture) touch(name string) {
	f.t.Helper()
	if err := os.WriteFile(f.path(name), []byte("x"), 0o644); err != nil {
		f.t.Fatal(err)
	}
}

func (f *fixture) exists(name string) bool {
	_, err := os.Stat(f.path(name))
	return err == nil
}

func (f *fixture) addEdge(e *graph.Edge, ins, outs []string) graph.FileID {
	f.t.Helper()
	if e.RuleName == "" {
		e.RuleName = "cc"
	}
	for _, in := range ins {
		e.Inputs = append(e.Inputs, f.g.Intern(f.path(in)))
	}
	var first graph.FileID = graph.NoFile
	for _, out := range outs {
		id := f.g.Intern(f.path(out))
		if first == graph.NoFile {
			first = id
		}
		e.Outputs = append(e.Outputs, id)
	}
	if _, err := f.g.AddEdge(e); err != nil {
		f.t.Fatal(err)
	}
	return first
}

func TestAllRemovesOutputsNotSources(t *testing.T) {
	f := newFixture(t)
	f.touch("src")
	f.touch("obj")
	f.touch("bin")
	obj := f.addEdge(&graph.Edge{Command: "cc"}, []string{"src"}, []string{"obj"})
	f.addEdge(&graph.Edge{Command: "ld"}, nil, []string{"bin"})
	_ = obj

	n := New(f.g).All()
	if n != 2 {
		t.Errorf("All = %d, want 2", n)
	}
	if !f.exists("src") {
		t.Error("source file removed")
	}
	if f.exists("obj") || f.exists("bin") {
		t.Error("outputs survived clean")
	}
}

func TestTargetsRemovesOnlyWantSet(t *testing.T) {
	f := newFixture(t)
	f.touch("src")
	f.touch("obj")
	f.touch("bin")
	f.touch("other")
	obj := f.addEdge(&graph.Edge{Command: "cc"}, []string{"src"}, []string{"obj"})
	bin := f.addEdge(&graph.Edge{Command: "ld"}, []string{"obj"}, []string{"bin"})
	f.addEdge(&graph.Edge{Command: "cc"}, nil, []string{"other"})
	_ = obj

	n, err := New(f.g).Targets([]graph.FileID{bin})
	if err != nil {
		t.Fatalf("Targets: %v", err)
	}
	if n != 2 {
		t.Errorf("Targets = %d, want 2", n)
	}
	if !f.exists("other") {
		t.Error("file outside the want-set removed")
	}
}

func TestPhonyAndMissingSkipped(t *testing.T) {
	f := newFixture(t)
	all := f.g.Intern(f.path("all"))
	dep := f.g.Intern(f.path("never-built"))
	e := &graph.Edge{RuleName: "phony", Inputs: []graph.FileID{dep}, Outputs: []graph.FileID{all}}
	if _, err := f.g.AddEdge(e); err != nil {
		t.Fatal(err)
	}
	if n := New(f.g).All(); n != 0 {
		t.Errorf("All = %d, want 0 (phony has nothing to remove)", n)
	}
}

func TestGeneratorNeedsFlag(t *testing.T) {
	f := newFixture(t)
	f.touch("build.ninja.out")
	f.addEdge(&graph.Edge{Command: "configure", Generator: true}, nil, []string{"build.ninja.out"})

	c := New(f.g)
	if n := c.All(); n != 0 {
		t.Errorf("All = %d, want generator output kept without -g", n)
	}
	c2 := New(f.g)
	c2.Generator = true
	if n := c2.All(); n != 1 {
		t.Errorf("All with Generator = %d, want 1", n)
	}
}

func TestDepfileAndRspfileRemoved(t *testing.T) {
	f := newFixture(t)
	f.touch("out")
	f.touch("out.d")
	f.touch("out.rsp")
	f.addEdge(&graph.Edge{
		Command: "cc",
		Depfile: f.path("out.d"),
		RspFile: f.path("out.rsp"),
	}, nil, []string{"out"})

	if n := New(f.g).All(); n != 3 {
		t.Errorf("All = %d, want output + depfile + rspfile", n)
	}
}
