// Package clean removes build outputs: all of them, or those of the
// transitive want-set of named targets.
package clean

import (
	"os"

	"github.com/golang/glog"

	"github.com/kiln-build/kiln/internal/graph"
)

// Cleaner removes the declared outputs, depfiles, and rspfiles of edges.
type Cleaner struct {
	g *graph.Graph

	// Generator also removes outputs of generator rules (edges that
	// re-create the manifest itself); off by default, like ninja's
	// "clean -g".
	Generator bool

	removed map[string]bool
}

// New returns a Cleaner over g.
func New(g *graph.Graph) *Cleaner {
	return &Cleaner{g: g, removed: make(map[string]bool)}
}

// All removes the outputs of every non-phony edge, returning the number
// of files actually deleted.
func (c *Cleaner) All() int {
	count := 0
	for i := 0; i < c.g.NumEdges(); i++ {
		count += c.cleanEdge(c.g.Edge(graph.EdgeID(i)))
	}
	return count
}

// Targets removes the outputs of the edges in targets' transitive
// want-set. A target that names a source file contributes nothing.
func (c *Cleaner) Targets(targets []graph.FileID) (int, error) {
	wanted, err := c.g.WantSet(targets)
	if err != nil {
		return 0, err
	}
	count := 0
	for id := range wanted {
		count += c.cleanEdge(c.g.Edge(id))
	}
	return count, nil
}

func (c *Cleaner) cleanEdge(e *graph.Edge) int {
	if e.IsPhony() {
		return 0
	}
	if e.Generator && !c.Generator {
		return 0
	}
	count := 0
	for _, o := range e.AllOutputs() {
		count += c.remove(c.g.File(o).Path)
	}
	if e.Depfile != "" {
		count += c.remove(e.Depfile)
	}
	if e.RspFile != "" {
		count += c.remove(e.RspFile)
	}
	return count
}

func (c *Cleaner) remove(path string) int {
	if c.removed[path] {
		return 0
	}
	c.removed[path] = true
	if err := os.Remove(path); err != nil {
		if !os.IsNotExist(err) {
			glog.Warningf("remove %s: %v", path, err)
		}
		return 0
	}
	glog.V(1).Infof("removed %s", path)
	return 1
}
