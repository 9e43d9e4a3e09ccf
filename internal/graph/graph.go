// Package graph holds the in-memory dependency DAG: interned files and
// edges, staleness computation, and want-set expansion. Files and edges
// use dense integer ids backed by contiguous arrays rather than a
// pointer-linked node graph, which keeps adjacency cheap and ownership
// trivial.
package graph

import (
	"fmt"

	"github.com/kiln-build/kiln/internal/kerr"
	"github.com/kiln-build/kiln/internal/pathutil"
)

// FileID is a dense, 0-based index into Graph.files, assigned in the order
// paths are first interned.
type FileID int32

// NoFile is the sentinel FileID meaning "no file"; it is not the zero
// value, since FileID 0 is the first interned file.
const NoFile FileID = -1

// EdgeID is a dense, 0-based index into Graph.edges.
type EdgeID int32

// NoEdge means "no producing edge": the file is a source.
const NoEdge EdgeID = -1

// MTimeState is a File's knowledge about its own modification time.
type MTimeState int

const (
	Unknown MTimeState = iota
	Missing
	Stamped
)

// File is one interned path.
type File struct {
	Path string

	State MTimeState
	// MTimeNS is valid when State == Stamped. Nanosecond Unix time.
	MTimeNS int64

	// InEdge is the unique edge that produces this file, or NoEdge if this
	// file is a source (has no producer).
	InEdge EdgeID

	// Dependents lists every edge that uses this file as an input
	// (explicit, implicit, order-only, or discovered via
	// AttachDiscoveredDeps).
	Dependents []EdgeID
}

// IsSource reports whether the file has no producing edge.
func (f *File) IsSource() bool { return f.InEdge == NoEdge }

type visitMark uint8

const (
	visitNone visitMark = iota
	visitInStack
	visitDone
)

// Edge is one declared command mapping inputs to outputs.
type Edge struct {
	ID EdgeID

	RuleName string
	Pool     string
	PoolDepth int // 0 means the default (unbounded) pool

	// Inputs partitions into explicit, implicit, and order-only, stored
	// as three separate slices rather than one packed vector with counts
	// taken from the tail.
	Inputs          []FileID // explicit: contribute to $in and to staleness
	ImplicitInputs  []FileID // contribute to staleness, not to $in
	OrderOnlyInputs []FileID // ordering only, never trigger rebuilds

	Outputs         []FileID
	ImplicitOutputs []FileID

	// Command is the fully-evaluated command line ($in/$out substituted).
	// Empty means this is a phony edge.
	Command string

	// Description is the rule's human-readable progress line ("CC foo.o"),
	// already evaluated; empty means the renderer falls back to Command.
	Description string

	RspFile        string
	RspFileContent string
	Depfile        string
	// DepsType is "gcc" when the rule declares deps = gcc, else "".
	DepsType string
	Restat   bool
	Generator bool

	// DiscoveredDeps are extra inputs learned from DepsLog or a depfile on
	// a previous (or the current) run; promoted to implicit inputs for
	// staleness purposes only.
	DiscoveredDeps []FileID

	commandHash     uint64
	commandHashDone bool

	mark visitMark
}

// IsPhony reports whether the edge has no command.
func (e *Edge) IsPhony() bool { return e.Command == "" }

// AllInputs returns explicit + implicit + discovered inputs, in that
// order, i.e. every input that participates in staleness. Order-only
// inputs are excluded.
func (e *Edge) AllInputs() []FileID {
	out := make([]FileID, 0, len(e.Inputs)+len(e.ImplicitInputs)+len(e.DiscoveredDeps))
	out = append(out, e.Inputs...)
	out = append(out, e.ImplicitInputs...)
	out = append(out, e.DiscoveredDeps...)
	return out
}

// OrderingInputs returns every input whose producing edge must reach Done
// before this edge can be scheduled: explicit,
// implicit, and order-only, but never DiscoveredDeps (those are learned
// only once this edge itself has already run once).
func (e *Edge) OrderingInputs() []FileID {
	out := make([]FileID, 0, len(e.Inputs)+len(e.ImplicitInputs)+len(e.OrderOnlyInputs))
	out = append(out, e.Inputs...)
	out = append(out, e.ImplicitInputs...)
	out = append(out, e.OrderOnlyInputs...)
	return out
}

// AllOutputs returns explicit + implicit outputs.
func (e *Edge) AllOutputs() []FileID {
	out := make([]FileID, 0, len(e.Outputs)+len(e.ImplicitOutputs))
	out = append(out, e.Outputs...)
	out = append(out, e.ImplicitOutputs...)
	return out
}

// CommandHash returns the edge's command hash, computed on first call and
// cached; it is stable across runs when the command and its key bindings
// are identical.
func (e *Edge) CommandHash() uint64 {
	if !e.commandHashDone {
		e.commandHash = HashCommand(e.Command, e.RspFileContent, e.Depfile, e.DepsType)
		e.commandHashDone = true
	}
	return e.commandHash
}

// Graph is the in-memory DAG of files and edges.
type Graph struct {
	files  []File
	byPath map[string]FileID
	edges  []*Edge

	// edgeDone/edgeDirty record, for each edge already resolved during the
	// current build, whether it ended up Dirty. Phony-edge staleness reads
	// its inputs' producing edges' Dirty bit, which is only known once
	// those edges reach Done -- the scheduler only checks an edge once all
	// its producers have.
	edgeDone  []bool
	edgeDirty []bool
}

// New returns an empty Graph.
func New() *Graph {
	return &Graph{byPath: make(map[string]FileID)}
}

// Intern canonicalizes path and returns its FileID, creating a new source
// File entry on first use.
func (g *Graph) Intern(path string) FileID {
	cp := pathutil.Canonicalize(path, false)
	if id, ok := g.byPath[cp]; ok {
		return id
	}
	id := FileID(len(g.files))
	g.files = append(g.files, File{Path: cp, InEdge: NoEdge})
	g.byPath[cp] = id
	return id
}

// Lookup returns the FileID for an already-interned path.
func (g *Graph) Lookup(path string) (FileID, bool) {
	id, ok := g.byPath[pathutil.Canonicalize(path, false)]
	return id, ok
}

// File returns the File for id. id must be valid.
func (g *Graph) File(id FileID) *File { return &g.files[id] }

// NumFiles returns the number of interned files.
func (g *Graph) NumFiles() int { return len(g.files) }

// Edge returns the Edge for id. id must be valid.
func (g *Graph) Edge(id EdgeID) *Edge { return g.edges[id] }

// NumEdges returns the number of edges.
func (g *Graph) NumEdges() int { return len(g.edges) }

// AddEdge registers a new edge and wires it into the files it touches.
// It returns a *GraphError if any output is already produced by another
// edge: each output belongs to exactly one edge.
func (g *Graph) AddEdge(e *Edge) (EdgeID, error) {
	for _, o := range e.AllOutputs() {
		if prior := g.files[o].InEdge; prior != NoEdge {
			return NoEdge, kerr.NewGraphError(
				"multiple rules generate %s (first seen from edge %d, again from a %s edge)",
				g.files[o].Path, prior, e.RuleName)
		}
	}
	e.ID = EdgeID(len(g.edges))
	g.edges = append(g.edges, e)
	g.edgeDone = append(g.edgeDone, false)
	g.edgeDirty = append(g.edgeDirty, false)

	for _, o := range e.AllOutputs() {
		g.files[o].InEdge = e.ID
	}
	for _, in := range e.Inputs {
		g.addDependent(in, e.ID)
	}
	for _, in := range e.ImplicitInputs {
		g.addDependent(in, e.ID)
	}
	for _, in := range e.OrderOnlyInputs {
		g.addDependent(in, e.ID)
	}
	return e.ID, nil
}

func (g *Graph) addDependent(in FileID, e EdgeID) {
	g.files[in].Dependents = append(g.files[in].Dependents, e)
}

// MarkDone records whether edge e finished Dirty (ran, or was a dirty
// phony) or Clean, so that dependent phony edges can read it back.
func (g *Graph) MarkDone(e EdgeID, dirty bool) {
	g.edgeDone[e] = true
	g.edgeDirty[e] = dirty
}

// WasDirty reports whether edge e, already Done, ended up Dirty.
func (g *Graph) WasDirty(e EdgeID) bool {
	if !g.edgeDone[e] {
		panic(fmt.Sprintf("graph: WasDirty(%d) called before edge reached Done", e))
	}
	return g.edgeDirty[e]
}

// Done reports whether edge e has reached the Done state this build.
func (g *Graph) Done(e EdgeID) bool { return g.edgeDone[e] }

// AttachDiscoveredDeps sets e's DiscoveredDeps to deps (FileIDs the caller
// has already interned) and records e as a dependent of each; used when
// ingesting deps-log or depfile output.
func (g *Graph) AttachDiscoveredDeps(e EdgeID, deps []FileID) {
	edge := g.edges[e]
	edge.DiscoveredDeps = deps
	for _, d := range deps {
		g.addDependent(d, e)
	}
}
