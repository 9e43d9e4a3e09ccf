package graph

// StatSource answers mtime questions for a single build.
// internal/statcache.Cache implements this; kept as an interface here so
// internal/graph never imports internal/statcache and stays a pure
// in-memory DAG with no I/O of its own.
type StatSource interface {
	Stat(path string) (mtimeNS int64, exists bool, err error)
}

// BuildLogSource answers "what do we remember about this output's last
// successful build". internal/buildlog.Log implements it.
type BuildLogSource struct {
	Hash         uint64
	RecordedNS   int64
	Found        bool
}

// BuildLogLookup looks up a single output path.
type BuildLogLookup interface {
	Lookup(outputPath string) (BuildLogSource, bool)
}

// Staleness is the result of the staleness check for one edge.
type Staleness int

const (
	Clean Staleness = iota
	Dirty
)

// Reason is a short, human-readable explanation of why CheckEdge returned
// Dirty, mirroring upstream Ninja's EXPLAIN() trace lines. Empty when Clean.
type Reason string

// CheckEdge decides Clean or Dirty for edge e, returning a Reason for
// explain-style logging. The predicates run in order, first-true wins:
// missing output, no build-log record, command changed, input newer than
// the oldest output, recorded output mtime mismatch. It is run exactly
// once per edge per build, when the edge's producers are all done.
//
// Phony edges skip those predicates entirely: a phony with inputs is
// clean iff all its inputs exist and none was produced by a dirty edge; a
// phony with no inputs is clean iff its outputs exist.
func CheckEdge(g *Graph, e *Edge, stat StatSource, bl BuildLogLookup) (Staleness, Reason, error) {
	if e.IsPhony() {
		return checkPhony(g, e, stat)
	}

	outputs := e.AllOutputs()

	// Predicate 1: missing output.
	var outMTimes = make([]int64, len(outputs))
	oldestOut := int64(-1)
	haveOldest := false
	for i, o := range outputs {
		mtime, exists, err := statFile(g, stat, o)
		if err != nil {
			return Dirty, "", err
		}
		if !exists {
			return Dirty, Reason("output " + g.files[o].Path + " doesn't exist"), nil
		}
		outMTimes[i] = mtime
		if !haveOldest || mtime < oldestOut {
			oldestOut = mtime
			haveOldest = true
		}
	}

	// Predicate 2: no BuildLog record for at least one output.
	entries := make([]BuildLogSource, len(outputs))
	for i, o := range outputs {
		entry, ok := bl.Lookup(g.files[o].Path)
		if !ok {
			return Dirty, Reason("command line not found in log for " + g.files[o].Path), nil
		}
		entries[i] = entry
	}

	// Predicate 3: command changed.
	hash := e.CommandHash()
	for i, entry := range entries {
		if entry.Hash != hash {
			return Dirty, Reason("command line changed for " + g.files[outputs[i]].Path), nil
		}
	}

	// For a restat edge, the recorded mtime may have been deliberately
	// advanced to the newest input's; the effective output mtime for the
	// input-newer comparison is then the recorded one, matching upstream
	// Ninja's use of restat_mtime.
	effectiveOldest := oldestOut
	if e.Restat {
		effectiveOldest = int64(-1)
		have := false
		for i, mt := range outMTimes {
			if rec := entries[i].RecordedNS; rec > mt {
				mt = rec
			}
			if !have || mt < effectiveOldest {
				effectiveOldest = mt
				have = true
			}
		}
	}

	// Predicate 4: any (non-order-only) input newer than the oldest output.
	for _, in := range e.AllInputs() {
		mtime, exists, err := statFile(g, stat, in)
		if err != nil {
			return Dirty, "", err
		}
		if !exists {
			// A missing, non-order-only input with no producer of its own is
			// itself a dirty source; the edge cannot be satisfied until it
			// appears. Treat as "infinitely new" so the edge stays dirty.
			return Dirty, Reason(g.files[in].Path + " is missing"), nil
		}
		if mtime > effectiveOldest {
			return Dirty, Reason(g.files[in].Path + " is newer than " + g.files[outputs[0]].Path), nil
		}
	}

	// Predicate 5: recorded mtime mismatch, covering outputs modified
	// externally or by a restat-capable upstream. A restat edge whose
	// record was advanced past the actual mtime is exempt; that divergence
	// is the restat optimization itself, not an external modification.
	for i, entry := range entries {
		if entry.RecordedNS != outMTimes[i] && !(e.Restat && entry.RecordedNS > outMTimes[i]) {
			return Dirty, Reason("recorded mtime of " + g.files[outputs[i]].Path + " does not match current mtime"), nil
		}
	}

	return Clean, "", nil
}

// NewestInputMTime returns the newest mtime among e's non-order-only
// inputs. When a restat edge's output mtime didn't advance past this
// value, the scheduler records the build-log entry with this mtime
// instead of the output's actual one, so downstream edges see their
// input as "not newer" and can skip.
func NewestInputMTime(g *Graph, e *Edge, stat StatSource) (int64, error) {
	var newest int64 = -1
	for _, in := range e.AllInputs() {
		mtime, exists, err := statFile(g, stat, in)
		if err != nil {
			return 0, err
		}
		if exists && mtime > newest {
			newest = mtime
		}
	}
	return newest, nil
}

func checkPhony(g *Graph, e *Edge, stat StatSource) (Staleness, Reason, error) {
	inputs := e.AllInputs()
	if len(inputs) == 0 {
		for _, o := range e.AllOutputs() {
			_, exists, err := statFile(g, stat, o)
			if err != nil {
				return Dirty, "", err
			}
			if !exists {
				return Dirty, Reason("phony edge with no inputs and missing output " + g.files[o].Path), nil
			}
		}
		return Clean, "", nil
	}
	for _, in := range inputs {
		_, exists, err := statFile(g, stat, in)
		if err != nil {
			return Dirty, "", err
		}
		if !exists {
			return Dirty, Reason(g.files[in].Path + " is missing"), nil
		}
		f := &g.files[in]
		if f.InEdge != NoEdge && g.Done(f.InEdge) && g.WasDirty(f.InEdge) {
			return Dirty, Reason(f.Path + "'s producing edge was dirty"), nil
		}
	}
	return Clean, "", nil
}

func statFile(g *Graph, stat StatSource, id FileID) (int64, bool, error) {
	f := &g.files[id]
	mtime, exists, err := stat.Stat(f.Path)
	if err != nil {
		return 0, false, err
	}
	if exists {
		f.State = Stamped
		f.MTimeNS = mtime
	} else {
		f.State = Missing
	}
	return mtime, exists, nil
}
