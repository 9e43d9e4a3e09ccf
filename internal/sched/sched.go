// Package sched drives a build from a want-set to completion: a single
// coordinator goroutine that owns all mutable build state, starts edges
// as soon as they become ready rather than gathering all dirty edges up
// front, and hands commands to executor goroutines over a completion
// channel. Overall parallelism is a golang.org/x/sync/semaphore weight;
// pools add per-pool in-flight caps on top.
package sched

import (
	"context"
	"os"
	"sort"

	"github.com/golang/glog"
	"golang.org/x/sync/semaphore"

	"github.com/kiln-build/kiln/internal/buildlog"
	"github.com/kiln-build/kiln/internal/depfile"
	"github.com/kiln-build/kiln/internal/depslog"
	"github.com/kiln-build/kiln/internal/graph"
	"github.com/kiln-build/kiln/internal/kerr"
	"github.com/kiln-build/kiln/internal/statcache"
	"github.com/kiln-build/kiln/internal/spawn"
)

// Observer receives build progress events. It is injected into the
// Scheduler so the terminal renderer (internal/status) and the Chrome
// trace writer (internal/trace) are independent implementations with no
// knowledge of each other.
type Observer interface {
	OnEdgeWanted(e *graph.Edge)
	OnEdgeStarted(e *graph.Edge)
	OnEdgeFinished(e *graph.Edge, success bool, output string)
	OnBuildDone(s Summary)
}

// NopObserver implements Observer with no-ops.
type NopObserver struct{}

func (NopObserver) OnEdgeWanted(*graph.Edge)                       {}
func (NopObserver) OnEdgeStarted(*graph.Edge)                      {}
func (NopObserver) OnEdgeFinished(*graph.Edge, bool, string)       {}
func (NopObserver) OnBuildDone(Summary)                            {}

// Summary is the final tally reported at the end of a build.
type Summary struct {
	Built        int
	CleanSkipped int
	Failed       int
}

// Config holds the knobs the CLI exposes.
type Config struct {
	// Parallelism bounds the number of edges running at once ("-j N").
	Parallelism int
	// KeepGoing is the number of failures tolerated before the coordinator
	// stops dispatching new work ("-k N"). <= 0 means 1 (stop at the
	// first failure).
	KeepGoing int
}

// Scheduler is the coordinator: it owns the Graph, the stat cache, and
// the in-memory indices of both logs for the duration of one Build call,
// and hands commands to a spawn.Runner.
type Scheduler struct {
	g        *graph.Graph
	stat     *statcache.Cache
	buildLog *buildlog.Log
	depsLog  *depslog.Log
	runner   spawn.Runner
	obs      Observer
	cfg      Config
}

// New returns a ready-to-use Scheduler.
func New(g *graph.Graph, stat *statcache.Cache, bl *buildlog.Log, dl *depslog.Log, runner spawn.Runner, obs Observer, cfg Config) *Scheduler {
	if obs == nil {
		obs = NopObserver{}
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 1
	}
	if cfg.KeepGoing <= 0 {
		cfg.KeepGoing = 1
	}
	return &Scheduler{g: g, stat: stat, buildLog: bl, depsLog: dl, runner: runner, obs: obs, cfg: cfg}
}

// edgeState tracks one wanted edge's position in the
// Want/Ready/Running/Done state machine for the duration of a single
// Build call.
type edgeState struct {
	unmet    int // count of not-yet-Done producer edges among this edge's inputs
	inReady  bool
}

// build holds the per-call mutable state; Scheduler itself is reusable
// across builds.
type build struct {
	s *Scheduler

	wanted map[graph.EdgeID]bool
	states map[graph.EdgeID]*edgeState
	// notify[p] lists the wanted edges that have p as a (direct) producer,
	// so p's completion can decrement each exactly once.
	notify map[graph.EdgeID][]graph.EdgeID

	ready []graph.EdgeID

	sem          *semaphore.Weighted
	poolInFlight map[string]int

	running int
	failed  int
	summary Summary

	stopDispatch bool

	completions chan completion
}

type completion struct {
	edgeID  graph.EdgeID
	res     spawn.Result
	startMS int64
	endMS   int64
}

// Build runs every edge in targets' transitive want-set to completion,
// returning the final summary. A non-nil error is only ever a
// *kerr.GraphError (a dependency cycle) discovered during want-set
// expansion; a command failure never becomes a Go error -- it is
// reflected in Summary.Failed and, once the -k budget is exhausted, in
// no further edges being dispatched.
func (s *Scheduler) Build(ctx context.Context, targets []graph.FileID) (Summary, error) {
	wanted, err := s.g.WantSet(targets)
	if err != nil {
		return Summary{}, err
	}

	b := &build{
		s:            s,
		wanted:       wanted,
		states:       make(map[graph.EdgeID]*edgeState, len(wanted)),
		notify:       make(map[graph.EdgeID][]graph.EdgeID),
		sem:          semaphore.NewWeighted(int64(s.cfg.Parallelism)),
		poolInFlight: make(map[string]int),
		completions:  make(chan completion, 1),
	}

	if err := b.attachDiscoveredDeps(); err != nil {
		return Summary{}, err
	}
	b.initStates()

	for id := range wanted {
		s.obs.OnEdgeWanted(s.g.Edge(id))
	}

	b.run(ctx)

	if err := s.buildLog.MaybeCompact(); err != nil {
		glog.Warningf("build log compaction: %v", err)
	}
	if err := s.depsLog.MaybeCompact(); err != nil {
		glog.Warningf("deps log compaction: %v", err)
	}

	s.obs.OnBuildDone(b.summary)
	return b.summary, nil
}

// attachDiscoveredDeps promotes each wanted edge's last-recorded deps-log
// entry (if it declares depfile or deps=gcc) to its DiscoveredDeps, so
// the very first staleness check already sees them.
func (b *build) attachDiscoveredDeps() error {
	g := b.s.g
	// Sort for deterministic FileID interning order across runs with the
	// same manifest and deps log (helps reproducible test output).
	ids := make([]graph.EdgeID, 0, len(b.wanted))
	for id := range b.wanted {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		e := g.Edge(id)
		if e.Depfile == "" && e.DepsType != "gcc" {
			continue
		}
		if len(e.Outputs) == 0 {
			continue
		}
		primary := g.File(e.Outputs[0]).Path
		_, inputs, ok := b.s.depsLog.Lookup(primary)
		if !ok {
			continue
		}
		fileIDs := make([]graph.FileID, len(inputs))
		for i, p := range inputs {
			fileIDs[i] = g.Intern(p)
		}
		g.AttachDiscoveredDeps(id, fileIDs)
	}
	return nil
}

// initStates computes each wanted edge's unmet-producer count and seeds
// the ready queue with edges whose inputs are all sources or already
// satisfied.
func (b *build) initStates() {
	g := b.s.g
	for id := range b.wanted {
		b.states[id] = &edgeState{}
	}
	for id := range b.wanted {
		e := g.Edge(id)
		seen := make(map[graph.EdgeID]bool)
		for _, in := range e.OrderingInputs() {
			f := g.File(in)
			if f.InEdge == graph.NoEdge || !b.wanted[f.InEdge] || seen[f.InEdge] {
				continue
			}
			seen[f.InEdge] = true
			b.states[id].unmet++
			b.notify[f.InEdge] = append(b.notify[f.InEdge], id)
		}
	}
	for id := range b.wanted {
		if b.states[id].unmet == 0 {
			b.pushReady(id)
		}
	}
}

func (b *build) pushReady(id graph.EdgeID) {
	if b.states[id].inReady {
		return
	}
	b.states[id].inReady = true
	b.ready = append(b.ready, id)
}

// run is the driver loop: drain ready edges, block on a completion,
// repeat until nothing is ready or running.
func (b *build) run(ctx context.Context) {
	for len(b.ready) > 0 || b.running > 0 {
		if ctx.Err() != nil {
			b.stopDispatch = true
		}
		if !b.stopDispatch {
			b.drainReady(ctx)
		}
		if b.running == 0 {
			break
		}
		c := <-b.completions
		b.running--
		b.handleCompletion(c)
	}
}

// drainReady pops ready edges (sibling order is unspecified) and either
// resolves them Clean immediately or dispatches them, until the queue is
// empty, every overall -j slot is taken, or no remaining edge's pool has
// spare depth.
func (b *build) drainReady(ctx context.Context) {
	for b.running < b.s.cfg.Parallelism {
		idx := b.nextDispatchable()
		if idx < 0 {
			return
		}
		id := b.ready[idx]
		b.ready = append(b.ready[:idx], b.ready[idx+1:]...)
		b.states[id].inReady = false
		b.considerEdge(ctx, id)
	}
}

// nextDispatchable finds the first ready edge whose pool has spare
// capacity, without yet reserving the overall -j slot (that only matters
// for edges that turn out Dirty).
func (b *build) nextDispatchable() int {
	for i, id := range b.ready {
		e := b.s.g.Edge(id)
		if e.Pool != "" && b.poolInFlight[e.Pool] >= e.PoolDepth {
			continue
		}
		return i
	}
	return -1
}

func (b *build) considerEdge(ctx context.Context, id graph.EdgeID) {
	g := b.s.g
	e := g.Edge(id)

	staleness, reason, err := graph.CheckEdge(g, e, b.s.stat, b.s.buildLog)
	if err != nil {
		glog.Warningf("stat failure checking %v: %v", e.Outputs, err)
		b.markFailed(e)
		return
	}
	if staleness == graph.Clean {
		glog.V(2).Infof("clean: %s", e.RuleName)
		g.MarkDone(id, false)
		b.summary.CleanSkipped++
		b.notifyDependents(id)
		return
	}
	glog.V(1).Infof("dirty (%s): %s", reason, e.RuleName)

	if e.IsPhony() {
		// A dirty phony has no command to run; it is Done as soon as its
		// dirtiness is known.
		g.MarkDone(id, true)
		b.notifyDependents(id)
		return
	}

	if !b.sem.TryAcquire(1) {
		// No overall -j slot free right now; put back and try another ready
		// edge (or wait for a completion) next round.
		b.states[id].inReady = true
		b.ready = append(b.ready, id)
		return
	}
	if e.RspFile != "" {
		if werr := os.WriteFile(e.RspFile, []byte(e.RspFileContent), 0o644); werr != nil {
			b.sem.Release(1)
			glog.Warningf("writing rspfile %s: %v", e.RspFile, werr)
			b.markFailed(e)
			return
		}
	}
	if e.Pool != "" {
		b.poolInFlight[e.Pool]++
	}
	b.running++
	b.s.obs.OnEdgeStarted(e)

	// Deliberately not ctx: a canceled build stops dispatching new edges
	// but lets in-flight commands finish so their results still land in
	// the logs.
	useConsole := e.Pool == "console"
	ch := b.s.runner.Start(context.Background(), e.Command, useConsole)
	startMS := nowMillis()
	go func(id graph.EdgeID) {
		res := <-ch
		b.completions <- completion{edgeID: id, res: res, startMS: startMS, endMS: nowMillis()}
	}(id)
}

func (b *build) handleCompletion(c completion) {
	g := b.s.g
	e := g.Edge(c.edgeID)
	if e.Pool != "" {
		b.poolInFlight[e.Pool]--
	}
	b.sem.Release(1)

	if !c.res.Success() {
		b.markFailed(e)
		b.s.obs.OnEdgeFinished(e, false, c.res.Output)
		return
	}

	if err := b.applySuccess(e, c); err != nil {
		// Outputs that cannot be stat'd or recorded fail the edge; a log
		// write failure also stops further dispatch.
		glog.Warningf("recording success for %v: %v", e.Outputs, err)
		b.markFailed(e)
		if _, ok := err.(*kerr.IOFailure); ok {
			b.stopDispatch = true
		}
		b.s.obs.OnEdgeFinished(e, false, c.res.Output)
		return
	}
	g.MarkDone(c.edgeID, true)
	b.summary.Built++
	b.s.obs.OnEdgeFinished(e, true, c.res.Output)
	b.notifyDependents(c.edgeID)
}

func (b *build) markFailed(e *graph.Edge) {
	b.failed++
	b.summary.Failed++
	if b.failed >= b.s.cfg.KeepGoing {
		b.stopDispatch = true
	}
	// A failed edge's dependents are deliberately never notified: they
	// stay unscheduled, since a failed edge records no outputs and nothing
	// downstream could be satisfied by it.
}

func (b *build) notifyDependents(id graph.EdgeID) {
	for _, dep := range b.notify[id] {
		st := b.states[dep]
		st.unmet--
		if st.unmet == 0 {
			b.pushReady(dep)
		}
	}
}

// applySuccess performs the completion effects for a successfully
// executed (non-phony) edge: restat outputs, ingest any depfile, compute
// the restat-rule build-log mtime, and append the record.
func (b *build) applySuccess(e *graph.Edge, c completion) error {
	g := b.s.g
	outputs := e.AllOutputs()
	outMTimes := make([]int64, len(outputs))
	for i, o := range outputs {
		mtime, _, err := b.s.stat.Restat(g.File(o).Path)
		if err != nil {
			return &kerr.StatError{Path: g.File(o).Path, Err: err}
		}
		g.File(o).State = graph.Stamped
		g.File(o).MTimeNS = mtime
		outMTimes[i] = mtime
	}

	if e.RspFile != "" {
		os.Remove(e.RspFile)
	}

	if e.Depfile != "" {
		if err := b.ingestDepfile(e, outputs, outMTimes); err != nil {
			// A depfile read/parse failure does not fail the edge (the
			// command already exited zero); it just means no discovered
			// deps are recorded this time, matching upstream's tolerance
			// for a missing depfile on rules that only sometimes emit one.
			glog.Warningf("depfile %s: %v", e.Depfile, err)
		}
	}

	recordMTimes := outMTimes
	if e.Restat {
		newest, err := graph.NewestInputMTime(g, e, b.s.stat)
		if err != nil {
			return err
		}
		recordMTimes = make([]int64, len(outputs))
		for i, mt := range outMTimes {
			if mt <= newest {
				recordMTimes[i] = newest
			} else {
				recordMTimes[i] = mt
			}
		}
	}

	hash := e.CommandHash()
	entries := make([]buildlog.Entry, len(outputs))
	for i, o := range outputs {
		entries[i] = buildlog.Entry{
			Output:      g.File(o).Path,
			CommandHash: hash,
			StartMS:     c.startMS,
			EndMS:       c.endMS,
			MTimeNS:     recordMTimes[i],
		}
	}
	return b.s.buildLog.Record(entries)
}

// ingestDepfile reads e.Depfile after a successful run, converts its
// prerequisite list into FileIDs, attaches them to e as DiscoveredDeps
// for the remainder of this process, records them in the deps log, and
// deletes the depfile.
func (b *build) ingestDepfile(e *graph.Edge, outputs []graph.FileID, outMTimes []int64) error {
	g := b.s.g
	content, err := os.ReadFile(e.Depfile)
	if err != nil {
		return err
	}
	var p depfile.Parser
	if err := p.Parse(content); err != nil {
		return err
	}
	fileIDs := make([]graph.FileID, len(p.Ins))
	for i, path := range p.Ins {
		fileIDs[i] = g.Intern(path)
	}
	g.AttachDiscoveredDeps(e.ID, fileIDs)

	primary := g.File(outputs[0]).Path
	if err := b.s.depsLog.Record(primary, outMTimes[0], p.Ins); err != nil {
		return err
	}
	return os.Remove(e.Depfile)
}

func nowMillis() int64 {
	return clock().UnixMilli()
}
