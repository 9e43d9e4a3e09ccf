// Package trace writes a Chrome trace-event JSON file ("-d trace") of
// edge start/stop times, loadable in chrome://tracing or Perfetto. It is
// the second implementation of the scheduler's Observer, alongside the
// terminal renderer.
//
// Every trace is stamped with a github.com/google/uuid v4 so traces from
// concurrent CI runs can be told apart after collection.
package trace

import (
	"encoding/json"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/kiln-build/kiln/internal/graph"
	"github.com/kiln-build/kiln/internal/kerr"
	"github.com/kiln-build/kiln/internal/sched"
)

// event is one Chrome trace "complete" event (ph "X").
type event struct {
	Name  string            `json:"name"`
	Cat   string            `json:"cat"`
	Phase string            `json:"ph"`
	TS    int64             `json:"ts"`  // microseconds
	Dur   int64             `json:"dur"` // microseconds
	PID   int               `json:"pid"`
	TID   int               `json:"tid"`
	Args  map[string]string `json:"args,omitempty"`
}

// Writer implements sched.Observer, buffering events in memory and
// writing the JSON file when the build finishes. All observer callbacks
// arrive on the coordinator goroutine, so Writer needs no locking.
type Writer struct {
	path    string
	g       *graph.Graph
	buildID string
	epoch   time.Time

	started map[graph.EdgeID]time.Time
	// lanes assigns each in-flight edge a small "thread id" so concurrent
	// edges render as parallel tracks instead of overlapping on one row.
	lanes    map[graph.EdgeID]int
	freeLane []int
	nextLane int

	events []event
	err    error
}

// NewWriter returns a Writer that will save to path on OnBuildDone.
func NewWriter(path string, g *graph.Graph) *Writer {
	return &Writer{
		path:    path,
		g:       g,
		buildID: uuid.NewString(),
		epoch:   time.Now(),
		started: make(map[graph.EdgeID]time.Time),
		lanes:   make(map[graph.EdgeID]int),
	}
}

// BuildID returns the invocation's uuid, also embedded in the trace.
func (w *Writer) BuildID() string { return w.buildID }

// OnEdgeWanted implements sched.Observer.
func (w *Writer) OnEdgeWanted(*graph.Edge) {}

// OnEdgeStarted implements sched.Observer.
func (w *Writer) OnEdgeStarted(e *graph.Edge) {
	w.started[e.ID] = time.Now()
	var lane int
	if n := len(w.freeLane); n > 0 {
		lane = w.freeLane[n-1]
		w.freeLane = w.freeLane[:n-1]
	} else {
		lane = w.nextLane
		w.nextLane++
	}
	w.lanes[e.ID] = lane
}

// OnEdgeFinished implements sched.Observer.
func (w *Writer) OnEdgeFinished(e *graph.Edge, success bool, _ string) {
	start, ok := w.started[e.ID]
	if !ok {
		return
	}
	delete(w.started, e.ID)
	lane := w.lanes[e.ID]
	delete(w.lanes, e.ID)
	w.freeLane = append(w.freeLane, lane)

	name := e.Description
	if name == "" {
		name = e.Command
	}
	args := map[string]string{"command": e.Command, "rule": e.RuleName}
	if !success {
		args["failed"] = "1"
	}
	w.events = append(w.events, event{
		Name:  name,
		Cat:   e.RuleName,
		Phase: "X",
		TS:    start.Sub(w.epoch).Microseconds(),
		Dur:   time.Since(start).Microseconds(),
		PID:   os.Getpid(),
		TID:   lane,
		Args:  args,
	})
}

// OnBuildDone implements sched.Observer: writes the trace file.
func (w *Writer) OnBuildDone(sched.Summary) {
	type traceFile struct {
		TraceEvents []event           `json:"traceEvents"`
		Metadata    map[string]string `json:"metadata"`
	}
	data, err := json.Marshal(traceFile{
		TraceEvents: w.events,
		Metadata:    map[string]string{"build-id": w.buildID},
	})
	if err != nil {
		w.err = err
		return
	}
	if err := os.WriteFile(w.path, data, 0o644); err != nil {
		w.err = &kerr.IOFailure{Path: w.path, Err: err}
	}
}

// Err returns the first write error, if any; checked by the CLI after the
// build so a failed trace write is reported without aborting the build.
func (w *Writer) Err() error { return w.err }
