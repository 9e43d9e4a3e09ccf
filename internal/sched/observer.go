package sched

import "github.com/kiln-build/kiln/internal/graph"

// MultiObserver fans each event out to every member in order, so the
// terminal renderer and the trace writer can both watch one build.
type MultiObserver []Observer

func (m MultiObserver) OnEdgeWanted(e *graph.Edge) {
	for _, o := range m {
		o.OnEdgeWanted(e)
	}
}

func (m MultiObserver) OnEdgeStarted(e *graph.Edge) {
	for _, o := range m {
		o.OnEdgeStarted(e)
	}
}

func (m MultiObserver) OnEdgeFinished(e *graph.Edge, success bool, output string) {
	for _, o := range m {
		o.OnEdgeFinished(e, success, output)
	}
}

func (m MultiObserver) OnBuildDone(s Summary) {
	for _, o := range m {
		o.OnBuildDone(s)
	}
}
