// Package status renders build progress to the terminal: a
// "[finished/total] description" counter line, overprinted in place on
// smart terminals, and on failure the exact command line with its
// captured stdout+stderr printed contiguously, never interleaved with
// other edges' output.
//
// Terminal detection uses github.com/mattn/go-isatty; the line width for
// eliding comes from golang.org/x/term.
package status

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"golang.org/x/term"

	"github.com/kiln-build/kiln/internal/graph"
	"github.com/kiln-build/kiln/internal/sched"
)

// Printer implements sched.Observer by printing progress to out.
type Printer struct {
	out   io.Writer
	g     *graph.Graph
	smart bool
	width int

	// Verbose prints full command lines instead of descriptions and
	// disables overprinting.
	Verbose bool

	total     int
	finished  int
	haveBlank bool
}

// NewPrinter returns a Printer writing to stdout. Smart-terminal behavior
// (overprinting, eliding) is enabled only when stdout is a tty and TERM is
// not "dumb".
func NewPrinter(g *graph.Graph) *Printer {
	p := &Printer{out: os.Stdout, g: g, haveBlank: true, width: 80}
	termEnv := os.Getenv("TERM")
	p.smart = isatty.IsTerminal(os.Stdout.Fd()) && termEnv != "dumb"
	return p
}

// NewPrinterWriter returns a dumb-terminal Printer writing to w, for tests.
func NewPrinterWriter(g *graph.Graph, w io.Writer) *Printer {
	return &Printer{out: w, g: g, haveBlank: true, width: 80}
}

// OnEdgeWanted implements sched.Observer.
func (p *Printer) OnEdgeWanted(e *graph.Edge) {
	if !e.IsPhony() {
		p.total++
	}
}

// OnEdgeStarted implements sched.Observer.
func (p *Printer) OnEdgeStarted(e *graph.Edge) {
	p.printStatus(e)
}

// OnEdgeFinished implements sched.Observer.
func (p *Printer) OnEdgeFinished(e *graph.Edge, success bool, output string) {
	p.finished++
	if !success {
		// The exact command line first, then the captured output as one
		// contiguous block.
		p.printLine("FAILED: "+p.outputsOf(e), false)
		p.printLine(e.Command, false)
		if output != "" {
			p.printLine(strings.TrimRight(output, "\n"), false)
		}
		return
	}
	if output != "" {
		// A successful command that still wrote something (warnings) gets
		// its output preserved under its status line.
		p.printStatus(e)
		p.printLine(strings.TrimRight(output, "\n"), false)
	}
}

// OnBuildDone implements sched.Observer.
func (p *Printer) OnBuildDone(s sched.Summary) {
	p.clearLine()
	if s.Failed > 0 {
		fmt.Fprintf(p.out, "%d built, %d failed\n", s.Built, s.Failed)
		return
	}
	if s.Built == 0 {
		fmt.Fprintf(p.out, "no work to do.\n")
		return
	}
	fmt.Fprintf(p.out, "%d built.\n", s.Built)
}

func (p *Printer) description(e *graph.Edge) string {
	if p.Verbose || e.Description == "" {
		return e.Command
	}
	return e.Description
}

func (p *Printer) outputsOf(e *graph.Edge) string {
	parts := make([]string, len(e.Outputs))
	for i, o := range e.Outputs {
		parts[i] = p.g.File(o).Path
	}
	return strings.Join(parts, " ")
}

func (p *Printer) printStatus(e *graph.Edge) {
	line := fmt.Sprintf("[%d/%d] %s", p.finished, p.total, p.description(e))
	p.printLine(line, p.smart && !p.Verbose)
}

// printLine prints one line; when elide is set the line overwrites the
// previous status line and is truncated to the terminal width.
func (p *Printer) printLine(line string, elide bool) {
	if elide {
		if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 {
			p.width = w
		}
		if len(line) > p.width {
			const ellipsis = "..."
			if p.width > len(ellipsis) {
				line = line[:p.width-len(ellipsis)] + ellipsis
			} else {
				line = line[:p.width]
			}
		}
		fmt.Fprintf(p.out, "\r\x1b[K%s", line)
		p.haveBlank = false
		return
	}
	p.clearLine()
	fmt.Fprintln(p.out, line)
}

func (p *Printer) clearLine() {
	if !p.haveBlank {
		fmt.Fprint(p.out, "\n")
		p.haveBlank = true
	}
}
