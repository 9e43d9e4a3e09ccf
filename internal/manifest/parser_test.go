package manifest

import (
	"fmt"
	"testing"
)

func memReader(files map[string]string) FileReader {
	return func(path string) (string, error) {
		src, ok := files[path]
		if !ok {
			return "", fmt.Errorf("no such file: %s", path)
		}
		return src, nil
	}
}

func TestParseSimpleBuild(t *testing.T) {
	src := "rule cc\n  command = gcc -c $in -o $out\n\nbuild out.o: cc in.c\n"
	res, err := ParseWithReader("build.ninja", memReader(map[string]string{"build.ninja": src}))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if res.Graph.NumEdges() != 1 {
		t.Fatalf("NumEdges = %d, want 1", res.Graph.NumEdges())
	}
	e := res.Graph.Edge(0)
	if e.Command != "gcc -c in.c -o out.o" {
		t.Errorf("Command = %q", e.Command)
	}
	if len(e.Outputs) != 1 || res.Graph.File(e.Outputs[0]).Path != "out.o" {
		t.Errorf("Outputs = %v", e.Outputs)
	}
}

func TestParseImplicitAndOrderOnly(t *testing.T) {
	src := "rule cc\n  command = gcc -c $in -o $out\n\n" +
		"build out.o | out.d: cc in.c | header.h || dir_stamp\n"
	res, err := ParseWithReader("build.ninja", memReader(map[string]string{"build.ninja": src}))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	e := res.Graph.Edge(0)
	if len(e.ImplicitOutputs) != 1 || res.Graph.File(e.ImplicitOutputs[0]).Path != "out.d" {
		t.Errorf("ImplicitOutputs = %v", e.ImplicitOutputs)
	}
	if len(e.ImplicitInputs) != 1 || res.Graph.File(e.ImplicitInputs[0]).Path != "header.h" {
		t.Errorf("ImplicitInputs = %v", e.ImplicitInputs)
	}
	if len(e.OrderOnlyInputs) != 1 || res.Graph.File(e.OrderOnlyInputs[0]).Path != "dir_stamp" {
		t.Errorf("OrderOnlyInputs = %v", e.OrderOnlyInputs)
	}
}

func TestParsePhonyEdge(t *testing.T) {
	src := "rule phony\n  command =\n\nbuild all: phony out.o\n"
	res, err := ParseWithReader("build.ninja", memReader(map[string]string{"build.ninja": src}))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !res.Graph.Edge(0).IsPhony() {
		t.Errorf("expected phony edge")
	}
}

func TestParseVariableExpansionAndScoping(t *testing.T) {
	src := "cflags = -Wall\nrule cc\n  command = gcc $cflags -c $in -o $out\n\n" +
		"build out.o: cc in.c\n  cflags = -Wall -O2\n"
	res, err := ParseWithReader("build.ninja", memReader(map[string]string{"build.ninja": src}))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	e := res.Graph.Edge(0)
	if e.Command != "gcc -Wall -O2 -c in.c -o out.o" {
		t.Errorf("Command = %q, want override cflags applied", e.Command)
	}
}

func TestParsePoolDepth(t *testing.T) {
	src := "pool link_pool\n  depth = 4\n\nrule link\n  command = ld -o $out $in\n  pool = link_pool\n\n" +
		"build a.out: link a.o\n"
	res, err := ParseWithReader("build.ninja", memReader(map[string]string{"build.ninja": src}))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	e := res.Graph.Edge(0)
	if e.Pool != "link_pool" || e.PoolDepth != 4 {
		t.Errorf("Pool = %q depth %d, want link_pool depth 4", e.Pool, e.PoolDepth)
	}
}

func TestParseConsolePoolImplicit(t *testing.T) {
	src := "rule run\n  command = $in\n  pool = console\n\nbuild x: run t\n"
	res, err := ParseWithReader("build.ninja", memReader(map[string]string{"build.ninja": src}))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	e := res.Graph.Edge(0)
	if e.Pool != "console" || e.PoolDepth != 1 {
		t.Errorf("Pool = %q depth %d, want console depth 1", e.Pool, e.PoolDepth)
	}
}

func TestParseUnknownPoolIsError(t *testing.T) {
	src := "rule run\n  command = $in\n  pool = nope\n\nbuild x: run t\n"
	_, err := ParseWithReader("build.ninja", memReader(map[string]string{"build.ninja": src}))
	if err == nil {
		t.Fatal("expected error for unknown pool")
	}
}

func TestParseSubninjaChildScopeDoesNotLeak(t *testing.T) {
	files := map[string]string{
		"build.ninja": "subninja child.ninja\nrule top\n  command = echo $greeting\nbuild out: top\n",
		"child.ninja": "greeting = hello\nrule cc\n  command = gcc $in\nbuild x.o: cc x.c\n",
	}
	res, err := ParseWithReader("build.ninja", memReader(files))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	e := res.Graph.Edge(1) // "out", parsed after the subninja's edge
	if e.Command != "echo " {
		t.Errorf("Command = %q, want subninja binding not visible in parent", e.Command)
	}
}

func TestParseIncludeSharesScope(t *testing.T) {
	files := map[string]string{
		"build.ninja": "include vars.ninja\nrule cc\n  command = gcc $cflags $in\nbuild x.o: cc x.c\n",
		"vars.ninja":  "cflags = -Wall\n",
	}
	res, err := ParseWithReader("build.ninja", memReader(files))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got := res.Graph.Edge(0).Command; got != "gcc -Wall x.c" {
		t.Errorf("Command = %q, want included binding visible", got)
	}
}

func TestParseDefaultTargets(t *testing.T) {
	src := "rule cc\n  command = gcc $in\nbuild a.o: cc a.c\nbuild b.o: cc b.c\ndefault a.o b.o\n"
	res, err := ParseWithReader("build.ninja", memReader(map[string]string{"build.ninja": src}))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(res.Default) != 2 {
		t.Fatalf("Default = %v, want 2 targets", res.Default)
	}
}

func TestParseMultipleOutputsSameRuleIsGraphError(t *testing.T) {
	src := "rule cc\n  command = gcc $in\nbuild a.o: cc a.c\nbuild a.o: cc a.c\n"
	_, err := ParseWithReader("build.ninja", memReader(map[string]string{"build.ninja": src}))
	if err == nil {
		t.Fatal("expected GraphError for multiply-defined output")
	}
}

func TestParseMissingCommandBindingIsError(t *testing.T) {
	src := "rule cc\n  description = compiling\n"
	_, err := ParseWithReader("build.ninja", memReader(map[string]string{"build.ninja": src}))
	if err == nil {
		t.Fatal("expected error for rule missing command")
	}
}
