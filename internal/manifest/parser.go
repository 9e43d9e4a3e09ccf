// Parser reads Ninja-syntax manifests: top-level variable assignments,
// "rule", "build", "pool", "default", "include", and "subninja"
// statements, and feeds the resulting edges into a *graph.Graph.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/kiln-build/kiln/internal/graph"
	"github.com/kiln-build/kiln/internal/kerr"
)

// FileReader abstracts manifest file I/O so tests can parse in-memory
// manifests without touching the filesystem.
type FileReader func(path string) (string, error)

func osFileReader(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Result is everything a successful Parse produces, beyond the edges
// already added to Graph.
type Result struct {
	Graph   *graph.Graph
	Default []graph.FileID // explicit `default` targets, in declaration order
}

// Parse reads topPath and every file it includes/subninjas, populating a
// fresh *graph.Graph.
func Parse(topPath string) (*Result, error) {
	return ParseWithReader(topPath, osFileReader)
}

// ParseWithReader is Parse with an injectable FileReader, for tests.
func ParseWithReader(topPath string, read FileReader) (*Result, error) {
	g := graph.New()
	p := &parser{read: read, g: g}
	scope := NewScope(nil)
	if err := p.parseFile(topPath, scope); err != nil {
		return nil, err
	}
	return &Result{Graph: g, Default: p.defaults}, nil
}

type parser struct {
	read     FileReader
	g        *graph.Graph
	defaults []graph.FileID
}

func (p *parser) parseFile(path string, scope *Scope) error {
	src, err := p.read(path)
	if err != nil {
		return &kerr.ParseError{Path: path, Msg: err.Error()}
	}
	lines := splitLogicalLines(src)
	i := 0
	for i < len(lines) {
		ln := lines[i]
		if ln.indent != 0 {
			return perr(path, ln, "unexpected indentation")
		}
		words := splitWords(ln.text, scope)
		if len(words) == 0 {
			i++
			continue
		}
		switch words[0] {
		case "rule":
			i, err = p.parseRule(path, lines, i, scope)
		case "pool":
			i, err = p.parsePool(path, lines, i, scope)
		case "build":
			i, err = p.parseBuild(path, lines, i, scope)
		case "default":
			i, err = p.parseDefault(path, lines, i, scope, words)
		case "include":
			if len(words) != 2 {
				return perr(path, ln, "expected exactly one path after include")
			}
			err = p.parseFile(resolvePath(path, unescapeWord(words[1])), scope)
			i++
		case "subninja":
			if len(words) != 2 {
				return perr(path, ln, "expected exactly one path after subninja")
			}
			child := NewScope(scope)
			err = p.parseFile(resolvePath(path, unescapeWord(words[1])), child)
			i++
		default:
			i, err = p.parseAssignment(path, lines, i, scope, words)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func resolvePath(from, ref string) string {
	if filepath.IsAbs(ref) {
		return ref
	}
	return filepath.Join(filepath.Dir(from), ref)
}

// parseAssignment handles a top-level "name = value" statement.
func (p *parser) parseAssignment(path string, lines []logicalLine, i int, scope *Scope, words []string) (int, error) {
	name, raw, ok := splitAssignment(lines[i].text)
	if !ok {
		return 0, perr(path, lines[i], fmt.Sprintf("expected '=' in assignment, got %q", lines[i].text))
	}
	scope.Set(name, raw)
	return i + 1, nil
}

// splitAssignment splits "name = value" into name and the raw (unexpanded)
// value text, trimming exactly one space on each side of '='.
func splitAssignment(text string) (name, raw string, ok bool) {
	eq := indexUnescaped(text, '=')
	if eq < 0 {
		return "", "", false
	}
	name = trimSpace(text[:eq])
	raw = text[eq+1:]
	if len(raw) > 0 && raw[0] == ' ' {
		raw = raw[1:]
	}
	return name, raw, true
}

func indexUnescaped(s string, c byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == '$' {
			i++
			continue
		}
		if s[i] == c {
			return i
		}
	}
	return -1
}

func trimSpace(s string) string {
	i, j := 0, len(s)
	for i < j && (s[i] == ' ' || s[i] == '\t') {
		i++
	}
	for j > i && (s[j-1] == ' ' || s[j-1] == '\t') {
		j--
	}
	return s[i:j]
}

// readBindings consumes every subsequent indented logical line as a raw
// "name = value" binding, stopping at the first line with indent == 0 (or
// EOF). It does not expand values; callers do: rule bindings are stored
// raw and expanded per edge, build bindings are expanded at once into the
// edge's scope, and a pool's depth is expanded against the file scope.
func readBindings(lines []logicalLine, i int) (map[string]string, int) {
	bindings := make(map[string]string)
	for i < len(lines) && lines[i].indent > 0 {
		name, raw, ok := splitAssignment(lines[i].text)
		if !ok {
			break
		}
		bindings[name] = raw
		i++
	}
	return bindings, i
}

func (p *parser) parseRule(path string, lines []logicalLine, i int, scope *Scope) (int, error) {
	words := splitWords(lines[i].text, scope)
	if len(words) != 2 {
		return 0, perr(path, lines[i], "expected rule name")
	}
	name := words[1]
	bindings, next := readBindings(lines, i+1)
	if _, ok := bindings["command"]; !ok {
		return 0, perr(path, lines[i], fmt.Sprintf("rule %q is missing a command binding", name))
	}
	scope.AddRule(&Rule{Name: name, Bindings: bindings})
	return next, nil
}

func (p *parser) parsePool(path string, lines []logicalLine, i int, scope *Scope) (int, error) {
	words := splitWords(lines[i].text, scope)
	if len(words) != 2 {
		return 0, perr(path, lines[i], "expected pool name")
	}
	name := words[1]
	raw, next := readBindings(lines, i+1)
	depthRaw, ok := raw["depth"]
	if !ok {
		return 0, perr(path, lines[i], fmt.Sprintf("pool %q is missing a depth binding", name))
	}
	depth := 0
	if _, err := fmt.Sscanf(Expand(depthRaw, scope), "%d", &depth); err != nil || depth <= 0 {
		return 0, perr(path, lines[i], fmt.Sprintf("pool %q has invalid depth", name))
	}
	scope.AddPool(&Pool{Name: name, Depth: depth})
	return next, nil
}

func (p *parser) parseDefault(path string, lines []logicalLine, i int, scope *Scope, words []string) (int, error) {
	if len(words) < 2 {
		return 0, perr(path, lines[i], "expected at least one target after default")
	}
	for _, w := range words[1:] {
		p.defaults = append(p.defaults, p.g.Intern(unescapeWord(w)))
	}
	return i + 1, nil
}

func perr(path string, ln logicalLine, msg string) error {
	return &kerr.ParseError{Path: path, Line: ln.line, Msg: msg}
}

// parseBuild handles:
//
//	build out1 out2 | impout1 : rulename in1 in2 | impin1 | impin2 || oo1 oo2
//
// followed by indented bindings. The ':' may be glued to
// the preceding output ("out1:") or stand alone as its own word; both forms
// come out of splitWords since it never special-cases ':'.
func (p *parser) parseBuild(path string, lines []logicalLine, i int, scope *Scope) (int, error) {
	ln := lines[i]
	words := splitWords(ln.text, scope)

	var outs, implicitOuts, ruleAndIns []string
	idx := 1
	outs, idx = scanUntilColon(words, idx, &implicitOuts)
	if idx >= len(words) {
		return 0, perr(path, ln, "build statement has no rule name")
	}
	ruleAndIns = words[idx:]
	if len(ruleAndIns) == 0 {
		return 0, perr(path, ln, "build statement has no rule name")
	}
	ruleName := ruleAndIns[0]
	ins, implicitIns, orderOnlyIns := splitInputs(ruleAndIns[1:])

	if len(outs) == 0 {
		return 0, perr(path, ln, "build statement has no outputs")
	}
	rule, ok := scope.LookupRule(ruleName)
	if !ok {
		return 0, perr(path, ln, fmt.Sprintf("unknown rule %q", ruleName))
	}

	raw, next := readBindings(lines, i+1)
	edgeScope := NewScope(scope)
	for name, v := range raw {
		edgeScope.Set(name, v)
	}

	e := &graph.Edge{
		RuleName:        ruleName,
		Outputs:         p.internAll(outs),
		ImplicitOutputs: p.internAll(implicitOuts),
		Inputs:          p.internAll(ins),
		ImplicitInputs:  p.internAll(implicitIns),
		OrderOnlyInputs: p.internAll(orderOnlyIns),
	}

	env := newEdgeEnv(edgeScope, rule, outs, ins)
	e.Command = env.lookupRule("command")
	e.Description = env.lookupRule("description")
	e.Depfile = unescapeWord(env.lookupRule("depfile"))
	e.DepsType = env.lookupRule("deps")
	e.RspFile = unescapeWord(env.lookupRule("rspfile"))
	e.RspFileContent = env.lookupRule("rspfile_content")
	e.Restat = env.lookupRule("restat") != ""
	e.Generator = env.lookupRule("generator") != ""
	if poolName := env.lookupRule("pool"); poolName != "" {
		e.Pool = poolName
		switch pool, ok := scope.LookupPool(poolName); {
		case ok:
			e.PoolDepth = pool.Depth
		case poolName == "console":
			e.PoolDepth = 1 // implicit console pool is always depth 1
		default:
			return 0, perr(path, ln, fmt.Sprintf("unknown pool %q", poolName))
		}
	}

	if _, err := p.g.AddEdge(e); err != nil {
		return 0, err
	}
	return next, nil
}

func (p *parser) internAll(paths []string) []graph.FileID {
	if len(paths) == 0 {
		return nil
	}
	out := make([]graph.FileID, len(paths))
	for i, s := range paths {
		out[i] = p.g.Intern(unescapeWord(s))
	}
	return out
}

// scanUntilColon consumes words (the output list) up to and including the
// ':' that introduces the rule name, splitting off an implicit-output list
// after a bare "|" if present. It returns the explicit outputs and the
// index of the first word after ':'.
func scanUntilColon(words []string, idx int, implicitOuts *[]string) ([]string, int) {
	var outs []string
	inImplicit := false
	for idx < len(words) {
		w := words[idx]
		if w == "|" && !inImplicit {
			inImplicit = true
			idx++
			continue
		}
		if trimmed, has := trimTrailingColon(w); has {
			if trimmed != "" {
				if inImplicit {
					*implicitOuts = append(*implicitOuts, trimmed)
				} else {
					outs = append(outs, trimmed)
				}
			}
			idx++
			return outs, idx
		}
		if inImplicit {
			*implicitOuts = append(*implicitOuts, w)
		} else {
			outs = append(outs, w)
		}
		idx++
	}
	return outs, idx
}

// splitInputs partitions the words after the rule name into explicit,
// implicit ("| a b"), and order-only ("|| a b") inputs.
func splitInputs(words []string) (ins, implicitIns, orderOnlyIns []string) {
	section := 0 // 0 = explicit, 1 = implicit, 2 = order-only
	for _, w := range words {
		switch {
		case w == "||":
			section = 2
			continue
		case w == "|":
			section = 1
			continue
		}
		switch section {
		case 0:
			ins = append(ins, w)
		case 1:
			implicitIns = append(implicitIns, w)
		default:
			orderOnlyIns = append(orderOnlyIns, w)
		}
	}
	return ins, implicitIns, orderOnlyIns
}
