package manifest

import "strings"

// edgeEnv is the per-edge Lookuper a rule's bindings (command, depfile,
// rspfile_content, deps, pool, ...) are expanded against: it adds
// $in/$out/$in_newline on top of the edge's own scope (build-level
// bindings, falling back to the enclosing file scope).
//
// Build-level bindings themselves (the indented "name = value" lines under
// a build statement) are expanded eagerly against the plain file scope
// chain before an edgeEnv is even built, so they cannot reference $in/$out
// -- only the fixed set of rule bindings a Rule itself defines can, which
// matches every real-world manifest kiln has to support without carrying
// upstream Ninja's full lazy EvalString machinery.
type edgeEnv struct {
	scope *Scope
	rule  *Rule
	outs  []string
	ins   []string
}

func newEdgeEnv(scope *Scope, rule *Rule, outs, ins []string) *edgeEnv {
	return &edgeEnv{scope: scope, rule: rule, outs: outs, ins: ins}
}

// Lookup implements Lookuper.
func (e *edgeEnv) Lookup(name string) string {
	switch name {
	case "in":
		return strings.Join(unescapeAll(e.ins), " ")
	case "out":
		return strings.Join(unescapeAll(e.outs), " ")
	case "in_newline":
		return strings.Join(unescapeAll(e.ins), "\n")
	default:
		return e.scope.Lookup(name)
	}
}

// lookupRule returns the named binding, preferring an edge-local override
// (a build-level binding of the same name, whose references were already
// resolved against the file scope when the build statement was read, so
// $in/$out in it do not name this edge's files) over the rule's own; the
// chosen value is expanded against this env, which is where a rule
// binding's $in/$out resolve. Returns "" if neither defines it.
func (e *edgeEnv) lookupRule(name string) string {
	if raw, ok := e.scope.vars[name]; ok {
		return Expand(raw, e)
	}
	if e.rule != nil {
		if raw, ok := e.rule.Bindings[name]; ok {
			return Expand(raw, e)
		}
	}
	return ""
}

func unescapeAll(words []string) []string {
	out := make([]string, len(words))
	for i, w := range words {
		out[i] = unescapeWord(w)
	}
	return out
}
