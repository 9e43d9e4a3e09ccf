package manifest

import "strings"

// logicalLine is one statement after joining "$\n" continuations, with the
// indentation of its first physical line (>0 means "this is a binding
// inside the enclosing rule/build/pool block", per Ninja's
// indentation-sensitive grammar) and the 1-based line number it started
// on, for error messages.
type logicalLine struct {
	text   string
	indent int
	line   int
}

// splitLogicalLines turns a manifest's raw text into logical lines,
// dropping blank lines and whole-line comments ("#" as the first
// non-blank character) and joining a line ending in an unescaped "$"
// with the next physical line, the way upstream Ninja's lexer treats
// "$\n" as pure whitespace.
func splitLogicalLines(src string) []logicalLine {
	physical := strings.Split(src, "\n")
	var out []logicalLine
	lineNo := 0
	for lineNo < len(physical) {
		startLine := lineNo + 1
		raw := physical[lineNo]
		lineNo++
		indent := leadingSpaces(raw)
		trimmed := strings.TrimLeft(raw, " \t")
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		text := strings.TrimRight(raw, "\r")
		for endsWithUnescapedDollar(text) && lineNo < len(physical) {
			text = text[:len(text)-1]
			cont := strings.TrimRight(physical[lineNo], "\r")
			text += strings.TrimLeft(cont, " \t")
			lineNo++
		}
		out = append(out, logicalLine{text: text, indent: indent, line: startLine})
	}
	return out
}

func leadingSpaces(s string) int {
	n := 0
	for n < len(s) && (s[n] == ' ' || s[n] == '\t') {
		n++
	}
	return n
}

// endsWithUnescapedDollar reports whether s ends in a "$" that is not
// itself escaped (an odd run of trailing '$' means the last one is a
// genuine continuation marker; an even run means they pair up into
// literal '$' characters via "$$" and the line really does end there).
func endsWithUnescapedDollar(s string) bool {
	n := 0
	for i := len(s) - 1; i >= 0 && s[i] == '$'; i-- {
		n++
	}
	return n%2 == 1
}
