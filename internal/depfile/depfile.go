// Package depfile parses the Makefile-style dependency files GCC/Clang
// write via -M: "TARGET : DEP1 DEP2 \<newline> DEP3 ...". A plain byte
// scanner; the grammar is small enough not to warrant a generated
// lexer.
package depfile

import (
	"fmt"
)

// Parser holds the result of parsing one depfile: zero or more targets
// (upstream GCC depfiles name exactly one, but the grammar allows more)
// and the flat list of prerequisites.
type Parser struct {
	Outs []string
	Ins  []string
}

// Parse parses content per the following rules, matching GCC/Clang
// output:
//
// A note on backslashes in Makefiles, from reading the docs:
// Backslash-newline is the line continuation character.
// Backslash-# escapes a # (otherwise meaningful as a comment start).
// Backslash-% escapes a % (otherwise meaningful as a special).
//
// Rather than implement all of the above, we follow what GCC/Clang
// produces: backslashes escape a space or hash sign. When a space is
// preceded by 2N+1 backslashes, it represents N backslashes followed by a
// space. When a space is preceded by 2N backslashes, it represents 2N
// backslashes at the end of a filename. A hash sign is escaped by a single
// backslash. `$$` is de-escaped to `$`. All other backslashes remain
// unchanged.
func (p *Parser) Parse(content []byte) error {
	p.Outs = nil
	p.Ins = nil

	i := 0
	n := len(content)
	skipSpace := func() {
		for i < n && (content[i] == ' ' || content[i] == '\t') {
			i++
		}
	}
	// skipBlankLinesAndComments advances past blank lines and lines whose
	// first non-space character is '#'.
	skipBlankLinesAndComments := func() {
		for i < n {
			start := i
			skipSpace()
			if i < n && content[i] == '#' {
				for i < n && content[i] != '\n' {
					i++
				}
			}
			if i < n && content[i] == '\n' {
				i++
				continue
			}
			i = start
			return
		}
	}

	haveTarget := false
	parsingTargets := true

	for i < n {
		skipBlankLinesAndComments()
		if i >= n {
			break
		}

		word, err := readWord(content, &i, parsingTargets)
		if err != nil {
			return err
		}
		if word == "" {
			// End of this record: either a bare newline/EOF.
			if i < n && content[i] == '\n' {
				i++
			}
			if parsingTargets {
				return fmt.Errorf("depfile: expected ':' or newline, got end of input")
			}
			parsingTargets = true
			haveTarget = false
			continue
		}

		if parsingTargets {
			if len(word) > 0 && word[len(word)-1] == ':' {
				word = word[:len(word)-1]
				if word != "" {
					p.Outs = append(p.Outs, word)
					haveTarget = true
				}
				parsingTargets = false
			} else {
				p.Outs = append(p.Outs, word)
				haveTarget = true
				skipSpace()
				if i < n && content[i] == ':' {
					i++
					parsingTargets = false
				}
			}
		} else {
			if !haveTarget {
				return fmt.Errorf("depfile: missing ':'")
			}
			p.Ins = append(p.Ins, word)
		}
		skipSpace()
	}
	return nil
}

// readWord reads one whitespace-delimited, backslash-aware token starting
// at *i, advancing *i past it (but not past the trailing whitespace).
// When inTarget is set, a ':' that starts a word is returned as a token of
// its own; any other ':' is a legal filename character, and a target's
// trailing ':' is stripped by the caller.
func readWord(content []byte, i *int, inTarget bool) (string, error) {
	n := len(content)
	var out []byte
	for *i < n {
		c := content[*i]
		switch {
		case c == '\n':
			return string(out), nil
		case c == ' ' || c == '\t':
			if len(out) == 0 {
				*i++
				continue
			}
			return string(out), nil
		case c == '\\':
			backslashes := 0
			j := *i
			for j < n && content[j] == '\\' {
				backslashes++
				j++
			}
			switch {
			case j < n && content[j] == ' ':
				// 2N+1 backslashes + space -> N backslashes then a literal space;
				// 2N backslashes + space -> 2N backslashes, space ends the word.
				if backslashes%2 == 1 {
					out = append(out, repeatByte('\\', backslashes/2)...)
					out = append(out, ' ')
					*i = j + 1
					continue
				}
				out = append(out, repeatByte('\\', backslashes)...)
				*i = j
				return string(out), nil
			case j < n && content[j] == '#':
				// A hash is escaped by the single backslash just before it;
				// the rest of the run passes through unchanged.
				out = append(out, repeatByte('\\', backslashes-1)...)
				out = append(out, '#')
				*i = j + 1
				continue
			case j < n && content[j] == '\n':
				// Backslash-newline: line continuation, becomes a space.
				out = append(out, repeatByte('\\', backslashes-1)...)
				if len(out) > 0 {
					out = append(out, ' ')
				}
				*i = j + 1
				continue
			default:
				out = append(out, repeatByte('\\', backslashes)...)
				*i = j
				continue
			}
		case c == '$' && *i+1 < n && content[*i+1] == '$':
			out = append(out, '$')
			*i += 2
		case c == ':' && inTarget && len(out) == 0:
			*i++
			return ":", nil
		default:
			out = append(out, c)
			*i++
		}
	}
	return string(out), nil
}

func repeatByte(b byte, n int) []byte {
	if n <= 0 {
		return nil
	}
	out := make([]byte, n)
	for i := range out {
		out[i] = b
	}
	return out
}
