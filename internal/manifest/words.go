package manifest

// splitWords splits one logical statement line (already joined across any
// trailing-"$"-newline continuations, see splitLogicalLines) into
// whitespace-delimited words, resolving $-escapes and variable references
// against scope as it goes. An escaped space ("$ ") or escaped colon
// ("$:") must stay part of the surrounding word instead of acting as a
// delimiter, so the scan keeps them as private sentinel bytes until the
// word is finished and then restores the literal character -- this lets
// the parser still use "does this word end in an unescaped ':'" to find
// the end of a build statement's output list, the same distinction
// upstream Ninja's lexer makes at the token level.
const (
	escSpaceSentinel byte = 0x01
	escColonSentinel byte = 0x02
)

func splitWords(line string, scope Lookuper) []string {
	var words []string
	var cur []byte
	flush := func() {
		if len(cur) > 0 {
			words = append(words, string(cur))
			cur = nil
		}
	}
	i, n := 0, len(line)
	for i < n {
		c := line[i]
		switch {
		case c == ' ' || c == '\t':
			flush()
			i++
		case c == '$' && i+1 < n && line[i+1] == ' ':
			cur = append(cur, escSpaceSentinel)
			i += 2
		case c == '$' && i+1 < n && line[i+1] == ':':
			cur = append(cur, escColonSentinel)
			i += 2
		case c == '$' && i+1 < n && line[i+1] == '$':
			cur = append(cur, '$')
			i += 2
		case c == '$' && i+1 < n && line[i+1] == '{':
			j := i + 2
			for j < n && line[j] != '}' {
				j++
			}
			cur = append(cur, scope.Lookup(line[i+2:j])...)
			if j < n {
				j++
			}
			i = j
		case c == '$' && i+1 < n && isVarChar(line[i+1]):
			j := i + 1
			for j < n && isVarChar(line[j]) {
				j++
			}
			cur = append(cur, scope.Lookup(line[i+1:j])...)
			i = j
		default:
			cur = append(cur, c)
			i++
		}
	}
	flush()
	return words
}

// unescapeWord restores the sentinel bytes splitWords used to protect an
// escaped space/colon into their literal characters, for use once the
// word's role (output, input, delimiter) has already been decided.
func unescapeWord(w string) string {
	if len(w) == 0 {
		return w
	}
	b := []byte(w)
	changed := false
	for i, c := range b {
		switch c {
		case escSpaceSentinel:
			b[i] = ' '
			changed = true
		case escColonSentinel:
			b[i] = ':'
			changed = true
		}
	}
	if !changed {
		return w
	}
	return string(b)
}

// trimTrailingColon reports whether w ends in an unescaped ':' (outputs
// and the rule name glued together with no space, e.g. "out.o:") and
// returns the word with it stripped.
func trimTrailingColon(w string) (string, bool) {
	if len(w) > 0 && w[len(w)-1] == ':' {
		return w[:len(w)-1], true
	}
	return w, false
}
