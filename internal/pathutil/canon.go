// Package pathutil canonicalizes build-graph paths.
//
// Paths are treated as opaque byte sequences, never as Unicode text.
// Go's string type is already an immutable byte slice, so canonical paths
// are plain strings that never pass through anything assuming UTF-8 (no
// unicode/utf8, no strings.ToLower, no case folding).
package pathutil

import "strings"

// Canonicalize normalizes path separators to '/' and collapses "." and
// ".." components the way Canonicalize in upstream Ninja's util.cc does:
// backslashes become slashes, "a/./b" becomes "a/b", "a/b/../c" becomes
// "a/c", a run of leading ".." in a relative path is kept (it cannot be
// collapsed further), and a ".." directly under the root of an absolute
// path is dropped. Case is preserved. A single trailing slash is kept
// only when keepTrailingSlash is true, for inputs that name a directory.
//
// Canonicalize is idempotent: Canonicalize(Canonicalize(p)) == Canonicalize(p).
func Canonicalize(path string, keepTrailingSlash bool) string {
	if path == "" {
		return path
	}
	b := []byte(path)
	for i, c := range b {
		if c == '\\' {
			b[i] = '/'
		}
	}

	trailingSlash := len(b) > 0 && b[len(b)-1] == '/'

	// Split on '/' and run the classic stack-based collapse of "." and
	// "..", preserving a leading "/" for absolute paths and leading ".."
	// runs for relative paths that escape above the starting directory.
	leadingSlash := len(b) > 0 && b[0] == '/'
	parts := strings.Split(string(b), "/")
	stack := make([]string, 0, len(parts))
	for _, p := range parts {
		switch p {
		case "", ".":
			// Skip empty components (from "//" or a leading/trailing slash,
			// handled separately) and "." components.
		case "..":
			if n := len(stack); n > 0 && stack[n-1] != ".." {
				stack = stack[:n-1]
			} else if !leadingSlash {
				// Cannot escape above an absolute root; for relative paths,
				// keep the ".." since it still means something.
				stack = append(stack, p)
			}
		default:
			stack = append(stack, p)
		}
	}

	out := strings.Join(stack, "/")
	if leadingSlash {
		out = "/" + out
	}
	if out == "" {
		if leadingSlash {
			return "/"
		}
		return "."
	}
	if keepTrailingSlash && trailingSlash && !strings.HasSuffix(out, "/") {
		out += "/"
	}
	return out
}
