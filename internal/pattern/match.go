package pattern

import (
	"regexp"
	"strings"
	"sync"
)

var (
	matchersMu sync.RWMutex
	matchers   = map[string]*regexp.Regexp{}
)

// Match reports whether filename matches the wildcard pattern.
// `*` matches zero or more characters, `?` exactly one; everything else is
// literal. Matching is case-insensitive and anchored to the full string.
// An empty pattern or "*" matches anything.
func Match(filename, pattern string) bool {
	if pattern == "" || pattern == "*" {
		return true
	}
	return compiled(pattern).MatchString(filename)
}

// compiled translates a wildcard pattern into an anchored, case-insensitive
// regular expression. Everything except `*` and `?` is quoted, so regex
// metacharacters in filenames (dots, plus signs, brackets) stay literal.
// Compiled patterns are cached; configurations reuse the same few patterns
// across every execution.
func compiled(pattern string) *regexp.Regexp {
	matchersMu.RLock()
	re, ok := matchers[pattern]
	matchersMu.RUnlock()
	if ok {
		return re
	}

	var sb strings.Builder
	sb.WriteString(`(?i)\A`)
	for _, r := range pattern {
		switch r {
		case '*':
			sb.WriteString(`.*`)
		case '?':
			sb.WriteByte('.')
		default:
			sb.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	sb.WriteString(`\z`)
	re = regexp.MustCompile(sb.String())

	matchersMu.Lock()
	matchers[pattern] = re
	matchersMu.Unlock()
	return re
}

// MatchExtension reports whether filename carries the given extension,
// compared case-insensitively after stripping a leading dot from ext.
// An empty ext matches anything.
func MatchExtension(filename, ext string) bool {
	if ext == "" {
		return true
	}
	ext = strings.TrimPrefix(ext, ".")
	i := strings.LastIndexByte(filename, '.')
	if i < 0 {
		return false
	}
	return strings.EqualFold(filename[i+1:], ext)
}
