package shadow

import (
	"path"
	"regexp"
	"strings"
)

// Matcher tests relative slash paths against exclude patterns. A pattern
// containing * is a glob matched against the whole path and against the
// base name; any other pattern matches as a substring.
type Matcher struct {
	substrings []string
	globs      []*regexp.Regexp
}

// NewMatcher compiles patterns. Empty patterns are ignored.
func NewMatcher(patterns ...[]string) *Matcher {
	m := &Matcher{}
	for _, list := range patterns {
		for _, p := range list {
			p = strings.TrimSpace(p)
			if p == "" {
				continue
			}
			if strings.Contains(p, "*") {
				m.globs = append(m.globs, globRegexp(p))
			} else {
				m.substrings = append(m.substrings, p)
			}
		}
	}
	return m
}

func globRegexp(p string) *regexp.Regexp {
	quoted := regexp.QuoteMeta(p)
	return regexp.MustCompile("^" + strings.ReplaceAll(quoted, `\*`, ".*") + "$")
}

// Match reports whether rel is excluded.
func (m *Matcher) Match(rel string) bool {
	for _, s := range m.substrings {
		if strings.Contains(rel, s) {
			return true
		}
	}
	base := path.Base(rel)
	for _, g := range m.globs {
		if g.MatchString(rel) || g.MatchString(base) {
			return true
		}
	}
	return false
}

// includeMatch reports whether rel is selected by an include pattern: the
// exact path, a file under a directory pattern, or a glob.
func includeMatch(rel string, patterns []string) bool {
	for _, p := range patterns {
		p = normalizeRel(p)
		if p == "" {
			continue
		}
		if rel == p || strings.HasPrefix(rel, p+"/") {
			return true
		}
		if strings.Contains(p, "*") && globRegexp(p).MatchString(rel) {
			return true
		}
	}
	return false
}

func normalizeRel(p string) string {
	p = strings.ReplaceAll(p, `\`, "/")
	p = strings.TrimPrefix(path.Clean("/"+p), "/")
	return p
}

// gitignore renders exclude patterns as a .gitignore file.
func gitignore(patterns []string) string {
	var b strings.Builder
	b.WriteString("# shadow repository excludes\n")
	for _, p := range patterns {
		if p = strings.TrimSpace(p); p != "" {
			b.WriteString(p)
			b.WriteByte('\n')
		}
	}
	return b.String()
}
