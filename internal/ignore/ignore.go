// Package ignore excludes documents from directory indexing and inbox
// watching. Rules live in .blackiaignore files and use gitignore syntax:
// globs with *, ? and **, a leading / to anchor, a trailing / for
// directories only and ! to re-include.
package ignore

import (
	"bufio"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
)

// FileName is the per-directory rules file.
const FileName = ".blackiaignore"

// Matcher holds compiled rules. The zero value and a nil *Matcher match
// nothing. Safe for concurrent use.
type Matcher struct {
	mu    sync.RWMutex
	rules []rule
}

type rule struct {
	re       *regexp.Regexp
	base     string // slash path the rule is relative to, "" for the root
	negate   bool
	dirOnly  bool
	anchored bool
}

// New creates an empty Matcher.
func New() *Matcher {
	return &Matcher{}
}

// Load reads root's rules file. A missing file yields an empty Matcher.
func Load(root string) (*Matcher, error) {
	m := New()
	if err := m.AddFile(filepath.Join(root, FileName), ""); err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	return m, nil
}

// Add compiles one rule line. base is the slash-separated directory,
// relative to the matcher root, that holds the rules file.
func (m *Matcher) Add(line, base string) {
	r, ok := compile(line)
	if !ok {
		return
	}
	r.base = strings.Trim(filepath.ToSlash(base), "/")
	if r.base == "." {
		r.base = ""
	}
	m.mu.Lock()
	m.rules = append(m.rules, r)
	m.mu.Unlock()
}

// AddFile adds every rule of the file at p.
func (m *Matcher) AddFile(p, base string) error {
	f, err := os.Open(p)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		m.Add(sc.Text(), base)
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read %s: %w", p, err)
	}
	return nil
}

// Len returns the number of rules.
func (m *Matcher) Len() int {
	if m == nil {
		return 0
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rules)
}

// Match reports whether rel, a path relative to the matcher root, is
// excluded. A path below an excluded directory is excluded too. The last
// matching rule wins.
func (m *Matcher) Match(rel string, isDir bool) bool {
	if m == nil {
		return false
	}
	rel = strings.Trim(filepath.ToSlash(rel), "/")
	if rel == "" || rel == "." {
		return false
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.rules) == 0 {
		return false
	}

	// Ancestors first: an excluded parent excludes everything below it.
	parts := strings.Split(rel, "/")
	for i := 1; i < len(parts); i++ {
		if m.matchOne(strings.Join(parts[:i], "/"), true) {
			return true
		}
	}
	return m.matchOne(rel, isDir)
}

func (m *Matcher) matchOne(p string, isDir bool) bool {
	excluded := false
	for _, r := range m.rules {
		if r.matches(p, isDir) {
			excluded = !r.negate
		}
	}
	return excluded
}

func (r rule) matches(p string, isDir bool) bool {
	if r.dirOnly && !isDir {
		return false
	}
	if r.base != "" {
		if !strings.HasPrefix(p, r.base+"/") {
			return false
		}
		p = strings.TrimPrefix(p, r.base+"/")
	}
	if r.anchored {
		return r.re.MatchString(p)
	}
	return r.re.MatchString(path.Base(p)) || r.re.MatchString(p)
}

// compile parses one line. Blank lines and comments yield ok=false.
func compile(line string) (rule, bool) {
	keepSpace := strings.HasSuffix(line, `\ `)
	line = strings.TrimSpace(line)
	if keepSpace {
		line = strings.TrimSuffix(line, `\`) + " "
	}
	if line == "" || strings.HasPrefix(line, "#") {
		return rule{}, false
	}

	var r rule
	switch {
	case strings.HasPrefix(line, `\#`), strings.HasPrefix(line, `\!`):
		line = line[1:]
	case strings.HasPrefix(line, "!"):
		r.negate = true
		line = line[1:]
	}
	if strings.HasSuffix(line, "/") {
		r.dirOnly = true
		line = strings.TrimSuffix(line, "/")
	}
	if strings.HasPrefix(line, "/") {
		r.anchored = true
		line = strings.TrimPrefix(line, "/")
	} else if strings.Contains(line, "/") && !strings.HasPrefix(line, "**/") {
		r.anchored = true
	}
	if line == "" {
		return rule{}, false
	}
	r.re = regexp.MustCompile("^" + globToRegexp(line) + "$")
	return r, true
}

// globToRegexp translates gitignore glob syntax.
func globToRegexp(glob string) string {
	var b strings.Builder
	for i := 0; i < len(glob); i++ {
		c := glob[i]
		switch {
		case strings.HasPrefix(glob[i:], "**/"):
			b.WriteString("(?:.*/)?")
			i += 2
		case strings.HasPrefix(glob[i:], "**") && (i == 0 || glob[i-1] == '/'):
			b.WriteString(".*")
			i++
		case c == '*':
			b.WriteString("[^/]*")
		case c == '?':
			b.WriteString("[^/]")
		case c == '[':
			end := strings.IndexByte(glob[i+1:], ']')
			if end < 0 {
				b.WriteString(`\[`)
				continue
			}
			class := glob[i+1 : i+1+end]
			if strings.HasPrefix(class, "!") {
				class = "^" + class[1:]
			}
			b.WriteString("[" + class + "]")
			i += end + 1
		case c == '\\' && i+1 < len(glob):
			i++
			b.WriteString(regexp.QuoteMeta(string(glob[i])))
		default:
			b.WriteString(regexp.QuoteMeta(string(c)))
		}
	}
	return b.String()
}
