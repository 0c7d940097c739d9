package tokenized

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
)

// HasWildcard reports whether a resolved path contains glob syntax.
func HasWildcard(p string) bool {
	return strings.ContainsAny(p, "*?[")
}

// Expand resolves the template and, when the result contains wildcards,
// enumerates matching files on fs. A single '*' stays within one path segment
// while '**' crosses directories. Results are sorted. An empty match is an
// error only when strict is set. Templates without wildcards resolve to a
// single path whether or not it exists yet.
func (s String) Expand(fs billy.Filesystem, strict bool) ([]string, error) {
	resolved, err := s.Resolve()
	if err != nil {
		return nil, err
	}
	if !HasWildcard(resolved) {
		return []string{resolved}, nil
	}
	matches, err := Glob(fs, resolved)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 && strict {
		return nil, &EmptyGlobError{Pattern: resolved}
	}
	return matches, nil
}

// Glob lists every regular file on fs matching pattern.
func Glob(fs billy.Filesystem, pattern string) ([]string, error) {
	pattern = filepath.ToSlash(pattern)
	root := globRoot(pattern)
	re, err := globToRegexp(pattern)
	if err != nil {
		return nil, err
	}

	var matches []string
	walkRoot := root
	if walkRoot == "" {
		walkRoot = "."
	}
	err = util.Walk(fs, filepath.FromSlash(walkRoot), func(p string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if info.IsDir() {
			return nil
		}
		slashed := filepath.ToSlash(p)
		if root == "" {
			slashed = strings.TrimPrefix(slashed, "./")
		}
		if re.MatchString(slashed) {
			matches = append(matches, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to expand pattern %q: %w", pattern, err)
	}
	sort.Strings(matches)
	return matches, nil
}

// globRoot returns the longest directory prefix free of wildcards.
func globRoot(pattern string) string {
	segments := strings.Split(pattern, "/")
	var fixed []string
	for _, seg := range segments[:len(segments)-1] {
		if HasWildcard(seg) {
			break
		}
		fixed = append(fixed, seg)
	}
	if len(fixed) == 1 && fixed[0] == "" {
		return "/"
	}
	return strings.Join(fixed, "/")
}

func globToRegexp(pattern string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString("^")
	for i := 0; i < len(pattern); i++ {
		c := pattern[i]
		switch c {
		case '*':
			if i+1 < len(pattern) && pattern[i+1] == '*' {
				b.WriteString(".*")
				i++
				continue
			}
			b.WriteString("[^/]*")
		case '?':
			b.WriteString("[^/]")
		case '[':
			end := strings.IndexByte(pattern[i:], ']')
			if end < 0 {
				return nil, fmt.Errorf("unterminated character class in pattern %q", pattern)
			}
			b.WriteString(pattern[i : i+end+1])
			i += end
		default:
			b.WriteString(regexp.QuoteMeta(string(c)))
		}
	}
	b.WriteString("$")
	return regexp.Compile(b.String())
}
