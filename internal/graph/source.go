package graph

import (
	"sort"
	"strings"

	"github.com/zheng/argus/internal/solast"
)

// SourceProvider returns the text of a source file by its unit path.
type SourceProvider interface {
	Source(path string) ([]byte, bool)
}

// SourceMap is an in-memory SourceProvider.
type SourceMap map[string][]byte

func (m SourceMap) Source(path string) ([]byte, bool) {
	b, ok := m[path]
	return b, ok
}

// sourceText resolves snippets and line numbers. Line tables are computed
// once per file.
type sourceText struct {
	provider SourceProvider
	lines    map[string][]int
}

func newSourceText(p SourceProvider) *sourceText {
	return &sourceText{provider: p, lines: make(map[string][]int)}
}

func (s *sourceText) text(path string) ([]byte, bool) {
	if s.provider == nil || path == "" {
		return nil, false
	}
	return s.provider.Source(path)
}

// snippet returns the source covered by loc, with common indentation removed.
func (s *sourceText) snippet(path string, loc solast.SrcLocation) string {
	src, ok := s.text(path)
	if !ok || !loc.Valid() || loc.End() > len(src) {
		return ""
	}
	start := loc.Start
	// pull in the indentation of the first line so dedent sees it
	for start > 0 && (src[start-1] == ' ' || src[start-1] == '\t') {
		start--
	}
	return dedent(string(src[start:loc.End()]))
}

// line returns the 1-based line of offset, or 0 when the source is unknown.
func (s *sourceText) line(path string, offset int) int {
	if offset < 0 {
		return 0
	}
	table, ok := s.lines[path]
	if !ok {
		src, found := s.text(path)
		if !found {
			s.lines[path] = nil
			return 0
		}
		table = []int{0}
		for i, c := range src {
			if c == '\n' {
				table = append(table, i+1)
			}
		}
		s.lines[path] = table
	}
	if table == nil {
		return 0
	}
	return sort.Search(len(table), func(i int) bool { return table[i] > offset })
}

func dedent(text string) string {
	lines := strings.Split(text, "\n")
	indent := -1
	for _, l := range lines {
		trimmed := strings.TrimLeft(l, " \t")
		if trimmed == "" {
			continue
		}
		if n := len(l) - len(trimmed); indent < 0 || n < indent {
			indent = n
		}
	}
	if indent <= 0 {
		return text
	}
	for i, l := range lines {
		if len(l) >= indent {
			lines[i] = l[indent:]
		} else {
			lines[i] = strings.TrimLeft(l, " \t")
		}
	}
	return strings.Join(lines, "\n")
}
