// Package resolver maps a target source file onto the compiled unit for it.
package resolver

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/zheng/argus/internal/solast"
)

// Match says which rule selected a unit.
type Match int

const (
	MatchNone Match = iota
	MatchExact
	MatchRelative
	MatchSuffix
)

func (m Match) String() string {
	switch m {
	case MatchExact:
		return "exact"
	case MatchRelative:
		return "workspace-relative"
	case MatchSuffix:
		return "basename"
	}
	return "none"
}

// UnresolvedError lists every unit path when no unit matches the target.
type UnresolvedError struct {
	Target     string
	Candidates []string
}

func (e *UnresolvedError) Error() string {
	if len(e.Candidates) == 0 {
		return fmt.Sprintf("no compiled unit for %s: the artifact contains no units", e.Target)
	}
	return fmt.Sprintf("no compiled unit for %s; available units:\n  %s",
		e.Target, strings.Join(e.Candidates, "\n  "))
}

// Resolver resolves targets relative to a workspace root.
type Resolver struct {
	Root string
}

// New returns a resolver for the given workspace root.
func New(root string) *Resolver {
	return &Resolver{Root: root}
}

// Resolve finds the unit for target. Rules are tried in order: exact absolute
// path, path relative to the workspace root, then basename suffix. The first
// rule with a match wins.
func (r *Resolver) Resolve(target string, units []*solast.SourceUnit) (*solast.SourceUnit, Match, error) {
	absTarget := r.absolute(target)
	normTarget := normalize(absTarget)

	for _, u := range units {
		if normalize(r.absolute(u.AbsolutePath)) == normTarget && filepath.IsAbs(u.AbsolutePath) {
			return u, MatchExact, nil
		}
	}

	if rel, ok := r.relative(absTarget); ok {
		for _, u := range units {
			if filepath.IsAbs(u.AbsolutePath) {
				continue
			}
			if normalize(u.AbsolutePath) == rel {
				return u, MatchRelative, nil
			}
		}
	}

	if u := suffixMatch(normTarget, units); u != nil {
		return u, MatchSuffix, nil
	}

	candidates := make([]string, 0, len(units))
	for _, u := range units {
		candidates = append(candidates, u.AbsolutePath)
	}
	return nil, MatchNone, &UnresolvedError{Target: target, Candidates: candidates}
}

// Relative returns p relative to the workspace root in slash form, or p itself
// when it lies outside the root.
func (r *Resolver) Relative(p string) string {
	if rel, ok := r.relative(r.absolute(p)); ok {
		return rel
	}
	return filepath.ToSlash(p)
}

func (r *Resolver) absolute(p string) string {
	if filepath.IsAbs(p) || r.Root == "" {
		return p
	}
	return filepath.Join(r.Root, p)
}

func (r *Resolver) relative(abs string) (string, bool) {
	if r.Root == "" {
		return "", false
	}
	rel, err := filepath.Rel(normalizeOS(r.Root), normalizeOS(abs))
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", false
	}
	return normalize(rel), true
}

// suffixMatch picks among units with the target's basename the one sharing the
// longest trailing path with the target, then the first in unit order.
func suffixMatch(target string, units []*solast.SourceUnit) *solast.SourceUnit {
	base := path.Base(target)
	var (
		best      *solast.SourceUnit
		bestScore = -1
	)
	for _, u := range units {
		p := normalize(u.AbsolutePath)
		if path.Base(p) != base {
			continue
		}
		if score := sharedSuffix(p, target); score > bestScore {
			best, bestScore = u, score
		}
	}
	return best
}

func sharedSuffix(a, b string) int {
	as := strings.Split(a, "/")
	bs := strings.Split(b, "/")
	n := 0
	for n < len(as) && n < len(bs) && as[len(as)-1-n] == bs[len(bs)-1-n] {
		n++
	}
	return n
}

// normalize cleans p, evaluates symlinks when the file exists, lower-cases a
// drive letter and converts to forward slashes.
func normalize(p string) string {
	return filepath.ToSlash(normalizeOS(p))
}

func normalizeOS(p string) string {
	p = filepath.Clean(p)
	if filepath.IsAbs(p) {
		p = evalExisting(p)
	}
	p = filepath.ToSlash(p)
	if len(p) >= 2 && p[1] == ':' {
		p = strings.ToLower(p[:1]) + p[1:]
	}
	return filepath.FromSlash(p)
}

// evalExisting resolves symlinks in the longest existing prefix of p, so a
// file that has not been written yet still normalizes like its directory.
func evalExisting(p string) string {
	rest := ""
	for dir := p; ; {
		if resolved, err := filepath.EvalSymlinks(dir); err == nil {
			return filepath.Join(resolved, rest)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return p
		}
		rest = filepath.Join(filepath.Base(dir), rest)
		dir = parent
	}
}
