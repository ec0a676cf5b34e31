// Package workspace holds the project-facing collaborators: source discovery,
// git change detection, the rebuild command and the index pipeline.
package workspace

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// dependencyDirs are directory names that hold vendored or installed code.
var dependencyDirs = map[string]bool{
	"lib":          true,
	"node_modules": true,
}

// buildDirs hold compiler output and caches.
var buildDirs = map[string]bool{
	"out":       true,
	"cache":     true,
	"artifacts": true,
}

// IsDependencyPath reports whether a unit path belongs to a dependency
// rather than the project: anything under lib/ or node_modules/, and
// package-style imports such as @openzeppelin/contracts/….
func IsDependencyPath(p string) bool {
	p = filepath.ToSlash(p)
	if strings.HasPrefix(p, "@") {
		return true
	}
	for _, part := range strings.Split(p, "/") {
		if dependencyDirs[part] {
			return true
		}
	}
	return false
}

// FindSources returns the project's .sol files relative to root, sorted,
// skipping hidden, dependency and build directories.
func FindSources(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if d.IsDir() {
			if path != root && (strings.HasPrefix(name, ".") || dependencyDirs[name] || buildDirs[name]) {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(name, ".sol") {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	sort.Strings(files)
	return files, err
}

// FileSources reads unit sources relative to the workspace root. The
// overlay, when set, replaces the content of one unit, e.g. an unsaved
// editor buffer. Reads are cached for the lifetime of the value.
type FileSources struct {
	root    string
	target  string
	overlay []byte

	mu    sync.Mutex
	files map[string][]byte
}

// NewFileSources creates a provider. target and overlay may be empty.
func NewFileSources(root, target string, overlay []byte) *FileSources {
	return &FileSources{root: root, target: target, overlay: overlay, files: make(map[string][]byte)}
}

// Source returns the text of the unit at path.
func (s *FileSources) Source(path string) ([]byte, bool) {
	if path == s.target && s.overlay != nil {
		return s.overlay, true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.files[path]; ok {
		return b, b != nil
	}
	full := path
	if !filepath.IsAbs(full) {
		full = filepath.Join(s.root, filepath.FromSlash(path))
	}
	b, err := os.ReadFile(full)
	if err != nil {
		b = nil
	}
	s.files[path] = b
	return b, b != nil
}
