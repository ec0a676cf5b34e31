package export

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// MaxCandidates is how many names SaveImage tries: name, name-1 … name-49.
const MaxCandidates = 50

// ErrNoFreeName is returned when every candidate name is taken.
var ErrNoFreeName = errors.New("no free file name")

// candidate returns the i-th name; the suffix goes before the extension.
func candidate(name string, i int) string {
	if i == 0 {
		return name
	}
	ext := filepath.Ext(name)
	return fmt.Sprintf("%s-%d%s", strings.TrimSuffix(name, ext), i, ext)
}

// UniquePath returns the first candidate for name in dir that does not
// exist. The result may be taken by the time it is used; SaveImage does not
// have that race.
func UniquePath(dir, name string) (string, error) {
	for i := 0; i < MaxCandidates; i++ {
		p := filepath.Join(dir, candidate(name, i))
		if _, err := os.Lstat(p); errors.Is(err, fs.ErrNotExist) {
			return p, nil
		} else if err != nil {
			return "", err
		}
	}
	return "", fmt.Errorf("%s in %s after %d attempts: %w", name, dir, MaxCandidates, ErrNoFreeName)
}

// SaveImage writes data to the first free candidate for name in dir and
// returns its path. Existing files are never overwritten.
func SaveImage(dir, name string, data []byte) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create export directory: %w", err)
	}
	for i := 0; i < MaxCandidates; i++ {
		p := filepath.Join(dir, candidate(name, i))
		f, err := os.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("failed to create %s: %w", p, err)
		}
		if _, err := f.Write(data); err != nil {
			f.Close()
			os.Remove(p)
			return "", fmt.Errorf("failed to write %s: %w", p, err)
		}
		if err := f.Close(); err != nil {
			return "", fmt.Errorf("failed to write %s: %w", p, err)
		}
		return p, nil
	}
	return "", fmt.Errorf("%s in %s after %d attempts: %w", name, dir, MaxCandidates, ErrNoFreeName)
}

// ImageName is the suggested export name for a contract.
func ImageName(primary string) string {
	if primary == "" {
		return "callgraph.png"
	}
	return primary + "-callgraph.png"
}
