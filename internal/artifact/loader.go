// Package artifact locates compiler build artifacts and parses the per-file
// ASTs they embed.
package artifact

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zheng/argus/internal/solast"
)

// ProblemKind classifies why a load produced no units.
type ProblemKind string

const (
	ProblemNone      ProblemKind = ""
	ProblemMissing   ProblemKind = "missing"
	ProblemMalformed ProblemKind = "malformed"
	ProblemCanceled  ProblemKind = "canceled"
)

// maxListedKeys bounds the key listing in malformed-artifact diagnostics.
const maxListedKeys = 8

// Batch is the parsed content of one artifact file.
type Batch struct {
	Path    string
	ModTime time.Time
	// Units are sorted by AbsolutePath.
	Units []*solast.SourceUnit
	// Files maps the src file index used in AST locations to the source path.
	Files   map[int]string
	Skipped []Skipped
}

// Skipped records a source entry that contributed no unit.
type Skipped struct {
	Path   string
	Reason string
}

// Unit returns the unit with the given absolute path.
func (b *Batch) Unit(path string) *solast.SourceUnit {
	i := sort.Search(len(b.Units), func(i int) bool { return b.Units[i].AbsolutePath >= path })
	if i < len(b.Units) && b.Units[i].AbsolutePath == path {
		return b.Units[i]
	}
	return nil
}

// LoadResult is what Load returns. Exactly one of Batch and Problem is set.
type LoadResult struct {
	Batch   *Batch
	Problem ProblemKind
	Reason  string
	Cached  bool
}

// OK reports whether the load produced a batch.
func (r *LoadResult) OK() bool {
	return r != nil && r.Batch != nil && r.Problem == ProblemNone
}

// Loader finds the newest artifact in a directory and parses it through a Cache.
type Loader struct {
	cache   *Cache
	logger  *slog.Logger
	workers int
}

// NewLoader creates a loader. A nil cache gets a fresh one, a nil logger uses
// slog.Default.
func NewLoader(cache *Cache, logger *slog.Logger) *Loader {
	if cache == nil {
		cache = NewCache()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{cache: cache, logger: logger, workers: runtime.NumCPU()}
}

// Cache returns the loader's cache.
func (l *Loader) Cache() *Cache {
	return l.cache
}

// Latest returns the most recently modified *.json file in dir. Ties on
// modification time go to the lexically smaller name.
func Latest(dir string) (string, fs.FileInfo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", nil, err
	}
	var (
		bestPath string
		bestInfo fs.FileInfo
	)
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".json") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if bestInfo == nil || info.ModTime().After(bestInfo.ModTime()) ||
			(info.ModTime().Equal(bestInfo.ModTime()) && e.Name() < bestInfo.Name()) {
			bestPath = filepath.Join(dir, e.Name())
			bestInfo = info
		}
	}
	if bestInfo == nil {
		return "", nil, fs.ErrNotExist
	}
	return bestPath, bestInfo, nil
}

// Load returns the units of the newest artifact in dir. It never returns an
// error; every failure is described by the result's Problem and Reason.
func (l *Loader) Load(ctx context.Context, dir string) *LoadResult {
	if err := ctx.Err(); err != nil {
		return &LoadResult{Problem: ProblemCanceled, Reason: err.Error()}
	}

	path, info, err := Latest(dir)
	if err != nil {
		reason := fmt.Sprintf("no build artifacts found in %s", dir)
		if !errors.Is(err, fs.ErrNotExist) {
			reason = fmt.Sprintf("cannot read artifact directory %s: %v", dir, err)
		} else if _, statErr := os.Stat(dir); statErr != nil {
			reason = fmt.Sprintf("artifact directory %s does not exist", dir)
		}
		l.logger.Debug("no artifact", slog.String("dir", dir), slog.String("reason", reason))
		return &LoadResult{Problem: ProblemMissing, Reason: reason}
	}

	key := NewKey(path, info.ModTime())
	if batch, ok := l.cache.Get(key); ok {
		l.logger.Debug("artifact cache hit", slog.String("path", path))
		return &LoadResult{Batch: batch, Cached: true}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return &LoadResult{Problem: ProblemMissing, Reason: fmt.Sprintf("cannot read %s: %v", path, err)}
	}

	start := time.Now()
	batch, res := l.parse(ctx, path, data)
	parseSeconds.Observe(time.Since(start).Seconds())
	if res != nil {
		return res
	}
	batch.ModTime = info.ModTime()

	if !l.cache.Put(key, batch) {
		l.logger.Debug("newer artifact already cached, keeping it", slog.String("path", path))
	}
	l.logger.Debug("artifact parsed",
		slog.String("path", path),
		slog.Int("units", len(batch.Units)),
		slog.Int("skipped", len(batch.Skipped)),
		slog.Duration("took", time.Since(start)),
	)
	return &LoadResult{Batch: batch}
}

type sourceEntry struct {
	ID  *int            `json:"id"`
	AST json.RawMessage `json:"ast"`
}

func (l *Loader) parse(ctx context.Context, path string, data []byte) (*Batch, *LoadResult) {
	l.cache.countParse()

	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		parseFailures.WithLabelValues("artifact").Inc()
		return nil, &LoadResult{
			Problem: ProblemMalformed,
			Reason:  fmt.Sprintf("%s is not valid JSON: %v", filepath.Base(path), err),
		}
	}

	var output struct {
		Sources map[string]json.RawMessage `json:"sources"`
	}
	if raw, ok := top["output"]; ok {
		if err := json.Unmarshal(raw, &output); err != nil {
			output.Sources = nil
		}
	}
	if len(output.Sources) == 0 {
		parseFailures.WithLabelValues("artifact").Inc()
		return nil, &LoadResult{
			Problem: ProblemMalformed,
			Reason: fmt.Sprintf("%s has no output.sources (found keys: %s)",
				filepath.Base(path), listKeys(top)),
		}
	}

	paths := make([]string, 0, len(output.Sources))
	for p := range output.Sources {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	type slot struct {
		unit *solast.SourceUnit
		id   *int
		skip string
	}
	slots := make([]slot, len(paths))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, l.workers))
	for i, p := range paths {
		raw := output.Sources[p]
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			var entry sourceEntry
			if err := json.Unmarshal(raw, &entry); err != nil {
				parseFailures.WithLabelValues("source").Inc()
				slots[i].skip = fmt.Sprintf("invalid source entry: %v", err)
				return nil
			}
			slots[i].id = entry.ID
			if len(entry.AST) == 0 || string(entry.AST) == "null" {
				slots[i].skip = "no ast"
				return nil
			}
			unit, err := solast.DecodeSourceUnit(entry.AST)
			if err != nil {
				parseFailures.WithLabelValues("source").Inc()
				slots[i].skip = err.Error()
				return nil
			}
			if unit.AbsolutePath == "" {
				unit.AbsolutePath = p
			}
			slots[i].unit = unit
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, &LoadResult{Problem: ProblemCanceled, Reason: err.Error()}
	}

	batch := &Batch{Path: path, Files: make(map[int]string, len(paths))}
	for i, p := range paths {
		if id := slots[i].id; id != nil {
			batch.Files[*id] = p
		}
		if slots[i].unit == nil {
			batch.Skipped = append(batch.Skipped, Skipped{Path: p, Reason: slots[i].skip})
			l.logger.Warn("skipping source entry", slog.String("source", p), slog.String("reason", slots[i].skip))
			continue
		}
		batch.Units = append(batch.Units, slots[i].unit)
	}
	sort.SliceStable(batch.Units, func(i, j int) bool {
		return batch.Units[i].AbsolutePath < batch.Units[j].AbsolutePath
	})

	if len(batch.Units) == 0 {
		return nil, &LoadResult{
			Problem: ProblemMalformed,
			Reason: fmt.Sprintf("%s lists %d sources but none carries a usable AST",
				filepath.Base(path), len(paths)),
		}
	}
	return batch, nil
}

func listKeys(top map[string]json.RawMessage) string {
	if len(top) == 0 {
		return "none"
	}
	keys := make([]string, 0, len(top))
	for k := range top {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if len(keys) <= maxListedKeys {
		return strings.Join(keys, ", ")
	}
	return fmt.Sprintf("%s, … +%d more", strings.Join(keys[:maxListedKeys], ", "), len(keys)-maxListedKeys)
}
