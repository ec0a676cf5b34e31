package workspace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/zheng/argus/internal/artifact"
	"github.com/zheng/argus/internal/graph"
	"github.com/zheng/argus/internal/solast"
	"github.com/zheng/argus/internal/storage"
)

// ErrNoArtifact is returned when the artifact directory has no usable build.
var ErrNoArtifact = errors.New("no usable build artifact")

// IndexOptions configures BuildIndex.
type IndexOptions struct {
	Root      string
	Artifacts string
	// ChangedFiles, when set, limits deletion to these unit paths; every
	// other stored node is updated in place.
	ChangedFiles []string
	// IncludeDeps indexes dependency sources too.
	IncludeDeps bool
}

// IndexResult describes one indexing pass.
type IndexResult struct {
	graph.IndexStats
	Artifact string
	Removed  int64
	Took     time.Duration
}

// BuildIndex loads the newest artifact and stores the project call graph in
// db. Without ChangedFiles the database is cleared first.
func BuildIndex(ctx context.Context, db *storage.DB, loader *artifact.Loader, opts IndexOptions, logger *slog.Logger) (*IndexResult, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if loader == nil {
		loader = artifact.NewLoader(nil, logger)
	}
	start := time.Now()

	dir := opts.Artifacts
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(opts.Root, dir)
	}
	load := loader.Load(ctx, dir)
	if !load.OK() {
		return nil, fmt.Errorf("%w: %s", ErrNoArtifact, load.Reason)
	}

	res := &IndexResult{Artifact: load.Batch.Path}
	if len(opts.ChangedFiles) == 0 {
		if err := db.Clear(); err != nil {
			return nil, fmt.Errorf("failed to clear database: %w", err)
		}
	} else {
		removed, err := db.DeleteNodesByFile(opts.ChangedFiles)
		if err != nil {
			return nil, fmt.Errorf("failed to delete changed nodes: %w", err)
		}
		if _, err := db.DeleteOrphanEdges(); err != nil {
			return nil, fmt.Errorf("failed to delete orphan edges: %w", err)
		}
		res.Removed = removed
	}

	idx := solast.NewIndex(load.Batch.Units...)
	ix := graph.NewIndexer(idx, NewFileSources(opts.Root, "", nil), db.InsertNode, db.InsertEdge)
	if !opts.IncludeDeps {
		ix.SetFilter(func(p string) bool { return !IsDependencyPath(p) })
	}
	stats, err := ix.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build index: %w", err)
	}

	res.IndexStats = stats
	res.Took = time.Since(start)
	logger.Info("index built",
		slog.String("artifact", res.Artifact),
		slog.Int("contracts", stats.Contracts),
		slog.Int("nodes", stats.Nodes),
		slog.Int("edges", stats.Edges),
		slog.Int64("removed", res.Removed),
		slog.Duration("took", res.Took),
	)
	return res, nil
}
