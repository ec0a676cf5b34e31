// Package argus runs the call-graph pipeline: load the newest build
// artifact, resolve the target file, build a graph per eligible contract and
// render it.
package argus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/zheng/argus/internal/artifact"
	"github.com/zheng/argus/internal/graph"
	"github.com/zheng/argus/internal/render"
	"github.com/zheng/argus/internal/resolver"
	"github.com/zheng/argus/internal/solast"
	"github.com/zheng/argus/internal/workspace"
)

const tracerName = "argus.pipeline"

var generateSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "argus",
	Subsystem: "pipeline",
	Name:      "generate_seconds",
	Help:      "Time spent in one full generation",
	Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
})

// Request is the input of one generation.
type Request struct {
	// Token is echoed in the result.
	Token uint64
	// Target is the source file, absolute or relative to the workspace root.
	Target string
	// Source optionally replaces the target's file content for snippets.
	Source      []byte
	IncludeAll  bool
	IncludeDeps bool
	MaxDepth    int
}

// Generator runs the pipeline. It is safe for concurrent use; generations
// share only the loader's cache.
type Generator struct {
	root      string
	artifacts string
	loader    *artifact.Loader
	resolver  *resolver.Resolver
	logger    *slog.Logger
}

// NewGenerator creates a generator for the workspace at root. A relative
// artifacts directory is taken relative to root.
func NewGenerator(root, artifacts string, loader *artifact.Loader, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	if loader == nil {
		loader = artifact.NewLoader(nil, logger)
	}
	if !filepath.IsAbs(artifacts) {
		artifacts = filepath.Join(root, artifacts)
	}
	return &Generator{
		root:      root,
		artifacts: artifacts,
		loader:    loader,
		resolver:  resolver.New(root),
		logger:    logger,
	}
}

// Root returns the workspace root.
func (g *Generator) Root() string {
	return g.root
}

// Artifacts returns the artifact directory.
func (g *Generator) Artifacts() string {
	return g.artifacts
}

// Generate runs one full pass. It never returns nil and never fails: every
// problem is reported in the result and rendered as a panel.
func (g *Generator) Generate(ctx context.Context, req Request) *Result {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "argus.Generator.Generate",
		trace.WithAttributes(
			attribute.String("target", req.Target),
			attribute.Bool("include_all", req.IncludeAll),
			attribute.Bool("include_deps", req.IncludeDeps),
			attribute.Int("max_depth", req.MaxDepth),
		),
	)
	defer span.End()
	start := time.Now()
	defer func() { generateSeconds.Observe(time.Since(start).Seconds()) }()

	res := &Result{Token: req.Token}
	var sections []render.Section
	var panels []render.Panel

	load := g.loader.Load(ctx, g.artifacts)
	if !load.OK() {
		p := loadProblem(load, g.artifacts)
		res.Errors = append(res.Errors, p)
		span.SetStatus(codes.Error, p.Message)
		return g.finish(res, []render.Panel{p.panel()}, nil)
	}
	span.SetAttributes(
		attribute.String("artifact", load.Batch.Path),
		attribute.Bool("cached", load.Cached),
		attribute.Int("units", len(load.Batch.Units)),
	)

	unit, match, err := g.resolver.Resolve(req.Target, load.Batch.Units)
	if err != nil || match == resolver.MatchSuffix {
		// A skipped entry for the target itself beats a basename match
		// on some other file.
		if s, how := g.skippedTarget(req.Target, load.Batch.Skipped); s != nil && (err != nil || how != resolver.MatchSuffix) {
			p := skippedProblem(req.Target, s)
			res.Errors = append(res.Errors, p)
			span.SetStatus(codes.Error, p.Message)
			return g.finish(res, []render.Panel{p.panel()}, nil)
		}
	}
	if err != nil {
		p := resolveProblem(req.Target, err)
		res.Errors = append(res.Errors, p)
		span.SetStatus(codes.Error, p.Message)
		return g.finish(res, []render.Panel{p.panel()}, nil)
	}
	res.Target = unit.AbsolutePath
	g.logger.Debug("target resolved",
		slog.String("target", req.Target),
		slog.String("unit", unit.AbsolutePath),
		slog.String("match", match.String()),
	)

	b := graph.NewBuilder(solast.NewIndex(load.Batch.Units...), graph.Options{
		IncludeAll:  req.IncludeAll,
		IncludeDeps: req.IncludeDeps,
		MaxDepth:    req.MaxDepth,
	})
	b.SetSources(workspace.NewFileSources(g.root, unit.AbsolutePath, req.Source))
	b.SetLogger(g.logger)

	for _, c := range unit.Contracts() {
		if !graph.Eligible(c) {
			continue
		}
		cg, err := b.Build(c)
		if errors.Is(err, graph.ErrNoFunctions) {
			continue
		}
		if err != nil {
			p := Problem{
				Kind:     ProblemContract,
				Message:  err.Error(),
				Action:   render.ActionRebuild,
				Contract: c.Name,
			}
			res.Errors = append(res.Errors, p)
			panel := p.panel()
			sections = append(sections, render.Section{Name: c.Name, Failure: &panel})
			continue
		}
		res.Contracts = append(res.Contracts, ContractView{
			Name:         cg.Name,
			File:         cg.File,
			Functions:    cg.Functions,
			Declarations: cg.Declarations,
		})
		sections = append(sections, render.Section{Name: cg.Name, Graph: cg})
	}

	if len(res.Contracts) > 0 {
		res.PrimaryContract = res.Contracts[0].Name
	}
	if len(sections) == 0 {
		res.Empty = true
		panels = append(panels, render.Panel{
			Kind:    "empty",
			Message: fmt.Sprintf("%s has no deployable contract with state-changing functions.", unit.AbsolutePath),
			Detail:  "Interfaces, libraries and abstract contracts are skipped. Enable read-only functions to include view and pure entry points.",
		})
	}
	span.SetAttributes(
		attribute.Int("contracts", len(res.Contracts)),
		attribute.Int("errors", len(res.Errors)),
	)
	return g.finish(res, panels, sections)
}

func (g *Generator) finish(res *Result, panels []render.Panel, sections []render.Section) *Result {
	out, err := render.Fragment(panels, sections)
	if err != nil {
		g.logger.Warn("render failed", slog.String("error", err.Error()))
		res.Errors = append(res.Errors, Problem{Kind: ProblemRender, Message: err.Error()})
		return res
	}
	res.HTML = out
	return res
}

func loadProblem(load *artifact.LoadResult, dir string) Problem {
	switch load.Problem {
	case artifact.ProblemMalformed:
		return Problem{
			Kind:    ProblemMalformed,
			Message: "The latest build artifact has no usable AST output.",
			Detail:  load.Reason,
			Action:  render.ActionRebuild,
		}
	case artifact.ProblemCanceled:
		return Problem{Kind: ProblemCanceled, Message: "Generation canceled.", Detail: load.Reason}
	default:
		return Problem{
			Kind:    ProblemMissing,
			Message: fmt.Sprintf("No build output found in %s. Rebuild the project to generate it.", dir),
			Detail:  load.Reason,
			Action:  render.ActionRebuild,
		}
	}
}

// skippedTarget resolves target against the source entries the loader
// skipped, with the same rules used for units.
func (g *Generator) skippedTarget(target string, skipped []artifact.Skipped) (*artifact.Skipped, resolver.Match) {
	if len(skipped) == 0 {
		return nil, resolver.MatchNone
	}
	units := make([]*solast.SourceUnit, len(skipped))
	for i, s := range skipped {
		units[i] = &solast.SourceUnit{AbsolutePath: s.Path}
	}
	u, match, err := g.resolver.Resolve(target, units)
	if err != nil {
		return nil, resolver.MatchNone
	}
	for i := range skipped {
		if units[i] == u {
			return &skipped[i], match
		}
	}
	return nil, resolver.MatchNone
}

func skippedProblem(target string, s *artifact.Skipped) Problem {
	return Problem{
		Kind:    ProblemMalformed,
		Message: fmt.Sprintf("%s is in the latest build, but its AST could not be used.", target),
		Detail:  fmt.Sprintf("%s: %s", s.Path, s.Reason),
		Action:  render.ActionRebuild,
	}
}

func resolveProblem(target string, err error) Problem {
	p := Problem{
		Kind:    ProblemUnresolved,
		Message: fmt.Sprintf("%s is not part of the latest build.", target),
		Detail:  err.Error(),
		Action:  render.ActionPickFile,
	}
	var ue *resolver.UnresolvedError
	if errors.As(err, &ue) && len(ue.Candidates) > 0 {
		p.Detail = "Available units:\n" + strings.Join(ue.Candidates, "\n")
	}
	return p
}
