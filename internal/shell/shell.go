// Package shell hosts generation results: it debounces regeneration
// requests, shows only the newest result and keeps the view toggles.
package shell

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zheng/argus/internal/argus"
	"github.com/zheng/argus/internal/export"
)

// DefaultDebounce is the quiet period before a scheduled regeneration runs.
const DefaultDebounce = 300 * time.Millisecond

// ErrNoRebuilder is returned by RequestRebuild when no rebuild action is set.
var ErrNoRebuilder = errors.New("no rebuild action configured")

// Generator runs one pipeline pass.
type Generator interface {
	Generate(ctx context.Context, req argus.Request) *argus.Result
}

// Surface displays results. Apply is called with results in token order.
type Surface interface {
	Apply(res *argus.Result)
}

// SurfaceFunc adapts a function to Surface.
type SurfaceFunc func(res *argus.Result)

func (f SurfaceFunc) Apply(res *argus.Result) { f(res) }

// Rebuilder triggers a full project build that eventually writes a fresh
// artifact.
type Rebuilder interface {
	Rebuild(ctx context.Context) error
}

// Toggles are the user switches that persist across regenerations.
type Toggles struct {
	IncludeAll  bool `json:"includeAll"`
	IncludeDeps bool `json:"includeDeps"`
}

// Options configures a Shell.
type Options struct {
	Debounce  time.Duration
	MaxDepth  int
	ExportDir string
	Rebuilder Rebuilder
	Logger    *slog.Logger
}

// Shell serializes regeneration requests for one target.
type Shell struct {
	gen       Generator
	surface   Surface
	rebuilder Rebuilder
	logger    *slog.Logger
	debounce  time.Duration
	maxDepth  int
	exportDir string

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	target  string
	buffer  []byte
	toggles Toggles
	timer   *time.Timer

	// issued is the newest token handed out. A result is applied only if
	// its token still equals issued.
	issued  atomic.Uint64
	applyMu sync.Mutex
	current *argus.Result
}

// New creates a shell for target.
func New(gen Generator, surface Surface, target string, opts Options) *Shell {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Shell{
		gen:       gen,
		surface:   surface,
		rebuilder: opts.Rebuilder,
		logger:    opts.Logger,
		debounce:  opts.Debounce,
		maxDepth:  opts.MaxDepth,
		exportDir: opts.ExportDir,
		ctx:       ctx,
		cancel:    cancel,
		target:    target,
	}
}

// SetTarget switches the file being shown. buffer optionally carries unsaved
// content.
func (s *Shell) SetTarget(target string, buffer []byte) {
	s.mu.Lock()
	s.target = target
	s.buffer = buffer
	s.mu.Unlock()
}

// Target returns the file being shown.
func (s *Shell) Target() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.target
}

// Toggles returns the current toggles.
func (s *Shell) Toggles() Toggles {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.toggles
}

// SetToggles stores t for every later regeneration and schedules one if
// anything changed.
func (s *Shell) SetToggles(t Toggles) {
	s.mu.Lock()
	changed := s.toggles != t
	s.toggles = t
	s.mu.Unlock()
	if changed {
		s.Schedule()
	}
}

// Schedule requests a regeneration after the debounce window. Requests
// arriving within the window restart it, so a burst runs the pipeline once.
func (s *Shell) Schedule() {
	scheduled.Inc()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx.Err() != nil {
		return
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.debounce, func() {
		s.Regenerate(s.ctx)
	})
}

// Regenerate runs the pipeline now. The result is applied to the surface
// only if no newer regeneration was started meanwhile; Regenerate reports
// whether it was.
func (s *Shell) Regenerate(ctx context.Context) (*argus.Result, bool) {
	token := s.issued.Add(1)

	s.mu.Lock()
	req := argus.Request{
		Token:       token,
		Target:      s.target,
		Source:      s.buffer,
		IncludeAll:  s.toggles.IncludeAll,
		IncludeDeps: s.toggles.IncludeDeps,
		MaxDepth:    s.maxDepth,
	}
	s.mu.Unlock()

	res := s.gen.Generate(ctx, req)

	s.applyMu.Lock()
	defer s.applyMu.Unlock()
	if latest := s.issued.Load(); token != latest {
		generations.WithLabelValues("discarded").Inc()
		s.logger.Debug("discarding stale generation",
			slog.Uint64("token", token),
			slog.Uint64("latest", latest),
		)
		return res, false
	}
	s.current = res
	generations.WithLabelValues("applied").Inc()
	if s.surface != nil {
		s.surface.Apply(res)
	}
	return res, true
}

// Current returns the result on display, or nil before the first one.
func (s *Shell) Current() *argus.Result {
	s.applyMu.Lock()
	defer s.applyMu.Unlock()
	return s.current
}

// RequestRebuild runs the rebuild action, then schedules a regeneration.
func (s *Shell) RequestRebuild(ctx context.Context) error {
	if s.rebuilder == nil {
		return ErrNoRebuilder
	}
	if err := s.rebuilder.Rebuild(ctx); err != nil {
		rebuilds.WithLabelValues("failed").Inc()
		s.logger.Warn("rebuild failed", slog.String("error", err.Error()))
		return err
	}
	rebuilds.WithLabelValues("ok").Inc()
	s.Schedule()
	return nil
}

// ExportImage saves a rendered image of the current tree, named after the
// primary contract, without overwriting existing files.
func (s *Shell) ExportImage(data []byte) (string, error) {
	primary := ""
	if cur := s.Current(); cur != nil {
		primary = cur.PrimaryContract
	}
	dir := s.exportDir
	if dir == "" {
		dir = "."
	}
	path, err := export.SaveImage(dir, export.ImageName(primary), data)
	if err != nil {
		return "", err
	}
	s.logger.Info("image exported", slog.String("path", path))
	return path, nil
}

// Close stops pending regenerations. In-flight ones finish but their
// context is canceled.
func (s *Shell) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
	}
	s.cancel()
}
