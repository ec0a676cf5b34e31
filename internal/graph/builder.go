package graph

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/zheng/argus/internal/solast"
)

// ErrNoFunctions is returned by Build for a contract with no root functions
// after mutability filtering. Callers skip such contracts.
var ErrNoFunctions = errors.New("no eligible functions")

// Options control which functions become roots and how far trees expand.
type Options struct {
	// IncludeAll admits view and pure functions as roots.
	IncludeAll bool
	// IncludeDeps expands external and library calls instead of eliding them.
	IncludeDeps bool
	// MaxDepth bounds call tree depth below the roots. Zero means unbounded.
	MaxDepth int
}

// Eligible reports whether a contract has callable bodies worth tracing:
// contract kind, not abstract, fully implemented.
func Eligible(c *solast.ContractDefinition) bool {
	return c.ContractKind == solast.KindContract && !c.Abstract && c.FullyImplemented
}

// Builder builds per-contract call trees over one compilation.
type Builder struct {
	idx    *solast.Index
	opts   Options
	src    *sourceText
	logger *slog.Logger
}

// NewBuilder creates a builder over idx.
func NewBuilder(idx *solast.Index, opts Options) *Builder {
	return &Builder{
		idx:    idx,
		opts:   opts,
		src:    newSourceText(nil),
		logger: slog.Default(),
	}
}

// SetSources sets where snippets and line numbers come from.
func (b *Builder) SetSources(p SourceProvider) {
	b.src = newSourceText(p)
}

// SetLogger replaces the default logger.
func (b *Builder) SetLogger(l *slog.Logger) {
	if l != nil {
		b.logger = l
	}
}

// Index returns the symbol table the builder resolves against.
func (b *Builder) Index() *solast.Index {
	return b.idx
}

// Build returns the call forest of c. Unexpected node shapes, whether found
// while decoding or while expanding, are reported as an error for this
// contract only.
func (b *Builder) Build(c *solast.ContractDefinition) (g *ContractGraph, err error) {
	defer func() {
		if r := recover(); r != nil {
			g = nil
			err = fmt.Errorf("contract %s: unexpected AST shape: %v", c.Name, r)
			b.logger.Warn("contract expansion failed", slog.String("contract", c.Name), slog.Any("panic", r))
		}
	}()

	if c.DecodeErr != nil {
		b.logger.Warn("contract not decoded", slog.String("contract", c.Name), slog.Any("error", c.DecodeErr))
		return nil, fmt.Errorf("contract %s: %w", c.Name, c.DecodeErr)
	}

	roots := b.Roots(c)
	if len(roots) == 0 {
		return nil, fmt.Errorf("contract %s: %w", c.Name, ErrNoFunctions)
	}

	g = &ContractGraph{Name: c.Name, File: b.unitPath(c.ID())}
	for _, fn := range roots {
		g.Functions = append(g.Functions, b.expand(c, fn, CallInternal, make(map[int64]bool), 0))
	}
	g.Declarations = b.Declarations(c)

	b.logger.Debug("contract graph built",
		slog.String("contract", c.Name),
		slog.Int("roots", len(g.Functions)),
		slog.Int("declarations", g.Declarations.Total()),
	)
	return g, nil
}

// Roots returns the contract's entry functions: public and external
// functions, receive and fallback, never the constructor. The contract's own
// functions come first in source order, then inherited ones that no more
// derived contract overrides, in linearization order. View and pure
// functions are roots only with IncludeAll.
func (b *Builder) Roots(c *solast.ContractDefinition) []*solast.FunctionDefinition {
	var out []*solast.FunctionDefinition
	seen := make(map[string]bool)
	for _, base := range b.idx.Linearization(c) {
		for _, fn := range base.Functions() {
			key := fn.Kind + " " + normalizedSignature(fn)
			if seen[key] {
				continue
			}
			seen[key] = true
			if !IsEntry(fn) {
				continue
			}
			if !b.opts.IncludeAll && readOnly(fn.StateMutability) {
				continue
			}
			out = append(out, fn)
		}
	}
	return out
}

// IsEntry reports whether fn can be called from outside the contract.
func IsEntry(fn *solast.FunctionDefinition) bool {
	switch fn.Kind {
	case solast.FuncKindConstructor, solast.FuncKindFree:
		return false
	}
	if !fn.Implemented {
		return false
	}
	return fn.Visibility == "public" || fn.Visibility == "external"
}

func readOnly(mutability string) bool {
	return mutability == "view" || mutability == "pure"
}

// expand builds the subtree for decl called in the dispatch context ctx.
// active holds the declarations on the current path.
func (b *Builder) expand(ctx *solast.ContractDefinition, decl solast.Node, ct CallType, active map[int64]bool, depth int) *FunctionNode {
	n := b.describe(decl, ct)
	if active[decl.ID()] {
		n.BackRef = true
		return n
	}
	n.References = b.references(bodyOf(decl))

	calls := b.Calls(ctx, decl)
	if len(calls) == 0 {
		return n
	}
	if b.opts.MaxDepth > 0 && depth >= b.opts.MaxDepth {
		n.Truncated = true
		return n
	}

	active[decl.ID()] = true
	defer delete(active, decl.ID())
	for _, call := range calls {
		n.Children = append(n.Children, b.child(call, active, depth+1))
	}
	return n
}

func (b *Builder) child(call Call, active map[int64]bool, depth int) *FunctionNode {
	elide := call.Type.Dependency() && !b.opts.IncludeDeps
	if call.Target == nil {
		return &FunctionNode{
			Key:        "ext:" + call.Contract + "." + call.Name,
			Name:       call.Name,
			Contract:   call.Contract,
			Kind:       call.Kind,
			CallType:   call.Type,
			Elided:     elide,
			Unresolved: call.Kind == KindFunction,
		}
	}
	if elide {
		n := b.describe(call.Target, call.Type)
		n.Elided = true
		return n
	}
	return b.expand(call.Context, call.Target, call.Type, active, depth)
}

// describe fills the node fields that do not depend on expansion.
func (b *Builder) describe(decl solast.Node, ct CallType) *FunctionNode {
	n := &FunctionNode{
		Key:      strconv.FormatInt(decl.ID(), 10),
		DeclID:   decl.ID(),
		CallType: ct,
	}
	if owner := b.idx.Owner(decl.ID()); owner != nil {
		n.Contract = owner.Name
	}
	switch d := decl.(type) {
	case *solast.FunctionDefinition:
		n.Name = d.DisplayName()
		n.Kind = d.Kind
		if n.Kind == "" || n.Kind == solast.FuncKindFree {
			n.Kind = KindFunction
		}
		n.Signature = d.Signature()
		n.Mutability = d.StateMutability
		n.Visibility = d.Visibility
	case *solast.ModifierDefinition:
		n.Name = d.Name
		n.Kind = KindModifier
		n.Signature = d.Signature()
	default:
		panic(fmt.Sprintf("call target %d is a %s", decl.ID(), decl.Type()))
	}
	path := b.unitPath(decl.ID())
	n.File = path
	n.Snippet = b.src.snippet(path, decl.Src())
	n.Line = b.src.line(path, decl.Src().Start)
	return n
}

func (b *Builder) unitPath(id int64) string {
	if u := b.idx.Unit(id); u != nil {
		return u.AbsolutePath
	}
	return ""
}

// Line returns the 1-based line of a declaration, or 0 without sources.
func (b *Builder) Line(decl solast.Node) int {
	return b.src.line(b.unitPath(decl.ID()), decl.Src().Start)
}

func bodyOf(decl solast.Node) solast.Node {
	switch d := decl.(type) {
	case *solast.FunctionDefinition:
		return d.Body
	case *solast.ModifierDefinition:
		return d.Body
	}
	return nil
}
