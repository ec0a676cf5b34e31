package graph

import (
	"fmt"

	"github.com/zheng/argus/internal/solast"
)

// Indexer flattens the call graphs of one compilation into storage nodes and
// edges. Every function and modifier body reachable from an eligible
// contract or a library is visited once per dispatch context.
type Indexer struct {
	idx      *solast.Index
	builder  *Builder
	filter   func(path string) bool // nil means index every file
	nodeMap  map[int64]int64        // declaration id -> stored node id
	edgeSet  map[string]bool
	insertFn func(*Node) (int64, error)
	edgeFn   func(*Edge) error
}

// IndexStats summarizes an indexing pass.
type IndexStats struct {
	Contracts int
	Nodes     int
	Edges     int
}

// NewIndexer creates an indexer. insertFn stores a node and returns its id;
// it must return the existing id for a key that is already stored.
func NewIndexer(
	idx *solast.Index,
	sources SourceProvider,
	insertFn func(*Node) (int64, error),
	edgeFn func(*Edge) error,
) *Indexer {
	b := NewBuilder(idx, Options{IncludeAll: true, IncludeDeps: true})
	b.SetSources(sources)
	return &Indexer{
		idx:      idx,
		builder:  b,
		nodeMap:  make(map[int64]int64),
		edgeSet:  make(map[string]bool),
		insertFn: insertFn,
		edgeFn:   edgeFn,
	}
}

// SetFilter restricts indexing to declarations in files accepted by keep,
// e.g. project sources without vendored dependencies.
func (ix *Indexer) SetFilter(keep func(path string) bool) {
	ix.filter = keep
}

type pending struct {
	ctx  *solast.ContractDefinition
	decl solast.Node
}

// Build walks the compilation and stores nodes and edges.
func (ix *Indexer) Build() (IndexStats, error) {
	var (
		stats   IndexStats
		queue   []pending
		visited = make(map[[2]int64]bool)
	)
	push := func(ctx *solast.ContractDefinition, decl solast.Node) {
		k := [2]int64{ctx.ID(), decl.ID()}
		if visited[k] {
			return
		}
		visited[k] = true
		queue = append(queue, pending{ctx: ctx, decl: decl})
	}

	// First pass: seed every body of eligible contracts and libraries
	for _, c := range ix.idx.Contracts() {
		switch {
		case Eligible(c):
			if !ix.keep(c) {
				continue
			}
			stats.Contracts++
			for _, base := range ix.idx.Linearization(c) {
				for _, m := range base.Modifiers() {
					if m.Body != nil {
						push(c, m)
					}
				}
				for _, fn := range base.Functions() {
					if fn.Body != nil {
						push(c, ix.builder.dispatch(c, fn, nil))
					}
				}
			}
		case c.IsLibrary():
			for _, fn := range c.Functions() {
				if fn.Body != nil {
					push(c, fn)
				}
			}
		}
	}

	// Second pass: follow calls, storing both ends of every edge
	for len(queue) > 0 {
		p := queue[0]
		queue = queue[1:]

		fromID, ok, err := ix.ensure(p.decl)
		if err != nil {
			return stats, err
		}
		if !ok {
			continue
		}
		callerFile := ix.builder.unitPath(p.decl.ID())

		for _, call := range ix.builder.Calls(p.ctx, p.decl) {
			if call.Target == nil {
				continue
			}
			toID, ok, err := ix.ensure(call.Target)
			if err != nil {
				return stats, err
			}
			if !ok {
				continue
			}
			ctx := call.Context
			if ctx == nil {
				ctx = p.ctx
			}
			push(ctx, call.Target)

			kind := EdgeKindCalls
			if call.Modifier {
				kind = EdgeKindModifier
			}
			edgeKey := fmt.Sprintf("%d->%d:%s", fromID, toID, kind)
			if ix.edgeSet[edgeKey] {
				continue
			}
			ix.edgeSet[edgeKey] = true

			err = ix.edgeFn(&Edge{
				FromID:       fromID,
				ToID:         toID,
				Kind:         kind,
				CallType:     call.Type,
				CallSiteFile: callerFile,
				CallSiteLine: ix.builder.src.line(callerFile, call.Offset),
			})
			if err != nil {
				return stats, fmt.Errorf("failed to create edge: %w", err)
			}
			stats.Edges++
		}
	}

	stats.Nodes = len(ix.nodeMap)
	return stats, nil
}

func (ix *Indexer) keep(n solast.Node) bool {
	return ix.filter == nil || ix.filter(ix.builder.unitPath(n.ID()))
}

// ensure stores decl on first sight. The second result is false for
// declarations outside the filter.
func (ix *Indexer) ensure(decl solast.Node) (int64, bool, error) {
	if id, ok := ix.nodeMap[decl.ID()]; ok {
		return id, true, nil
	}
	if !ix.keep(decl) {
		return 0, false, nil
	}
	node := ix.node(decl)
	if node == nil {
		return 0, false, nil
	}
	id, err := ix.insertFn(node)
	if err != nil {
		return 0, false, fmt.Errorf("failed to create node for %s: %w", node.Key, err)
	}
	ix.nodeMap[decl.ID()] = id
	return id, true, nil
}

func (ix *Indexer) node(decl solast.Node) *Node {
	n := &Node{
		File: ix.builder.unitPath(decl.ID()),
		Line: ix.builder.Line(decl),
	}
	owner := ix.idx.Owner(decl.ID())
	switch d := decl.(type) {
	case *solast.FunctionDefinition:
		n.Kind = NodeKindFunction
		n.Name = d.DisplayName()
		n.Signature = d.Signature()
		n.Mutability = d.StateMutability
		n.Visibility = d.Visibility
		n.Doc = d.Documentation
		n.Entry = owner != nil && !owner.IsLibrary() && IsEntry(d)
	case *solast.ModifierDefinition:
		n.Kind = NodeKindModifier
		n.Name = d.Name
		n.Signature = d.Signature()
		n.Doc = d.Documentation
	default:
		return nil
	}
	if owner != nil {
		n.Contract = owner.Name
		n.Name = owner.Name + "." + n.Name
		n.Key = n.File + ":" + owner.Name + "." + n.Signature
	} else {
		n.Key = n.File + ":" + n.Signature
	}
	return n
}
