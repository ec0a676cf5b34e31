package graph_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zheng/argus/internal/astfix"
	"github.com/zheng/argus/internal/graph"
)

type memStore struct {
	nodes []*graph.Node
	byKey map[string]int64
	edges []*graph.Edge
}

func newMemStore() *memStore {
	return &memStore{byKey: make(map[string]int64)}
}

func (m *memStore) insert(n *graph.Node) (int64, error) {
	if id, ok := m.byKey[n.Key]; ok {
		return id, nil
	}
	n.ID = int64(len(m.nodes) + 1)
	m.nodes = append(m.nodes, n)
	m.byKey[n.Key] = n.ID
	return n.ID, nil
}

func (m *memStore) edge(e *graph.Edge) error {
	m.edges = append(m.edges, e)
	return nil
}

func (m *memStore) node(key string) *graph.Node {
	if id, ok := m.byKey[key]; ok {
		return m.nodes[id-1]
	}
	return nil
}

func (m *memStore) hasEdge(from, to string, kind graph.EdgeKind) *graph.Edge {
	f, t := m.node(from), m.node(to)
	if f == nil || t == nil {
		return nil
	}
	for _, e := range m.edges {
		if e.FromID == f.ID && e.ToID == t.ID && e.Kind == kind {
			return e
		}
	}
	return nil
}

func TestIndexer(t *testing.T) {
	g := astfix.New()
	dep := g.Unit("lib/oz/Ownable.sol")
	ownable := dep.Contract("Ownable").Abstract()
	checkOwner := ownable.Func("_checkOwner", "view", "internal")
	onlyOwner := ownable.Modifier("onlyOwner")
	onlyOwner.Calls(checkOwner)

	u := g.Unit("src/Vault.sol").Import(dep)
	math := u.Library("SafeMath")
	add := math.Func("add", "pure", "internal")
	vault := u.Contract("Vault").Inherits(ownable)
	move := vault.Func("_move", "nonpayable", "internal").Params("uint256").CallsLibrary(add)
	vault.Func("withdraw", "nonpayable", "external").Params("uint256").With(onlyOwner).Calls(move)
	vault.Func("sweep", "nonpayable", "external").Calls(move, move)

	idx, src := compile(t, g, "lib/oz/Ownable.sol", "src/Vault.sol")
	store := newMemStore()
	ix := graph.NewIndexer(idx, src, store.insert, store.edge)
	ix.SetFilter(func(path string) bool { return !strings.HasPrefix(path, "lib/") })

	stats, err := ix.Build()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Contracts)

	withdraw := store.node("src/Vault.sol:Vault.withdraw(uint256)")
	require.NotNil(t, withdraw)
	assert.True(t, withdraw.Entry)
	assert.Equal(t, "Vault.withdraw", withdraw.Name)
	assert.Equal(t, "withdraw", withdraw.ShortName())
	assert.Equal(t, graph.NodeKindFunction, withdraw.Kind)
	assert.Greater(t, withdraw.Line, 0)

	moveNode := store.node("src/Vault.sol:Vault._move(uint256)")
	require.NotNil(t, moveNode)
	assert.False(t, moveNode.Entry)

	libAdd := store.node("src/Vault.sol:SafeMath.add()")
	require.NotNil(t, libAdd)
	assert.False(t, libAdd.Entry)

	e := store.hasEdge("src/Vault.sol:Vault.withdraw(uint256)", "src/Vault.sol:Vault._move(uint256)", graph.EdgeKindCalls)
	require.NotNil(t, e)
	assert.Equal(t, graph.CallInternal, e.CallType)
	assert.Equal(t, "src/Vault.sol", e.CallSiteFile)
	assert.Greater(t, e.CallSiteLine, withdraw.Line-1)

	e = store.hasEdge("src/Vault.sol:Vault._move(uint256)", "src/Vault.sol:SafeMath.add()", graph.EdgeKindCalls)
	require.NotNil(t, e)
	assert.Equal(t, graph.CallLibrary, e.CallType)

	// the vendored modifier is filtered out together with its edges
	for _, n := range store.nodes {
		assert.False(t, strings.HasPrefix(n.File, "lib/"), n.Key)
	}

	// sweep calls _move twice, stored once
	count := 0
	sweep := store.node("src/Vault.sol:Vault.sweep()")
	require.NotNil(t, sweep)
	for _, e := range store.edges {
		if e.FromID == sweep.ID {
			count++
		}
	}
	assert.Equal(t, 1, count)
	assert.Equal(t, len(store.edges), stats.Edges)
	assert.Equal(t, len(store.nodes), stats.Nodes)
}

func TestIndexer_ModifierEdges(t *testing.T) {
	g := astfix.New()
	c := g.Unit("src/Guard.sol").Contract("Guard")
	check := c.Func("_check", "view", "internal")
	only := c.Modifier("guarded").Calls(check)
	c.Func("run", "nonpayable", "external").With(only)

	idx, src := compile(t, g, "src/Guard.sol")
	store := newMemStore()
	_, err := graph.NewIndexer(idx, src, store.insert, store.edge).Build()
	require.NoError(t, err)

	mod := store.node("src/Guard.sol:Guard.guarded()")
	require.NotNil(t, mod)
	assert.Equal(t, graph.NodeKindModifier, mod.Kind)
	assert.NotNil(t, store.hasEdge("src/Guard.sol:Guard.run()", "src/Guard.sol:Guard.guarded()", graph.EdgeKindModifier))
	assert.NotNil(t, store.hasEdge("src/Guard.sol:Guard.guarded()", "src/Guard.sol:Guard._check()", graph.EdgeKindCalls))
}
