package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zheng/argus/internal/graph"
)

func openTemp(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "argus.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func fn(contract, name, file string, entry bool) *graph.Node {
	return &graph.Node{
		Kind:       graph.NodeKindFunction,
		Key:        file + ":" + contract + "." + name + "()",
		Name:       contract + "." + name,
		Contract:   contract,
		File:       file,
		Line:       10,
		Signature:  name + "()",
		Mutability: "nonpayable",
		Visibility: "external",
		Entry:      entry,
	}
}

// seed stores deposit -> _credit -> _write and withdraw -> _debit -> _write,
// plus a recursion _write -> _write.
func seed(t *testing.T, db *DB) map[string]int64 {
	t.Helper()
	ids := make(map[string]int64)
	for _, n := range []*graph.Node{
		fn("Vault", "deposit", "src/Vault.sol", true),
		fn("Vault", "withdraw", "src/Vault.sol", true),
		fn("Vault", "_credit", "src/Vault.sol", false),
		fn("Vault", "_debit", "src/Vault.sol", false),
		fn("Ledger", "_write", "src/Ledger.sol", false),
	} {
		id, err := db.InsertNode(n)
		require.NoError(t, err)
		ids[n.Name[len(n.Contract)+1:]] = id
	}
	for _, e := range [][2]string{
		{"deposit", "_credit"}, {"_credit", "_write"},
		{"withdraw", "_debit"}, {"_debit", "_write"},
		{"_write", "_write"},
	} {
		require.NoError(t, db.InsertEdge(&graph.Edge{
			FromID: ids[e[0]], ToID: ids[e[1]], Kind: graph.EdgeKindCalls,
			CallType: graph.CallInternal, CallSiteFile: "src/Vault.sol", CallSiteLine: 12,
		}))
	}
	return ids
}

func names(nodes []*graph.Node) []string {
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n.ShortName())
	}
	return out
}

func TestInsertNode_Upsert(t *testing.T) {
	db := openTemp(t)
	n := fn("Vault", "deposit", "src/Vault.sol", true)
	id1, err := db.InsertNode(n)
	require.NoError(t, err)

	again := fn("Vault", "deposit", "src/Vault.sol", true)
	again.Line = 42
	id2, err := db.InsertNode(again)
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	got, err := db.GetNodeByKey(n.Key)
	require.NoError(t, err)
	assert.Equal(t, 42, got.Line)
	assert.True(t, got.Entry)
	assert.Equal(t, "Vault", got.Contract)

	nodes, edges, err := db.GetStats()
	require.NoError(t, err)
	assert.EqualValues(t, 1, nodes)
	assert.EqualValues(t, 0, edges)
}

func TestInsertEdge_IgnoresDuplicates(t *testing.T) {
	db := openTemp(t)
	ids := seed(t, db)
	require.NoError(t, db.InsertEdge(&graph.Edge{FromID: ids["deposit"], ToID: ids["_credit"], Kind: graph.EdgeKindCalls}))

	edges, err := db.GetCallEdgesForNode(ids["deposit"])
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, graph.CallInternal, edges[0].CallType)
	assert.Equal(t, 12, edges[0].CallSiteLine)
}

func TestUpstreamDownstream(t *testing.T) {
	db := openTemp(t)
	ids := seed(t, db)

	up, err := db.GetUpstreamCallers(ids["_write"], 0)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"deposit", "withdraw", "_credit", "_debit", "_write"}, names(up))

	up, err = db.GetUpstreamCallers(ids["_write"], 1)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"_credit", "_debit", "_write"}, names(up))

	down, err := db.GetDownstreamCallees(ids["deposit"], 0)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"_credit", "_write"}, names(down))

	entries, err := db.GetEntryPointsReaching(ids["_write"])
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"deposit", "withdraw"}, names(entries))

	entries, err = db.GetEntryPointsReaching(ids["deposit"])
	require.NoError(t, err)
	assert.Equal(t, []string{"deposit"}, names(entries))
}

func TestCallTree_StopsOnCycle(t *testing.T) {
	db := openTemp(t)
	ids := seed(t, db)

	tree, err := db.GetDownstreamCallTree(ids["deposit"], 0)
	require.NoError(t, err)
	require.Len(t, tree, 1)
	credit := tree[0]
	require.Len(t, credit.Children, 1)
	write := credit.Children[0]
	require.Len(t, write.Children, 1)
	assert.True(t, write.Children[0].Cycle)

	tree, err = db.GetUpstreamCallTree(ids["_credit"], 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"deposit"}, []string{tree[0].Node.ShortName()})
	assert.Empty(t, tree[0].Children)
}

func TestFindNodesByPattern(t *testing.T) {
	db := openTemp(t)
	seed(t, db)

	nodes, err := db.FindNodesByPattern("deposit")
	require.NoError(t, err)
	require.NotEmpty(t, nodes)
	assert.Equal(t, "Vault.deposit", nodes[0].Name)

	nodes, err = db.FindNodesByPattern("Vault.")
	require.NoError(t, err)
	assert.Len(t, nodes, 4)
}

func TestDeleteNodesByFile(t *testing.T) {
	db := openTemp(t)
	ids := seed(t, db)

	n, err := db.DeleteNodesByFile([]string{"src/Ledger.sol"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	callees, err := db.GetDirectCallees(ids["_credit"])
	require.NoError(t, err)
	assert.Empty(t, callees)

	orphans, err := db.DeleteOrphanEdges()
	require.NoError(t, err)
	assert.EqualValues(t, 0, orphans)

	rest, err := db.GetNodesByFile([]string{"src/Vault.sol", "src/Ledger.sol"})
	require.NoError(t, err)
	assert.Len(t, rest, 4)
}

func TestGetContracts(t *testing.T) {
	db := openTemp(t)
	seed(t, db)

	cs, err := db.GetContracts()
	require.NoError(t, err)
	require.Len(t, cs, 2)
	assert.Equal(t, "Ledger", cs[0].Name)
	assert.Equal(t, "Vault", cs[1].Name)
	assert.Equal(t, 4, cs[1].Functions)
	assert.Equal(t, 2, cs[1].Entries)

	count, err := db.GetDirectCallerCount(must(t, db, "Ledger._write"))
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestGetMostCalled(t *testing.T) {
	db := openTemp(t)
	seed(t, db)

	top, err := db.GetMostCalled(2)
	require.NoError(t, err)
	require.Len(t, top, 2)
	// the self-call on _write is not counted
	assert.Equal(t, "Ledger._write", top[0].Node.Name)
	assert.Equal(t, 2, top[0].DirectCallers)
	assert.Equal(t, 1, top[1].DirectCallers)
}

func must(t *testing.T, db *DB, name string) int64 {
	t.Helper()
	n, err := db.GetNodeByName(name)
	require.NoError(t, err)
	return n.ID
}
