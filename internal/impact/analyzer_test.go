package impact

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zheng/argus/internal/graph"
	"github.com/zheng/argus/internal/storage"
)

func setup(t *testing.T) *Analyzer {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "argus.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	ids := make(map[string]int64)
	add := func(contract, name string, entry bool) {
		n := &graph.Node{
			Kind:       graph.NodeKindFunction,
			Key:        "src/" + contract + ".sol:" + contract + "." + name + "()",
			Name:       contract + "." + name,
			Contract:   contract,
			File:       "src/" + contract + ".sol",
			Line:       len(ids) + 1,
			Signature:  name + "()",
			Visibility: "internal",
		}
		if entry {
			n.Visibility = "external"
		}
		n.Entry = entry
		id, err := db.InsertNode(n)
		require.NoError(t, err)
		ids[n.Name] = id
	}
	add("Vault", "deposit", true)
	add("Vault", "withdraw", true)
	add("Vault", "_credit", false)
	add("Vault", "_debit", false)
	add("Ledger", "_write", false)
	add("Ledger", "_hash", false)
	add("Pool", "_debit", false)

	for _, e := range [][2]string{
		{"Vault.deposit", "Vault._credit"}, {"Vault.withdraw", "Vault._debit"},
		{"Vault._credit", "Ledger._write"}, {"Vault._debit", "Ledger._write"},
		{"Ledger._write", "Ledger._hash"},
	} {
		require.NoError(t, db.InsertEdge(&graph.Edge{
			FromID: ids[e[0]], ToID: ids[e[1]], Kind: graph.EdgeKindCalls, CallType: graph.CallInternal,
		}))
	}
	return NewAnalyzer(db)
}

func nodeNames(nodes []*graph.Node) []string {
	var out []string
	for _, n := range nodes {
		out = append(out, n.Name)
	}
	return out
}

func TestAnalyzeImpact(t *testing.T) {
	a := setup(t)

	report, err := a.AnalyzeImpact("Ledger._write", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, "Ledger._write", report.Target.Name)
	assert.ElementsMatch(t, []string{"Vault._credit", "Vault._debit"}, nodeNames(report.DirectCallers))
	assert.ElementsMatch(t, []string{"Vault.deposit", "Vault.withdraw"}, nodeNames(report.IndirectCallers))
	assert.Equal(t, []string{"Ledger._hash"}, nodeNames(report.DirectCallees))
	assert.Empty(t, report.IndirectCallees)
	assert.ElementsMatch(t, []string{"Vault.deposit", "Vault.withdraw"}, nodeNames(report.EntryPoints))
	assert.Equal(t, "low", report.RiskLevel)

	report, err = a.AnalyzeImpact("Ledger._write", 1, 1)
	require.NoError(t, err)
	assert.Empty(t, report.IndirectCallers)
	assert.Len(t, report.EntryPoints, 2)
}

func TestAnalyzeImpact_SameNameInOtherContract(t *testing.T) {
	a := setup(t)

	report, err := a.AnalyzeImpact("Vault._debit", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"Vault.withdraw"}, nodeNames(report.DirectCallers))
	assert.Equal(t, []string{"Ledger._write"}, nodeNames(report.DirectCallees))

	// Pool._debit shares the bare name but nothing calls it
	report, err = a.AnalyzeImpact("Pool._debit", 0, 0)
	require.NoError(t, err)
	assert.Empty(t, report.DirectCallers)
	assert.Empty(t, report.DirectCallees)
	assert.Empty(t, report.EntryPoints)
}

func TestResolve(t *testing.T) {
	a := setup(t)

	n, err := a.Resolve("src/Vault.sol:Vault.deposit()")
	require.NoError(t, err)
	assert.Equal(t, "Vault.deposit", n.Name)

	n, err = a.Resolve("_hash")
	require.NoError(t, err)
	assert.Equal(t, "Ledger._hash", n.Name)

	_, err = a.Resolve("_debit")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAmbiguous)

	_, err = a.Resolve("nothing")
	assert.Error(t, err)
}

func TestCalculateRiskLevel(t *testing.T) {
	assert.Equal(t, "low", CalculateRiskLevel(0, 0))
	assert.Equal(t, "medium", CalculateRiskLevel(3, 3))
	assert.Equal(t, "medium", CalculateRiskLevel(1, 10))
	assert.Equal(t, "high", CalculateRiskLevel(10, 10))
	assert.Equal(t, "critical", CalculateRiskLevel(2, 60))
}

func TestFormat(t *testing.T) {
	a := setup(t)
	report, err := a.AnalyzeImpact("Vault._credit", 0, 0)
	require.NoError(t, err)

	md := report.FormatMarkdown()
	assert.Contains(t, md, "## 变更影响分析: Vault._credit")
	assert.Contains(t, md, "### 入口函数")
	assert.Contains(t, md, "| Vault.deposit | external |")
	assert.Contains(t, md, "**风险等级:** low")

	tree := report.FormatTree()
	assert.Contains(t, tree, "🚪 入口函数 (共 1 个)")
	assert.Contains(t, tree, "└── src/Vault.sol:1")

	assert.Equal(t,
		"Target: Vault._credit(), Entry Points: 1, Direct Callers: 1, Indirect Callers: 0, Direct Callees: 1, Indirect Callees: 1, Risk: low",
		report.Summary())
}
