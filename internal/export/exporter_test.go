package export

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zheng/argus/internal/graph"
	"github.com/zheng/argus/internal/storage"
)

func index(t *testing.T) *storage.DB {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "argus.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	ids := make(map[string]int64)
	for _, n := range []*graph.Node{
		{Kind: graph.NodeKindFunction, Name: "Vault.deposit", Contract: "Vault", File: "src/Vault.sol", Line: 5, Signature: "deposit()", Visibility: "external", Mutability: "payable", Entry: true, Doc: "Deposits ether"},
		{Kind: graph.NodeKindFunction, Name: "Vault._credit", Contract: "Vault", File: "src/Vault.sol", Line: 9, Signature: "_credit()", Visibility: "internal"},
		{Kind: graph.NodeKindModifier, Name: "Vault.whenLive", Contract: "Vault", File: "src/Vault.sol", Line: 2, Signature: "whenLive()"},
		{Kind: graph.NodeKindFunction, Name: "Ledger._write", Contract: "Ledger", File: "src/ledger/Ledger.sol", Line: 3, Signature: "_write()", Visibility: "internal"},
	} {
		n.Key = n.File + ":" + n.Name + "()"
		id, err := db.InsertNode(n)
		require.NoError(t, err)
		ids[n.Name] = id
	}
	for _, e := range []struct {
		from, to string
		kind     graph.EdgeKind
	}{
		{"Vault.deposit", "Vault._credit", graph.EdgeKindCalls},
		{"Vault.deposit", "Vault.whenLive", graph.EdgeKindModifier},
		{"Vault._credit", "Ledger._write", graph.EdgeKindCalls},
	} {
		require.NoError(t, db.InsertEdge(&graph.Edge{FromID: ids[e.from], ToID: ids[e.to], Kind: e.kind, CallType: graph.CallInternal}))
	}
	return db
}

func fixedOptions() ExportOptions {
	opts := DefaultExportOptions()
	opts.ProjectName = "Vault "
	opts.Now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }
	return opts
}

func TestExportIndex(t *testing.T) {
	var sb strings.Builder
	require.NoError(t, NewExporter(index(t)).ExportIndex(&sb, fixedOptions()))
	out := sb.String()

	assert.Contains(t, out, "# Vault 调用图谱")
	assert.Contains(t, out, "> 生成时间: 2026-01-02 03:04:05")
	assert.Contains(t, out, "> 函数节点: 4 | 调用边: 3 | 合约: 2")
	assert.Contains(t, out, "src/ledger/\n├── Ledger.sol  (Ledger)")
	assert.Contains(t, out, "subgraph n_Vault [Vault]")
	assert.Contains(t, out, "### 📦 Vault")
	assert.Contains(t, out, "| `deposit` | external 🚪 | Deposits ether | 0 | 2 |")
	assert.Contains(t, out, "| `whenLive` | modifier | - | 1 | 0 |")
	assert.Contains(t, out, "- **调用**: ")
	assert.Contains(t, out, "| `Ledger._write` | src/ledger/Ledger.sol:3 | 1 | 1 | 🟢 |")

	// entry points sort before internal functions
	assert.Less(t, strings.Index(out, "| `deposit`"), strings.Index(out, "| `_credit`"))
}

func TestExportIncremental(t *testing.T) {
	ex := NewExporter(index(t))

	var sb strings.Builder
	require.NoError(t, ex.ExportIncremental(&sb, []string{"src/ledger/Ledger.sol"}, fixedOptions()))
	out := sb.String()
	assert.Contains(t, out, "> 变更文件: 1 | 变更函数: 1")
	assert.Contains(t, out, "### ⚠️ `Ledger._write`")
	assert.Contains(t, out, "**可达入口**: `Vault.deposit`")
	assert.Contains(t, out, "| `Vault._credit` | src/Vault.sol | 9 |")

	sb.Reset()
	require.NoError(t, ex.ExportIncremental(&sb, nil, fixedOptions()))
	assert.Contains(t, sb.String(), "没有检测到变更")
}

func TestExportIndex_NoDatabase(t *testing.T) {
	var sb strings.Builder
	assert.Error(t, NewExporter(nil).ExportIndex(&sb, fixedOptions()))
}
