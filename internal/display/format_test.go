package display

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/zheng/argus/internal/graph"
	"github.com/zheng/argus/internal/storage"
)

func TestFunctionTree(t *testing.T) {
	roots := []*graph.FunctionNode{
		{Name: "deposit", Contract: "Vault", CallType: graph.CallInternal, File: "src/Vault.sol", Line: 12},
		{
			Name: "withdraw", Contract: "Vault", CallType: graph.CallInternal,
			Children: []*graph.FunctionNode{
				{
					Name: "_transfer", Contract: "Vault", CallType: graph.CallInternal,
					Children: []*graph.FunctionNode{
						{Name: "safeTransfer", Contract: "SafeERC20", CallType: graph.CallLibrary, Elided: true},
					},
				},
				{Name: "withdraw", Contract: "Vault", CallType: graph.CallInternal, BackRef: true},
				{Name: "price", Contract: "Oracle", CallType: graph.CallExternal, Mutability: "view"},
			},
		},
	}

	want := "deposit [internal]  src/Vault.sol:12\n" +
		"withdraw [internal]\n" +
		"├── _transfer [internal]\n" +
		"│   └── SafeERC20.safeTransfer [library] ⋯ 依赖\n" +
		"├── withdraw [internal] ↻ 递归\n" +
		"└── Oracle.price [external] view\n"
	assert.Equal(t, want, FunctionTree(roots, NewStyles(false)))
}

func TestLabel(t *testing.T) {
	assert.Equal(t, "receive", Label(&graph.FunctionNode{Kind: graph.KindReceive, Contract: "Vault", CallType: graph.CallInternal}))
	assert.Equal(t, "Base.hook", Label(&graph.FunctionNode{Name: "hook", Contract: "Base", CallType: graph.CallInherited}))
	assert.Equal(t, "call", Label(&graph.FunctionNode{Name: "call", Kind: graph.KindLowLevel, CallType: graph.CallExternal}))
}

func TestFormatCallTree(t *testing.T) {
	leaf := &storage.CallTreeNode{Node: &graph.Node{Name: "Ledger._write", File: "src/Ledger.sol", Line: 3}, Cycle: true}
	tree := []*storage.CallTreeNode{
		{Node: &graph.Node{Name: "Vault._credit", File: "src/Vault.sol", Line: 9}, Children: []*storage.CallTreeNode{leaf}},
	}

	width, depth := 0, 0
	CalcTreeMaxWidth(tree, &width, 0, &depth)
	assert.Equal(t, len("Vault._credit"), width)
	assert.Equal(t, 1, depth)

	out := FormatCallTree(tree, "", width, depth, 0, NewStyles(false))
	assert.Equal(t,
		"└── Vault._credit      src/Vault.sol:9\n"+
			"    └── Ledger._write  src/Ledger.sol:3 ↻\n",
		out)
}
