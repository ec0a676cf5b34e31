package export

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zheng/argus/internal/argus"
	"github.com/zheng/argus/internal/graph"
)

func result() *argus.Result {
	transfer := &graph.FunctionNode{Key: "12", Name: "_transfer", Contract: "Vault", CallType: graph.CallInternal}
	return &argus.Result{
		Target:          "src/Vault.sol",
		PrimaryContract: "Vault",
		Contracts: []argus.ContractView{{
			Name: "Vault",
			File: "src/Vault.sol",
			Functions: []*graph.FunctionNode{
				{Key: "10", Name: "deposit", Contract: "Vault", Signature: "deposit()", CallType: graph.CallInternal,
					Snippet: "function deposit() external {}", File: "src/Vault.sol", Line: 4},
				{Key: "11", Name: "withdraw", Contract: "Vault", Signature: "withdraw()", CallType: graph.CallInternal,
					Children: []*graph.FunctionNode{
						transfer,
						{Key: "12", Name: "_transfer", Contract: "Vault", CallType: graph.CallInternal, BackRef: true},
						{Key: "ext:IERC20.transfer", Name: "transfer", Contract: "IERC20", CallType: graph.CallExternal, Elided: true},
					}},
			},
			Declarations: graph.DeclarationSummary{
				Events: []graph.Declaration{{Kind: graph.DeclEvent, Name: "Deposited", Qualified: "Vault.Deposited"}},
			},
		}},
	}
}

func TestExport_Report(t *testing.T) {
	var sb strings.Builder
	opts := DefaultReportOptions()
	opts.IncludeSnippets = true
	require.NoError(t, NewExporter(nil).Export(&sb, result(), opts))
	out := sb.String()

	assert.Contains(t, out, "# Vault 调用图谱")
	assert.Contains(t, out, "> 合约: 1 | 根函数: 2 | 问题: 0")
	assert.Contains(t, out, "| `Vault` | src/Vault.sol | 2 | 5 | 1 | 0 | 0 | 0 | 0 |")
	assert.Contains(t, out, "├── _transfer [internal]")
	assert.Contains(t, out, "└── IERC20.transfer [external] ⋯ 依赖")
	assert.Contains(t, out, "```mermaid\nflowchart LR\n")
	assert.Contains(t, out, `    n_11 -->|internal| n_12`)
	assert.Contains(t, out, `    n_ext_IERC20_transfer(["IERC20.transfer"])`)
	assert.Equal(t, 1, strings.Count(out, "n_11 -->|internal| n_12"))
	assert.Contains(t, out, "```solidity\nfunction deposit() external {}\n```")
	assert.Contains(t, out, "- **Events (1)**: `Vault.Deposited`")
}

func TestExport_Problems(t *testing.T) {
	var sb strings.Builder
	res := &argus.Result{
		Target: "src/Vault.sol",
		Errors: []argus.Problem{{Kind: argus.ProblemMissing, Message: "No build output found"}},
	}
	require.NoError(t, NewExporter(nil).Export(&sb, res, ReportOptions{}))
	assert.Contains(t, sb.String(), "# src/Vault.sol 调用图谱")
	assert.Contains(t, sb.String(), "- **missing**: No build output found")
	assert.NotContains(t, sb.String(), "合约概览")
}
