package argus

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zheng/argus/internal/artifact"
	"github.com/zheng/argus/internal/astfix"
	"github.com/zheng/argus/internal/graph"
	"github.com/zheng/argus/internal/render"
)

const artifactDir = "out/build-info"

func vault() *astfix.Gen {
	g := astfix.New()
	u := g.Unit("src/Vault.sol")
	deposited := u.Event("Deposited", "uint256")
	v := u.Contract("Vault")
	v.Func("deposit", "nonpayable", "external").Emits(deposited)
	v.Func("balanceOf", "view", "external").Params("address")
	transfer := v.Func("_transfer", "nonpayable", "internal")
	v.Func("withdraw", "nonpayable", "external").Calls(transfer)
	return g
}

// writeWorkspace writes the sources and the artifact of g into a fresh root.
func writeWorkspace(t *testing.T, g *astfix.Gen) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, g.WriteSources(root))
	_, err := g.WriteArtifact(filepath.Join(root, artifactDir), "build.json")
	require.NoError(t, err)
	return root
}

func TestGenerate_Vault(t *testing.T) {
	root := writeWorkspace(t, vault())
	gen := NewGenerator(root, artifactDir, nil, nil)

	res := gen.Generate(context.Background(), Request{Token: 7, Target: "src/Vault.sol"})
	require.Empty(t, res.Errors)
	assert.False(t, res.Empty)
	assert.Equal(t, uint64(7), res.Token)
	assert.Equal(t, "Vault", res.PrimaryContract)
	assert.Equal(t, "src/Vault.sol", res.Target)

	require.Len(t, res.Contracts, 1)
	c := res.Contracts[0]
	assert.Equal(t, "Vault", c.Name)
	assert.Equal(t, []string{"deposit", "withdraw"}, c.Roots())

	withdraw := c.Functions[1]
	require.Len(t, withdraw.Children, 1)
	assert.Equal(t, "_transfer", withdraw.Children[0].Name)
	assert.Equal(t, graph.CallInternal, withdraw.Children[0].CallType)
	assert.Contains(t, withdraw.Snippet, "function withdraw()")

	assert.Equal(t, 1, c.Declarations.Count(graph.DeclEvent))
	assert.Contains(t, res.HTML, `id="argus-Vault"`)
	assert.Contains(t, res.HTML, `id="argus-Vault-f1"`)
}

func TestGenerate_IncludeAll(t *testing.T) {
	root := writeWorkspace(t, vault())
	gen := NewGenerator(root, artifactDir, nil, nil)

	res := gen.Generate(context.Background(), Request{Target: "src/Vault.sol", IncludeAll: true})
	require.Len(t, res.Contracts, 1)
	assert.Equal(t, []string{"deposit", "balanceOf", "withdraw"}, res.Contracts[0].Roots())
}

func TestGenerate_Idempotent(t *testing.T) {
	root := writeWorkspace(t, vault())
	loader := artifact.NewLoader(nil, nil)
	gen := NewGenerator(root, artifactDir, loader, nil)

	first := gen.Generate(context.Background(), Request{Token: 1, Target: "src/Vault.sol"})
	second := gen.Generate(context.Background(), Request{Token: 2, Target: "src/Vault.sol"})
	assert.Equal(t, first.HTML, second.HTML)
	assert.EqualValues(t, 1, loader.Cache().Parses())
}

func TestGenerate_AbsoluteTarget(t *testing.T) {
	root := writeWorkspace(t, vault())
	gen := NewGenerator(root, artifactDir, nil, nil)

	res := gen.Generate(context.Background(), Request{Target: filepath.Join(root, "src", "Vault.sol")})
	require.Empty(t, res.Errors)
	assert.Equal(t, "Vault", res.PrimaryContract)
}

func TestGenerate_UnsavedBuffer(t *testing.T) {
	g := vault()
	root := writeWorkspace(t, g)
	gen := NewGenerator(root, artifactDir, nil, nil)

	edited := strings.ReplaceAll(g.Sources()["src/Vault.sol"], "withdraw", "WITHDRAW")
	res := gen.Generate(context.Background(), Request{Target: "src/Vault.sol", Source: []byte(edited)})
	require.Len(t, res.Contracts, 1)
	assert.Contains(t, res.Contracts[0].Functions[1].Snippet, "function WITHDRAW()")
}

func TestGenerate_MissingArtifact(t *testing.T) {
	gen := NewGenerator(t.TempDir(), artifactDir, nil, nil)

	res := gen.Generate(context.Background(), Request{Target: "src/Vault.sol"})
	require.Len(t, res.Errors, 1)
	assert.Equal(t, ProblemMissing, res.Errors[0].Kind)
	assert.Equal(t, render.ActionRebuild, res.Errors[0].Action)
	assert.Empty(t, res.Contracts)
	assert.False(t, res.Empty)
	assert.Contains(t, res.HTML, `data-kind="missing"`)
	assert.Contains(t, res.HTML, `data-action="rebuild"`)
}

func TestGenerate_Unresolved(t *testing.T) {
	root := writeWorkspace(t, vault())
	gen := NewGenerator(root, artifactDir, nil, nil)

	res := gen.Generate(context.Background(), Request{Target: "src/Other.sol"})
	require.Len(t, res.Errors, 1)
	p := res.Errors[0]
	assert.Equal(t, ProblemUnresolved, p.Kind)
	assert.Equal(t, render.ActionPickFile, p.Action)
	assert.Contains(t, p.Detail, "src/Vault.sol")
	assert.Contains(t, res.HTML, `data-action="pick-file"`)
}

func TestGenerate_NoEligibleContracts(t *testing.T) {
	g := astfix.New()
	u := g.Unit("src/Base.sol")
	u.Interface("IBase").Func("run", "nonpayable", "external").Unimplemented()
	u.Contract("Base").Abstract().Func("run", "nonpayable", "external")
	u.Library("Lib").Func("f", "pure", "internal")
	u.Contract("Reader").Func("get", "view", "external")
	root := writeWorkspace(t, g)
	gen := NewGenerator(root, artifactDir, nil, nil)

	res := gen.Generate(context.Background(), Request{Target: "src/Base.sol"})
	assert.Empty(t, res.Errors)
	assert.True(t, res.Empty)
	assert.Empty(t, res.PrimaryContract)
	assert.Contains(t, res.HTML, `data-kind="empty"`)

	// Reader has a view root once read-only functions are included
	res = gen.Generate(context.Background(), Request{Target: "src/Base.sol", IncludeAll: true})
	assert.False(t, res.Empty)
	assert.Equal(t, "Reader", res.PrimaryContract)
}

func TestGenerate_Canceled(t *testing.T) {
	root := writeWorkspace(t, vault())
	gen := NewGenerator(root, artifactDir, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := gen.Generate(ctx, Request{Target: "src/Vault.sol"})
	require.Len(t, res.Errors, 1)
	assert.Equal(t, ProblemCanceled, res.Errors[0].Kind)
}

// writeBrokenWorkspace writes g like writeWorkspace after letting breakAST
// edit the "ast" object of each source entry.
func writeBrokenWorkspace(t *testing.T, g *astfix.Gen, breakAST func(path string, ast map[string]any)) string {
	t.Helper()
	var doc struct {
		Format      string         `json:"_format"`
		SolcVersion string         `json:"solcVersion"`
		Output      map[string]any `json:"output"`
	}
	require.NoError(t, json.Unmarshal(g.Artifact(), &doc))
	sources := doc.Output["sources"].(map[string]any)
	for p, entry := range sources {
		breakAST(p, entry.(map[string]any)["ast"].(map[string]any))
	}
	data, err := json.Marshal(doc)
	require.NoError(t, err)

	root := t.TempDir()
	require.NoError(t, g.WriteSources(root))
	dir := filepath.Join(root, artifactDir)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "build.json"), data, 0o644))
	return root
}

func contractNode(ast map[string]any, name string) map[string]any {
	for _, n := range ast["nodes"].([]any) {
		m := n.(map[string]any)
		if m["nodeType"] == "ContractDefinition" && m["name"] == name {
			return m
		}
	}
	return nil
}

func TestGenerate_MalformedContractStaysLocal(t *testing.T) {
	g := astfix.New()
	u := g.Unit("src/Two.sol")
	good := u.Contract("Good")
	step := good.Func("_step", "nonpayable", "internal")
	good.Func("run", "nonpayable", "external").Calls(step)
	u.Contract("Bad").Func("run", "nonpayable", "external")

	root := writeBrokenWorkspace(t, g, func(_ string, ast map[string]any) {
		bad := contractNode(ast, "Bad")
		require.NotNil(t, bad)
		for _, n := range bad["nodes"].([]any) {
			if m := n.(map[string]any); m["nodeType"] == "FunctionDefinition" {
				m["modifiers"] = "unexpected"
			}
		}
	})
	gen := NewGenerator(root, artifactDir, nil, nil)

	res := gen.Generate(context.Background(), Request{Target: "src/Two.sol"})
	require.Len(t, res.Contracts, 1)
	assert.Equal(t, "Good", res.Contracts[0].Name)
	assert.Equal(t, []string{"run"}, res.Contracts[0].Roots())
	assert.Equal(t, "Good", res.PrimaryContract)
	assert.False(t, res.Empty)

	require.Len(t, res.Errors, 1)
	p := res.Errors[0]
	assert.Equal(t, ProblemContract, p.Kind)
	assert.Equal(t, "Bad", p.Contract)
	assert.Contains(t, p.Message, "contract Bad")
	assert.Contains(t, p.Message, "modifiers")
	assert.Contains(t, res.HTML, `id="argus-Good"`)
	assert.Contains(t, res.HTML, `data-kind="contract"`)
}

func TestGenerate_SkippedTarget(t *testing.T) {
	g := vault()
	g.Unit("src/Broken.sol").Contract("Broken").Func("run", "nonpayable", "external")

	root := writeBrokenWorkspace(t, g, func(path string, ast map[string]any) {
		if path == "src/Broken.sol" {
			ast["nodes"] = "bad"
		}
	})
	gen := NewGenerator(root, artifactDir, nil, nil)

	res := gen.Generate(context.Background(), Request{Target: "src/Broken.sol"})
	require.Len(t, res.Errors, 1)
	p := res.Errors[0]
	assert.Equal(t, ProblemMalformed, p.Kind)
	assert.Equal(t, render.ActionRebuild, p.Action)
	assert.Contains(t, p.Message, "could not be used")
	assert.Contains(t, p.Detail, "src/Broken.sol: ")
	assert.NotContains(t, p.Detail, "Available units")

	// the healthy unit of the same build still renders
	res = gen.Generate(context.Background(), Request{Target: "src/Vault.sol"})
	require.Empty(t, res.Errors)
	assert.Equal(t, "Vault", res.PrimaryContract)
}
