package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zheng/argus/internal/argus"
	"github.com/zheng/argus/internal/astfix"
)

func fixture(t *testing.T) string {
	t.Helper()
	g := astfix.New()
	v := g.Unit("src/Vault.sol").Contract("Vault")
	transfer := v.Func("_transfer", "nonpayable", "internal")
	v.Func("withdraw", "nonpayable", "external").Calls(transfer)
	v.Func("balanceOf", "view", "external")

	root := t.TempDir()
	require.NoError(t, g.WriteSources(root))
	_, err := g.WriteArtifact(filepath.Join(root, "out", "build-info"), "build.json")
	require.NoError(t, err)
	return root
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := NewRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestGraphCmd_Text(t *testing.T) {
	root := fixture(t)
	out, err := run(t, "--root", root, "graph", "src/Vault.sol")
	require.NoError(t, err)

	assert.Contains(t, out, "📦 Vault")
	assert.Contains(t, out, "withdraw")
	assert.Contains(t, out, "_transfer")
	assert.NotContains(t, out, "balanceOf")
}

func TestGraphCmd_JSON(t *testing.T) {
	root := fixture(t)
	out, err := run(t, "--root", root, "graph", "src/Vault.sol", "--all", "--format", "json")
	require.NoError(t, err)

	var res argus.Result
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	require.Len(t, res.Contracts, 1)
	assert.ElementsMatch(t, []string{"withdraw", "balanceOf"}, res.Contracts[0].Roots())
}

func TestGraphCmd_MissingTarget(t *testing.T) {
	root := fixture(t)
	_, err := run(t, "--root", root, "graph", "src/Nope.sol")
	require.Error(t, err)
}

func TestIndexCmd(t *testing.T) {
	root := fixture(t)
	_, err := run(t, "--root", root, "--db", "index.db", "index")
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(root, "index.db"))
	require.NoError(t, err)

	db, err := openDB()
	require.NoError(t, err)
	defer db.Close()
	nodes, edges, err := db.GetStats()
	require.NoError(t, err)
	assert.EqualValues(t, 3, nodes)
	assert.EqualValues(t, 1, edges)
}

func TestWriteGraph_HTML(t *testing.T) {
	var sb strings.Builder
	res := &argus.Result{HTML: `<section class="argus-contract"></section>`}
	require.NoError(t, writeGraph(&sb, res, "html", "src/Vault.sol"))
	assert.Contains(t, sb.String(), "argus: src/Vault.sol")
	assert.Contains(t, sb.String(), `<section class="argus-contract">`)
}
