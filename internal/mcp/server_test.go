package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zheng/argus/internal/argus"
	"github.com/zheng/argus/internal/astfix"
	"github.com/zheng/argus/internal/graph"
	"github.com/zheng/argus/internal/storage"
)

func seed(t *testing.T) *storage.DB {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "argus.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	ids := map[string]int64{}
	for _, n := range []struct {
		name  string
		entry bool
	}{{"deposit", true}, {"_credit", false}, {"_write", false}} {
		id, err := db.InsertNode(&graph.Node{
			Kind: graph.NodeKindFunction, Key: "src/Vault.sol:Vault." + n.name + "()",
			Name: "Vault." + n.name, Contract: "Vault", File: "src/Vault.sol", Line: 5,
			Signature: n.name + "()", Visibility: "internal", Entry: n.entry,
		})
		require.NoError(t, err)
		ids[n.name] = id
	}
	require.NoError(t, db.InsertEdge(&graph.Edge{FromID: ids["deposit"], ToID: ids["_credit"], Kind: graph.EdgeKindCalls, CallType: graph.CallInternal}))
	require.NoError(t, db.InsertEdge(&graph.Edge{FromID: ids["_credit"], ToID: ids["_write"], Kind: graph.EdgeKindCalls, CallType: graph.CallInternal}))
	return db
}

// call runs the server over the given request lines and returns the decoded
// responses in order.
func call(t *testing.T, s *Server, lines ...string) []Response {
	t.Helper()
	var out strings.Builder
	s.input = strings.NewReader(strings.Join(lines, "\n") + "\n")
	s.output = &out
	require.NoError(t, s.Run(context.Background()))

	var resps []Response
	sc := bufio.NewScanner(strings.NewReader(out.String()))
	sc.Buffer(make([]byte, 1024*1024), 1024*1024)
	for sc.Scan() {
		var r Response
		require.NoError(t, json.Unmarshal(sc.Bytes(), &r))
		resps = append(resps, r)
	}
	return resps
}

func toolText(t *testing.T, r Response) (string, bool) {
	t.Helper()
	b, err := json.Marshal(r.Result)
	require.NoError(t, err)
	var res ToolCallResult
	require.NoError(t, json.Unmarshal(b, &res))
	require.Len(t, res.Content, 1)
	return res.Content[0].Text, res.IsError
}

func TestServer_Protocol(t *testing.T) {
	s := NewServerIO(seed(t), nil, nil, nil, nil)
	resps := call(t, s,
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`,
		`{"jsonrpc":"2.0","method":"notifications/initialized"}`,
		`{"jsonrpc":"2.0","id":2,"method":"tools/list"}`,
		`not json`,
		`{"jsonrpc":"2.0","id":3,"method":"nope"}`,
	)
	require.Len(t, resps, 4)
	assert.Nil(t, resps[0].Error)
	assert.Contains(t, toJSON(t, resps[1].Result), `"callgraph"`)
	assert.Equal(t, -32700, resps[2].Error.Code)
	assert.Equal(t, -32601, resps[3].Error.Code)
}

func toJSON(t *testing.T, v interface{}) string {
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return string(b)
}

func TestServer_QueryTools(t *testing.T) {
	s := NewServerIO(seed(t), nil, nil, nil, nil)
	resps := call(t, s,
		`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"upstream","arguments":{"function":"Vault._write"}}}`,
		`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"downstream","arguments":{"function":"deposit","depth":1}}}`,
		`{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"impact","arguments":{"function":"_write"}}}`,
		`{"jsonrpc":"2.0","id":4,"method":"tools/call","params":{"name":"contracts","arguments":{}}}`,
		`{"jsonrpc":"2.0","id":5,"method":"tools/call","params":{"name":"search","arguments":{"pattern":"cred"}}}`,
		`{"jsonrpc":"2.0","id":6,"method":"tools/call","params":{"name":"upstream","arguments":{"function":"missing"}}}`,
		`{"jsonrpc":"2.0","id":7,"method":"tools/call","params":{"name":"callgraph","arguments":{"file":"src/Vault.sol"}}}`,
	)
	require.Len(t, resps, 7)

	text, isErr := toolText(t, resps[0])
	assert.False(t, isErr)
	assert.Contains(t, text, "Vault._credit")
	assert.Contains(t, text, "Vault.deposit")

	text, _ = toolText(t, resps[1])
	assert.Contains(t, text, "Vault._credit")
	assert.NotContains(t, text, "Vault._write")

	text, _ = toolText(t, resps[2])
	assert.Contains(t, text, "入口函数")
	assert.Contains(t, text, "Vault.deposit")

	text, _ = toolText(t, resps[3])
	assert.Contains(t, text, "| Vault | src/Vault.sol | 3 | 0 | 1 |")

	text, _ = toolText(t, resps[4])
	assert.Contains(t, text, "找到 1 个匹配")

	_, isErr = toolText(t, resps[5])
	assert.True(t, isErr)

	_, isErr = toolText(t, resps[6])
	assert.True(t, isErr)
}

func TestServer_Callgraph(t *testing.T) {
	g := astfix.New()
	v := g.Unit("src/Vault.sol").Contract("Vault")
	credit := v.Func("_credit", "nonpayable", "internal")
	v.Func("deposit", "payable", "external").Calls(credit)

	root := t.TempDir()
	require.NoError(t, g.WriteSources(root))
	_, err := g.WriteArtifact(filepath.Join(root, "out", "build-info"), "build.json")
	require.NoError(t, err)

	gen := argus.NewGenerator(root, "out/build-info", nil, nil)
	s := NewServerIO(seed(t), gen, nil, nil, nil)
	resps := call(t, s,
		`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"callgraph","arguments":{"file":"src/Vault.sol"}}}`,
		`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"callgraph","arguments":{"file":"src/Nope.sol"}}}`,
	)
	require.Len(t, resps, 2)

	text, isErr := toolText(t, resps[0])
	assert.False(t, isErr)
	assert.Contains(t, text, "### Vault (src/Vault.sol)")
	assert.Contains(t, text, "deposit [internal]")
	assert.Contains(t, text, "└── _credit [internal]")

	text, isErr = toolText(t, resps[1])
	assert.True(t, isErr)
	assert.Contains(t, text, "[unresolved]")
}
