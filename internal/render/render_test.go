package render_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"

	"github.com/zheng/argus/internal/graph"
	"github.com/zheng/argus/internal/render"
)

func vault() *graph.ContractGraph {
	transfer := &graph.FunctionNode{
		Key: "12", Name: "_transfer", Contract: "Vault", Kind: graph.KindFunction,
		Signature: "_transfer(address,uint256)", Mutability: "nonpayable", Visibility: "internal",
		CallType: graph.CallInternal,
		Children: []*graph.FunctionNode{{
			Key: "30", Name: "safeTransfer", Contract: "SafeERC20", Kind: graph.KindFunction,
			CallType: graph.CallLibrary, Elided: true,
		}},
	}
	return &graph.ContractGraph{
		Name: "Vault",
		File: "src/Vault.sol",
		Functions: []*graph.FunctionNode{
			{
				Key: "10", Name: "deposit", Contract: "Vault", Kind: graph.KindFunction,
				Signature: "deposit()", Mutability: "payable", Visibility: "external",
				CallType: graph.CallInternal, Snippet: "function deposit() external payable {}",
				References: []graph.Reference{{Kind: graph.DeclEvent, Name: "Deposited", Qualified: "Vault.Deposited"}},
			},
			{
				Key: "11", Name: "withdraw", Contract: "Vault", Kind: graph.KindFunction,
				Signature: "withdraw(uint256)", Mutability: "nonpayable", Visibility: "external",
				CallType: graph.CallInternal, Snippet: "function withdraw(uint256 amount) external {\n    _transfer(msg.sender, amount);\n}",
				Children: []*graph.FunctionNode{transfer, {
					Key: "11", Name: "withdraw", Contract: "Vault", Kind: graph.KindFunction,
					CallType: graph.CallInternal, BackRef: true,
				}},
			},
		},
		Declarations: graph.DeclarationSummary{
			Events: []graph.Declaration{
				{Kind: graph.DeclEvent, Name: "Deposited", Qualified: "Vault.Deposited", Snippet: "event Deposited(uint256 amount);"},
				{Kind: graph.DeclEvent, Name: "Withdrawn", Qualified: "Vault.Withdrawn"},
			},
			Errors: []graph.Declaration{
				{Kind: graph.DeclError, Name: "Insufficient", Qualified: "Insufficient", Snippet: "error Insufficient();"},
			},
		},
	}
}

type element struct {
	tag   string
	attrs map[string]string
	node  *html.Node
}

func parse(t *testing.T, fragment string) []element {
	t.Helper()
	doc, err := html.Parse(strings.NewReader(fragment))
	require.NoError(t, err)
	var out []element
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			e := element{tag: n.Data, attrs: make(map[string]string), node: n}
			for _, a := range n.Attr {
				e.attrs[a.Key] = a.Val
			}
			out = append(out, e)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return out
}

func byID(elems []element) map[string]element {
	m := make(map[string]element)
	for _, e := range elems {
		if id, ok := e.attrs["id"]; ok {
			m[id] = e
		}
	}
	return m
}

func textOf(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}

func TestFragment_Structure(t *testing.T) {
	out, err := render.Fragment(nil, []render.Section{{Name: "Vault", Graph: vault()}})
	require.NoError(t, err)

	elems := parse(t, out)
	ids := make(map[string]int)
	for _, e := range elems {
		assert.NotEqual(t, "script", e.tag)
		for k := range e.attrs {
			assert.False(t, strings.HasPrefix(k, "on"), "inline handler %s on <%s>", k, e.tag)
		}
		if id, ok := e.attrs["id"]; ok {
			ids[id]++
		}
	}
	for id, n := range ids {
		assert.Equal(t, 1, n, "duplicate id %s", id)
	}

	index := byID(elems)
	for _, e := range elems {
		switch e.attrs["data-action"] {
		case render.ActionToggle:
			assert.Contains(t, index, e.attrs["data-target"])
		case render.ActionCopy:
			assert.Contains(t, index, e.attrs["data-copy-source"])
		}
	}

	// withdraw is the second root, its children list is f1
	children, ok := index["argus-Vault-f1"]
	require.True(t, ok)
	assert.Equal(t, "ul", children.tag)
	assert.Contains(t, textOf(children.node), "_transfer")
	assert.Contains(t, index, "argus-Vault-f1-0")
	assert.Contains(t, index, "argus-Vault-f1-src")
	_, hidden := index["argus-Vault-f1-src"].attrs["hidden"]
	assert.True(t, hidden)

	// deposit has no calls, so no children list
	assert.NotContains(t, index, "argus-Vault-f0")

	events, ok := index["argus-Vault-decl-event"]
	require.True(t, ok)
	_, hidden = events.attrs["hidden"]
	assert.True(t, hidden)
	assert.Contains(t, index, "argus-Vault-decl-error")
	assert.NotContains(t, index, "argus-Vault-decl-struct")

	assert.Contains(t, out, `data-call-type="library"`)
	assert.Contains(t, out, `data-elided="true"`)
	assert.Contains(t, out, `data-backref="true"`)
	assert.Contains(t, out, `data-mutability="payable"`)
	assert.Contains(t, out, "Events (2)")
	assert.Contains(t, out, `data-action="expand-all"`)
	assert.Contains(t, out, `data-ref-kind="event"`)
}

func TestFragment_Deterministic(t *testing.T) {
	a, err := render.Fragment(nil, []render.Section{{Name: "Vault", Graph: vault()}})
	require.NoError(t, err)
	b, err := render.Fragment(nil, []render.Section{{Name: "Vault", Graph: vault()}})
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestFragment_Panels(t *testing.T) {
	out, err := render.Fragment([]render.Panel{{
		Kind:    "unresolved",
		Message: "src/Missing.sol is not part of the build",
		Detail:  "src/A.sol\nsrc/B.sol",
		Action:  render.ActionPickFile,
	}}, nil)
	require.NoError(t, err)

	assert.NotContains(t, out, "argus-toolbar")
	assert.Contains(t, out, `class="argus-panel" data-kind="unresolved" role="alert"`)
	assert.Contains(t, out, `data-action="pick-file"`)
	assert.Contains(t, out, "Pick another file")
	assert.Contains(t, out, "src/A.sol\nsrc/B.sol")
}

func TestFragment_FailedContract(t *testing.T) {
	out, err := render.Fragment(nil, []render.Section{
		{Name: "Broken", Failure: &render.Panel{Kind: "contract", Message: "contract Broken: unexpected AST shape"}},
		{Name: "Vault", Graph: vault()},
	})
	require.NoError(t, err)

	index := byID(parse(t, out))
	broken, ok := index["argus-Broken"]
	require.True(t, ok)
	assert.Contains(t, broken.attrs["class"], "argus-failed")
	assert.Contains(t, textOf(broken.node), "unexpected AST shape")
	assert.Contains(t, index, "argus-Vault")
	assert.Less(t, strings.Index(out, "argus-Broken"), strings.Index(out, "argus-Vault"))
}

func TestFragment_EscapesText(t *testing.T) {
	g := vault()
	g.Functions[0].Snippet = `function deposit() { emit X("<img src=x onerror=alert(1)>"); }`
	out, err := render.Fragment(nil, []render.Section{{Name: "Vault", Graph: g}})
	require.NoError(t, err)
	assert.NotContains(t, out, "<img")
	assert.Contains(t, out, "&lt;img")
}

func TestPage(t *testing.T) {
	frag, err := render.Fragment(nil, []render.Section{{Name: "Vault", Graph: vault()}})
	require.NoError(t, err)
	page, err := render.Page("Vault call graph", frag)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(page, "<!DOCTYPE html>"))
	assert.Contains(t, page, "<title>Vault call graph</title>")
	assert.Contains(t, page, frag)
	assert.NotContains(t, page, "<script")
}
