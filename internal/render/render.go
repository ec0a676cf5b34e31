// Package render turns contract call graphs into an HTML fragment. The
// fragment carries structure only: every interaction is a data-action
// attribute that the hosting surface handles by delegation.
package render

import (
	"fmt"
	"strconv"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/zheng/argus/internal/graph"
)

// Actions understood by the hosting surface.
const (
	ActionToggle      = "toggle"
	ActionExpandAll   = "expand-all"
	ActionCollapseAll = "collapse-all"
	ActionCopy        = "copy"
	ActionRebuild     = "rebuild"
	ActionPickFile    = "pick-file"
)

// Section is one contract in the fragment: its graph, or the panel explaining
// why it could not be built.
type Section struct {
	Name    string
	Graph   *graph.ContractGraph
	Failure *Panel
}

// Fragment renders the panels followed by one section per contract.
func Fragment(panels []Panel, sections []Section) (string, error) {
	root := el(atom.Div, "class", "argus", "data-argus", "root")
	if len(sections) > 0 {
		add(root, toolbar())
	}
	for _, p := range panels {
		add(root, p.node())
	}
	for _, s := range sections {
		if s.Graph != nil {
			add(root, Contract(s.Graph))
			continue
		}
		add(root, failed(s))
	}
	return serialize(root)
}

func toolbar() *html.Node {
	return add(el(atom.Div, "class", "argus-toolbar"),
		button(ActionExpandAll, "", "Expand all"),
		button(ActionCollapseAll, "", "Collapse all"),
		button(ActionRebuild, "", "Rebuild"),
	)
}

// Contract builds the section for one contract graph.
func Contract(g *graph.ContractGraph) *html.Node {
	prefix := "argus-" + idPart(g.Name)
	sec := el(atom.Section, "class", "argus-contract", "id", prefix, "data-contract", g.Name)
	add(sec, add(el(atom.Header, "class", "argus-contract-header"),
		add(el(atom.H2), text(g.Name)),
		span("argus-file", g.File),
		span("argus-count", fmt.Sprintf("%d functions", len(g.Functions))),
	))

	tree := el(atom.Ul, "class", "argus-tree", "role", "tree")
	for i, fn := range g.Functions {
		add(tree, function(fn, prefix+"-f"+strconv.Itoa(i)))
	}
	add(sec, tree, declarations(&g.Declarations, prefix))
	return sec
}

// function renders fn and its subtree. id is the node's index path; it
// names the children list, and id+"-src" names the snippet.
func function(fn *graph.FunctionNode, id string) *html.Node {
	li := el(atom.Li, "class", "argus-fn", "role", "treeitem",
		"data-kind", fn.Kind,
		"data-call-type", string(fn.CallType),
		"data-mutability", fn.Mutability,
		"data-backref", flag(fn.BackRef),
		"data-elided", flag(fn.Elided),
		"data-truncated", flag(fn.Truncated),
		"data-unresolved", flag(fn.Unresolved),
	)

	row := el(atom.Div, "class", "argus-row")
	if fn.Expandable() {
		add(row, button(ActionToggle, id, "▾", "aria-expanded", "true", "aria-controls", id))
	} else {
		add(row, span("argus-leaf", "•"))
	}
	add(row, span("argus-name", label(fn)))
	if fn.Signature != "" {
		add(row, add(el(atom.Code, "class", "argus-sig"), text(fn.Signature)))
	}
	add(row, span("argus-call-type", string(fn.CallType)))
	if fn.ReadOnly() {
		add(row, span("argus-mutability", fn.Mutability))
	}
	switch {
	case fn.BackRef:
		add(row, span("argus-marker", "↻ recursive"))
	case fn.Elided:
		add(row, span("argus-marker", "dependency"))
	case fn.Truncated:
		add(row, span("argus-marker", "… depth limit"))
	case fn.Unresolved:
		add(row, span("argus-marker", "unresolved"))
	}
	if fn.Snippet != "" {
		add(row, button(ActionCopy, "", "Copy", "data-copy-source", id+"-src"))
	}
	add(li, row)

	if len(fn.References) > 0 {
		refs := el(atom.Ul, "class", "argus-refs")
		for _, r := range fn.References {
			add(refs, add(el(atom.Li, "data-ref-kind", string(r.Kind), "title", r.Qualified), text(r.Name)))
		}
		add(li, refs)
	}
	if fn.Snippet != "" {
		add(li, hide(add(el(atom.Pre, "class", "argus-snippet", "id", id+"-src"), text(fn.Snippet))))
	}
	if fn.Expandable() {
		kids := el(atom.Ul, "class", "argus-children", "id", id, "role", "group")
		for j, c := range fn.Children {
			add(kids, function(c, id+"-"+strconv.Itoa(j)))
		}
		add(li, kids)
	}
	return li
}

func label(fn *graph.FunctionNode) string {
	if fn.Contract == "" || fn.CallType == graph.CallInternal {
		return fn.Name
	}
	return fn.Contract + "." + fn.Name
}

// declarations renders one collapsed group per non-empty kind.
func declarations(s *graph.DeclarationSummary, prefix string) *html.Node {
	box := el(atom.Div, "class", "argus-decls", "data-total", strconv.Itoa(s.Total()))
	for _, kind := range graph.DeclKinds {
		decls := s.Of(kind)
		if len(decls) == 0 {
			continue
		}
		id := prefix + "-decl-" + idPart(string(kind))
		group := el(atom.Div, "class", "argus-decl-group", "data-kind", string(kind))
		add(group, button(ActionToggle, id, fmt.Sprintf("%s (%d)", kind.Plural(), len(decls)), "aria-expanded", "false", "aria-controls", id))

		list := hide(el(atom.Ul, "class", "argus-decl-list", "id", id))
		for i, d := range decls {
			item := add(el(atom.Li, "class", "argus-decl", "title", d.Qualified),
				add(el(atom.Code), text(d.Name)))
			if d.Snippet != "" {
				src := id + "-" + strconv.Itoa(i) + "-src"
				add(item,
					button(ActionCopy, "", "Copy", "data-copy-source", src),
					add(el(atom.Pre, "class", "argus-snippet", "id", src), text(d.Snippet)),
				)
			}
			add(list, item)
		}
		add(box, add(group, list))
	}
	return box
}

func failed(s Section) *html.Node {
	sec := el(atom.Section, "class", "argus-contract argus-failed", "id", "argus-"+idPart(s.Name), "data-contract", s.Name)
	add(sec, add(el(atom.Header, "class", "argus-contract-header"), add(el(atom.H2), text(s.Name))))
	if s.Failure != nil {
		add(sec, s.Failure.node())
	}
	return sec
}
