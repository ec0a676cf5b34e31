package render

import (
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Panel is an inline explanation shown in place of (or above) the graph.
type Panel struct {
	Kind    string // missing, malformed, unresolved, contract, empty
	Message string
	Detail  string
	// Action is the remedial data-action offered, if any.
	Action string
}

var actionLabels = map[string]string{
	ActionRebuild:  "Rebuild project",
	ActionPickFile: "Pick another file",
}

func (p Panel) node() *html.Node {
	role := "alert"
	if p.Kind == "empty" {
		role = "status"
	}
	box := el(atom.Div, "class", "argus-panel", "data-kind", p.Kind, "role", role)
	add(box, add(el(atom.P, "class", "argus-panel-message"), text(p.Message)))
	if p.Detail != "" {
		add(box, add(el(atom.Pre, "class", "argus-panel-detail"), text(p.Detail)))
	}
	if p.Action != "" {
		lbl, ok := actionLabels[p.Action]
		if !ok {
			lbl = p.Action
		}
		add(box, button(p.Action, "", lbl))
	}
	return box
}
