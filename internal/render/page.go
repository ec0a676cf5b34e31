package render

import (
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Stylesheet styles the fragment; Page inlines it and live views serve it.
const Stylesheet = `
body { font: 13px/1.5 ui-monospace, SFMono-Regular, Menlo, monospace; margin: 1.5rem; color: #1f2328; }
.argus-toolbar { margin-bottom: 1rem; }
.argus-btn { font: inherit; margin-right: .25rem; cursor: pointer; }
.argus-contract { margin-bottom: 2rem; }
.argus-contract-header h2 { display: inline; margin-right: .75rem; }
.argus-file, .argus-count { color: #656d76; margin-right: .75rem; }
.argus-tree, .argus-children { list-style: none; padding-left: 1.25rem; }
.argus-row > * { margin-right: .4rem; }
.argus-name { font-weight: 600; }
.argus-sig { color: #656d76; }
.argus-call-type { border-radius: 3px; padding: 0 .3rem; background: #eaeef2; }
[data-call-type="external"] > .argus-row .argus-call-type { background: #ffebe9; }
[data-call-type="inherited"] > .argus-row .argus-call-type { background: #ddf4ff; }
[data-call-type="library"] > .argus-row .argus-call-type { background: #fff8c5; }
.argus-marker { color: #9a6700; }
.argus-refs { list-style: none; display: flex; gap: .5rem; padding-left: 1.5rem; margin: 0; color: #8250df; }
.argus-snippet { background: #f6f8fa; padding: .5rem; overflow-x: auto; }
.argus-panel { border: 1px solid #d0d7de; border-left: 4px solid #cf222e; padding: .5rem 1rem; margin-bottom: 1rem; }
.argus-panel[data-kind="empty"] { border-left-color: #0969da; }
[hidden] { display: none; }
`

// Page wraps a fragment into a standalone HTML document.
func Page(title, fragment string) (string, error) {
	head := add(el(atom.Head),
		el(atom.Meta, "charset", "utf-8"),
		add(el(atom.Title), text(title)),
		add(el(atom.Style), text(Stylesheet)),
	)
	body := add(el(atom.Body), &html.Node{Type: html.RawNode, Data: fragment})
	doc := &html.Node{Type: html.DocumentNode}
	add(doc,
		&html.Node{Type: html.DoctypeNode, Data: "html"},
		add(el(atom.Html, "lang", "en"), head, body),
	)
	return serialize(doc)
}
