package render

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// el creates an element with attributes given as key/value pairs. Empty
// values are dropped, so optional attributes can be passed inline.
func el(tag atom.Atom, attrs ...string) *html.Node {
	n := &html.Node{Type: html.ElementNode, Data: tag.String(), DataAtom: tag}
	for i := 0; i+1 < len(attrs); i += 2 {
		if attrs[i+1] == "" {
			continue
		}
		n.Attr = append(n.Attr, html.Attribute{Key: attrs[i], Val: attrs[i+1]})
	}
	return n
}

// hide sets the boolean hidden attribute, which el cannot express.
func hide(n *html.Node) *html.Node {
	n.Attr = append(n.Attr, html.Attribute{Key: "hidden"})
	return n
}

func text(s string) *html.Node {
	return &html.Node{Type: html.TextNode, Data: s}
}

// add appends children, skipping nils.
func add(parent *html.Node, kids ...*html.Node) *html.Node {
	for _, k := range kids {
		if k != nil {
			parent.AppendChild(k)
		}
	}
	return parent
}

func span(class, s string) *html.Node {
	return add(el(atom.Span, "class", class), text(s))
}

func button(action, target, label string, attrs ...string) *html.Node {
	b := el(atom.Button, append([]string{"type", "button", "class", "argus-btn", "data-action", action, "data-target", target}, attrs...)...)
	return add(b, text(label))
}

func flag(b bool) string {
	if b {
		return "true"
	}
	return ""
}

// serialize renders nodes in order.
func serialize(nodes ...*html.Node) (string, error) {
	var sb strings.Builder
	for _, n := range nodes {
		if err := html.Render(&sb, n); err != nil {
			return "", err
		}
	}
	return sb.String(), nil
}

// idPart keeps identifier characters, so contract names are safe inside
// element ids and selectors.
func idPart(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		}
		return '_'
	}, s)
}
