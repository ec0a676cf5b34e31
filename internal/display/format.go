package display

import (
	"fmt"
	"strings"

	"github.com/zheng/argus/internal/graph"
	"github.com/zheng/argus/internal/storage"
)

// Label returns the display name of a call tree node: the bare name for
// internal calls, Contract.name otherwise.
func Label(fn *graph.FunctionNode) string {
	name := fn.Name
	if name == "" {
		name = fn.Kind
	}
	if fn.Contract == "" || fn.CallType == graph.CallInternal {
		return name
	}
	return fn.Contract + "." + name
}

// Marker describes why a node has no children, or "" when it is expanded
// normally.
func Marker(fn *graph.FunctionNode) string {
	switch {
	case fn.BackRef:
		return "↻ 递归"
	case fn.Elided:
		return "⋯ 依赖"
	case fn.Truncated:
		return "… 深度限制"
	case fn.Unresolved:
		return "? 未解析"
	}
	return ""
}

// FunctionTree renders the root functions of a contract graph and their
// callees with box-drawing characters.
func FunctionTree(roots []*graph.FunctionNode, st Styles) string {
	var sb strings.Builder
	for _, fn := range roots {
		writeFunction(&sb, fn, st)
		sb.WriteString("\n")
		writeChildren(&sb, fn.Children, "", st)
	}
	return sb.String()
}

func writeChildren(sb *strings.Builder, kids []*graph.FunctionNode, indent string, st Styles) {
	for i, fn := range kids {
		last := i == len(kids)-1
		prefix := "├── "
		if last {
			prefix = "└── "
		}
		sb.WriteString(indent + prefix)
		writeFunction(sb, fn, st)
		sb.WriteString("\n")

		childIndent := indent + "│   "
		if last {
			childIndent = indent + "    "
		}
		writeChildren(sb, fn.Children, childIndent, st)
	}
}

func writeFunction(sb *strings.Builder, fn *graph.FunctionNode, st Styles) {
	sb.WriteString(st.Name(Label(fn)))
	sb.WriteString(" " + st.CallType(fn.CallType, "["+string(fn.CallType)+"]"))
	if fn.ReadOnly() {
		sb.WriteString(" " + st.Muted(fn.Mutability))
	}
	if m := Marker(fn); m != "" {
		sb.WriteString(" " + st.Marker(m))
	}
	if fn.File != "" && fn.Line > 0 {
		sb.WriteString("  " + st.Muted(fmt.Sprintf("%s:%d", fn.File, fn.Line)))
	}
}

// CalcTreeMaxWidth calculates the maximum function name width and depth for alignment in the call tree.
func CalcTreeMaxWidth(tree []*storage.CallTreeNode, maxWidth *int, currentDepth int, maxDepth *int) {
	if currentDepth > *maxDepth {
		*maxDepth = currentDepth
	}
	for _, node := range tree {
		if w := len(node.Node.Name); w > *maxWidth {
			*maxWidth = w
		}
		if len(node.Children) > 0 {
			CalcTreeMaxWidth(node.Children, maxWidth, currentDepth+1, maxDepth)
		}
	}
}

// FormatCallTree renders a stored call tree with ASCII art box-drawing
// characters. Repeats of a function already on the path are marked.
func FormatCallTree(tree []*storage.CallTreeNode, indent string, maxWidth int, maxDepth int, currentDepth int, st Styles) string {
	var sb strings.Builder
	for i, node := range tree {
		isLast := i == len(tree)-1
		prefix := "├──"
		if isLast {
			prefix = "└──"
		}

		loc := fmt.Sprintf("%s:%d", node.Node.File, node.Node.Line)
		padding := maxWidth + (maxDepth-currentDepth)*4
		name := fmt.Sprintf("%-*s", padding, node.Node.Name)
		fmt.Fprintf(&sb, "%s%s %s  %s", indent, prefix, st.Name(name), st.Muted(loc))
		if node.Cycle {
			sb.WriteString(" " + st.Marker("↻"))
		}
		sb.WriteString("\n")

		if len(node.Children) > 0 {
			childIndent := indent + "│   "
			if isLast {
				childIndent = indent + "    "
			}
			sb.WriteString(FormatCallTree(node.Children, childIndent, maxWidth, maxDepth, currentDepth+1, st))
		}
	}
	return sb.String()
}
