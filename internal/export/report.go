package export

import (
	"fmt"
	"io"
	"strings"

	"github.com/zheng/argus/internal/argus"
	"github.com/zheng/argus/internal/display"
	"github.com/zheng/argus/internal/graph"
)

// ReportOptions configures a generation report
type ReportOptions struct {
	IncludeMermaid  bool
	IncludeSnippets bool
	Title           string
}

// DefaultReportOptions returns default report options
func DefaultReportOptions() ReportOptions {
	return ReportOptions{IncludeMermaid: true}
}

// Export writes a Markdown report of one generation: a contract table,
// problems, and per contract the call tree, an optional Mermaid flowchart and
// the declarations.
func (e *Exporter) Export(w io.Writer, res *argus.Result, opts ReportOptions) error {
	title := opts.Title
	if title == "" {
		title = res.PrimaryContract
	}
	if title == "" {
		title = res.Target
	}
	roots := 0
	for _, c := range res.Contracts {
		roots += len(c.Functions)
	}

	fmt.Fprintf(w, "# %s 调用图谱\n\n", title)
	if res.Target != "" {
		fmt.Fprintf(w, "> 目标文件: %s\n", res.Target)
	}
	fmt.Fprintf(w, "> 合约: %d | 根函数: %d | 问题: %d\n\n", len(res.Contracts), roots, len(res.Errors))

	if len(res.Errors) > 0 {
		fmt.Fprintf(w, "## 问题\n\n")
		for _, p := range res.Errors {
			fmt.Fprintf(w, "- **%s**: %s\n", p.Kind, p.Message)
		}
		fmt.Fprintf(w, "\n")
	}
	if res.Empty {
		fmt.Fprintf(w, "_没有可生成调用图的合约_\n")
		return nil
	}
	if len(res.Contracts) == 0 {
		return nil
	}

	writeContractTable(w, res.Contracts)
	for _, c := range res.Contracts {
		writeContractSection(w, c, opts)
	}
	return nil
}

func writeContractTable(w io.Writer, contracts []argus.ContractView) {
	fmt.Fprintf(w, "## 合约概览\n\n")
	fmt.Fprintf(w, "| 合约 | 文件 | 根函数 | 节点 |")
	for _, k := range graph.DeclKinds {
		fmt.Fprintf(w, " %s |", k.Plural())
	}
	fmt.Fprintf(w, "\n|------|------|--------|------|%s\n", strings.Repeat("------|", len(graph.DeclKinds)))

	for _, c := range contracts {
		nodes := 0
		for _, fn := range c.Functions {
			nodes += fn.Count()
		}
		fmt.Fprintf(w, "| `%s` | %s | %d | %d |", c.Name, c.File, len(c.Functions), nodes)
		for _, k := range graph.DeclKinds {
			fmt.Fprintf(w, " %d |", c.Declarations.Count(k))
		}
		fmt.Fprintf(w, "\n")
	}
	fmt.Fprintf(w, "\n")
}

func writeContractSection(w io.Writer, c argus.ContractView, opts ReportOptions) {
	fmt.Fprintf(w, "---\n\n## 📦 %s\n\n", c.Name)

	fmt.Fprintf(w, "### 调用树\n\n```\n%s```\n\n", display.FunctionTree(c.Functions, display.NewStyles(false)))

	if opts.IncludeMermaid {
		writeFlowchart(w, c)
	}

	if opts.IncludeSnippets {
		for _, fn := range c.Functions {
			if fn.Snippet == "" {
				continue
			}
			fmt.Fprintf(w, "#### `%s`\n\n", fn.Signature)
			if fn.File != "" {
				fmt.Fprintf(w, "- **位置**: `%s:%d`\n\n", fn.File, fn.Line)
			}
			fmt.Fprintf(w, "```solidity\n%s\n```\n\n", fn.Snippet)
		}
	}

	if c.Declarations.Total() == 0 {
		return
	}
	fmt.Fprintf(w, "### 声明\n\n")
	for _, k := range graph.DeclKinds {
		decls := c.Declarations.Of(k)
		if len(decls) == 0 {
			continue
		}
		names := make([]string, 0, len(decls))
		for _, d := range decls {
			names = append(names, "`"+d.Qualified+"`")
		}
		fmt.Fprintf(w, "- **%s (%d)**: %s\n", k.Plural(), len(decls), strings.Join(names, ", "))
	}
	fmt.Fprintf(w, "\n")
}

// writeFlowchart draws every distinct caller -> callee pair of the contract.
func writeFlowchart(w io.Writer, c argus.ContractView) {
	fmt.Fprintf(w, "### 调用关系图\n\n```mermaid\nflowchart LR\n")

	declared := make(map[string]bool)
	edges := make(map[string]bool)
	var walk func(parent, fn *graph.FunctionNode)
	walk = func(parent, fn *graph.FunctionNode) {
		id := makeNodeID(fn.Key)
		if !declared[id] {
			declared[id] = true
			shape := "[%s]"
			if fn.Elided || fn.CallType == graph.CallExternal {
				shape = "([%s])"
			}
			fmt.Fprintf(w, "    %s"+shape+"\n", id, mermaidLabel(display.Label(fn)))
		}
		if parent != nil {
			key := makeNodeID(parent.Key) + "->" + id
			if !edges[key] {
				edges[key] = true
				fmt.Fprintf(w, "    %s -->|%s| %s\n", makeNodeID(parent.Key), fn.CallType, id)
			}
		}
		if fn.BackRef {
			return
		}
		for _, child := range fn.Children {
			walk(fn, child)
		}
	}
	for _, fn := range c.Functions {
		walk(nil, fn)
	}
	fmt.Fprintf(w, "```\n\n")
}

// makeNodeID creates a valid Mermaid node ID from a call tree key
func makeNodeID(key string) string {
	return "n_" + strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		}
		return '_'
	}, key)
}

func mermaidLabel(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, "#quot;") + `"`
}
