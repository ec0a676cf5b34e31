package export

import (
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/zheng/argus/internal/graph"
	"github.com/zheng/argus/internal/impact"
	"github.com/zheng/argus/internal/storage"
)

// Exporter writes Markdown documents from a generation result or from the
// project call index
type Exporter struct {
	db *storage.DB
}

// NewExporter creates a new exporter. db may be nil when only generation
// reports are written.
func NewExporter(db *storage.DB) *Exporter {
	return &Exporter{db: db}
}

// ExportOptions configures the index export
type ExportOptions struct {
	IncludeMermaid    bool
	IncludeCallChains bool
	ProjectName       string
	Now               func() time.Time
}

// DefaultExportOptions returns default export options
func DefaultExportOptions() ExportOptions {
	return ExportOptions{
		IncludeMermaid:    true,
		IncludeCallChains: true,
		ProjectName:       "项目",
		Now:               time.Now,
	}
}

var errNoIndex = errors.New("exporter has no index database")

func (o ExportOptions) stamp() string {
	now := time.Now
	if o.Now != nil {
		now = o.Now
	}
	return now().Format("2006-01-02 15:04:05")
}

// ExportIndex writes a document describing every indexed contract
func (e *Exporter) ExportIndex(w io.Writer, opts ExportOptions) error {
	if e.db == nil {
		return errNoIndex
	}
	funcs, err := e.db.GetAllNodes()
	if err != nil {
		return fmt.Errorf("failed to get functions: %w", err)
	}
	nodeCount, edgeCount, err := e.db.GetStats()
	if err != nil {
		return fmt.Errorf("failed to get stats: %w", err)
	}
	byContract := groupByContract(funcs)

	// Header
	fmt.Fprintf(w, "# %s调用图谱\n\n", opts.ProjectName)
	fmt.Fprintf(w, "> 生成时间: %s\n", opts.stamp())
	fmt.Fprintf(w, "> 函数节点: %d | 调用边: %d | 合约: %d\n\n", nodeCount, edgeCount, len(byContract))

	e.writeProjectStructure(w, byContract)

	if opts.IncludeMermaid && len(funcs) > 0 {
		if err := e.writeEntryDiagram(w, byContract); err != nil {
			return err
		}
	}

	fmt.Fprintf(w, "---\n\n## 合约详解\n\n")
	for _, name := range sortedContracts(byContract) {
		if err := e.writeContractSection(w, name, byContract[name], opts); err != nil {
			return err
		}
	}

	return e.writeImpactTable(w, funcs)
}

// writeProjectStructure writes the source directory tree with its contracts
func (e *Exporter) writeProjectStructure(w io.Writer, byContract map[string][]*graph.Node) {
	fmt.Fprintf(w, "## 项目结构\n\n```\n")

	files := make(map[string][]string)
	for name, fns := range byContract {
		files[fns[0].File] = append(files[fns[0].File], name)
	}
	var paths []string
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	lastDir := ""
	for _, p := range paths {
		dir, file := path.Split(p)
		if dir != lastDir {
			fmt.Fprintf(w, "%s\n", dir)
			lastDir = dir
		}
		names := files[p]
		sort.Strings(names)
		fmt.Fprintf(w, "├── %s  (%s)\n", file, strings.Join(names, ", "))
	}

	fmt.Fprintf(w, "```\n\n")
}

// writeEntryDiagram draws one subgraph per contract with its entry points
// and the calls between entry points and the functions they reach directly
func (e *Exporter) writeEntryDiagram(w io.Writer, byContract map[string][]*graph.Node) error {
	fmt.Fprintf(w, "## 入口调用图\n\n```mermaid\nflowchart TB\n")

	for _, name := range sortedContracts(byContract) {
		fmt.Fprintf(w, "    subgraph %s [%s]\n", makeNodeID(name), name)
		for _, fn := range byContract[name] {
			if fn.Entry {
				fmt.Fprintf(w, "        %s[%s]\n", makeNodeID(fn.Key), mermaidLabel(fn.ShortName()))
			}
		}
		fmt.Fprintf(w, "    end\n\n")
	}

	fmt.Fprintf(w, "    %%%% 入口函数的直接调用\n")
	for _, name := range sortedContracts(byContract) {
		for _, fn := range byContract[name] {
			if !fn.Entry {
				continue
			}
			callees, err := e.db.GetDirectCallees(fn.ID)
			if err != nil {
				return fmt.Errorf("failed to get callees of %s: %w", fn.Name, err)
			}
			for _, callee := range callees {
				fmt.Fprintf(w, "    %s --> %s[%s]\n", makeNodeID(fn.Key), makeNodeID(callee.Key), mermaidLabel(callee.Name))
			}
		}
	}

	fmt.Fprintf(w, "```\n\n")
	return nil
}

// writeContractSection writes detailed info for a contract
func (e *Exporter) writeContractSection(w io.Writer, name string, functions []*graph.Node, opts ExportOptions) error {
	fmt.Fprintf(w, "### 📦 %s\n\n", name)

	// Entry points first, then by name
	sort.Slice(functions, func(i, j int) bool {
		if functions[i].Entry != functions[j].Entry {
			return functions[i].Entry
		}
		return functions[i].Name < functions[j].Name
	})

	fmt.Fprintf(w, "| 函数 | 类型 | 说明 | 被调用 | 调用 |\n")
	fmt.Fprintf(w, "|------|------|------|--------|------|\n")

	type counts struct{ callers, callees []*graph.Node }
	links := make([]counts, len(functions))
	for i, fn := range functions {
		callers, err := e.db.GetDirectCallers(fn.ID)
		if err != nil {
			return fmt.Errorf("failed to get callers of %s: %w", fn.Name, err)
		}
		callees, err := e.db.GetDirectCallees(fn.ID)
		if err != nil {
			return fmt.Errorf("failed to get callees of %s: %w", fn.Name, err)
		}
		links[i] = counts{callers, callees}

		doc := truncateDoc(fn.Doc, 30)
		if doc == "" {
			doc = "-"
		}
		kind := fn.Visibility
		if fn.Kind == graph.NodeKindModifier {
			kind = "modifier"
		}
		if fn.Entry {
			kind += " 🚪"
		}
		fmt.Fprintf(w, "| `%s` | %s | %s | %d | %d |\n", fn.ShortName(), kind, doc, len(callers), len(callees))
	}
	fmt.Fprintf(w, "\n")

	// Detailed info for entry points
	for i, fn := range functions {
		if !fn.Entry {
			continue
		}
		fmt.Fprintf(w, "#### `%s`\n\n", fn.Signature)
		fmt.Fprintf(w, "- **位置**: `%s:%d`\n", fn.File, fn.Line)
		if fn.Mutability != "" {
			fmt.Fprintf(w, "- **可变性**: %s\n", fn.Mutability)
		}
		if fn.Doc != "" {
			fmt.Fprintf(w, "- **说明**: %s\n", fn.Doc)
		}
		if opts.IncludeCallChains && len(links[i].callees) > 0 {
			fmt.Fprintf(w, "- **调用**: %s\n", nameList(links[i].callees))
		}
		fmt.Fprintf(w, "\n")
	}
	return nil
}

// writeImpactTable writes a summary table for impact analysis
func (e *Exporter) writeImpactTable(w io.Writer, funcs []*graph.Node) error {
	fmt.Fprintf(w, "---\n\n## 修改影响速查\n\n")
	fmt.Fprintf(w, "| 函数 | 位置 | 被调用次数 | 可达入口 | 风险 |\n")
	fmt.Fprintf(w, "|------|------|-----------|----------|------|\n")

	type funcWithStats struct {
		fn      *graph.Node
		callers int
		entries int
		risk    string
	}

	var stats []funcWithStats
	for _, fn := range funcs {
		callers, err := e.db.GetDirectCallerCount(fn.ID)
		if err != nil {
			return fmt.Errorf("failed to count callers of %s: %w", fn.Name, err)
		}
		if callers == 0 {
			continue
		}
		upstream, err := e.db.GetUpstreamCallers(fn.ID, 0)
		if err != nil {
			return fmt.Errorf("failed to get upstream callers of %s: %w", fn.Name, err)
		}
		entries, err := e.db.GetEntryPointsReaching(fn.ID)
		if err != nil {
			return fmt.Errorf("failed to get entry points of %s: %w", fn.Name, err)
		}
		stats = append(stats, funcWithStats{fn, callers, len(entries), impact.CalculateRiskLevel(callers, len(upstream))})
	}

	// Most called first
	sort.SliceStable(stats, func(i, j int) bool {
		return stats[i].callers > stats[j].callers
	})

	for _, s := range stats {
		fmt.Fprintf(w, "| `%s` | %s:%d | %d | %d | %s |\n",
			s.fn.Name, s.fn.File, s.fn.Line, s.callers, s.entries, riskBadge(s.risk))
	}
	return nil
}

// ExportIncremental writes a report for the functions declared in changed files
func (e *Exporter) ExportIncremental(w io.Writer, changedFiles []string, opts ExportOptions) error {
	if len(changedFiles) == 0 {
		fmt.Fprintf(w, "# 增量更新报告\n\n> 没有检测到变更\n")
		return nil
	}
	if e.db == nil {
		return errNoIndex
	}

	changedFuncs, err := e.db.GetNodesByFile(changedFiles)
	if err != nil {
		return fmt.Errorf("failed to get functions: %w", err)
	}

	fmt.Fprintf(w, "# 增量更新报告\n\n")
	fmt.Fprintf(w, "> 生成时间: %s\n", opts.stamp())
	fmt.Fprintf(w, "> 变更文件: %d | 变更函数: %d\n\n", len(changedFiles), len(changedFuncs))

	fmt.Fprintf(w, "## 变更范围\n\n")
	for _, f := range changedFiles {
		fmt.Fprintf(w, "- `%s`\n", f)
	}
	fmt.Fprintf(w, "\n")

	if len(changedFuncs) == 0 {
		fmt.Fprintf(w, "_没有受影响的函数_\n")
		return nil
	}

	fmt.Fprintf(w, "## 影响分析\n\n")
	for _, fn := range changedFuncs {
		callers, err := e.db.GetDirectCallers(fn.ID)
		if err != nil {
			return fmt.Errorf("failed to get callers of %s: %w", fn.Name, err)
		}
		entries, err := e.db.GetEntryPointsReaching(fn.ID)
		if err != nil {
			return fmt.Errorf("failed to get entry points of %s: %w", fn.Name, err)
		}
		if len(callers) == 0 {
			continue
		}

		fmt.Fprintf(w, "### ⚠️ `%s`\n\n", fn.Name)
		fmt.Fprintf(w, "**位置**: `%s:%d`\n\n", fn.File, fn.Line)
		if len(entries) > 0 {
			fmt.Fprintf(w, "**可达入口**: %s\n\n", nameList(entries))
		}
		fmt.Fprintf(w, "**以下 %d 个函数调用了此函数，可能需要检查：**\n\n", len(callers))
		fmt.Fprintf(w, "| 调用者 | 文件 | 行号 |\n")
		fmt.Fprintf(w, "|--------|------|------|\n")
		for _, c := range callers {
			fmt.Fprintf(w, "| `%s` | %s | %d |\n", c.Name, c.File, c.Line)
		}
		fmt.Fprintf(w, "\n")
	}

	return nil
}

// Helper functions

func groupByContract(funcs []*graph.Node) map[string][]*graph.Node {
	result := make(map[string][]*graph.Node)
	for _, fn := range funcs {
		name := fn.Contract
		if name == "" {
			name = "(file-level)"
		}
		result[name] = append(result[name], fn)
	}
	return result
}

func sortedContracts(byContract map[string][]*graph.Node) []string {
	names := make([]string, 0, len(byContract))
	for name := range byContract {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func nameList(nodes []*graph.Node) string {
	names := make([]string, 0, len(nodes))
	for _, n := range nodes {
		names = append(names, "`"+n.Name+"`")
	}
	return strings.Join(names, ", ")
}

func riskBadge(level string) string {
	switch level {
	case "critical":
		return "🔴 严重"
	case "high":
		return "🔴 高"
	case "medium":
		return "🟡 中"
	}
	return "🟢"
}

func truncateDoc(doc string, maxLen int) string {
	doc = strings.TrimSpace(doc)
	// Take first line only
	if idx := strings.Index(doc, "\n"); idx >= 0 {
		doc = doc[:idx]
	}
	if r := []rune(doc); len(r) > maxLen {
		return string(r[:maxLen-3]) + "..."
	}
	return doc
}
