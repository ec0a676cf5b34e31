package impact

import (
	"errors"
	"fmt"
	"strings"

	"github.com/zheng/argus/internal/graph"
	"github.com/zheng/argus/internal/storage"
)

// Analyzer performs impact analysis on the code graph
type Analyzer struct {
	db *storage.DB
}

// NewAnalyzer creates a new impact analyzer
func NewAnalyzer(db *storage.DB) *Analyzer {
	return &Analyzer{db: db}
}

// ImpactReport represents the impact analysis of a function change
type ImpactReport struct {
	Target          *graph.Node   `json:"target"`
	DirectCallers   []*graph.Node `json:"direct_callers"`
	IndirectCallers []*graph.Node `json:"indirect_callers"`
	DirectCallees   []*graph.Node `json:"direct_callees"`
	IndirectCallees []*graph.Node `json:"indirect_callees"`
	// EntryPoints are the public/external functions that reach Target,
	// i.e. the fuzzing entry points that exercise it
	EntryPoints []*graph.Node `json:"entry_points"`
	RiskLevel   string        `json:"risk_level"`
}

// ErrAmbiguous is returned by Resolve when a name matches several nodes
var ErrAmbiguous = errors.New("ambiguous function name")

// Resolve finds a node by storage key, qualified name (Contract.function) or
// a unique name pattern
func (a *Analyzer) Resolve(funcName string) (*graph.Node, error) {
	if target, err := a.db.GetNodeByKey(funcName); err == nil {
		return target, nil
	}
	if target, err := a.db.GetNodeByName(funcName); err == nil {
		return target, nil
	}

	// Try pattern matching if exact match fails
	nodes, err := a.db.FindNodesByPattern(funcName)
	if err != nil {
		return nil, fmt.Errorf("failed to find function: %w", err)
	}
	if len(nodes) == 0 {
		return nil, fmt.Errorf("function not found: %s", funcName)
	}
	if len(nodes) > 1 && !exactShortName(nodes, funcName) {
		var names []string
		for _, n := range nodes {
			names = append(names, n.Name)
		}
		return nil, fmt.Errorf("%w, found %d matches: %s", ErrAmbiguous, len(nodes), strings.Join(names, ", "))
	}
	return nodes[0], nil
}

// exactShortName reports whether only the first match has funcName as its
// short name (the pattern query orders exact short names first)
func exactShortName(nodes []*graph.Node, funcName string) bool {
	if nodes[0].ShortName() != funcName {
		return false
	}
	return nodes[1].ShortName() != funcName
}

// AnalyzeImpact analyzes the impact of changing a function
func (a *Analyzer) AnalyzeImpact(funcName string, upstreamDepth, downstreamDepth int) (*ImpactReport, error) {
	target, err := a.Resolve(funcName)
	if err != nil {
		return nil, err
	}

	report := &ImpactReport{
		Target: target,
	}

	// Get direct callers
	report.DirectCallers, err = a.db.GetDirectCallers(target.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to get direct callers: %w", err)
	}

	// Get all upstream callers (indirect)
	var allCallers []*graph.Node
	if upstreamDepth != 1 {
		allCallers, err = a.db.GetUpstreamCallers(target.ID, upstreamDepth)
		if err != nil {
			return nil, fmt.Errorf("failed to get upstream callers: %w", err)
		}
		report.IndirectCallers = without(allCallers, report.DirectCallers, target.ID)
	}

	// Get direct callees
	report.DirectCallees, err = a.db.GetDirectCallees(target.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to get direct callees: %w", err)
	}

	// Get all downstream callees (indirect)
	if downstreamDepth != 1 {
		allCallees, err := a.db.GetDownstreamCallees(target.ID, downstreamDepth)
		if err != nil {
			return nil, fmt.Errorf("failed to get downstream callees: %w", err)
		}
		report.IndirectCallees = without(allCallees, report.DirectCallees, target.ID)
	}

	report.EntryPoints, err = a.db.GetEntryPointsReaching(target.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to get entry points: %w", err)
	}

	total := len(report.DirectCallers) + len(report.IndirectCallers)
	report.RiskLevel = CalculateRiskLevel(len(report.DirectCallers), total)
	return report, nil
}

// without filters out the direct set and the target itself
func without(all, direct []*graph.Node, targetID int64) []*graph.Node {
	directMap := make(map[int64]bool, len(direct)+1)
	directMap[targetID] = true
	for _, c := range direct {
		directMap[c.ID] = true
	}
	var out []*graph.Node
	for _, c := range all {
		if !directMap[c.ID] {
			out = append(out, c)
		}
	}
	return out
}

// CalculateRiskLevel determines risk level based on caller metrics
func CalculateRiskLevel(directCallers, totalCallers int) string {
	// Primary factor: direct callers
	// Secondary factor: total impact
	if directCallers >= 20 || totalCallers >= 60 {
		return "critical"
	}
	if directCallers >= 10 || totalCallers >= 30 {
		return "high"
	}
	if directCallers >= 3 || totalCallers >= 10 {
		return "medium"
	}
	return "low"
}

// shortName drops the source path from a node key or returns the name as is
// e.g., "src/Vault.sol:Vault.withdraw(uint256)" -> "Vault.withdraw(uint256)"
func shortName(fullName string) string {
	if idx := strings.LastIndex(fullName, ".sol:"); idx >= 0 {
		return fullName[idx+len(".sol:"):]
	}
	return fullName
}

// FormatMarkdown formats the impact report as markdown
func (r *ImpactReport) FormatMarkdown() string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "## 变更影响分析: %s\n\n", r.Target.Name)
	fmt.Fprintf(&sb, "**位置:** %s:%d\n\n", r.Target.File, r.Target.Line)
	if r.Target.Signature != "" {
		fmt.Fprintf(&sb, "**签名:** `%s`\n\n", r.Target.Signature)
	}
	if r.Target.Doc != "" {
		fmt.Fprintf(&sb, "**文档:** %s\n\n", r.Target.Doc)
	}
	fmt.Fprintf(&sb, "**风险等级:** %s\n\n", r.RiskLevel)

	writeTable(&sb, "入口函数 (可触达本函数的 public/external 函数)", "_无入口函数可达_", r.EntryPoints)
	writeTable(&sb, "直接调用者 (需检查是否需要同步修改)", "_无直接调用者_", r.DirectCallers)
	if len(r.IndirectCallers) > 0 {
		writeTable(&sb, "间接调用者 (可能受影响)", "", r.IndirectCallers)
	}
	writeTable(&sb, "下游依赖 (本函数调用的)", "_无下游依赖_", r.DirectCallees)
	if len(r.IndirectCallees) > 0 {
		writeTable(&sb, "间接下游依赖", "", r.IndirectCallees)
	}
	return sb.String()
}

func writeTable(sb *strings.Builder, title, empty string, nodes []*graph.Node) {
	fmt.Fprintf(sb, "### %s\n\n", title)
	if len(nodes) == 0 {
		sb.WriteString(empty + "\n\n")
		return
	}
	sb.WriteString("| 函数 | 类型 | 文件 | 行号 |\n")
	sb.WriteString("|------|------|------|------|\n")
	for _, n := range nodes {
		fmt.Fprintf(sb, "| %s | %s | %s | %d |\n", n.Name, describeKind(n), n.File, n.Line)
	}
	sb.WriteString("\n")
}

func describeKind(n *graph.Node) string {
	if n.Kind == graph.NodeKindModifier {
		return "modifier"
	}
	if n.Mutability == "" {
		return n.Visibility
	}
	return n.Visibility + " " + n.Mutability
}

// FormatTree formats the impact report as a tree structure
func (r *ImpactReport) FormatTree() string {
	var sb strings.Builder

	callers := append(append([]*graph.Node{}, r.DirectCallers...), r.IndirectCallers...)
	callees := append(append([]*graph.Node{}, r.DirectCallees...), r.IndirectCallees...)

	// Calculate max width for alignment
	width := len(location(r.Target))
	for _, group := range [][]*graph.Node{callers, callees, r.EntryPoints} {
		for _, n := range group {
			if w := len(location(n)); w > width {
				width = w
			}
		}
	}

	sb.WriteString("📍 当前函数\n")
	fmt.Fprintf(&sb, "%-*s  %s\n", width, location(r.Target), r.Target.Name)
	if r.Target.Signature != "" {
		fmt.Fprintf(&sb, "   %s  [%s]\n", r.Target.Signature, r.RiskLevel)
	}
	sb.WriteString("\n")

	writeBranch(&sb, "🚪 入口函数", r.EntryPoints, width)
	sb.WriteString("\n")
	writeBranch(&sb, "⬆️ 调用者", callers, width)
	sb.WriteString("\n")
	writeBranch(&sb, "⬇️ 被调用", callees, width)
	return sb.String()
}

func writeBranch(sb *strings.Builder, title string, nodes []*graph.Node, width int) {
	if len(nodes) == 0 {
		sb.WriteString(title + "\n")
		sb.WriteString("└── (无)\n")
		return
	}
	fmt.Fprintf(sb, "%s (共 %d 个)\n", title, len(nodes))
	for i, n := range nodes {
		prefix := "├──"
		if i == len(nodes)-1 {
			prefix = "└──"
		}
		fmt.Fprintf(sb, "%s %-*s  %s\n", prefix, width, location(n), n.Name)
	}
}

func location(n *graph.Node) string {
	return fmt.Sprintf("%s:%d", shortPath(n.File), n.Line)
}

// shortPath extracts the last two path components
// e.g., "src/vaults/Vault.sol" -> "vaults/Vault.sol"
func shortPath(fullPath string) string {
	parts := strings.Split(fullPath, "/")
	if len(parts) <= 2 {
		return fullPath
	}
	return strings.Join(parts[len(parts)-2:], "/")
}

// Summary returns a brief summary of the impact report
func (r *ImpactReport) Summary() string {
	return fmt.Sprintf(
		"Target: %s, Entry Points: %d, Direct Callers: %d, Indirect Callers: %d, Direct Callees: %d, Indirect Callees: %d, Risk: %s",
		shortName(r.Target.Key),
		len(r.EntryPoints),
		len(r.DirectCallers),
		len(r.IndirectCallers),
		len(r.DirectCallees),
		len(r.IndirectCallees),
		r.RiskLevel,
	)
}
