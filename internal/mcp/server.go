package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/zheng/argus/internal/argus"
	"github.com/zheng/argus/internal/display"
	"github.com/zheng/argus/internal/graph"
	"github.com/zheng/argus/internal/impact"
	"github.com/zheng/argus/internal/storage"
)

const defaultLimit = 50

const reindexHint = "\n\n💡 提示：如果代码最近有更新，请运行以下命令更新索引：\n```bash\nargus index -i\n```"

// Server implements the MCP protocol for argus
type Server struct {
	db     *storage.DB
	gen    *argus.Generator
	input  io.Reader
	output io.Writer
	logger *slog.Logger
}

// NewServer creates a new MCP server on stdin/stdout. gen may be nil, in
// which case the callgraph tool reports an error.
func NewServer(db *storage.DB, gen *argus.Generator, logger *slog.Logger) *Server {
	return NewServerIO(db, gen, os.Stdin, os.Stdout, logger)
}

// NewServerIO creates a server over the given streams.
func NewServerIO(db *storage.DB, gen *argus.Generator, in io.Reader, out io.Writer, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{db: db, gen: gen, input: in, output: out, logger: logger}
}

// JSON-RPC types
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type Response struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *Error      `json:"error,omitempty"`
}

type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// MCP specific types
type InitializeResult struct {
	ProtocolVersion string       `json:"protocolVersion"`
	ServerInfo      ServerInfo   `json:"serverInfo"`
	Capabilities    Capabilities `json:"capabilities"`
}

type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type Capabilities struct {
	Tools *ToolsCapability `json:"tools,omitempty"`
}

type ToolsCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

type Tool struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	InputSchema InputSchema `json:"inputSchema"`
}

type InputSchema struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties,omitempty"`
	Required   []string            `json:"required,omitempty"`
}

type Property struct {
	Type        string      `json:"type"`
	Description string      `json:"description"`
	Default     interface{} `json:"default,omitempty"`
}

type ToolCallParams struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

type ToolCallResult struct {
	Content []ContentItem `json:"content"`
	IsError bool          `json:"isError,omitempty"`
}

type ContentItem struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Run serves requests until the input ends or ctx is cancelled
func (s *Server) Run(ctx context.Context) error {
	scanner := bufio.NewScanner(s.input)
	// Build-info derived trees can be large
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := scanner.Text()
		if line == "" {
			continue
		}

		var req Request
		if err := json.Unmarshal([]byte(line), &req); err != nil {
			s.sendError(nil, -32700, "Parse error")
			continue
		}

		s.handleRequest(ctx, &req)
	}

	return scanner.Err()
}

func (s *Server) handleRequest(ctx context.Context, req *Request) {
	switch req.Method {
	case "initialize":
		s.sendResult(req.ID, InitializeResult{
			ProtocolVersion: "2024-11-05",
			ServerInfo:      ServerInfo{Name: "argus", Version: "1.0.0"},
			Capabilities:    Capabilities{Tools: &ToolsCapability{}},
		})
	case "initialized", "notifications/initialized":
		// Notification, no response needed
	case "tools/list":
		s.sendResult(req.ID, map[string]interface{}{"tools": tools()})
	case "tools/call":
		s.handleToolsCall(ctx, req)
	default:
		s.sendError(req.ID, -32601, fmt.Sprintf("Method not found: %s", req.Method))
	}
}

func functionArg(desc string) map[string]Property {
	return map[string]Property{
		"function": {Type: "string", Description: desc},
		"depth":    {Type: "number", Description: "递归查询深度，0表示无限"},
		"limit":    {Type: "number", Description: "最多返回的函数数量，默认 50", Default: defaultLimit},
	}
}

func tools() []Tool {
	return []Tool{
		{
			Name:        "callgraph",
			Description: "生成 Solidity 源文件中每个合约的调用树（入口函数及其调用的函数、修饰器、事件和错误）",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]Property{
					"file":         {Type: "string", Description: "Solidity 源文件路径（相对项目根目录或绝对路径）"},
					"include_all":  {Type: "boolean", Description: "包含 view/pure 函数，默认 false"},
					"include_deps": {Type: "boolean", Description: "展开库和外部合约调用，默认 false"},
					"max_depth":    {Type: "number", Description: "最大展开深度，0表示无限"},
				},
				Required: []string{"file"},
			},
		},
		{
			Name:        "contracts",
			Description: "列出索引中的所有合约及其函数、修饰器和入口函数数量",
			InputSchema: InputSchema{Type: "object"},
		},
		{
			Name:        "impact",
			Description: "分析函数变更的影响范围，返回可触达它的入口函数、上游调用者和下游依赖",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]Property{
					"function": {Type: "string", Description: "要分析的函数名称（Contract.function 或函数名）"},
					"limit":    {Type: "number", Description: "每个分类最多返回的函数数量，默认 50", Default: defaultLimit},
				},
				Required: []string{"function"},
			},
		},
		{
			Name:        "upstream",
			Description: "查询调用指定函数的所有上游函数",
			InputSchema: InputSchema{Type: "object", Properties: functionArg("要查询的函数名称"), Required: []string{"function"}},
		},
		{
			Name:        "downstream",
			Description: "查询指定函数调用的所有下游函数",
			InputSchema: InputSchema{Type: "object", Properties: functionArg("要查询的函数名称"), Required: []string{"function"}},
		},
		{
			Name:        "search",
			Description: "搜索函数和修饰器，支持模糊匹配",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]Property{
					"pattern": {Type: "string", Description: "搜索模式（函数名或合约名的一部分）"},
					"limit":   {Type: "number", Description: "最多返回的函数数量，默认 50", Default: defaultLimit},
				},
				Required: []string{"pattern"},
			},
		},
	}
}

func (s *Server) handleToolsCall(ctx context.Context, req *Request) {
	var params ToolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		s.sendError(req.ID, -32602, "Invalid params")
		return
	}
	s.logger.Debug("tool call", slog.String("tool", params.Name))

	var result string
	var isError bool

	switch params.Name {
	case "callgraph":
		result, isError = s.toolCallgraph(ctx, params.Arguments)
	case "contracts":
		result, isError = s.toolContracts()
	case "impact":
		result, isError = s.toolImpact(params.Arguments)
	case "upstream":
		result, isError = s.toolWalk(params.Arguments, true)
	case "downstream":
		result, isError = s.toolWalk(params.Arguments, false)
	case "search":
		result, isError = s.toolSearch(params.Arguments)
	default:
		result = fmt.Sprintf("Unknown tool: %s", params.Name)
		isError = true
	}

	s.sendResult(req.ID, ToolCallResult{
		Content: []ContentItem{{Type: "text", Text: result}},
		IsError: isError,
	})
}

func intArg(args map[string]interface{}, name string, def int) int {
	if v, ok := args[name].(float64); ok && v >= 0 {
		return int(v)
	}
	return def
}

func boolArg(args map[string]interface{}, name string) bool {
	v, _ := args[name].(bool)
	return v
}

func (s *Server) toolCallgraph(ctx context.Context, args map[string]interface{}) (string, bool) {
	file, ok := args["file"].(string)
	if !ok || file == "" {
		return "错误：需要提供源文件路径", true
	}
	if s.gen == nil {
		return "错误：未配置调用图生成器", true
	}

	res := s.gen.Generate(ctx, argus.Request{
		Target:      file,
		IncludeAll:  boolArg(args, "include_all"),
		IncludeDeps: boolArg(args, "include_deps"),
		MaxDepth:    intArg(args, "max_depth", 0),
	})

	var sb strings.Builder
	fmt.Fprintf(&sb, "## 调用图：%s\n\n", file)
	st := display.NewStyles(false)
	for _, c := range res.Contracts {
		fmt.Fprintf(&sb, "### %s (%s)\n\n```\n", c.Name, c.File)
		sb.WriteString(display.FunctionTree(c.Functions, st))
		sb.WriteString("```\n\n")
	}
	if res.Empty {
		sb.WriteString("_没有可渲染的合约_\n\n")
	}
	for _, p := range res.Errors {
		fmt.Fprintf(&sb, "⚠️ [%s] %s\n", p.Kind, p.Message)
		if p.Detail != "" {
			fmt.Fprintf(&sb, "\n```\n%s\n```\n", p.Detail)
		}
	}
	return sb.String(), len(res.Errors) > 0 && len(res.Contracts) == 0
}

func (s *Server) toolContracts() (string, bool) {
	contracts, err := s.db.GetContracts()
	if err != nil {
		return fmt.Sprintf("错误：%v", err), true
	}
	if len(contracts) == 0 {
		return "索引中没有合约" + reindexHint, false
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "## 合约列表\n\n共 %d 个合约\n\n", len(contracts))
	sb.WriteString("| 合约 | 文件 | 函数 | 修饰器 | 入口 |\n")
	sb.WriteString("|------|------|------|--------|------|\n")
	for _, c := range contracts {
		fmt.Fprintf(&sb, "| %s | %s | %d | %d | %d |\n", c.Name, c.File, c.Functions, c.Modifiers, c.Entries)
	}
	return sb.String(), false
}

func (s *Server) toolImpact(args map[string]interface{}) (string, bool) {
	funcName, ok := args["function"].(string)
	if !ok || funcName == "" {
		return "错误：需要提供函数名称", true
	}
	limit := intArg(args, "limit", defaultLimit)
	if limit == 0 {
		limit = defaultLimit
	}

	report, err := impact.NewAnalyzer(s.db).AnalyzeImpact(funcName, 3, 2)
	if err != nil {
		return fmt.Sprintf("错误：%v", err), true
	}
	return formatImpactWithLimit(report, limit), false
}

func formatImpactWithLimit(report *impact.ImpactReport, limit int) string {
	trimmed := *report
	trimmed.EntryPoints = capNodes(report.EntryPoints, limit)
	trimmed.DirectCallers = capNodes(report.DirectCallers, limit)
	trimmed.IndirectCallers = capNodes(report.IndirectCallers, limit)
	trimmed.DirectCallees = capNodes(report.DirectCallees, limit)
	trimmed.IndirectCallees = capNodes(report.IndirectCallees, limit)

	out := trimmed.FormatMarkdown()
	for _, part := range []struct {
		label string
		n     int
	}{
		{"入口函数", len(report.EntryPoints)},
		{"直接调用者", len(report.DirectCallers)},
		{"间接调用者", len(report.IndirectCallers)},
		{"下游依赖", len(report.DirectCallees)},
		{"间接下游依赖", len(report.IndirectCallees)},
	} {
		if part.n > limit {
			out += fmt.Sprintf("_（%s共 %d 个，仅显示前 %d 个）_\n", part.label, part.n, limit)
		}
	}
	return out
}

func capNodes(nodes []*graph.Node, limit int) []*graph.Node {
	if len(nodes) > limit {
		return nodes[:limit]
	}
	return nodes
}

func (s *Server) toolWalk(args map[string]interface{}, upstream bool) (string, bool) {
	funcName, ok := args["function"].(string)
	if !ok || funcName == "" {
		return "错误：需要提供函数名称", true
	}
	depth := intArg(args, "depth", 0)
	limit := intArg(args, "limit", defaultLimit)
	if limit == 0 {
		limit = defaultLimit
	}

	node, err := impact.NewAnalyzer(s.db).Resolve(funcName)
	if err != nil {
		return fmt.Sprintf("未找到函数：%s（%v）%s", funcName, err, reindexHint), true
	}

	var (
		nodes []*graph.Node
		title = "上游调用者"
		none  = "没有上游调用者"
	)
	if upstream {
		nodes, err = s.db.GetUpstreamCallers(node.ID, depth)
	} else {
		nodes, err = s.db.GetDownstreamCallees(node.ID, depth)
		title, none = "下游调用", "没有下游调用"
	}
	if err != nil {
		return fmt.Sprintf("错误：%v", err), true
	}
	if len(nodes) == 0 {
		return fmt.Sprintf("函数 %s %s", node.Name, none), false
	}

	total := len(nodes)
	var sb strings.Builder
	fmt.Fprintf(&sb, "## %s 的%s\n\n", node.Name, title)
	writeNodeTable(&sb, capNodes(nodes, limit))
	if total > limit {
		fmt.Fprintf(&sb, "\n_（共 %d 个，仅显示前 %d 个）_\n", total, limit)
	}
	return sb.String(), false
}

func (s *Server) toolSearch(args map[string]interface{}) (string, bool) {
	pattern, ok := args["pattern"].(string)
	if !ok || pattern == "" {
		return "错误：需要提供搜索模式", true
	}
	limit := intArg(args, "limit", defaultLimit)
	if limit == 0 {
		limit = defaultLimit
	}

	nodes, err := s.db.FindNodesByPattern(pattern)
	if err != nil {
		return fmt.Sprintf("错误：%v", err), true
	}
	if len(nodes) == 0 {
		return fmt.Sprintf("未找到匹配 '%s' 的函数%s", pattern, reindexHint), false
	}

	total := len(nodes)
	var sb strings.Builder
	fmt.Fprintf(&sb, "## 搜索结果：%s\n\n找到 %d 个匹配", pattern, total)
	if total > limit {
		fmt.Fprintf(&sb, "（显示前 %d 个）", limit)
	}
	sb.WriteString("\n\n")
	writeNodeTable(&sb, capNodes(nodes, limit))
	return sb.String(), false
}

func writeNodeTable(sb *strings.Builder, nodes []*graph.Node) {
	sb.WriteString("| 函数 | 类型 | 文件 | 行号 |\n")
	sb.WriteString("|------|------|------|------|\n")
	for _, n := range nodes {
		kind := n.Visibility
		if n.Kind == graph.NodeKindModifier {
			kind = "modifier"
		}
		fmt.Fprintf(sb, "| %s | %s | %s | %d |\n", n.Name, kind, n.File, n.Line)
	}
}

func (s *Server) sendResult(id interface{}, result interface{}) {
	s.send(Response{JSONRPC: "2.0", ID: id, Result: result})
}

func (s *Server) sendError(id interface{}, code int, message string) {
	s.send(Response{JSONRPC: "2.0", ID: id, Error: &Error{Code: code, Message: message}})
}

func (s *Server) send(resp Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error("failed to encode response", slog.Any("error", err))
		return
	}
	fmt.Fprintln(s.output, string(data))
}
