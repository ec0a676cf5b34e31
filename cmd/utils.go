package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/zheng/argus/internal/argus"
	"github.com/zheng/argus/internal/artifact"
	"github.com/zheng/argus/internal/display"
	"github.com/zheng/argus/internal/graph"
	"github.com/zheng/argus/internal/impact"
	"github.com/zheng/argus/internal/storage"
	"github.com/zheng/argus/internal/workspace"
)

func outputJSON(v any) error {
	return jsonEncoder(os.Stdout).Encode(v)
}

func jsonEncoder(w io.Writer) *json.Encoder {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc
}

// openDB opens the index database, creating its directory
func openDB() (*storage.DB, error) {
	path := cfg.Path(cfg.DB)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("创建数据库目录失败: %w", err)
	}
	db, err := storage.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开数据库失败: %w", err)
	}
	return db, nil
}

func newGenerator(loader *artifact.Loader) *argus.Generator {
	return argus.NewGenerator(cfg.Root, cfg.Artifacts, loader, logger)
}

func newRebuilder() *workspace.CommandRebuilder {
	return workspace.NewCommandRebuilder(cfg.Root, cfg.BuildCommand, logger)
}

// selectNode resolves funcName, asking the user to pick when it is
// ambiguous. selectN >= 1 picks the n-th match without prompting.
func selectNode(db *storage.DB, funcName string, selectN int) (*graph.Node, error) {
	node, err := impact.NewAnalyzer(db).Resolve(funcName)
	if err == nil {
		return node, nil
	}
	if !errors.Is(err, impact.ErrAmbiguous) {
		return nil, fmt.Errorf("%w\n\n💡 提示：如果这是新添加的函数，请先运行 argus index -i", err)
	}

	nodes, _ := db.FindNodesByPattern(funcName)
	if selectN >= 1 && selectN <= len(nodes) {
		return nodes[selectN-1], nil
	}

	fmt.Println("找到多个匹配的函数，请选择:")
	for i, n := range nodes {
		fmt.Printf("  [%d] %s\n      %s:%d\n", i+1, n.Name, n.File, n.Line)
	}
	fmt.Printf("\n请输入序号 [1-%d]: ", len(nodes))

	var choice int
	if _, err := fmt.Scanf("%d", &choice); err != nil || choice < 1 || choice > len(nodes) {
		return nil, fmt.Errorf("无效的选择")
	}
	return nodes[choice-1], nil
}

// printTarget prints the header line shared by the tree outputs
func printTarget(n *graph.Node, maxWidth, maxDepth int) {
	st := display.ForStdout()
	fmt.Println("📍 当前函数")
	padding := maxWidth + maxDepth*4
	fmt.Printf("%s  %s\n", st.Name(fmt.Sprintf("%-*s", padding, n.Name)), st.Muted(fmt.Sprintf("%s:%d", n.File, n.Line)))
	if n.Signature != "" {
		fmt.Printf("   %s\n", n.Signature)
	}
	fmt.Println()
}

// printCallTree prints the call tree to stdout
func printCallTree(title string, depth int, tree []*storage.CallTreeNode, maxWidth, maxDepth int) {
	if len(tree) == 0 {
		fmt.Println(title)
		fmt.Println("└── (无)")
		return
	}
	if depth > 0 {
		fmt.Printf("%s (深度 %d)\n", title, depth)
	} else {
		fmt.Println(title)
	}
	fmt.Print(display.FormatCallTree(tree, "", maxWidth, maxDepth, 0, display.ForStdout()))
}

func treeWidth(n *graph.Node, trees ...[]*storage.CallTreeNode) (maxWidth, maxDepth int) {
	maxWidth = len(n.Name)
	for _, t := range trees {
		d := 0
		display.CalcTreeMaxWidth(t, &maxWidth, 0, &d)
		if d > maxDepth {
			maxDepth = d
		}
	}
	return maxWidth, maxDepth
}
