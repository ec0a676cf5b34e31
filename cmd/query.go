package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zheng/argus/internal/graph"
	"github.com/zheng/argus/internal/impact"
)

func upstreamCmd() *cobra.Command {
	var depth int
	var format string
	var selectN int

	cmd := &cobra.Command{
		Use:   "upstream <function-name>",
		Short: "查询函数的上游调用者",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			target, err := selectNode(db, args[0], selectN)
			if err != nil {
				return err
			}
			report, err := impact.NewAnalyzer(db).AnalyzeImpact(target.Key, depth, 1)
			if err != nil {
				return err
			}

			switch format {
			case "json":
				return outputJSON(append(report.DirectCallers, report.IndirectCallers...))
			case "markdown":
				fmt.Printf("## 上游调用者: %s\n\n", report.Target.Name)
				printNodeTable(append(report.DirectCallers, report.IndirectCallers...), "_无上游调用者_")
			default:
				callTree, err := db.GetUpstreamCallTree(report.Target.ID, depth)
				if err != nil {
					return fmt.Errorf("获取调用树失败: %w", err)
				}
				maxWidth, maxDepth := treeWidth(report.Target, callTree)
				printTarget(report.Target, maxWidth, maxDepth)
				printCallTree("⬆️ 调用者", depth, callTree, maxWidth, maxDepth)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&depth, "depth", 7, "递归深度 (0=无限)")
	cmd.Flags().StringVar(&format, "format", "text", "输出格式 (text/json/markdown)")
	cmd.Flags().IntVar(&selectN, "select", 0, "当匹配到多个函数时，直接选择第N个（跳过交互提示）")

	return cmd
}

func downstreamCmd() *cobra.Command {
	var depth int
	var format string
	var selectN int

	cmd := &cobra.Command{
		Use:   "downstream <function-name>",
		Short: "查询函数的下游依赖",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			target, err := selectNode(db, args[0], selectN)
			if err != nil {
				return err
			}
			report, err := impact.NewAnalyzer(db).AnalyzeImpact(target.Key, 1, depth)
			if err != nil {
				return err
			}

			switch format {
			case "json":
				return outputJSON(append(report.DirectCallees, report.IndirectCallees...))
			case "markdown":
				fmt.Printf("## 下游依赖: %s\n\n", report.Target.Name)
				printNodeTable(append(report.DirectCallees, report.IndirectCallees...), "_无下游依赖_")
			default:
				callTree, err := db.GetDownstreamCallTree(report.Target.ID, depth)
				if err != nil {
					return fmt.Errorf("获取调用树失败: %w", err)
				}
				maxWidth, maxDepth := treeWidth(report.Target, callTree)
				printTarget(report.Target, maxWidth, maxDepth)
				printCallTree("⬇️ 被调用", depth, callTree, maxWidth, maxDepth)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&depth, "depth", 7, "递归深度 (0=无限)")
	cmd.Flags().StringVar(&format, "format", "text", "输出格式 (text/json/markdown)")
	cmd.Flags().IntVar(&selectN, "select", 0, "当匹配到多个函数时，直接选择第N个（跳过交互提示）")

	return cmd
}

func impactCmd() *cobra.Command {
	var upstreamDepth int
	var downstreamDepth int
	var format string
	var selectN int

	cmd := &cobra.Command{
		Use:   "impact <function-name>",
		Short: "分析函数变更的影响范围",
		Long: `分析修改一个函数会影响哪些代码：可触达它的入口函数（即哪些 fuzz/调用入口会执行到它）、
直接和间接调用者，以及它依赖的下游函数。`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			target, err := selectNode(db, args[0], selectN)
			if err != nil {
				return err
			}
			report, err := impact.NewAnalyzer(db).AnalyzeImpact(target.Key, upstreamDepth, downstreamDepth)
			if err != nil {
				return err
			}

			switch format {
			case "json":
				return outputJSON(report)
			case "markdown":
				fmt.Print(report.FormatMarkdown())
			case "summary":
				fmt.Println(report.Summary())
			default:
				upstreamTree, err := db.GetUpstreamCallTree(report.Target.ID, upstreamDepth)
				if err != nil {
					return fmt.Errorf("获取上游调用树失败: %w", err)
				}
				downstreamTree, err := db.GetDownstreamCallTree(report.Target.ID, downstreamDepth)
				if err != nil {
					return fmt.Errorf("获取下游调用树失败: %w", err)
				}

				maxWidth, maxDepth := treeWidth(report.Target, upstreamTree, downstreamTree)
				printTarget(report.Target, maxWidth, maxDepth)
				fmt.Printf("风险等级: %s %s\n\n", riskIcon(report.RiskLevel), report.RiskLevel)

				fmt.Printf("🚪 入口函数 (共 %d 个)\n", len(report.EntryPoints))
				if len(report.EntryPoints) == 0 {
					fmt.Println("└── (无)")
				}
				for i, e := range report.EntryPoints {
					prefix := "├──"
					if i == len(report.EntryPoints)-1 {
						prefix = "└──"
					}
					fmt.Printf("%s %s  %s:%d\n", prefix, e.Name, e.File, e.Line)
				}
				fmt.Println()

				printCallTree("⬆️ 调用者", upstreamDepth, upstreamTree, maxWidth, maxDepth)
				fmt.Println()
				printCallTree("⬇️ 被调用", downstreamDepth, downstreamTree, maxWidth, maxDepth)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&upstreamDepth, "upstream-depth", 7, "上游递归深度")
	cmd.Flags().IntVar(&downstreamDepth, "downstream-depth", 7, "下游递归深度")
	cmd.Flags().StringVar(&format, "format", "text", "输出格式 (text/json/markdown/summary)")
	cmd.Flags().IntVar(&selectN, "select", 0, "当匹配到多个函数时，直接选择第N个（跳过交互提示）")

	return cmd
}

func listCmd() *cobra.Command {
	var limit int
	var contracts bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "列出所有函数",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			if contracts {
				cs, err := db.GetContracts()
				if err != nil {
					return fmt.Errorf("查询失败: %w", err)
				}
				fmt.Printf("共 %d 个合约:\n\n", len(cs))
				for _, c := range cs {
					fmt.Printf("  %s  (%d 函数, %d 修饰器, %d 入口)\n    %s\n", c.Name, c.Functions, c.Modifiers, c.Entries, c.File)
				}
				return nil
			}

			funcs, err := db.GetAllFunctions()
			if err != nil {
				return fmt.Errorf("查询失败: %w", err)
			}

			fmt.Printf("共 %d 个函数:\n\n", len(funcs))
			for i, f := range funcs {
				if limit > 0 && i >= limit {
					fmt.Printf("... 还有 %d 个函数\n", len(funcs)-limit)
					break
				}
				entry := ""
				if f.Entry {
					entry = " 🚪"
				}
				fmt.Printf("  %s%s\n    %s:%d\n", f.Name, entry, f.File, f.Line)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "限制显示数量 (0=全部)")
	cmd.Flags().BoolVar(&contracts, "contracts", false, "列出合约而不是函数")

	return cmd
}

func searchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search <pattern>",
		Short: "搜索函数和修饰器",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			funcs, err := db.FindNodesByPattern(args[0])
			if err != nil {
				return fmt.Errorf("搜索失败: %w", err)
			}
			if len(funcs) == 0 {
				fmt.Println("未找到匹配的函数")
				return nil
			}

			fmt.Printf("找到 %d 个匹配:\n\n", len(funcs))
			for _, f := range funcs {
				fmt.Printf("  %s  [%s]\n    %s:%d\n", f.Name, f.Kind, f.File, f.Line)
			}
			return nil
		},
	}

	return cmd
}

func printNodeTable(nodes []*graph.Node, empty string) {
	if len(nodes) == 0 {
		fmt.Println(empty)
		return
	}
	fmt.Println("| 函数 | 文件 | 行号 |")
	fmt.Println("|------|------|------|")
	for _, n := range nodes {
		fmt.Printf("| %s | %s | %d |\n", n.Name, n.File, n.Line)
	}
}
