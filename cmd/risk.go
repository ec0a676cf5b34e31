package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zheng/argus/internal/impact"
)

func riskCmd() *cobra.Command {
	var limit int
	var selectN int

	cmd := &cobra.Command{
		Use:   "risk [function-name]",
		Short: "分析函数变更风险",
		Long: `分析函数的变更风险等级，基于调用者数量评估。

风险等级说明：
  - critical: 直接调用者 >= 20 或总调用者 >= 60
  - high:     直接调用者 >= 10 或总调用者 >= 30
  - medium:   直接调用者 >= 3 或总调用者 >= 10
  - low:      其他

示例：
  argus risk _transfer      # 查看单个函数的风险
  argus risk --limit 20     # 显示被调用最多的20个函数`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			if len(args) == 0 {
				top, err := db.GetMostCalled(limit)
				if err != nil {
					return fmt.Errorf("查询失败: %w", err)
				}
				if len(top) == 0 {
					fmt.Println("索引中没有调用关系")
					return nil
				}

				fmt.Printf("高风险函数排行 (Top %d)\n\n", limit)
				for _, r := range top {
					total := r.DirectCallers
					if all, err := db.GetUpstreamCallers(r.Node.ID, 0); err == nil {
						total = len(all)
					}
					level := impact.CalculateRiskLevel(r.DirectCallers, total)
					fmt.Printf("%s %-8s  %s\n", riskIcon(level), level, r.Node.Name)
					fmt.Printf("             调用者: %d (总计 %d)  %s:%d\n\n", r.DirectCallers, total, r.Node.File, r.Node.Line)
				}

				fmt.Println("风险等级: 🔴critical 🟠high 🟡medium 🟢low")
				fmt.Println("\n💡 使用 argus risk <函数名> 查看详细分析")
				return nil
			}

			target, err := selectNode(db, args[0], selectN)
			if err != nil {
				return err
			}
			report, err := impact.NewAnalyzer(db).AnalyzeImpact(target.Key, 0, 1)
			if err != nil {
				return fmt.Errorf("计算风险失败: %w", err)
			}

			fmt.Printf("## 变更风险分析: %s\n\n", report.Target.Name)
			fmt.Printf("**位置:** %s:%d\n", report.Target.File, report.Target.Line)
			if report.Target.Signature != "" {
				fmt.Printf("**签名:** `%s`\n", report.Target.Signature)
			}
			fmt.Println()

			fmt.Printf("### 风险等级: %s %s\n\n", riskIcon(report.RiskLevel), report.RiskLevel)
			fmt.Printf("直接调用者: %d\n", len(report.DirectCallers))
			fmt.Printf("间接调用者: %d\n", len(report.IndirectCallers))
			fmt.Printf("可触达的入口函数: %d\n", len(report.EntryPoints))

			fmt.Println("\n**建议:**")
			switch report.RiskLevel {
			case "critical":
				fmt.Println("- ⚠️  此函数被大量调用，修改需极其谨慎")
				fmt.Println("- 建议先运行 `argus impact` 查看完整影响范围")
				fmt.Println("- 修改前确保所有入口函数都有 fuzz/不变量测试覆盖")
			case "high":
				fmt.Println("- ⚠️  此函数调用者较多，修改需谨慎")
				fmt.Println("- 建议运行 `argus upstream` 查看调用者")
				fmt.Println("- 确保修改后同步更新所有调用处")
			case "medium":
				fmt.Println("- 正常风险，注意检查调用处是否需要同步修改")
				fmt.Println("- 可运行 `argus upstream` 查看具体调用者")
			default:
				fmt.Println("- 低风险，影响范围较小")
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "显示数量")
	cmd.Flags().IntVar(&selectN, "select", 0, "当匹配到多个函数时，直接选择第N个（跳过交互提示）")

	return cmd
}

func riskIcon(level string) string {
	switch level {
	case "critical":
		return "🔴"
	case "high":
		return "🟠"
	case "medium":
		return "🟡"
	default:
		return "🟢"
	}
}
