package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/zheng/argus/internal/argus"
	"github.com/zheng/argus/internal/display"
	"github.com/zheng/argus/internal/render"
)

func graphCmd() *cobra.Command {
	var includeAll, includeDeps bool
	var maxDepth int
	var format string
	var outputFile string

	cmd := &cobra.Command{
		Use:   "graph <file.sol>",
		Short: "生成源文件中每个合约的调用树",
		Long: `读取最新的 build-info 产物，为指定源文件中的每个可部署合约生成调用树。

根节点是合约的入口函数（public/external，默认跳过 view/pure），
子节点是被调用的函数和修饰器，并标注引用的事件、错误和结构体。

示例：
  argus graph src/Vault.sol                 # 终端树形输出
  argus graph src/Vault.sol --all --deps    # 包含 view/pure 函数并展开依赖
  argus graph src/Vault.sol --format html -o vault.html`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if maxDepth == 0 {
				maxDepth = cfg.MaxDepth
			}
			res := newGenerator(nil).Generate(cmd.Context(), argus.Request{
				Target:      args[0],
				IncludeAll:  includeAll || cfg.IncludeAll,
				IncludeDeps: includeDeps || cfg.IncludeDeps,
				MaxDepth:    maxDepth,
			})

			w := cmd.OutOrStdout()
			if outputFile != "" && outputFile != "-" {
				f, err := os.Create(outputFile)
				if err != nil {
					return fmt.Errorf("创建输出文件失败: %w", err)
				}
				defer f.Close()
				w = f
			}

			if err := writeGraph(w, res, format, args[0]); err != nil {
				return err
			}
			if len(res.Contracts) == 0 && len(res.Errors) > 0 {
				return fmt.Errorf("生成调用图失败: %s", res.Errors[0].Message)
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&includeAll, "all", "a", false, "包含 view/pure 函数")
	cmd.Flags().BoolVar(&includeDeps, "deps", false, "展开库和外部合约调用")
	cmd.Flags().IntVar(&maxDepth, "max-depth", 0, "最大展开深度 (0=使用配置，配置为 0 时无限)")
	cmd.Flags().StringVar(&format, "format", "text", "输出格式 (text/json/html)")
	cmd.Flags().StringVarP(&outputFile, "output", "o", "", "输出文件路径 (默认输出到 stdout)")

	return cmd
}

func writeGraph(w io.Writer, res *argus.Result, format, target string) error {
	switch format {
	case "json":
		enc := jsonEncoder(w)
		return enc.Encode(res)
	case "html":
		page, err := render.Page("argus: "+target, res.HTML)
		if err != nil {
			return fmt.Errorf("渲染 HTML 失败: %w", err)
		}
		_, err = io.WriteString(w, page)
		return err
	}

	st := display.NewStyles(false)
	if f, ok := w.(*os.File); ok {
		st = display.NewStyles(display.ColorEnabled(f))
	}
	for _, p := range res.Errors {
		fmt.Fprintf(w, "⚠️  [%s] %s\n", p.Kind, p.Message)
		if p.Detail != "" {
			fmt.Fprintf(w, "%s\n", st.Muted(p.Detail))
		}
		fmt.Fprintln(w)
	}
	if res.Empty {
		fmt.Fprintln(w, "没有可展示的合约（文件中只有接口、抽象合约或库）")
		return nil
	}
	for _, c := range res.Contracts {
		fmt.Fprintf(w, "📦 %s  %s\n", st.Name(c.Name), st.Muted(c.File))
		if len(c.Functions) == 0 {
			fmt.Fprintln(w, "└── (无入口函数)")
		}
		fmt.Fprint(w, display.FunctionTree(c.Functions, st))
		if n := c.Declarations.Total(); n > 0 {
			fmt.Fprintf(w, "%s\n", st.Muted(fmt.Sprintf("声明: %d 个", n)))
		}
		fmt.Fprintln(w)
	}
	return nil
}
