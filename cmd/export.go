package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/zheng/argus/internal/argus"
	"github.com/zheng/argus/internal/export"
	"github.com/zheng/argus/internal/workspace"
)

func exportCmd() *cobra.Command {
	var outputFile string
	var incremental bool
	var gitBase string
	var noMermaid bool
	var noSnippets bool
	var includeAll, includeDeps bool

	cmd := &cobra.Command{
		Use:   "export [file.sol]",
		Short: "导出调用图谱文档",
		Long: `导出 Markdown 格式的调用图谱文档，可作为代码审计或 AI 编码的上下文。

不带参数时导出整个索引（需要先运行 argus index）；
指定源文件时直接从 build-info 产物生成该文件的调用树文档。

示例：
  argus export -o CALLGRAPH.md          # 导出整个项目索引
  argus export -i                       # 只导出 git 变更文件中的函数
  argus export src/Vault.sol --all      # 导出单个文件的调用树`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var w io.Writer = os.Stdout
			if outputFile != "" && outputFile != "-" {
				f, err := os.Create(outputFile)
				if err != nil {
					return fmt.Errorf("创建输出文件失败: %w", err)
				}
				defer f.Close()
				w = f
			}

			if len(args) == 1 {
				res := newGenerator(nil).Generate(cmd.Context(), argus.Request{
					Target:      args[0],
					IncludeAll:  includeAll || cfg.IncludeAll,
					IncludeDeps: includeDeps || cfg.IncludeDeps,
					MaxDepth:    cfg.MaxDepth,
				})
				opts := export.DefaultReportOptions()
				opts.IncludeMermaid = !noMermaid
				opts.IncludeSnippets = !noSnippets
				opts.Title = filepath.Base(args[0])
				return export.NewExporter(nil).Export(w, res, opts)
			}

			db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			exporter := export.NewExporter(db)
			opts := export.DefaultExportOptions()
			opts.IncludeMermaid = !noMermaid
			opts.ProjectName = filepath.Base(cfg.Root)

			if incremental {
				changes, err := workspace.GetGitChanges(cmd.Context(), cfg.Root, gitBase)
				if err != nil {
					return fmt.Errorf("获取 git 变更失败: %w", err)
				}
				if !changes.HasChanges() {
					fmt.Fprintln(os.Stderr, "没有检测到变更")
					return nil
				}
				fmt.Fprintf(os.Stderr, "检测到 %d 个变更文件\n", len(changes.ChangedFiles))
				return exporter.ExportIncremental(w, changes.ChangedFiles, opts)
			}

			return exporter.ExportIndex(w, opts)
		},
	}

	cmd.Flags().StringVarP(&outputFile, "output", "o", "", "输出文件路径 (默认输出到 stdout)")
	cmd.Flags().BoolVarP(&incremental, "incremental", "i", false, "增量导出 (只输出 git 变更部分)")
	cmd.Flags().StringVar(&gitBase, "base", "HEAD", "git 比较基准")
	cmd.Flags().BoolVar(&noMermaid, "no-mermaid", false, "不生成 Mermaid 图表")
	cmd.Flags().BoolVar(&noSnippets, "no-snippets", false, "不包含函数源码片段")
	cmd.Flags().BoolVarP(&includeAll, "all", "a", false, "包含 view/pure 函数 (仅单文件导出)")
	cmd.Flags().BoolVar(&includeDeps, "deps", false, "展开库和外部合约调用 (仅单文件导出)")

	return cmd
}
