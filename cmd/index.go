package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/zheng/argus/internal/workspace"
)

func indexCmd() *cobra.Command {
	var incremental bool
	var gitBase string
	var remote bool
	var rebuild bool
	var includeDeps bool

	cmd := &cobra.Command{
		Use:   "index",
		Short: "从 build-info 产物构建项目调用索引",
		Long: `读取最新的 build-info 产物，把所有可部署合约的函数、修饰器和调用关系写入索引数据库，
供 upstream/downstream/impact/export/mcp 查询。

示例：
  argus index                # 全量索引
  argus index --rebuild      # 先执行构建命令 (默认 forge build --build-info)
  argus index -i             # 只替换 git 变更文件中的节点
  argus index -i -r          # 与远程同分支对比`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			var changed []string

			if rebuild {
				fmt.Println("执行构建...")
				if err := newRebuilder().Rebuild(ctx); err != nil {
					return fmt.Errorf("构建失败: %w", err)
				}
			}

			// Incremental mode: detect changed files
			if incremental {
				// 如果启用 remote 模式，自动获取远程分支作为 base
				if remote {
					remoteBranch, err := workspace.GetRemoteTrackingBranch(ctx, cfg.Root)
					if err != nil {
						fmt.Printf("警告: 无法获取远程分支: %v，将使用默认 HEAD\n", err)
					} else {
						gitBase = remoteBranch
						fmt.Printf("对比远程分支: %s\n", remoteBranch)
					}
				}

				fmt.Println("检测 git 变更...")
				changes, err := workspace.GetGitChanges(ctx, cfg.Root, gitBase)
				switch {
				case err != nil:
					fmt.Printf("警告: 无法获取 git 变更，将执行全量索引: %v\n", err)
				case !changes.HasChanges():
					fmt.Println("没有检测到 Solidity 文件变更，跳过索引")
					return nil
				default:
					fmt.Printf("检测到 %d 个变更文件，涉及 %d 个目录:\n", len(changes.ChangedFiles), len(changes.ChangedDirs))
					for _, f := range changes.ChangedFiles {
						fmt.Printf("  - %s\n", f)
					}
					changed = changes.ChangedFiles
				}
			}

			db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			res, err := workspace.BuildIndex(ctx, db, nil, workspace.IndexOptions{
				Root:         cfg.Root,
				Artifacts:    cfg.Artifacts,
				ChangedFiles: changed,
				IncludeDeps:  includeDeps || cfg.IncludeDeps,
			}, logger)
			if err != nil {
				return fmt.Errorf("构建索引失败: %w", err)
			}

			if len(changed) > 0 {
				fmt.Printf("增量模式：已删除 %d 个旧节点\n", res.Removed)
			}
			nodeCount, edgeCount, _ := db.GetStats()
			fmt.Printf("产物: %s\n", res.Artifact)
			fmt.Printf("写入数据库: %s\n", cfg.Path(cfg.DB))
			fmt.Printf("完成! %d 个合约, %d 个节点, %d 条边 (耗时 %v)\n", res.Contracts, res.Nodes, res.Edges, res.Took.Round(time.Millisecond))
			fmt.Printf("数据库总计: %d 节点, %d 边\n", nodeCount, edgeCount)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&incremental, "incremental", "i", false, "增量索引模式 (只替换 git 变更文件)")
	cmd.Flags().StringVar(&gitBase, "base", "HEAD", "git 比较基准 (默认 HEAD，即未提交的变更)")
	cmd.Flags().BoolVarP(&remote, "remote", "r", false, "与远程同分支对比 (origin/<当前分支>)")
	cmd.Flags().BoolVar(&rebuild, "rebuild", false, "索引前先执行构建命令")
	cmd.Flags().BoolVar(&includeDeps, "deps", false, "同时索引 lib/ 和 node_modules/ 中的依赖合约")

	return cmd
}
