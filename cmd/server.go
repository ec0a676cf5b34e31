package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/zheng/argus/internal/artifact"
	"github.com/zheng/argus/internal/mcp"
	"github.com/zheng/argus/internal/shell"
	"github.com/zheng/argus/internal/storage"
	"github.com/zheng/argus/internal/watcher"
	"github.com/zheng/argus/internal/web"
	"github.com/zheng/argus/internal/workspace"
)

func mcpCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "启动 MCP (Model Context Protocol) 服务器",
		Long: `启动 MCP 服务器，允许 AI 助手直接查询合约调用图。

MCP 工具包括：
  - callgraph: 生成源文件的调用树
  - contracts: 列出索引中的合约
  - impact: 分析函数变更的影响范围
  - upstream: 查询上游调用者
  - downstream: 查询下游被调用者
  - search: 搜索函数`,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return mcp.NewServer(db, newGenerator(nil), logger).Run(ctx)
		},
	}

	return cmd
}

// reindexer serializes index updates triggered by the watcher
type reindexer struct {
	mu     sync.Mutex
	db     *storage.DB
	loader *artifact.Loader
}

func (r *reindexer) run(ctx context.Context, changed []string) (*workspace.IndexResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return workspace.BuildIndex(ctx, r.db, r.loader, workspace.IndexOptions{
		Root:         cfg.Root,
		Artifacts:    cfg.Artifacts,
		ChangedFiles: changed,
		IncludeDeps:  cfg.IncludeDeps,
	}, logger)
}

// relSources converts watcher paths to unit paths relative to the root
func relSources(paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if rel, err := filepath.Rel(cfg.Root, p); err == nil {
			out = append(out, filepath.ToSlash(rel))
		}
	}
	return out
}

func stamp() string {
	return time.Now().Format("15:04:05")
}

func watchCmd() *cobra.Command {
	var debounceMs int
	var build bool

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "监控文件变更并自动更新调用索引",
		Long: `启动 watch 模式，监控项目中的 Solidity 文件和 build-info 产物目录。
当新的构建产物写入时，自动重新索引变更的源文件。

特性：
  - 自动递归监控所有目录（跳过 lib、node_modules、out、cache 和隐藏目录）
  - 防抖处理，避免频繁触发索引
  - --build 时源文件保存后自动执行构建命令

示例：
  argus watch                  # 监控当前项目
  argus watch --build          # 保存后自动 forge build
  argus watch --debounce 1000  # 设置 1 秒防抖延迟`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			ri := &reindexer{db: db, loader: artifact.NewLoader(nil, logger)}
			fmt.Println("执行初始索引...")
			if res, err := ri.run(ctx, nil); err != nil {
				fmt.Fprintf(os.Stderr, "初始索引失败: %v\n", err)
			} else {
				fmt.Printf("初始索引完成: %d 节点, %d 边\n", res.Nodes, res.Edges)
			}

			rebuilder := newRebuilder()
			var pending []string
			var pendingMu sync.Mutex

			w, err := watcher.New(
				cfg.Root,
				cfg.Path(cfg.Artifacts),
				watcher.WithDebounceDelay(time.Duration(debounceMs)*time.Millisecond),
				watcher.WithOnChange(func(c watcher.Change) {
					sources := relSources(c.Sources)
					pendingMu.Lock()
					pending = append(pending, sources...)
					pendingMu.Unlock()

					if !c.Artifact {
						fmt.Printf("[%s] 检测到 %d 个源文件变更\n", stamp(), len(sources))
						if build {
							if err := rebuilder.Rebuild(ctx); err != nil {
								fmt.Fprintf(os.Stderr, "[%s] 构建失败: %v\n", stamp(), err)
							}
						}
						return
					}

					pendingMu.Lock()
					changed := pending
					pending = nil
					pendingMu.Unlock()

					fmt.Printf("[%s] 检测到新的构建产物，开始索引...\n", stamp())
					res, err := ri.run(ctx, changed)
					if err != nil {
						fmt.Fprintf(os.Stderr, "[%s] 错误: %v\n", stamp(), err)
						return
					}
					fmt.Printf("[%s] 索引完成: %d 节点, %d 边 (耗时 %v)\n",
						stamp(), res.Nodes, res.Edges, res.Took.Round(time.Millisecond))
				}),
				watcher.WithOnError(func(err error) {
					fmt.Fprintf(os.Stderr, "[%s] 错误: %v\n", stamp(), err)
				}),
			)
			if err != nil {
				return fmt.Errorf("创建监控器失败: %w", err)
			}

			fmt.Printf("\n开始监控目录: %s\n", cfg.Root)
			fmt.Printf("数据库路径: %s\n", cfg.Path(cfg.DB))
			fmt.Printf("防抖延迟: %dms\n", debounceMs)
			fmt.Println("\n按 Ctrl+C 停止...")

			w.Start()
			defer w.Stop()

			<-ctx.Done()
			fmt.Println("\n停止监控...")
			return nil
		},
	}

	cmd.Flags().IntVar(&debounceMs, "debounce", 500, "防抖延迟（毫秒）")
	cmd.Flags().BoolVar(&build, "build", false, "源文件变更后自动执行构建命令")

	return cmd
}

func viewCmd() *cobra.Command {
	var port int
	var reindex bool

	cmd := &cobra.Command{
		Use:   "view <file.sol>",
		Short: "启动 Web UI 实时查看调用图",
		Long: `启动一个本地 Web 服务器，实时展示指定源文件的调用树。

特性：
  - 源文件保存或构建产物更新后自动刷新（300ms 防抖，只显示最新结果）
  - 展开/折叠、复制源码片段、重新构建、导出 PNG
  - 切换是否包含 view/pure 函数和依赖调用

示例：
  argus view src/Vault.sol           # 使用配置中的端口
  argus view src/Vault.sol -p 3000   # 指定端口
  argus view src/Vault.sol --index   # 构建产物更新时同时更新索引`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if !cmd.Flags().Changed("port") {
				port = cfg.Web.Port
			}

			db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			loader := artifact.NewLoader(nil, logger)
			srv := web.NewServer(db, cfg.Root, port, logger)
			sh := shell.New(newGenerator(loader), srv, args[0], shell.Options{
				Debounce:  cfg.Debounce,
				MaxDepth:  cfg.MaxDepth,
				ExportDir: cfg.Path(cfg.ExportDir),
				Rebuilder: newRebuilder(),
				Logger:    logger,
			})
			defer sh.Close()
			srv.Attach(sh)
			sh.SetToggles(shell.Toggles{IncludeAll: cfg.IncludeAll, IncludeDeps: cfg.IncludeDeps})

			ri := &reindexer{db: db, loader: loader}
			w, err := watcher.New(cfg.Root, cfg.Path(cfg.Artifacts),
				watcher.WithOnChange(func(c watcher.Change) {
					sh.Schedule()
					if reindex && c.Artifact {
						if _, err := ri.run(ctx, nil); err != nil {
							logger.Warn("reindex failed", "error", err)
						}
					}
				}),
				watcher.WithOnError(func(err error) {
					logger.Warn("watch error", "error", err)
				}),
			)
			if err != nil {
				return fmt.Errorf("创建监控器失败: %w", err)
			}
			w.Start()
			defer w.Stop()

			fmt.Printf("🌐 Web UI 启动: http://127.0.0.1:%d\n", port)

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return srv.Run(gctx) })
			g.Go(func() error {
				sh.Regenerate(gctx)
				return nil
			})
			return g.Wait()
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 7420, "服务器端口")
	cmd.Flags().BoolVar(&reindex, "index", false, "构建产物更新时同时更新索引")

	return cmd
}
