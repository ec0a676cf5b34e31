package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/zheng/argus/internal/config"
)

var (
	configPath    string
	DbPath        string
	rootPath      string
	artifactsPath string
	logLevel      string

	cfg    = config.Default()
	logger = slog.Default()
)

// NewRootCmd builds the argus command tree
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "argus",
		Short: "Argus - Solidity 合约调用图分析工具",
		Long: `argus 读取 solc/forge 的 build-info 产物，为 Solidity 合约构建静态调用图，
展示入口函数到内部函数、修饰器、事件和错误的调用树，并追踪变更的影响范围。`,
		SilenceUsage:      true,
		PersistentPreRunE: setup,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configPath, "config", "c", "", "配置文件路径 (默认向上查找 .argus.yaml)")
	flags.StringVarP(&DbPath, "db", "d", "", "索引数据库路径")
	flags.StringVar(&rootPath, "root", "", "项目根目录")
	flags.StringVar(&artifactsPath, "artifacts", "", "build-info 产物目录 (相对项目根目录)")
	flags.StringVar(&logLevel, "log-level", "", "日志级别 (debug/info/warn/error)")

	RegisterCommands(rootCmd)
	return rootCmd
}

// RegisterCommands adds all subcommands to the root command
func RegisterCommands(rootCmd *cobra.Command) {
	rootCmd.AddCommand(graphCmd())
	rootCmd.AddCommand(indexCmd())
	rootCmd.AddCommand(upstreamCmd())
	rootCmd.AddCommand(downstreamCmd())
	rootCmd.AddCommand(impactCmd())
	rootCmd.AddCommand(riskCmd())
	rootCmd.AddCommand(listCmd())
	rootCmd.AddCommand(searchCmd())
	rootCmd.AddCommand(exportCmd())
	rootCmd.AddCommand(mcpCmd())
	rootCmd.AddCommand(watchCmd())
	rootCmd.AddCommand(viewCmd())
}

// Execute runs the CLI and returns the process exit code
func Execute() int {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

// setup loads the config file, applies flag overrides and installs the logger
func setup(cmd *cobra.Command, args []string) error {
	var err error
	if configPath != "" {
		cfg, err = config.Read(configPath)
	} else {
		cwd, _ := os.Getwd()
		cfg, _, err = config.Load(cwd)
	}
	if err != nil {
		return fmt.Errorf("加载配置失败: %w", err)
	}

	flags := cmd.Flags()
	if flags.Changed("root") {
		if cfg.Root, err = filepath.Abs(rootPath); err != nil {
			return fmt.Errorf("无效的项目根目录: %w", err)
		}
	}
	if flags.Changed("artifacts") {
		cfg.Artifacts = artifactsPath
	}
	if flags.Changed("db") {
		cfg.DB = DbPath
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("无效的配置: %w", err)
	}

	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.Level()}))
	slog.SetDefault(logger)
	logger.Debug("config loaded",
		slog.String("root", cfg.Root),
		slog.String("artifacts", cfg.Artifacts),
		slog.String("db", cfg.DB),
	)
	return nil
}
