package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/qs3c/doc_gen_server/config"
)

// 构建时通过 -ldflags 注入
var (
	version = "dev"
	commit  = "none"
)

// rootCtx 所有命令共用的根 context
var rootCtx = context.Background()

// configPath 配置文件路径，文件不存在时使用默认值
var configPath string

// cfg 加载后的配置，由 PersistentPreRunE 填充
var cfg = &config.Config{}

var rootCmd = &cobra.Command{
	Use:   "docgen",
	Short: "Generate Markdown documentation for a source repository.",
	Long: `docgen clones a repository, extracts its structure, ranks the most
important files, asks an LLM for a short insight on each of them and writes
an overview, per-file pages and an API index to the output directory.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the docgen version.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		_, err := fmt.Fprintf(cmd.OutOrStdout(), "docgen %s (%s)\n", version, commit)
		return err
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config/config.yaml", "path to the config file")
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(analyzeCmd)
}
