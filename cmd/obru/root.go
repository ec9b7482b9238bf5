package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/danielhardy/obru-ai/internal/app"
	"github.com/danielhardy/obru-ai/internal/config"
)

var (
	configPath string
	serverURL  string
	apiKey     string
)

var rootCmd = &cobra.Command{
	Use:   "obru",
	Short: "LLM orchestration server and client",
	Long: `obru keeps conversations with a chat model, lets the model call
registered tools, and runs named multi-step workflows.

Run "obru serve" to expose the HTTP API, or use "obru chat" for an
interactive session. Client commands run in-process unless --server
points them at a running obru instance.`,
	SilenceUsage: true,
}

// Execute 运行根命令。
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ./obru.yaml or ~/.config/obru/obru.yaml)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "talk to a running obru server instead of running in-process")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", os.Getenv("OBRU_API_KEY"), "API key for --server")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(workflowCmd)
	rootCmd.AddCommand(toolsCmd)
}

// loadConfig 读取配置并初始化日志。
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := app.InitLogging(cfg.Log); err != nil {
		return nil, fmt.Errorf("初始化日志失败: %w", err)
	}
	return cfg, nil
}
