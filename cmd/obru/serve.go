package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/danielhardy/obru-ai/internal/app"
	"github.com/danielhardy/obru-ai/pkg/logger"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the background task processor",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		defer logger.Sync()

		ctx := cmd.Context()
		a, err := app.New(ctx, cfg)
		if err != nil {
			return err
		}
		defer func() {
			if err := a.Close(); err != nil {
				logger.L().Warn("释放资源失败", slog.Any("error", err))
			}
		}()

		logger.L().Info("obru 启动",
			slog.String("addr", cfg.Server.Address),
			slog.String("provider", cfg.LLM.Provider),
			slog.String("task_queue", cfg.TaskQueue.Driver),
			slog.String("task_store", cfg.TaskStore.Driver),
		)
		return a.Run(ctx)
	},
}
