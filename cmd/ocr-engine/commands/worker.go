package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cin-dennis/ocr-engine/internal/storage"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run task consumers without the API server",
	Long: `Runs broker consumers that process queued OCR tasks. Intended for
deployments where the API server and the processing fleet scale
independently; requires a shared broker such as Redis.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		if a.cfg.Broker.Driver == "memory" {
			return fmt.Errorf("worker requires a shared broker; configure broker.driver=redis")
		}

		if err := storage.Migrate(ctx, a.db); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}

		a.logger.Info().
			Int("workers", a.cfg.Broker.Workers).
			Str("queue", a.cfg.Broker.Queue).
			Msg("Starting task workers")

		consumerCtx, stop := context.WithCancel(context.Background())
		orch := a.orchestrator()
		wait := a.startConsumers(consumerCtx, orch, a.cfg.Broker.Workers)

		shutdown := make(chan os.Signal, 1)
		signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
		sig := <-shutdown
		a.logger.Info().Str("signal", sig.String()).Msg("Shutdown signal received")

		stop()
		waitWithDeadline(wait, a.cfg.Server.GracefulShutdown, a)

		a.logger.Info().Msg("Workers stopped")
		return nil
	},
}
