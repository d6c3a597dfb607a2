package commands

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cin-dennis/ocr-engine/internal/api"
	"github.com/cin-dennis/ocr-engine/internal/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the API server with in-process task consumers",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := storage.Migrate(ctx, a.db); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}

		a.logger.Info().
			Str("host", a.cfg.Server.Host).
			Int("port", a.cfg.Server.Port).
			Str("database", a.cfg.Database.Driver).
			Str("blob", a.cfg.Blob.Driver).
			Str("broker", a.cfg.Broker.Driver).
			Msg("Starting OCR engine")

		consumerCtx, stopConsumers := context.WithCancel(context.Background())
		orch := a.orchestrator()
		waitConsumers := a.startConsumers(consumerCtx, orch, a.cfg.Broker.Workers)

		router := api.NewRouter(a.logger, a.documentService(), api.RouterOptions{
			RequestTimeout: a.cfg.Server.WriteTimeout,
			MaxUploadBytes: a.cfg.Server.MaxUploadBytes,
			ReadyChecks: []api.HealthChecker{
				func(ctx context.Context) error { return a.db.PingContext(ctx) },
			},
		})

		addr := fmt.Sprintf("%s:%d", a.cfg.Server.Host, a.cfg.Server.Port)
		srv := &http.Server{
			Addr:         addr,
			Handler:      router,
			ReadTimeout:  a.cfg.Server.ReadTimeout,
			WriteTimeout: a.cfg.Server.WriteTimeout,
			IdleTimeout:  a.cfg.Server.IdleTimeout,
		}

		serverErrors := make(chan error, 1)
		go func() {
			a.logger.Info().Str("addr", addr).Msg("HTTP server listening")
			serverErrors <- srv.ListenAndServe()
		}()

		shutdown := make(chan os.Signal, 1)
		signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

		select {
		case err := <-serverErrors:
			a.logger.Error().Err(err).Msg("Server error")
		case sig := <-shutdown:
			a.logger.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.GracefulShutdown)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Error().Err(err).Msg("Graceful shutdown failed")
			if err := srv.Close(); err != nil {
				a.logger.Error().Err(err).Msg("Forced shutdown failed")
			}
		}

		stopConsumers()
		waitWithDeadline(waitConsumers, a.cfg.Server.GracefulShutdown, a)

		a.logger.Info().Msg("Server stopped")
		return nil
	},
}

// waitWithDeadline waits for in-flight task work, giving up after the
// graceful shutdown window so a stuck inference call cannot pin the
// process.
func waitWithDeadline(wait func(), d time.Duration, a *app) {
	done := make(chan struct{})
	go func() {
		wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(d):
		a.logger.Warn().Dur("deadline", d).Msg("Task drain deadline exceeded")
	}
}
