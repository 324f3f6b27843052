package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/bulk-harvester/internal/api"
	"github.com/JakeFAU/bulk-harvester/internal/clock/system"
	"github.com/JakeFAU/bulk-harvester/internal/id/uuid"
)

// newServeCmd creates the 'serve' subcommand: the long-running HTTP surface
// for job submission and inspection.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the harvester HTTP server",
		Long: `Starts the HTTP API. Jobs are submitted via POST /v1/discover and
/v1/scrape and observed via GET /v1/jobs/{job_id}; Prometheus metrics are
exposed on /metrics.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			logger := appInstance.Logger()

			server := api.NewServer(
				appInstance.Service(),
				uuid.New(),
				system.New(),
				appInstance.Config(),
				logger,
			)
			addr := fmt.Sprintf(":%d", appInstance.Config().Server.Port)
			httpServer := &http.Server{
				Addr:              addr,
				Handler:           server.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(sigCh)

			errCh := make(chan error, 1)
			go func() {
				logger.Info("http server listening", zap.String("addr", addr))
				errCh <- httpServer.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if err != nil && !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("http server: %w", err)
				}
				return nil
			case <-sigCh:
			case <-cmd.Context().Done():
			}

			logger.Info("shutting down http server; draining in-flight jobs")
			appInstance.Coordinator().RequestShutdown()

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("shutdown http server: %w", err)
			}
			return nil
		},
	}
}
