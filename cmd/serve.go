package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/moditems-crawler/internal/api"
	"github.com/JakeFAU/moditems-crawler/internal/config"
	"github.com/JakeFAU/moditems-crawler/internal/metrics"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(root *rootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the crawl results over a read-only HTTP API",
		Long: `Serves the JSON store over HTTP. The store is re-read on every request, so
results of a crawl running alongside show up immediately.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, done, err := root.setup(nil)
			if err != nil {
				return err
			}
			defer done()

			if addr == "" {
				addr = fmt.Sprintf(":%d", cfg.Server.Port)
			}
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("listen on %s: %w", addr, err)
			}
			return serve(cmd.Context(), ln, newAPIServer(cfg, logger).Handler(), logger)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default :<server.port>)")
	return cmd
}

func newAPIServer(cfg config.Config, logger *zap.Logger) *api.Server {
	metrics.Init()
	return api.NewServer(
		api.FileStore{Path: cfg.Store.Path},
		api.Config{APIKey: cfg.Server.APIKey},
		logger.Named("api"),
	)
}

// serve runs handler on ln until ctx finishes, then shuts down gracefully.
func serve(ctx context.Context, ln net.Listener, handler http.Handler, logger *zap.Logger) error {
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server started", zap.String("addr", ln.Addr().String()))
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutdown initiated")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
	return nil
}
