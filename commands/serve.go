package commands

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cumplia/enscope/catalog"
	"github.com/cumplia/enscope/engine"
	"github.com/cumplia/enscope/httpapi"
)

func newServeCommand(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the assessment HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(flags)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			rt, err := buildRuntime(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer rt.close()

			if cfg.Catalog.Watch && len(cfg.Catalog.Patterns) > 0 {
				watcher, err := catalog.NewWatcher(cfg.Catalog.Patterns, logger)
				if err != nil {
					logger.Warn("Catalog watcher unavailable", "error", err)
				} else {
					watcher.Drift = engine.CatalogDrift
					go func() {
						if err := watcher.Run(ctx); err != nil {
							logger.Warn("Catalog watcher stopped", "error", err)
						}
					}()
				}
			}

			mux := http.NewServeMux()
			httpapi.NewHandler(rt.engine, rt.reporter, rt.answers, logger).Register(mux)

			srv := &http.Server{
				Addr:              cfg.HTTP.Addr,
				Handler:           mux,
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				logger.Info("Enscope ready", "version", Version, "addr", cfg.HTTP.Addr)
				errCh <- srv.ListenAndServe()
			}()

			select {
			case <-ctx.Done():
				logger.Info("Shutting down")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			}
		},
	}
}
