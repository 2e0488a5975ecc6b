package cli

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	httphandler "github.com/ericfisherdev/claude-accounts/internal/adapter/driving/http"
)

// shutdownTimeout bounds the graceful drain of in-flight requests.
const shutdownTimeout = 10 * time.Second

func (a *app) serveCommand() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the JSON API for the dashboard",
		Long: `Serve the JSON API on a local address. While running, OAuth accounts close to
expiry are refreshed in the background unless the keeper interval is 0.`,
		Args: cobra.NoArgs,
		RunE: a.withRuntime(func(cmd *cobra.Command, _ []string, rt *Runtime) error {
			if !a.verbose {
				a.env.Level.Set(slog.LevelInfo)
			}
			if addr == "" {
				addr = a.env.Config.ListenAddr
			}

			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return err
			}
			return a.serve(cmd.Context(), ln, rt)
		}),
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default from config, 127.0.0.1:5111)")

	return cmd
}

// serve runs the API on ln until ctx is canceled, then drains it.
func (a *app) serve(ctx context.Context, ln net.Listener, rt *Runtime) error {
	logger := a.env.Logger

	var sweeper httphandler.Sweeper
	if rt.Keeper != nil {
		sweeper = rt.Keeper
		go rt.Keeper.Start(ctx)
	}

	handler := httphandler.NewHandler(rt.Vault, rt.Health, sweeper, a.env.Launcher, logger)
	srv := &http.Server{
		Handler:           httphandler.NewRouter(handler, rt.Gatherer, logger),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		// Refreshes may wait on the token endpoint.
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server starting", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}

	logger.Info("shutdown complete")
	return nil
}
