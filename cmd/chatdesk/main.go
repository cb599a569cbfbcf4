package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/baechuer/chatdesk-auth/internal/bootstrap"
	"github.com/baechuer/chatdesk-auth/internal/config"
	"github.com/baechuer/chatdesk-auth/internal/logger"
)

// httpServer defines the minimal surface area Run() needs from an HTTP server.
type httpServer interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
	Close() error
	Addr() string
}

// realServer adapts *http.Server to the httpServer interface.
type realServer struct{ *http.Server }

func (r realServer) Addr() string { return r.Server.Addr }

// serverBuilder builds the server and returns a cleanup function.
type serverBuilder func() (httpServer, func(), error)

// workerBuilder builds the mail consumer and returns a cleanup function
// that stops it.
type workerBuilder func() (bootstrap.Runner, func(), error)

const shutdownTimeout = 15 * time.Second

func Run(build serverBuilder, sigCh <-chan os.Signal, lg zerolog.Logger) int {
	srv, cleanup, err := build()
	if err != nil {
		lg.Error().Err(err).Msg("bootstrap failed")
		return 1
	}
	defer cleanup()

	errCh := make(chan error, 1)
	go func() {
		lg.Info().Str("addr", srv.Addr()).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case sig := <-sigCh:
		lg.Info().Str("signal", sig.String()).Msg("shutdown signal received")

	case err := <-errCh:
		// exit non-zero so the orchestrator restarts us
		lg.Error().Err(err).Msg("server crashed")
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		lg.Error().Err(err).Msg("graceful shutdown failed")
		_ = srv.Close()
	}

	lg.Info().Msg("shutdown complete")
	return 0
}

// RunWorker starts the mail consumer and blocks until a signal arrives or
// the consumer gives up.
func RunWorker(build workerBuilder, sigCh <-chan os.Signal, lg zerolog.Logger) int {
	w, cleanup, err := build()
	if err != nil {
		lg.Error().Err(err).Msg("bootstrap failed")
		return 1
	}
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := w.Start(ctx); err != nil {
		lg.Error().Err(err).Msg("mail worker start failed")
		return 1
	}
	lg.Info().Msg("mail worker started")

	select {
	case sig := <-sigCh:
		lg.Info().Str("signal", sig.String()).Msg("shutdown signal received")
	case <-w.Done():
		lg.Error().Msg("mail worker stopped unexpectedly")
		return 1
	}

	lg.Info().Msg("shutdown complete")
	return 0
}

func buildFromBootstrap() (httpServer, func(), error) {
	srv, cleanup, err := bootstrap.NewServer()
	if err != nil {
		return nil, nil, err
	}
	return realServer{srv}, cleanup, nil
}

// serveMetrics exposes the worker's counters; the API serves its own.
func serveMetrics(addr string, lg zerolog.Logger) func() {
	if addr == "" {
		return func() {}
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			lg.Error().Err(err).Msg("metrics listener failed")
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

func notifySignals() (<-chan os.Signal, func()) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	return sigCh, func() { signal.Stop(sigCh) }
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "chatdesk",
		Short:         "chatdesk account service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			sigCh, stop := notifySignals()
			defer stop()
			if code := Run(buildFromBootstrap, sigCh, zlog.Logger); code != 0 {
				return errors.New("server exited with an error")
			}
			return nil
		},
	}

	var metricsAddr string
	mailerCmd := &cobra.Command{
		Use:   "mailer",
		Short: "consume queued OTP mail and deliver it",
		RunE: func(cmd *cobra.Command, args []string) error {
			sigCh, stop := notifySignals()
			defer stop()
			defer serveMetrics(metricsAddr, zlog.Logger)()
			if code := RunWorker(bootstrap.NewMailWorker, sigCh, zlog.Logger); code != 0 {
				return errors.New("mail worker exited with an error")
			}
			return nil
		},
	}
	mailerCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve /metrics on this address (disabled when empty)")

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "create tables or indexes for the configured store",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()
			return bootstrap.Migrate(ctx, cfg)
		},
	}

	rootCmd.AddCommand(serveCmd, mailerCmd, migrateCmd)
	return rootCmd
}

func main() {
	logger.Init()

	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		zlog.Error().Err(err).Msg("exit")
		os.Exit(1)
	}
}
