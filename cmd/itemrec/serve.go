package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kailas-cloud/itemrec/internal/metrics"
	chiTransport "github.com/kailas-cloud/itemrec/internal/transport/chi"
	"github.com/kailas-cloud/itemrec/internal/version"
)

func newServeCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Start the HTTP API for every configured deployment.

Each deployment ingests its corpus and restores the persisted snapshot, or
rebuilds it when no artifact exists. A corrupt or mismatched artifact stops
startup. Datasets that cannot be built are still served from published lists.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), *opts)
		},
	}
}

func runServe(ctx context.Context, opts options) error {
	a, err := newApp(ctx, opts)
	if err != nil {
		return err
	}
	defer a.Close()
	logger := a.logger

	logger.Info("Starting itemrec API server",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", a.env),
		zap.Int("http_port", a.cfg.HTTP.Port),
		zap.Strings("deployments", a.names),
	)

	for _, name := range a.names {
		if err := a.warm(ctx, a.deployments[name]); err != nil {
			if fatalWarmup(err) {
				return fmt.Errorf("deployment %s: %w", name, err)
			}
			logger.Error("Deployment not ready", zap.String("deployment", name), zap.Error(err))
		}
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", a.cfg.HTTP.Port),
		Handler:      newRouter(a),
		ReadTimeout:  time.Duration(a.cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(a.cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(quit)

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-quit:
		logger.Info("Received shutdown signal")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(a.cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}

	logger.Info("Server stopped gracefully")
	return nil
}

// newRouter wires the API with the middleware stack.
func newRouter(a *app) http.Handler {
	deployments := make(map[string]chiTransport.Deployment, len(a.deployments))
	for name, dep := range a.deployments {
		deployments[name] = chiTransport.Deployment{
			Pipeline:   dep.pipeline,
			Indexer:    dep.indexer,
			PoolSize:   dep.cfg.PoolSize,
			Results:    dep.cfg.Results,
			MaxResults: dep.cfg.MaxResults,
		}
	}

	// Pass nil interface (not typed nil pointer!) if lists are not configured.
	var lists chiTransport.Precomputed
	if a.lists != nil {
		lists = a.lists
	}

	server := chiTransport.NewServer(deployments, lists, a.healthService(), a.logger)

	r := chi.NewRouter()
	r.Use(jsonRecoverer(a.logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(wideEventMiddleware(a.logger))
	r.Use(chiTransport.BearerAuthMiddleware(a.cfg.Auth.APIKeys, a.cfg.Auth.AdminKeys))
	r.Use(metrics.Middleware(a.names...))
	server.Routes(r)
	return r
}
