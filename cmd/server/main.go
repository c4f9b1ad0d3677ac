package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/stridecast/server/pkg/api"
	"github.com/stridecast/server/pkg/bootstrap"
	"github.com/stridecast/server/pkg/infrastructure/oauth"
	"github.com/stridecast/server/pkg/infrastructure/sentry"
	"github.com/stridecast/server/pkg/strava"
	syncpkg "github.com/stridecast/server/pkg/sync"
	"github.com/stridecast/server/pkg/video"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := bootstrap.NewService(ctx)
	if err != nil {
		slog.Error("Service init failed", "error", err)
		os.Exit(1)
	}
	logger := bootstrap.NewLogger("server")

	if err := sentry.Init(sentry.Config{
		DSN:         svc.Config.SentryDSN,
		ServerName:  "server",
		Environment: os.Getenv("ENVIRONMENT"),
	}, logger); err != nil {
		logger.Warn("Sentry init failed, continuing without it", "error", err)
	}
	defer sentry.Flush(2 * time.Second)

	if err := svc.Config.Validate(); err != nil {
		logger.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	sources := oauth.NewRegistry(svc.DB, svc.Config.Strava)
	orch := syncpkg.NewOrchestrator(svc.DB, sources, func(source oauth.TokenSource) syncpkg.Fetcher {
		return strava.NewClient(oauth.NewHTTPClient(source), logger)
	}, logger)

	videos := video.NewService(svc.DB, video.DefaultQueueSize, logger)
	worker := video.NewWorker(svc, video.NewSVGRenderer(), videos.Jobs(), logger)
	worker.Start()

	handler := api.NewHandler(svc.DB, orch, videos, api.OAuthConfig(svc.Config.Strava), []byte(svc.Config.SessionSecret), logger)
	server := &http.Server{
		Addr:              svc.Config.ListenAddr,
		Handler:           api.NewRouter(handler, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown failed", "error", err)
	}

	// Let in-flight renders finish before the process exits.
	videos.Close()
	if err := worker.Wait(shutdownCtx); err != nil {
		logger.Warn("Render worker did not drain in time", "error", err)
	}
}
