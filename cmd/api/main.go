package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	httptransport "github.com/routedesk/routing-engine/internal/api/http"
	"github.com/routedesk/routing-engine/internal/api/http/handlers"
	"github.com/routedesk/routing-engine/internal/app"
	"github.com/routedesk/routing-engine/internal/auth"
	"github.com/routedesk/routing-engine/internal/config"
	"github.com/routedesk/routing-engine/internal/observability"
	"github.com/routedesk/routing-engine/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c, err := app.Build(ctx, cfg, logger, app.Options{})
	if err != nil {
		logger.Fatal("failed to assemble engine", zap.Error(err))
	}
	defer c.Close()

	retryDone := worker.StartRetryWorker(ctx, c.Recorder, cfg.Engine.RetryInterval, logger)
	notifyDone := worker.StartNotificationWorker(ctx, c.Notifications)
	sweepDone := make(chan struct{})
	go func() {
		defer close(sweepDone)
		c.Sweeper.Run(ctx)
	}()

	fiberApp := httptransport.NewApp(cfg.App.Name)
	httptransport.RegisterMiddlewares(fiberApp, logger, c.Metrics, cfg.App.RequestTimeout())
	httptransport.RegisterRoutes(fiberApp, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, c.Postgres, c.Redis),
		Tickets:        handlers.NewTicketsHandler(c.Tickets, c.SlaTracker),
		Audit:          handlers.NewAuditHandler(c.Tickets, c.SlaTracker),
		Admin:          handlers.NewAdminHandler(c.ConfigService),
		Agents:         handlers.NewAgentsHandler(c.Tickets),
		AuthMiddleware: auth.NewAuthMiddleware(c.Tokens),
		Metrics:        c.Metrics,
	})

	go func() {
		if err := fiberApp.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	if err := fiberApp.ShutdownWithTimeout(10 * time.Second); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	cancel()
	<-sweepDone
	<-retryDone
	<-notifyDone

	drainCtx, drainCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer drainCancel()
	c.Recorder.Flush(drainCtx)
	c.Notifications.Drain(drainCtx)
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
