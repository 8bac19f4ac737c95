package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/stripe/stripe-go/v76"
	"go.uber.org/zap"

	"github.com/hugoautomation/gcx-healthcheck-zd/internal/api"
	"github.com/hugoautomation/gcx-healthcheck-zd/internal/api/handlers"
	"github.com/hugoautomation/gcx-healthcheck-zd/internal/billing"
	"github.com/hugoautomation/gcx-healthcheck-zd/internal/cache"
	"github.com/hugoautomation/gcx-healthcheck-zd/internal/config"
	"github.com/hugoautomation/gcx-healthcheck-zd/internal/db"
	"github.com/hugoautomation/gcx-healthcheck-zd/internal/metrics"
	"github.com/hugoautomation/gcx-healthcheck-zd/internal/queue"
	"github.com/hugoautomation/gcx-healthcheck-zd/internal/report"
	"github.com/hugoautomation/gcx-healthcheck-zd/internal/scanner"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	stripe.Key = cfg.Stripe.SecretKey

	if err := db.RunMigrations(cfg.Database.URL, "migrations"); err != nil {
		logger.Fatal("Failed to run migrations", zap.Error(err))
	}

	database, err := db.NewConnection(cfg.Database.URL, cfg.Database.MaxConnections, cfg.Database.MaxIdleConns)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer database.Close()
	repo := db.NewRepository(database)

	store := cache.NewRedisStore(cfg.Redis.URL)
	defer store.Close()

	collector := metrics.NewCollector()
	appCache := cache.New(store, logger, collector)

	resolver := billing.NewResolver(repo, appCache, logger)
	billingSvc := billing.NewService(repo, appCache, logger, collector)
	reportSvc := report.NewService(repo, resolver, appCache, logger)

	jobQueue := queue.NewRedisQueue(store.Client)
	scanClient := scanner.NewClient(cfg.Scan, logger)
	scanManager := scanner.NewManager(scanClient, reportSvc, jobQueue, store, logger, cfg.Scan.MaxRetries, cfg.Scan.TaskDeadline)

	h := handlers.New(reportSvc, scanManager, billingSvc, resolver, repo, appCache, collector, cfg, logger)
	server := api.NewServer(cfg, h, logger)

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: server.Router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	logger.Info("API server started", zap.String("port", cfg.Server.Port))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}
