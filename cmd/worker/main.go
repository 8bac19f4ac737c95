package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/hugoautomation/gcx-healthcheck-zd/internal/billing"
	"github.com/hugoautomation/gcx-healthcheck-zd/internal/cache"
	"github.com/hugoautomation/gcx-healthcheck-zd/internal/config"
	"github.com/hugoautomation/gcx-healthcheck-zd/internal/db"
	"github.com/hugoautomation/gcx-healthcheck-zd/internal/metrics"
	"github.com/hugoautomation/gcx-healthcheck-zd/internal/notify"
	"github.com/hugoautomation/gcx-healthcheck-zd/internal/queue"
	"github.com/hugoautomation/gcx-healthcheck-zd/internal/report"
	"github.com/hugoautomation/gcx-healthcheck-zd/internal/scanner"
	"github.com/hugoautomation/gcx-healthcheck-zd/internal/scheduler"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, _ := zap.NewProduction()
	defer logger.Sync()

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
	reportSvc := report.NewService(repo, resolver, appCache, logger)

	jobQueue := queue.NewRedisQueue(store.Client)
	scanClient := scanner.NewClient(cfg.Scan, logger)
	scanManager := scanner.NewManager(scanClient, reportSvc, jobQueue, store, logger, cfg.Scan.MaxRetries, cfg.Scan.TaskDeadline)

	mailer := notify.NewMailer(cfg.SMTP, logger)
	pool := scheduler.NewPool(cfg.Scheduler.WorkerCount, jobQueue, scanManager, repo, appCache, mailer, collector, logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		pool.Start(ctx)
		close(done)
	}()

	logger.Info("Worker pool started", zap.Int("workers", cfg.Scheduler.WorkerCount))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down workers")
	cancel()
	<-done
	logger.Info("Workers exited")
}
