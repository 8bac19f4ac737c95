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
	"github.com/hugoautomation/gcx-healthcheck-zd/internal/queue"
	"github.com/hugoautomation/gcx-healthcheck-zd/internal/scheduler"
)

const version = "2.1.0"

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
	jobQueue := queue.NewRedisQueue(store.Client)

	sched := scheduler.NewScheduler(repo, resolver, jobQueue, appCache, collector, logger, cfg.Scheduler, version)

	ctx, cancel := context.WithCancel(context.Background())
	go sched.Start(ctx)

	logger.Info("Scheduler started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down scheduler")
	cancel()
}
