package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hugoautomation/gcx-healthcheck-zd/internal/billing"
	"github.com/hugoautomation/gcx-healthcheck-zd/internal/cache"
	"github.com/hugoautomation/gcx-healthcheck-zd/internal/config"
	"github.com/hugoautomation/gcx-healthcheck-zd/internal/db"
	"github.com/hugoautomation/gcx-healthcheck-zd/internal/metrics"
	"github.com/hugoautomation/gcx-healthcheck-zd/internal/queue"
)

// Scheduler polls for due monitoring settings and enqueues scan jobs.
// Workers advance the schedule once a check succeeds; a failed check
// keeps next_check in the past so the next tick retries it.
type Scheduler struct {
	repo     *db.Repository
	resolver *billing.Resolver
	queue    *queue.RedisQueue
	cache    *cache.Cache
	metrics  *metrics.Collector
	logger   *zap.Logger
	interval time.Duration
	version  string
}

func NewScheduler(repo *db.Repository, resolver *billing.Resolver, q *queue.RedisQueue, c *cache.Cache, collector *metrics.Collector, logger *zap.Logger, cfg config.SchedulerConfig, version string) *Scheduler {
	interval := cfg.Interval
	if interval == 0 {
		interval = time.Minute
	}
	return &Scheduler{
		repo:     repo,
		resolver: resolver,
		queue:    q,
		cache:    c,
		metrics:  collector,
		logger:   logger,
		interval: interval,
		version:  version,
	}
}

func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info("Starting scheduler", zap.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Stopping scheduler")
			return
		case <-ticker.C:
			s.dispatchDueChecks(ctx)
			s.recordQueueSize(ctx)
		}
	}
}

func (s *Scheduler) dispatchDueChecks(ctx context.Context) {
	now := time.Now().UTC()
	settings, err := s.repo.GetDueMonitoringSettings(ctx, now)
	if err != nil {
		s.logger.Error("Failed to get due monitoring settings", zap.Error(err))
		return
	}

	for _, setting := range settings {
		if err := s.dispatch(ctx, setting, now); err != nil {
			s.logger.Error("Failed to dispatch scheduled check",
				zap.Int64("installation_id", setting.InstallationID),
				zap.String("subdomain", setting.Subdomain),
				zap.Error(err),
			)
			s.metrics.RecordScheduledCheck("dispatch_error")
		}
	}
}

func (s *Scheduler) dispatch(ctx context.Context, setting *db.MonitoringSetting, now time.Time) error {
	// Monitoring is subscription-gated. A lapsed subscription turns the
	// setting off instead of running the check.
	status := s.resolver.Resolve(ctx, setting.Subdomain)
	if !status.Active {
		s.logger.Info("Subscription inactive, deactivating monitoring",
			zap.Int64("installation_id", setting.InstallationID),
			zap.String("subdomain", setting.Subdomain),
		)
		if err := s.repo.DeactivateMonitoring(ctx, setting.InstallationID); err != nil {
			return err
		}
		s.cache.InvalidateMonitoring(ctx, setting.InstallationID)
		s.metrics.RecordScheduledCheck("deactivated")
		return nil
	}

	latest, err := s.repo.GetLatestReport(ctx, setting.InstallationID)
	if errors.Is(err, db.ErrNotFound) {
		// Nothing to re-check yet. Push the schedule forward so the
		// installation does not come back every tick.
		s.logger.Warn("No prior report for scheduled check, skipping",
			zap.Int64("installation_id", setting.InstallationID),
		)
		return s.skipUntilNext(ctx, setting, now)
	}
	if err != nil {
		return err
	}

	var subscriptionID string
	if status.SubscriptionID != nil {
		subscriptionID = *status.SubscriptionID
	}

	job := &queue.Job{
		TaskID:         uuid.New().String(),
		InstallationID: setting.InstallationID,
		InstanceGUID:   setting.InstanceGUID,
		AppGUID:        latest.AppGUID,
		Subdomain:      setting.Subdomain,
		AdminEmail:     latest.AdminEmail,
		APIToken:       latest.APIToken,
		Plan:           status.Plan,
		SubscriptionID: subscriptionID,
		Version:        s.version,
		Scheduled:      true,
		CreatedAt:      now,
	}
	if err := s.queue.Push(ctx, job); err != nil {
		return err
	}

	s.logger.Info("Scheduled check dispatched",
		zap.Int64("installation_id", setting.InstallationID),
		zap.String("subdomain", setting.Subdomain),
		zap.String("frequency", string(setting.Frequency)),
	)
	s.metrics.RecordScheduledCheck("dispatched")
	return nil
}

func (s *Scheduler) skipUntilNext(ctx context.Context, setting *db.MonitoringSetting, now time.Time) error {
	last := now
	setting.LastCheck = &last
	setting.ScheduleNextCheck(now)
	if err := s.repo.SaveMonitoringSetting(ctx, setting); err != nil {
		return err
	}
	s.cache.InvalidateMonitoring(ctx, setting.InstallationID)
	return nil
}

func (s *Scheduler) recordQueueSize(ctx context.Context) {
	size, err := s.queue.Length(ctx)
	if err != nil {
		s.logger.Warn("Failed to read queue length", zap.Error(err))
		return
	}
	s.metrics.SetQueueSize(size)
}
