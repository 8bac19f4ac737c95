package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hugoautomation/gcx-healthcheck-zd/internal/cache"
	"github.com/hugoautomation/gcx-healthcheck-zd/internal/db"
	"github.com/hugoautomation/gcx-healthcheck-zd/internal/metrics"
	"github.com/hugoautomation/gcx-healthcheck-zd/internal/notify"
	"github.com/hugoautomation/gcx-healthcheck-zd/internal/queue"
	"github.com/hugoautomation/gcx-healthcheck-zd/internal/report"
	"github.com/hugoautomation/gcx-healthcheck-zd/internal/scanner"
)

// Worker drains the scan queue and runs each job to a terminal state.
// Scheduled jobs additionally notify the installation's recipients.
type Worker struct {
	id      int
	queue   *queue.RedisQueue
	manager *scanner.Manager
	repo    *db.Repository
	cache   *cache.Cache
	mailer  notify.Sender
	metrics *metrics.Collector
	logger  *zap.Logger
}

func NewWorker(id int, q *queue.RedisQueue, manager *scanner.Manager, repo *db.Repository, c *cache.Cache, mailer notify.Sender, collector *metrics.Collector, logger *zap.Logger) *Worker {
	return &Worker{
		id:      id,
		queue:   q,
		manager: manager,
		repo:    repo,
		cache:   c,
		mailer:  mailer,
		metrics: collector,
		logger:  logger.With(zap.Int("worker_id", id)),
	}
}

func (w *Worker) Start(ctx context.Context) {
	w.logger.Info("Worker started")

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Worker stopped")
			return
		default:
		}

		job, err := w.queue.Pop(ctx, 5*time.Second)
		if errors.Is(err, queue.ErrTimeout) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				w.logger.Info("Worker stopped")
				return
			}
			w.logger.Error("Failed to pop scan job", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}

		w.processJob(ctx, job)
	}
}

func (w *Worker) processJob(ctx context.Context, job *queue.Job) {
	start := time.Now()

	w.logger.Info("Processing scan job",
		zap.String("task_id", job.TaskID),
		zap.String("subdomain", job.Subdomain),
		zap.Bool("scheduled", job.Scheduled),
	)

	task := w.manager.Execute(ctx, job)
	outcome := string(task.State)
	w.metrics.RecordScan(outcome, time.Since(start).Seconds())

	if task.State == scanner.StateSucceeded {
		w.metrics.ReportCreated()
		if job.Scheduled {
			w.notifyRecipients(ctx, job, task)
			w.advanceSchedule(ctx, job)
		}
	}

	w.logger.Info("Scan job finished",
		zap.String("task_id", job.TaskID),
		zap.String("subdomain", job.Subdomain),
		zap.String("state", outcome),
		zap.Duration("took", time.Since(start)),
	)
}

// advanceSchedule stamps the successful check and pushes next_check out
// by the configured frequency. A failed check skips this on purpose so
// the scheduler retries it on the next tick.
func (w *Worker) advanceSchedule(ctx context.Context, job *queue.Job) {
	setting, err := w.repo.GetMonitoringSetting(ctx, job.InstallationID)
	if errors.Is(err, db.ErrNotFound) {
		return
	}
	if err != nil {
		w.logger.Error("Failed to load monitoring setting",
			zap.Int64("installation_id", job.InstallationID), zap.Error(err))
		return
	}

	now := time.Now().UTC()
	setting.LastCheck = &now
	setting.ScheduleNextCheck(now)
	if err := w.repo.SaveMonitoringSetting(ctx, setting); err != nil {
		w.logger.Error("Failed to advance monitoring schedule",
			zap.Int64("installation_id", job.InstallationID), zap.Error(err))
		return
	}
	w.cache.InvalidateMonitoring(ctx, setting.InstallationID)
}

func (w *Worker) notifyRecipients(ctx context.Context, job *queue.Job, task *scanner.Task) {
	setting, err := w.repo.GetMonitoringSetting(ctx, job.InstallationID)
	if errors.Is(err, db.ErrNotFound) {
		return
	}
	if err != nil {
		w.logger.Error("Failed to load monitoring setting for notification",
			zap.Int64("installation_id", job.InstallationID), zap.Error(err))
		return
	}
	if !setting.IsActive || len(setting.NotificationEmails) == 0 {
		return
	}

	rep, err := w.repo.GetReport(ctx, task.ReportID)
	if err != nil {
		w.logger.Error("Failed to load report for notification",
			zap.Int64("report_id", task.ReportID), zap.Error(err))
		return
	}
	payload, err := report.ParsePayload(rep.RawResponse)
	if err != nil {
		w.logger.Error("Failed to parse report payload for notification",
			zap.Int64("report_id", task.ReportID), zap.Error(err))
		return
	}

	summary := notify.ReportSummary{
		Subdomain:   job.Subdomain,
		ReportID:    task.ReportID,
		TotalIssues: len(payload.Issues),
		CheckedAt:   time.Now().UTC(),
	}
	for _, issue := range payload.Issues {
		if issue.Type == "error" {
			summary.CriticalIssues++
		} else {
			summary.WarningIssues++
		}
	}

	if err := w.mailer.SendReportSummary(setting.NotificationEmails, summary); err != nil {
		w.logger.Error("Failed to send report notification",
			zap.String("subdomain", job.Subdomain), zap.Error(err))
		w.metrics.RecordScheduledCheck("notify_error")
		return
	}
	w.metrics.RecordScheduledCheck("notified")
}

// Pool runs a fixed set of workers until the context is cancelled.
type Pool struct {
	workers []*Worker
	wg      sync.WaitGroup
}

func NewPool(count int, q *queue.RedisQueue, manager *scanner.Manager, repo *db.Repository, c *cache.Cache, mailer notify.Sender, collector *metrics.Collector, logger *zap.Logger) *Pool {
	if count <= 0 {
		count = 4
	}
	p := &Pool{}
	for i := 0; i < count; i++ {
		p.workers = append(p.workers, NewWorker(i, q, manager, repo, c, mailer, collector, logger))
	}
	return p
}

func (p *Pool) Start(ctx context.Context) {
	for _, w := range p.workers {
		p.wg.Add(1)
		go func(w *Worker) {
			defer p.wg.Done()
			w.Start(ctx)
		}(w)
	}
	p.wg.Wait()
}
