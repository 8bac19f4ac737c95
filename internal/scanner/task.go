package scanner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/hugoautomation/gcx-healthcheck-zd/internal/cache"
	"github.com/hugoautomation/gcx-healthcheck-zd/internal/db"
	"github.com/hugoautomation/gcx-healthcheck-zd/internal/queue"
	"github.com/hugoautomation/gcx-healthcheck-zd/internal/report"
)

type TaskState string

const (
	StatePending   TaskState = "pending"
	StateRunning   TaskState = "running"
	StateSucceeded TaskState = "succeeded"
	StateFailed    TaskState = "failed"
)

var (
	ErrTaskNotFound = errors.New("task not found")
	// ErrTooManyScans rejects a trigger when the per-installation limiter
	// is exhausted.
	ErrTooManyScans = errors.New("too many scan requests for this installation")
)

// Task is the pollable handle for an in-flight scan. Terminal state is
// exactly one of: succeeded with a report id, or failed with a classified
// message.
type Task struct {
	ID        string    `json:"id"`
	State     TaskState `json:"state"`
	ReportID  int64     `json:"report_id,omitempty"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (t *Task) Terminal() bool {
	return t.State == StateSucceeded || t.State == StateFailed
}

type Runner interface {
	Run(ctx context.Context, req Request) (*report.Payload, error)
}

type ReportCreator interface {
	Create(ctx context.Context, params report.CreateParams) (*db.Report, error)
}

type Pusher interface {
	Push(ctx context.Context, job *queue.Job) error
}

const taskTTL = time.Hour

// Manager owns scan task lifecycle: Submit stores a pending task and
// queues the job; Execute (run by a worker) drives the scan with bounded
// retries under a wall-clock deadline; Status serves polling.
type Manager struct {
	runner  Runner
	reports ReportCreator
	pusher  Pusher
	store   cache.Store
	logger  *zap.Logger

	maxRetries    uint64
	deadline      time.Duration
	retryInterval time.Duration

	mu       sync.Mutex
	limiters map[int64]*rate.Limiter
}

func NewManager(runner Runner, reports ReportCreator, pusher Pusher, store cache.Store, logger *zap.Logger, maxRetries int, deadline time.Duration) *Manager {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if deadline == 0 {
		deadline = 15 * time.Minute
	}
	return &Manager{
		runner:        runner,
		reports:       reports,
		pusher:        pusher,
		store:         store,
		logger:        logger,
		maxRetries:    uint64(maxRetries),
		deadline:      deadline,
		retryInterval: time.Minute,
		limiters:      make(map[int64]*rate.Limiter),
	}
}

func taskKey(taskID string) string {
	return "healthcheck:scan_task:" + taskID
}

// Submit registers a new scan task and queues the job for a worker. The
// caller polls the returned task id.
func (m *Manager) Submit(ctx context.Context, job *queue.Job) (*Task, error) {
	if !m.limiter(job.InstallationID).Allow() {
		return nil, ErrTooManyScans
	}

	now := time.Now().UTC()
	task := &Task{
		ID:        uuid.New().String(),
		State:     StatePending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	job.TaskID = task.ID
	job.CreatedAt = now

	if err := m.saveTask(ctx, task); err != nil {
		return nil, err
	}
	if err := m.pusher.Push(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to queue scan job: %w", err)
	}

	m.logger.Info("scan task submitted",
		zap.String("task_id", task.ID),
		zap.Int64("installation_id", job.InstallationID),
		zap.String("subdomain", job.Subdomain),
	)
	return task, nil
}

// Status returns the current task record.
func (m *Manager) Status(ctx context.Context, taskID string) (*Task, error) {
	data, err := m.store.Get(ctx, taskKey(taskID))
	if errors.Is(err, cache.ErrMiss) {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, err
	}

	var task Task
	if err := json.Unmarshal(data, &task); err != nil {
		return nil, fmt.Errorf("failed to decode task: %w", err)
	}
	return &task, nil
}

// Execute runs one queued scan job to a terminal state. Transient and
// rate-limit failures retry with exponential backoff up to the attempt
// cap; the deadline bounds the whole attempt ladder.
func (m *Manager) Execute(ctx context.Context, job *queue.Job) *Task {
	task := &Task{ID: job.TaskID, State: StateRunning, CreatedAt: job.CreatedAt}
	m.saveBestEffort(ctx, task)

	ctx, cancel := context.WithTimeout(ctx, m.deadline)
	defer cancel()

	var payload *report.Payload
	operation := func() error {
		p, err := m.runner.Run(ctx, Request{
			Subdomain:  job.Subdomain,
			AdminEmail: job.AdminEmail,
			APIToken:   job.APIToken,
			Version:    job.Version,
		})
		if err != nil {
			var scanErr *ScanError
			if errors.As(err, &scanErr) && scanErr.Retryable() {
				m.logger.Warn("scan attempt failed, will retry",
					zap.String("task_id", task.ID),
					zap.String("subdomain", job.Subdomain),
					zap.Int("status", scanErr.StatusCode),
				)
				return err
			}
			return backoff.Permanent(err)
		}
		payload = p
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = m.retryInterval
	err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(policy, m.maxRetries), ctx))
	if err != nil {
		task.State = StateFailed
		task.Error = failureMessage(err)
		task.UpdatedAt = time.Now().UTC()
		m.saveBestEffort(ctx, task)
		m.logger.Error("scan task failed",
			zap.String("task_id", task.ID),
			zap.String("subdomain", job.Subdomain),
			zap.String("message", task.Error),
		)
		return task
	}

	rep, err := m.reports.Create(ctx, report.CreateParams{
		InstanceGUID:         job.InstanceGUID,
		InstallationID:       job.InstallationID,
		AppGUID:              job.AppGUID,
		Subdomain:            job.Subdomain,
		AdminEmail:           job.AdminEmail,
		APIToken:             job.APIToken,
		Plan:                 job.Plan,
		StripeSubscriptionID: job.SubscriptionID,
		Version:              job.Version,
		Payload:              payload,
	})
	if err != nil {
		task.State = StateFailed
		task.Error = "Health check completed but the report could not be saved."
		task.UpdatedAt = time.Now().UTC()
		m.saveBestEffort(ctx, task)
		m.logger.Error("failed to persist report",
			zap.String("task_id", task.ID), zap.Error(err))
		return task
	}

	task.State = StateSucceeded
	task.ReportID = rep.ID
	task.UpdatedAt = time.Now().UTC()
	m.saveBestEffort(ctx, task)
	return task
}

func failureMessage(err error) string {
	var scanErr *ScanError
	if errors.As(err, &scanErr) {
		switch scanErr.Kind {
		case KindTransient:
			return "Health check failed after multiple retries. The instance might be too large or temporarily unavailable."
		case KindRateLimited:
			return "Rate limit exceeded. Please try again later."
		case KindAuth:
			return "Authentication failed."
		default:
			return scanErr.Message
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "Health check timed out. Please try again later."
	}
	return fmt.Sprintf("Health check failed: %v", err)
}

func (m *Manager) saveTask(ctx context.Context, task *Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return err
	}
	if err := m.store.Set(ctx, taskKey(task.ID), data, taskTTL); err != nil {
		return fmt.Errorf("failed to save task: %w", err)
	}
	return nil
}

func (m *Manager) saveBestEffort(ctx context.Context, task *Task) {
	// Task state must survive even when the scan context is exhausted.
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
	}
	if err := m.saveTask(ctx, task); err != nil {
		m.logger.Warn("failed to record task state",
			zap.String("task_id", task.ID), zap.Error(err))
	}
}

func (m *Manager) limiter(installationID int64) *rate.Limiter {
	m.mu.Lock()
	defer m.mu.Unlock()
	limiter, ok := m.limiters[installationID]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(time.Minute), 2)
		m.limiters[installationID] = limiter
	}
	return limiter
}

// SetRetryInterval overrides the first backoff interval.
func (m *Manager) SetRetryInterval(d time.Duration) {
	m.retryInterval = d
}
