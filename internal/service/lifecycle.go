package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/warit/csvmatch/internal/domain"
	"github.com/warit/csvmatch/internal/logger"
	"github.com/warit/csvmatch/internal/repository"
)

// LifecycleConfig holds state machine settings.
type LifecycleConfig struct {
	// MaxAttempts caps how many times a task may enter processing before a
	// transient failure or stale lease becomes permanent.
	MaxAttempts int

	// StalenessWindow is the lease age after which a processing task is
	// treated as abandoned.
	StalenessWindow time.Duration
}

// TaskLifecycle owns all task status transitions. Transitions are monotonic:
// queued -> processing -> completed or failed, with bounded re-queues for
// transient failures. No component mutates status fields directly.
type TaskLifecycle struct {
	tasks    *repository.TaskRepository
	notifier Notifier
	logger   *logger.Logger
	cfg      LifecycleConfig
}

// NewTaskLifecycle creates the task state machine.
func NewTaskLifecycle(tasks *repository.TaskRepository, notifier Notifier, log *logger.Logger, cfg LifecycleConfig) *TaskLifecycle {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.StalenessWindow <= 0 {
		cfg.StalenessWindow = 10 * time.Minute
	}
	if notifier == nil {
		notifier = NoopNotifier{}
	}
	return &TaskLifecycle{tasks: tasks, notifier: notifier, logger: log, cfg: cfg}
}

// log returns a logger from context if available, otherwise returns the default logger
func (l *TaskLifecycle) log(ctx context.Context) *logger.Logger {
	if lg := logger.FromContext(ctx); lg != nil {
		return lg
	}
	return l.logger
}

// CreateTask enqueues a new conversion task against a source file. Retrying a
// terminal task means creating a new attempt record through this method,
// never mutating the old one.
func (l *TaskLifecycle) CreateTask(ctx context.Context, ownerID, sourceFileID string) (*domain.Task, error) {
	task := &domain.Task{
		ID:           uuid.New().String(),
		OwnerID:      ownerID,
		SourceFileID: sourceFileID,
		Status:       domain.TaskStatusQueued,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
	if err := l.tasks.Create(ctx, task); err != nil {
		return nil, err
	}
	l.notifier.TaskEvent(ctx, task, EventTaskQueued)
	return task, nil
}

// Claim grants an exclusive processing lease on a queued task. Exactly one of
// any number of concurrent callers succeeds; the rest get
// domain.ErrAlreadyClaimed.
func (l *TaskLifecycle) Claim(ctx context.Context, taskID string) (*domain.Task, error) {
	if err := l.tasks.Claim(ctx, taskID, time.Now()); err != nil {
		return nil, err
	}
	task, err := l.tasks.GetByID(ctx, taskID)
	if err != nil {
		return nil, err
	}
	l.notifier.TaskEvent(ctx, task, EventTaskProcessing)
	return task, nil
}

// MarkCompleted finishes a processing task with its conversion results.
func (l *TaskLifecycle) MarkCompleted(ctx context.Context, taskID string, rowCount, malformed int, schema domain.StringArray, resultRef string) error {
	if err := l.tasks.MarkCompleted(ctx, taskID, rowCount, malformed, schema, resultRef, time.Now()); err != nil {
		return err
	}
	task, err := l.tasks.GetByID(ctx, taskID)
	if err != nil {
		return err
	}
	l.log(ctx).WithFields(logger.Fields{
		logger.FieldTaskID: taskID,
		"rows":             rowCount,
		"malformed":        malformed,
	}).Info("Task completed")
	l.notifier.TaskEvent(ctx, task, EventTaskCompleted)
	return nil
}

// MarkFailed records a permanent failure: parse errors and cancellations are
// terminal, and transient failures land here only once attempts are
// exhausted.
func (l *TaskLifecycle) MarkFailed(ctx context.Context, taskID string, kind domain.FailureKind, detail string) error {
	if err := l.tasks.MarkFailed(ctx, taskID, kind, detail, time.Now()); err != nil {
		return err
	}
	task, err := l.tasks.GetByID(ctx, taskID)
	if err != nil {
		return err
	}
	l.log(ctx).WithFields(logger.Fields{
		logger.FieldTaskID: taskID,
		"kind":             string(kind),
	}).Warnf("Task failed: %s", detail)
	l.notifier.TaskEvent(ctx, task, EventTaskFailed)
	return nil
}

// FailTransient classifies a source-availability failure. The task re-enters
// the queue while attempts remain; otherwise it fails permanently.
func (l *TaskLifecycle) FailTransient(ctx context.Context, taskID, detail string) error {
	task, err := l.tasks.GetByID(ctx, taskID)
	if err != nil {
		return err
	}
	if task.Attempts < l.cfg.MaxAttempts {
		if err := l.tasks.Requeue(ctx, taskID, detail); err != nil {
			return err
		}
		l.log(ctx).WithFields(logger.Fields{
			logger.FieldTaskID: taskID,
			"attempts":         task.Attempts,
		}).Warnf("Transient failure, task re-queued: %s", detail)
		task.Status = domain.TaskStatusQueued
		l.notifier.TaskEvent(ctx, task, EventTaskRequeued)
		return nil
	}
	return l.MarkFailed(ctx, taskID, domain.FailureKindTransient, detail)
}

// RequestCancel marks a task for cancellation. Queued tasks fail immediately;
// processing tasks abort cooperatively at the next row batch.
func (l *TaskLifecycle) RequestCancel(ctx context.Context, taskID string) error {
	return l.tasks.RequestCancel(ctx, taskID, time.Now())
}

// RecoverStale resets abandoned processing tasks. Each stale lease is
// requeued exactly once per threshold crossing; tasks at the attempt cap are
// failed instead.
func (l *TaskLifecycle) RecoverStale(ctx context.Context) error {
	cutoff := time.Now().Add(-l.cfg.StalenessWindow)

	requeued, err := l.tasks.RequeueStale(ctx, cutoff, l.cfg.MaxAttempts)
	if err != nil {
		return err
	}
	failed, err := l.tasks.FailStale(ctx, cutoff, l.cfg.MaxAttempts, time.Now())
	if err != nil {
		return err
	}
	if requeued > 0 || failed > 0 {
		l.log(ctx).WithFields(logger.Fields{
			"requeued": requeued,
			"failed":   failed,
		}).Warn("Recovered stale processing leases")
	}
	return nil
}
