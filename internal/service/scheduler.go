package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/warit/csvmatch/internal/domain"
	"github.com/warit/csvmatch/internal/logger"
	"github.com/warit/csvmatch/internal/repository"
)

// SchedulerConfig holds dispatch loop settings.
type SchedulerConfig struct {
	PoolSize     int
	PollInterval time.Duration
}

// Scheduler is the bounded-concurrency dispatch loop: a fixed pool of workers
// polls for queued tasks in FIFO order, claims them through the state machine
// and runs the conversion pipeline. Losing a claim race is not an error; the
// loop simply moves to the next candidate.
type Scheduler struct {
	tasks     *repository.TaskRepository
	lifecycle *TaskLifecycle
	converter *Converter
	logger    *logger.Logger
	cfg       SchedulerConfig
}

// NewScheduler creates a new Scheduler.
func NewScheduler(
	tasks *repository.TaskRepository,
	lifecycle *TaskLifecycle,
	converter *Converter,
	log *logger.Logger,
	cfg SchedulerConfig,
) *Scheduler {
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 4
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	return &Scheduler{
		tasks:     tasks,
		lifecycle: lifecycle,
		converter: converter,
		logger:    log,
		cfg:       cfg,
	}
}

// Run polls for work until the context is cancelled. In-flight conversions
// finish (or abort cooperatively) before Run returns.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.WithFields(logger.Fields{
		"pool_size":     s.cfg.PoolSize,
		"poll_interval": s.cfg.PollInterval.String(),
	}).Info("Scheduler started")

	// Abandoned leases from a previous run are recovered before any new work
	// is dispatched.
	if err := s.lifecycle.RecoverStale(ctx); err != nil {
		s.logger.WithError(err).Error("Failed to recover stale tasks at startup")
	}

	taskChan := make(chan domain.Task, s.cfg.PoolSize*2)

	var wg sync.WaitGroup
	for i := 0; i < s.cfg.PoolSize; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID, taskChan)
		}(i)
	}

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			close(taskChan)
			wg.Wait()
			s.logger.Info("Scheduler stopped")
			return
		case <-ticker.C:
			s.tick(ctx, taskChan)
		}
	}
}

// tick recovers stale leases and feeds claimable tasks to the worker pool.
// Absence of work is not an error.
func (s *Scheduler) tick(ctx context.Context, taskChan chan<- domain.Task) {
	if err := s.lifecycle.RecoverStale(ctx); err != nil {
		s.logger.WithError(err).Error("Failed to recover stale tasks")
	}

	queued, err := s.tasks.ListQueued(ctx, s.cfg.PoolSize*2)
	if err != nil {
		s.logger.WithError(err).Error("Failed to list queued tasks")
		return
	}

	for _, task := range queued {
		select {
		case taskChan <- task:
		case <-ctx.Done():
			return
		default:
			// Pool is saturated; the task stays queued for the next tick.
			return
		}
	}
}

// worker claims and fully processes one task at a time. A single task's rows
// are never split across workers.
func (s *Scheduler) worker(ctx context.Context, workerID int, taskChan <-chan domain.Task) {
	for task := range taskChan {
		s.runTask(ctx, workerID, task.ID)
	}
}

// runTask drives one task through claim, conversion and its terminal
// transition, classifying failures per the error taxonomy.
func (s *Scheduler) runTask(ctx context.Context, workerID int, taskID string) {
	ctx = logger.WithFields(ctx, logger.Fields{
		logger.FieldTaskID: taskID,
		logger.FieldWorker: workerID,
	})

	claimed, err := s.lifecycle.Claim(ctx, taskID)
	if err != nil {
		if errors.Is(err, domain.ErrAlreadyClaimed) {
			// Another worker or instance won the race
			logger.CtxDebug(ctx, "Claim lost, skipping task")
			return
		}
		logger.CtxError(ctx, "Failed to claim task: %v", err)
		return
	}

	start := time.Now()
	out, err := s.converter.Convert(ctx, claimed)
	if err != nil {
		s.handleFailure(ctx, taskID, err)
		return
	}

	wctx, cancel := terminalCtx(ctx)
	defer cancel()
	if err := s.lifecycle.MarkCompleted(wctx, taskID, out.RowCount, out.MalformedRows, out.Schema, out.ResultRef); err != nil {
		logger.CtxError(ctx, "Failed to mark task completed: %v", err)
		return
	}

	logger.With(logger.Fields{
		logger.FieldDurationMs: time.Since(start).Milliseconds(),
		logger.FieldCount:      out.RowCount,
	}).Info(ctx, "Task processed")
}

// handleFailure maps a conversion error to the matching terminal (or
// re-queue) transition.
func (s *Scheduler) handleFailure(ctx context.Context, taskID string, convErr error) {
	wctx, cancel := terminalCtx(ctx)
	defer cancel()

	var markErr error
	switch {
	case errors.Is(convErr, domain.ErrCancelled):
		// Shutdown aborts and user cancellations both surface as
		// ErrCancelled; only a requested cancel is terminal. A shutdown
		// abort goes back to the queue for the next run.
		requested, err := s.tasks.IsCancelRequested(wctx, taskID)
		if err != nil {
			logger.CtxError(ctx, "Failed to check cancellation flag: %v", err)
			return
		}
		if requested {
			markErr = s.lifecycle.MarkFailed(wctx, taskID, domain.FailureKindCancelled, "cancelled during conversion")
		} else {
			markErr = s.tasks.Requeue(wctx, taskID, "")
		}
	case domain.IsParseError(convErr):
		markErr = s.lifecycle.MarkFailed(wctx, taskID, domain.FailureKindParse, convErr.Error())
	case domain.IsTransient(convErr):
		markErr = s.lifecycle.FailTransient(wctx, taskID, convErr.Error())
	default:
		markErr = s.lifecycle.MarkFailed(wctx, taskID, domain.FailureKindParse, convErr.Error())
	}
	if markErr != nil {
		logger.CtxError(ctx, "Failed to record task failure: %v (conversion error: %v)", markErr, convErr)
	}
}

// terminalCtx returns the context to use for a task's terminal status write.
// During shutdown the worker's context is already cancelled, but the write
// still has to land, so it runs on a short detached context.
func terminalCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx.Err() == nil {
		return ctx, func() {}
	}
	return context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
}
