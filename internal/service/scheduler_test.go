package service

import (
	"context"
	"testing"
	"time"

	"github.com/warit/csvmatch/internal/domain"
)

// TestSchedulerProcessesQueuedTask runs the full dispatch loop against a real
// queued task and waits for its terminal state.
func TestSchedulerProcessesQueuedTask(t *testing.T) {
	f := newConverterFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	lifecycle := NewTaskLifecycle(f.tasks, &captureNotifier{}, testLogger(), LifecycleConfig{
		MaxAttempts:     3,
		StalenessWindow: time.Minute,
	})

	// Seed a source file, then enqueue a task against it
	seeded := f.seed(t, "name,city\nAlice,Bangkok\nBob,Phuket\n", "", "")
	// seed creates a processing task for converter tests; requeue it
	if err := f.tasks.Requeue(ctx, seeded.ID, ""); err != nil {
		t.Fatalf("requeue: %v", err)
	}

	scheduler := NewScheduler(f.tasks, lifecycle, f.converter, testLogger(), SchedulerConfig{
		PoolSize:     1,
		PollInterval: 20 * time.Millisecond,
	})

	done := make(chan struct{})
	go func() {
		scheduler.Run(ctx)
		close(done)
	}()

	deadline := time.After(5 * time.Second)
	for {
		task, err := f.tasks.GetByID(ctx, seeded.ID)
		if err != nil {
			t.Fatalf("get task: %v", err)
		}
		if task.Terminal() {
			if task.Status != domain.TaskStatusCompleted {
				t.Fatalf("terminal status: got %q (%s), want completed", task.Status, task.ErrorDetail)
			}
			if task.RowCount != 2 {
				t.Errorf("row count: got %d, want 2", task.RowCount)
			}
			if task.ResultRef == "" {
				t.Error("no result reference recorded")
			}
			break
		}
		select {
		case <-deadline:
			t.Fatalf("task never reached a terminal state, stuck at %q", task.Status)
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop after context cancellation")
	}
}

// TestSchedulerFailsParseErrors verifies an unparseable file lands in failed
// with the parse classification.
func TestSchedulerFailsParseErrors(t *testing.T) {
	f := newConverterFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	lifecycle := NewTaskLifecycle(f.tasks, &captureNotifier{}, testLogger(), LifecycleConfig{
		MaxAttempts:     3,
		StalenessWindow: time.Minute,
	})

	seeded := f.seed(t, "   \n\n", "", "")
	if err := f.tasks.Requeue(ctx, seeded.ID, ""); err != nil {
		t.Fatalf("requeue: %v", err)
	}

	scheduler := NewScheduler(f.tasks, lifecycle, f.converter, testLogger(), SchedulerConfig{
		PoolSize:     1,
		PollInterval: 20 * time.Millisecond,
	})

	done := make(chan struct{})
	go func() {
		scheduler.Run(ctx)
		close(done)
	}()

	deadline := time.After(5 * time.Second)
	for {
		task, err := f.tasks.GetByID(ctx, seeded.ID)
		if err != nil {
			t.Fatalf("get task: %v", err)
		}
		if task.Terminal() {
			if task.Status != domain.TaskStatusFailed {
				t.Fatalf("terminal status: got %q, want failed", task.Status)
			}
			if task.ErrorKind != domain.FailureKindParse {
				t.Errorf("error kind: got %q, want parse", task.ErrorKind)
			}
			break
		}
		select {
		case <-deadline:
			t.Fatalf("task never reached a terminal state, stuck at %q", task.Status)
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	<-done
}

// TestShutdownAbortRequeuesInFlightTask verifies the terminal transition after
// a cooperative abort still lands when the worker's context is already
// cancelled: a shutdown abort goes back to the queue, a user-requested cancel
// fails the task.
func TestShutdownAbortRequeuesInFlightTask(t *testing.T) {
	f := newConverterFixture(t)
	lifecycle := NewTaskLifecycle(f.tasks, &captureNotifier{}, testLogger(), LifecycleConfig{
		MaxAttempts:     3,
		StalenessWindow: time.Minute,
	})
	scheduler := NewScheduler(f.tasks, lifecycle, f.converter, testLogger(), SchedulerConfig{
		PoolSize:     1,
		PollInterval: time.Minute,
	})

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	t.Run("shutdown abort", func(t *testing.T) {
		seeded := f.seed(t, "name\nAlice\n", "", "")

		scheduler.handleFailure(cancelled, seeded.ID, domain.ErrCancelled)

		task, err := f.tasks.GetByID(context.Background(), seeded.ID)
		if err != nil {
			t.Fatalf("get task: %v", err)
		}
		if task.Status != domain.TaskStatusQueued {
			t.Fatalf("status: got %q, want queued", task.Status)
		}
		if task.StartedAt != nil {
			t.Error("lease timestamp not cleared on requeue")
		}
	})

	t.Run("requested cancel", func(t *testing.T) {
		seeded := f.seed(t, "name\nAlice\n", "", "")
		if err := f.tasks.RequestCancel(context.Background(), seeded.ID, time.Now().UTC()); err != nil {
			t.Fatalf("request cancel: %v", err)
		}

		scheduler.handleFailure(cancelled, seeded.ID, domain.ErrCancelled)

		task, err := f.tasks.GetByID(context.Background(), seeded.ID)
		if err != nil {
			t.Fatalf("get task: %v", err)
		}
		if task.Status != domain.TaskStatusFailed {
			t.Fatalf("status: got %q, want failed", task.Status)
		}
		if task.ErrorKind != domain.FailureKindCancelled {
			t.Errorf("error kind: got %q, want cancelled", task.ErrorKind)
		}
	})
}
