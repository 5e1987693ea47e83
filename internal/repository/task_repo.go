package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/warit/csvmatch/internal/domain"
	"gorm.io/gorm"
)

// TaskRepository handles task persistence. All status mutations go through
// conditional updates keyed on the current status, so concurrent scheduler
// instances racing on the same task never both proceed.
type TaskRepository struct {
	db *gorm.DB
}

// NewTaskRepository creates a new TaskRepository.
// Parameters:
//   - db: GORM database handle used for queries.
// Returns:
//   - *TaskRepository: repository instance bound to db.
func NewTaskRepository(db *gorm.DB) *TaskRepository {
	return &TaskRepository{db: db}
}

// Create inserts a new task record.
func (r *TaskRepository) Create(ctx context.Context, task *domain.Task) error {
	return r.db.WithContext(ctx).Create(task).Error
}

// GetByID retrieves a task by its ID.
// Returns domain.ErrNotFound when no such task exists.
func (r *TaskRepository) GetByID(ctx context.Context, id string) (*domain.Task, error) {
	var task domain.Task
	if err := r.db.WithContext(ctx).First(&task, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &task, nil
}

// ListByOwner retrieves tasks for an owner with pagination, newest first.
func (r *TaskRepository) ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]domain.Task, error) {
	var tasks []domain.Task
	if err := r.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&tasks).Error; err != nil {
		return nil, err
	}
	return tasks, nil
}

// ListQueued retrieves claimable tasks in FIFO order. Tasks flagged for
// cancellation are excluded from eligibility.
func (r *TaskRepository) ListQueued(ctx context.Context, limit int) ([]domain.Task, error) {
	var tasks []domain.Task
	if err := r.db.WithContext(ctx).
		Where("status = ? AND cancel_requested = ?", domain.TaskStatusQueued, false).
		Order("created_at ASC").
		Limit(limit).
		Find(&tasks).Error; err != nil {
		return nil, err
	}
	return tasks, nil
}

// Claim atomically transitions a task from queued to processing, stamping the
// lease timestamp and incrementing the attempt counter. Returns
// domain.ErrAlreadyClaimed when the task was not claimable.
func (r *TaskRepository) Claim(ctx context.Context, id string, now time.Time) error {
	res := r.db.WithContext(ctx).Model(&domain.Task{}).
		Where("id = ? AND status = ?", id, domain.TaskStatusQueued).
		Updates(map[string]interface{}{
			"status":     domain.TaskStatusProcessing,
			"started_at": now,
			"attempts":   gorm.Expr("attempts + 1"),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrAlreadyClaimed
	}
	return nil
}

// MarkCompleted transitions a task from processing to completed with its
// conversion results. Valid only from processing; no-op updates on any other
// status report gorm.ErrRecordNotFound semantics via RowsAffected.
func (r *TaskRepository) MarkCompleted(ctx context.Context, id string, rowCount, malformed int, schema domain.StringArray, resultRef string, now time.Time) error {
	updates := map[string]interface{}{
		"status":         domain.TaskStatusCompleted,
		"row_count":      rowCount,
		"malformed_rows": malformed,
		"column_schema":  schema,
		"result_ref":     resultRef,
		"completed_at":   now,
	}
	// Malformed rows are absorbed, not fatal, but stay visible to operators.
	if malformed > 0 {
		updates["error_detail"] = fmt.Sprintf("%d malformed row(s) padded or truncated during conversion", malformed)
	}
	res := r.db.WithContext(ctx).Model(&domain.Task{}).
		Where("id = ? AND status = ?", id, domain.TaskStatusProcessing).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// MarkFailed transitions a task from processing to failed with a failure
// classification and detail.
func (r *TaskRepository) MarkFailed(ctx context.Context, id string, kind domain.FailureKind, detail string, now time.Time) error {
	res := r.db.WithContext(ctx).Model(&domain.Task{}).
		Where("id = ? AND status = ?", id, domain.TaskStatusProcessing).
		Updates(map[string]interface{}{
			"status":       domain.TaskStatusFailed,
			"error_kind":   kind,
			"error_detail": detail,
			"completed_at": now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Requeue returns a processing task to the queue after a transient failure.
// The attempt counter keeps its incremented value so the cap still applies.
func (r *TaskRepository) Requeue(ctx context.Context, id string, detail string) error {
	res := r.db.WithContext(ctx).Model(&domain.Task{}).
		Where("id = ? AND status = ?", id, domain.TaskStatusProcessing).
		Updates(map[string]interface{}{
			"status":       domain.TaskStatusQueued,
			"started_at":   nil,
			"error_kind":   domain.FailureKindTransient,
			"error_detail": detail,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// RequeueStale resets abandoned processing tasks whose lease is older than
// cutoff and which still have attempts left. Each task is reset at most once
// per threshold crossing because the update clears started_at.
func (r *TaskRepository) RequeueStale(ctx context.Context, cutoff time.Time, maxAttempts int) (int64, error) {
	res := r.db.WithContext(ctx).Model(&domain.Task{}).
		Where("status = ? AND started_at < ? AND attempts < ?",
			domain.TaskStatusProcessing, cutoff, maxAttempts).
		Updates(map[string]interface{}{
			"status":     domain.TaskStatusQueued,
			"started_at": nil,
		})
	return res.RowsAffected, res.Error
}

// FailStale fails abandoned processing tasks that have exhausted their
// attempts.
func (r *TaskRepository) FailStale(ctx context.Context, cutoff time.Time, maxAttempts int, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&domain.Task{}).
		Where("status = ? AND started_at < ? AND attempts >= ?",
			domain.TaskStatusProcessing, cutoff, maxAttempts).
		Updates(map[string]interface{}{
			"status":       domain.TaskStatusFailed,
			"error_kind":   domain.FailureKindStaleLease,
			"error_detail": "processing lease expired after maximum attempts",
			"completed_at": now,
		})
	return res.RowsAffected, res.Error
}

// RequestCancel flags a task for cooperative cancellation. Queued tasks are
// failed immediately; processing tasks abort at the next batch boundary.
func (r *TaskRepository) RequestCancel(ctx context.Context, id string, now time.Time) error {
	// Queued tasks never started, fail them in place.
	res := r.db.WithContext(ctx).Model(&domain.Task{}).
		Where("id = ? AND status = ?", id, domain.TaskStatusQueued).
		Updates(map[string]interface{}{
			"status":           domain.TaskStatusFailed,
			"cancel_requested": true,
			"error_kind":       domain.FailureKindCancelled,
			"error_detail":     "cancelled while queued",
			"completed_at":     now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}

	res = r.db.WithContext(ctx).Model(&domain.Task{}).
		Where("id = ? AND status = ?", id, domain.TaskStatusProcessing).
		Update("cancel_requested", true)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// IsCancelRequested reads the cancellation flag for a task.
func (r *TaskRepository) IsCancelRequested(ctx context.Context, id string) (bool, error) {
	var flag bool
	err := r.db.WithContext(ctx).Model(&domain.Task{}).
		Where("id = ?", id).
		Pluck("cancel_requested", &flag).Error
	if err != nil {
		return false, err
	}
	return flag, nil
}

// CountByStatus counts tasks by status.
func (r *TaskRepository) CountByStatus(ctx context.Context, status domain.TaskStatus) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&domain.Task{}).
		Where("status = ?", status).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
