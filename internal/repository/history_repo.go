package repository

import (
	"context"

	"github.com/warit/csvmatch/internal/domain"
	"gorm.io/gorm"
)

// HistoryRepository handles the append-only search history log.
type HistoryRepository struct {
	db *gorm.DB
}

// NewHistoryRepository creates a new HistoryRepository.
func NewHistoryRepository(db *gorm.DB) *HistoryRepository {
	return &HistoryRepository{db: db}
}

// Create appends a history entry.
func (r *HistoryRepository) Create(ctx context.Context, entry *domain.SearchHistoryEntry) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

// ListByOwner retrieves history entries for an owner, newest first.
func (r *HistoryRepository) ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]domain.SearchHistoryEntry, int64, error) {
	var total int64
	if err := r.db.WithContext(ctx).Model(&domain.SearchHistoryEntry{}).
		Where("owner_id = ?", ownerID).
		Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var entries []domain.SearchHistoryEntry
	if err := r.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("executed_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&entries).Error; err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

// ListByTask retrieves all history entries for a task in execution order.
// Task stats are aggregated from this listing on every read, never cached.
func (r *HistoryRepository) ListByTask(ctx context.Context, taskID string) ([]domain.SearchHistoryEntry, error) {
	var entries []domain.SearchHistoryEntry
	if err := r.db.WithContext(ctx).
		Where("task_id = ?", taskID).
		Order("executed_at ASC").
		Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}
