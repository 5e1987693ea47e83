package repository

import (
	"context"
	"errors"

	"github.com/warit/csvmatch/internal/domain"
	"gorm.io/gorm"
)

// SourceFileRepository handles source file metadata. The records themselves
// are owned by the file-management collaborator; the conversion core only
// reads them.
type SourceFileRepository struct {
	db *gorm.DB
}

// NewSourceFileRepository creates a new SourceFileRepository.
func NewSourceFileRepository(db *gorm.DB) *SourceFileRepository {
	return &SourceFileRepository{db: db}
}

// Create inserts a source file record. Used by the upload collaborator and by
// tests seeding conversion inputs.
func (r *SourceFileRepository) Create(ctx context.Context, file *domain.SourceFile) error {
	return r.db.WithContext(ctx).Create(file).Error
}

// GetByID retrieves a source file by its ID.
// Returns domain.ErrNotFound when no such file exists.
func (r *SourceFileRepository) GetByID(ctx context.Context, id string) (*domain.SourceFile, error) {
	var file domain.SourceFile
	if err := r.db.WithContext(ctx).First(&file, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &file, nil
}
