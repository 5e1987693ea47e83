package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/warit/csvmatch/internal/domain"
	"github.com/warit/csvmatch/internal/storage"
)

// RecordSetStore persists converted record sets as JSON documents in object
// storage. A record set is written exactly once, when its task completes, and
// is immutable afterwards.
type RecordSetStore struct {
	storage storage.ObjectStorage
}

// NewRecordSetStore creates a new RecordSetStore.
func NewRecordSetStore(objectStorage storage.ObjectStorage) *RecordSetStore {
	return &RecordSetStore{storage: objectStorage}
}

// Key returns the storage key for a task's record set.
func (s *RecordSetStore) Key(taskID string) string {
	return fmt.Sprintf("recordsets/%s.json", taskID)
}

// Save uploads the record set and returns its storage key.
func (s *RecordSetStore) Save(ctx context.Context, rs *domain.RecordSet) (string, error) {
	data, err := json.Marshal(rs)
	if err != nil {
		return "", fmt.Errorf("failed to encode record set: %w", err)
	}

	key := s.Key(rs.TaskID)
	if err := s.storage.Upload(ctx, key, bytes.NewReader(data), int64(len(data)), "application/json"); err != nil {
		return "", fmt.Errorf("failed to upload record set: %w", err)
	}
	return key, nil
}

// Load downloads and decodes a record set by storage key.
// Returns domain.ErrNotFound when the document does not exist.
func (s *RecordSetStore) Load(ctx context.Context, key string) (*domain.RecordSet, error) {
	reader, err := s.storage.Download(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to download record set: %w", err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read record set: %w", err)
	}

	var rs domain.RecordSet
	if err := json.Unmarshal(data, &rs); err != nil {
		return nil, fmt.Errorf("failed to decode record set: %w", err)
	}
	return &rs, nil
}

// Delete removes a record set document. Called when the owning task or its
// source file is deleted.
func (s *RecordSetStore) Delete(ctx context.Context, key string) error {
	return s.storage.Delete(ctx, key)
}
