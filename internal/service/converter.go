package service

import (
	"context"
	"io"
	"unicode/utf8"

	"github.com/warit/csvmatch/internal/domain"
	"github.com/warit/csvmatch/internal/logger"
	"github.com/warit/csvmatch/internal/repository"
	"github.com/warit/csvmatch/internal/storage"
)

// Converter turns a claimed task's source file into a persisted record set.
// It performs no status transitions itself; the scheduler owns those.
type Converter struct {
	files     *repository.SourceFileRepository
	tasks     *repository.TaskRepository
	records   *repository.RecordSetStore
	storage   storage.ObjectStorage
	logger    *logger.Logger
	batchSize int
}

// NewConverter creates a new Converter.
// Parameters:
//   - files: source file metadata repository.
//   - tasks: task repository, used to poll the cancellation flag.
//   - records: record set store for the conversion output.
//   - objectStorage: storage holding the raw uploaded files.
//   - log: logger instance.
//   - batchSize: rows between cancellation checks.
// Returns:
//   - *Converter: initialized converter.
func NewConverter(
	files *repository.SourceFileRepository,
	tasks *repository.TaskRepository,
	records *repository.RecordSetStore,
	objectStorage storage.ObjectStorage,
	log *logger.Logger,
	batchSize int,
) *Converter {
	if batchSize <= 0 {
		batchSize = 500
	}
	return &Converter{
		files:     files,
		tasks:     tasks,
		records:   records,
		storage:   objectStorage,
		logger:    log,
		batchSize: batchSize,
	}
}

// log returns a logger from context if available, otherwise returns the default logger
func (c *Converter) log(ctx context.Context) *logger.Logger {
	if l := logger.FromContext(ctx); l != nil {
		return l
	}
	return c.logger
}

// ConvertOutput summarizes a successful conversion.
type ConvertOutput struct {
	RowCount      int
	MalformedRows int
	Schema        domain.StringArray
	ResultRef     string
}

// Convert reads the task's source file, normalizes it and persists the
// resulting record set. Failure classification is carried by the error type:
// *domain.ParseError is permanent, *domain.TransientIOError is retryable, and
// domain.ErrCancelled reports a cooperative abort.
func (c *Converter) Convert(ctx context.Context, task *domain.Task) (*ConvertOutput, error) {
	file, err := c.files.GetByID(ctx, task.SourceFileID)
	if err != nil {
		return nil, &domain.TransientIOError{Op: "lookup source file", Err: err}
	}

	reader, err := c.storage.Download(ctx, file.StorageKey)
	if err != nil {
		return nil, &domain.TransientIOError{Op: "open source file", Err: err}
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, &domain.TransientIOError{Op: "read source file", Err: err}
	}

	var delim rune
	if file.Delimiter != "" {
		delim, _ = utf8.DecodeRuneInString(file.Delimiter)
	}

	result, err := Normalize(data, NormalizeOptions{
		Delimiter: delim,
		Encoding:  file.Encoding,
		BatchSize: c.batchSize,
		Cancelled: func() bool {
			if ctx.Err() != nil {
				return true
			}
			cancelled, err := c.tasks.IsCancelRequested(ctx, task.ID)
			if err != nil {
				// Lookup failure must not kill the conversion
				return false
			}
			return cancelled
		},
	})
	if err != nil {
		return nil, err
	}

	if result.MalformedRows > 0 {
		c.log(ctx).WithFields(logger.Fields{
			logger.FieldTaskID: task.ID,
			"malformed":        result.MalformedRows,
		}).Warn("Conversion absorbed malformed rows")
	}

	rs := &domain.RecordSet{
		TaskID:  task.ID,
		Schema:  result.Schema,
		Records: result.Records,
	}
	key, err := c.records.Save(ctx, rs)
	if err != nil {
		return nil, &domain.TransientIOError{Op: "persist record set", Err: err}
	}

	c.log(ctx).WithFields(logger.Fields{
		logger.FieldTaskID: task.ID,
		logger.FieldCount:  len(result.Records),
	}).Info("Converted source file to record set")

	return &ConvertOutput{
		RowCount:      len(result.Records),
		MalformedRows: result.MalformedRows,
		Schema:        result.Schema,
		ResultRef:     key,
	}, nil
}
