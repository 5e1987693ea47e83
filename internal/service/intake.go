package service

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/warit/csvmatch/internal/domain"
	"github.com/warit/csvmatch/internal/logger"
	"github.com/warit/csvmatch/internal/repository"
	"github.com/warit/csvmatch/internal/storage"
)

// maxUploadBytes caps accepted CSV uploads at 50 MiB.
const maxUploadBytes = 50 << 20

// supportedEncodings are the declared encodings the normalizer can decode.
// Empty means UTF-8.
var supportedEncodings = map[string]bool{
	"":             true,
	"utf-8":        true,
	"utf8":         true,
	"iso-8859-1":   true,
	"latin-1":      true,
	"windows-1252": true,
	"cp1252":       true,
	"tis-620":      true,
	"windows-874":  true,
	"cp874":        true,
}

// Intake accepts raw CSV uploads, persists the bytes to object storage and
// registers a SourceFile row that conversion tasks reference.
type Intake struct {
	files   *repository.SourceFileRepository
	storage storage.ObjectStorage
	logger  *logger.Logger
}

// NewIntake creates a new Intake.
func NewIntake(files *repository.SourceFileRepository, objectStorage storage.ObjectStorage, log *logger.Logger) *Intake {
	return &Intake{files: files, storage: objectStorage, logger: log}
}

// Accept validates and stores an uploaded CSV. A declared delimiter or
// encoding is recorded as-is; validation of the actual bytes happens during
// conversion, not here.
func (i *Intake) Accept(ctx context.Context, filename, delimiter, encoding string, data []byte) (*domain.SourceFile, error) {
	if len(data) == 0 {
		return nil, &domain.ValidationError{Field: "file", Detail: "uploaded file is empty"}
	}
	if len(data) > maxUploadBytes {
		return nil, &domain.ValidationError{
			Field:  "file",
			Detail: fmt.Sprintf("uploaded file exceeds the %d byte limit", maxUploadBytes),
		}
	}
	if ext := strings.ToLower(path.Ext(filename)); ext != "" && ext != ".csv" && ext != ".txt" && ext != ".tsv" {
		return nil, &domain.ValidationError{Field: "file", Detail: "only .csv, .tsv and .txt files are accepted"}
	}
	encoding = strings.ToLower(strings.TrimSpace(encoding))
	if !supportedEncodings[encoding] {
		return nil, &domain.ValidationError{
			Field:  "encoding",
			Detail: fmt.Sprintf("unsupported encoding %q", encoding),
		}
	}
	if n := len([]rune(delimiter)); n > 1 {
		return nil, &domain.ValidationError{Field: "delimiter", Detail: "delimiter must be a single character"}
	}

	id := uuid.New().String()
	key := "uploads/" + id + ".csv"
	if err := i.storage.Upload(ctx, key, bytes.NewReader(data), int64(len(data)), "text/csv"); err != nil {
		return nil, &domain.TransientIOError{Op: "store uploaded file", Err: err}
	}

	file := &domain.SourceFile{
		ID:               id,
		StorageKey:       key,
		OriginalFilename: filename,
		Delimiter:        delimiter,
		Encoding:         encoding,
		ByteSize:         int64(len(data)),
		UploadedAt:       time.Now().UTC(),
	}
	if err := i.files.Create(ctx, file); err != nil {
		return nil, err
	}

	i.logger.WithFields(logger.Fields{
		"source_file_id": file.ID,
		logger.FieldSize: file.ByteSize,
	}).Info("Source file accepted")
	return file, nil
}
