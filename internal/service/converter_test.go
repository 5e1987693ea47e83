package service

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/warit/csvmatch/internal/domain"
	"github.com/warit/csvmatch/internal/repository"
	"github.com/warit/csvmatch/internal/storage"
)

type converterFixture struct {
	converter *Converter
	files     *repository.SourceFileRepository
	tasks     *repository.TaskRepository
	records   *repository.RecordSetStore
	storage   storage.ObjectStorage
}

func newConverterFixture(t *testing.T) *converterFixture {
	t.Helper()
	db := testGormDB(t, &domain.SourceFile{}, &domain.Task{})

	objectStorage, err := storage.NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("local storage: %v", err)
	}

	files := repository.NewSourceFileRepository(db)
	tasks := repository.NewTaskRepository(db)
	records := repository.NewRecordSetStore(objectStorage)

	return &converterFixture{
		converter: NewConverter(files, tasks, records, objectStorage, testLogger(), 100),
		files:     files,
		tasks:     tasks,
		records:   records,
		storage:   objectStorage,
	}
}

func (f *converterFixture) seed(t *testing.T, csvData, delimiter, encoding string) *domain.Task {
	t.Helper()
	ctx := context.Background()

	file := &domain.SourceFile{
		ID:               uuid.New().String(),
		StorageKey:       "uploads/" + uuid.New().String() + ".csv",
		OriginalFilename: "input.csv",
		Delimiter:        delimiter,
		Encoding:         encoding,
		ByteSize:         int64(len(csvData)),
	}
	if err := f.storage.Upload(ctx, file.StorageKey, bytes.NewReader([]byte(csvData)), file.ByteSize, "text/csv"); err != nil {
		t.Fatalf("upload: %v", err)
	}
	if err := f.files.Create(ctx, file); err != nil {
		t.Fatalf("create source file: %v", err)
	}

	task := &domain.Task{
		ID:           uuid.New().String(),
		OwnerID:      "owner-1",
		SourceFileID: file.ID,
		Status:       domain.TaskStatusProcessing,
	}
	if err := f.tasks.Create(context.Background(), task); err != nil {
		t.Fatalf("create task: %v", err)
	}
	return task
}

// TestConvertEndToEnd verifies the pipeline from stored CSV to a loadable
// record set.
func TestConvertEndToEnd(t *testing.T) {
	f := newConverterFixture(t)
	task := f.seed(t, "name,city\nAlice,Bangkok\nBob,Phuket\n", "", "")

	out, err := f.converter.Convert(context.Background(), task)
	if err != nil {
		t.Fatalf("Convert failed: %v", err)
	}
	if out.RowCount != 2 || out.MalformedRows != 0 {
		t.Errorf("counts: rows=%d malformed=%d", out.RowCount, out.MalformedRows)
	}
	if out.ResultRef == "" {
		t.Fatal("no result reference")
	}

	rs, err := f.records.Load(context.Background(), out.ResultRef)
	if err != nil {
		t.Fatalf("load record set: %v", err)
	}
	if rs.TaskID != task.ID {
		t.Errorf("record set task: got %q, want %q", rs.TaskID, task.ID)
	}
	if rs.Len() != 2 {
		t.Errorf("record set length: got %d, want 2", rs.Len())
	}
	if rs.Records[1]["city"] != "Phuket" {
		t.Errorf("record content: %v", rs.Records[1])
	}
}

// TestConvertDeclaredDelimiter verifies the declared delimiter overrides
// auto-detection.
func TestConvertDeclaredDelimiter(t *testing.T) {
	f := newConverterFixture(t)
	task := f.seed(t, "name|age\nAlice|30\n", "|", "")

	out, err := f.converter.Convert(context.Background(), task)
	if err != nil {
		t.Fatalf("Convert failed: %v", err)
	}
	if len(out.Schema) != 2 {
		t.Errorf("schema: got %v, want 2 columns", out.Schema)
	}
}

// TestConvertParseFailure verifies unparseable input surfaces a ParseError,
// not a transient one.
func TestConvertParseFailure(t *testing.T) {
	f := newConverterFixture(t)
	task := f.seed(t, "   \n\n", "", "")

	_, err := f.converter.Convert(context.Background(), task)
	var perr *domain.ParseError
	if !errors.As(err, &perr) {
		t.Fatalf("expected ParseError, got %v", err)
	}
	if domain.IsTransient(err) {
		t.Error("parse failure misclassified as transient")
	}
}

// TestConvertMissingSourceFile verifies storage lookups failing surface as
// transient errors so the task is retried.
func TestConvertMissingSourceFile(t *testing.T) {
	f := newConverterFixture(t)
	task := &domain.Task{
		ID:           uuid.New().String(),
		OwnerID:      "owner-1",
		SourceFileID: "missing",
		Status:       domain.TaskStatusProcessing,
	}

	_, err := f.converter.Convert(context.Background(), task)
	if !domain.IsTransient(err) {
		t.Fatalf("expected transient error, got %v", err)
	}
}

// TestConvertCancellation verifies a cancel flag set mid-flight aborts the
// conversion with ErrCancelled.
func TestConvertCancellation(t *testing.T) {
	f := newConverterFixture(t)

	var sb bytes.Buffer
	sb.WriteString("a,b\n")
	for i := 0; i < 10; i++ {
		sb.WriteString("1,2\n")
	}
	task := f.seed(t, sb.String(), "", "")

	if err := f.tasks.RequestCancel(context.Background(), task.ID, time.Now().UTC()); err != nil {
		t.Fatalf("request cancel: %v", err)
	}

	_, err := f.converter.Convert(context.Background(), task)
	if !errors.Is(err, domain.ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
}
