package domain

import "time"

// TaskStatus represents the lifecycle status of a conversion task.
// Values include TaskStatusQueued, TaskStatusProcessing, TaskStatusCompleted, and TaskStatusFailed.
type TaskStatus string

const (
	TaskStatusQueued     TaskStatus = "queued"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
)

// FailureKind classifies why a task failed.
type FailureKind string

const (
	// FailureKindParse means the source file is malformed. Never retried.
	FailureKindParse FailureKind = "parse"
	// FailureKindTransient means the source was temporarily unreadable.
	// Eligible for re-queue up to the attempt cap.
	FailureKindTransient FailureKind = "transient"
	// FailureKindCancelled means the task was cancelled cooperatively.
	FailureKindCancelled FailureKind = "cancelled"
	// FailureKindStaleLease means the task exhausted its attempts after
	// repeated abandoned leases.
	FailureKindStaleLease FailureKind = "stale_lease"
)

// Task represents a CSV-to-recordset conversion task and its progress metadata.
// StartedAt doubles as the processing lease timestamp: a task observed in
// processing with StartedAt older than the staleness window is considered
// abandoned.
type Task struct {
	ID              string      `gorm:"type:text;primaryKey" json:"id"`
	OwnerID         string      `gorm:"type:text;not null;index" json:"owner_id"`
	SourceFileID    string      `gorm:"type:text;not null;index" json:"source_file_id"`
	Status          TaskStatus  `gorm:"default:queued;index" json:"status"`
	Attempts        int         `gorm:"default:0" json:"attempts"`
	CancelRequested bool        `gorm:"default:false" json:"cancel_requested"`
	RowCount        int         `gorm:"default:0" json:"row_count"`
	MalformedRows   int         `gorm:"default:0" json:"malformed_rows"`
	ColumnSchema    StringArray `gorm:"type:text" json:"column_schema"`
	ErrorKind       FailureKind `json:"error_kind,omitempty"`
	ErrorDetail     string      `json:"error_detail,omitempty"`
	ResultRef       string      `json:"result_ref,omitempty"`
	StartedAt       *time.Time  `json:"started_at,omitempty"`
	CompletedAt     *time.Time  `json:"completed_at,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

// TableName returns the database table name for Task.
// Parameters: none.
// Returns:
//   - string: table name for GORM mapping.
func (Task) TableName() string {
	return "tasks"
}

// Terminal reports whether the task has reached a terminal status.
func (t *Task) Terminal() bool {
	return t.Status == TaskStatusCompleted || t.Status == TaskStatusFailed
}
