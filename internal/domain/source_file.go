package domain

import "time"

// SourceFile represents an uploaded file handle owned by the file-management
// collaborator. The conversion core only ever reads it; the record is
// immutable once a task has been created against it.
type SourceFile struct {
	ID               string    `gorm:"type:text;primaryKey" json:"id"`
	StorageKey       string    `gorm:"type:text;not null" json:"storage_key"`
	OriginalFilename string    `gorm:"type:text" json:"original_filename"`
	Delimiter        string    `gorm:"type:text" json:"delimiter,omitempty"`
	Encoding         string    `gorm:"type:text" json:"encoding,omitempty"`
	ByteSize         int64     `gorm:"default:0" json:"byte_size"`
	UploadedAt       time.Time `json:"uploaded_at"`
}

// TableName returns the database table name for SourceFile.
func (SourceFile) TableName() string {
	return "source_files"
}
