package domain

import "time"

// SearchType distinguishes single-name searches from bulk list searches.
type SearchType string

const (
	SearchTypeSingle SearchType = "single"
	SearchTypeBulk   SearchType = "bulk"
)

// SearchHistoryEntry records one executed search against a task's record set.
// Entries are append-only; a zero-result search is still a loggable outcome.
type SearchHistoryEntry struct {
	ID          string      `gorm:"type:text;primaryKey" json:"id"`
	OwnerID     string      `gorm:"type:text;not null;index" json:"owner_id"`
	TaskID      string      `gorm:"type:text;not null;index" json:"task_id"`
	SearchType  SearchType  `gorm:"type:text" json:"search_type"`
	QueryNames  StringArray `gorm:"type:text" json:"query_names"`
	ColumnsUsed StringArray `gorm:"type:text" json:"columns_used"`
	Algorithm   string      `gorm:"type:text" json:"algorithm"`
	Threshold   int         `gorm:"default:0" json:"threshold"`
	ResultCount int         `gorm:"default:0" json:"result_count"`
	TopScore    int         `gorm:"default:0" json:"top_score"`
	ExecutedAt  time.Time   `json:"executed_at"`
}

// TableName returns the database table name for SearchHistoryEntry.
func (SearchHistoryEntry) TableName() string {
	return "search_history"
}

// TaskStats is a derived aggregate over a task's search history. It is
// computed fresh on every read and never stored.
type TaskStats struct {
	TaskID        string      `json:"task_id"`
	TotalSearches int         `json:"total_searches"`
	SingleCount   int         `json:"single_count"`
	BulkCount     int         `json:"bulk_count"`
	ZeroResults   int         `json:"zero_results"`
	AverageScore  float64     `json:"average_score"`
	TopTerms      []TermCount `json:"top_terms"`
}

// TermCount is one entry of the most-queried-terms ranking.
type TermCount struct {
	Term  string `json:"term"`
	Count int    `json:"count"`
}
