package domain

import "encoding/json"

// Record is a single normalized row: a mapping from column name to raw string
// value. The schema is fixed when the owning record set is created; a missing
// cell maps to the empty string, never an absent key.
type Record map[string]string

// RecordSet is the queryable output of a completed conversion task. Rows keep
// their original source order, which is the tie-break key during matching.
// Immutable once its task completes.
type RecordSet struct {
	TaskID  string      `json:"task_id"`
	Schema  StringArray `json:"schema"`
	Records []Record    `json:"records"`
}

// MarshalJSON ensures every record carries the full schema, writing empty
// strings for missing cells.
func (rs *RecordSet) MarshalJSON() ([]byte, error) {
	type alias RecordSet
	for _, rec := range rs.Records {
		for _, col := range rs.Schema {
			if _, ok := rec[col]; !ok {
				rec[col] = ""
			}
		}
	}
	return json.Marshal((*alias)(rs))
}

// Len returns the number of records in the set.
func (rs *RecordSet) Len() int {
	if rs == nil {
		return 0
	}
	return len(rs.Records)
}
