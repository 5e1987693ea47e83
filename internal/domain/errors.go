package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across services and repositories.
var (
	// ErrAlreadyClaimed is returned when a claim races and loses. The
	// scheduler treats it as "move on", not as a failure.
	ErrAlreadyClaimed = errors.New("task already claimed")

	// ErrTimeout is returned when a search exceeds its latency budget.
	// Partial results are never returned in its place.
	ErrTimeout = errors.New("search timed out")

	// ErrCancelled is returned when a conversion aborts on a cancellation
	// request between row batches.
	ErrCancelled = errors.New("task cancelled")

	// ErrNotFound propagates a missing source file or task.
	ErrNotFound = errors.New("not found")

	// ErrAccessDenied propagates a storage-layer permission failure.
	ErrAccessDenied = errors.New("access denied")
)

// ParseReason classifies permanent parse failures.
type ParseReason string

const (
	ParseReasonAmbiguousDelimiter ParseReason = "ambiguous_delimiter"
	ParseReasonInvalidEncoding    ParseReason = "invalid_encoding"
	ParseReasonEmptyInput         ParseReason = "empty_input"
	ParseReasonMalformedCSV       ParseReason = "malformed_csv"
)

// ParseError is a permanent failure: the source file itself is malformed.
// Tasks failing with ParseError are never retried automatically.
type ParseError struct {
	Reason ParseReason
	Offset int64 // byte offset of the offending input, -1 if unknown
	Detail string
}

func (e *ParseError) Error() string {
	if e.Offset >= 0 {
		return fmt.Sprintf("parse error (%s) at byte %d: %s", e.Reason, e.Offset, e.Detail)
	}
	return fmt.Sprintf("parse error (%s): %s", e.Reason, e.Detail)
}

// TransientIOError wraps a source-unavailable failure. The scheduler re-queues
// such tasks up to the attempt cap before marking them failed for good.
type TransientIOError struct {
	Op  string
	Err error
}

func (e *TransientIOError) Error() string {
	return fmt.Sprintf("transient i/o error during %s: %v", e.Op, e.Err)
}

func (e *TransientIOError) Unwrap() error {
	return e.Err
}

// ValidationError rejects caller-supplied input before any work begins. It is
// never logged as a task failure.
type ValidationError struct {
	Field  string
	Detail string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Detail)
}

// IsParseError reports whether err is (or wraps) a ParseError.
func IsParseError(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}

// IsTransient reports whether err is (or wraps) a TransientIOError.
func IsTransient(err error) bool {
	var te *TransientIOError
	return errors.As(err, &te)
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
