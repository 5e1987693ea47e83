package service

import (
	"encoding/csv"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/warit/csvmatch/internal/domain"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
)

// delimiterCandidates are tried in order during auto-detection.
var delimiterCandidates = []rune{',', ';', '\t'}

const (
	// detectSampleLines is how many non-empty lines are sampled for
	// delimiter detection.
	detectSampleLines = 20

	// detectConsistency is the fraction of sampled lines that must agree on
	// a field count for a delimiter candidate to win.
	detectConsistency = 0.9
)

// NormalizeOptions carries the per-file hints declared at upload time.
type NormalizeOptions struct {
	// Delimiter is the declared field separator; 0 means auto-detect.
	Delimiter rune

	// Encoding is the declared charset; empty means UTF-8.
	Encoding string

	// BatchSize is the number of rows converted between cancellation
	// checks; <=0 uses 500.
	BatchSize int

	// Cancelled is polled between row batches. A nil func never cancels.
	Cancelled func() bool
}

// NormalizeResult is the output of a successful conversion.
type NormalizeResult struct {
	Schema        domain.StringArray
	Records       []domain.Record
	MalformedRows int
}

// Normalize parses raw delimited input into a uniform list of field-mapping
// records. The header row fixes the schema; short rows are padded with empty
// values and long rows truncated, both counted as malformed rather than
// aborting the conversion. Row order is preserved.
func Normalize(data []byte, opts NormalizeOptions) (*NormalizeResult, error) {
	text, err := decodeInput(data, opts.Encoding)
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(text) == "" {
		return nil, &domain.ParseError{
			Reason: domain.ParseReasonEmptyInput,
			Offset: -1,
			Detail: "input contains no data rows",
		}
	}

	delim := opts.Delimiter
	if delim == 0 {
		delim, err = detectDelimiter(text)
		if err != nil {
			return nil, err
		}
	}

	reader := csv.NewReader(strings.NewReader(text))
	reader.Comma = delim
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, &domain.ParseError{
			Reason: domain.ParseReasonMalformedCSV,
			Offset: -1,
			Detail: fmt.Sprintf("unreadable input: %v", err),
		}
	}

	header, body := splitHeader(rows)
	if header == nil {
		return nil, &domain.ParseError{
			Reason: domain.ParseReasonEmptyInput,
			Offset: -1,
			Detail: "no header row found",
		}
	}

	schema := dedupeHeaders(header)

	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = 500
	}

	result := &NormalizeResult{
		Schema:  schema,
		Records: make([]domain.Record, 0, len(body)),
	}

	for i, row := range body {
		if i%batchSize == 0 && opts.Cancelled != nil && opts.Cancelled() {
			return nil, domain.ErrCancelled
		}

		if len(row) != len(schema) {
			result.MalformedRows++
		}

		rec := make(domain.Record, len(schema))
		for j, col := range schema {
			if j < len(row) {
				rec[col] = row[j]
			} else {
				rec[col] = ""
			}
		}
		result.Records = append(result.Records, rec)
	}

	return result, nil
}

// decodeInput converts the raw bytes to a UTF-8 string according to the
// declared encoding, failing with the offending byte offset when the input is
// not decodable.
func decodeInput(data []byte, declared string) (string, error) {
	var dec *encoding.Decoder
	switch strings.ToLower(declared) {
	case "", "utf-8", "utf8":
		// validated below
	case "latin-1", "iso-8859-1":
		dec = charmap.ISO8859_1.NewDecoder()
	case "windows-1252", "cp1252":
		dec = charmap.Windows1252.NewDecoder()
	case "tis-620", "windows-874", "cp874":
		dec = charmap.Windows874.NewDecoder()
	default:
		return "", &domain.ParseError{
			Reason: domain.ParseReasonInvalidEncoding,
			Offset: -1,
			Detail: fmt.Sprintf("unsupported encoding %q", declared),
		}
	}

	if dec != nil {
		decoded, err := dec.Bytes(data)
		if err != nil {
			return "", &domain.ParseError{
				Reason: domain.ParseReasonInvalidEncoding,
				Offset: -1,
				Detail: fmt.Sprintf("cannot decode %s input: %v", declared, err),
			}
		}
		data = decoded
	}

	if off := firstInvalidUTF8(data); off >= 0 {
		return "", &domain.ParseError{
			Reason: domain.ParseReasonInvalidEncoding,
			Offset: off,
			Detail: "input is not valid UTF-8",
		}
	}

	// Strip a UTF-8 BOM if present
	return strings.TrimPrefix(string(data), "\uFEFF"), nil
}

// firstInvalidUTF8 returns the byte offset of the first invalid UTF-8
// sequence, or -1 if the input is valid.
func firstInvalidUTF8(data []byte) int64 {
	if utf8.Valid(data) {
		return -1
	}
	for i := 0; i < len(data); {
		r, size := utf8.DecodeRune(data[i:])
		if r == utf8.RuneError && size == 1 {
			return int64(i)
		}
		i += size
	}
	return -1
}

// detectDelimiter samples the first lines of the input and picks the
// candidate with the most consistent field count. Candidates that never split
// a line are only acceptable when nothing else qualifies (single-column
// input), in which case comma is assumed.
func detectDelimiter(text string) (rune, error) {
	lines := sampleLines(text, detectSampleLines)
	if len(lines) == 0 {
		return 0, &domain.ParseError{
			Reason: domain.ParseReasonEmptyInput,
			Offset: -1,
			Detail: "no lines to sample",
		}
	}

	bestDelim := rune(0)
	bestFields := 0
	singleColumn := true

	for _, cand := range delimiterCandidates {
		counts := make(map[int]int)
		for _, line := range lines {
			counts[fieldCount(line, cand)]++
		}

		// Modal field count and its share of the sample
		modal, modalHits := 0, 0
		for n, hits := range counts {
			if hits > modalHits || (hits == modalHits && n > modal) {
				modal, modalHits = n, hits
			}
		}

		consistent := float64(modalHits)/float64(len(lines)) >= detectConsistency
		if !consistent {
			singleColumn = false
			continue
		}
		if modal >= 2 {
			singleColumn = false
			if modal > bestFields {
				bestDelim, bestFields = cand, modal
			}
		}
	}

	if bestDelim != 0 {
		return bestDelim, nil
	}
	if singleColumn {
		// No delimiter occurs anywhere; a one-column file parses the same
		// under any of them.
		return ',', nil
	}
	return 0, &domain.ParseError{
		Reason: domain.ParseReasonAmbiguousDelimiter,
		Offset: -1,
		Detail: "no delimiter candidate produces a consistent field count",
	}
}

// sampleLines returns up to n non-empty lines.
func sampleLines(text string, n int) []string {
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines = append(lines, line)
		if len(lines) == n {
			break
		}
	}
	return lines
}

// fieldCount parses a single line with the candidate delimiter and returns
// the number of fields it would yield.
func fieldCount(line string, delim rune) int {
	r := csv.NewReader(strings.NewReader(line))
	r.Comma = delim
	r.LazyQuotes = true
	fields, err := r.Read()
	if err != nil {
		return 1
	}
	return len(fields)
}

// splitHeader returns the first non-empty row as the header and the remaining
// rows as the body.
func splitHeader(rows [][]string) ([]string, [][]string) {
	for i, row := range rows {
		if len(row) == 0 || (len(row) == 1 && strings.TrimSpace(row[0]) == "") {
			continue
		}
		return row, rows[i+1:]
	}
	return nil, nil
}

// dedupeHeaders trims header names and disambiguates duplicates by suffixing
// an occurrence index, preserving first-seen order.
func dedupeHeaders(header []string) domain.StringArray {
	seen := make(map[string]int, len(header))
	taken := make(map[string]bool, len(header))
	schema := make(domain.StringArray, 0, len(header))
	for i, name := range header {
		name = strings.TrimSpace(name)
		if name == "" {
			name = fmt.Sprintf("column_%d", i+1)
		}
		seen[name]++
		cand := name
		if seen[name] > 1 {
			cand = fmt.Sprintf("%s_%d", name, seen[name])
		}
		// A literal "name_2" column may already hold the suffixed slot
		for taken[cand] {
			seen[name]++
			cand = fmt.Sprintf("%s_%d", name, seen[name])
		}
		taken[cand] = true
		schema = append(schema, cand)
	}
	return schema
}
