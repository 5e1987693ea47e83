package service

import (
	"errors"
	"strings"
	"testing"

	"github.com/warit/csvmatch/internal/domain"
)

// TestNormalizeBasic verifies header-driven record construction and row order.
func TestNormalizeBasic(t *testing.T) {
	input := "name,age,city\nAlice,30,Bangkok\nBob,25,Chiang Mai\n"

	result, err := Normalize([]byte(input), NormalizeOptions{})
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}

	wantSchema := []string{"name", "age", "city"}
	if len(result.Schema) != len(wantSchema) {
		t.Fatalf("Schema length: got %d, want %d", len(result.Schema), len(wantSchema))
	}
	for i, col := range wantSchema {
		if result.Schema[i] != col {
			t.Errorf("Schema[%d]: got %q, want %q", i, result.Schema[i], col)
		}
	}

	if len(result.Records) != 2 {
		t.Fatalf("Record count: got %d, want 2", len(result.Records))
	}
	if result.Records[0]["name"] != "Alice" || result.Records[1]["name"] != "Bob" {
		t.Errorf("Row order not preserved: %v", result.Records)
	}
	if result.MalformedRows != 0 {
		t.Errorf("MalformedRows: got %d, want 0", result.MalformedRows)
	}
}

// TestNormalizeMalformedRows verifies short rows are padded and long rows
// truncated, both counted as malformed.
func TestNormalizeMalformedRows(t *testing.T) {
	input := "a,b,c\n1,2\n1,2,3,4\n1,2,3\n"

	result, err := Normalize([]byte(input), NormalizeOptions{Delimiter: ','})
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}

	if result.MalformedRows != 2 {
		t.Errorf("MalformedRows: got %d, want 2", result.MalformedRows)
	}
	if len(result.Records) != 3 {
		t.Fatalf("Record count: got %d, want 3", len(result.Records))
	}

	// Short row padded with empty string
	if result.Records[0]["c"] != "" {
		t.Errorf("Short row not padded: got %q", result.Records[0]["c"])
	}
	// Long row truncated to schema width
	if len(result.Records[1]) != 3 {
		t.Errorf("Long row not truncated: got %d fields", len(result.Records[1]))
	}
}

// TestDetectDelimiter runs the auto-detection over the supported candidates.
func TestDetectDelimiter(t *testing.T) {
	testCases := []struct {
		name  string
		input string
		want  rune
	}{
		{
			name:  "comma",
			input: "name,age\nAlice,30\nBob,25\n",
			want:  ',',
		},
		{
			name:  "semicolon",
			input: "name;age\nAlice;30\nBob;25\n",
			want:  ';',
		},
		{
			name:  "tab",
			input: "name\tage\nAlice\t30\nBob\t25\n",
			want:  '\t',
		},
		{
			name:  "single column falls back to comma",
			input: "name\nAlice\nBob\n",
			want:  ',',
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := detectDelimiter(tc.input)
			if err != nil {
				t.Fatalf("detectDelimiter failed: %v", err)
			}
			if got != tc.want {
				t.Errorf("delimiter: got %q, want %q", got, tc.want)
			}
		})
	}
}

// TestDetectDelimiterAmbiguous verifies wildly inconsistent field counts fail
// with an ambiguous-delimiter parse error.
func TestDetectDelimiterAmbiguous(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("a,b;c\td\n")
	sb.WriteString("x\n")
	sb.WriteString("p,q,r,s;t\n")
	sb.WriteString("m;n;o,u\tv\tw\n")
	sb.WriteString("1,2\n")
	sb.WriteString("3;4;5;6\n")
	sb.WriteString("7\t8\n")
	sb.WriteString("9,10,11\n")
	sb.WriteString("12;13\n")
	sb.WriteString("14\t15\t16\t17\n")

	_, err := detectDelimiter(sb.String())
	var perr *domain.ParseError
	if !errors.As(err, &perr) {
		t.Fatalf("expected ParseError, got %v", err)
	}
	if perr.Reason != domain.ParseReasonAmbiguousDelimiter {
		t.Errorf("Reason: got %q, want %q", perr.Reason, domain.ParseReasonAmbiguousDelimiter)
	}
}

// TestNormalizeEncodings verifies declared single-byte encodings decode and
// bad UTF-8 is rejected with the offending byte offset.
func TestNormalizeEncodings(t *testing.T) {
	t.Run("latin-1", func(t *testing.T) {
		// "café" in ISO-8859-1: é is 0xE9
		input := []byte("name\ncaf\xe9\n")
		result, err := Normalize(input, NormalizeOptions{Encoding: "latin-1"})
		if err != nil {
			t.Fatalf("Normalize failed: %v", err)
		}
		if result.Records[0]["name"] != "café" {
			t.Errorf("decoded value: got %q, want %q", result.Records[0]["name"], "café")
		}
	})

	t.Run("invalid utf-8 reports offset", func(t *testing.T) {
		input := []byte("name\nab\xff\n")
		_, err := Normalize(input, NormalizeOptions{})
		var perr *domain.ParseError
		if !errors.As(err, &perr) {
			t.Fatalf("expected ParseError, got %v", err)
		}
		if perr.Reason != domain.ParseReasonInvalidEncoding {
			t.Errorf("Reason: got %q, want %q", perr.Reason, domain.ParseReasonInvalidEncoding)
		}
		if perr.Offset != 7 {
			t.Errorf("Offset: got %d, want 7", perr.Offset)
		}
	})

	t.Run("unknown declared encoding", func(t *testing.T) {
		_, err := Normalize([]byte("a\n1\n"), NormalizeOptions{Encoding: "ebcdic"})
		var perr *domain.ParseError
		if !errors.As(err, &perr) {
			t.Fatalf("expected ParseError, got %v", err)
		}
	})

	t.Run("utf-8 BOM stripped from header", func(t *testing.T) {
		input := []byte("\xef\xbb\xbfname,city\nAda,London\n")
		result, err := Normalize(input, NormalizeOptions{})
		if err != nil {
			t.Fatalf("Normalize failed: %v", err)
		}
		if result.Schema[0] != "name" {
			t.Errorf("first column: got %q, want %q", result.Schema[0], "name")
		}
		if result.Records[0]["name"] != "Ada" {
			t.Errorf("first value: got %q, want %q", result.Records[0]["name"], "Ada")
		}
	})
}

// TestNormalizeEmptyInput verifies blank input fails with an empty-input
// parse error rather than an empty result.
func TestNormalizeEmptyInput(t *testing.T) {
	for _, input := range []string{"", "   \n\n  ", "\n\n"} {
		_, err := Normalize([]byte(input), NormalizeOptions{})
		var perr *domain.ParseError
		if !errors.As(err, &perr) {
			t.Fatalf("input %q: expected ParseError, got %v", input, err)
		}
		if perr.Reason != domain.ParseReasonEmptyInput {
			t.Errorf("input %q: Reason: got %q, want %q", input, perr.Reason, domain.ParseReasonEmptyInput)
		}
	}
}

// TestNormalizeMalformedCSV verifies an unreadable CSV body fails with the
// malformed-csv parse reason rather than being mislabeled as empty input.
func TestNormalizeMalformedCSV(t *testing.T) {
	// '\n' is not a legal field delimiter, so the reader rejects the input.
	_, err := Normalize([]byte("a,b\n1,2\n"), NormalizeOptions{Delimiter: '\n'})
	var perr *domain.ParseError
	if !errors.As(err, &perr) {
		t.Fatalf("expected ParseError, got %v", err)
	}
	if perr.Reason != domain.ParseReasonMalformedCSV {
		t.Errorf("Reason: got %q, want %q", perr.Reason, domain.ParseReasonMalformedCSV)
	}
}

// TestDedupeHeaders verifies duplicate and blank header names are
// disambiguated while preserving order.
func TestDedupeHeaders(t *testing.T) {
	testCases := []struct {
		name   string
		header []string
		want   []string
	}{
		{
			name:   "no duplicates",
			header: []string{"a", "b", "c"},
			want:   []string{"a", "b", "c"},
		},
		{
			name:   "simple duplicate",
			header: []string{"name", "name", "age"},
			want:   []string{"name", "name_2", "age"},
		},
		{
			name:   "blank header gets positional name",
			header: []string{"a", "", "c"},
			want:   []string{"a", "column_2", "c"},
		},
		{
			name:   "literal suffix collision",
			header: []string{"name", "name", "name_2"},
			want:   []string{"name", "name_2", "name_2_2"},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := dedupeHeaders(tc.header)
			if len(got) != len(tc.want) {
				t.Fatalf("length: got %d, want %d", len(got), len(tc.want))
			}
			for i := range tc.want {
				if got[i] != tc.want[i] {
					t.Errorf("schema[%d]: got %q, want %q", i, got[i], tc.want[i])
				}
			}
		})
	}
}

// TestNormalizeCancellation verifies the cancellation hook aborts the
// conversion between batches.
func TestNormalizeCancellation(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("a,b\n")
	for i := 0; i < 50; i++ {
		sb.WriteString("1,2\n")
	}

	_, err := Normalize([]byte(sb.String()), NormalizeOptions{
		BatchSize: 10,
		Cancelled: func() bool { return true },
	})
	if !errors.Is(err, domain.ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
}
