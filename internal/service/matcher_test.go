package service

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/warit/csvmatch/internal/domain"
)

func newTestMatcher() *Matcher {
	return NewMatcher(MatcherConfig{
		DefaultAlgorithm: AlgorithmTokenSet,
		MaxBulkQueries:   100,
		MaxResults:       50,
	}, testLogger())
}

func nameRecordSet(names ...string) *domain.RecordSet {
	rs := &domain.RecordSet{
		TaskID: "task-1",
		Schema: domain.StringArray{"full_name"},
	}
	for _, n := range names {
		rs.Records = append(rs.Records, domain.Record{"full_name": n})
	}
	return rs
}

// TestSearchNameExample verifies both close variants clear a moderate
// threshold with the closer one ranked first, while an unrelated name stays
// out.
func TestSearchNameExample(t *testing.T) {
	m := newTestMatcher()
	rs := nameRecordSet("Jon Smith", "Jonathan Smyth", "Maria Garcia")

	results, err := m.Search(context.Background(), MatchQuery{
		Query:     "John Smith",
		Columns:   []string{"full_name"},
		Threshold: intPtr(60),
	}, rs)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}

	if len(results) != 2 {
		t.Fatalf("results: got %d, want 2 (%v)", len(results), results)
	}
	if results[0].MatchedValue != "Jon Smith" || results[1].MatchedValue != "Jonathan Smyth" {
		t.Errorf("order: got %q then %q", results[0].MatchedValue, results[1].MatchedValue)
	}
	if results[0].Score <= results[1].Score {
		t.Errorf("scores not descending: %d then %d", results[0].Score, results[1].Score)
	}
	for _, r := range results {
		if r.Score < 60 {
			t.Errorf("result %q below threshold: %d", r.MatchedValue, r.Score)
		}
	}
}

// TestSearchOneResultPerRecord verifies a record contributes at most one
// result even at threshold zero, where every record matches.
func TestSearchOneResultPerRecord(t *testing.T) {
	m := newTestMatcher()
	rs := &domain.RecordSet{
		TaskID: "task-1",
		Schema: domain.StringArray{"first", "last"},
		Records: []domain.Record{
			{"first": "John", "last": "Smith"},
			{"first": "Jane", "last": "Doe"},
		},
	}

	results, err := m.Search(context.Background(), MatchQuery{Query: "john smith", Threshold: intPtr(0)}, rs)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}

	if len(results) != len(rs.Records) {
		t.Fatalf("results: got %d, want %d (one per record)", len(results), len(rs.Records))
	}
	seen := make(map[int]bool)
	for _, r := range results {
		if seen[r.Row] {
			t.Errorf("row %d appears more than once", r.Row)
		}
		seen[r.Row] = true
	}
}

// TestSearchDefaultThreshold verifies an omitted threshold falls back to the
// configured default instead of zero, while an explicit zero disables the
// cutoff.
func TestSearchDefaultThreshold(t *testing.T) {
	m := NewMatcher(MatcherConfig{
		DefaultAlgorithm: AlgorithmTokenSet,
		DefaultThreshold: 70,
	}, testLogger())
	rs := nameRecordSet("John Smith", "Completely Unrelated Widget")

	results, err := m.Search(context.Background(), MatchQuery{Query: "John Smith"}, rs)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("results: got %d, want 1 (%v)", len(results), results)
	}
	if results[0].MatchedValue != "John Smith" {
		t.Errorf("matched: got %q, want %q", results[0].MatchedValue, "John Smith")
	}

	all, err := m.Search(context.Background(), MatchQuery{Query: "John Smith", Threshold: intPtr(0)}, rs)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("explicit zero threshold: got %d results, want 2", len(all))
	}
}

// TestSearchTimeout verifies an exhausted deadline yields ErrTimeout with no
// partial results.
func TestSearchTimeout(t *testing.T) {
	m := newTestMatcher()
	rs := nameRecordSet("John Smith", "Maria Garcia")

	ctx, cancel := context.WithTimeout(context.Background(), -time.Millisecond)
	defer cancel()

	results, err := m.Search(ctx, MatchQuery{Query: "John Smith", Threshold: intPtr(0)}, rs)
	if !errors.Is(err, domain.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if results != nil {
		t.Errorf("partial results returned alongside timeout: %v", results)
	}
}

// TestSearchDeterminism verifies repeated identical searches return identical
// result lists.
func TestSearchDeterminism(t *testing.T) {
	m := newTestMatcher()
	rs := nameRecordSet("John Smith", "Jon Smit", "Johan Smitt", "J Smith", "John Smyth")
	q := MatchQuery{Query: "Jon Smith", Threshold: intPtr(50)}

	first, err := m.Search(context.Background(), q, rs)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	for i := 0; i < 5; i++ {
		again, err := m.Search(context.Background(), q, rs)
		if err != nil {
			t.Fatalf("Search failed on repeat %d: %v", i, err)
		}
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("repeat %d differs:\nfirst=%v\nagain=%v", i, first, again)
		}
	}
}

// TestSearchEmptyRecordSet verifies an empty record set yields an empty
// result slice, not an error.
func TestSearchEmptyRecordSet(t *testing.T) {
	m := newTestMatcher()
	rs := &domain.RecordSet{TaskID: "task-1", Schema: domain.StringArray{"name"}}

	results, err := m.Search(context.Background(), MatchQuery{Query: "anything"}, rs)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("results: got %d, want 0", len(results))
	}
}

// TestSearchValidation covers the request validation failures.
func TestSearchValidation(t *testing.T) {
	m := newTestMatcher()
	rs := nameRecordSet("John Smith")

	testCases := []struct {
		name  string
		query MatchQuery
		field string
	}{
		{
			name:  "empty query",
			query: MatchQuery{Query: "   "},
			field: "query",
		},
		{
			name:  "unknown algorithm",
			query: MatchQuery{Query: "x", Algorithm: "soundex"},
			field: "algorithm",
		},
		{
			name:  "threshold out of range",
			query: MatchQuery{Query: "x", Threshold: intPtr(101)},
			field: "threshold",
		},
		{
			name:  "unknown column",
			query: MatchQuery{Query: "x", Columns: []string{"surname"}},
			field: "columns",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := m.Search(context.Background(), tc.query, rs)
			var verr *domain.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if verr.Field != tc.field {
				t.Errorf("Field: got %q, want %q", verr.Field, tc.field)
			}
		})
	}
}

// TestSearchAlgorithms exercises the non-fuzzy algorithms directly.
func TestSearchAlgorithms(t *testing.T) {
	t.Run("exact", func(t *testing.T) {
		if got := scoreValue(AlgorithmExact, "john smith", "john smith"); got != 100 {
			t.Errorf("exact same: got %d, want 100", got)
		}
		if got := scoreValue(AlgorithmExact, "john smith", "john smyth"); got != 0 {
			t.Errorf("exact different: got %d, want 0", got)
		}
	})
	t.Run("prefix", func(t *testing.T) {
		if got := scoreValue(AlgorithmPrefix, "john", "john smith"); got != 100 {
			t.Errorf("prefix hit: got %d, want 100", got)
		}
		if got := scoreValue(AlgorithmPrefix, "smith", "john smith"); got != 0 {
			t.Errorf("prefix miss: got %d, want 0", got)
		}
	})
	t.Run("best is max of fuzzy scores", func(t *testing.T) {
		q, v := "jon smith", "smith jonathan"
		best := scoreValue(AlgorithmBest, q, v)
		for _, alg := range []string{AlgorithmRatio, AlgorithmPartial, AlgorithmTokenSort, AlgorithmTokenSet} {
			if s := scoreValue(alg, q, v); s > best {
				t.Errorf("best %d below %s score %d", best, alg, s)
			}
		}
	})
}

// TestCleanText verifies the normalization applied before scoring.
func TestCleanText(t *testing.T) {
	testCases := []struct {
		in   string
		want string
	}{
		{"  John   SMITH  ", "john smith"},
		{"O'Brien, Jr.", "obrien jr"},
		{"José García", "josé garcía"},
		{"", ""},
		{"!!!", ""},
	}
	for _, tc := range testCases {
		if got := cleanText(tc.in); got != tc.want {
			t.Errorf("cleanText(%q): got %q, want %q", tc.in, got, tc.want)
		}
	}
}

// TestBulkSearch verifies independent per-query result lists and the input
// validation on the query list.
func TestBulkSearch(t *testing.T) {
	m := newTestMatcher()
	rs := nameRecordSet("John Smith", "Maria Garcia", "Somchai Jaidee")

	t.Run("three queries", func(t *testing.T) {
		queries := []string{"Jon Smith", "Maria Garcia", "Nonexistent Person"}
		results, err := m.BulkSearch(context.Background(), queries, MatchQuery{Threshold: intPtr(80)}, rs)
		if err != nil {
			t.Fatalf("BulkSearch failed: %v", err)
		}
		if len(results) != 3 {
			t.Fatalf("result keys: got %d, want 3", len(results))
		}
		for _, q := range queries {
			if _, ok := results[q]; !ok {
				t.Errorf("missing result key for query %q", q)
			}
		}
		if len(results["Maria Garcia"]) == 0 {
			t.Error("exact name produced no matches")
		}
		if len(results["Nonexistent Person"]) != 0 {
			t.Errorf("unrelated query matched: %v", results["Nonexistent Person"])
		}
	})

	t.Run("empty query list", func(t *testing.T) {
		_, err := m.BulkSearch(context.Background(), nil, MatchQuery{}, rs)
		var verr *domain.ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("expected ValidationError, got %v", err)
		}
	})

	t.Run("blank query rejected", func(t *testing.T) {
		_, err := m.BulkSearch(context.Background(), []string{"ok", "  "}, MatchQuery{}, rs)
		var verr *domain.ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("expected ValidationError, got %v", err)
		}
	})

	t.Run("over the query cap", func(t *testing.T) {
		small := NewMatcher(MatcherConfig{MaxBulkQueries: 2}, testLogger())
		_, err := small.BulkSearch(context.Background(), []string{"a", "b", "c"}, MatchQuery{}, rs)
		var verr *domain.ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("expected ValidationError, got %v", err)
		}
	})
}

// TestSearchTruncationAfterSort verifies MaxResults keeps the highest scores.
func TestSearchTruncationAfterSort(t *testing.T) {
	m := newTestMatcher()
	rs := nameRecordSet("zzz zzz", "Jon Smith", "yyy yyy", "Jon Smith")

	results, err := m.Search(context.Background(), MatchQuery{
		Query:      "Jon Smith",
		Threshold:  intPtr(0),
		MaxResults: 2,
	}, rs)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results: got %d, want 2", len(results))
	}
	for _, r := range results {
		if r.MatchedValue != "Jon Smith" {
			t.Errorf("truncation dropped a top match, kept %q (score %d)", r.MatchedValue, r.Score)
		}
	}
}
