package service

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	fuzzy "github.com/paul-mannino/go-fuzzywuzzy"
	"github.com/warit/csvmatch/internal/domain"
	"github.com/warit/csvmatch/internal/logger"
)

// Similarity algorithms accepted by the matcher.
const (
	AlgorithmRatio     = "ratio"
	AlgorithmPartial   = "partial"
	AlgorithmTokenSort = "token_sort"
	AlgorithmTokenSet  = "token_set"
	AlgorithmBest      = "best" // max of the four fuzzy scores
	AlgorithmExact     = "exact"
	AlgorithmPrefix    = "prefix"
)

var knownAlgorithms = map[string]bool{
	AlgorithmRatio:     true,
	AlgorithmPartial:   true,
	AlgorithmTokenSort: true,
	AlgorithmTokenSet:  true,
	AlgorithmBest:      true,
	AlgorithmExact:     true,
	AlgorithmPrefix:    true,
}

// MatcherConfig holds matcher defaults and limits.
type MatcherConfig struct {
	DefaultAlgorithm string
	DefaultThreshold int
	MaxBulkQueries   int
	MaxResults       int
	BulkWorkers      int
}

// Matcher scores free-text queries against every selected field of every
// record in a record set. All comparisons are pure, so a fixed query against
// a fixed record set always yields identical output.
type Matcher struct {
	cfg    MatcherConfig
	logger *logger.Logger
}

// NewMatcher creates a new Matcher.
func NewMatcher(cfg MatcherConfig, log *logger.Logger) *Matcher {
	if cfg.DefaultAlgorithm == "" {
		cfg.DefaultAlgorithm = AlgorithmTokenSet
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 50
	}
	if cfg.MaxBulkQueries <= 0 {
		cfg.MaxBulkQueries = 100
	}
	if cfg.BulkWorkers <= 0 {
		cfg.BulkWorkers = 4
	}
	return &Matcher{cfg: cfg, logger: log}
}

// MatchQuery is a single lookup against a record set. Transient: it is not
// persisted beyond the history entry it produces.
type MatchQuery struct {
	Query      string
	Columns    []string // empty means all schema columns
	Algorithm  string   // empty means the configured default
	Threshold  *int     // 0-100; nil means the configured default
	MaxResults int      // <=0 means the configured default
}

// MatchResult is one scored record. A record contributes at most one result
// per query: its best-scoring column.
type MatchResult struct {
	Row           int           `json:"row"`
	MatchedColumn string        `json:"matched_column"`
	MatchedValue  string        `json:"matched_value"`
	Score         int           `json:"score"`
	Record        domain.Record `json:"record"`
}

// Search scores the query against the record set and returns matches ordered
// by score descending, ties broken by original row order. Results are
// truncated to MaxResults only after sorting. An empty record set yields an
// empty result slice, never an error.
func (m *Matcher) Search(ctx context.Context, q MatchQuery, rs *domain.RecordSet) ([]MatchResult, error) {
	algorithm, threshold, maxResults, columns, err := m.resolve(q, rs)
	if err != nil {
		return nil, err
	}

	queryClean := cleanText(q.Query)
	results := make([]MatchResult, 0)

	for i, rec := range rs.Records {
		// Honor the latency budget between records, never returning a
		// partial result set.
		if err := ctx.Err(); err != nil {
			if err == context.DeadlineExceeded {
				return nil, domain.ErrTimeout
			}
			return nil, err
		}

		best := MatchResult{Row: i, Score: -1}
		for _, col := range columns {
			value := rec[col]
			if value == "" {
				continue
			}
			score := scoreValue(algorithm, queryClean, cleanText(value))
			if score > best.Score {
				best.Score = score
				best.MatchedColumn = col
				best.MatchedValue = value
			}
		}

		if best.Score >= threshold && best.Score >= 0 {
			best.Record = rec
			results = append(results, best)
		}
	}

	// Stable sort keeps row order on equal scores, which callers rely on for
	// deterministic output.
	sort.SliceStable(results, func(a, b int) bool {
		return results[a].Score > results[b].Score
	})

	if len(results) > maxResults {
		results = results[:maxResults]
	}
	return results, nil
}

// BulkSearch runs independent single searches for each query, fanned out over
// a bounded worker pool. The result map has exactly one key per distinct
// query.
func (m *Matcher) BulkSearch(ctx context.Context, queries []string, base MatchQuery, rs *domain.RecordSet) (map[string][]MatchResult, error) {
	if len(queries) == 0 {
		return nil, &domain.ValidationError{Field: "queries", Detail: "at least one query is required"}
	}
	if len(queries) > m.cfg.MaxBulkQueries {
		return nil, &domain.ValidationError{
			Field:  "queries",
			Detail: fmt.Sprintf("at most %d queries per request", m.cfg.MaxBulkQueries),
		}
	}
	for _, q := range queries {
		if strings.TrimSpace(q) == "" {
			return nil, &domain.ValidationError{Field: "queries", Detail: "queries must not be empty"}
		}
	}
	// Validate shared parameters once before spawning workers
	probe := base
	probe.Query = queries[0]
	if _, _, _, _, err := m.resolve(probe, rs); err != nil {
		return nil, err
	}

	type bulkItem struct {
		query   string
		results []MatchResult
		err     error
	}

	workers := m.cfg.BulkWorkers
	if workers > len(queries) {
		workers = len(queries)
	}

	queryChan := make(chan string, len(queries))
	itemChan := make(chan bulkItem, len(queries))

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for query := range queryChan {
				single := base
				single.Query = query
				results, err := m.Search(ctx, single, rs)
				itemChan <- bulkItem{query: query, results: results, err: err}
			}
		}()
	}

	for _, q := range queries {
		queryChan <- q
	}
	close(queryChan)
	wg.Wait()
	close(itemChan)

	out := make(map[string][]MatchResult, len(queries))
	for item := range itemChan {
		if item.err != nil {
			return nil, item.err
		}
		out[item.query] = item.results
	}
	return out, nil
}

// resolve validates the query against the record set schema and fills in
// configured defaults.
func (m *Matcher) resolve(q MatchQuery, rs *domain.RecordSet) (algorithm string, threshold, maxResults int, columns []string, err error) {
	if strings.TrimSpace(q.Query) == "" {
		return "", 0, 0, nil, &domain.ValidationError{Field: "query", Detail: "query text must not be empty"}
	}

	algorithm = q.Algorithm
	if algorithm == "" {
		algorithm = m.cfg.DefaultAlgorithm
	}
	if !knownAlgorithms[algorithm] {
		return "", 0, 0, nil, &domain.ValidationError{
			Field:  "algorithm",
			Detail: fmt.Sprintf("unknown algorithm %q", algorithm),
		}
	}

	// An absent threshold falls back to the configured default; an explicit
	// zero disables the cutoff.
	threshold = m.cfg.DefaultThreshold
	if q.Threshold != nil {
		threshold = *q.Threshold
	}
	if threshold < 0 || threshold > 100 {
		return "", 0, 0, nil, &domain.ValidationError{Field: "threshold", Detail: "threshold must be between 0 and 100"}
	}

	maxResults = q.MaxResults
	if maxResults <= 0 {
		maxResults = m.cfg.MaxResults
	}

	columns = q.Columns
	if len(columns) == 0 {
		columns = rs.Schema
	} else {
		valid := make(map[string]bool, len(rs.Schema))
		for _, col := range rs.Schema {
			valid[col] = true
		}
		for _, col := range columns {
			if !valid[col] {
				return "", 0, 0, nil, &domain.ValidationError{
					Field:  "columns",
					Detail: fmt.Sprintf("column %q is not in the record set schema", col),
				}
			}
		}
	}
	return algorithm, threshold, maxResults, columns, nil
}

// scoreValue computes a normalized similarity score in [0,100] between the
// cleaned query and a cleaned field value.
func scoreValue(algorithm, query, value string) int {
	if query == "" || value == "" {
		return 0
	}
	switch algorithm {
	case AlgorithmExact:
		if query == value {
			return 100
		}
		return 0
	case AlgorithmPrefix:
		if strings.HasPrefix(value, query) {
			return 100
		}
		return 0
	case AlgorithmRatio:
		return fuzzy.Ratio(query, value)
	case AlgorithmPartial:
		return fuzzy.PartialRatio(query, value)
	case AlgorithmTokenSort:
		return fuzzy.TokenSortRatio(query, value)
	case AlgorithmTokenSet:
		return fuzzy.TokenSetRatio(query, value)
	case AlgorithmBest:
		best := fuzzy.Ratio(query, value)
		if s := fuzzy.PartialRatio(query, value); s > best {
			best = s
		}
		if s := fuzzy.TokenSortRatio(query, value); s > best {
			best = s
		}
		if s := fuzzy.TokenSetRatio(query, value); s > best {
			best = s
		}
		return best
	default:
		return fuzzy.TokenSetRatio(query, value)
	}
}

var (
	whitespaceRe = regexp.MustCompile(`\s+`)
	nonWordRe    = regexp.MustCompile(`[^\p{L}\p{N}\s]`)
)

// cleanText lowercases, collapses whitespace and strips punctuation so
// scoring compares word content rather than formatting.
func cleanText(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = nonWordRe.ReplaceAllString(s, "")
	s = whitespaceRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}
