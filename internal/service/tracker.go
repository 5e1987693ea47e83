package service

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/warit/csvmatch/internal/domain"
	"github.com/warit/csvmatch/internal/logger"
	"github.com/warit/csvmatch/internal/repository"
)

// topTermsLimit caps the most-queried-terms ranking in task stats.
const topTermsLimit = 10

// SearchTracker appends executed searches to the history log and derives
// per-task aggregates from it. Every valid search is recorded, including
// ones that matched nothing.
type SearchTracker struct {
	history *repository.HistoryRepository
	logger  *logger.Logger
}

// NewSearchTracker creates a new SearchTracker.
func NewSearchTracker(history *repository.HistoryRepository, log *logger.Logger) *SearchTracker {
	return &SearchTracker{history: history, logger: log}
}

// RecordSearch describes one executed search to be appended to the log.
type RecordSearch struct {
	OwnerID     string
	TaskID      string
	SearchType  domain.SearchType
	QueryNames  []string
	ColumnsUsed []string
	Algorithm   string
	Threshold   int
	ResultCount int
	TopScore    int
}

// Record appends a history entry for an executed search. Recording is part
// of the search path but must not fail it; callers log and continue on error.
func (t *SearchTracker) Record(ctx context.Context, rec RecordSearch) (*domain.SearchHistoryEntry, error) {
	entry := &domain.SearchHistoryEntry{
		ID:          uuid.New().String(),
		OwnerID:     rec.OwnerID,
		TaskID:      rec.TaskID,
		SearchType:  rec.SearchType,
		QueryNames:  rec.QueryNames,
		ColumnsUsed: rec.ColumnsUsed,
		Algorithm:   rec.Algorithm,
		Threshold:   rec.Threshold,
		ResultCount: rec.ResultCount,
		TopScore:    rec.TopScore,
		ExecutedAt:  time.Now().UTC(),
	}
	if err := t.history.Create(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// History returns an owner's search history, newest first, with the total
// count for pagination.
func (t *SearchTracker) History(ctx context.Context, ownerID string, limit, offset int) ([]domain.SearchHistoryEntry, int64, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return t.history.ListByOwner(ctx, ownerID, limit, offset)
}

// Stats aggregates a task's full search history. The aggregate is computed
// fresh on every call so it always reflects the latest entries.
func (t *SearchTracker) Stats(ctx context.Context, taskID string) (*domain.TaskStats, error) {
	entries, err := t.history.ListByTask(ctx, taskID)
	if err != nil {
		return nil, err
	}

	stats := &domain.TaskStats{TaskID: taskID}
	termCounts := make(map[string]int)
	scoreSum := 0
	scored := 0

	for _, e := range entries {
		stats.TotalSearches++
		switch e.SearchType {
		case domain.SearchTypeBulk:
			stats.BulkCount++
		default:
			stats.SingleCount++
		}
		if e.ResultCount == 0 {
			stats.ZeroResults++
		} else {
			scoreSum += e.TopScore
			scored++
		}
		for _, name := range e.QueryNames {
			term := strings.ToLower(strings.TrimSpace(name))
			if term != "" {
				termCounts[term]++
			}
		}
	}

	if scored > 0 {
		stats.AverageScore = float64(scoreSum) / float64(scored)
	}
	stats.TopTerms = rankTerms(termCounts, topTermsLimit)
	return stats, nil
}

// rankTerms orders terms by count descending, breaking ties alphabetically
// so the ranking is stable across reads.
func rankTerms(counts map[string]int, limit int) []domain.TermCount {
	ranked := make([]domain.TermCount, 0, len(counts))
	for term, count := range counts {
		ranked = append(ranked, domain.TermCount{Term: term, Count: count})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Count != ranked[j].Count {
			return ranked[i].Count > ranked[j].Count
		}
		return ranked[i].Term < ranked[j].Term
	})
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked
}
