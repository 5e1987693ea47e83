package service

import (
	"context"
	"time"

	"github.com/warit/csvmatch/internal/domain"
	"github.com/warit/csvmatch/internal/logger"
	"github.com/warit/csvmatch/internal/repository"
)

// SearchService runs validated searches against completed tasks' record sets
// and appends every executed search to the history log.
type SearchService struct {
	tasks   *repository.TaskRepository
	records *repository.RecordSetStore
	matcher *Matcher
	tracker *SearchTracker
	logger  *logger.Logger
	timeout time.Duration
}

// NewSearchService creates a new SearchService.
func NewSearchService(
	tasks *repository.TaskRepository,
	records *repository.RecordSetStore,
	matcher *Matcher,
	tracker *SearchTracker,
	log *logger.Logger,
	timeout time.Duration,
) *SearchService {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &SearchService{
		tasks:   tasks,
		records: records,
		matcher: matcher,
		tracker: tracker,
		logger:  log,
		timeout: timeout,
	}
}

// SingleSearchRequest is one name lookup against a task's record set.
type SingleSearchRequest struct {
	TaskID     string   `json:"task_id" binding:"required"`
	Query      string   `json:"query"`
	Columns    []string `json:"columns"`
	Algorithm  string   `json:"algorithm"`
	Threshold  *int     `json:"threshold"` // omitted means the configured default
	MaxResults int      `json:"max_results"`
}

// SingleSearchResponse carries the scored matches plus the parameters the
// search actually ran with after defaults were applied.
type SingleSearchResponse struct {
	TaskID    string        `json:"task_id"`
	Query     string        `json:"query"`
	Algorithm string        `json:"algorithm"`
	Threshold int           `json:"threshold"`
	Results   []MatchResult `json:"results"`
	Total     int           `json:"total"`
}

// BulkSearchRequest looks up many names against one record set in a single
// call, sharing columns, algorithm and threshold across all queries.
type BulkSearchRequest struct {
	TaskID     string   `json:"task_id" binding:"required"`
	Queries    []string `json:"queries"`
	Columns    []string `json:"columns"`
	Algorithm  string   `json:"algorithm"`
	Threshold  *int     `json:"threshold"` // omitted means the configured default
	MaxResults int      `json:"max_results"`
}

// BulkSearchResponse maps each query to its own result list.
type BulkSearchResponse struct {
	TaskID    string                   `json:"task_id"`
	Algorithm string                   `json:"algorithm"`
	Threshold int                      `json:"threshold"`
	Results   map[string][]MatchResult `json:"results"`
	Total     int                      `json:"total"`
}

// SingleSearch validates ownership and task state, loads the record set, runs
// the match and records a history entry. A zero-match outcome is a valid,
// recorded search.
func (s *SearchService) SingleSearch(ctx context.Context, ownerID string, req *SingleSearchRequest) (*SingleSearchResponse, error) {
	task, rs, err := s.prepare(ctx, ownerID, req.TaskID)
	if err != nil {
		return nil, err
	}

	q := MatchQuery{
		Query:      req.Query,
		Columns:    req.Columns,
		Algorithm:  req.Algorithm,
		Threshold:  req.Threshold,
		MaxResults: req.MaxResults,
	}
	algorithm, threshold := s.effectiveParams(req.Algorithm, req.Threshold)

	searchCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	results, err := s.matcher.Search(searchCtx, q, rs)
	if err != nil {
		return nil, err
	}

	topScore := 0
	if len(results) > 0 {
		topScore = results[0].Score
	}
	s.record(ctx, RecordSearch{
		OwnerID:     ownerID,
		TaskID:      task.ID,
		SearchType:  domain.SearchTypeSingle,
		QueryNames:  []string{req.Query},
		ColumnsUsed: s.columnsUsed(req.Columns, rs),
		Algorithm:   algorithm,
		Threshold:   threshold,
		ResultCount: len(results),
		TopScore:    topScore,
	})

	return &SingleSearchResponse{
		TaskID:    task.ID,
		Query:     req.Query,
		Algorithm: algorithm,
		Threshold: threshold,
		Results:   results,
		Total:     len(results),
	}, nil
}

// BulkSearch runs every query in the request against the task's record set
// and records a single bulk history entry covering all of them.
func (s *SearchService) BulkSearch(ctx context.Context, ownerID string, req *BulkSearchRequest) (*BulkSearchResponse, error) {
	task, rs, err := s.prepare(ctx, ownerID, req.TaskID)
	if err != nil {
		return nil, err
	}

	base := MatchQuery{
		Columns:    req.Columns,
		Algorithm:  req.Algorithm,
		Threshold:  req.Threshold,
		MaxResults: req.MaxResults,
	}
	algorithm, threshold := s.effectiveParams(req.Algorithm, req.Threshold)

	searchCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	resultMap, err := s.matcher.BulkSearch(searchCtx, req.Queries, base, rs)
	if err != nil {
		return nil, err
	}

	total := 0
	topScore := 0
	for _, results := range resultMap {
		total += len(results)
		if len(results) > 0 && results[0].Score > topScore {
			topScore = results[0].Score
		}
	}
	s.record(ctx, RecordSearch{
		OwnerID:     ownerID,
		TaskID:      task.ID,
		SearchType:  domain.SearchTypeBulk,
		QueryNames:  req.Queries,
		ColumnsUsed: s.columnsUsed(req.Columns, rs),
		Algorithm:   algorithm,
		Threshold:   threshold,
		ResultCount: total,
		TopScore:    topScore,
	})

	return &BulkSearchResponse{
		TaskID:    task.ID,
		Algorithm: algorithm,
		Threshold: threshold,
		Results:   resultMap,
		Total:     total,
	}, nil
}

// Columns returns the searchable column schema of a completed task.
func (s *SearchService) Columns(ctx context.Context, ownerID, taskID string) ([]string, error) {
	task, err := s.loadTask(ctx, ownerID, taskID)
	if err != nil {
		return nil, err
	}
	if task.Status != domain.TaskStatusCompleted {
		return nil, &domain.ValidationError{Field: "task_id", Detail: "task has no record set yet"}
	}
	return task.ColumnSchema, nil
}

// prepare resolves the task, enforces ownership and completion, and loads the
// record set to search against.
func (s *SearchService) prepare(ctx context.Context, ownerID, taskID string) (*domain.Task, *domain.RecordSet, error) {
	task, err := s.loadTask(ctx, ownerID, taskID)
	if err != nil {
		return nil, nil, err
	}
	if task.Status != domain.TaskStatusCompleted {
		return nil, nil, &domain.ValidationError{
			Field:  "task_id",
			Detail: "task is not completed; only completed tasks can be searched",
		}
	}
	rs, err := s.records.Load(ctx, task.ResultRef)
	if err != nil {
		return nil, nil, err
	}
	return task, rs, nil
}

func (s *SearchService) loadTask(ctx context.Context, ownerID, taskID string) (*domain.Task, error) {
	if taskID == "" {
		return nil, &domain.ValidationError{Field: "task_id", Detail: "task_id is required"}
	}
	task, err := s.tasks.GetByID(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if ownerID != "" && task.OwnerID != ownerID {
		return nil, domain.ErrAccessDenied
	}
	return task, nil
}

// record appends a history entry. Tracking failures never fail the search.
func (s *SearchService) record(ctx context.Context, rec RecordSearch) {
	if _, err := s.tracker.Record(ctx, rec); err != nil {
		s.logger.WithError(err).WithField(logger.FieldTaskID, rec.TaskID).
			Warn("Failed to record search history entry")
	}
}

func (s *SearchService) effectiveParams(algorithm string, threshold *int) (string, int) {
	if algorithm == "" {
		algorithm = s.matcher.cfg.DefaultAlgorithm
	}
	effective := s.matcher.cfg.DefaultThreshold
	if threshold != nil {
		effective = *threshold
	}
	return algorithm, effective
}

func (s *SearchService) columnsUsed(requested []string, rs *domain.RecordSet) []string {
	if len(requested) > 0 {
		return requested
	}
	return rs.Schema
}
