package services

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dataherald/console/pkg/errors"
	"github.com/dataherald/console/pkg/infrastructure/metrics"
	"github.com/dataherald/console/pkg/models"
	"github.com/dataherald/console/pkg/querystatus"
	"github.com/dataherald/console/pkg/repositories"
)

// displayRaw maps each display status to the raw status it is derived from.
var displayRaw = map[querystatus.DisplayStatus]querystatus.RawStatus{
	querystatus.DisplaySQLError:  querystatus.SQLError,
	querystatus.LowConfidence:    querystatus.NotVerified,
	querystatus.MediumConfidence: querystatus.NotVerified,
	querystatus.HighConfidence:   querystatus.NotVerified,
	querystatus.DisplayVerified:  querystatus.Verified,
}

// queryService implements QueryService.
type queryService struct {
	repo    repositories.QueryRepository
	logger  Logger
	metrics MetricsCollector
	now     func() time.Time
}

// NewQueryService creates a new query service.
func NewQueryService(
	repo repositories.QueryRepository,
	logger Logger,
	metrics MetricsCollector,
) QueryService {
	return &queryService{
		repo:    repo,
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
	}
}

// List returns classified queries. The display status filter is applied
// after classification, so a listed query always carries the display
// status it was selected by.
func (s *queryService) List(ctx context.Context, opts models.ListQueriesOptions) ([]models.QueryView, error) {
	timer := s.metrics.StartTimer("query_list")
	defer timer.Stop()

	opts = opts.Normalize()
	if opts.Status != "" && !opts.Status.Valid() {
		return nil, errors.Newf(errors.CodeInvalidRequest, "unknown status filter %q", opts.Status)
	}

	s.logger.Debug("Listing queries",
		"status", opts.Status,
		"display_status", opts.DisplayStatus,
		"limit", opts.Limit,
		"offset", opts.Offset)

	var (
		views []models.QueryView
		err   error
	)
	if opts.DisplayStatus == "" {
		views, err = s.listRaw(ctx, opts)
	} else {
		views, err = s.listDisplay(ctx, opts)
	}
	if err != nil {
		s.logger.Error("Failed to list queries", "error", err)
		return nil, err
	}

	s.metrics.IncrementCounter(metrics.QueriesListed)
	return views, nil
}

func (s *queryService) listRaw(ctx context.Context, opts models.ListQueriesOptions) ([]models.QueryView, error) {
	items, err := s.repo.List(ctx, opts)
	if err != nil {
		return nil, err
	}
	views := make([]models.QueryView, 0, len(items))
	for _, item := range items {
		views = append(views, models.NewQueryView(item))
	}
	return views, nil
}

// listDisplay pages through the raw status the display status derives from
// and keeps the items that classify to it.
func (s *queryService) listDisplay(ctx context.Context, opts models.ListQueriesOptions) ([]models.QueryView, error) {
	raw, ok := displayRaw[opts.DisplayStatus]
	if !ok {
		return nil, errors.Newf(errors.CodeInvalidRequest, "unknown display status filter %q", opts.DisplayStatus)
	}
	if opts.Status != "" && opts.Status != raw {
		return []models.QueryView{}, nil
	}

	page := models.ListQueriesOptions{
		Status:   raw,
		Username: opts.Username,
		Limit:    models.MaxQueryLimit,
	}
	skip := opts.Offset
	views := make([]models.QueryView, 0, opts.Limit)

	for {
		items, err := s.repo.List(ctx, page)
		if err != nil {
			return nil, err
		}
		for _, item := range items {
			view := models.NewQueryView(item)
			if view.DisplayStatus != opts.DisplayStatus {
				continue
			}
			if skip > 0 {
				skip--
				continue
			}
			views = append(views, view)
			if len(views) == opts.Limit {
				return views, nil
			}
		}
		if len(items) < page.Limit {
			return views, nil
		}
		page.Offset += len(items)
	}
}

// Get returns a query with its presentation.
func (s *queryService) Get(ctx context.Context, id string) (*models.QueryDetail, error) {
	timer := s.metrics.StartTimer("query_get")
	defer timer.Stop()

	if id == "" {
		return nil, errors.New(errors.CodeInvalidRequest, "query id is required")
	}

	q, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	detail := models.NewQueryDetail(q)
	if detail.DisplayStatus == "" {
		s.logger.Warn("Query has an unrecognized status", "query_id", id, "status", q.Status)
	}
	return detail, nil
}

// Verify marks a query as verified.
func (s *queryService) Verify(ctx context.Context, id string) (*models.QueryView, error) {
	timer := s.metrics.StartTimer("query_verify")
	defer timer.Stop()

	view, err := s.setStatus(ctx, id, querystatus.Verified, "")
	if err != nil {
		return nil, err
	}

	s.metrics.IncrementCounter(metrics.QueriesVerified)
	s.logger.Info("Query verified", "query_id", id)
	return view, nil
}

// MarkSQLError records that the SQL of a query failed to run.
func (s *queryService) MarkSQLError(ctx context.Context, id string, message string) (*models.QueryView, error) {
	timer := s.metrics.StartTimer("query_mark_sql_error")
	defer timer.Stop()

	message = strings.TrimSpace(message)
	if message == "" {
		return nil, errors.New(errors.CodeInvalidRequest, "sql error message is required")
	}

	view, err := s.setStatus(ctx, id, querystatus.SQLError, message)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Query marked as SQL error", "query_id", id)
	return view, nil
}

func (s *queryService) setStatus(ctx context.Context, id string, status querystatus.RawStatus, message string) (*models.QueryView, error) {
	if id == "" {
		return nil, errors.New(errors.CodeInvalidRequest, "query id is required")
	}
	if err := s.repo.UpdateStatus(ctx, id, status, message); err != nil {
		if !errors.IsNotFound(err) {
			s.logger.Error("Failed to update query status", "query_id", id, "error", err)
		}
		return nil, err
	}

	q, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	view := models.NewQueryView(q.ListItem())
	return &view, nil
}

// Classify describes a raw status and score. An unrecognized status is an
// invalid request, never a default display status.
func (s *queryService) Classify(raw querystatus.RawStatus, score float64) (querystatus.Presentation, error) {
	p, ok := querystatus.Describe(raw, score)
	if !ok {
		s.metrics.IncrementCounter(metrics.StatusClassifications, "result", "unclassifiable")
		return querystatus.Presentation{}, errors.ErrUnclassifiableStatus.WithDetail("status", string(raw))
	}
	s.metrics.IncrementCounter(metrics.StatusClassifications, "result", string(p.Status))
	return p, nil
}

// Census classifies every stored query and publishes the counts as gauges.
func (s *queryService) Census(ctx context.Context) (*models.StatusCensus, error) {
	timer := s.metrics.StartTimer("query_census")
	defer timer.Stop()

	census := models.NewStatusCensus(s.now().UTC())
	if err := s.repo.ScanStatuses(ctx, census.Add); err != nil {
		s.logger.Error("Failed to take status census", "error", err)
		return nil, err
	}

	for _, status := range querystatus.DisplayStatuses() {
		s.metrics.RecordGauge(metrics.QueryDisplayStatus, float64(census.Counts[status]), "display_status", string(status))
	}
	s.metrics.RecordGauge(metrics.QueryUnclassifiable, float64(census.Unclassifiable))
	s.metrics.IncrementCounter(metrics.CensusRuns)

	if census.Unclassifiable > 0 {
		s.logger.Warn("Queries with unrecognized statuses", "count", census.Unclassifiable)
	}
	s.logger.Debug("Status census taken", "total", census.Total)
	return census, nil
}

// Import stores queries, filling in IDs, statuses and timestamps that are
// missing. Queries with an unrecognized status are stored as given.
func (s *queryService) Import(ctx context.Context, queries []*models.Query) (int, error) {
	timer := s.metrics.StartTimer("query_import")
	defer timer.Stop()

	now := s.now().UTC()
	for i, q := range queries {
		if q == nil {
			return i, errors.Newf(errors.CodeInvalidRequest, "query %d is empty", i)
		}
		if strings.TrimSpace(q.Question) == "" {
			return i, errors.Newf(errors.CodeInvalidRequest, "query %d has no question", i)
		}
		if q.ID == "" {
			q.ID = uuid.New().String()
		}
		if q.Status == "" {
			q.Status = querystatus.NotVerified
		}
		if !q.Status.Valid() {
			s.logger.Warn("Importing query with an unrecognized status", "query_id", q.ID, "status", q.Status)
		}
		if q.QuestionDate.IsZero() {
			q.QuestionDate = now
		}
		if q.LastUpdated.IsZero() {
			q.LastUpdated = now
		}
		if err := s.repo.Upsert(ctx, q); err != nil {
			s.logger.Error("Failed to import query", "query_id", q.ID, "error", err)
			return i, err
		}
	}

	s.logger.Info("Queries imported", "count", len(queries))
	return len(queries), nil
}
