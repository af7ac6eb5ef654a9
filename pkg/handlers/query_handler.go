package handlers

import (
	"context"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/dataherald/console/pkg/models"
	"github.com/dataherald/console/pkg/querystatus"
	"github.com/dataherald/console/pkg/services"
)

// queryHandler implements QueryHandler.
type queryHandler struct {
	queryService services.QueryService
	allocator    memory.Allocator
	logger       Logger
	metrics      MetricsCollector
}

// NewQueryHandler creates a new query handler.
func NewQueryHandler(
	queryService services.QueryService,
	allocator memory.Allocator,
	logger Logger,
	metrics MetricsCollector,
) QueryHandler {
	return &queryHandler{
		queryService: queryService,
		allocator:    allocator,
		logger:       logger,
		metrics:      metrics,
	}
}

// ListQueries streams classified query views as one record batch.
func (h *queryHandler) ListQueries(ctx context.Context, opts models.ListQueriesOptions) (*arrow.Schema, <-chan flight.StreamChunk, error) {
	timer := h.metrics.StartTimer("handler_list_queries")
	defer timer.Stop()

	views, err := h.queryService.List(ctx, opts)
	if err != nil {
		h.metrics.IncrementCounter("handler_query_errors")
		return nil, nil, err
	}

	rec := models.QueryViewsToRecord(h.allocator, views)
	h.metrics.RecordHistogram("handler_query_rows", float64(len(views)))
	h.logger.Debug("Streaming query views", "rows", len(views))
	return rec.Schema(), singleChunk(rec), nil
}

// GetQuery streams one query detail row.
func (h *queryHandler) GetQuery(ctx context.Context, id string) (*arrow.Schema, <-chan flight.StreamChunk, error) {
	timer := h.metrics.StartTimer("handler_get_query")
	defer timer.Stop()

	detail, err := h.queryService.Get(ctx, id)
	if err != nil {
		h.metrics.IncrementCounter("handler_query_errors")
		return nil, nil, err
	}

	rec, err := models.QueryDetailToRecord(h.allocator, detail)
	if err != nil {
		h.logger.Error("Failed to build query record", "query_id", id, "error", err)
		return nil, nil, err
	}
	return rec.Schema(), singleChunk(rec), nil
}

// VerifyQuery marks a query as verified.
func (h *queryHandler) VerifyQuery(ctx context.Context, id string) (*models.QueryView, error) {
	return h.queryService.Verify(ctx, id)
}

// MarkSQLError records a SQL failure on a query.
func (h *queryHandler) MarkSQLError(ctx context.Context, id string, message string) (*models.QueryView, error) {
	return h.queryService.MarkSQLError(ctx, id, message)
}

// ClassifyStatus describes a raw status and score.
func (h *queryHandler) ClassifyStatus(raw querystatus.RawStatus, score float64) (querystatus.Presentation, error) {
	return h.queryService.Classify(raw, score)
}

// StatusCensus counts stored queries per display status.
func (h *queryHandler) StatusCensus(ctx context.Context) (*models.StatusCensus, error) {
	return h.queryService.Census(ctx)
}
