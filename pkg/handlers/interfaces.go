// Package handlers turns service results into Arrow Flight streams and
// action payloads.
package handlers

import (
	"context"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/flight"

	"github.com/dataherald/console/pkg/models"
	"github.com/dataherald/console/pkg/querystatus"
	"github.com/dataherald/console/pkg/services"
)

// QueryHandler handles query-related operations.
type QueryHandler interface {
	// ListQueries streams classified query views.
	ListQueries(ctx context.Context, opts models.ListQueriesOptions) (*arrow.Schema, <-chan flight.StreamChunk, error)

	// GetQuery streams a single query with its full detail.
	GetQuery(ctx context.Context, id string) (*arrow.Schema, <-chan flight.StreamChunk, error)

	// VerifyQuery marks a query as verified.
	VerifyQuery(ctx context.Context, id string) (*models.QueryView, error)

	// MarkSQLError records a SQL failure on a query.
	MarkSQLError(ctx context.Context, id string, message string) (*models.QueryView, error)

	// ClassifyStatus describes a raw status and score.
	ClassifyStatus(raw querystatus.RawStatus, score float64) (querystatus.Presentation, error)

	// StatusCensus counts stored queries per display status.
	StatusCensus(ctx context.Context) (*models.StatusCensus, error)
}

// APIKeyHandler handles API key operations.
type APIKeyHandler interface {
	// ListAPIKeys streams key metadata.
	ListAPIKeys(ctx context.Context) (*arrow.Schema, <-chan flight.StreamChunk, error)

	// Generate creates a key and returns its secret.
	Generate(ctx context.Context, name string) (*models.GeneratedAPIKey, error)

	// Revoke deletes a key.
	Revoke(ctx context.Context, id string) error
}

// Logger defines the logging interface.
type Logger = services.Logger

// MetricsCollector defines the metrics interface.
type MetricsCollector = services.MetricsCollector

// Timer represents a timing measurement.
type Timer = services.Timer
