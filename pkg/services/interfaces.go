// Package services contains business logic implementations.
package services

import (
	"context"
	"time"

	"github.com/dataherald/console/pkg/models"
	"github.com/dataherald/console/pkg/querystatus"
)

// QueryService defines operations on generated queries.
type QueryService interface {
	List(ctx context.Context, opts models.ListQueriesOptions) ([]models.QueryView, error)
	Get(ctx context.Context, id string) (*models.QueryDetail, error)
	Verify(ctx context.Context, id string) (*models.QueryView, error)
	MarkSQLError(ctx context.Context, id string, message string) (*models.QueryView, error)
	Classify(raw querystatus.RawStatus, score float64) (querystatus.Presentation, error)
	Census(ctx context.Context) (*models.StatusCensus, error)
	Import(ctx context.Context, queries []*models.Query) (int, error)
}

// APIKeyService defines API key operations.
type APIKeyService interface {
	Generate(ctx context.Context, name string) (*models.GeneratedAPIKey, error)
	Authenticate(ctx context.Context, key string) (*models.APIKey, error)
	List(ctx context.Context) ([]*models.APIKey, error)
	Revoke(ctx context.Context, id string) error
}

// Logger defines logging interface.
type Logger interface {
	Debug(msg string, keysAndValues ...interface{})
	Info(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// MetricsCollector defines metrics collection interface.
type MetricsCollector interface {
	IncrementCounter(name string, labels ...string)
	RecordHistogram(name string, value float64, labels ...string)
	RecordGauge(name string, value float64, labels ...string)
	StartTimer(name string) Timer
}

// Timer represents a timing measurement.
type Timer interface {
	Stop() time.Duration
}
