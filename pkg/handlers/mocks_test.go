package handlers

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/dataherald/console/pkg/models"
	"github.com/dataherald/console/pkg/querystatus"
	"github.com/dataherald/console/pkg/services"
)

// MockQueryService is a mock implementation of services.QueryService
type MockQueryService struct {
	mock.Mock
}

func (m *MockQueryService) List(ctx context.Context, opts models.ListQueriesOptions) ([]models.QueryView, error) {
	args := m.Called(ctx, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.QueryView), args.Error(1)
}

func (m *MockQueryService) Get(ctx context.Context, id string) (*models.QueryDetail, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.QueryDetail), args.Error(1)
}

func (m *MockQueryService) Verify(ctx context.Context, id string) (*models.QueryView, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.QueryView), args.Error(1)
}

func (m *MockQueryService) MarkSQLError(ctx context.Context, id string, message string) (*models.QueryView, error) {
	args := m.Called(ctx, id, message)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.QueryView), args.Error(1)
}

func (m *MockQueryService) Classify(raw querystatus.RawStatus, score float64) (querystatus.Presentation, error) {
	args := m.Called(raw, score)
	return args.Get(0).(querystatus.Presentation), args.Error(1)
}

func (m *MockQueryService) Census(ctx context.Context) (*models.StatusCensus, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.StatusCensus), args.Error(1)
}

func (m *MockQueryService) Import(ctx context.Context, queries []*models.Query) (int, error) {
	args := m.Called(ctx, queries)
	return args.Int(0), args.Error(1)
}

// MockAPIKeyService is a mock implementation of services.APIKeyService
type MockAPIKeyService struct {
	mock.Mock
}

func (m *MockAPIKeyService) Generate(ctx context.Context, name string) (*models.GeneratedAPIKey, error) {
	args := m.Called(ctx, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.GeneratedAPIKey), args.Error(1)
}

func (m *MockAPIKeyService) Authenticate(ctx context.Context, key string) (*models.APIKey, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.APIKey), args.Error(1)
}

func (m *MockAPIKeyService) List(ctx context.Context) ([]*models.APIKey, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.APIKey), args.Error(1)
}

func (m *MockAPIKeyService) Revoke(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

var (
	_ services.QueryService  = (*MockQueryService)(nil)
	_ services.APIKeyService = (*MockAPIKeyService)(nil)
)

type nopLogger struct{}

func (nopLogger) Debug(msg string, keysAndValues ...interface{}) {}
func (nopLogger) Info(msg string, keysAndValues ...interface{})  {}
func (nopLogger) Warn(msg string, keysAndValues ...interface{})  {}
func (nopLogger) Error(msg string, keysAndValues ...interface{}) {}

type nopMetrics struct{}

func (nopMetrics) IncrementCounter(name string, labels ...string)               {}
func (nopMetrics) RecordHistogram(name string, value float64, labels ...string) {}
func (nopMetrics) RecordGauge(name string, value float64, labels ...string)     {}
func (nopMetrics) StartTimer(name string) Timer                                 { return nopTimer{} }

type nopTimer struct{}

func (nopTimer) Stop() time.Duration { return 0 }
