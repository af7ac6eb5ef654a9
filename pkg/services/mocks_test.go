package services

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/dataherald/console/pkg/models"
	"github.com/dataherald/console/pkg/querystatus"
)

// mockQueryRepo implements repositories.QueryRepository
type mockQueryRepo struct {
	upsertFunc       func(ctx context.Context, q *models.Query) error
	getFunc          func(ctx context.Context, id string) (*models.Query, error)
	listFunc         func(ctx context.Context, opts models.ListQueriesOptions) ([]models.QueryListItem, error)
	updateStatusFunc func(ctx context.Context, id string, status querystatus.RawStatus, msg string) error
	countFunc        func(ctx context.Context) (int64, error)
	scanFunc         func(ctx context.Context, fn func(querystatus.RawStatus, float64)) error
}

func (m *mockQueryRepo) Upsert(ctx context.Context, q *models.Query) error {
	return m.upsertFunc(ctx, q)
}

func (m *mockQueryRepo) Get(ctx context.Context, id string) (*models.Query, error) {
	return m.getFunc(ctx, id)
}

func (m *mockQueryRepo) List(ctx context.Context, opts models.ListQueriesOptions) ([]models.QueryListItem, error) {
	return m.listFunc(ctx, opts)
}

func (m *mockQueryRepo) UpdateStatus(ctx context.Context, id string, status querystatus.RawStatus, msg string) error {
	return m.updateStatusFunc(ctx, id, status, msg)
}

func (m *mockQueryRepo) Count(ctx context.Context) (int64, error) {
	return m.countFunc(ctx)
}

func (m *mockQueryRepo) ScanStatuses(ctx context.Context, fn func(querystatus.RawStatus, float64)) error {
	return m.scanFunc(ctx, fn)
}

// mockAPIKeyRepo implements repositories.APIKeyRepository
type mockAPIKeyRepo struct {
	insertFunc    func(ctx context.Context, key *models.APIKey) error
	getByHashFunc func(ctx context.Context, hash string) (*models.APIKey, error)
	listFunc      func(ctx context.Context) ([]*models.APIKey, error)
	deleteFunc    func(ctx context.Context, id string) error
	touchFunc     func(ctx context.Context, id string, at time.Time) error
}

func (m *mockAPIKeyRepo) Insert(ctx context.Context, key *models.APIKey) error {
	return m.insertFunc(ctx, key)
}

func (m *mockAPIKeyRepo) GetByHash(ctx context.Context, hash string) (*models.APIKey, error) {
	return m.getByHashFunc(ctx, hash)
}

func (m *mockAPIKeyRepo) List(ctx context.Context) ([]*models.APIKey, error) {
	return m.listFunc(ctx)
}

func (m *mockAPIKeyRepo) Delete(ctx context.Context, id string) error {
	return m.deleteFunc(ctx, id)
}

func (m *mockAPIKeyRepo) Touch(ctx context.Context, id string, at time.Time) error {
	return m.touchFunc(ctx, id, at)
}

// mockLogger implements Logger
type mockLogger struct {
	mu       sync.Mutex
	messages []string
}

func (m *mockLogger) record(level, msg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, level+" "+msg)
}

func (m *mockLogger) Debug(msg string, keysAndValues ...interface{}) { m.record("debug", msg) }
func (m *mockLogger) Info(msg string, keysAndValues ...interface{})  { m.record("info", msg) }
func (m *mockLogger) Warn(msg string, keysAndValues ...interface{})  { m.record("warn", msg) }
func (m *mockLogger) Error(msg string, keysAndValues ...interface{}) { m.record("error", msg) }

func (m *mockLogger) has(prefix string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range m.messages {
		if strings.HasPrefix(msg, prefix) {
			return true
		}
	}
	return false
}

// mockMetricsCollector implements MetricsCollector and remembers what was
// reported.
type mockMetricsCollector struct {
	mu       sync.Mutex
	counters map[string]int
	gauges   map[string]float64
}

func newMockMetrics() *mockMetricsCollector {
	return &mockMetricsCollector{
		counters: make(map[string]int),
		gauges:   make(map[string]float64),
	}
}

func (m *mockMetricsCollector) key(name string, labels []string) string {
	return strings.Join(append([]string{name}, labels...), "|")
}

func (m *mockMetricsCollector) IncrementCounter(name string, labels ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[m.key(name, labels)]++
}

func (m *mockMetricsCollector) RecordHistogram(name string, value float64, labels ...string) {}

func (m *mockMetricsCollector) RecordGauge(name string, value float64, labels ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gauges[m.key(name, labels)] = value
}

func (m *mockMetricsCollector) StartTimer(name string) Timer {
	return &mockTimer{}
}

func (m *mockMetricsCollector) counter(name string, labels ...string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters[m.key(name, labels)]
}

func (m *mockMetricsCollector) gauge(name string, labels ...string) (float64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.gauges[m.key(name, labels)]
	return v, ok
}

// mockTimer implements Timer
type mockTimer struct{}

func (m *mockTimer) Stop() time.Duration {
	return 0
}
