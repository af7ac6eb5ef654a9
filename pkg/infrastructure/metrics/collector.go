// Package metrics provides metrics collection for the console service.
package metrics

import (
	"time"
)

// Metric names shared by the layers that report them.
const (
	QueriesListed          = "console_queries_listed_total"
	QueriesVerified        = "console_queries_verified_total"
	StatusClassifications  = "console_status_classifications_total"
	APIKeysGenerated       = "console_api_keys_generated_total"
	APIKeyGenerationErrors = "console_api_key_generation_errors_total"
	APIKeysRevoked         = "console_api_keys_revoked_total"
	QueryDisplayStatus     = "console_query_display_status"
	QueryUnclassifiable    = "console_query_unclassifiable"
	CensusRuns             = "console_census_runs_total"
	CacheHits              = "console_cache_hits_total"
	CacheMisses            = "console_cache_misses_total"
	FlightStreams          = "console_flight_streams_total"
	FlightActions          = "console_flight_actions_total"
	FlightErrors           = "console_flight_errors_total"
	ArrowBytesInUse        = "console_arrow_bytes_in_use"
	ArrowBytesPeak         = "console_arrow_bytes_peak"
	PoolAcquireSeconds     = "console_pool_acquire_seconds"
	PoolOpenConnections    = "console_pool_active_connections"
	PoolHealthy            = "console_pool_healthy"
)

// Collector defines the interface for collecting metrics. Labels are given
// as alternating name, value pairs and must use the same names on every
// call for a metric.
type Collector interface {
	// IncrementCounter increments a counter metric.
	IncrementCounter(name string, labels ...string)

	// RecordHistogram records a value in a histogram metric.
	RecordHistogram(name string, value float64, labels ...string)

	// RecordGauge records a gauge metric value.
	RecordGauge(name string, value float64, labels ...string)

	// StartTimer starts a timer for measuring duration.
	StartTimer(name string) Timer
}

// Timer represents a timing measurement.
type Timer interface {
	// Stop stops the timer and returns the duration in seconds.
	Stop() float64
}

// NoOpCollector is a no-op implementation of Collector.
type NoOpCollector struct{}

// NewNoOpCollector creates a new no-op collector.
func NewNoOpCollector() Collector {
	return &NoOpCollector{}
}

// IncrementCounter does nothing.
func (n *NoOpCollector) IncrementCounter(name string, labels ...string) {}

// RecordHistogram does nothing.
func (n *NoOpCollector) RecordHistogram(name string, value float64, labels ...string) {}

// RecordGauge does nothing.
func (n *NoOpCollector) RecordGauge(name string, value float64, labels ...string) {}

// StartTimer returns a timer that only measures.
func (n *NoOpCollector) StartTimer(name string) Timer {
	return &noOpTimer{start: time.Now()}
}

type noOpTimer struct {
	start time.Time
}

// Stop returns the elapsed time in seconds.
func (t *noOpTimer) Stop() float64 {
	return time.Since(t.start).Seconds()
}
