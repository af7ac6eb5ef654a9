package main

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/dataherald/console/pkg/infrastructure/metrics"
	"github.com/dataherald/console/pkg/services"
)

// loggerAdapter adapts zerolog to the handlers/services Logger interface.
type loggerAdapter struct {
	logger zerolog.Logger
}

func newLoggerAdapter(logger zerolog.Logger, component string) *loggerAdapter {
	return &loggerAdapter{logger: logger.With().Str("component", component).Logger()}
}

func (l *loggerAdapter) Debug(msg string, keysAndValues ...interface{}) {
	event := l.logger.Debug()
	l.addFields(event, keysAndValues...)
	event.Msg(msg)
}

func (l *loggerAdapter) Info(msg string, keysAndValues ...interface{}) {
	event := l.logger.Info()
	l.addFields(event, keysAndValues...)
	event.Msg(msg)
}

func (l *loggerAdapter) Warn(msg string, keysAndValues ...interface{}) {
	event := l.logger.Warn()
	l.addFields(event, keysAndValues...)
	event.Msg(msg)
}

func (l *loggerAdapter) Error(msg string, keysAndValues ...interface{}) {
	event := l.logger.Error()
	l.addFields(event, keysAndValues...)
	event.Msg(msg)
}

func (l *loggerAdapter) addFields(event *zerolog.Event, keysAndValues ...interface{}) {
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", keysAndValues[i])
		}

		switch v := keysAndValues[i+1].(type) {
		case string:
			event.Str(key, v)
		case int:
			event.Int(key, v)
		case int64:
			event.Int64(key, v)
		case float64:
			event.Float64(key, v)
		case bool:
			event.Bool(key, v)
		case error:
			event.AnErr(key, v)
		case time.Duration:
			event.Dur(key, v)
		case time.Time:
			event.Time(key, v)
		case fmt.Stringer:
			event.Stringer(key, v)
		default:
			event.Interface(key, v)
		}
	}
}

// serviceMetricsAdapter adapts metrics.Collector to the
// services.MetricsCollector interface, which handlers share.
type serviceMetricsAdapter struct {
	collector metrics.Collector
}

func (m *serviceMetricsAdapter) IncrementCounter(name string, labels ...string) {
	m.collector.IncrementCounter(name, labels...)
}

func (m *serviceMetricsAdapter) RecordHistogram(name string, value float64, labels ...string) {
	m.collector.RecordHistogram(name, value, labels...)
}

func (m *serviceMetricsAdapter) RecordGauge(name string, value float64, labels ...string) {
	m.collector.RecordGauge(name, value, labels...)
}

func (m *serviceMetricsAdapter) StartTimer(name string) services.Timer {
	return &serviceTimerAdapter{timer: m.collector.StartTimer(name)}
}

// serviceTimerAdapter adapts metrics.Timer to services.Timer.
type serviceTimerAdapter struct {
	timer metrics.Timer
}

func (t *serviceTimerAdapter) Stop() time.Duration {
	return time.Duration(t.timer.Stop() * float64(time.Second))
}

// poolMetricsAdapter reports connection pool activity.
type poolMetricsAdapter struct {
	collector metrics.Collector
}

func (m *poolMetricsAdapter) RecordConnectionAcquisition(duration time.Duration) {
	m.collector.RecordHistogram(metrics.PoolAcquireSeconds, duration.Seconds())
}

func (m *poolMetricsAdapter) UpdateActiveConnections(count int) {
	m.collector.RecordGauge(metrics.PoolOpenConnections, float64(count))
}

func (m *poolMetricsAdapter) RecordHealth(healthy bool) {
	v := 0.0
	if healthy {
		v = 1
	}
	m.collector.RecordGauge(metrics.PoolHealthy, v)
}
