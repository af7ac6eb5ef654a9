// Package pool owns the DuckDB handle that stores queries and API keys.
package pool

import (
	"context"
	"database/sql"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "github.com/marcboeker/go-duckdb/v2"
	"github.com/rs/zerolog"

	"github.com/dataherald/console/pkg/errors"
)

// Health is the outcome of the last probe.
type Health string

const (
	HealthUnknown   Health = "unknown"
	HealthHealthy   Health = "healthy"
	HealthUnhealthy Health = "unhealthy"
)

// Config represents pool configuration.
type Config struct {
	DSN                string        `json:"dsn" yaml:"dsn"`
	MaxOpenConnections int           `json:"max_open_connections" yaml:"max_open_connections"`
	MaxIdleConnections int           `json:"max_idle_connections" yaml:"max_idle_connections"`
	ConnMaxLifetime    time.Duration `json:"conn_max_lifetime" yaml:"conn_max_lifetime"`
	ConnMaxIdleTime    time.Duration `json:"conn_max_idle_time" yaml:"conn_max_idle_time"`
	HealthCheckPeriod  time.Duration `json:"health_check_period" yaml:"health_check_period"`
	// ConnectionTimeout bounds opening the database, including waits for a
	// file lock held by another console process.
	ConnectionTimeout time.Duration `json:"connection_timeout" yaml:"connection_timeout"`
}

func (c Config) withDefaults() Config {
	if c.DSN == "" {
		c.DSN = ":memory:"
	}
	if c.MaxOpenConnections <= 0 {
		c.MaxOpenConnections = 25
	}
	if c.MaxIdleConnections <= 0 {
		c.MaxIdleConnections = 5
	}
	if c.ConnMaxLifetime <= 0 {
		c.ConnMaxLifetime = 30 * time.Minute
	}
	if c.ConnMaxIdleTime <= 0 {
		c.ConnMaxIdleTime = 10 * time.Minute
	}
	if c.ConnectionTimeout <= 0 {
		c.ConnectionTimeout = 30 * time.Second
	}
	return c
}

// ConnectionPool hands out the shared *sql.DB.
type ConnectionPool interface {
	Get(ctx context.Context) (*sql.DB, error)
	Stats() PoolStats
	HealthCheck(ctx context.Context) error
	// Close closes the database. Closing twice is a no-op.
	Close() error
	SetMetricsCollector(collector MetricsCollector)
}

// MetricsCollector receives pool activity.
type MetricsCollector interface {
	RecordConnectionAcquisition(duration time.Duration)
	UpdateActiveConnections(count int)
	RecordHealth(healthy bool)
}

// PoolStats is a snapshot of pool usage.
type PoolStats struct {
	OpenConnections int           `json:"open_connections"`
	InUse           int           `json:"in_use"`
	Idle            int           `json:"idle"`
	Acquisitions    int64         `json:"acquisitions"`
	AcquireTime     time.Duration `json:"acquire_time"`
	LastHealthCheck time.Time     `json:"last_health_check"`
	Health          Health        `json:"health"`
}

type connectionPool struct {
	db     *sql.DB
	config Config
	logger zerolog.Logger
	stop   context.CancelFunc
	closed atomic.Bool

	acquisitions atomic.Int64
	acquireNanos atomic.Int64

	mu        sync.RWMutex
	collector MetricsCollector
	health    Health
	checkedAt time.Time
}

// New opens the database named by cfg.DSN and probes it. An empty DSN opens
// an in-memory database. A database file locked by another process is
// retried until cfg.ConnectionTimeout elapses.
func New(cfg Config, logger zerolog.Logger) (ConnectionPool, error) {
	cfg = cfg.withDefaults()

	logger.Info().
		Str("dsn", maskDSN(cfg.DSN)).
		Int("max_open", cfg.MaxOpenConnections).
		Int("max_idle", cfg.MaxIdleConnections).
		Msg("Opening DuckDB database")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectionTimeout)
	defer cancel()

	var db *sql.DB
	open := func() error {
		var err error
		db, err = openDB(ctx, cfg)
		if err != nil && !isLockConflict(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		logger.Warn().Err(err).Dur("retry_in", wait).Msg("Database is locked, retrying")
	}
	if err := backoff.RetryNotify(open, backoff.WithContext(backoff.NewExponentialBackOff(), ctx), notify); err != nil {
		return nil, errors.Wrap(err, errors.CodeConnectionFailed, "failed to open database")
	}

	p := &connectionPool{
		db:     db,
		config: cfg,
		logger: logger,
		health: HealthHealthy,
	}
	p.checkedAt = time.Now()

	if cfg.HealthCheckPeriod > 0 {
		var probeCtx context.Context
		probeCtx, p.stop = context.WithCancel(context.Background())
		go p.probe(probeCtx)
	}
	return p, nil
}

func openDB(ctx context.Context, cfg Config) (*sql.DB, error) {
	db, err := sql.Open("duckdb", cfg.DSN)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(cfg.MaxOpenConnections)
	db.SetMaxIdleConns(cfg.MaxIdleConnections)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := ping(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func ping(ctx context.Context, db *sql.DB) error {
	var one int
	return db.QueryRowContext(ctx, "SELECT 1").Scan(&one)
}

// isLockConflict reports whether DuckDB refused the file because another
// process holds its write lock.
func isLockConflict(err error) bool {
	return strings.Contains(err.Error(), "Could not set lock")
}

func (p *connectionPool) Get(ctx context.Context) (*sql.DB, error) {
	if p.closed.Load() {
		return nil, errors.New(errors.CodeUnavailable, "connection pool is closed")
	}

	start := time.Now()
	err := p.db.PingContext(ctx)
	elapsed := time.Since(start)
	p.acquisitions.Add(1)
	p.acquireNanos.Add(int64(elapsed))

	c := p.metrics()
	if c != nil {
		c.RecordConnectionAcquisition(elapsed)
	}
	if err != nil {
		p.logger.Error().Err(err).Msg("Database ping failed")
		return nil, errors.Wrap(err, errors.CodeConnectionFailed, "database connection failed")
	}
	if c != nil {
		c.UpdateActiveConnections(p.db.Stats().OpenConnections)
	}
	return p.db, nil
}

func (p *connectionPool) Stats() PoolStats {
	s := p.db.Stats()
	p.mu.RLock()
	defer p.mu.RUnlock()
	return PoolStats{
		OpenConnections: s.OpenConnections,
		InUse:           s.InUse,
		Idle:            s.Idle,
		Acquisitions:    p.acquisitions.Load(),
		AcquireTime:     time.Duration(p.acquireNanos.Load()),
		LastHealthCheck: p.checkedAt,
		Health:          p.health,
	}
}

func (p *connectionPool) SetMetricsCollector(collector MetricsCollector) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.collector = collector
}

func (p *connectionPool) metrics() MetricsCollector {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.collector
}

// HealthCheck runs a trivial query and records the outcome.
func (p *connectionPool) HealthCheck(ctx context.Context) error {
	if p.closed.Load() {
		return errors.New(errors.CodeUnavailable, "connection pool is closed")
	}

	err := ping(ctx, p.db)
	p.setHealth(err)
	if err != nil {
		return errors.Wrap(err, errors.CodeConnectionFailed, "health check failed")
	}
	return nil
}

func (p *connectionPool) setHealth(err error) {
	next := HealthHealthy
	if err != nil {
		next = HealthUnhealthy
	}

	p.mu.Lock()
	prev := p.health
	p.health = next
	p.checkedAt = time.Now()
	c := p.collector
	p.mu.Unlock()

	if c != nil {
		c.RecordHealth(next == HealthHealthy)
	}
	if prev != next {
		event := p.logger.Info()
		if err != nil {
			event = p.logger.Warn().Err(err)
		}
		event.Str("from", string(prev)).Str("to", string(next)).Msg("Database health changed")
	}
}

func (p *connectionPool) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	if p.stop != nil {
		p.stop()
	}
	p.logger.Info().Msg("Closing DuckDB database")
	if err := p.db.Close(); err != nil {
		return errors.Wrap(err, errors.CodeInternal, "failed to close database")
	}
	return nil
}

func (p *connectionPool) probe(ctx context.Context) {
	ticker := time.NewTicker(p.config.HealthCheckPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			_ = p.HealthCheck(probeCtx)
			cancel()
		}
	}
}

// maskDSN redacts credentials before a DSN is logged. DuckDB DSNs are file
// paths, optionally followed by settings such as motherduck_token.
func maskDSN(dsn string) string {
	path, rawQuery, found := strings.Cut(dsn, "?")
	if !found {
		return dsn
	}

	q, err := url.ParseQuery(rawQuery)
	if err != nil {
		return path + "?*****"
	}
	for k := range q {
		if isSensitiveKey(k) {
			q.Set(k, "*****")
		}
	}
	return path + "?" + q.Encode()
}

func isSensitiveKey(key string) bool {
	key = strings.ToLower(key)
	return strings.Contains(key, "pass") ||
		strings.Contains(key, "token") ||
		strings.Contains(key, "secret") ||
		strings.HasSuffix(key, "key")
}
