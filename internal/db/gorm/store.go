// Package gorm provides the GORM-backed relational store (C2): observations, sessions,
// summaries, the knowledge base, and raw-event/rollup tables, running against Postgres with
// the pgvector extension.
package gorm

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Store is the GORM database connection backing C2.
type Store struct {
	healthCacheTime time.Time
	DB              *gorm.DB
	sqlDB           *sql.DB
	metrics         *PoolMetrics
	cachedHealth    *HealthInfo
	EmbeddingDims   int
	healthCacheTTL  time.Duration
	healthCacheMu   sync.RWMutex
}

// Config holds database configuration.
type Config struct {
	DSN           string
	MaxConns      int
	LogLevel      logger.LogLevel
	EmbeddingDims int
}

// NewStore opens a Postgres-backed Store and runs migrations.
func NewStore(cfg Config) (*Store, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{
		Logger:      logger.Default.LogMode(cfg.LogLevel),
		PrepareStmt: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open gorm postgres: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql.DB: %w", err)
	}

	maxConns := cfg.MaxConns
	if maxConns <= 0 {
		maxConns = 8
	}
	sqlDB.SetMaxOpenConns(maxConns)
	sqlDB.SetMaxIdleConns(maxConns)
	sqlDB.SetConnMaxLifetime(time.Hour)
	sqlDB.SetConnMaxIdleTime(10 * time.Minute)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	dims := cfg.EmbeddingDims
	if dims <= 0 {
		dims = 384
	}

	store := &Store{
		DB:             db,
		sqlDB:          sqlDB,
		EmbeddingDims:  dims,
		metrics:        NewPoolMetrics(100),
		healthCacheTTL: 5 * time.Second,
	}

	if err := runMigrations(db, dims); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error { return s.sqlDB.Close() }

// Ping verifies the database connection is alive.
func (s *Store) Ping() error { return s.sqlDB.Ping() }

// GetDB returns the GORM DB instance for standard queries.
func (s *Store) GetDB() *gorm.DB { return s.DB }

// Stats returns database connection pool statistics.
func (s *Store) Stats() sql.DBStats { return s.sqlDB.Stats() }

// HealthCheck performs a health check with latency measurement, cached for healthCacheTTL
// to avoid hammering the database from frequent monitoring callers.
func (s *Store) HealthCheck(ctx context.Context) *HealthInfo {
	s.healthCacheMu.RLock()
	if s.cachedHealth != nil && time.Since(s.healthCacheTime) < s.healthCacheTTL {
		cached := s.cachedHealth
		s.healthCacheMu.RUnlock()
		return cached
	}
	s.healthCacheMu.RUnlock()

	info := s.performHealthCheck(ctx)

	s.healthCacheMu.Lock()
	s.cachedHealth = info
	s.healthCacheTime = time.Now()
	s.healthCacheMu.Unlock()

	return info
}

func (s *Store) performHealthCheck(ctx context.Context) *HealthInfo {
	info := &HealthInfo{Status: "healthy", Timestamp: time.Now()}

	stats := s.sqlDB.Stats()
	info.PoolStats = PoolStats{
		OpenConnections: stats.OpenConnections,
		InUse:           stats.InUse,
		Idle:            stats.Idle,
		WaitCount:       stats.WaitCount,
		WaitDuration:    stats.WaitDuration,
	}
	if s.metrics != nil {
		s.metrics.RecordPoolStats(stats)
	}

	start := time.Now()
	var dummy int
	err := s.sqlDB.QueryRowContext(ctx, "SELECT 1").Scan(&dummy)
	info.QueryLatency = time.Since(start)
	if s.metrics != nil {
		s.metrics.RecordLatency(info.QueryLatency)
		info.HistoricalMetrics = s.metrics.GetMetricsSummary()
	}

	if err != nil {
		info.Status = "unhealthy"
		info.Error = err.Error()
		return info
	}
	if stats.InUse > 0 && stats.OpenConnections > 0 && float64(stats.InUse)/float64(stats.OpenConnections) > 0.8 {
		info.Status = "degraded"
		info.Warning = "connection pool heavily utilized"
	}
	return info
}

// HealthInfo contains database health check results.
type HealthInfo struct {
	Timestamp         time.Time      `json:"timestamp"`
	Status            string         `json:"status"`
	Error             string         `json:"error,omitempty"`
	Warning           string         `json:"warning,omitempty"`
	HistoricalMetrics MetricsSummary `json:"historical_metrics,omitempty"`
	PoolStats         PoolStats      `json:"pool_stats"`
	QueryLatency      time.Duration  `json:"query_latency_ns"`
}

// PoolStats contains connection pool statistics.
type PoolStats struct {
	OpenConnections int           `json:"open_connections"`
	InUse           int           `json:"in_use"`
	Idle            int           `json:"idle"`
	WaitCount       int64         `json:"wait_count"`
	WaitDuration    time.Duration `json:"wait_duration_ns"`
}

// Query timeout tiers used by WithTimeout/TransactionWithTimeout call sites.
const (
	DefaultQueryTimeout = 5 * time.Second
	FastQueryTimeout    = 1 * time.Second
	SlowQueryTimeout    = 30 * time.Second
)

// PoolMetrics tracks historical connection pool metrics with a sliding window.
type PoolMetrics struct {
	lastSampleTime time.Time
	latencySamples []time.Duration
	latencyIdx     int
	latencyCount   int
	totalQueries   int64
	peakInUse      int
	windowSize     int
	mu             sync.RWMutex
}

// NewPoolMetrics creates a new pool metrics collector with the given window size.
func NewPoolMetrics(windowSize int) *PoolMetrics {
	if windowSize <= 0 {
		windowSize = 100
	}
	return &PoolMetrics{latencySamples: make([]time.Duration, windowSize), windowSize: windowSize, lastSampleTime: time.Now()}
}

// RecordLatency records a query latency sample.
func (m *PoolMetrics) RecordLatency(latency time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latencySamples[m.latencyIdx] = latency
	m.latencyIdx = (m.latencyIdx + 1) % m.windowSize
	if m.latencyCount < m.windowSize {
		m.latencyCount++
	}
	m.totalQueries++
	m.lastSampleTime = time.Now()
}

// RecordPoolStats records pool statistics for peak tracking.
func (m *PoolMetrics) RecordPoolStats(stats sql.DBStats) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if stats.InUse > m.peakInUse {
		m.peakInUse = stats.InUse
	}
}

// GetMetricsSummary returns a summary of collected metrics.
func (m *PoolMetrics) GetMetricsSummary() MetricsSummary {
	m.mu.RLock()
	defer m.mu.RUnlock()
	summary := MetricsSummary{TotalQueries: m.totalQueries, SampleCount: m.latencyCount, PeakInUse: m.peakInUse, LastSampleTime: m.lastSampleTime}
	if m.latencyCount == 0 {
		return summary
	}
	var total time.Duration
	min, max := m.latencySamples[0], m.latencySamples[0]
	for i := 0; i < m.latencyCount; i++ {
		sample := m.latencySamples[i]
		total += sample
		if sample < min {
			min = sample
		}
		if sample > max {
			max = sample
		}
	}
	summary.AvgLatency = total / time.Duration(m.latencyCount)
	summary.MinLatency = min
	summary.MaxLatency = max
	if m.latencyCount >= 20 {
		samples := make([]time.Duration, m.latencyCount)
		copy(samples, m.latencySamples[:m.latencyCount])
		slices.Sort(samples)
		summary.P95Latency = samples[int(float64(len(samples))*0.95)]
	}
	return summary
}

// MetricsSummary contains aggregated pool metrics.
type MetricsSummary struct {
	LastSampleTime time.Time     `json:"last_sample_time"`
	TotalQueries   int64         `json:"total_queries"`
	SampleCount    int           `json:"sample_count"`
	AvgLatency     time.Duration `json:"avg_latency_ns"`
	MinLatency     time.Duration `json:"min_latency_ns"`
	MaxLatency     time.Duration `json:"max_latency_ns"`
	P95Latency     time.Duration `json:"p95_latency_ns,omitempty"`
	PeakInUse      int           `json:"peak_in_use"`
}

// WithTimeout wraps a context with the given timeout and logs slow operations on release.
func (s *Store) WithTimeout(ctx context.Context, timeout time.Duration, operation string) (context.Context, context.CancelFunc) {
	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	start := time.Now()
	return timeoutCtx, func() {
		elapsed := time.Since(start)
		cancel()
		if elapsed > 100*time.Millisecond {
			log.Warn().Str("operation", operation).Dur("elapsed", elapsed).Dur("timeout", timeout).Msg("slow database operation")
		}
	}
}

// TransactionWithTimeout wraps a transaction function with timeout handling. The
// transaction rolls back automatically if the context deadline elapses. Used by merge
// (§4.5) and rollup (§4.8), both of which must be atomic read-then-write sequences.
func (s *Store) TransactionWithTimeout(ctx context.Context, timeout time.Duration, fn func(*gorm.DB) error) error {
	timeoutCtx, cancel := s.WithTimeout(ctx, timeout, "transaction")
	defer cancel()
	return s.DB.WithContext(timeoutCtx).Transaction(fn)
}
