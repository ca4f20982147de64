package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/brightlane/auctionhouse/internal/infrastructure/cache"
)

// HealthChecker checks the health of a dependency
type HealthChecker interface {
	Name() string
	Check(ctx context.Context) HealthCheckResult
}

// HealthCheckResult represents the result of a health check
type HealthCheckResult struct {
	Status       HealthStatus           `json:"status"`
	Message      string                 `json:"message,omitempty"`
	Error        string                 `json:"error,omitempty"`
	ResponseTime time.Duration          `json:"response_time"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
	LastChecked  time.Time              `json:"last_checked"`
}

// HealthStatus represents the health status
type HealthStatus string

const (
	HealthStatusPass HealthStatus = "pass"
	HealthStatusWarn HealthStatus = "warn"
	HealthStatusFail HealthStatus = "fail"
)

// HealthService manages health checks
type HealthService struct {
	checkers  map[string]HealthChecker
	cache     sync.Map
	config    HealthConfig
	tracer    trace.Tracer
	startTime time.Time
}

// HealthConfig configures the health service
type HealthConfig struct {
	CacheDuration  time.Duration
	Timeout        time.Duration
	IncludeDetails bool
	ServiceName    string
	ServiceVersion string
	Environment    string
}

// DefaultHealthConfig returns default configuration
func DefaultHealthConfig() HealthConfig {
	return HealthConfig{
		CacheDuration:  10 * time.Second,
		Timeout:        5 * time.Second,
		IncludeDetails: true,
		ServiceName:    "auctionhouse",
		ServiceVersion: "1.0.0",
		Environment:    "production",
	}
}

// NewHealthService creates a new health service
func NewHealthService(config HealthConfig) *HealthService {
	return &HealthService{
		checkers:  make(map[string]HealthChecker),
		config:    config,
		tracer:    otel.Tracer("api.rest.health"),
		startTime: time.Now(),
	}
}

// RegisterChecker registers a health checker
func (h *HealthService) RegisterChecker(name string, checker HealthChecker) {
	h.checkers[name] = checker
}

// HealthResponse represents the overall health response
type HealthResponse struct {
	Status      HealthStatus                 `json:"status"`
	Version     string                       `json:"version"`
	ServiceID   string                       `json:"service_id"`
	Description string                       `json:"description,omitempty"`
	Checks      map[string]HealthCheckResult `json:"checks,omitempty"`
	Output      string                       `json:"output,omitempty"`
	ServiceName string                       `json:"service_name"`
	Notes       []string                     `json:"notes,omitempty"`
	Links       map[string]string            `json:"links,omitempty"`
	Metadata    map[string]interface{}       `json:"metadata,omitempty"`
}

// LivenessHandler returns a simple liveness check handler
func (h *HealthService) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, span := h.tracer.Start(r.Context(), "health.liveness")
		defer span.End()

		response := HealthResponse{
			Status:      HealthStatusPass,
			Version:     h.config.ServiceVersion,
			ServiceID:   uuid.New().String(),
			ServiceName: h.config.ServiceName,
			Metadata: map[string]interface{}{
				"uptime_seconds": time.Since(h.startTime).Seconds(),
				"timestamp":      time.Now().UTC(),
			},
		}

		w.Header().Set("Content-Type", "application/health+json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(response)

		span.SetAttributes(attribute.String("health.status", string(response.Status)))
	}
}

// ReadinessHandler returns a readiness check handler
func (h *HealthService) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := h.tracer.Start(r.Context(), "health.readiness")
		defer span.End()

		checks := h.runChecks(ctx)

		status := HealthStatusPass
		statusCode := http.StatusOK

		for _, result := range checks {
			if result.Status == HealthStatusFail {
				status = HealthStatusFail
				statusCode = http.StatusServiceUnavailable
				break
			} else if result.Status == HealthStatusWarn && status == HealthStatusPass {
				status = HealthStatusWarn
			}
		}

		response := HealthResponse{
			Status:      status,
			Version:     h.config.ServiceVersion,
			ServiceID:   uuid.New().String(),
			ServiceName: h.config.ServiceName,
			Description: fmt.Sprintf("%s health check", h.config.ServiceName),
			Checks:      checks,
			Metadata: map[string]interface{}{
				"uptime_seconds": time.Since(h.startTime).Seconds(),
				"timestamp":      time.Now().UTC(),
				"environment":    h.config.Environment,
			},
		}

		w.Header().Set("Content-Type", "application/health+json")
		w.WriteHeader(statusCode)
		json.NewEncoder(w).Encode(response)

		span.SetAttributes(
			attribute.String("health.status", string(response.Status)),
			attribute.Int("health.checks_count", len(checks)),
			attribute.Int("http.status_code", statusCode),
		)
	}
}

// StartupHandler returns a startup check handler
func (h *HealthService) StartupHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, span := h.tracer.Start(r.Context(), "health.startup")
		defer span.End()

		uptime := time.Since(h.startTime)
		minUptime := 5 * time.Second

		status := HealthStatusPass
		statusCode := http.StatusOK
		output := "service started successfully"

		if uptime < minUptime {
			status = HealthStatusFail
			statusCode = http.StatusServiceUnavailable
			output = fmt.Sprintf("service starting up, please wait %v", minUptime-uptime)
		}

		response := HealthResponse{
			Status:      status,
			Version:     h.config.ServiceVersion,
			ServiceID:   uuid.New().String(),
			ServiceName: h.config.ServiceName,
			Output:      output,
			Metadata: map[string]interface{}{
				"uptime_seconds": uptime.Seconds(),
			},
		}

		w.Header().Set("Content-Type", "application/health+json")
		w.WriteHeader(statusCode)
		json.NewEncoder(w).Encode(response)
	}
}

func (h *HealthService) runChecks(ctx context.Context) map[string]HealthCheckResult {
	results := make(map[string]HealthCheckResult)
	var wg sync.WaitGroup
	var mu sync.Mutex

	for name, checker := range h.checkers {
		wg.Add(1)
		go func(n string, c HealthChecker) {
			defer wg.Done()

			if cached, ok := h.getCachedResult(n); ok {
				mu.Lock()
				results[n] = cached
				mu.Unlock()
				return
			}

			checkCtx, cancel := context.WithTimeout(ctx, h.config.Timeout)
			defer cancel()

			result := c.Check(checkCtx)
			result.LastChecked = time.Now()

			h.cacheResult(n, result)

			mu.Lock()
			results[n] = result
			mu.Unlock()
		}(name, checker)
	}

	wg.Wait()
	return results
}

func (h *HealthService) getCachedResult(name string) (HealthCheckResult, bool) {
	if val, ok := h.cache.Load(name); ok {
		cached := val.(cachedHealthResult)
		if time.Since(cached.timestamp) < h.config.CacheDuration {
			return cached.result, true
		}
	}
	return HealthCheckResult{}, false
}

func (h *HealthService) cacheResult(name string, result HealthCheckResult) {
	h.cache.Store(name, cachedHealthResult{result: result, timestamp: time.Now()})
}

type cachedHealthResult struct {
	result    HealthCheckResult
	timestamp time.Time
}

// Built-in health checkers

// StoreHealthChecker checks the Postgres connection pool backing the
// auction/bid/user repositories.
type StoreHealthChecker struct {
	pool *pgxpool.Pool
	name string
}

// NewStoreHealthChecker creates a new store health checker.
func NewStoreHealthChecker(pool *pgxpool.Pool, name string) *StoreHealthChecker {
	return &StoreHealthChecker{pool: pool, name: name}
}

func (s *StoreHealthChecker) Name() string { return s.name }

func (s *StoreHealthChecker) Check(ctx context.Context) HealthCheckResult {
	start := time.Now()
	if err := s.pool.Ping(ctx); err != nil {
		return HealthCheckResult{Status: HealthStatusFail, Error: err.Error(), ResponseTime: time.Since(start)}
	}

	stat := s.pool.Stat()
	status := HealthStatusPass
	message := "store is healthy"
	if stat.AcquiredConns() >= stat.MaxConns()*9/10 {
		status = HealthStatusWarn
		message = "connection pool near capacity"
	}

	return HealthCheckResult{
		Status:       status,
		Message:      message,
		ResponseTime: time.Since(start),
		Metadata: map[string]interface{}{
			"acquired_conns": stat.AcquiredConns(),
			"idle_conns":     stat.IdleConns(),
			"max_conns":      stat.MaxConns(),
		},
	}
}

// CacheHealthChecker checks the Redis-backed Cache/Coordinator adapter.
type CacheHealthChecker struct {
	cache cache.Cache
	name  string
}

// NewCacheHealthChecker creates a new cache health checker.
func NewCacheHealthChecker(c cache.Cache, name string) *CacheHealthChecker {
	return &CacheHealthChecker{cache: c, name: name}
}

func (c *CacheHealthChecker) Name() string { return c.name }

func (c *CacheHealthChecker) Check(ctx context.Context) HealthCheckResult {
	start := time.Now()
	if err := c.cache.Health(ctx); err != nil {
		return HealthCheckResult{Status: HealthStatusFail, Error: err.Error(), ResponseTime: time.Since(start)}
	}
	return HealthCheckResult{Status: HealthStatusPass, Message: "cache is healthy", ResponseTime: time.Since(start)}
}

// QueueHealthChecker checks the Kafka-backed Queue adapter. The queue
// runs in a degraded-but-healthy state when disabled, per §4.3's
// fallback-to-HTTP behavior — a nil checker is never registered.
type QueueHealthChecker struct {
	healthFn func(ctx context.Context) error
	name     string
}

// NewQueueHealthChecker creates a new queue health checker.
func NewQueueHealthChecker(healthFn func(ctx context.Context) error, name string) *QueueHealthChecker {
	return &QueueHealthChecker{healthFn: healthFn, name: name}
}

func (q *QueueHealthChecker) Name() string { return q.name }

func (q *QueueHealthChecker) Check(ctx context.Context) HealthCheckResult {
	start := time.Now()
	if err := q.healthFn(ctx); err != nil {
		return HealthCheckResult{Status: HealthStatusWarn, Error: err.Error(), ResponseTime: time.Since(start)}
	}
	return HealthCheckResult{Status: HealthStatusPass, Message: "queue is healthy", ResponseTime: time.Since(start)}
}

// SystemHealthChecker checks system resources
type SystemHealthChecker struct{}

// NewSystemHealthChecker creates a new system health checker
func NewSystemHealthChecker() *SystemHealthChecker {
	return &SystemHealthChecker{}
}

func (s *SystemHealthChecker) Name() string {
	return "system"
}

func (s *SystemHealthChecker) Check(ctx context.Context) HealthCheckResult {
	start := time.Now()

	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	status := HealthStatusPass
	message := "system resources are healthy"

	heapUsagePercent := float64(m.HeapAlloc) / float64(m.HeapSys) * 100
	if heapUsagePercent > 90 {
		status = HealthStatusFail
		message = "memory usage critical"
	} else if heapUsagePercent > 75 {
		status = HealthStatusWarn
		message = "memory usage high"
	}

	numGoroutines := runtime.NumGoroutine()
	if numGoroutines > 10000 {
		status = HealthStatusWarn
		message = "high number of goroutines"
	}

	return HealthCheckResult{
		Status:       status,
		Message:      message,
		ResponseTime: time.Since(start),
		Metadata: map[string]interface{}{
			"goroutines":    numGoroutines,
			"heap_alloc_mb": m.HeapAlloc / 1024 / 1024,
			"heap_sys_mb":   m.HeapSys / 1024 / 1024,
			"gc_runs":       m.NumGC,
			"go_version":    runtime.Version(),
		},
	}
}
