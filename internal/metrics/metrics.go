// Package metrics provides Prometheus metrics collection for the
// access-control core.
package metrics

import (
	"fmt"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Using atomic.Pointer for lock-free initialization checks on hot
	// path metrics.
	requestsTotal     atomic.Pointer[prometheus.CounterVec]
	requestDuration   atomic.Pointer[prometheus.HistogramVec]
	authFailuresTotal atomic.Pointer[prometheus.CounterVec]
	rateLimitedTotal  atomic.Pointer[prometheus.CounterVec]
	migrationsApplied atomic.Pointer[prometheus.Counter]
)

// Init registers all metrics with the provided registry. Call once at
// startup.
func Init(reg prometheus.Registerer) error {
	requestsTotalVec := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "access",
			Subsystem: "core",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled",
		},
		[]string{"method", "path", "status"},
	)
	if err := reg.Register(requestsTotalVec); err != nil {
		return fmt.Errorf("failed to register requestsTotal: %w", err)
	}

	requestDurationVec := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "access",
			Subsystem: "core",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
	if err := reg.Register(requestDurationVec); err != nil {
		return fmt.Errorf("failed to register requestDuration: %w", err)
	}

	authFailuresTotalVec := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "access",
			Subsystem: "core",
			Name:      "auth_failures_total",
			Help:      "Total number of authentication failures",
		},
		[]string{"reason"},
	)
	if err := reg.Register(authFailuresTotalVec); err != nil {
		return fmt.Errorf("failed to register authFailuresTotal: %w", err)
	}

	rateLimitedTotalVec := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "access",
			Subsystem: "core",
			Name:      "rate_limited_total",
			Help:      "Total number of requests denied by the rate limiter",
		},
		[]string{"tier"},
	)
	if err := reg.Register(rateLimitedTotalVec); err != nil {
		return fmt.Errorf("failed to register rateLimitedTotal: %w", err)
	}

	migrationsAppliedCounter := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "access",
			Subsystem: "core",
			Name:      "migrations_applied_total",
			Help:      "Total number of schema migrations applied by this process",
		},
	)
	if err := reg.Register(migrationsAppliedCounter); err != nil {
		return fmt.Errorf("failed to register migrationsApplied: %w", err)
	}

	requestsTotal.Store(requestsTotalVec)
	requestDuration.Store(requestDurationVec)
	authFailuresTotal.Store(authFailuresTotalVec)
	rateLimitedTotal.Store(rateLimitedTotalVec)
	migrationsApplied.Store(&migrationsAppliedCounter)

	return nil
}

// RecordRequest increments the requests counter. The path should be the
// route pattern, not the raw URL, to bound label cardinality.
func RecordRequest(method, path, statusCode string) {
	if counter := requestsTotal.Load(); counter != nil {
		counter.WithLabelValues(method, path, statusCode).Inc()
	}
}

// RecordDuration observes a request latency.
func RecordDuration(method, path, statusCode string, seconds float64) {
	if histogram := requestDuration.Load(); histogram != nil {
		histogram.WithLabelValues(method, path, statusCode).Observe(seconds)
	}
}

// RecordAuthFailure increments the auth failure counter for a reason.
func RecordAuthFailure(reason string) {
	if counter := authFailuresTotal.Load(); counter != nil {
		counter.WithLabelValues(reason).Inc()
	}
}

// RecordRateLimited increments the rate-limited counter for a tier.
func RecordRateLimited(tier string) {
	if counter := rateLimitedTotal.Load(); counter != nil {
		counter.WithLabelValues(tier).Inc()
	}
}

// RecordMigrationApplied counts one applied migration.
func RecordMigrationApplied() {
	if counter := migrationsApplied.Load(); counter != nil {
		(*counter).Inc()
	}
}

// Handler returns the HTTP handler serving the metrics endpoint for the
// given gatherer.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
