// Package metrics provides Prometheus metrics for provider operations.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Credential metrics
	tokenRefreshesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orbital_token_refreshes_total",
			Help: "Total OAuth2 token refresh attempts",
		},
		[]string{"provider_type", "result"},
	)

	authRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orbital_auth_retries_total",
			Help: "Operations retried after an expired-token response",
		},
		[]string{"provider_type", "result"},
	)

	// Upload metrics
	chunksUploadedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orbital_chunks_uploaded_total",
			Help: "Total upload chunks sent",
		},
		[]string{"status"},
	)

	bytesUploadedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "orbital_bytes_uploaded_total",
			Help: "Total bytes accepted by chunked uploads",
		},
	)

	// Backend metrics
	backendOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orbital_backend_operations_total",
			Help: "Total backend operations",
		},
		[]string{"backend", "operation", "status"},
	)

	backendOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "orbital_backend_operation_duration_seconds",
			Help:    "Backend operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend", "operation"},
	)

	providersLoaded = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "orbital_providers_loaded",
			Help: "Number of providers held by the registry",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

func status(success bool) string {
	if success {
		return "success"
	}

	return "error"
}

// RecordTokenRefresh records one refresh attempt for a provider type.
func RecordTokenRefresh(providerType string, success bool) {
	tokenRefreshesTotal.WithLabelValues(providerType, status(success)).Inc()
}

// RecordAuthRetry records the outcome of a retry after an expired token.
func RecordAuthRetry(providerType string, success bool) {
	authRetriesTotal.WithLabelValues(providerType, status(success)).Inc()
}

// RecordChunk records one chunk send. Bytes count only on success.
func RecordChunk(bytes int64, success bool) {
	chunksUploadedTotal.WithLabelValues(status(success)).Inc()

	if success {
		bytesUploadedTotal.Add(float64(bytes))
	}
}

// RecordOperation records a backend operation and its duration.
func RecordOperation(backend, operation string, success bool, duration time.Duration) {
	backendOperationsTotal.WithLabelValues(backend, operation, status(success)).Inc()
	backendOperationDuration.WithLabelValues(backend, operation).Observe(duration.Seconds())
}

// SetProvidersLoaded sets the registry size.
func SetProvidersLoaded(n int) {
	providersLoaded.Set(float64(n))
}
