// Package metrics exposes lease store and lease manager metrics to Prometheus.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"mvlease/internal/logging"
)

const defaultNamespace = "mvlease"

// Persist outcomes recorded by LeaseMetrics.
const (
	OutcomeCreated   = "created"
	OutcomeUpdated   = "updated"
	OutcomeConflict  = "conflict"
	OutcomeTransient = "transient"
)

// OperationMetrics records latency and failures of store operations. A nil
// *OperationMetrics records nothing.
type OperationMetrics struct {
	latency *prometheus.HistogramVec
	errors  *prometheus.CounterVec
}

// NewOperationMetrics registers the operation metrics for component on reg (default if nil).
func NewOperationMetrics(reg prometheus.Registerer, namespace, component string) *OperationMetrics {
	if namespace == "" {
		namespace = defaultNamespace
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	builder := promauto.With(reg)
	labels := prometheus.Labels{"component": component}
	return &OperationMetrics{
		latency: builder.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   namespace,
			Name:        "store_operation_duration_seconds",
			Help:        "Latency of lease store operations.",
			Buckets:     prometheus.ExponentialBuckets(0.0005, 2, 14),
			ConstLabels: labels,
		}, []string{"op"}),
		errors: builder.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "store_operation_errors_total",
			Help:        "Failed lease store operations.",
			ConstLabels: labels,
		}, []string{"op"}),
	}
}

// Observe records one completed operation.
func (m *OperationMetrics) Observe(op string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	m.latency.WithLabelValues(op).Observe(elapsed.Seconds())
	if err != nil {
		m.errors.WithLabelValues(op).Inc()
	}
}

// LeaseMetrics tracks lease manager state. A nil *LeaseMetrics records nothing.
type LeaseMetrics struct {
	tracked         prometheus.Gauge
	persists        *prometheus.CounterVec
	statusFallbacks prometheus.Counter
}

func NewLeaseMetrics(reg prometheus.Registerer, namespace string) *LeaseMetrics {
	if namespace == "" {
		namespace = defaultNamespace
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	builder := promauto.With(reg)
	return &LeaseMetrics{
		tracked: builder.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "leases_tracked",
			Help:      "Leases held in the manager's in-memory cache.",
		}),
		persists: builder.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lease_persists_total",
			Help:      "Lease persist attempts by outcome.",
		}, []string{"outcome"}),
		statusFallbacks: builder.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lease_status_read_fallbacks_total",
			Help:      "Status reads that fell back to UNKNOWN after a store failure.",
		}),
	}
}

func (m *LeaseMetrics) SetTracked(n int) {
	if m == nil {
		return
	}
	m.tracked.Set(float64(n))
}

func (m *LeaseMetrics) Persisted(outcome string) {
	if m == nil {
		return
	}
	m.persists.WithLabelValues(outcome).Inc()
}

func (m *LeaseMetrics) StatusFallback() {
	if m == nil {
		return
	}
	m.statusFallbacks.Inc()
}

// StartServer serves gatherer (default if nil) on addr until ctx is canceled.
func StartServer(ctx context.Context, addr string, gatherer prometheus.Gatherer, logger logging.Logger) error {
	if addr == "" {
		return errors.New("metrics address is empty")
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	if logger == nil {
		logger = logging.Nop()
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", "error", err)
		}
	}()

	return nil
}
