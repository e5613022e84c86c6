// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器
type Collector struct {
	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpRequestSize     *prometheus.HistogramVec
	httpResponseSize    *prometheus.HistogramVec

	// 图片获取指标
	acquisitionsTotal   *prometheus.CounterVec
	acquisitionDuration *prometheus.HistogramVec
	fallbacksTotal      *prometheus.CounterVec

	// 提供商指标
	providerAttemptsTotal *prometheus.CounterVec
	providerCallDuration  *prometheus.HistogramVec
	providerRetriesTotal  *prometheus.CounterVec

	// relay
	relayRequestsTotal *prometheus.CounterVec

	// journal
	journalWritesTotal *prometheus.CounterVec

	logger *zap.Logger
}

// NewCollector registers the vectors with the default registry under namespace.
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// HTTP
	c.httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.httpRequestSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_size_bytes",
			Help:      "HTTP request size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	c.httpResponseSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_response_size_bytes",
			Help:      "HTTP response size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	// acquisitions
	c.acquisitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "acquisitions_total",
			Help:      "Total number of image acquisitions by outcome",
		},
		[]string{"outcome"},
	)

	c.acquisitionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "acquisition_duration_seconds",
			Help:      "Image acquisition duration in seconds, fallbacks and retries included",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"outcome"},
	)

	c.fallbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fallbacks_total",
			Help:      "Acquisitions served by a provider other than the first one tried",
		},
		[]string{"provider"},
	)

	// providers
	c.providerAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_attempts_total",
			Help:      "Provider consultations by outcome",
		},
		[]string{"provider", "outcome"},
	)

	c.providerCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_call_duration_seconds",
			Help:      "Time spent on one provider, retries included",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"provider"},
	)

	c.providerRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_retries_total",
			Help:      "Retries after a transient provider failure",
		},
		[]string{"provider"},
	)

	// relay
	c.relayRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_requests_total",
			Help:      "Requests forwarded by the credential-hiding relay",
		},
		[]string{"status"},
	)

	// journal
	c.journalWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "journal_writes_total",
			Help:      "Failure journal writes by result",
		},
		[]string{"result"},
	)

	c.logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// HTTP
// =============================================================================

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration, requestSize, responseSize int64) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	c.httpRequestSize.WithLabelValues(method, path).Observe(float64(requestSize))
	c.httpResponseSize.WithLabelValues(method, path).Observe(float64(responseSize))
}

// =============================================================================
// Acquisitions (imagegen.Recorder)
// =============================================================================

// RecordAcquisition records the terminal outcome of one acquisition.
func (c *Collector) RecordAcquisition(outcome, provider string, usedFallback bool, duration time.Duration) {
	c.acquisitionsTotal.WithLabelValues(outcome).Inc()
	c.acquisitionDuration.WithLabelValues(outcome).Observe(duration.Seconds())
	if usedFallback {
		c.fallbacksTotal.WithLabelValues(provider).Inc()
	}
}

// RecordProviderAttempt records how one provider was consulted.
func (c *Collector) RecordProviderAttempt(provider, outcome string, attempts int, duration time.Duration) {
	c.providerAttemptsTotal.WithLabelValues(provider, outcome).Inc()
	if attempts > 0 {
		c.providerCallDuration.WithLabelValues(provider).Observe(duration.Seconds())
	}
}

// RecordRetry 记录一次瞬时失败后的重试
func (c *Collector) RecordRetry(provider string) {
	c.providerRetriesTotal.WithLabelValues(provider).Inc()
}

// =============================================================================
// Relay and journal
// =============================================================================

// RecordRelay records one relayed request by upstream status.
func (c *Collector) RecordRelay(status int) {
	c.relayRequestsTotal.WithLabelValues(strconv.Itoa(status)).Inc()
}

// RecordJournalWrite records a failure journal write.
func (c *Collector) RecordJournalWrite(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.journalWritesTotal.WithLabelValues(result).Inc()
}

// =============================================================================
// Helpers
// =============================================================================

// statusCode 按百位归类状态码
func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
