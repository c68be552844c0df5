package security

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// StoreLatency is used by store implementations to record operation latency.
	StoreLatency *prometheus.HistogramVec

	// ModemsVisible tracks how many modems the last enumeration returned.
	ModemsVisible prometheus.Gauge

	// PollCyclesTotal counts completed poll cycles.
	PollCyclesTotal prometheus.Counter

	// MessagesIngestedTotal counts messages durably stored for the first time.
	MessagesIngestedTotal prometheus.Counter

	// DuplicatesDeletedTotal counts modem-side deletions of already-stored messages.
	DuplicatesDeletedTotal prometheus.Counter

	// PollErrorsTotal counts ingestion failures by pipeline stage.
	PollErrorsTotal *prometheus.CounterVec

	// DBPoolOpenConnections tracks the number of currently open database connections.
	DBPoolOpenConnections prometheus.Gauge

	// DBPoolMaxConnections tracks the configured maximum database connections.
	DBPoolMaxConnections prometheus.Gauge
)

var validLabelKey = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ParseMetricsLabels parses a comma-separated list of key=value pairs into
// Prometheus labels. Values support ${VAR} / $VAR environment variable expansion.
// Label values may not contain commas. Returns nil for an empty string.
func ParseMetricsLabels(s string) (prometheus.Labels, error) {
	s = os.Expand(s, os.Getenv)
	if s == "" {
		return nil, nil
	}
	labels := prometheus.Labels{}
	for _, pair := range strings.Split(s, ",") {
		idx := strings.IndexByte(pair, '=')
		if idx < 0 {
			return nil, fmt.Errorf("invalid label %q: expected key=value", pair)
		}
		k, v := pair[:idx], pair[idx+1:]
		if !validLabelKey.MatchString(k) {
			return nil, fmt.Errorf("invalid label key %q: must match [a-zA-Z_][a-zA-Z0-9_]*", k)
		}
		labels[k] = v
	}
	return labels, nil
}

var initMetricsOnce sync.Once

// InitMetrics registers all Prometheus metrics with the given constant labels.
// Must be called before starting the HTTP servers or the poller. Safe to call
// multiple times; only the first call registers.
func InitMetrics(constLabels prometheus.Labels) {
	initMetricsOnce.Do(func() {
		initMetricsInner(constLabels)
	})
}

func initMetricsInner(constLabels prometheus.Labels) {
	reg := prometheus.WrapRegistererWith(constLabels, prometheus.DefaultRegisterer)
	f := promauto.With(reg)

	httpRequestsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sms_service_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "status"},
	)
	httpRequestDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sms_service_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
	StoreLatency = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sms_service_store_latency_seconds",
			Help:    "Message store operation latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)
	ModemsVisible = f.NewGauge(prometheus.GaugeOpts{
		Name: "sms_service_modems_visible",
		Help: "Number of modems returned by the last enumeration",
	})
	PollCyclesTotal = f.NewCounter(prometheus.CounterOpts{
		Name: "sms_service_poll_cycles_total",
		Help: "Total number of completed poll cycles",
	})
	MessagesIngestedTotal = f.NewCounter(prometheus.CounterOpts{
		Name: "sms_service_messages_ingested_total",
		Help: "Total number of messages durably stored",
	})
	DuplicatesDeletedTotal = f.NewCounter(prometheus.CounterOpts{
		Name: "sms_service_duplicates_deleted_total",
		Help: "Total number of already-stored messages deleted from modems",
	})
	PollErrorsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sms_service_poll_errors_total",
			Help: "Total number of ingestion failures by pipeline stage",
		},
		[]string{"stage"},
	)
	DBPoolOpenConnections = f.NewGauge(prometheus.GaugeOpts{
		Name: "sms_service_db_pool_open_connections",
		Help: "Currently open database connections",
	})
	DBPoolMaxConnections = f.NewGauge(prometheus.GaugeOpts{
		Name: "sms_service_db_pool_max_connections",
		Help: "Configured maximum database connections",
	})
}

// MetricsMiddleware records request counts and latency for every request.
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if httpRequestsTotal != nil {
			httpRequestsTotal.WithLabelValues(c.Request.Method, strconv.Itoa(c.Writer.Status())).Inc()
		}
		if httpRequestDuration != nil {
			httpRequestDuration.WithLabelValues(c.Request.Method).Observe(time.Since(start).Seconds())
		}
	}
}
