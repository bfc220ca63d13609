package handler

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jmerrifield20/TriageLedger/internal/auditledger"
)

var (
	ledgerRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_http_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	ledgerRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ledger_http_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	ledgerOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_operations_total",
		Help: "Total ledger mutations by operation and result (ok or error code).",
	}, []string{"op", "result"})

	ledgerRecords = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ledger_records",
		Help: "Number of live records.",
	})

	ledgerPaused = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ledger_paused",
		Help: "1 while record operations are suspended.",
	})

	ledgerEvents = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ledger_events",
		Help: "Number of events in the audit log.",
	})

	ledgerHealthChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_health_checks_total",
		Help: "Total health check probes by result.",
	}, []string{"result"})

	ledgerRelayDeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_relay_deliveries_total",
		Help: "Total relayed audit events by publisher and result.",
	}, []string{"publisher", "result"})
)

// PrometheusMiddleware returns a Gin middleware that records per-request metrics.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		method := c.Request.Method
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		ledgerRequestsTotal.WithLabelValues(method, path, status).Inc()
		ledgerRequestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// MetricsHandler returns a Gin handler that serves Prometheus metrics.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// ObserveLedgerOperation records the outcome of a ledger mutation. It has the
// signature expected by Ledger.SetObserver.
func ObserveLedgerOperation(op string, err error) {
	result := "ok"
	if err != nil {
		result = auditledger.CodeOf(err)
		if result == "" {
			result = "internal"
		}
	}
	ledgerOperationsTotal.WithLabelValues(op, result).Inc()
}

// SetLedgerGauges publishes the bookkeeping state.
func SetLedgerGauges(st auditledger.State) {
	ledgerRecords.Set(float64(st.RecordCount))
	ledgerEvents.Set(float64(st.Seq))
	if st.Paused {
		ledgerPaused.Set(1)
	} else {
		ledgerPaused.Set(0)
	}
}

// RecordHealthCheck records a health check probe result.
func RecordHealthCheck(success bool) {
	if success {
		ledgerHealthChecksTotal.WithLabelValues("success").Inc()
	} else {
		ledgerHealthChecksTotal.WithLabelValues("failure").Inc()
	}
}

// RecordRelayDelivery records a relay publish attempt.
func RecordRelayDelivery(publisher string, success bool) {
	if success {
		ledgerRelayDeliveriesTotal.WithLabelValues(publisher, "success").Inc()
	} else {
		ledgerRelayDeliveriesTotal.WithLabelValues(publisher, "failure").Inc()
	}
}
