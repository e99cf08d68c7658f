package handler

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/LoanTreasury/internal/disbursement"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	treasuryRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "treasury_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	treasuryRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "treasury_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	treasuryOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "treasury_operations_total",
		Help: "Ledger operations by name and result (ok or error kind).",
	}, []string{"op", "result"})

	treasuryBalance = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "treasury_balance",
		Help: "Native balance currently held by the treasury.",
	})

	treasuryTotalDisbursed = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "treasury_total_disbursed",
		Help: "Cumulative amount disbursed.",
	})

	treasuryDisbursementCount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "treasury_disbursement_count",
		Help: "Number of loans disbursed.",
	})

	treasuryPaused = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "treasury_disbursements_paused",
		Help: "1 while disbursements are paused.",
	})

	treasuryWebhookDeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "treasury_webhook_deliveries_total",
		Help: "Total webhook deliveries by success status.",
	}, []string{"status"})

	treasuryRateLimitedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "treasury_rate_limited_total",
		Help: "Requests rejected by the per-client rate limiter, by route.",
	}, []string{"path"})

	treasuryDependencyChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "treasury_dependency_checks_total",
		Help: "Dependency health probes by probe name and outcome.",
	}, []string{"probe", "status"})
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
			path = "unmatched"
		}

		treasuryRequestsTotal.WithLabelValues(method, path, status).Inc()
		treasuryRequestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// MetricsHandler returns a Gin handler that serves Prometheus metrics.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordWebhookDelivery records a webhook delivery attempt.
func RecordWebhookDelivery(success bool) {
	if success {
		treasuryWebhookDeliveriesTotal.WithLabelValues("success").Inc()
	} else {
		treasuryWebhookDeliveriesTotal.WithLabelValues("failure").Inc()
	}
}

// RecordDependencyCheck records one dependency probe result.
func RecordDependencyCheck(probe string, success bool) {
	status := "success"
	if !success {
		status = "failure"
	}
	treasuryDependencyChecksTotal.WithLabelValues(probe, status).Inc()
}

// PromRecorder feeds service outcomes into the Prometheus collectors.
type PromRecorder struct{}

// RecordOperation counts op under its result label.
func (PromRecorder) RecordOperation(op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
		if e, ok := disbursement.AsError(err); ok {
			result = e.Kind
		}
	}
	treasuryOperationsTotal.WithLabelValues(op, result).Inc()
}

// RecordLedger updates the ledger gauges.
func (PromRecorder) RecordLedger(snap disbursement.Snapshot) {
	treasuryBalance.Set(float64(snap.TreasuryBalance))
	treasuryTotalDisbursed.Set(float64(snap.TotalDisbursed))
	treasuryDisbursementCount.Set(float64(snap.DisbursementCount))
	if snap.DisbursementPaused {
		treasuryPaused.Set(1)
	} else {
		treasuryPaused.Set(0)
	}
}
