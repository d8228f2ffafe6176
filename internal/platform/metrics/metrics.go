package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "laby_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "laby_http_request_duration_seconds",
		Help:    "Duration of HTTP requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestsDecided = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "laby_requests_decided_total",
		Help: "Equipment requests decided, by decision",
	}, []string{"decision"})

	loansClosed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "laby_loans_closed_total",
		Help: "Loans returned, by condition (ok|damaged)",
	}, []string{"condition"})

	alertsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "laby_alerts_created_total",
		Help: "Alerts raised, by kind",
	}, []string{"kind"})

	alertsResolved = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "laby_alerts_resolved_total",
		Help: "Alerts resolved, by action",
	}, []string{"action"})

	stockMovements = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "laby_stock_movements_total",
		Help: "Reconciled stock movements, by reason",
	}, []string{"reason"})
)

// ObserveHTTPRequest records an HTTP request metric
func ObserveHTTPRequest(method, path, status string, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	httpRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

func ObserveDecision(decision string) { requestsDecided.WithLabelValues(decision).Inc() }

func ObserveLoanClosed(damaged bool) {
	cond := "ok"
	if damaged {
		cond = "damaged"
	}
	loansClosed.WithLabelValues(cond).Inc()
}

func ObserveAlertCreated(kind string) { alertsCreated.WithLabelValues(kind).Inc() }

func ObserveAlertResolved(action string) { alertsResolved.WithLabelValues(action).Inc() }

func ObserveStockMovement(reason string) { stockMovements.WithLabelValues(reason).Inc() }
