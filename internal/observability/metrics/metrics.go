package metrics

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
)

// Metrics exposes the Prometheus instruments for the invoicing core.
type Metrics struct {
	httpRequests   *prometheus.CounterVec
	httpDuration   *prometheus.HistogramVec
	invoicesIssued *prometheus.CounterVec
	draftsExpired  prometheus.Counter
}

// New registers and returns the application instruments.
func New(registry *prometheus.Registry) *Metrics {
	httpRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "facturio_http_requests_total",
		Help: "Counts HTTP requests by method, route, and status.",
	}, []string{"method", "route", "status"})

	httpDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "facturio_http_request_duration_seconds",
		Help:    "HTTP request latency per method and route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	invoicesIssued := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "facturio_invoices_issued_total",
		Help: "Invoices committed, by issue path.",
	}, []string{"source"})

	draftsExpired := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "facturio_drafts_expired_total",
		Help: "Active drafts expired by the sweep.",
	})

	registry.MustRegister(
		httpRequests,
		httpDuration,
		invoicesIssued,
		draftsExpired,
	)

	return &Metrics{
		httpRequests:   httpRequests,
		httpDuration:   httpDuration,
		invoicesIssued: invoicesIssued,
		draftsExpired:  draftsExpired,
	}
}

// RecordInvoiceIssued increments the issued invoice count. Source is
// the issue path, for example "draft" or "direct".
func (m *Metrics) RecordInvoiceIssued(source string) {
	if m == nil {
		return
	}
	m.invoicesIssued.WithLabelValues(strings.TrimSpace(source)).Inc()
}

// RecordDraftsExpired adds swept draft counts.
func (m *Metrics) RecordDraftsExpired(count int) {
	if m == nil || count <= 0 {
		return
	}
	m.draftsExpired.Add(float64(count))
}

// GinMiddleware records request counts and latency per route. Unmatched
// paths collapse into one label to keep cardinality bounded.
func GinMiddleware(m *Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()

		route := c.FullPath()
		if strings.TrimSpace(route) == "" {
			route = "unknown"
		}
		method := c.Request.Method
		status := strconv.Itoa(c.Writer.Status())

		m.httpRequests.WithLabelValues(method, route, status).Inc()
		m.httpDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
	}
}

var Module = fx.Module("observability.metrics",
	fx.Provide(
		prometheus.NewRegistry,
		New,
	),
)
