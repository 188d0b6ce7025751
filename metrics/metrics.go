package metrics

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics счетчики жизненного цикла и загрузок.
// Все методы безопасны для nil-получателя, поэтому сервисы работают и без метрик.
type Metrics struct {
	registry *prometheus.Registry

	transitions   *prometheus.CounterVec
	alarmsIngest  *prometheus.CounterVec
	planReviews   *prometheus.CounterVec
	scoreUpdates  prometheus.Counter
	httpRequests  *prometheus.CounterVec
	httpDurations *prometheus.HistogramVec
}

// New создает набор метрик на собственном реестре
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "enom_status_transitions_total",
			Help: "Applied status transitions by entity",
		}, []string{"entity", "from", "to"}),
		alarmsIngest: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "enom_alarms_ingested_total",
			Help: "Alarm drafts processed by bulk ingestion",
		}, []string{"result"}),
		planReviews: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "enom_plan_reviews_total",
			Help: "Daily plan review decisions",
		}, []string{"decision"}),
		scoreUpdates: factory.NewCounter(prometheus.CounterOpts{
			Name: "enom_priority_recomputed_sites_total",
			Help: "Sites whose alarm priority score was recomputed",
		}),
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "enom_http_requests_total",
			Help: "HTTP requests by route and status",
		}, []string{"method", "route", "status"}),
		httpDurations: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "enom_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// Registry реестр для тестов и экспорта
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) ObserveTransition(entity, from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(entity, from, to).Inc()
}

func (m *Metrics) ObserveIngest(processed, skipped int) {
	if m == nil {
		return
	}
	m.alarmsIngest.WithLabelValues("processed").Add(float64(processed))
	m.alarmsIngest.WithLabelValues("skipped").Add(float64(skipped))
}

func (m *Metrics) ObservePlanReview(decision string) {
	if m == nil {
		return
	}
	m.planReviews.WithLabelValues(decision).Inc()
}

func (m *Metrics) ObserveScoreRecompute(sites int) {
	if m == nil {
		return
	}
	m.scoreUpdates.Add(float64(sites))
}

// Handler отдает метрики в формате Prometheus
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// GinMiddleware считает запросы по шаблону маршрута
func (m *Metrics) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.httpRequests.WithLabelValues(c.Request.Method, route, http.StatusText(c.Writer.Status())).Inc()
		m.httpDurations.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}
