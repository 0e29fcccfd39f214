package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "ticket_mailer"

// Metrics stores Prometheus collectors used by the intake loop, processor and ops server.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal       *prometheus.CounterVec
	httpRequestDuration     *prometheus.HistogramVec
	ticketsProcessedTotal   *prometheus.CounterVec
	sendDuration            prometheus.Histogram
	consecutiveFailures     prometheus.Gauge
	cooldownsTotal          prometheus.Counter
	backlogTicketsTotal     prometheus.Counter
	notificationsTotal      prometheus.Counter
	listenerReconnectsTotal prometheus.Counter
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "http_requests_total",
				Help:      "Total number of ops HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "http_request_duration_seconds",
				Help:      "Ops HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		ticketsProcessedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "tickets_processed_total",
				Help:      "Tickets handed to the processor, by outcome.",
			},
			[]string{"outcome"},
		),
		sendDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "send_duration_seconds",
				Help:      "Mail relay round-trip duration in seconds.",
				Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
			},
		),
		consecutiveFailures: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "consecutive_failures",
				Help:      "Consecutive send failures since the last successful send.",
			},
		),
		cooldownsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "cooldowns_total",
				Help:      "Number of times the send-failure cool-down was entered.",
			},
		),
		backlogTicketsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "backlog_tickets_total",
				Help:      "Tickets picked up by backlog scans.",
			},
		),
		notificationsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "notifications_received_total",
				Help:      "Notification events drained from the listen channel.",
			},
		),
		listenerReconnectsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "listener_reconnects_total",
				Help:      "Successful re-subscriptions after the listen connection was lost.",
			},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.ticketsProcessedTotal,
		m.sendDuration,
		m.consecutiveFailures,
		m.cooldownsTotal,
		m.backlogTicketsTotal,
		m.notificationsTotal,
		m.listenerReconnectsTotal,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) HTTPMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		path := routePath(c)
		// Avoid self-scrape noise for request counters.
		if path == "/metrics" {
			return err
		}

		m.recordHTTPRequest(c.Method(), path, statusFromResult(c, err), time.Since(start))
		return err
	}
}

func (m *Metrics) IncTicketOutcome(outcome string) {
	if m == nil {
		return
	}
	label := strings.ToLower(strings.TrimSpace(outcome))
	if label == "" {
		label = "unknown"
	}
	m.ticketsProcessedTotal.WithLabelValues(label).Inc()
}

func (m *Metrics) ObserveSendDuration(duration time.Duration) {
	if m == nil {
		return
	}
	seconds := duration.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.sendDuration.Observe(seconds)
}

func (m *Metrics) SetConsecutiveFailures(n int) {
	if m == nil {
		return
	}
	m.consecutiveFailures.Set(float64(n))
}

func (m *Metrics) IncCooldown() {
	if m == nil {
		return
	}
	m.cooldownsTotal.Inc()
}

func (m *Metrics) AddBacklogTickets(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.backlogTicketsTotal.Add(float64(n))
}

func (m *Metrics) IncNotificationReceived() {
	if m == nil {
		return
	}
	m.notificationsTotal.Inc()
}

func (m *Metrics) IncListenerReconnect() {
	if m == nil {
		return
	}
	m.listenerReconnectsTotal.Inc()
}

func (m *Metrics) recordHTTPRequest(method string, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}

	methodLabel := strings.ToUpper(strings.TrimSpace(method))
	if methodLabel == "" {
		methodLabel = "UNKNOWN"
	}
	pathLabel := strings.TrimSpace(path)
	if pathLabel == "" {
		pathLabel = "unmatched"
	}

	m.httpRequestsTotal.WithLabelValues(methodLabel, pathLabel, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(methodLabel, pathLabel).Observe(duration.Seconds())
}

func routePath(c *fiber.Ctx) string {
	if c == nil {
		return "unmatched"
	}

	if route := c.Route(); route != nil {
		if path := strings.TrimSpace(route.Path); path != "" {
			return path
		}
	}
	return "unmatched"
}

func statusFromResult(c *fiber.Ctx, err error) int {
	if err != nil {
		if fiberErr, ok := err.(*fiber.Error); ok {
			return fiberErr.Code
		}
		return fiber.StatusInternalServerError
	}

	if c == nil {
		return fiber.StatusOK
	}

	status := c.Response().StatusCode()
	if status == 0 {
		return fiber.StatusOK
	}
	return status
}
