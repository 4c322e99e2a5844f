package observability

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_http_requests_total",
			Help: "Total number of HTTP requests processed by the chat service.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	wsActiveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_ws_active_connections",
			Help: "Number of active websocket connections.",
		},
	)
	wsEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_ws_events_total",
			Help: "Total number of websocket events.",
		},
		[]string{"event"},
	)
	relayedEnvelopesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_relayed_envelopes_total",
			Help: "Total number of encrypted envelopes relayed, by kind.",
		},
		[]string{"kind"},
	)
	ticketsIssuedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_tickets_issued_total",
			Help: "Total number of tickets issued after payment verification.",
		},
	)
	roomsClosedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_rooms_closed_total",
			Help: "Total number of rooms torn down, by reason.",
		},
		[]string{"reason"},
	)
	sweepsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_sweeps_total",
			Help: "Total number of sweeper iterations, by kind.",
		},
		[]string{"kind"},
	)
	amqpPublishErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_amqp_publish_errors_total",
			Help: "Total number of AMQP publish errors.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		wsActiveConnections,
		wsEventsTotal,
		relayedEnvelopesTotal,
		ticketsIssuedTotal,
		roomsClosedTotal,
		sweepsTotal,
		amqpPublishErrorsTotal,
	)
}

// HTTPMetricsMiddleware records request counts and latencies per route.
func HTTPMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		status := c.Writer.Status()

		httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

func IncWSActive() {
	wsActiveConnections.Inc()
}

func DecWSActive() {
	wsActiveConnections.Dec()
}

func IncWSEvent(event string) {
	wsEventsTotal.WithLabelValues(event).Inc()
}

func IncRelayedEnvelope(kind string) {
	relayedEnvelopesTotal.WithLabelValues(kind).Inc()
}

func IncTicketIssued() {
	ticketsIssuedTotal.Inc()
}

func IncRoomClosed(reason string) {
	roomsClosedTotal.WithLabelValues(reason).Inc()
}

func IncSweep(kind string) {
	sweepsTotal.WithLabelValues(kind).Inc()
}

func IncAMQPPublishError() {
	amqpPublishErrorsTotal.Inc()
}
