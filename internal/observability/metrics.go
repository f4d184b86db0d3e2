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
			Name: "teamlink_http_requests_total",
			Help: "Total number of HTTP requests processed by the messaging core.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "teamlink_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	messagesSentTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "teamlink_messages_sent_total",
			Help: "Outbound messages by chosen transport and operation.",
		},
		[]string{"transport", "operation"},
	)
	transportUnavailableTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "teamlink_transport_unavailable_total",
			Help: "Sends that failed because neither transport was ready.",
		},
	)
	messagesIngestedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "teamlink_messages_ingested_total",
			Help: "Inbound messages ingested, by source transport.",
		},
		[]string{"transport"},
	)
	frameDecodeErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "teamlink_frame_decode_errors_total",
			Help: "Device frames dropped because they failed to decode.",
		},
	)
	unresolvedSendersTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "teamlink_unresolved_senders_total",
			Help: "Device frames ingested with an empty sender snapshot.",
		},
	)
	wsActiveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "teamlink_ws_active_connections",
			Help: "Number of active websocket connections.",
		},
	)
	wsEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "teamlink_ws_events_total",
			Help: "Total number of websocket events.",
		},
		[]string{"event"},
	)
	amqpPublishErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "teamlink_amqp_publish_errors_total",
			Help: "Total number of AMQP publish errors.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		messagesSentTotal,
		transportUnavailableTotal,
		messagesIngestedTotal,
		frameDecodeErrorsTotal,
		unresolvedSendersTotal,
		wsActiveConnections,
		wsEventsTotal,
		amqpPublishErrorsTotal,
	)
}

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

func IncMessageSent(transport, operation string) {
	messagesSentTotal.WithLabelValues(transport, operation).Inc()
}

func IncTransportUnavailable() {
	transportUnavailableTotal.Inc()
}

func IncMessageIngested(transport string) {
	messagesIngestedTotal.WithLabelValues(transport).Inc()
}

func IncFrameDecodeError() {
	frameDecodeErrorsTotal.Inc()
}

func IncUnresolvedSender() {
	unresolvedSendersTotal.Inc()
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

func IncAMQPPublishError() {
	amqpPublishErrorsTotal.Inc()
}
