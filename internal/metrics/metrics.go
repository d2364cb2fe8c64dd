// Package metrics exposes prometheus collectors for the matchmaking core and
// the HTTP layer.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	QueueJoinsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "match_queue_joins_total",
		Help: "Queue joins by outcome (waiting, matched, error)",
	}, []string{"outcome"})
	QueueCancelsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "match_queue_cancels_total",
		Help: "Total number of queue cancellations",
	})
	RoomsClosedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_rooms_closed_total",
		Help: "Total number of leave requests that closed a room",
	})
	MessagesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_messages_total",
		Help: "Total number of chat messages appended",
	})
	MessagesRejectedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_messages_rejected_total",
		Help: "Messages rejected by the content policy gate, by reason",
	}, []string{"reason"})
	LiveClients = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "chat_live_clients",
		Help: "Currently connected live clients by kind",
	}, []string{"kind"})
	HttpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
	HttpRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})
)

func init() {
	prometheus.MustRegister(
		QueueJoinsTotal, QueueCancelsTotal, RoomsClosedTotal,
		MessagesTotal, MessagesRejectedTotal, LiveClients,
		HttpRequestsTotal, HttpRequestDuration,
	)
}

// GinMiddleware records request counts and latency per route.
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := strconv.Itoa(c.Writer.Status())
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		labels := prometheus.Labels{"method": c.Request.Method, "path": path, "status": status}
		HttpRequestsTotal.With(labels).Inc()
		HttpRequestDuration.With(labels).Observe(time.Since(start).Seconds())
	}
}
