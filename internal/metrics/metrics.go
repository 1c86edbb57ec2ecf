// Package metrics exposes Prometheus instrumentation for the decision
// engine and a gin middleware that records HTTP request metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "leadflow",
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests by method, route, and status code.",
	}, []string{"method", "route", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "leadflow",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})

	DecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "leadflow",
		Name:      "decisions_total",
		Help:      "Total decisions produced by interaction type.",
	}, []string{"interaction"})

	GateResolutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "leadflow",
		Name:      "gate_resolutions_total",
		Help:      "Confirmation gate resolutions by layer and polarity.",
	}, []string{"layer", "polarity"})

	LLMCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "leadflow",
		Name:      "llm_call_duration_seconds",
		Help:      "Latency of LLM calls by purpose.",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"purpose", "outcome"})

	AutomationsSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "leadflow",
		Name:      "automations_sent_total",
		Help:      "Outbound automation deliveries by automation id.",
	}, []string{"automation"})

	ReviewsQueuedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "leadflow",
		Name:      "reviews_queued_total",
		Help:      "Decisions flagged for human review.",
	})

	WaitingStatesExpired = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "leadflow",
		Name:      "waiting_states_expired_total",
		Help:      "Waiting confirmations cleared by the periodic sweep.",
	})
)

// Handler serves the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// GinMiddleware records request count and latency per registered route.
// Unmatched routes are bucketed together to keep cardinality bounded.
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}

		HTTPRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		HTTPRequestDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}

// ObserveLLMCall records one LLM round trip.
func ObserveLLMCall(purpose string, elapsed time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	LLMCallDuration.WithLabelValues(purpose, outcome).Observe(elapsed.Seconds())
}
