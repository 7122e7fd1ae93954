package monitoring

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: []float64{0.1, 0.5, 1, 2, 5},
		},
		[]string{"method", "endpoint"},
	)

	// Agent 相关指标
	ActiveAgents = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "agent_active_total",
			Help: "Number of live agents by role",
		},
		[]string{"role"},
	)

	AgentDispatchCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agent_dispatch_total",
			Help: "Agent actions dispatched, by action type and outcome",
		},
		[]string{"action", "status"},
	)

	AgentDispatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agent_dispatch_duration_seconds",
			Help:    "Duration of agent action processing",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		},
		[]string{"action"},
	)

	GenerationFallbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agent_generation_fallback_total",
			Help: "Text generation failures answered with a static fallback",
		},
		[]string{"reason"},
	)

	RecommendationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agent_recommendation_duration_seconds",
			Help:    "Duration of recommendation generation",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"source"},
	)

	RecommendationCacheCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agent_recommendation_cache_total",
			Help: "Recommendation cache lookups by result",
		},
		[]string{"result"},
	)

	NotificationCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agent_notifications_total",
			Help: "Cross-role notifications by recipient role and outcome",
		},
		[]string{"role", "status"},
	)

	NotificationOnlineUsers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "agent_notification_online_users",
			Help: "Websocket clients connected to the notification hub on this node",
		},
	)
)

func Init() {
	prometheus.MustRegister(RequestCounter)
	prometheus.MustRegister(RequestDuration)
	prometheus.MustRegister(ActiveAgents)
	prometheus.MustRegister(AgentDispatchCounter)
	prometheus.MustRegister(AgentDispatchDuration)
	prometheus.MustRegister(GenerationFallbacks)
	prometheus.MustRegister(RecommendationDuration)
	prometheus.MustRegister(RecommendationCacheCounter)
	prometheus.MustRegister(NotificationCounter)
	prometheus.MustRegister(NotificationOnlineUsers)
}

func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := c.Writer.Status()
		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}

		RequestCounter.WithLabelValues(
			c.Request.Method,
			endpoint,
			strconv.Itoa(status),
		).Inc()

		RequestDuration.WithLabelValues(
			c.Request.Method,
			endpoint,
		).Observe(duration)
	}
}

// ObserveSince 记录从 start 开始的耗时
func ObserveSince(h *prometheus.HistogramVec, start time.Time, labels ...string) {
	h.WithLabelValues(labels...).Observe(time.Since(start).Seconds())
}

func PrometheusHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
