package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "chat"

type Metrics struct {
	HTTPRequests         *prometheus.CounterVec
	HTTPDuration         *prometheus.HistogramVec
	Connections          prometheus.Gauge
	FramesDropped        prometheus.Counter
	MessagesSent         prometheus.Counter
	WebhookDeliveries    *prometheus.CounterVec
	WebhookAttempts      *prometheus.CounterVec
	NotificationsPending prometheus.Gauge
	NotificationsFired   *prometheus.CounterVec
	DialogsArchived      prometheus.Counter
	ArchiveRuns          *prometheus.CounterVec
}

// New регистрирует метрики в reg. В тестах передается отдельный prometheus.NewRegistry().
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		Connections: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ws_connections",
			Help:      "Open WebSocket connections on this instance.",
		}),
		FramesDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_frames_dropped_total",
			Help:      "Frames dropped because a connection send buffer was full.",
		}),
		MessagesSent: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_sent_total",
			Help:      "User messages persisted.",
		}),
		WebhookDeliveries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_deliveries_total",
			Help:      "Webhook deliveries by event type and final result.",
		}, []string{"event", "result"}),
		WebhookAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_attempts_total",
			Help:      "Individual webhook HTTP attempts.",
		}, []string{"event"}),
		NotificationsPending: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "notifications_pending",
			Help:      "Debounced notifications waiting for their timer.",
		}),
		NotificationsFired: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_fired_total",
			Help:      "Expired notification timers by outcome.",
		}, []string{"result"}),
		DialogsArchived: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "participants_archived_total",
			Help:      "Participant dialog entries archived for inactivity.",
		}),
		ArchiveRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "archive_runs_total",
			Help:      "Auto-archive runs by result.",
		}, []string{"result"}),
	}
}

// NewNop: метрики в изолированном реестре, который никто не читает.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}

// Handler returns an http.Handler for Prometheus scraping
func Handler() http.Handler {
	return promhttp.Handler()
}
