package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smartbuilding_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "smartbuilding_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "endpoint"},
	)

	// Poller metrics
	PollerTicksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smartbuilding_poller_ticks_total",
			Help: "Total number of poller ticks",
		},
		[]string{"status"}, // ok, source_error
	)

	PollerTickDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "smartbuilding_poller_tick_duration_seconds",
			Help:    "Duration of one poller tick",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
	)

	PollerSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "smartbuilding_poller_subscribers",
			Help: "Current number of poller subscribers",
		},
	)

	EventsFetched = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "smartbuilding_events_fetched",
			Help:    "Number of telemetry events fetched per tick",
			Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
	)

	// Rule metrics
	RuleEvaluationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smartbuilding_rule_evaluations_total",
			Help: "Total number of rule evaluations",
		},
		[]string{"rule_type", "result"}, // result: triggered, quiet, cooldown, error
	)

	RuleTriggersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smartbuilding_rule_triggers_total",
			Help: "Total number of rule triggers",
		},
		[]string{"severity"},
	)

	// Notification metrics
	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smartbuilding_notifications_total",
			Help: "Total number of notification attempts",
		},
		[]string{"channel", "status"}, // status: sent, failed
	)

	NotificationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "smartbuilding_notification_duration_seconds",
			Help:    "Notification delivery latency in seconds",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"channel"},
	)

	// Realtime metrics
	RealtimePublishTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smartbuilding_realtime_publish_total",
			Help: "Total number of realtime events published",
		},
		[]string{"transport", "event", "status"},
	)

	RealtimeClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "smartbuilding_realtime_clients",
			Help: "Current number of connected stream clients",
		},
	)
)
