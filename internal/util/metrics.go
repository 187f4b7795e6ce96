package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	GatewayRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pos_gateway_requests_total",
		Help: "Total number of gateway requests by action and response code",
	}, []string{"action", "code"})

	GatewayRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pos_gateway_request_duration_seconds",
		Help:    "Latency of gateway actions",
		Buckets: prometheus.DefBuckets,
	}, []string{"action"})

	AuthFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pos_auth_failures_total",
		Help: "Total number of rejected POS requests",
	}, []string{"reason"})

	ReplayRejectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pos_replay_rejections_total",
		Help: "Total number of requests rejected as replays",
	})

	MenuItemsPushedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pos_menu_items_pushed_total",
		Help: "Total number of menu items pushed to POS vendors",
	}, []string{"vendor", "result"})

	OrdersSyncedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pos_orders_synced_total",
		Help: "Total number of synced orders",
	}, []string{"result"})

	BaselineDegradedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pos_baseline_degraded_total",
		Help: "Total number of orders processed without a baseline",
	})

	BaselineLookupLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pos_baseline_lookup_latency_seconds",
		Help:    "Latency of carbon baseline lookups",
		Buckets: prometheus.DefBuckets,
	})

	WebhooksEnqueuedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pos_webhooks_enqueued_total",
		Help: "Total number of webhook events queued for delivery",
	}, []string{"event"})

	WebhookDeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pos_webhook_deliveries_total",
		Help: "Total number of webhook delivery outcomes",
	}, []string{"result"})

	WebhookDeliveryLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pos_webhook_delivery_latency_seconds",
		Help:    "Latency of single webhook delivery attempts",
		Buckets: prometheus.DefBuckets,
	})

	SyncLogWriteFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pos_sync_log_write_failures_total",
		Help: "Total number of sync log entries that could not be written",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
