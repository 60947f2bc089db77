package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersPlacedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "soilify_orders_placed_total",
		Help: "Total number of orders placed",
	}, []string{"channel", "payment_method"})

	OrdersFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "soilify_orders_failed_total",
		Help: "Total number of rejected order placements",
	}, []string{"reason"})

	OrderTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "soilify_order_transitions_total",
		Help: "Total number of applied order status actions",
	}, []string{"action"})

	InvalidTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "soilify_invalid_transitions_total",
		Help: "Total number of refused order status actions",
	}, []string{"action"})

	OrdersClearedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "soilify_orders_cleared_total",
		Help: "Total number of orders removed by history clearing",
	})

	StockDecrementLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "soilify_stock_decrement_latency_seconds",
		Help:    "Latency of post-placement stock decrements",
		Buckets: prometheus.DefBuckets,
	})

	StockDecrementFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "soilify_stock_decrement_failures_total",
		Help: "Total number of failed stock decrements after order creation",
	}, []string{"reason"})

	StockMirrorErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "soilify_stock_mirror_errors_total",
		Help: "Total number of failed redis stock mirror writes",
	})

	StockReadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "soilify_stock_reads_total",
		Help: "Total number of stock lookups by source",
	}, []string{"source"})

	PaymentCallbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "soilify_payment_callbacks_total",
		Help: "Total number of payment gateway callbacks",
	}, []string{"result"})

	CheckoutSessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "soilify_checkout_sessions_total",
		Help: "Total number of gateway checkout sessions created",
	}, []string{"provider"})

	ChatMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "soilify_chat_messages_total",
		Help: "Total number of chat assistant events by resulting state",
	}, []string{"state"})

	RealtimeSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "soilify_realtime_subscribers",
		Help: "Number of connected change-stream subscribers",
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
