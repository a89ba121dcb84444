package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersCreatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_created_total",
		Help: "Total number of orders created",
	}, []string{"order_type"})

	OrdersFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_failed_total",
		Help: "Total number of failed checkout attempts",
	}, []string{"reason"})

	OrdersCancelledTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_cancelled_total",
		Help: "Total number of cancelled orders",
	}, []string{"actor"})

	OrderStatusTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "order_status_transitions_total",
		Help: "Total number of order status transitions",
	}, []string{"from", "to"})

	StockReserveLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "stock_reserve_latency_seconds",
		Help:    "Latency of stock reservation for one order",
		Buckets: prometheus.DefBuckets,
	})

	StockReservationsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stock_reservations_failed_total",
		Help: "Total number of failed stock reservations",
	}, []string{"reason"})

	PaymentLinksIssuedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payment_links_issued_total",
		Help: "Total number of payment links created at the provider",
	})

	PaymentLinksReusedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_links_reused_total",
		Help: "Total number of payment link requests served by an existing link",
	}, []string{"source"})

	PaymentLinksFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_links_failed_total",
		Help: "Total number of failed payment link requests",
	}, []string{"reason"})

	PaymentProviderLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "payment_provider_latency_seconds",
		Help:    "Latency of calls to the payment provider",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	PaymentEventsProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_events_processed_total",
		Help: "Total number of payment events consumed",
	}, []string{"event_type", "result"})

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
