package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "karcis_orders_created_total",
		Help: "Orders successfully created with a payment session.",
	})

	OutcomesApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "karcis_gateway_outcomes_applied_total",
		Help: "Gateway outcomes applied to orders, by resulting status.",
	}, []string{"outcome"})

	NotificationsIgnored = promauto.NewCounter(prometheus.CounterOpts{
		Name: "karcis_gateway_notifications_ignored_total",
		Help: "Webhook notifications acknowledged without a state change.",
	})

	TicketsRedeemed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "karcis_tickets_redeemed_total",
		Help: "Tickets checked in at the gate.",
	})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "karcis_http_requests_total",
		Help: "HTTP requests by method, path and status.",
	}, []string{"method", "path", "status"})

	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "karcis_http_request_duration_seconds",
		Help:    "HTTP request latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})
)
