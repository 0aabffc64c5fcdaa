package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventhub_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "code", "method"},
	)

	BookingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventhub_bookings_total",
			Help: "Booking attempts by outcome",
		},
		[]string{"outcome"},
	)

	InventoryRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "eventhub_inventory_rejections_total",
			Help: "Bookings rejected for insufficient inventory",
		},
	)

	CallbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventhub_payment_callbacks_total",
			Help: "Payment provider callbacks by result",
		},
		[]string{"result"},
	)

	ReapedReservations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "eventhub_reaped_reservations_total",
			Help: "Unpaid reservations deleted by the reaper",
		},
	)

	DBTxDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "eventhub_db_tx_seconds",
			Help:    "Duration of DB transactions",
			Buckets: prometheus.DefBuckets,
		},
	)

	OutboxLag = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "eventhub_outbox_lag_seconds",
			Help: "Age of the oldest unpublished outbox record",
		},
	)

	RateLimitExceeded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "eventhub_rate_limit_exceeded_total",
			Help: "Requests rejected by the rate limiter",
		},
	)
)
