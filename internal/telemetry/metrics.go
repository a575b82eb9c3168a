package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	BookingsCreated      = prometheus.NewCounter(prometheus.CounterOpts{Name: "tc_bookings_created_total", Help: "Jobs created (one per scheduled date)"})
	CapacityRejections   = prometheus.NewCounter(prometheus.CounterOpts{Name: "tc_capacity_rejections_total", Help: "Requested dates rejected because the day was full"})
	ConfirmationsIssued  = prometheus.NewCounter(prometheus.CounterOpts{Name: "tc_confirmations_issued_total", Help: "Deferred bookings awaiting email confirmation"})
	ConfirmationsUsed    = prometheus.NewCounter(prometheus.CounterOpts{Name: "tc_confirmations_consumed_total", Help: "Confirmation links successfully consumed"})
	BookingConflicts     = prometheus.NewCounter(prometheus.CounterOpts{Name: "tc_booking_conflicts_total", Help: "Lifecycle writes lost to a concurrent edit"})
	NotificationsSent    = prometheus.NewCounter(prometheus.CounterOpts{Name: "tc_notifications_sent_total", Help: "Notification emails delivered"})
	NotificationsFailed  = prometheus.NewCounter(prometheus.CounterOpts{Name: "tc_notifications_failed_total", Help: "Notification attempts that failed and will retry"})
	NotificationsDead    = prometheus.NewCounter(prometheus.CounterOpts{Name: "tc_notifications_dead_letter_total", Help: "Notifications moved to the DLQ"})
	RateLimitRejects     = prometheus.NewCounter(prometheus.CounterOpts{Name: "tc_rate_limit_rejects_total", Help: "Submissions rejected by the rate limiter"})
	NotifyQueueDepth     = prometheus.NewGauge(prometheus.GaugeOpts{Name: "tc_notify_queue_depth", Help: "Ready notification queue depth"})
)

// Handler exposes /metrics with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			BookingsCreated,
			CapacityRejections,
			ConfirmationsIssued,
			ConfirmationsUsed,
			BookingConflicts,
			NotificationsSent,
			NotificationsFailed,
			NotificationsDead,
			RateLimitRejects,
			NotifyQueueDepth,
		)
	})
	return promhttp.Handler()
}
