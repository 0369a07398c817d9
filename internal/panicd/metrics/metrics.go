package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for the service
type Metrics struct {
	NotificationsSent    prometheus.Counter
	NotificationsFailed  prometheus.Counter
	NotificationsSkipped prometheus.Counter

	SubmissionsAccepted prometheus.Counter
	SubmissionsRejected prometheus.Counter

	WithdrawalsCreated *prometheus.CounterVec
	PayoutsConfirmed   prometheus.Counter

	TxRetries prometheus.Counter
}

// NewMetrics registers and returns the service metrics on the given
// registerer. Pass prometheus.DefaultRegisterer in production.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		NotificationsSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "panicd",
			Name:      "notifications_sent_total",
			Help:      "Push notifications delivered to the relay",
		}),
		NotificationsFailed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "panicd",
			Name:      "notifications_failed_total",
			Help:      "Push notification sends that failed",
		}),
		NotificationsSkipped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "panicd",
			Name:      "notifications_skipped_total",
			Help:      "Recipients skipped for missing token or push turned off",
		}),
		SubmissionsAccepted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "panicd",
			Name:      "footage_accepted_total",
			Help:      "Footage submissions accepted and paid",
		}),
		SubmissionsRejected: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "panicd",
			Name:      "footage_rejected_total",
			Help:      "Footage submissions rejected at the responder cap",
		}),
		WithdrawalsCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "panicd",
			Name:      "withdrawals_created_total",
			Help:      "Withdrawals committed, by method",
		}, []string{"method"}),
		PayoutsConfirmed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "panicd",
			Name:      "payouts_confirmed_total",
			Help:      "Withdrawals confirmed paid by the payout provider",
		}),
		TxRetries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "panicd",
			Name:      "store_tx_retries_total",
			Help:      "Store transactions retried after a serialization conflict",
		}),
	}
}
