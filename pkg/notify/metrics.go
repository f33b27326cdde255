package notify

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	notificationsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "castellan_notifications_sent_total",
		Help: "Alerts delivered per channel.",
	}, []string{"channel"})

	notificationsThrottled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "castellan_notifications_throttled_total",
		Help: "Alerts suppressed by throttle windows per channel.",
	}, []string{"channel"})

	notificationsRateLimited = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "castellan_notifications_rate_limited_total",
		Help: "Alerts dropped by the dispatch budget per channel.",
	}, []string{"channel"})

	notificationsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "castellan_notifications_failed_total",
		Help: "Alerts that failed delivery after retries per channel.",
	}, []string{"channel"})
)
