package notification

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	Delivered *prometheus.CounterVec
	Failed    *prometheus.CounterVec
	Duration  *prometheus.HistogramVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Delivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "carebridge_notifications_delivered_total",
			Help: "Notifications delivered by channel and category.",
		}, []string{"channel", "category"}),
		Failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "carebridge_notifications_failed_total",
			Help: "Notification delivery failures by channel. Channel \"render\" counts template errors.",
		}, []string{"channel"}),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "carebridge_notification_send_duration_seconds",
			Help:    "Time spent sending one notification on a channel.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 8), // 1ms .. ~16s
		}, []string{"channel"}),
	}
	reg.MustRegister(m.Delivered, m.Failed, m.Duration)
	return m
}
