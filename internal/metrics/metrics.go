package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	NotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "windowobserver",
			Subsystem: "observer",
			Name:      "notifications_total",
			Help:      "Native notifications delivered to the interpreter",
		},
		[]string{"backend", "signal"},
	)

	EventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "windowobserver",
			Subsystem: "observer",
			Name:      "events_total",
			Help:      "Events dispatched to consumers after filtering",
		},
		[]string{"backend", "kind"},
	)

	ErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "windowobserver",
			Subsystem: "observer",
			Name:      "translation_errors_total",
			Help:      "Errors reported inline on the event stream",
		},
		[]string{"backend"},
	)

	ActiveSessions = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "windowobserver",
			Subsystem: "observer",
			Name:      "active_sessions",
			Help:      "Observation sessions whose delivery thread is running",
		},
		[]string{"backend"},
	)
)

func init() {
	prometheus.MustRegister(NotificationsTotal, EventsTotal, ErrorsTotal, ActiveSessions)
}

// Handler exposes the default registry
func Handler() http.Handler {
	return promhttp.Handler()
}
