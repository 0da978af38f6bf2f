package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the daemon.
type Metrics struct {
	Commands        *prometheus.CounterVec
	Events          *prometheus.CounterVec
	TasksFinished   *prometheus.CounterVec
	ChatTurns       *prometheus.CounterVec
	SessionsCreated prometheus.Counter
	Subscribers     prometheus.Gauge
	BroadcastDrops  prometheus.Counter
	Connections     prometheus.Gauge
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		Commands: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Dispatched commands by action and outcome.",
		}, []string{"action", "outcome"}),
		Events: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Broadcast events by type.",
		}, []string{"type"}),
		TasksFinished: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_finished_total",
			Help:      "Tasks that reached a terminal status.",
		}, []string{"status"}),
		ChatTurns: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_turns_total",
			Help:      "Finished chat exchanges by outcome.",
		}, []string{"outcome"}),
		SessionsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_created_total",
			Help:      "Sessions created over the daemon's lifetime.",
		}),
		Subscribers: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "event_subscribers",
			Help:      "Connections currently subscribed to the event stream.",
		}),
		BroadcastDrops: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcast_drops_total",
			Help:      "Subscribers dropped because an event write failed.",
		}),
		Connections: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "open_connections",
			Help:      "Open client connections on the command transport.",
		}),
	}
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
