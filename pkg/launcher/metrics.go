package launcher

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	running prometheus.Gauge
	exits   *prometheus.CounterVec
}

func newMetrics(namespace string, registerer prometheus.Registerer) *metrics {
	factory := promauto.With(registerer)

	return &metrics{
		running: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scheduled_tasks_running",
			Help:      "Number of scheduled functions currently running",
		}),
		exits: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduled_task_exits_total",
			Help:      "Total number of scheduled function exits by reason",
		}, []string{"task", "reason"}),
	}
}
