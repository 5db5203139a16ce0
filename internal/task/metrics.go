package task

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/modelzoo/modelzoo/internal/prom"
)

const subsystem = "tasks"

type metrics struct {
	queued   prometheus.Gauge
	running  prometheus.Gauge
	rejected *prometheus.CounterVec
	outcomes *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		queued: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: prom.ZooNamespace,
			Subsystem: subsystem,
			Name:      "queued",
			Help:      "Tasks waiting for a worker.",
		}),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: prom.ZooNamespace,
			Subsystem: subsystem,
			Name:      "running",
			Help:      "Tasks currently executing.",
		}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: prom.ZooNamespace,
			Subsystem: subsystem,
			Name:      "rejected_total",
			Help:      "Submissions refused because the queue was full.",
		}, []string{"kind"}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: prom.ZooNamespace,
			Subsystem: subsystem,
			Name:      "finished_total",
			Help:      "Finished tasks by kind and final state.",
		}, []string{"kind", "state"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: prom.ZooNamespace,
			Subsystem: subsystem,
			Name:      "duration_seconds",
			Help:      "Task run time.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
		}, []string{"kind"}),
	}
	if reg != nil {
		reg.MustRegister(m.queued, m.running, m.rejected, m.outcomes, m.duration)
	}
	return m
}
