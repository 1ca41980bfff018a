// Package metrics exposes Prometheus counters for the dispatch engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector records engine metrics. A nil *Collector is a no-op, so tests
// and wiring can leave metrics out.
type Collector struct {
	dispatchesTotal  *prometheus.CounterVec
	dispatchDuration prometheus.Histogram
	stateFaultsTotal *prometheus.CounterVec
	tasksSentTotal   *prometheus.CounterVec
	remindersTotal   prometheus.Counter
	broadcastsTotal  prometheus.Counter
	queueDepth       prometheus.Gauge
}

// NewCollector registers the engine metrics with the default registry.
func NewCollector() *Collector {
	return &Collector{
		dispatchesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "botflow_dispatches_total",
				Help: "Dispatch cycles by originating service",
			},
			[]string{"service"},
		),
		dispatchDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "botflow_dispatch_duration_seconds",
				Help:    "Duration of one dispatch cycle",
				Buckets: prometheus.DefBuckets,
			},
		),
		stateFaultsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "botflow_state_faults_total",
				Help: "Contained faults raised inside authored state steps",
			},
			[]string{"state"},
		),
		tasksSentTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "botflow_outbound_tasks_total",
				Help: "Outbound task sends by result",
			},
			[]string{"status"},
		),
		remindersTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "botflow_reminders_sent_total",
				Help: "Reminder deliveries dispatched by the scheduler",
			},
		),
		broadcastsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "botflow_broadcasts_sent_total",
				Help: "Broadcast records fanned out by the scheduler",
			},
		),
		queueDepth: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "botflow_queue_depth",
				Help: "Requests waiting in the work queue",
			},
		),
	}
}

func (c *Collector) DispatchDone(service string, d time.Duration) {
	if c == nil {
		return
	}
	c.dispatchesTotal.WithLabelValues(service).Inc()
	c.dispatchDuration.Observe(d.Seconds())
}

func (c *Collector) StateFault(state string) {
	if c == nil {
		return
	}
	c.stateFaultsTotal.WithLabelValues(state).Inc()
}

func (c *Collector) TaskSent(ok bool) {
	if c == nil {
		return
	}
	status := "ok"
	if !ok {
		status = "error"
	}
	c.tasksSentTotal.WithLabelValues(status).Inc()
}

func (c *Collector) ReminderSent() {
	if c == nil {
		return
	}
	c.remindersTotal.Inc()
}

func (c *Collector) BroadcastSent() {
	if c == nil {
		return
	}
	c.broadcastsTotal.Inc()
}

func (c *Collector) SetQueueDepth(n int) {
	if c == nil {
		return
	}
	c.queueDepth.Set(float64(n))
}
