package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/obsidianstack/vigil/pkg/types"
)

const namespace = "vigil"

// Label names.
const (
	ModeLabel    = "mode"
	StatusLabel  = "status"
	LoopLabel    = "loop"
	ProbeLabel   = "probe"
	NodeLabel    = "node"
	ChannelLabel = "channel"
	ResultLabel  = "result"
	TaskLabel    = "task"
	KindLabel    = "kind"
)

// Recorder owns the server's Prometheus collectors. A nil *Recorder is valid
// and records nothing, which keeps tests free of registry plumbing.
type Recorder struct {
	probeDuration  *prometheus.HistogramVec
	probeResults   *prometheus.CounterVec
	cycleDuration  *prometheus.HistogramVec
	globalStatus   prometheus.Gauge
	probeStatus    *prometheus.GaugeVec
	nodeStatus     *prometheus.GaugeVec
	notifications  *prometheus.CounterVec
	dispatches     *prometheus.CounterVec
	reports        *prometheus.CounterVec
	restarts       *prometheus.CounterVec
	backoffCounter prometheus.Gauge
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		probeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "prober",
				Name:      "probe_duration_seconds",
				Help:      "Duration of replica probes, retries included.",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{ModeLabel},
		),
		probeResults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "prober",
				Name:      "probe_results_total",
				Help:      "Replica probe results by mode and status.",
			},
			[]string{ModeLabel, StatusLabel},
		),
		cycleDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "prober",
				Name:      "cycle_duration_seconds",
				Help:      "Duration of a full poll or script cycle.",
				Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
			},
			[]string{LoopLabel},
		),
		globalStatus: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "aggregator",
				Name:      "global_status",
				Help:      "Global status after the last pass (0 healthy, 1 sick, 2 dead).",
			},
		),
		probeStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "aggregator",
				Name:      "probe_status",
				Help:      "Service status after the last pass (0 healthy, 1 sick, 2 dead).",
			},
			[]string{ProbeLabel},
		),
		nodeStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "aggregator",
				Name:      "node_status",
				Help:      "Node status after the last pass (0 healthy, 1 sick, 2 dead).",
			},
			[]string{ProbeLabel, NodeLabel},
		),
		notifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "notify",
				Name:      "channel_deliveries_total",
				Help:      "Notification deliveries per channel and result.",
			},
			[]string{ChannelLabel, ResultLabel},
		),
		dispatches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "notify",
				Name:      "dispatches_total",
				Help:      "Notifications handed to the dispatcher by kind.",
			},
			[]string{KindLabel},
		),
		reports: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "reporter",
				Name:      "reports_total",
				Help:      "Push and local reports received.",
			},
			[]string{ProbeLabel, NodeLabel, ResultLabel},
		),
		restarts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "supervisor",
				Name:      "restarts_total",
				Help:      "Restarts of supervised loops.",
			},
			[]string{TaskLabel},
		),
		backoffCounter: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "aggregator",
				Name:      "reminder_backoff_counter",
				Help:      "Current reminder backoff counter.",
			},
		),
	}

	reg.MustRegister(
		r.probeDuration,
		r.probeResults,
		r.cycleDuration,
		r.globalStatus,
		r.probeStatus,
		r.nodeStatus,
		r.notifications,
		r.dispatches,
		r.reports,
		r.restarts,
		r.backoffCounter,
	)
	return r
}

// ObserveProbe records one replica probe outcome.
func (r *Recorder) ObserveProbe(mode types.Mode, status types.Status, took time.Duration) {
	if r == nil {
		return
	}
	r.probeDuration.WithLabelValues(string(mode)).Observe(took.Seconds())
	r.probeResults.WithLabelValues(string(mode), status.String()).Inc()
}

// ObserveCycle records the duration of a whole probing cycle.
func (r *Recorder) ObserveCycle(loop string, took time.Duration) {
	if r == nil {
		return
	}
	r.cycleDuration.WithLabelValues(loop).Observe(took.Seconds())
}

// SetGlobalStatus records the rolled-up global status and backoff counter.
func (r *Recorder) SetGlobalStatus(status types.Status, backoff int) {
	if r == nil {
		return
	}
	r.globalStatus.Set(float64(status))
	r.backoffCounter.Set(float64(backoff))
}

// SetProbeStatus records a service status.
func (r *Recorder) SetProbeStatus(probe string, status types.Status) {
	if r == nil {
		return
	}
	r.probeStatus.WithLabelValues(probe).Set(float64(status))
}

// SetNodeStatus records a node status.
func (r *Recorder) SetNodeStatus(probe, node string, status types.Status) {
	if r == nil {
		return
	}
	r.nodeStatus.WithLabelValues(probe, node).Set(float64(status))
}

// ObserveDelivery records the final outcome of one channel delivery.
func (r *Recorder) ObserveDelivery(channel string, err error) {
	if r == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	r.notifications.WithLabelValues(channel, result).Inc()
}

// ObserveDispatch counts a notification by kind (startup, changed, reminder).
func (r *Recorder) ObserveDispatch(kind string) {
	if r == nil {
		return
	}
	r.dispatches.WithLabelValues(kind).Inc()
}

// ObserveReport counts a reporter API call.
func (r *Recorder) ObserveReport(probe, node string, err error) {
	if r == nil {
		return
	}
	result := "accepted"
	if err != nil {
		result = "rejected"
	}
	r.reports.WithLabelValues(probe, node, result).Inc()
}

// ObserveRestart counts a supervised loop restart.
func (r *Recorder) ObserveRestart(task string) {
	if r == nil {
		return
	}
	r.restarts.WithLabelValues(task).Inc()
}
