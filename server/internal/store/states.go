package store

import (
	"net/http"
	"regexp"
	"time"

	"github.com/obsidianstack/vigil/pkg/types"
)

// ServiceStates is the root of the health tree.
type ServiceStates struct {
	Status types.Status
	// Date is the time of the last aggregation pass, pre-formatted for display.
	Date     string
	Probes   []*Probe
	Notifier Notifier
}

// Notifier holds the reminder state that survives across aggregation passes.
type Notifier struct {
	// ReminderBackoffCounter is always >= 1.
	ReminderBackoffCounter int
	// ReminderIgnoreUntil snoozes reminders while in the future. Set by
	// operators through the manager API.
	ReminderIgnoreUntil *time.Time
}

// Probe is one configured service.
type Probe struct {
	ID     string
	Label  string
	Status types.Status
	Nodes  []*Node
}

// Node groups replicas that share a mode and probe options.
type Node struct {
	ID       string
	Label    string
	Mode     types.Mode
	Status   types.Status
	Replicas []*Replica
	HTTP     HTTPOptions
	Queue    *QueueCheck
}

// HTTPOptions are the per-node settings of an HTTP(S) poll.
type HTTPOptions struct {
	Headers http.Header
	// Method is empty when unset; the prober then picks GET or HEAD.
	Method      string
	Body        string
	BodyMatch   *regexp.Regexp
	CacheBuster bool
}

func (o HTTPOptions) clone() HTTPOptions {
	o.Headers = o.Headers.Clone()
	return o
}

// QueueCheck names a broker queue whose depth gates the node's health.
// Nil thresholds fall back to the plugin-wide ones.
type QueueCheck struct {
	Queue            string
	NackHealthyBelow *uint64
	NackDeadAbove    *uint64
}

// Replica is the smallest probed unit. Exactly one of URL and Script is set
// for Poll and Script nodes; pushed replicas carry neither.
type Replica struct {
	ID      string
	Status  types.Status
	URL     ReplicaURL
	Script  string
	Metrics Metrics
	Load    *Load
	Report  *Report
}

// Metrics are the measurements attached to a replica.
type Metrics struct {
	Latency *time.Duration
	System  *SystemMetrics
	Queue   *QueueMetrics
}

// SystemMetrics are reported load ratios in percent.
type SystemMetrics struct {
	CPU uint16
	RAM uint16
}

// QueueMetrics are the last observed queue counters.
type QueueMetrics struct {
	Ready uint64
	Nack  uint64
}

// Load is the last load snapshot a push reporter sent.
type Load struct {
	CPU   float64
	RAM   float64
	Queue QueueLoad
}

// QueueLoad flags the reporter's own queue saturation.
type QueueLoad struct {
	Loaded  bool
	Stalled bool
}

// Report is the time and declared cadence of the last push/local report.
type Report struct {
	Time     time.Time
	Interval time.Duration
}

// Target addresses one replica in the tree.
type Target struct {
	Service string
	Node    string
	Replica string
}

// Path returns the service:node:replica form used in notifications.
func (t Target) Path() string { return t.Service + ":" + t.Node + ":" + t.Replica }

// PollTarget is a detached copy of what is needed to poll one replica.
type PollTarget struct {
	Target
	URL   ReplicaURL
	HTTP  HTTPOptions
	Queue *QueueCheck
}

// ScriptTarget is a detached copy of what is needed to run one script.
type ScriptTarget struct {
	Target
	Script string
}

// ProbeResult is what the prober writes back for a replica.
type ProbeResult struct {
	Status  types.Status
	Latency *time.Duration
	// Queue is only written when a queue check ran.
	Queue *QueueMetrics
}
