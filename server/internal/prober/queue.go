package prober

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/obsidianstack/vigil/pkg/types"
	"github.com/obsidianstack/vigil/server/internal/config"
	"github.com/obsidianstack/vigil/server/internal/store"
)

// Broker metrics read from the RabbitMQ Prometheus plugin's detailed
// endpoint (/metrics/detailed?family=queue_coarse_metrics).
const (
	queueReadyMetric = "rabbitmq_detailed_queue_messages_ready"
	queueNackMetric  = "rabbitmq_detailed_queue_messages_unacked"

	vhostLabel = "vhost"
	queueLabel = "queue"
)

// queueChecker gates poll health on the depth of a broker queue.
type queueChecker struct {
	plugin config.QueuePlugin
	client *http.Client
}

// basicAuthRoundTripper injects broker credentials into every request.
type basicAuthRoundTripper struct {
	base     http.RoundTripper
	username string
	password string
}

func (t *basicAuthRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.username != "" {
		req = req.Clone(req.Context())
		req.SetBasicAuth(t.username, t.password)
	}
	return t.base.RoundTrip(req)
}

func newQueueChecker(plugin config.QueuePlugin, timeout time.Duration) *queueChecker {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DisableKeepAlives = true

	return &queueChecker{
		plugin: plugin,
		client: &http.Client{
			Transport: &basicAuthRoundTripper{
				base:     transport,
				username: plugin.Username,
				password: plugin.Secret(),
			},
			Timeout: timeout,
		},
	}
}

// check classifies the queue. A loaded (sick) queue is checked once more
// after queue_loaded_retry_delay when that delay is set.
func (q *queueChecker) check(ctx context.Context, qc *store.QueueCheck, sleep func(context.Context, time.Duration) bool) (types.Status, *store.QueueMetrics, error) {
	status, counts, err := q.checkOnce(ctx, qc)
	if err != nil || status != types.StatusSick || q.plugin.QueueLoadedRetryDelay <= 0 {
		return status, counts, err
	}

	slog.Debug("prober: queue loaded, rechecking", "queue", qc.Queue, "delay", q.plugin.QueueLoadedRetryDelay)
	if !sleep(ctx, q.plugin.QueueLoadedRetryDelay) {
		return status, counts, nil
	}
	return q.checkOnce(ctx, qc)
}

func (q *queueChecker) checkOnce(ctx context.Context, qc *store.QueueCheck) (types.Status, *store.QueueMetrics, error) {
	mfs, err := fetchMetrics(ctx, q.client, q.plugin.MetricsURL)
	if err != nil {
		return types.StatusDead, nil, err
	}

	ready, okReady := queueValue(mfs[queueReadyMetric], q.plugin.Virtualhost, qc.Queue)
	nack, okNack := queueValue(mfs[queueNackMetric], q.plugin.Virtualhost, qc.Queue)
	if !okReady && !okNack {
		return types.StatusDead, nil, fmt.Errorf("queue %q not found in vhost %q", qc.Queue, q.plugin.Virtualhost)
	}

	counts := &store.QueueMetrics{Ready: ready, Nack: nack}
	return q.classify(qc, counts), counts, nil
}

// classify maps counters to a status. A zero threshold disables its check.
func (q *queueChecker) classify(qc *store.QueueCheck, c *store.QueueMetrics) types.Status {
	nackHealthyBelow := q.plugin.QueueNackHealthyBelow
	if qc.NackHealthyBelow != nil {
		nackHealthyBelow = *qc.NackHealthyBelow
	}
	nackDeadAbove := q.plugin.QueueNackDeadAbove
	if qc.NackDeadAbove != nil {
		nackDeadAbove = *qc.NackDeadAbove
	}

	switch {
	case exceeds(c.Ready, q.plugin.QueueReadyDeadAbove), exceeds(c.Nack, nackDeadAbove):
		return types.StatusDead
	case reaches(c.Ready, q.plugin.QueueReadyHealthyBelow), reaches(c.Nack, nackHealthyBelow):
		return types.StatusSick
	default:
		return types.StatusHealthy
	}
}

func exceeds(v, limit uint64) bool { return limit > 0 && v > limit }
func reaches(v, limit uint64) bool { return limit > 0 && v >= limit }

// queueValue returns the sample labelled with vhost and queue. An empty vhost
// matches any.
func queueValue(mf *dto.MetricFamily, vhost, queue string) (uint64, bool) {
	if mf == nil {
		return 0, false
	}
	for _, m := range mf.GetMetric() {
		var gotVhost, gotQueue string
		for _, lp := range m.GetLabel() {
			switch lp.GetName() {
			case vhostLabel:
				gotVhost = lp.GetValue()
			case queueLabel:
				gotQueue = lp.GetValue()
			}
		}
		if gotQueue != queue || (vhost != "" && gotVhost != vhost) {
			continue
		}
		var v float64
		switch {
		case m.Gauge != nil:
			v = m.Gauge.GetValue()
		case m.Counter != nil:
			v = m.Counter.GetValue()
		case m.Untyped != nil:
			v = m.Untyped.GetValue()
		}
		if v < 0 {
			v = 0
		}
		return uint64(v), true
	}
	return 0, false
}

// fetchMetrics performs an HTTP GET to url and returns parsed metric families.
func fetchMetrics(ctx context.Context, client *http.Client, url string) (map[string]*dto.MetricFamily, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", string(expfmt.NewFormat(expfmt.TypeTextPlain)))

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return parseMetrics(resp.Body)
}

// parseMetrics decodes a Prometheus text exposition from r into metric
// families. The whole document must parse; queue thresholds are not checked
// against a truncated exposition.
func parseMetrics(r io.Reader) (map[string]*dto.MetricFamily, error) {
	var parser expfmt.TextParser
	mfs, err := parser.TextToMetricFamilies(r)
	if err != nil {
		return nil, fmt.Errorf("parse prometheus text: %w", err)
	}
	return mfs, nil
}
