package prober

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/obsidianstack/vigil/pkg/types"
	"github.com/obsidianstack/vigil/server/internal/config"
	"github.com/obsidianstack/vigil/server/internal/metrics"
	"github.com/obsidianstack/vigil/server/internal/store"
)

const (
	// probeHold is the pause before each poll retry.
	probeHold = 500 * time.Millisecond

	// icmpTimeout caps the per-address echo timeout.
	icmpTimeout = time.Second
)

// Pinger sends one ICMP echo to ip and returns the round-trip time.
type Pinger interface {
	Ping(ctx context.Context, ip net.IP, timeout time.Duration) (time.Duration, error)
}

// Engine probes poll and script replicas and writes results into the store.
// Push and local replicas are never probed here.
type Engine struct {
	store   *store.Store
	cfg     config.MetricsConfig
	metrics *metrics.Recorder

	client *http.Client
	queue  *queueChecker

	// Injectable for tests.
	lookupIP func(ctx context.Context, host string) ([]net.IP, error)
	dial     func(ctx context.Context, network, addr string) (net.Conn, error)
	pinger   Pinger
	hold     time.Duration
	now      func() time.Time
}

// New builds an Engine from the server config. rec may be nil.
func New(st *store.Store, cfg *config.Config, rec *metrics.Recorder) *Engine {
	dialer := &net.Dialer{}
	e := &Engine{
		store:   st,
		cfg:     cfg.Metrics,
		metrics: rec,
		client:  newProbeClient(cfg.Metrics.PollDelayDead, userAgent(cfg.Branding.PageURL)),
		lookupIP: func(ctx context.Context, host string) ([]net.IP, error) {
			return net.DefaultResolver.LookupIP(ctx, "ip", host)
		},
		dial:   dialer.DialContext,
		pinger: newICMPPinger(cfg.Plugins.ICMP.Privileged()),
		hold:   probeHold,
		now:    time.Now,
	}
	if cfg.Plugins.Queue != nil {
		e.queue = newQueueChecker(*cfg.Plugins.Queue, cfg.Metrics.PollDelayDead)
	}
	return e
}

// RunPoll runs poll cycles until ctx is cancelled, waiting poll_interval
// after each cycle completes. A slow cycle delays the next one.
func (e *Engine) RunPoll(ctx context.Context) error {
	return e.loop(ctx, "poll", e.cfg.PollInterval, e.PollCycle)
}

// RunScript runs script cycles until ctx is cancelled.
func (e *Engine) RunScript(ctx context.Context) error {
	return e.loop(ctx, "script", e.cfg.ScriptInterval, e.ScriptCycle)
}

func (e *Engine) loop(ctx context.Context, name string, interval time.Duration, cycle func(context.Context)) error {
	for {
		slog.Debug("prober: running cycle", "loop", name)
		start := e.now()
		cycle(ctx)
		took := e.now().Sub(start)
		e.metrics.ObserveCycle(name, took)
		slog.Info("prober: ran cycle", "loop", name, "took", took)

		t := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}
}

// PollCycle probes every poll replica once.
func (e *Engine) PollCycle(ctx context.Context) {
	targets := e.store.PollTargets()
	workers := dispatch(ctx, targets, e.cfg.PollParallelism, e.pollReplica)
	slog.Debug("prober: poll cycle dispatched",
		"replicas", len(targets), "workers", workers, "parallelism", e.cfg.PollParallelism)
}

// ScriptCycle runs every script replica once.
func (e *Engine) ScriptCycle(ctx context.Context) {
	targets := e.store.ScriptTargets()
	workers := dispatch(ctx, targets, e.cfg.ScriptParallelism, e.scriptReplica)
	slog.Debug("prober: script cycle dispatched",
		"replicas", len(targets), "workers", workers, "parallelism", e.cfg.ScriptParallelism)
}

// dispatch splits items into contiguous chunks of ceil(N/P), probes each
// chunk sequentially in its own goroutine and waits for all of them.
// It returns the number of goroutines used.
func dispatch[T any](ctx context.Context, items []T, parallelism int, fn func(context.Context, T)) int {
	if len(items) == 0 {
		return 0
	}
	if parallelism < 1 {
		parallelism = 1
	}
	size := (len(items) + parallelism - 1) / parallelism

	var g errgroup.Group
	workers := 0
	for start := 0; start < len(items); start += size {
		chunk := items[start:min(start+size, len(items))]
		workers++
		g.Go(func() error {
			for _, item := range chunk {
				fn(ctx, item)
			}
			return nil
		})
	}
	_ = g.Wait()
	return workers
}

func (e *Engine) pollReplica(ctx context.Context, t store.PollTarget) {
	start := e.now()
	status, latency := e.pollWithRetry(ctx, t)
	res := store.ProbeResult{Status: status, Latency: &latency}

	if status == types.StatusHealthy && t.Queue != nil && e.queue != nil {
		qs, counts, err := e.queue.check(ctx, t.Queue, e.sleep)
		if err != nil {
			slog.Warn("prober: queue check failed",
				"replica", t.Path(), "queue", t.Queue.Queue, "err", err)
			qs = types.StatusDead
		}
		res.Status = status.Merge(qs)
		res.Queue = counts
	}

	e.metrics.ObserveProbe(types.ModePoll, res.Status, e.now().Sub(start))
	slog.Debug("prober: replica probed", "replica", t.Path(), "status", res.Status, "latency", latency)
	e.store.SetProbeResult(t.Target, res)
}

// pollWithRetry probes until the replica is reachable or poll_retry retries
// are spent, holding before each retry.
func (e *Engine) pollWithRetry(ctx context.Context, t store.PollTarget) (types.Status, time.Duration) {
	status, latency := e.pollOnce(ctx, t)
	for retry := 1; retry <= e.cfg.PollRetry && status == types.StatusDead; retry++ {
		if !e.sleep(ctx, e.hold) {
			break
		}
		slog.Debug("prober: retrying replica", "replica", t.Path(), "retry", retry)
		status, latency = e.pollOnce(ctx, t)
	}
	return status, latency
}

// pollOnce runs one protocol check and classifies the result. Protocols
// that measure no latency of their own use wall-clock time.
func (e *Engine) pollOnce(ctx context.Context, t store.PollTarget) (types.Status, time.Duration) {
	start := e.now()

	var (
		up       bool
		degraded bool
		measured *time.Duration
	)
	switch u := t.URL.(type) {
	case store.ICMPURL:
		up, measured = e.probeICMP(ctx, u)
	case store.TCPURL:
		up = e.probeTCP(ctx, u)
	case store.HTTPURL:
		up, degraded = e.probeHTTP(ctx, u, t.HTTP)
	}

	latency := e.now().Sub(start)
	if measured != nil {
		latency = *measured
	}

	switch {
	case !up:
		return types.StatusDead, latency
	case degraded, latency >= e.cfg.PollDelaySick:
		return types.StatusSick, latency
	default:
		return types.StatusHealthy, latency
	}
}

// sleep waits d or until ctx is done; it reports whether the full wait
// elapsed.
func (e *Engine) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
