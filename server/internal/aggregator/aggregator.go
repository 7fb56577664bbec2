package aggregator

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/obsidianstack/vigil/pkg/types"
	"github.com/obsidianstack/vigil/server/internal/config"
	"github.com/obsidianstack/vigil/server/internal/metrics"
	"github.com/obsidianstack/vigil/server/internal/notify"
	"github.com/obsidianstack/vigil/server/internal/store"
)

// DateLayout renders pass and notification times, e.g. "14:03:07 UTC+00:00".
const DateLayout = "15:04:05 UTC-07:00"

// Dispatcher is the notification boundary the aggregator hands off to.
type Dispatcher interface {
	Dispatch(ctx context.Context, n *notify.Notification) error
}

// Policy is the reminder and startup behavior, reloadable at runtime.
type Policy struct {
	StartupNotification bool
	// ReminderInterval disables reminders when zero.
	ReminderInterval time.Duration
	// BackoffExponent is 0 (none), 1 (linear), 2 (square) or 3 (cubic).
	BackoffExponent int
	BackoffLimit    int
}

// PolicyFromConfig extracts the Policy from the notify config section.
func PolicyFromConfig(cfg config.NotifyConfig) Policy {
	return Policy{
		StartupNotification: cfg.StartupNotification,
		ReminderInterval:    cfg.ReminderInterval,
		BackoffExponent:     cfg.ReminderBackoffFunction.Exponent(),
		BackoffLimit:        cfg.ReminderBackoffLimit,
	}
}

// Aggregator rolls replica statuses up to nodes, services and the global
// status, and decides when to notify.
type Aggregator struct {
	store      *store.Store
	dispatcher Dispatcher
	metrics    *metrics.Recorder
	cfg        config.MetricsConfig
	policy     atomic.Pointer[Policy]

	now func() time.Time
}

// New creates an Aggregator. rec may be nil.
func New(st *store.Store, d Dispatcher, cfg *config.Config, rec *metrics.Recorder) *Aggregator {
	a := &Aggregator{
		store:      st,
		dispatcher: d,
		metrics:    rec,
		cfg:        cfg.Metrics,
		now:        time.Now,
	}
	a.SetPolicy(PolicyFromConfig(cfg.Notify))
	return a
}

// SetPolicy swaps the reminder policy; the next pass uses it.
func (a *Aggregator) SetPolicy(p Policy) {
	a.policy.Store(&p)
}

// Run sends the startup notification when enabled, then runs a pass every
// aggregate_interval until ctx is cancelled. It returns an error when every
// notification channel failed, so the supervisor can restart it.
func (a *Aggregator) Run(ctx context.Context) error {
	if a.policy.Load().StartupNotification {
		slog.Debug("aggregator: sending startup notification")
		n := &notify.Notification{
			Status:  types.StatusHealthy,
			Time:    a.now().UTC().Format(DateLayout),
			Changed: true,
			Startup: true,
		}
		if err := a.dispatcher.Dispatch(ctx, n); err != nil {
			return fmt.Errorf("aggregator: startup notification: %w", err)
		}
	}

	for {
		n := a.Pass(a.now())
		if n != nil {
			if err := a.dispatcher.Dispatch(ctx, n); err != nil {
				return fmt.Errorf("aggregator: %s notification: %w", n.Kind(), err)
			}
		}
		slog.Info("aggregator: ran pass", "notified", n != nil)

		t := time.NewTimer(a.cfg.AggregateInterval)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}
}

// Pass recomputes every status under one exclusive store lock and returns
// the notification to send, or nil.
func (a *Aggregator) Pass(now time.Time) *notify.Notification {
	policy := *a.policy.Load()

	var out *notify.Notification
	a.store.Mutate(func(states *store.ServiceStates, notified *time.Time) {
		general := types.StatusHealthy
		var dead []string

		for _, p := range states.Probes {
			probeStatus := types.StatusHealthy
			for _, n := range p.Nodes {
				nodeStatus := types.StatusHealthy
				for _, r := range n.Replicas {
					status := a.resolve(n.Mode, r, now)
					nodeStatus = nodeStatus.Merge(status)
					if status == types.StatusDead {
						dead = append(dead, store.Target{Service: p.ID, Node: n.ID, Replica: r.ID}.Path())
					}
					r.Status = status
				}
				n.Status = nodeStatus
				probeStatus = probeStatus.Merge(nodeStatus)
				a.metrics.SetNodeStatus(p.ID, n.ID, nodeStatus)
			}
			p.Status = probeStatus
			general = general.Merge(probeStatus)
			a.metrics.SetProbeStatus(p.ID, probeStatus)
		}

		previous := states.Status
		changed := previous != general
		// Only transitions into or out of dead notify right away.
		shouldNotify := (previous != types.StatusDead) != (general != types.StatusDead)

		if changed && general != types.StatusDead {
			states.Notifier.ReminderBackoffCounter = 1
			states.Notifier.ReminderIgnoreUntil = nil
		}

		if !changed && !shouldNotify && general == types.StatusDead {
			shouldNotify = decideReminder(&states.Notifier, policy, *notified, now)
		}

		states.Status = general
		states.Date = now.UTC().Format(DateLayout)
		a.metrics.SetGlobalStatus(general, states.Notifier.ReminderBackoffCounter)

		if changed {
			slog.Info("aggregator: global status changed", "from", previous, "to", general)
		}

		if shouldNotify {
			*notified = now
			out = &notify.Notification{
				Status:   general,
				Time:     states.Date,
				Replicas: dead,
				Changed:  changed,
			}
		}
	})
	return out
}

// resolve returns the status of one replica for this pass.
func (a *Aggregator) resolve(mode types.Mode, r *store.Replica, now time.Time) types.Status {
	switch mode {
	case types.ModePush:
		if stale(r.Report, a.cfg.PushDelayDead, now) {
			return types.StatusDead
		}
		if r.Load == nil {
			return types.StatusHealthy
		}
		switch {
		case r.Load.CPU > a.cfg.PushSystemCPUSickAbove || r.Load.RAM > a.cfg.PushSystemRAMSickAbove:
			return types.StatusSick
		case r.Load.Queue.Stalled:
			return types.StatusDead
		case r.Load.Queue.Loaded:
			return types.StatusSick
		}
		return types.StatusHealthy

	case types.ModeLocal:
		if stale(r.Report, a.cfg.LocalDelayDead, now) {
			return types.StatusDead
		}
		return r.Status

	default:
		return r.Status
	}
}

// stale reports whether a reporter has been silent for its declared interval
// plus the grace delay.
func stale(rep *store.Report, delay time.Duration, now time.Time) bool {
	return rep != nil && now.Sub(rep.Time)-rep.Interval >= delay
}

// decideReminder reports whether a "still dead" reminder is due and bumps
// the backoff counter when it is. The effective interval is
// ReminderInterval * counter^BackoffExponent.
func decideReminder(n *store.Notifier, p Policy, lastNotified, now time.Time) bool {
	if p.ReminderInterval <= 0 || lastNotified.IsZero() {
		return false
	}
	if n.ReminderIgnoreUntil != nil && now.Before(*n.ReminderIgnoreUntil) {
		slog.Debug("aggregator: reminders snoozed", "until", *n.ReminderIgnoreUntil)
		return false
	}

	effective := p.ReminderInterval * time.Duration(pow(n.ReminderBackoffCounter, p.BackoffExponent))
	if now.Sub(lastNotified) < effective {
		return false
	}

	if p.BackoffExponent != 0 && n.ReminderBackoffCounter < p.BackoffLimit {
		n.ReminderBackoffCounter++
		slog.Debug("aggregator: reminder backoff incremented",
			"counter", n.ReminderBackoffCounter, "limit", p.BackoffLimit)
	}
	return true
}

func pow(base, exp int) int {
	out := 1
	for i := 0; i < exp; i++ {
		out *= base
	}
	return out
}
