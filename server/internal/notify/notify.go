package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/obsidianstack/vigil/pkg/types"
	"github.com/obsidianstack/vigil/server/internal/metrics"
)

const (
	dispatchAttempts = 3
	dispatchWait     = 2 * time.Second
	dispatchTimeout  = 10 * time.Second
)

// ErrAllChannelsFailed is returned by Dispatch when every channel that
// accepted the notification failed all of its attempts.
var ErrAllChannelsFailed = errors.New("notify: all channels failed")

// Notification is one status message handed to every channel.
type Notification struct {
	// ID correlates the log lines of one dispatch.
	ID       string
	Status   types.Status
	Time     string
	Replicas []string
	Changed  bool
	Startup  bool
}

// Kind returns startup, changed or reminder.
func (n *Notification) Kind() string {
	switch {
	case n.Startup:
		return "startup"
	case n.Changed:
		return "changed"
	default:
		return "reminder"
	}
}

// Expected reports whether a channel should receive n. Channels set to
// reminders only skip status changes.
func (n *Notification) Expected(remindersOnly bool) bool {
	return !remindersOnly || !n.Changed
}

// Notifier is one delivery channel.
type Notifier interface {
	Name() string
	// CanNotify lets a channel opt out of a notification.
	CanNotify(n *Notification) bool
	// Attempt makes one delivery attempt.
	Attempt(ctx context.Context, n *Notification) error
}

// Dispatcher fans a notification out to every channel concurrently. Each
// channel is tried up to three times, two seconds apart, independently of
// the others. The channel set can be swapped at runtime.
type Dispatcher struct {
	mu       sync.RWMutex
	channels []Notifier

	attempts int
	wait     time.Duration
	metrics  *metrics.Recorder
}

// NewDispatcher creates a Dispatcher. rec may be nil.
func NewDispatcher(channels []Notifier, rec *metrics.Recorder) *Dispatcher {
	return &Dispatcher{
		channels: channels,
		attempts: dispatchAttempts,
		wait:     dispatchWait,
		metrics:  rec,
	}
}

// Replace swaps the channel set; in-flight dispatches keep the old one.
func (d *Dispatcher) Replace(channels []Notifier) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.channels = channels

	names := make([]string, 0, len(channels))
	for _, c := range channels {
		names = append(names, c.Name())
	}
	slog.Info("notify: channels replaced", "channels", names)
}

// Channels returns the names of the configured channels.
func (d *Dispatcher) Channels() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.channels))
	for _, c := range d.channels {
		names = append(names, c.Name())
	}
	return names
}

// Dispatch delivers n to every channel that accepts it. It returns an error
// wrapping ErrAllChannelsFailed only when at least one channel was tried and
// all of them failed; partial failures are logged.
func (d *Dispatcher) Dispatch(ctx context.Context, n *Notification) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}

	d.mu.RLock()
	channels := d.channels
	d.mu.RUnlock()

	d.metrics.ObserveDispatch(n.Kind())

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		errs      error
		attempted int
		failed    int
	)
	for _, c := range channels {
		if !c.CanNotify(n) {
			slog.Debug("notify: channel skipped", "id", n.ID, "channel", c.Name(), "kind", n.Kind())
			continue
		}
		attempted++

		wg.Add(1)
		go func(c Notifier) {
			defer wg.Done()
			err := d.deliver(ctx, c, n)
			d.metrics.ObserveDelivery(c.Name(), err)
			if err == nil {
				return
			}
			mu.Lock()
			failed++
			errs = multierr.Append(errs, err)
			mu.Unlock()
		}(c)
	}
	wg.Wait()

	switch {
	case attempted == 0:
		slog.Debug("notify: no channel accepted notification", "id", n.ID, "kind", n.Kind())
		return nil
	case failed == attempted:
		return multierr.Append(ErrAllChannelsFailed, errs)
	case failed > 0:
		slog.Warn("notify: some channels failed",
			"id", n.ID, "failed", failed, "attempted", attempted, "err", errs)
	}
	return nil
}

func (d *Dispatcher) deliver(ctx context.Context, c Notifier, n *Notification) error {
	slog.Info("notify: dispatching",
		"id", n.ID, "channel", c.Name(), "kind", n.Kind(),
		"status", n.Status, "replicas", n.Replicas)

	var errs error
	for attempt := 1; attempt <= d.attempts; attempt++ {
		if attempt > 1 {
			t := time.NewTimer(d.wait)
			select {
			case <-ctx.Done():
				t.Stop()
				return fmt.Errorf("notify: %s: %w", c.Name(), multierr.Append(errs, ctx.Err()))
			case <-t.C:
			}
		}

		actx, cancel := context.WithTimeout(ctx, dispatchTimeout)
		err := c.Attempt(actx, n)
		cancel()
		if err == nil {
			slog.Debug("notify: delivered", "id", n.ID, "channel", c.Name(), "attempt", attempt)
			return nil
		}
		slog.Debug("notify: attempt failed",
			"id", n.ID, "channel", c.Name(), "attempt", attempt, "err", err)
		errs = multierr.Append(errs, err)
	}

	slog.Error("notify: channel exhausted attempts",
		"id", n.ID, "channel", c.Name(), "attempts", d.attempts, "err", errs)
	return fmt.Errorf("notify: %s: %w", c.Name(), errs)
}
