package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/obsidianstack/vigil/server/internal/metrics"
)

// DefaultDelay is the pause between a task stopping and its restart.
const DefaultDelay = time.Second

// Task is a long-running loop. It returns nil only when ctx is done.
type Task func(ctx context.Context) error

// Supervisor restarts tasks that return or panic.
type Supervisor struct {
	delay   time.Duration
	metrics *metrics.Recorder
}

// New creates a Supervisor with DefaultDelay. rec may be nil.
func New(rec *metrics.Recorder) *Supervisor {
	return &Supervisor{delay: DefaultDelay, metrics: rec}
}

// Run keeps task running until ctx is cancelled. Each time the task returns
// an error, returns early, or panics, Run logs it, waits the restart delay
// and starts it again. Run itself always returns nil.
func (s *Supervisor) Run(ctx context.Context, name string, task Task) error {
	for {
		slog.Info("supervisor: starting task", "task", name)
		err := runGuarded(ctx, task)

		if ctx.Err() != nil {
			slog.Info("supervisor: task stopped", "task", name)
			return nil
		}

		if err != nil {
			slog.Error("supervisor: task failed", "task", name, "err", err)
		} else {
			slog.Warn("supervisor: task returned early", "task", name)
		}
		s.metrics.ObserveRestart(name)

		t := time.NewTimer(s.delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
		slog.Info("supervisor: restarting task", "task", name, "delay", s.delay)
	}
}

func runGuarded(ctx context.Context, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return task(ctx)
}
