package prober

import (
	"context"
	"errors"
	"log/slog"
	"os/exec"
	"time"

	"github.com/obsidianstack/vigil/pkg/types"
	"github.com/obsidianstack/vigil/server/internal/store"
)

// scriptWaitDelay bounds how long Wait blocks on inherited pipes after the
// script is killed.
const scriptWaitDelay = time.Second

func (e *Engine) scriptReplica(ctx context.Context, t store.ScriptTarget) {
	status, latency := e.runScript(ctx, t.Script)

	e.metrics.ObserveProbe(types.ModeScript, status, latency)
	slog.Debug("prober: script ran", "replica", t.Path(), "status", status, "latency", latency)
	e.store.SetProbeResult(t.Target, store.ProbeResult{Status: status, Latency: &latency})
}

// runScript executes script with sh. Exit 0 is healthy, exit 1 is sick, any
// other exit or a failure to run is dead.
func (e *Engine) runScript(ctx context.Context, script string) (types.Status, time.Duration) {
	if e.cfg.ScriptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.ScriptTimeout)
		defer cancel()
	}

	start := e.now()
	cmd := exec.CommandContext(ctx, "sh", "-c", script)
	cmd.WaitDelay = scriptWaitDelay
	err := cmd.Run()
	latency := e.now().Sub(start)

	if err == nil {
		return types.StatusHealthy, latency
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
		return types.StatusSick, latency
	}
	slog.Debug("prober: script failed", "err", err)
	return types.StatusDead, latency
}
