package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/obsidianstack/vigil/agent/internal/config"
	"github.com/obsidianstack/vigil/agent/internal/load"
	"github.com/obsidianstack/vigil/agent/internal/shipper"
	"github.com/obsidianstack/vigil/pkg/types"
)

var configPath = "agent.yaml"

func main() {
	fs := pflag.NewFlagSet("vigil-agent", pflag.ExitOnError)
	fs.StringVarP(&configPath, "config", "c", configPath, "path to config file")

	cmd := &cobra.Command{
		Use:   "vigil-agent",
		Short: "vigil-agent reports host load to a vigil server push node",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context())
		},
		SilenceUsage: true,
	}
	cmd.Flags().AddFlagSet(fs)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cmd.ExecuteContext(ctx); err != nil {
		slog.Error("vigil-agent: exiting", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Agent.LogLevel)); err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})))

	slog.Info("vigil-agent starting",
		"server_url", cfg.Agent.ServerURL,
		"probe", cfg.Agent.ProbeID,
		"node", cfg.Agent.NodeID,
		"replica", cfg.Agent.ReplicaID,
		"interval", cfg.Agent.Interval,
	)

	ship, err := shipper.New(cfg.Agent)
	if err != nil {
		return err
	}
	go ship.Run(ctx)

	sampler := load.NewSampler()
	interval := uint64(cfg.Agent.Interval / time.Second)

	report := func() {
		l, err := sampler.Sample(ctx)
		if err != nil {
			slog.Warn("sample error", "err", err)
			return
		}
		ship.Ship(types.ReportRequest{
			Replica:  cfg.Agent.ReplicaID,
			Interval: interval,
			Load:     &l,
		})
		slog.Debug("queued report", "cpu", l.CPU, "ram", l.RAM)
	}

	report()
	ticker := time.NewTicker(cfg.Agent.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("vigil-agent shutting down")
			if cfg.Agent.FlushOnExit {
				flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := ship.Flush(flushCtx); err != nil {
					slog.Warn("flush on exit failed", "err", err)
				}
			}
			return nil
		case <-ticker.C:
			report()
		}
	}
}
