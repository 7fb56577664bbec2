package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/obsidianstack/vigil/server/internal/aggregator"
	"github.com/obsidianstack/vigil/server/internal/api"
	"github.com/obsidianstack/vigil/server/internal/auth"
	"github.com/obsidianstack/vigil/server/internal/config"
	"github.com/obsidianstack/vigil/server/internal/metrics"
	"github.com/obsidianstack/vigil/server/internal/notify"
	"github.com/obsidianstack/vigil/server/internal/prober"
	"github.com/obsidianstack/vigil/server/internal/receiver"
	"github.com/obsidianstack/vigil/server/internal/store"
	"github.com/obsidianstack/vigil/server/internal/supervisor"
	"github.com/obsidianstack/vigil/server/internal/ws"
)

const (
	wsInterval      = 2 * time.Second
	shutdownTimeout = 5 * time.Second
)

var configPath = "config.yaml"

func main() {
	fs := pflag.NewFlagSet("vigil", pflag.ExitOnError)
	fs.StringVarP(&configPath, "config", "c", configPath, "path to config file")

	cmd := &cobra.Command{
		Use:   "vigil",
		Short: "vigil probes services and serves their health as a status page",
		Long: `vigil polls service replicas over ICMP, TCP and HTTP, runs check
scripts, ingests pushed reports, rolls everything up into a global
status and notifies configured channels when services go down or
recover.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context())
		},
		SilenceUsage: true,
	}
	cmd.Flags().AddFlagSet(fs)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cmd.ExecuteContext(ctx); err != nil {
		slog.Error("vigil: exiting", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	level := new(slog.LevelVar)
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})))

	slog.Info("vigil starting", "config", configPath)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	setLevel(level, cfg.Server.LogLevel)

	slog.Info("config loaded",
		"listen", cfg.Server.Listen,
		"services", len(cfg.Probe.Services),
		"poll_interval", cfg.Metrics.PollInterval,
		"aggregate_interval", cfg.Metrics.AggregateInterval,
	)

	st, err := store.New(cfg.Probe)
	if err != nil {
		return fmt.Errorf("build probe tree: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	rec := metrics.New(reg)

	channels := notify.FromConfig(cfg.Notify, cfg.Branding)
	dispatcher := notify.NewDispatcher(channels, rec)
	slog.Info("notify channels configured", "channels", dispatcher.Channels())

	engine := prober.New(st, cfg, rec)
	agg := aggregator.New(st, dispatcher, cfg, rec)
	hub := ws.New(st, cfg.Branding, wsInterval)
	sup := supervisor.New(rec)

	mux := http.NewServeMux()
	mux.Handle("/", api.New(st, cfg.Branding, reg))
	mux.Handle("/reporter/", auth.Token("reporter", cfg.Server.ReporterKey())(receiver.New(st, rec)))
	if key := cfg.Server.ManagerKey(); key != "" {
		mux.Handle("/manager/", auth.Token("manager", key)(api.NewManager(st)))
	} else {
		slog.Warn("manager API disabled: no manager_token configured")
	}
	if cfg.Server.ReporterKey() == "" {
		slog.Warn("reporter API accepts unauthenticated reports: no reporter_token configured")
	}
	mux.Handle("/ws/stream", hub)

	httpSrv := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return sup.Run(gctx, "poll", engine.RunPoll) })
	g.Go(func() error { return sup.Run(gctx, "script", engine.RunScript) })
	g.Go(func() error { return sup.Run(gctx, "aggregator", agg.Run) })
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})

	// Hot reload covers notification channels, reminder policy and log
	// level. The probe tree keeps its startup shape.
	g.Go(func() error {
		err := config.Watch(gctx, configPath, func(next *config.Config) {
			setLevel(level, next.Server.LogLevel)
			dispatcher.Replace(notify.FromConfig(next.Notify, next.Branding))
			agg.SetPolicy(aggregator.PolicyFromConfig(next.Notify))
			slog.Info("config hot-reloaded", "channels", dispatcher.Channels())
		})
		if err != nil {
			slog.Error("config watcher stopped", "err", err)
		}
		return nil
	})

	g.Go(func() error {
		slog.Info("HTTP server listening", "addr", cfg.Server.Listen)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("vigil shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func setLevel(v *slog.LevelVar, name string) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(name)); err != nil {
		slog.Warn("unknown log level, keeping current", "level", name)
		return
	}
	v.Set(l)
}
