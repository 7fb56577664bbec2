package store

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/obsidianstack/vigil/pkg/types"
	"github.com/obsidianstack/vigil/server/internal/config"
)

func probeConfig() config.ProbeConfig {
	return config.ProbeConfig{Services: []config.ServiceConfig{
		{
			ID: "web", Label: "Web",
			Nodes: []config.NodeConfig{
				{
					ID: "api", Label: "API", Mode: types.ModePoll,
					Replicas:             []string{"http://a.local/health", "tcp://10.0.0.1:443", "icmp://[::1]"},
					HTTPHeaders:          map[string]string{"x-token": "t"},
					HTTPBodyHealthyMatch: "ok",
				},
				{ID: "worker", Label: "Worker", Mode: types.ModePush},
			},
		},
		{
			ID: "batch", Label: "Batch",
			Nodes: []config.NodeConfig{
				{ID: "cron", Label: "Cron", Mode: types.ModeScript, Scripts: []string{"exit 0", "exit 1"}},
				{ID: "self", Label: "Self", Mode: types.ModeLocal},
			},
		},
	}}
}

func newStore(t *testing.T) *Store {
	t.Helper()
	st, err := New(probeConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return st
}

func TestNew_BuildsTree(t *testing.T) {
	st := newStore(t)
	snap := st.Snapshot()

	if snap.Status != types.StatusHealthy {
		t.Errorf("global status: got %v, want healthy", snap.Status)
	}
	if snap.Notifier.ReminderBackoffCounter != 1 {
		t.Errorf("backoff counter: got %d, want 1", snap.Notifier.ReminderBackoffCounter)
	}
	if len(snap.Probes) != 2 || snap.Probes[0].ID != "web" || snap.Probes[1].ID != "batch" {
		t.Fatalf("probes: unexpected order or count")
	}
	api := snap.Probes[0].Nodes[0]
	if len(api.Replicas) != 3 {
		t.Fatalf("api replicas: got %d, want 3", len(api.Replicas))
	}
	if api.Replicas[0].ID != "http://a.local/health" {
		t.Errorf("poll replica id: got %q, want the URL", api.Replicas[0].ID)
	}
	if u, ok := api.Replicas[2].URL.(ICMPURL); !ok || u.Host != "::1" {
		t.Errorf("icmp url: got %#v, want host ::1", api.Replicas[2].URL)
	}
	if !api.HTTP.CacheBuster {
		t.Error("cache buster: expected enabled by default")
	}
	cron := snap.Probes[1].Nodes[0]
	if cron.Replicas[1].ID != "1" || cron.Replicas[1].Script != "exit 1" {
		t.Errorf("script replica: got %q/%q, want 1/exit 1", cron.Replicas[1].ID, cron.Replicas[1].Script)
	}
}

func TestNew_InvalidShapes(t *testing.T) {
	cases := map[string]config.NodeConfig{
		"poll without replicas":  {ID: "n", Mode: types.ModePoll},
		"script without scripts": {ID: "n", Mode: types.ModeScript},
		"replicas on push node":  {ID: "n", Mode: types.ModePush, Replicas: []string{"tcp://h:1"}},
		"scripts on poll node":   {ID: "n", Mode: types.ModePoll, Replicas: []string{"tcp://h:1"}, Scripts: []string{"true"}},
		"unsupported scheme":     {ID: "n", Mode: types.ModePoll, Replicas: []string{"ftp://h"}},
		"tcp without port":       {ID: "n", Mode: types.ModePoll, Replicas: []string{"tcp://h"}},
		"icmp with port":         {ID: "n", Mode: types.ModePoll, Replicas: []string{"icmp://h:1"}},
		"duplicate replica":      {ID: "n", Mode: types.ModePoll, Replicas: []string{"tcp://h:1", "tcp://h:1"}},
	}
	for name, node := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := config.ProbeConfig{Services: []config.ServiceConfig{{ID: "s", Nodes: []config.NodeConfig{node}}}}
			if _, err := New(cfg); err == nil {
				t.Fatal("expected error, got nil")
			}
		})
	}
}

func TestTargets_DetachedCopies(t *testing.T) {
	st := newStore(t)

	polls := st.PollTargets()
	if len(polls) != 3 {
		t.Fatalf("poll targets: got %d, want 3", len(polls))
	}
	if polls[0].Path() != "web:api:http://a.local/health" {
		t.Errorf("path: got %q", polls[0].Path())
	}
	if polls[0].HTTP.BodyMatch == nil {
		t.Error("body match: expected regex to be carried")
	}
	// Mutating the copy must not leak into the store.
	polls[0].HTTP.Headers.Set("x-token", "changed")
	if got := st.PollTargets()[0].HTTP.Headers.Get("x-token"); got != "t" {
		t.Errorf("header after copy mutation: got %q, want t", got)
	}

	scripts := st.ScriptTargets()
	if len(scripts) != 2 {
		t.Fatalf("script targets: got %d, want 2", len(scripts))
	}
	if scripts[0].Script != "exit 0" {
		t.Errorf("script: got %q, want exit 0", scripts[0].Script)
	}
}

func TestSetProbeResult(t *testing.T) {
	st := newStore(t)
	latency := 120 * time.Millisecond
	ref := Target{Service: "web", Node: "api", Replica: "tcp://10.0.0.1:443"}

	st.SetProbeResult(ref, ProbeResult{Status: types.StatusSick, Latency: &latency})

	r := st.Snapshot().Probes[0].Nodes[0].Replicas[1]
	if r.Status != types.StatusSick {
		t.Errorf("status: got %v, want sick", r.Status)
	}
	if r.Metrics.Latency == nil || *r.Metrics.Latency != latency {
		t.Errorf("latency: got %v, want %v", r.Metrics.Latency, latency)
	}
	if r.Metrics.Queue != nil {
		t.Error("queue metrics: expected untouched")
	}

	// Unknown paths are silently ignored.
	st.SetProbeResult(Target{Service: "nope", Node: "api", Replica: "x"}, ProbeResult{Status: types.StatusDead})
}

func TestReport_PushRegistersReplica(t *testing.T) {
	st := newStore(t)
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	err := st.Report("web", "worker", types.ReportRequest{
		Replica:  "host-1",
		Interval: 30,
		Load:     &types.ReportLoad{CPU: 0.42, RAM: 0.9, Queue: &types.ReportLoadQueue{Loaded: true}},
	}, now)
	if err != nil {
		t.Fatalf("Report: %v", err)
	}

	r := st.Snapshot().Probes[0].Nodes[1].Replicas[0]
	if r.ID != "host-1" {
		t.Errorf("replica id: got %q, want host-1", r.ID)
	}
	if r.Report == nil || !r.Report.Time.Equal(now) || r.Report.Interval != 30*time.Second {
		t.Errorf("report: got %+v", r.Report)
	}
	if r.Load == nil || !r.Load.Queue.Loaded {
		t.Errorf("load: got %+v", r.Load)
	}
	if r.Metrics.System == nil || r.Metrics.System.CPU != 42 || r.Metrics.System.RAM != 90 {
		t.Errorf("system metrics: got %+v, want 42/90", r.Metrics.System)
	}

	// A second report updates the same replica.
	if err := st.Report("web", "worker", types.ReportRequest{Replica: "host-1", Interval: 30, Load: &types.ReportLoad{}}, now); err != nil {
		t.Fatalf("Report: %v", err)
	}
	if n := len(st.Snapshot().Probes[0].Nodes[1].Replicas); n != 1 {
		t.Errorf("replicas: got %d, want 1", n)
	}
}

func TestReport_LocalStoresHealth(t *testing.T) {
	st := newStore(t)
	sick := types.StatusSick
	if err := st.Report("batch", "self", types.ReportRequest{Replica: "r", Interval: 10, Health: &sick}, time.Now()); err != nil {
		t.Fatalf("Report: %v", err)
	}
	if got := st.Snapshot().Probes[1].Nodes[1].Replicas[0].Status; got != types.StatusSick {
		t.Errorf("status: got %v, want sick", got)
	}
}

func TestReport_Errors(t *testing.T) {
	st := newStore(t)
	now := time.Now()
	sick := types.StatusSick

	if err := st.Report("nope", "worker", types.ReportRequest{Replica: "r", Load: &types.ReportLoad{}}, now); !errors.Is(err, ErrUnknownNode) {
		t.Errorf("unknown node: got %v, want ErrUnknownNode", err)
	}
	if err := st.Report("web", "api", types.ReportRequest{Replica: "r", Load: &types.ReportLoad{}}, now); !errors.Is(err, ErrModeMismatch) {
		t.Errorf("poll node: got %v, want ErrModeMismatch", err)
	}
	if err := st.Report("web", "worker", types.ReportRequest{Replica: "r", Health: &sick}, now); !errors.Is(err, ErrModeMismatch) {
		t.Errorf("push without load: got %v, want ErrModeMismatch", err)
	}
	if err := st.Report("web", "worker", types.ReportRequest{Load: &types.ReportLoad{}}, now); !errors.Is(err, ErrInvalidReport) {
		t.Errorf("missing replica: got %v, want ErrInvalidReport", err)
	}

	huge := types.ReportRequest{Replica: "r", Interval: 10_000_000_000, Load: &types.ReportLoad{}}
	if err := st.Report("web", "worker", huge, now); !errors.Is(err, ErrInvalidReport) {
		t.Errorf("huge interval: got %v, want ErrInvalidReport", err)
	}
	if n := len(st.Snapshot().Probes[0].Nodes[1].Replicas); n != 0 {
		t.Errorf("rejected report registered %d replicas", n)
	}
}

func TestFlush(t *testing.T) {
	st := newStore(t)
	if err := st.Report("web", "worker", types.ReportRequest{Replica: "r", Load: &types.ReportLoad{}}, time.Now()); err != nil {
		t.Fatalf("Report: %v", err)
	}
	if err := st.Flush("web", "worker", "r"); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if n := len(st.Snapshot().Probes[0].Nodes[1].Replicas); n != 0 {
		t.Errorf("replicas after flush: got %d, want 0", n)
	}
	if err := st.Flush("web", "worker", "r"); !errors.Is(err, ErrUnknownReplica) {
		t.Errorf("second flush: got %v, want ErrUnknownReplica", err)
	}
	if err := st.Flush("web", "api", "http://a.local/health"); !errors.Is(err, ErrModeMismatch) {
		t.Errorf("flush poll node: got %v, want ErrModeMismatch", err)
	}
}

func TestIgnoreReminders(t *testing.T) {
	st := newStore(t)
	if st.ReminderIgnoreUntil() != nil {
		t.Fatal("expected no snooze initially")
	}
	until := time.Now().Add(time.Hour)
	st.IgnoreReminders(&until)
	if got := st.ReminderIgnoreUntil(); got == nil || !got.Equal(until) {
		t.Errorf("ReminderIgnoreUntil: got %v, want %v", got, until)
	}
	st.IgnoreReminders(nil)
	if st.ReminderIgnoreUntil() != nil {
		t.Error("expected snooze cleared")
	}
}

func TestMutate_RecordsNotified(t *testing.T) {
	st := newStore(t)
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	st.Mutate(func(states *ServiceStates, notified *time.Time) {
		states.Status = types.StatusDead
		*notified = at
	})
	st.View(func(states *ServiceStates, notified time.Time) {
		if states.Status != types.StatusDead {
			t.Errorf("status: got %v, want dead", states.Status)
		}
		if !notified.Equal(at) {
			t.Errorf("notified: got %v, want %v", notified, at)
		}
	})
}

func TestConcurrentAccess(t *testing.T) {
	st := newStore(t)
	ref := Target{Service: "web", Node: "api", Replica: "http://a.local/health"}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(3)
		go func() {
			defer wg.Done()
			st.SetProbeResult(ref, ProbeResult{Status: types.StatusDead})
		}()
		go func() {
			defer wg.Done()
			_ = st.Snapshot()
		}()
		go func() {
			defer wg.Done()
			_ = st.Report("web", "worker", types.ReportRequest{Replica: "r", Load: &types.ReportLoad{}}, time.Now())
		}()
	}
	wg.Wait()
}

func TestParseReplicaURL(t *testing.T) {
	u, err := ParseReplicaURL("tcp://[2001:db8::1]:8080")
	if err != nil {
		t.Fatalf("ParseReplicaURL: %v", err)
	}
	tcp, ok := u.(TCPURL)
	if !ok || tcp.Host != "2001:db8::1" || tcp.Port != 8080 {
		t.Errorf("tcp url: got %#v", u)
	}
	if tcp.String() != "tcp://[2001:db8::1]:8080" {
		t.Errorf("String: got %q", tcp.String())
	}

	u, err = ParseReplicaURL("https://example.com/health?x=1")
	if err != nil {
		t.Fatalf("ParseReplicaURL: %v", err)
	}
	if h, ok := u.(HTTPURL); !ok || !h.Secure {
		t.Errorf("https url: got %#v", u)
	}
}
