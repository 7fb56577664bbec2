package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/obsidianstack/vigil/pkg/types"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	p := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func TestLoad_Defaults(t *testing.T) {
	p := writeConfig(t, `branding:
  page_title: "Acme Status"
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Listen != DefaultListen {
		t.Errorf("listen: got %q, want %q", cfg.Server.Listen, DefaultListen)
	}
	if cfg.Metrics.PollInterval != DefaultPollInterval {
		t.Errorf("poll_interval: got %v, want %v", cfg.Metrics.PollInterval, DefaultPollInterval)
	}
	if cfg.Metrics.PollRetry != DefaultPollRetry {
		t.Errorf("poll_retry: got %d, want %d", cfg.Metrics.PollRetry, DefaultPollRetry)
	}
	if cfg.Metrics.AggregateInterval != DefaultAggregateInterval {
		t.Errorf("aggregate_interval: got %v, want %v", cfg.Metrics.AggregateInterval, DefaultAggregateInterval)
	}
	if !cfg.Notify.StartupNotification {
		t.Error("startup_notification: got false, want true")
	}
	if cfg.Notify.ReminderBackoffFunction != BackoffNone {
		t.Errorf("reminder_backoff_function: got %q, want none", cfg.Notify.ReminderBackoffFunction)
	}
	if !cfg.Plugins.ICMP.Privileged() {
		t.Error("icmp: expected raw sockets by default")
	}
	if cfg.Branding.PageTitle != "Acme Status" {
		t.Errorf("page_title: got %q, want Acme Status", cfg.Branding.PageTitle)
	}
}

func TestLoad_FullProbeTree(t *testing.T) {
	p := writeConfig(t, `metrics:
  poll_interval: 30s
  poll_retry: 1
  poll_delay_dead: 2s
  poll_delay_sick: 1s
notify:
  reminder_interval: 5m
  reminder_backoff_function: square
  reminder_backoff_limit: 4
  slack:
    hook_url: "https://hooks.slack.com/services/x"
    reminders_only: true
plugins:
  queue:
    metrics_url: "http://rabbit:15692/metrics/detailed"
    virtualhost: "/"
    queue_ready_healthy_below: 100
    queue_ready_dead_above: 1000
probe:
  service:
    - id: web
      label: "Web"
      node:
        - id: frontend
          label: "Frontend"
          mode: poll
          replicas:
            - "https://example.com/health"
            - "tcp://10.0.0.1:443"
          http_body_healthy_match: "ok"
          queue: "jobs"
    - id: batch
      label: "Batch"
      node:
        - id: cron
          label: "Cron"
          mode: script
          scripts:
            - "exit 0"
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Metrics.PollInterval != 30*time.Second {
		t.Errorf("poll_interval: got %v, want 30s", cfg.Metrics.PollInterval)
	}
	if got := cfg.Notify.ReminderBackoffFunction.Exponent(); got != 2 {
		t.Errorf("backoff exponent: got %d, want 2", got)
	}
	if cfg.Notify.Slack == nil || !cfg.Notify.Slack.RemindersOnly {
		t.Fatal("slack: expected reminders_only channel")
	}
	if len(cfg.Probe.Services) != 2 {
		t.Fatalf("services: got %d, want 2", len(cfg.Probe.Services))
	}
	// Declaration order is display order.
	if cfg.Probe.Services[0].ID != "web" || cfg.Probe.Services[1].ID != "batch" {
		t.Errorf("service order: got %s,%s", cfg.Probe.Services[0].ID, cfg.Probe.Services[1].ID)
	}
	node := cfg.Probe.Services[0].Nodes[0]
	if node.Mode != types.ModePoll {
		t.Errorf("mode: got %q, want poll", node.Mode)
	}
	if len(node.Replicas) != 2 {
		t.Errorf("replicas: got %d, want 2", len(node.Replicas))
	}
	if cfg.Probe.Services[1].Nodes[0].Scripts[0] != "exit 0" {
		t.Errorf("script: got %q", cfg.Probe.Services[1].Nodes[0].Scripts[0])
	}
}

func TestLoad_TokenEnvResolution(t *testing.T) {
	t.Setenv("TEST_REPORTER_TOKEN", "supersecret")
	p := writeConfig(t, `server:
  reporter_token: "literal"
  reporter_token_env: TEST_REPORTER_TOKEN
  manager_token: "admin"
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if k := cfg.Server.ReporterKey(); k != "supersecret" {
		t.Errorf("ReporterKey(): got %q, want supersecret", k)
	}
	if k := cfg.Server.ManagerKey(); k != "admin" {
		t.Errorf("ManagerKey(): got %q, want admin", k)
	}
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]string{
		"log level": `server:
  log_level: chatty
`,
		"status range": `metrics:
  poll_http_status_healthy_above: 400
  poll_http_status_healthy_below: 200
`,
		"zero sick delay": `metrics:
  poll_delay_sick: 0s
`,
		"duplicate replica": `probe:
  service:
    - id: a
      node:
        - id: b
          mode: poll
          replicas:
            - http://x.test/health
            - http://x.test/health
`,
		"negative tls window": `metrics:
  poll_tls_expiry_sick_within: -1h
`,
		"socket type": `plugins:
  icmp:
    socket_type: stream
`,
		"backoff function": `notify:
  reminder_backoff_function: fibonacci
`,
		"unknown mode": `probe:
  service:
    - id: a
      node:
        - id: b
          mode: carrier-pigeon
`,
		"duplicate service": `probe:
  service:
    - id: a
    - id: a
`,
		"bad regex": `probe:
  service:
    - id: a
      node:
        - id: b
          mode: poll
          http_body_healthy_match: "("
`,
		"queue without plugin": `probe:
  service:
    - id: a
      node:
        - id: b
          mode: poll
          queue: jobs
`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, doc)); err == nil {
				t.Fatal("expected error, got nil")
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Fatal("expected error for missing file, got nil")
	}
}

func TestWatch_ReloadsOnWrite(t *testing.T) {
	p := writeConfig(t, `branding:
  page_title: "Before"
`)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan *Config, 1)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, p, func(cfg *Config) {
			select {
			case got <- cfg:
			default:
			}
		})
	}()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(p, []byte("branding:\n  page_title: \"After\"\n"), 0o600); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	select {
	case cfg := <-got:
		if cfg.Branding.PageTitle != "After" {
			t.Errorf("page_title: got %q, want After", cfg.Branding.PageTitle)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for reload")
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Watch: %v", err)
	}
}

func TestWatch_SkipsEmptyFileAndCoalescesWrites(t *testing.T) {
	p := writeConfig(t, `branding:
  page_title: "Before"
`)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan *Config, 8)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, p, func(cfg *Config) { got <- cfg })
	}()
	time.Sleep(100 * time.Millisecond)

	// A truncated file on its own never reaches onChange.
	if err := os.WriteFile(p, nil, 0o600); err != nil {
		t.Fatalf("truncate config: %v", err)
	}
	select {
	case cfg := <-got:
		t.Fatalf("empty file reloaded: page_title %q", cfg.Branding.PageTitle)
	case <-time.After(4 * reloadDelay):
	}

	// A burst of writes, ending in a complete document, reloads once.
	for _, title := range []string{"One", "Two", "Final"} {
		doc := "branding:\n  page_title: \"" + title + "\"\n"
		if err := os.WriteFile(p, []byte(doc), 0o600); err != nil {
			t.Fatalf("rewrite config: %v", err)
		}
	}

	select {
	case cfg := <-got:
		if cfg.Branding.PageTitle != "Final" {
			t.Errorf("page_title: got %q, want Final", cfg.Branding.PageTitle)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for reload")
	}
	select {
	case cfg := <-got:
		t.Errorf("extra reload: page_title %q", cfg.Branding.PageTitle)
	case <-time.After(4 * reloadDelay):
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Watch: %v", err)
	}
}

func TestLoad_MessagingChannels(t *testing.T) {
	t.Setenv("TEST_ZULIP_KEY", "from-env")
	cfg, err := Load(writeConfig(t, `notify:
  pushover:
    app_token: app
    user_keys: [u1, u2]
    reminders_only: true
  twilio:
    account_sid: AC1
    auth_token: tok
    service_sid: MG1
    to: ["+15550001"]
  zulip:
    api_url: https://zulip.test/api/v1
    bot_email: bot@zulip.test
    bot_api_key_env: TEST_ZULIP_KEY
    channel: ops
  matrix:
    homeserver_url: https://matrix.test
    access_token: syt
    room_id: "!r:matrix.test"
  webex:
    token: wbx
    room_id: room-1
`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	n := cfg.Notify
	if n.Pushover == nil || len(n.Pushover.UserKeys) != 2 || !n.Pushover.RemindersOnly || n.Pushover.Token() != "app" {
		t.Errorf("pushover: got %+v", n.Pushover)
	}
	if n.Twilio == nil || n.Twilio.Token() != "tok" || n.Twilio.To[0] != "+15550001" {
		t.Errorf("twilio: got %+v", n.Twilio)
	}
	if n.Zulip == nil || n.Zulip.Key() != "from-env" || n.Zulip.Channel != "ops" {
		t.Errorf("zulip: got %+v", n.Zulip)
	}
	if n.Matrix == nil || n.Matrix.RoomID != "!r:matrix.test" || n.Matrix.Token() != "syt" {
		t.Errorf("matrix: got %+v", n.Matrix)
	}
	if n.Webex == nil || n.Webex.Token() != "wbx" || n.Webex.EndpointURL != "" {
		t.Errorf("webex: got %+v", n.Webex)
	}
}
