package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func loadFromString(t *testing.T, content string) *Config {
	t.Helper()
	cfg, err := Load(writeFile(t, content))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return cfg
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agent.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_Valid(t *testing.T) {
	cfg := loadFromString(t, `
agent:
  server_url: "http://vigil.internal:8080"
  probe_id: worker
  node_id: jobs
  replica_id: host-7
  interval: 10s
  buffer_size: 4
  flush_on_exit: true
  server_auth:
    token: literal
`)

	a := cfg.Agent
	if a.ServerURL != "http://vigil.internal:8080" {
		t.Errorf("server_url: got %q", a.ServerURL)
	}
	if a.ProbeID != "worker" || a.NodeID != "jobs" || a.ReplicaID != "host-7" {
		t.Errorf("ids: got %q/%q/%q", a.ProbeID, a.NodeID, a.ReplicaID)
	}
	if a.Interval != 10*time.Second {
		t.Errorf("interval: got %v", a.Interval)
	}
	if a.BufferSize != 4 {
		t.Errorf("buffer_size: got %d", a.BufferSize)
	}
	if !a.FlushOnExit {
		t.Error("flush_on_exit: got false")
	}
	if a.ServerAuth.Key() != "literal" {
		t.Errorf("token: got %q", a.ServerAuth.Key())
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg := loadFromString(t, `
agent:
  server_url: "http://localhost:8080"
  probe_id: worker
  node_id: jobs
`)

	if cfg.Agent.Interval != DefaultInterval {
		t.Errorf("default interval: got %v, want %v", cfg.Agent.Interval, DefaultInterval)
	}
	if cfg.Agent.BufferSize != DefaultBufferSize {
		t.Errorf("default buffer_size: got %d", cfg.Agent.BufferSize)
	}
	host, _ := os.Hostname()
	if cfg.Agent.ReplicaID != host {
		t.Errorf("default replica_id: got %q, want hostname %q", cfg.Agent.ReplicaID, host)
	}
}

func TestAuth_TokenEnvWins(t *testing.T) {
	t.Setenv("VIGIL_TEST_REPORTER_TOKEN", "from-env")
	a := AuthConfig{Token: "literal", TokenEnv: "VIGIL_TEST_REPORTER_TOKEN"}
	if a.Key() != "from-env" {
		t.Errorf("Key: got %q, want from-env", a.Key())
	}

	a.TokenEnv = "VIGIL_TEST_UNSET_TOKEN"
	if a.Key() != "literal" {
		t.Errorf("Key fallback: got %q, want literal", a.Key())
	}
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]string{
		"missing server_url": `
agent:
  probe_id: worker
  node_id: jobs
`,
		"bad scheme": `
agent:
  server_url: "ftp://vigil"
  probe_id: worker
  node_id: jobs
`,
		"missing node": `
agent:
  server_url: "http://vigil"
  probe_id: worker
`,
		"interval too short": `
agent:
  server_url: "http://vigil"
  probe_id: worker
  node_id: jobs
  interval: 100ms
`,
		"half mtls": `
agent:
  server_url: "https://vigil"
  probe_id: worker
  node_id: jobs
  server_auth:
    cert_file: /tmp/c.pem
`,
		"bad log level": `
agent:
  server_url: "http://vigil"
  probe_id: worker
  node_id: jobs
  log_level: loud
`,
	}
	for name, content := range cases {
		_, err := Load(writeFile(t, content))
		if err == nil {
			t.Errorf("%s: expected error, got nil", name)
			continue
		}
		if !strings.HasPrefix(err.Error(), "config: ") {
			t.Errorf("%s: error %q should be prefixed with config:", name, err)
		}
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
