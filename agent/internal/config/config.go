package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultInterval   = 30 * time.Second
	DefaultBufferSize = 16
	DefaultLogLevel   = "info"
)

// Config is the top-level configuration of vigil-agent.
type Config struct {
	Agent AgentConfig `yaml:"agent"`
}

// AgentConfig holds all reporter settings.
type AgentConfig struct {
	// ServerURL is the base URL of the vigil server (scheme://host:port).
	ServerURL string `yaml:"server_url"`

	// ProbeID and NodeID name the push node this agent reports for.
	ProbeID string `yaml:"probe_id"`
	NodeID  string `yaml:"node_id"`

	// ReplicaID identifies this host; defaults to the hostname.
	ReplicaID string `yaml:"replica_id"`

	// Interval is the reporting cadence. It is also sent with every report
	// so the server knows when this replica has gone silent.
	Interval time.Duration `yaml:"interval"`

	// BufferSize is the maximum number of reports held in memory when the
	// server is unreachable.
	BufferSize int `yaml:"buffer_size"`

	// FlushOnExit removes this replica from the server on graceful shutdown.
	FlushOnExit bool `yaml:"flush_on_exit"`

	LogLevel string `yaml:"log_level"`

	// ServerAuth configures how the agent authenticates to the server.
	ServerAuth AuthConfig `yaml:"server_auth"`
}

// AuthConfig holds the reporter token and optional TLS client settings.
type AuthConfig struct {
	// Token is the reporter token. TokenEnv, when set, takes precedence.
	Token    string `yaml:"token"`
	TokenEnv string `yaml:"token_env"`

	// mTLS fields. CertFile and KeyFile must be set together.
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
	CAFile   string `yaml:"ca_file"`

	// InsecureSkipVerify disables TLS certificate verification.
	// Only use this for internal CAs in development environments.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify"`
}

// Key returns the reporter token, resolved from the environment when
// TokenEnv is set.
func (a AuthConfig) Key() string {
	if a.TokenEnv != "" {
		if v := os.Getenv(a.TokenEnv); v != "" {
			return v
		}
	}
	return a.Token
}

// Load reads and parses the YAML config file at path.
// Missing optional fields are filled with sensible defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read file: %w", err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}

	if cfg.Agent.ReplicaID == "" {
		host, err := os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("config: resolve hostname for replica_id: %w", err)
		}
		cfg.Agent.ReplicaID = host
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Agent: AgentConfig{
			Interval:   DefaultInterval,
			BufferSize: DefaultBufferSize,
			LogLevel:   DefaultLogLevel,
		},
	}
}

// validate checks required fields and structural constraints.
func validate(cfg *Config) error {
	a := cfg.Agent
	if a.ServerURL == "" {
		return fmt.Errorf("agent.server_url is required")
	}
	u, err := url.Parse(a.ServerURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("agent.server_url %q must be an http(s) URL", a.ServerURL)
	}
	if a.ProbeID == "" || a.NodeID == "" {
		return fmt.Errorf("agent.probe_id and agent.node_id are required")
	}
	if a.Interval < time.Second {
		return fmt.Errorf("agent.interval must be at least 1s")
	}
	if a.BufferSize <= 0 {
		return fmt.Errorf("agent.buffer_size must be positive")
	}
	switch a.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("agent.log_level %q unknown: want debug|info|warn|error", a.LogLevel)
	}
	if (a.ServerAuth.CertFile == "") != (a.ServerAuth.KeyFile == "") {
		return fmt.Errorf("agent.server_auth: cert_file and key_file must be set together")
	}
	return nil
}
