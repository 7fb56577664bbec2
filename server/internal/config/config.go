package config

import (
	"fmt"
	"net/http"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/obsidianstack/vigil/pkg/types"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultListen   = "0.0.0.0:8080"
	DefaultLogLevel = "info"

	DefaultPollInterval               = 120 * time.Second
	DefaultPollRetry                  = 2
	DefaultPollHTTPStatusHealthyAbove = 200
	DefaultPollHTTPStatusHealthyBelow = 400
	DefaultPollDelayDead              = 10 * time.Second
	DefaultPollDelaySick              = 5 * time.Second
	DefaultPollParallelism            = 4
	DefaultPushDelayDead              = 20 * time.Second
	DefaultPushSystemCPUSickAbove     = 0.90
	DefaultPushSystemRAMSickAbove     = 0.90
	DefaultScriptInterval             = 300 * time.Second
	DefaultScriptParallelism          = 2
	DefaultLocalDelayDead             = 40 * time.Second
	DefaultAggregateInterval          = 10 * time.Second

	DefaultReminderBackoffLimit = 3
	DefaultTelegramAPIURL       = "https://api.telegram.org"
	DefaultPushoverAPIURL       = "https://api.pushover.net/1/messages.json"
	DefaultTwilioAPIURL         = "https://api.twilio.com"
	DefaultWebexEndpointURL     = "https://webexapis.com/v1/messages"
)

// Config is the top-level server configuration.
// Fields map 1:1 to config.example.yaml.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Branding BrandingConfig `yaml:"branding"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Plugins  PluginsConfig  `yaml:"plugins"`
	Notify   NotifyConfig   `yaml:"notify"`
	Probe    ProbeConfig    `yaml:"probe"`
}

// ServerConfig holds the HTTP listener and API credentials.
type ServerConfig struct {
	// Listen is the host:port the responder, reporter and manager APIs bind to.
	Listen string `yaml:"listen"`

	// LogLevel is one of: debug | info | warn | error.
	LogLevel string `yaml:"log_level"`

	// ReporterToken authenticates push reporters. ReporterTokenEnv names an
	// environment variable that takes precedence over the literal value.
	ReporterToken    string `yaml:"reporter_token"`
	ReporterTokenEnv string `yaml:"reporter_token_env"`

	// ManagerToken authenticates operator calls to the manager API.
	ManagerToken    string `yaml:"manager_token"`
	ManagerTokenEnv string `yaml:"manager_token_env"`
}

// ReporterKey returns the reporter token, preferring the environment.
func (s ServerConfig) ReporterKey() string { return resolve(s.ReporterToken, s.ReporterTokenEnv) }

// ManagerKey returns the manager token, preferring the environment.
func (s ServerConfig) ManagerKey() string { return resolve(s.ManagerToken, s.ManagerTokenEnv) }

// BrandingConfig is the public identity of the status page, used in
// notifications and the prober User-Agent.
type BrandingConfig struct {
	PageTitle string `yaml:"page_title"`
	PageURL   string `yaml:"page_url"`
}

// MetricsConfig holds probing cadence, thresholds and parallelism.
type MetricsConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`

	// PollRetry is how many times an unreachable replica is re-probed
	// before it is declared dead.
	PollRetry int `yaml:"poll_retry"`

	// A poll HTTP response is healthy when above <= code < below.
	PollHTTPStatusHealthyAbove int `yaml:"poll_http_status_healthy_above"`
	PollHTTPStatusHealthyBelow int `yaml:"poll_http_status_healthy_below"`

	// PollDelayDead is the probe timeout; PollDelaySick is the latency at
	// or above which a reachable replica is sick.
	PollDelayDead time.Duration `yaml:"poll_delay_dead"`
	PollDelaySick time.Duration `yaml:"poll_delay_sick"`

	PollParallelism int `yaml:"poll_parallelism"`

	// PollTLSExpirySickWithin marks an HTTPS replica sick when its leaf
	// certificate expires within this window. Zero disables the check.
	PollTLSExpirySickWithin time.Duration `yaml:"poll_tls_expiry_sick_within"`

	// PushDelayDead is the grace period added to a reporter's declared
	// interval before a silent push replica is dead.
	PushDelayDead time.Duration `yaml:"push_delay_dead"`

	// Load ratios (0..1) above which a push replica is sick.
	PushSystemCPUSickAbove float64 `yaml:"push_system_cpu_sick_above"`
	PushSystemRAMSickAbove float64 `yaml:"push_system_ram_sick_above"`

	ScriptInterval    time.Duration `yaml:"script_interval"`
	ScriptParallelism int           `yaml:"script_parallelism"`

	// ScriptTimeout kills a script that runs longer; zero disables it.
	ScriptTimeout time.Duration `yaml:"script_timeout"`

	LocalDelayDead time.Duration `yaml:"local_delay_dead"`

	// AggregateInterval is the rollup cadence.
	AggregateInterval time.Duration `yaml:"aggregate_interval"`
}

// PluginsConfig holds optional prober extensions.
type PluginsConfig struct {
	ICMP  ICMPPlugin   `yaml:"icmp"`
	Queue *QueuePlugin `yaml:"queue"`
}

// ICMPPlugin selects the ICMP socket type: raw (needs CAP_NET_RAW) or dgram
// (unprivileged ping sockets).
type ICMPPlugin struct {
	SocketType string `yaml:"socket_type"`
}

// Privileged reports whether raw sockets are used.
func (p ICMPPlugin) Privileged() bool { return p.SocketType != "dgram" }

// QueuePlugin configures message-queue health checks against a broker's
// Prometheus metrics endpoint (e.g. RabbitMQ's /metrics/detailed).
type QueuePlugin struct {
	MetricsURL  string `yaml:"metrics_url"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	PasswordEnv string `yaml:"password_env"`
	Virtualhost string `yaml:"virtualhost"`

	QueueReadyHealthyBelow uint64 `yaml:"queue_ready_healthy_below"`
	QueueNackHealthyBelow  uint64 `yaml:"queue_nack_healthy_below"`
	QueueReadyDeadAbove    uint64 `yaml:"queue_ready_dead_above"`
	QueueNackDeadAbove     uint64 `yaml:"queue_nack_dead_above"`

	// QueueLoadedRetryDelay re-checks a loaded queue once after this delay.
	QueueLoadedRetryDelay time.Duration `yaml:"queue_loaded_retry_delay"`
}

// Secret returns the broker password, preferring the environment.
func (q QueuePlugin) Secret() string { return resolve(q.Password, q.PasswordEnv) }

// BackoffFunction shapes the growth of the reminder interval.
type BackoffFunction string

const (
	BackoffNone   BackoffFunction = "none"
	BackoffLinear BackoffFunction = "linear"
	BackoffSquare BackoffFunction = "square"
	BackoffCubic  BackoffFunction = "cubic"
)

// Exponent returns the power applied to the backoff counter.
func (f BackoffFunction) Exponent() int {
	switch f {
	case BackoffLinear:
		return 1
	case BackoffSquare:
		return 2
	case BackoffCubic:
		return 3
	default:
		return 0
	}
}

// NotifyConfig holds reminder policy and notification channels.
type NotifyConfig struct {
	StartupNotification bool `yaml:"startup_notification"`

	// ReminderInterval enables "still dead" reminders when non-zero.
	ReminderInterval        time.Duration   `yaml:"reminder_interval"`
	ReminderBackoffFunction BackoffFunction `yaml:"reminder_backoff_function"`
	ReminderBackoffLimit    int             `yaml:"reminder_backoff_limit"`

	Webhook  *WebhookConfig  `yaml:"webhook"`
	Slack    *SlackConfig    `yaml:"slack"`
	Teams    *TeamsConfig    `yaml:"teams"`
	Telegram *TelegramConfig `yaml:"telegram"`
	Gotify   *GotifyConfig   `yaml:"gotify"`
	Pushover *PushoverConfig `yaml:"pushover"`
	Twilio   *TwilioConfig   `yaml:"twilio"`
	Zulip    *ZulipConfig    `yaml:"zulip"`
	Matrix   *MatrixConfig   `yaml:"matrix"`
	Webex    *WebexConfig    `yaml:"webex"`
}

// WebhookConfig posts a typed JSON payload to an arbitrary URL.
type WebhookConfig struct {
	HookURL    string `yaml:"hook_url"`
	HookURLEnv string `yaml:"hook_url_env"`
}

// URL returns the hook URL, preferring the environment.
func (w WebhookConfig) URL() string { return resolve(w.HookURL, w.HookURLEnv) }

// SlackConfig posts to a Slack incoming webhook.
type SlackConfig struct {
	HookURL        string `yaml:"hook_url"`
	HookURLEnv     string `yaml:"hook_url_env"`
	MentionChannel bool   `yaml:"mention_channel"`
	RemindersOnly  bool   `yaml:"reminders_only"`
}

// URL returns the hook URL, preferring the environment.
func (s SlackConfig) URL() string { return resolve(s.HookURL, s.HookURLEnv) }

// TeamsConfig posts a MessageCard to a Microsoft Teams connector.
type TeamsConfig struct {
	HookURL       string `yaml:"hook_url"`
	HookURLEnv    string `yaml:"hook_url_env"`
	RemindersOnly bool   `yaml:"reminders_only"`
}

// URL returns the hook URL, preferring the environment.
func (t TeamsConfig) URL() string { return resolve(t.HookURL, t.HookURLEnv) }

// TelegramConfig sends messages through the Telegram bot API.
type TelegramConfig struct {
	APIURL        string `yaml:"api_url"`
	BotToken      string `yaml:"bot_token"`
	BotTokenEnv   string `yaml:"bot_token_env"`
	ChatID        string `yaml:"chat_id"`
	RemindersOnly bool   `yaml:"reminders_only"`
}

// Token returns the bot token, preferring the environment.
func (t TelegramConfig) Token() string { return resolve(t.BotToken, t.BotTokenEnv) }

// GotifyConfig pushes messages to a Gotify server.
type GotifyConfig struct {
	AppURL        string `yaml:"app_url"`
	AppToken      string `yaml:"app_token"`
	AppTokenEnv   string `yaml:"app_token_env"`
	RemindersOnly bool   `yaml:"reminders_only"`
}

// Token returns the application token, preferring the environment.
func (g GotifyConfig) Token() string { return resolve(g.AppToken, g.AppTokenEnv) }

// PushoverConfig sends one push message per user key.
type PushoverConfig struct {
	APIURL        string   `yaml:"api_url"`
	AppToken      string   `yaml:"app_token"`
	AppTokenEnv   string   `yaml:"app_token_env"`
	UserKeys      []string `yaml:"user_keys"`
	RemindersOnly bool     `yaml:"reminders_only"`
}

// Token returns the application token, preferring the environment.
func (p PushoverConfig) Token() string { return resolve(p.AppToken, p.AppTokenEnv) }

// TwilioConfig sends one SMS per destination number through a messaging
// service.
type TwilioConfig struct {
	APIURL        string   `yaml:"api_url"`
	To            []string `yaml:"to"`
	ServiceSID    string   `yaml:"service_sid"`
	AccountSID    string   `yaml:"account_sid"`
	AuthToken     string   `yaml:"auth_token"`
	AuthTokenEnv  string   `yaml:"auth_token_env"`
	RemindersOnly bool     `yaml:"reminders_only"`
}

// Token returns the auth token, preferring the environment.
func (t TwilioConfig) Token() string { return resolve(t.AuthToken, t.AuthTokenEnv) }

// ZulipConfig posts to a Zulip stream as a bot.
type ZulipConfig struct {
	APIURL        string `yaml:"api_url"`
	BotEmail      string `yaml:"bot_email"`
	BotAPIKey     string `yaml:"bot_api_key"`
	BotAPIKeyEnv  string `yaml:"bot_api_key_env"`
	Channel       string `yaml:"channel"`
	RemindersOnly bool   `yaml:"reminders_only"`
}

// Key returns the bot API key, preferring the environment.
func (z ZulipConfig) Key() string { return resolve(z.BotAPIKey, z.BotAPIKeyEnv) }

// MatrixConfig sends a formatted message to a Matrix room.
type MatrixConfig struct {
	HomeserverURL  string `yaml:"homeserver_url"`
	AccessToken    string `yaml:"access_token"`
	AccessTokenEnv string `yaml:"access_token_env"`
	RoomID         string `yaml:"room_id"`
	RemindersOnly  bool   `yaml:"reminders_only"`
}

// Token returns the access token, preferring the environment.
func (m MatrixConfig) Token() string { return resolve(m.AccessToken, m.AccessTokenEnv) }

// WebexConfig posts a message to a Webex room.
type WebexConfig struct {
	EndpointURL    string `yaml:"endpoint_url"`
	AccessToken    string `yaml:"token"`
	AccessTokenEnv string `yaml:"token_env"`
	RoomID         string `yaml:"room_id"`
	RemindersOnly  bool   `yaml:"reminders_only"`
}

// Token returns the bearer token, preferring the environment.
func (w WebexConfig) Token() string { return resolve(w.AccessToken, w.AccessTokenEnv) }

// ProbeConfig declares the monitored tree, in display order.
type ProbeConfig struct {
	Services []ServiceConfig `yaml:"service"`
}

// ServiceConfig is one status-page service.
type ServiceConfig struct {
	ID    string       `yaml:"id"`
	Label string       `yaml:"label"`
	Nodes []NodeConfig `yaml:"node"`
}

// NodeConfig is a group of replicas sharing a mode and probe options.
type NodeConfig struct {
	ID    string     `yaml:"id"`
	Label string     `yaml:"label"`
	Mode  types.Mode `yaml:"mode"`

	// Replicas are icmp://, tcp://, http:// or https:// URLs (poll mode).
	Replicas []string `yaml:"replicas"`

	// Scripts are shell snippets (script mode).
	Scripts []string `yaml:"scripts"`

	HTTPNoCacheBuster    bool              `yaml:"http_no_cache_buster"`
	HTTPHeaders          map[string]string `yaml:"http_headers"`
	HTTPMethod           string            `yaml:"http_method"`
	HTTPBody             string            `yaml:"http_body"`
	HTTPBodyHealthyMatch string            `yaml:"http_body_healthy_match"`

	// Queue names a broker queue whose depth gates poll health.
	Queue                 string  `yaml:"queue"`
	QueueNackHealthyBelow *uint64 `yaml:"queue_nack_healthy_below"`
	QueueNackDeadAbove    *uint64 `yaml:"queue_nack_dead_above"`
}

// Load reads and parses the YAML config file at path.
// Missing optional fields are filled with sensible defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML document, applies defaults and validates it.
func Parse(data []byte) (*Config, error) {
	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Listen:   DefaultListen,
			LogLevel: DefaultLogLevel,
		},
		Branding: BrandingConfig{
			PageTitle: "Status Page",
		},
		Metrics: MetricsConfig{
			PollInterval:               DefaultPollInterval,
			PollRetry:                  DefaultPollRetry,
			PollHTTPStatusHealthyAbove: DefaultPollHTTPStatusHealthyAbove,
			PollHTTPStatusHealthyBelow: DefaultPollHTTPStatusHealthyBelow,
			PollDelayDead:              DefaultPollDelayDead,
			PollDelaySick:              DefaultPollDelaySick,
			PollParallelism:            DefaultPollParallelism,
			PushDelayDead:              DefaultPushDelayDead,
			PushSystemCPUSickAbove:     DefaultPushSystemCPUSickAbove,
			PushSystemRAMSickAbove:     DefaultPushSystemRAMSickAbove,
			ScriptInterval:             DefaultScriptInterval,
			ScriptParallelism:          DefaultScriptParallelism,
			LocalDelayDead:             DefaultLocalDelayDead,
			AggregateInterval:          DefaultAggregateInterval,
		},
		Plugins: PluginsConfig{
			ICMP: ICMPPlugin{SocketType: "raw"},
		},
		Notify: NotifyConfig{
			StartupNotification:     true,
			ReminderBackoffFunction: BackoffNone,
			ReminderBackoffLimit:    DefaultReminderBackoffLimit,
		},
	}
}

// validate checks required fields and enums. The mode/replica pairing of
// each node is checked when the state store is built from this config.
func validate(cfg *Config) error {
	switch cfg.Server.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("server.log_level %q unknown: want debug|info|warn|error", cfg.Server.LogLevel)
	}

	m := cfg.Metrics
	if m.PollInterval <= 0 || m.ScriptInterval <= 0 || m.AggregateInterval <= 0 {
		return fmt.Errorf("metrics: intervals must be positive")
	}
	if m.PollRetry < 0 {
		return fmt.Errorf("metrics.poll_retry must not be negative")
	}
	if m.PollTLSExpirySickWithin < 0 {
		return fmt.Errorf("metrics.poll_tls_expiry_sick_within must not be negative")
	}
	if m.PollParallelism <= 0 || m.ScriptParallelism <= 0 {
		return fmt.Errorf("metrics: parallelism must be positive")
	}
	if m.PollDelayDead <= 0 {
		return fmt.Errorf("metrics.poll_delay_dead must be positive")
	}
	if m.PollDelaySick <= 0 {
		return fmt.Errorf("metrics.poll_delay_sick must be positive")
	}
	if m.PollHTTPStatusHealthyAbove >= m.PollHTTPStatusHealthyBelow {
		return fmt.Errorf("metrics: poll_http_status_healthy_above (%d) must be lower than poll_http_status_healthy_below (%d)",
			m.PollHTTPStatusHealthyAbove, m.PollHTTPStatusHealthyBelow)
	}

	switch cfg.Plugins.ICMP.SocketType {
	case "raw", "dgram":
	default:
		return fmt.Errorf("plugins.icmp.socket_type %q unknown: want raw|dgram", cfg.Plugins.ICMP.SocketType)
	}
	if q := cfg.Plugins.Queue; q != nil && q.MetricsURL == "" {
		return fmt.Errorf("plugins.queue.metrics_url is required")
	}

	switch cfg.Notify.ReminderBackoffFunction {
	case BackoffNone, BackoffLinear, BackoffSquare, BackoffCubic:
	default:
		return fmt.Errorf("notify.reminder_backoff_function %q unknown: want none|linear|square|cubic",
			cfg.Notify.ReminderBackoffFunction)
	}
	if cfg.Notify.ReminderBackoffLimit < 1 {
		return fmt.Errorf("notify.reminder_backoff_limit must be at least 1")
	}
	if cfg.Notify.ReminderInterval < 0 {
		return fmt.Errorf("notify.reminder_interval must not be negative")
	}

	seen := make(map[string]bool)
	for i, svc := range cfg.Probe.Services {
		if svc.ID == "" {
			return fmt.Errorf("probe.service[%d]: id is required", i)
		}
		if seen[svc.ID] {
			return fmt.Errorf("probe.service[%d]: duplicate id %q", i, svc.ID)
		}
		seen[svc.ID] = true

		nodes := make(map[string]bool)
		for j, node := range svc.Nodes {
			if node.ID == "" {
				return fmt.Errorf("probe.service %q node[%d]: id is required", svc.ID, j)
			}
			if nodes[node.ID] {
				return fmt.Errorf("probe.service %q node[%d]: duplicate id %q", svc.ID, j, node.ID)
			}
			nodes[node.ID] = true

			if !node.Mode.Valid() {
				return fmt.Errorf("probe.service %q node %q: unknown mode %q", svc.ID, node.ID, node.Mode)
			}
			switch strings.ToUpper(node.HTTPMethod) {
			case "", http.MethodHead, http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch:
			default:
				return fmt.Errorf("probe.service %q node %q: unsupported http_method %q", svc.ID, node.ID, node.HTTPMethod)
			}
			if node.HTTPBodyHealthyMatch != "" {
				if _, err := regexp.Compile(node.HTTPBodyHealthyMatch); err != nil {
					return fmt.Errorf("probe.service %q node %q: http_body_healthy_match: %w", svc.ID, node.ID, err)
				}
			}
			if node.Queue != "" && cfg.Plugins.Queue == nil {
				return fmt.Errorf("probe.service %q node %q: queue requires plugins.queue", svc.ID, node.ID)
			}

			replicas := make(map[string]bool, len(node.Replicas))
			for _, r := range node.Replicas {
				if replicas[r] {
					return fmt.Errorf("probe.service %q node %q: duplicate replica %q", svc.ID, node.ID, r)
				}
				replicas[r] = true
			}
		}
	}
	return nil
}

func resolve(literal, env string) string {
	if env != "" {
		if v := os.Getenv(env); v != "" {
			return v
		}
	}
	return literal
}
