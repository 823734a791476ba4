// Package config loads callbridge configuration from an optional YAML file,
// the conventional deployment variables, and CALLBRIDGE_ overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/tjfontaine/callbridge/internal/audio"
)

// DefaultPath is read when no explicit path is given. A missing default file is not an error.
const DefaultPath = "config.yaml"

type Config struct {
	Server       ServerConfig       `koanf:"server"`
	Telephony    TelephonyConfig    `koanf:"telephony"`
	Analytics    AnalyticsConfig    `koanf:"analytics"`
	Relay        RelayConfig        `koanf:"relay"`
	Orchestrator OrchestratorConfig `koanf:"orchestrator"`
	Storage      StorageConfig      `koanf:"storage"`
	Telemetry    TelemetryConfig    `koanf:"telemetry"`
	Log          LogConfig          `koanf:"log"`
}

type ServerConfig struct {
	Port int `koanf:"port"`
	// RequestTimeout bounds a whole /start-call request, observation window included.
	RequestTimeout  time.Duration `koanf:"request_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

type TelephonyConfig struct {
	Token         string `koanf:"token"`
	BaseURL       string `koanf:"base_url"`
	AssistantID   string `koanf:"assistant_id"`
	PhoneNumberID string `koanf:"phone_number_id"`
}

type AnalyticsConfig struct {
	AppID      string   `koanf:"app_id"`
	AppSecret  string   `koanf:"app_secret"`
	TokenURL   string   `koanf:"token_url"`
	StreamURL  string   `koanf:"stream_url"`
	RTAID      string   `koanf:"rta_id"`
	Assistants []string `koanf:"assistants"`
	AgentName  string   `koanf:"agent_name"`
}

type RelayConfig struct {
	Retries    int           `koanf:"retries"`
	RetryDelay time.Duration `koanf:"retry_delay"`
	QueueSize  int           `koanf:"queue_size"`
	// StallTimeout is how long a leg's send may be in flight before its full
	// queue starts dropping audio instead of holding the stream back.
	StallTimeout       time.Duration `koanf:"stall_timeout"`
	ProgressEvery      int           `koanf:"progress_every"`
	ChannelLayout      string        `koanf:"channel_layout"` // customer-left, customer-right
	InsecureSkipVerify bool          `koanf:"insecure_skip_verify"`
	// BlockPrivateAddresses refuses monitor URLs on loopback or private networks.
	BlockPrivateAddresses bool `koanf:"block_private_addresses"`
}

type OrchestratorConfig struct {
	PollInterval      time.Duration `koanf:"poll_interval"`
	PollTimeout       time.Duration `koanf:"poll_timeout"`
	ObservationWindow time.Duration `koanf:"observation_window"`
	StopGrace         time.Duration `koanf:"stop_grace"`
}

type StorageConfig struct {
	Type string `koanf:"type"` // memory, sqlite, none
	Path string `koanf:"path"`
}

type TelemetryConfig struct {
	Enabled     bool   `koanf:"enabled"`
	ServiceName string `koanf:"service_name"`
}

type LogConfig struct {
	Level  string `koanf:"level"`  // debug, info, warn, error
	Format string `koanf:"format"` // json, text
}

// legacyEnv maps the deployment variables the bridge has always read onto config keys.
var legacyEnv = map[string]string{
	"VAPI_TOKEN":       "telephony.token",
	"ASSISTANT_ID":     "telephony.assistant_id",
	"PHONE_NUMBER_ID":  "telephony.phone_number_id",
	"SYMBL_APP_ID":     "analytics.app_id",
	"SYMBL_APP_SECRET": "analytics.app_secret",
	"RTA_ID":           "analytics.rta_id",
	"AGENT_NAME":       "analytics.agent_name",
	"PORT":             "server.port",
}

var defaults = map[string]any{
	"server.port":                     8080,
	"server.request_timeout":          15 * time.Minute,
	"server.shutdown_timeout":         30 * time.Second,
	"telephony.base_url":              "https://api.vapi.ai",
	"analytics.token_url":             "https://api.symbl.ai/oauth2/token:generate",
	"analytics.stream_url":            "wss://api.symbl.ai/v1/realtime/assist",
	"analytics.assistants":            []string{"objection-handling"},
	"analytics.agent_name":            "Ava",
	"relay.retries":                   3,
	"relay.retry_delay":               2 * time.Second,
	"relay.queue_size":                256,
	"relay.stall_timeout":             5 * time.Second,
	"relay.progress_every":            100,
	"relay.channel_layout":            string(audio.CustomerLeft),
	"relay.block_private_addresses":   true,
	"orchestrator.poll_interval":      100 * time.Millisecond,
	"orchestrator.poll_timeout":       2 * time.Minute,
	"orchestrator.observation_window": 10 * time.Minute,
	"orchestrator.stop_grace":         5 * time.Second,
	"storage.type":                    "memory",
	"storage.path":                    "./data/callbridge.db",
	"telemetry.service_name":          "callbridge",
	"log.level":                       "info",
	"log.format":                      "json",
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Load reads configuration. Precedence, lowest first: defaults, the YAML file,
// the legacy variables, CALLBRIDGE_ variables (with __ separating levels).
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	required := path != ""
	if path == "" {
		path = DefaultPath
	}
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		// File not found is OK unless it was asked for
		if required || !os.IsNotExist(err) {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", func(s string) string {
		return legacyEnv[s]
	}), nil); err != nil {
		return nil, err
	}

	if err := k.Load(env.Provider("CALLBRIDGE_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "CALLBRIDGE_")), "__", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	for key, value := range defaults {
		if !k.Exists(key) {
			k.Set(key, value)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	// Secrets may reference other variables, e.g. token: ${VAPI_PRIVATE_KEY}
	cfg.Telephony.Token = substituteEnvVars(cfg.Telephony.Token)
	cfg.Analytics.AppID = substituteEnvVars(cfg.Analytics.AppID)
	cfg.Analytics.AppSecret = substituteEnvVars(cfg.Analytics.AppSecret)
	cfg.Analytics.Assistants = splitList(cfg.Analytics.Assistants)

	return &cfg, nil
}

func substituteEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// splitList expands comma-separated entries, as given by a single env variable.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// Validate reports every setting that would stop a call from being placed.
func (c *Config) Validate() error {
	var errs []error

	missing := func(value, name string) {
		if strings.TrimSpace(value) == "" {
			errs = append(errs, fmt.Errorf("%s is required", name))
		}
	}
	missing(c.Telephony.Token, "telephony.token (VAPI_TOKEN)")
	missing(c.Telephony.AssistantID, "telephony.assistant_id (ASSISTANT_ID)")
	missing(c.Telephony.PhoneNumberID, "telephony.phone_number_id (PHONE_NUMBER_ID)")
	missing(c.Analytics.AppID, "analytics.app_id (SYMBL_APP_ID)")
	missing(c.Analytics.AppSecret, "analytics.app_secret (SYMBL_APP_SECRET)")

	if _, err := audio.ParseChannelLayout(c.Relay.ChannelLayout); err != nil {
		errs = append(errs, fmt.Errorf("relay.channel_layout: %w", err))
	}
	if c.Orchestrator.PollInterval <= 0 {
		errs = append(errs, errors.New("orchestrator.poll_interval must be positive"))
	}
	if c.Server.RequestTimeout > 0 && c.Server.RequestTimeout <= c.Orchestrator.ObservationWindow {
		errs = append(errs, fmt.Errorf("server.request_timeout (%s) must exceed orchestrator.observation_window (%s)",
			c.Server.RequestTimeout, c.Orchestrator.ObservationWindow))
	}
	switch c.Storage.Type {
	case "", "none", "memory", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("storage.type %q is not supported", c.Storage.Type))
	}

	return errors.Join(errs...)
}
