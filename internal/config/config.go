// Package config provides the configuration schema and loader for the
// dialsense server and CLI.
package config

import (
	"strings"
	"time"

	"github.com/dialsense/dialsense/internal/amd"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Database drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

// Config is the root configuration structure.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Twilio   TwilioConfig   `yaml:"twilio"`
	AMD      AMDConfig      `yaml:"amd"`
	Calls    CallsConfig    `yaml:"calls"`
	LLM      LLMConfig      `yaml:"llm"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Port string `yaml:"port"`

	// PublicBaseURL is the externally reachable address used for provider
	// callbacks and signature checks, e.g. https://dialer.example.com.
	PublicBaseURL string `yaml:"public_base_url"`

	LogLevel  LogLevel `yaml:"log_level"`
	LogFormat string   `yaml:"log_format"`

	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// AllowedOrigins lists CORS origins. Empty allows any origin.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// DatabaseConfig selects the call store.
type DatabaseConfig struct {
	// Driver is postgres, sqlite or memory. Empty infers it from URL.
	Driver string `yaml:"driver"`
	// URL is a postgres connection string or a sqlite file path.
	URL string `yaml:"url"`
}

// ResolvedDriver returns Driver, or the driver implied by URL when Driver is
// empty.
func (d DatabaseConfig) ResolvedDriver() string {
	if d.Driver != "" {
		return d.Driver
	}
	switch {
	case d.URL == "":
		return DriverMemory
	case strings.HasPrefix(d.URL, "postgres://"), strings.HasPrefix(d.URL, "postgresql://"):
		return DriverPostgres
	default:
		return DriverSQLite
	}
}

// SQLitePath returns URL without an optional sqlite:// scheme.
func (d DatabaseConfig) SQLitePath() string {
	return strings.TrimPrefix(d.URL, "sqlite://")
}

// TwilioConfig holds telephony credentials. With no credentials only demo
// calls are possible.
type TwilioConfig struct {
	AccountSID  string `yaml:"account_sid"`
	AuthToken   string `yaml:"auth_token"`
	PhoneNumber string `yaml:"phone_number"`
	BaseURL     string `yaml:"base_url"`

	// SkipSignature disables webhook signature checks. Local development only.
	SkipSignature bool `yaml:"skip_signature"`
}

// Configured reports whether credentials are present.
func (t TwilioConfig) Configured() bool {
	return t.AccountSID != "" && t.AuthToken != "" && t.PhoneNumber != ""
}

// AMDConfig tunes detection.
type AMDConfig struct {
	DefaultStrategy string     `yaml:"default_strategy"`
	Policy          amd.Policy `yaml:"policy"`

	DenyList           []string `yaml:"deny_list"`
	OverrideConfidence float64  `yaml:"override_confidence"`

	// Latencies overrides the simulated processing time per strategy.
	Latencies map[string]time.Duration `yaml:"latencies"`
}

// CallsConfig controls call admission and clean-up.
type CallsConfig struct {
	RatePerMinute int `yaml:"rate_per_minute"`
	// MaxWait is how long a call may stay non-terminal before the sweeper
	// fails it.
	MaxWait       time.Duration `yaml:"max_wait"`
	SweepSchedule string        `yaml:"sweep_schedule"`
}

// LLMConfig configures the Gemini backend of the llm-based strategy. With no
// API key the strategy is simulated.
type LLMConfig struct {
	GeminiAPIKey string `yaml:"gemini_api_key"`
	Model        string `yaml:"model"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            "8080",
			PublicBaseURL:   "http://localhost:8080",
			LogLevel:        LogInfo,
			LogFormat:       "json",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		AMD: AMDConfig{
			DefaultStrategy:    string(amd.ProviderNative),
			Policy:             amd.DefaultPolicy(),
			OverrideConfidence: 0.85,
		},
		Calls: CallsConfig{
			RatePerMinute: 5,
			MaxWait:       10 * time.Minute,
			SweepSchedule: "@every 1m",
		},
		LLM: LLMConfig{
			Model: "gemini-2.0-flash",
		},
	}
}

// StrategyLatencies converts the latency overrides to strategy ids, on top of
// the defaults.
func (a AMDConfig) StrategyLatencies() map[amd.StrategyID]time.Duration {
	out := amd.DefaultLatencies()
	for name, d := range a.Latencies {
		if id, ok := amd.ParseStrategy(name); ok {
			out[id] = d
		}
	}
	return out
}
