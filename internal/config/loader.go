package config

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"

	"github.com/dialsense/dialsense/internal/amd"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path, applies environment
// overrides and validates the result. An empty path starts from [Default].
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("config: open %q: %w", path, err)
		}
		defer f.Close()

		if err := decode(f, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %q: %w", path, err)
		}
	}
	ApplyEnv(cfg, os.Getenv)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r over the defaults and
// validates the result. Environment variables are not consulted.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	if err := decode(r, cfg); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("config: decode yaml: %w", err)
	}
	return nil
}

// ApplyEnv overrides cfg with the environment variables the deployment sets.
func ApplyEnv(cfg *Config, getenv func(string) string) {
	set := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	set("PORT", &cfg.Server.Port)
	set("PUBLIC_BASE_URL", &cfg.Server.PublicBaseURL)
	set("DATABASE_URL", &cfg.Database.URL)
	set("DATABASE_DRIVER", &cfg.Database.Driver)
	set("TWILIO_ACCOUNT_SID", &cfg.Twilio.AccountSID)
	set("TWILIO_AUTH_TOKEN", &cfg.Twilio.AuthToken)
	set("TWILIO_PHONE_NUMBER", &cfg.Twilio.PhoneNumber)
	set("GOOGLE_API_KEY", &cfg.LLM.GeminiAPIKey)
	if v := getenv("LOG_LEVEL"); v != "" {
		cfg.Server.LogLevel = LogLevel(v)
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if p, err := strconv.Atoi(cfg.Server.Port); err != nil || p < 1 || p > 65535 {
		errs = append(errs, fmt.Errorf("server.port %q must be a number between 1 and 65535", cfg.Server.Port))
	}
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	switch cfg.Server.LogFormat {
	case "", "json", "console":
	default:
		errs = append(errs, fmt.Errorf("server.log_format %q is invalid; valid values: json, console", cfg.Server.LogFormat))
	}
	if cfg.Server.PublicBaseURL != "" {
		u, err := url.Parse(cfg.Server.PublicBaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("server.public_base_url %q must be an absolute URL", cfg.Server.PublicBaseURL))
		}
	}

	// Database
	switch cfg.Database.ResolvedDriver() {
	case DriverMemory:
	case DriverPostgres, DriverSQLite:
		if cfg.Database.URL == "" {
			errs = append(errs, fmt.Errorf("database.url is required for driver %q", cfg.Database.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("database.driver %q is invalid; valid values: postgres, sqlite, memory", cfg.Database.Driver))
	}

	// Twilio
	t := cfg.Twilio
	if !t.Configured() && (t.AccountSID != "" || t.AuthToken != "" || t.PhoneNumber != "") {
		errs = append(errs, errors.New("twilio: account_sid, auth_token and phone_number must be set together"))
	}

	// AMD
	if _, ok := amd.ParseStrategy(cfg.AMD.DefaultStrategy); !ok {
		errs = append(errs, fmt.Errorf("amd.default_strategy %q is not a known strategy", cfg.AMD.DefaultStrategy))
	}
	for name, v := range map[string]float64{
		"amd.policy.provider_failure_confidence": cfg.AMD.Policy.ProviderFailureConfidence,
		"amd.policy.sip_fallback_confidence":     cfg.AMD.Policy.SIPFallbackConfidence,
		"amd.policy.ml_failure_confidence":       cfg.AMD.Policy.MLFailureConfidence,
		"amd.policy.llm_failure_confidence":      cfg.AMD.Policy.LLMFailureConfidence,
	} {
		if v < 0 || v > amd.MaxFailureConfidence {
			errs = append(errs, fmt.Errorf("%s %v must be between 0 and %v", name, v, amd.MaxFailureConfidence))
		}
	}
	if v := cfg.AMD.OverrideConfidence; v < 0 || v > 1 {
		errs = append(errs, fmt.Errorf("amd.override_confidence %v must be between 0 and 1", v))
	}
	for name, d := range cfg.AMD.Latencies {
		if _, ok := amd.ParseStrategy(name); !ok {
			errs = append(errs, fmt.Errorf("amd.latencies: unknown strategy %q", name))
		}
		if d < 0 {
			errs = append(errs, fmt.Errorf("amd.latencies.%s must not be negative", name))
		}
	}

	// Calls
	if cfg.Calls.RatePerMinute < 1 {
		errs = append(errs, fmt.Errorf("calls.rate_per_minute %d must be at least 1", cfg.Calls.RatePerMinute))
	}
	if cfg.Calls.MaxWait <= 0 {
		errs = append(errs, fmt.Errorf("calls.max_wait %s must be positive", cfg.Calls.MaxWait))
	}
	if _, err := cron.ParseStandard(cfg.Calls.SweepSchedule); err != nil {
		errs = append(errs, fmt.Errorf("calls.sweep_schedule %q: %w", cfg.Calls.SweepSchedule, err))
	}

	return errors.Join(errs...)
}
