// Package config provides application configuration management using Viper.
// It supports loading from environment variables, config files, and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Carrier   CarrierConfig
	Session   SessionConfig
	Reporter  ReporterConfig
	Upstream  UpstreamConfig
	Snapshot  SnapshotConfig
	Log       LogConfig
	RateLimit RateLimitConfig
	Shutdown  ShutdownConfig
	Defaults  CallDefaults
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string
	Port         int
	Environment  string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// CarrierConfig holds telephony carrier credentials and dial settings.
type CarrierConfig struct {
	BaseURL         string
	AccountSID      string
	APIKey          string
	APIToken        string
	CallerID        string
	AppID           string
	CallbackBaseURL string
	// Dialect selects the Response Encoder: "xml" (ExoML passthrough) or "json" (programmable gather).
	Dialect string
}

// SessionConfig holds Session Store TTL settings.
type SessionConfig struct {
	LiveTTL        time.Duration
	ReportedTTL    time.Duration
	DedupWindow    time.Duration
	SweepInterval  time.Duration
	LockWaitBudget time.Duration
}

// ReporterConfig holds Outcome Reporter delivery settings.
type ReporterConfig struct {
	// RetrySchedule is the fixed backoff schedule between delivery attempts.
	RetrySchedule []time.Duration
	AbortAfter    time.Duration
	RequestTimeout time.Duration
	WorkerCount    int
	QueueSize      int
}

// UpstreamConfig holds the "brain" outcome-reporting endpoint.
type UpstreamConfig struct {
	OutcomeURL string
}

// SnapshotConfig holds the optional durable terminal-record snapshot settings (§10.7).
type SnapshotConfig struct {
	DSN                   string
	MaxConnections        int
	MaxIdleConnections    int
	ConnectionMaxLifetime time.Duration
}

// Enabled reports whether the optional snapshot bridge is configured.
func (s *SnapshotConfig) Enabled() bool {
	return s.DSN != ""
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string
	Format string
}

// RateLimitConfig holds rate limiting settings for the /initiate endpoint.
type RateLimitConfig struct {
	Requests int
	Window   time.Duration
}

// ShutdownConfig holds graceful shutdown settings.
type ShutdownConfig struct {
	Timeout time.Duration
}

// CallDefaults holds default business parameters referenced by the Composer and State Machine.
type CallDefaults struct {
	DefaultLanguage    string
	DefaultPrepMinutes int
	AttemptsCap        int
}

// Load reads configuration from environment variables and config files.
// Environment variables take precedence over config file values.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/ivrengine")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	// Flat environment names, with the key-path-derived names as fallbacks.
	_ = v.BindEnv("carrier.callback_base_url", "CALLBACK_BASE_URL", "CARRIER_CALLBACK_BASE_URL")
	_ = v.BindEnv("carrier.dialect", "DIALECT", "CARRIER_DIALECT")
	_ = v.BindEnv("server.env", "APP_ENV", "SERVER_ENV")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var configNotFoundErr viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFoundErr) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	retrySchedule := []time.Duration{}
	for _, s := range v.GetStringSlice("reporter.retry_schedule") {
		d, err := time.ParseDuration(s)
		if err != nil {
			return nil, fmt.Errorf("invalid reporter.retry_schedule entry %q: %w", s, err)
		}
		retrySchedule = append(retrySchedule, d)
	}

	for key, env := range map[string]string{
		"session.live_ttl":     "SESSION_LIVE_TTL_SECONDS",
		"session.reported_ttl": "SESSION_REPORTED_TTL_SECONDS",
	} {
		if secs := v.GetInt(strings.ToLower(env)); secs > 0 {
			v.Set(key, time.Duration(secs)*time.Second)
		}
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:         v.GetString("server.host"),
			Port:         v.GetInt("server.port"),
			Environment:  v.GetString("server.env"),
			ReadTimeout:  v.GetDuration("server.read_timeout"),
			WriteTimeout: v.GetDuration("server.write_timeout"),
			IdleTimeout:  v.GetDuration("server.idle_timeout"),
		},
		Carrier: CarrierConfig{
			BaseURL:         v.GetString("carrier.base_url"),
			AccountSID:      v.GetString("carrier.account_sid"),
			APIKey:          v.GetString("carrier.api_key"),
			APIToken:        v.GetString("carrier.api_token"),
			CallerID:        v.GetString("carrier.caller_id"),
			AppID:           v.GetString("carrier.app_id"),
			CallbackBaseURL: v.GetString("carrier.callback_base_url"),
			Dialect:         v.GetString("carrier.dialect"),
		},
		Session: SessionConfig{
			LiveTTL:        v.GetDuration("session.live_ttl"),
			ReportedTTL:    v.GetDuration("session.reported_ttl"),
			DedupWindow:    v.GetDuration("session.dedup_window"),
			SweepInterval:  v.GetDuration("session.sweep_interval"),
			LockWaitBudget: v.GetDuration("session.lock_wait_budget"),
		},
		Reporter: ReporterConfig{
			RetrySchedule:  retrySchedule,
			AbortAfter:     v.GetDuration("reporter.abort_after"),
			RequestTimeout: v.GetDuration("reporter.request_timeout"),
			WorkerCount:    v.GetInt("reporter.worker_count"),
			QueueSize:      v.GetInt("reporter.queue_size"),
		},
		Upstream: UpstreamConfig{
			OutcomeURL: v.GetString("upstream.outcome_url"),
		},
		Snapshot: SnapshotConfig{
			DSN:                   v.GetString("snapshot.dsn"),
			MaxConnections:        v.GetInt("snapshot.max_connections"),
			MaxIdleConnections:    v.GetInt("snapshot.max_idle_connections"),
			ConnectionMaxLifetime: v.GetDuration("snapshot.connection_max_lifetime"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
		RateLimit: RateLimitConfig{
			Requests: v.GetInt("rate_limit.requests"),
			Window:   v.GetDuration("rate_limit.window"),
		},
		Shutdown: ShutdownConfig{
			Timeout: v.GetDuration("shutdown.timeout"),
		},
		Defaults: CallDefaults{
			DefaultLanguage:    v.GetString("default_language"),
			DefaultPrepMinutes: v.GetInt("default_prep_minutes"),
			AttemptsCap:        v.GetInt("attempts_cap"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// setDefaults configures default values for all settings.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.env", "development")
	v.SetDefault("server.read_timeout", "5s")
	v.SetDefault("server.write_timeout", "5s")
	v.SetDefault("server.idle_timeout", "60s")

	v.SetDefault("carrier.dialect", "xml")

	v.SetDefault("session.live_ttl", "900s")
	v.SetDefault("session.reported_ttl", "60s")
	v.SetDefault("session.dedup_window", "5m")
	v.SetDefault("session.sweep_interval", "30s")
	v.SetDefault("session.lock_wait_budget", "500ms")

	v.SetDefault("reporter.retry_schedule", []string{"0s", "2s", "8s", "30s", "2m", "10m"})
	v.SetDefault("reporter.abort_after", "30m")
	v.SetDefault("reporter.request_timeout", "10s")
	v.SetDefault("reporter.worker_count", 3)
	v.SetDefault("reporter.queue_size", 256)

	v.SetDefault("snapshot.max_connections", 10)
	v.SetDefault("snapshot.max_idle_connections", 2)
	v.SetDefault("snapshot.connection_max_lifetime", "5m")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("rate_limit.requests", 100)
	v.SetDefault("rate_limit.window", "1m")

	v.SetDefault("shutdown.timeout", "30s")

	v.SetDefault("default_language", "hi")
	v.SetDefault("default_prep_minutes", 30)
	v.SetDefault("attempts_cap", 2)
}

// Validate checks that all required configuration values are present.
func (c *Config) Validate() error {
	var missing []string

	if c.Carrier.AccountSID == "" {
		missing = append(missing, "CARRIER_ACCOUNT_SID")
	}
	if c.Carrier.APIKey == "" && c.Carrier.APIToken == "" {
		missing = append(missing, "CARRIER_API_KEY or CARRIER_API_TOKEN")
	}
	if c.Carrier.CallerID == "" {
		missing = append(missing, "CARRIER_CALLER_ID")
	}
	if c.Carrier.AppID == "" {
		missing = append(missing, "CARRIER_APP_ID")
	}
	if c.Carrier.CallbackBaseURL == "" {
		missing = append(missing, "CALLBACK_BASE_URL")
	}
	if c.Upstream.OutcomeURL == "" {
		missing = append(missing, "UPSTREAM_OUTCOME_URL")
	}
	if c.Carrier.Dialect != "xml" && c.Carrier.Dialect != "json" {
		missing = append(missing, `DIALECT (must be "xml" or "json")`)
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing or invalid required configuration: %s", strings.Join(missing, ", "))
	}

	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Server.Environment == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Server.Environment == "production"
}
