package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Database     DatabaseConfig     `yaml:"database"`
	Redis        RedisConfig        `yaml:"redis"`
	Gmail        GmailConfig        `yaml:"gmail"`
	Meta         MetaConfig         `yaml:"meta"`
	ListingFeeds ListingFeedsConfig `yaml:"listing_feeds"`
	Webhook      WebhookConfig      `yaml:"webhook"`
	Polling      PollingConfig      `yaml:"polling"`
	Dedup        DedupConfig        `yaml:"dedup"`
	Sequences    SequenceConfig     `yaml:"sequences"`
	Optimization OptimizationConfig `yaml:"optimization"`
	Alerts       AlertConfig        `yaml:"alerts"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
}

// GetHost returns the server host, with container detection
func (c ServerConfig) GetHost() string {
	// In a container, listen on all interfaces
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "0.0.0.0"
	}
	// Allow override via environment
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// DatabaseConfig holds PostgreSQL connection settings
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	URL      string `yaml:"url"` // Takes precedence over the individual fields
}

// DSN returns the lib/pq connection string. The url field (or the
// DATABASE_URL override) wins over the individual fields.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.Host, c.Port, c.Name, c.User, c.Password, c.SSLMode)
}

// RedisConfig holds Redis connection settings for distributed locks
// and poller watermarks. Optional; the store falls back to PG advisory
// locks when Addr is empty.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// GmailConfig holds Gmail API OAuth credentials for lead inbox polling
type GmailConfig struct {
	Enabled      bool     `yaml:"enabled"`
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	RefreshToken string   `yaml:"refresh_token"`
	Labels       []string `yaml:"labels"` // Gmail labels to poll for lead emails
}

// MetaConfig holds Meta (Facebook/Instagram) Lead Ads configuration
type MetaConfig struct {
	Enabled     bool   `yaml:"enabled"`
	AppSecret   string `yaml:"app_secret"`   // For X-Hub-Signature-256 verification
	VerifyToken string `yaml:"verify_token"` // For webhook subscription handshake
	AccessToken string `yaml:"access_token"`
	PageID      string `yaml:"page_id"`
}

// ListingFeedsConfig holds RSS/Atom listing portal feed settings
type ListingFeedsConfig struct {
	Enabled bool     `yaml:"enabled"`
	URLs    []string `yaml:"urls"`
}

// WebhookConfig holds inbound webhook settings
type WebhookConfig struct {
	Secret string `yaml:"secret"` // Shared secret for generic webhook sources
}

// PollingConfig holds source polling configuration
type PollingConfig struct {
	Enabled                 bool `yaml:"enabled"`
	IntervalMinutes         int  `yaml:"interval_minutes"`
	FirstRunLookbackMinutes int  `yaml:"first_run_lookback_minutes"`
}

// Interval returns the polling interval as a duration
func (c PollingConfig) Interval() time.Duration {
	return time.Duration(c.IntervalMinutes) * time.Minute
}

// FirstRunLookback returns the watermark lookback used when a source has
// never been polled before.
func (c PollingConfig) FirstRunLookback() time.Duration {
	return time.Duration(c.FirstRunLookbackMinutes) * time.Minute
}

// DedupConfig holds duplicate detection settings
type DedupConfig struct {
	Threshold float64 `yaml:"threshold"` // Confidence at or above which two leads merge
}

// SequenceConfig holds outbound sequence worker settings
type SequenceConfig struct {
	Enabled             bool `yaml:"enabled"`
	TickIntervalSeconds int  `yaml:"tick_interval_seconds"`
	LockTTLSeconds      int  `yaml:"lock_ttl_seconds"`
	BatchSize           int  `yaml:"batch_size"`
}

// TickInterval returns the scheduler tick interval as a duration
func (c SequenceConfig) TickInterval() time.Duration {
	return time.Duration(c.TickIntervalSeconds) * time.Second
}

// LockTTL returns the sequence claim lock TTL as a duration
func (c SequenceConfig) LockTTL() time.Duration {
	return time.Duration(c.LockTTLSeconds) * time.Second
}

// OptimizationConfig holds the self-optimization cycle settings
type OptimizationConfig struct {
	Enabled            bool    `yaml:"enabled"`
	CycleHours         int     `yaml:"cycle_hours"`
	MinImprovementPct  float64 `yaml:"min_improvement_pct"`
	TestingDaysDefault int     `yaml:"testing_days_default"`
}

// CycleInterval returns the optimization cycle interval as a duration
func (c OptimizationConfig) CycleInterval() time.Duration {
	return time.Duration(c.CycleHours) * time.Hour
}

// AlertConfig holds error monitor alert thresholds and channel settings
type AlertConfig struct {
	ErrorRatePerMinute   int      `yaml:"error_rate_per_minute"`
	CriticalPerHour      int      `yaml:"critical_per_hour"`
	BreakerTripsPerHour  int      `yaml:"breaker_trips_per_hour"`
	CooldownMinutes      int      `yaml:"cooldown_minutes"`
	SMTPHost             string   `yaml:"smtp_host"`
	SMTPPort             int      `yaml:"smtp_port"`
	SMTPFrom             string   `yaml:"smtp_from"`
	EmailRecipients      []string `yaml:"email_recipients"`
	SlackWebhookURL      string   `yaml:"slack_webhook_url"`
	WebhookURL           string   `yaml:"webhook_url"`
}

// Cooldown returns the per-alert-kind cooldown as a duration
func (c AlertConfig) Cooldown() time.Duration {
	return time.Duration(c.CooldownMinutes) * time.Minute
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// Set defaults
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.Name == "" {
		cfg.Database.Name = "leadpilot"
	}
	if cfg.Database.User == "" {
		cfg.Database.User = "leadpilot"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Polling.IntervalMinutes == 0 {
		cfg.Polling.IntervalMinutes = 5
	}
	if cfg.Polling.FirstRunLookbackMinutes == 0 {
		cfg.Polling.FirstRunLookbackMinutes = 60
	}
	if cfg.Dedup.Threshold == 0 {
		cfg.Dedup.Threshold = 0.7
	}
	if cfg.Sequences.TickIntervalSeconds == 0 {
		cfg.Sequences.TickIntervalSeconds = 60
	}
	if cfg.Sequences.LockTTLSeconds == 0 {
		cfg.Sequences.LockTTLSeconds = 300
	}
	if cfg.Sequences.BatchSize == 0 {
		cfg.Sequences.BatchSize = 50
	}
	if cfg.Optimization.CycleHours == 0 {
		cfg.Optimization.CycleHours = 6
	}
	if cfg.Optimization.MinImprovementPct == 0 {
		cfg.Optimization.MinImprovementPct = 5
	}
	if cfg.Optimization.TestingDaysDefault == 0 {
		cfg.Optimization.TestingDaysDefault = 7
	}
	if cfg.Alerts.ErrorRatePerMinute == 0 {
		cfg.Alerts.ErrorRatePerMinute = 10
	}
	if cfg.Alerts.CriticalPerHour == 0 {
		cfg.Alerts.CriticalPerHour = 5
	}
	if cfg.Alerts.BreakerTripsPerHour == 0 {
		cfg.Alerts.BreakerTripsPerHour = 3
	}
	if cfg.Alerts.CooldownMinutes == 0 {
		cfg.Alerts.CooldownMinutes = 15
	}
	if cfg.Alerts.SMTPPort == 0 {
		cfg.Alerts.SMTPPort = 587
	}

	return &cfg, nil
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env vars,
// so secrets can live in .env locally and in real env vars in production.
func LoadFromEnv(path string) (*Config, error) {
	// Load .env file if it exists (no error if missing)
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	// Override with environment variables if present
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		cfg.Database.URL = dbURL
	}
	if v := os.Getenv("DATABASE_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("GMAIL_CLIENT_ID"); v != "" {
		cfg.Gmail.ClientID = v
	}
	if v := os.Getenv("GMAIL_CLIENT_SECRET"); v != "" {
		cfg.Gmail.ClientSecret = v
	}
	if v := os.Getenv("GMAIL_REFRESH_TOKEN"); v != "" {
		cfg.Gmail.RefreshToken = v
	}
	if v := os.Getenv("META_APP_SECRET"); v != "" {
		cfg.Meta.AppSecret = v
	}
	if v := os.Getenv("META_VERIFY_TOKEN"); v != "" {
		cfg.Meta.VerifyToken = v
	}
	if v := os.Getenv("META_ACCESS_TOKEN"); v != "" {
		cfg.Meta.AccessToken = v
	}
	if v := os.Getenv("WEBHOOK_SECRET"); v != "" {
		cfg.Webhook.Secret = v
	}
	if v := os.Getenv("SLACK_WEBHOOK_URL"); v != "" {
		cfg.Alerts.SlackWebhookURL = v
	}

	return cfg, nil
}
