// Package config loads and validates service configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// DefaultEnvFile is read before the environment when present.
const DefaultEnvFile = ".env"

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Jobs      JobsConfig      `mapstructure:"jobs"`
	Sessions  SessionsConfig  `mapstructure:"sessions"`
	Browser   BrowserConfig   `mapstructure:"browser"`
	Site      SiteConfig      `mapstructure:"site"`
	Niches    NichesConfig    `mapstructure:"niches"`
	Webhook   WebhookConfig   `mapstructure:"webhook"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Storage   StorageConfig   `mapstructure:"storage"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// JobsConfig governs the job store and worker pool.
type JobsConfig struct {
	Retention     time.Duration `mapstructure:"retention"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	QueueDepth    int           `mapstructure:"queue_depth"`
	Workers       int           `mapstructure:"workers"`
	JobTimeout    time.Duration `mapstructure:"job_timeout"`
}

// SessionsConfig governs the logged-in session registry.
type SessionsConfig struct {
	TTL           time.Duration `mapstructure:"ttl"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// BrowserConfig selects and tunes the browser backend.
type BrowserConfig struct {
	Backend        string        `mapstructure:"backend"`
	MaxInstances   int           `mapstructure:"max_instances"`
	Headless       bool          `mapstructure:"headless"`
	NoSandbox      bool          `mapstructure:"no_sandbox"`
	Bin            string        `mapstructure:"bin"`
	UserAgent      string        `mapstructure:"user_agent"`
	NavTimeout     time.Duration `mapstructure:"nav_timeout"`
	ElementTimeout time.Duration `mapstructure:"element_timeout"`
	ViewportWidth  int           `mapstructure:"viewport_width"`
	ViewportHeight int           `mapstructure:"viewport_height"`
	Stealth        bool          `mapstructure:"stealth"`
	ScrollPause    time.Duration `mapstructure:"scroll_pause"`
}

// SiteConfig describes the authenticated target site.
type SiteConfig struct {
	LoginURL             string        `mapstructure:"login_url"`
	LoginPathMarker      string        `mapstructure:"login_path_marker"`
	Email                string        `mapstructure:"email"`
	Password             string        `mapstructure:"password"`
	ChannelsURL          string        `mapstructure:"channels_url"`
	VideosURL            string        `mapstructure:"videos_url"`
	FormTimeout          time.Duration `mapstructure:"form_timeout"`
	RedirectTimeout      time.Duration `mapstructure:"redirect_timeout"`
	WaitTime             time.Duration `mapstructure:"wait_time"`
	ChannelCardSelectors []string      `mapstructure:"channel_card_selectors"`
}

// NichesConfig tunes card extraction on the niche gallery.
type NichesConfig struct {
	MinCandidates      int           `mapstructure:"min_candidates"`
	HeaderSelector     string        `mapstructure:"header_selector"`
	UncategorizedLabel string        `mapstructure:"uncategorized_label"`
	WaitTime           time.Duration `mapstructure:"wait_time"`
}

// WebhookConfig controls callback delivery.
type WebhookConfig struct {
	MaxAttempts    int           `mapstructure:"max_attempts"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
	Timeout        time.Duration `mapstructure:"timeout"`
	SigningSecret  string        `mapstructure:"signing_secret"`
}

// RateLimitConfig paces navigations per host.
type RateLimitConfig struct {
	RPS   float64    `mapstructure:"rps"`
	Burst int        `mapstructure:"burst"`
	Hosts []HostRate `mapstructure:"hosts"`
}

// HostRate overrides the default rate for one hostname.
type HostRate struct {
	Host string  `mapstructure:"host"`
	RPS  float64 `mapstructure:"rps"`
}

// HostRates flattens Hosts for the limiter.
func (c RateLimitConfig) HostRates() map[string]float64 {
	out := make(map[string]float64, len(c.Hosts))
	for _, h := range c.Hosts {
		out[h.Host] = h.RPS
	}
	return out
}

// StorageConfig selects where page snapshots are archived.
type StorageConfig struct {
	Backend          string `mapstructure:"backend"`
	Bucket           string `mapstructure:"bucket"`
	BaseDir          string `mapstructure:"base_dir"`
	Prefix           string `mapstructure:"prefix"`
	CacheControl     string `mapstructure:"cache_control"`
	ArchiveSnapshots bool   `mapstructure:"archive_snapshots"`
}

// PubSubConfig holds metadata for job event notifications. An empty
// project id keeps events in memory.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// Load reads DefaultEnvFile, then the optional config file at path, then
// HARVESTER_* environment variables.
func Load(path string) (Config, error) {
	return LoadWithEnvFile(path, DefaultEnvFile)
}

// LoadWithEnvFile is Load with an explicit dotenv file. A missing file is
// not an error.
func LoadWithEnvFile(path, envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load env file %s: %w", envFile, err)
		}
	}

	v := viper.New()
	v.SetEnvPrefix("HARVESTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	if err := bindLegacyEnv(v); err != nil {
		return Config{}, err
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// bindLegacyEnv accepts the unprefixed credential names older .env files use.
func bindLegacyEnv(v *viper.Viper) error {
	bindings := map[string][]string{
		"site.email":     {"HARVESTER_SITE_EMAIL", "user"},
		"site.password":  {"HARVESTER_SITE_PASSWORD", "password"},
		"site.login_url": {"HARVESTER_SITE_LOGIN_URL", "url_login"},
	}
	for key, envs := range bindings {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return fmt.Errorf("bind env %s: %w", key, err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.request_timeout", "15m")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("jobs.retention", "24h")
	v.SetDefault("jobs.sweep_interval", "10m")
	v.SetDefault("jobs.queue_depth", 64)
	v.SetDefault("jobs.workers", 2)
	v.SetDefault("jobs.job_timeout", "10m")
	v.SetDefault("sessions.ttl", "3h")
	v.SetDefault("sessions.sweep_interval", "60s")
	v.SetDefault("browser.backend", "chromedp")
	v.SetDefault("browser.max_instances", 4)
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.no_sandbox", false)
	v.SetDefault("browser.bin", "")
	v.SetDefault("browser.user_agent", "")
	v.SetDefault("browser.nav_timeout", "120s")
	v.SetDefault("browser.element_timeout", "15s")
	v.SetDefault("browser.viewport_width", 1920)
	v.SetDefault("browser.viewport_height", 1080)
	v.SetDefault("browser.stealth", true)
	v.SetDefault("browser.scroll_pause", "2s")
	v.SetDefault("site.login_url", "https://app.tubehunt.io/login")
	v.SetDefault("site.login_path_marker", "login")
	v.SetDefault("site.email", "")
	v.SetDefault("site.password", "")
	v.SetDefault("site.channels_url", "https://app.tubehunt.io/long/?page=1&OrderBy=DateDESC&ChangePerPage=50")
	v.SetDefault("site.videos_url", "https://app.tubehunt.io/long/?page=1&OrderBy=DateDESC&ChangePerPage=50")
	v.SetDefault("site.form_timeout", "30s")
	v.SetDefault("site.redirect_timeout", "30s")
	v.SetDefault("site.wait_time", "15s")
	v.SetDefault("site.channel_card_selectors", []string{})
	v.SetDefault("niches.min_candidates", 5)
	v.SetDefault("niches.header_selector", "h3")
	v.SetDefault("niches.uncategorized_label", "uncategorized")
	v.SetDefault("niches.wait_time", "25s")
	v.SetDefault("webhook.max_attempts", 3)
	v.SetDefault("webhook.initial_backoff", "2s")
	v.SetDefault("webhook.max_backoff", "30s")
	v.SetDefault("webhook.timeout", "30s")
	v.SetDefault("webhook.signing_secret", "")
	v.SetDefault("ratelimit.rps", 1.0)
	v.SetDefault("ratelimit.burst", 2)
	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.base_dir", "snapshots")
	v.SetDefault("storage.prefix", "snapshots")
	v.SetDefault("storage.cache_control", "")
	v.SetDefault("storage.archive_snapshots", false)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "harvester-jobs")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Jobs.Workers <= 0 {
		return fmt.Errorf("jobs.workers must be > 0")
	}
	if c.Jobs.QueueDepth <= 0 {
		return fmt.Errorf("jobs.queue_depth must be > 0")
	}
	if c.Jobs.JobTimeout <= 0 {
		return fmt.Errorf("jobs.job_timeout must be > 0")
	}
	if c.Sessions.TTL <= 0 {
		return fmt.Errorf("sessions.ttl must be > 0")
	}
	switch c.Browser.Backend {
	case "chromedp", "rod", "static":
	default:
		return fmt.Errorf("browser.backend must be one of chromedp, rod, static; got %q", c.Browser.Backend)
	}
	if c.Browser.MaxInstances <= 0 {
		return fmt.Errorf("browser.max_instances must be > 0")
	}
	if c.Webhook.MaxAttempts <= 0 {
		return fmt.Errorf("webhook.max_attempts must be > 0")
	}
	switch c.Storage.Backend {
	case "memory", "local":
	case "gcs":
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage.bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("storage.backend must be one of memory, local, gcs; got %q", c.Storage.Backend)
	}
	if c.PubSub.ProjectID != "" && c.PubSub.TopicName == "" {
		return fmt.Errorf("pubsub.topic_name must be set when pubsub.project_id is set")
	}
	return nil
}

// HasCredentials reports whether a login can be attempted.
func (c SiteConfig) HasCredentials() bool {
	return c.Email != "" && c.Password != ""
}
