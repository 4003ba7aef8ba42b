// Package config loads and validates portal configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Jobs      JobsConfig      `mapstructure:"jobs"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Feed      FeedConfig      `mapstructure:"feed"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Scraper   ScraperConfig   `mapstructure:"scraper"`
	Headless  HeadlessConfig  `mapstructure:"headless"`
	AI        AIConfig        `mapstructure:"ai"`
	Search    SearchConfig    `mapstructure:"search"`
	External  ExternalConfig  `mapstructure:"external"`
	Storage   StorageConfig   `mapstructure:"storage"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxUploadBytes  int64         `mapstructure:"max_upload_bytes"`
}

// AuthConfig configures token signing and Google sign-in.
type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
	Issuer    string        `mapstructure:"issuer"`
	Google    GoogleConfig  `mapstructure:"google"`
}

// GoogleConfig holds the OAuth client used for Google sign-in.
type GoogleConfig struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	RedirectURL  string `mapstructure:"redirect_url"`
}

// Enabled reports whether Google sign-in is configured.
func (g GoogleConfig) Enabled() bool {
	return g.ClientID != "" && g.ClientSecret != "" && g.RedirectURL != ""
}

// DatabaseConfig controls access to Postgres.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// RedisConfig points at the Redis instance backing the durable job queue.
// An empty Addr selects the in-process queue.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// JobsConfig governs background task execution.
type JobsConfig struct {
	Concurrency int           `mapstructure:"concurrency"`
	QueueDepth  int           `mapstructure:"queue_depth"`
	MaxRetry    int           `mapstructure:"max_retry"`
	Timeout     time.Duration `mapstructure:"timeout"`
	Queue       string        `mapstructure:"queue"`
	LogBuffer   int           `mapstructure:"log_buffer"`
	LogBatch    int           `mapstructure:"log_batch"`
	LogFlush    time.Duration `mapstructure:"log_flush"`
}

// CacheConfig configures the generated-content cache.
type CacheConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

// FeedConfig configures feed pagination and caching.
type FeedConfig struct {
	CacheTTL        time.Duration `mapstructure:"cache_ttl"`
	DefaultPageSize int           `mapstructure:"default_page_size"`
	MaxPageSize     int           `mapstructure:"max_page_size"`
}

// SchedulerConfig controls the daily subscription run.
type SchedulerConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Cron     string `mapstructure:"cron"`
	Timezone string `mapstructure:"timezone"`
}

// Location resolves the configured time zone.
func (s SchedulerConfig) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", s.Timezone, err)
	}
	return loc, nil
}

// ScraperConfig tunes the static fetcher.
type ScraperConfig struct {
	UserAgent     string        `mapstructure:"user_agent"`
	Timeout       time.Duration `mapstructure:"timeout"`
	RespectRobots bool          `mapstructure:"respect_robots"`
	MaxItems      int           `mapstructure:"max_items"`
	MaxBodyBytes  int           `mapstructure:"max_body_bytes"`
}

// HeadlessConfig configures the headless rendering subsystem.
type HeadlessConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	MaxParallel       int           `mapstructure:"max_parallel"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout"`
}

// AIConfig lists the configured AI providers keyed by provider name.
// MaxInputChars truncates gathered input before it is templated.
type AIConfig struct {
	Timeout       time.Duration             `mapstructure:"timeout"`
	MaxInputChars int                       `mapstructure:"max_input_chars"`
	Providers     map[string]ProviderConfig `mapstructure:"providers"`
}

// ProviderConfig configures one AI provider client.
type ProviderConfig struct {
	APIKey  string  `mapstructure:"api_key"`
	BaseURL string  `mapstructure:"base_url"`
	Model   string  `mapstructure:"model"`
	RPS     float64 `mapstructure:"rps"`
	Burst   int     `mapstructure:"burst"`
}

// SearchConfig configures the web search client.
type SearchConfig struct {
	APIKey  string        `mapstructure:"api_key"`
	BaseURL string        `mapstructure:"base_url"`
	Count   int           `mapstructure:"count"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// ExternalConfig configures the third-party data proxies.
type ExternalConfig struct {
	CacheTTL time.Duration  `mapstructure:"cache_ttl"`
	Timeout  time.Duration  `mapstructure:"timeout"`
	Fuel     EndpointConfig `mapstructure:"fuel"`
	EV       EndpointConfig `mapstructure:"ev"`
}

// EndpointConfig is a base URL plus credentials.
type EndpointConfig struct {
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
}

// StorageConfig selects the blob backend used for uploads.
type StorageConfig struct {
	Backend       string             `mapstructure:"backend"`
	Bucket        string             `mapstructure:"bucket"`
	Prefix        string             `mapstructure:"prefix"`
	PublicBaseURL string             `mapstructure:"public_base_url"`
	Local         LocalStorageConfig `mapstructure:"local"`
}

// LocalStorageConfig configures the filesystem backend.
type LocalStorageConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

// PubSubConfig holds metadata for job event notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// RateLimitConfig configures per-host throttling of outbound scraping.
type RateLimitConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	DefaultRPS   float64 `mapstructure:"default_rps"`
	DefaultBurst int     `mapstructure:"default_burst"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PORTAL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

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

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.max_upload_bytes", 5<<20)
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.token_ttl", 12*time.Hour)
	v.SetDefault("auth.issuer", "fleet-portal")
	v.SetDefault("auth.google.client_id", "")
	v.SetDefault("auth.google.client_secret", "")
	v.SetDefault("auth.google.redirect_url", "")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 1)
	v.SetDefault("database.max_conn_lifetime", 30*time.Minute)
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("jobs.concurrency", 4)
	v.SetDefault("jobs.queue_depth", 64)
	v.SetDefault("jobs.max_retry", 0)
	v.SetDefault("jobs.timeout", 5*time.Minute)
	v.SetDefault("jobs.queue", "portal")
	v.SetDefault("jobs.log_buffer", 256)
	v.SetDefault("jobs.log_batch", 32)
	v.SetDefault("jobs.log_flush", 500*time.Millisecond)
	v.SetDefault("cache.ttl", 24*time.Hour)
	v.SetDefault("feed.cache_ttl", time.Minute)
	v.SetDefault("feed.default_page_size", 20)
	v.SetDefault("feed.max_page_size", 100)
	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.cron", "0 6 * * *")
	v.SetDefault("scheduler.timezone", "Europe/Berlin")
	v.SetDefault("scraper.user_agent", "fleet-portal-bot/1.0")
	v.SetDefault("scraper.timeout", 20*time.Second)
	v.SetDefault("scraper.respect_robots", true)
	v.SetDefault("scraper.max_items", 50)
	v.SetDefault("scraper.max_body_bytes", 5<<20)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.navigation_timeout", 25*time.Second)
	v.SetDefault("ai.timeout", 90*time.Second)
	v.SetDefault("ai.max_input_chars", 12000)
	// Provider keys are declared so PORTAL_AI_PROVIDERS_<NAME>_API_KEY binds.
	for name, p := range map[string]ProviderConfig{
		"openai":    {BaseURL: "https://api.openai.com/v1", Model: "gpt-4o-mini"},
		"anthropic": {BaseURL: "https://api.anthropic.com", Model: "claude-3-5-haiku-latest"},
		"gemini":    {BaseURL: "https://generativelanguage.googleapis.com", Model: "gemini-1.5-flash"},
	} {
		prefix := "ai.providers." + name + "."
		v.SetDefault(prefix+"api_key", "")
		v.SetDefault(prefix+"base_url", p.BaseURL)
		v.SetDefault(prefix+"model", p.Model)
		v.SetDefault(prefix+"rps", 1.0)
		v.SetDefault(prefix+"burst", 1)
	}
	v.SetDefault("search.base_url", "https://api.search.brave.com/res/v1/web/search")
	v.SetDefault("search.count", 5)
	v.SetDefault("search.timeout", 10*time.Second)
	v.SetDefault("external.cache_ttl", 10*time.Minute)
	v.SetDefault("external.timeout", 10*time.Second)
	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.prefix", "uploads")
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "")
	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.default_rps", 1.0)
	v.SetDefault("rate_limit.default_burst", 2)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if len(c.Auth.JWTSecret) < 16 {
		return fmt.Errorf("auth.jwt_secret must be at least 16 characters")
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl must be > 0")
	}
	if c.Jobs.Concurrency <= 0 {
		return fmt.Errorf("jobs.concurrency must be > 0")
	}
	if c.Jobs.MaxRetry < 0 {
		return fmt.Errorf("jobs.max_retry must be >= 0")
	}
	if c.Jobs.Timeout <= 0 {
		return fmt.Errorf("jobs.timeout must be > 0")
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache.ttl must be > 0")
	}
	if c.Feed.DefaultPageSize <= 0 || c.Feed.MaxPageSize < c.Feed.DefaultPageSize {
		return fmt.Errorf("feed.default_page_size must be > 0 and <= feed.max_page_size")
	}
	if c.Scheduler.Enabled {
		if strings.TrimSpace(c.Scheduler.Cron) == "" {
			return fmt.Errorf("scheduler.cron must be set when the scheduler is enabled")
		}
		if _, err := c.Scheduler.Location(); err != nil {
			return fmt.Errorf("scheduler.timezone: %w", err)
		}
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	switch c.Storage.Backend {
	case "memory":
	case "local":
		if c.Storage.Local.BaseDir == "" {
			return fmt.Errorf("storage.local.base_dir must be set for the local backend")
		}
	case "gcs":
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage.bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("storage.backend must be one of memory, local, gcs")
	}
	if c.RateLimit.Enabled && (c.RateLimit.DefaultRPS <= 0 || c.RateLimit.DefaultBurst <= 0) {
		return fmt.Errorf("rate_limit.default_rps and rate_limit.default_burst must be > 0 when enabled")
	}
	return nil
}

// DurableQueue reports whether background jobs go through Redis.
func (c Config) DurableQueue() bool {
	return c.Redis.Addr != ""
}
