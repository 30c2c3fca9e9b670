// Package config loads and validates bot configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides, e.g. CREDITSBOT_POOL_MAX_CONCURRENT.
const EnvPrefix = "CREDITSBOT"

// Backend names accepted by the *.backend keys.
const (
	BackendNone     = "none"
	BackendMemory   = "memory"
	BackendLocal    = "local"
	BackendGCS      = "gcs"
	BackendPubSub   = "pubsub"
	BackendNATS     = "nats"
	BackendTelegram = "telegram"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Ledger   LedgerConfig   `mapstructure:"ledger"`
	Pool     PoolConfig     `mapstructure:"pool"`
	Fetch    FetchConfig    `mapstructure:"fetch"`
	Headless HeadlessConfig `mapstructure:"headless"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Extract  ExtractConfig  `mapstructure:"extract"`
	Report   ReportConfig   `mapstructure:"report"`
	Delivery DeliveryConfig `mapstructure:"delivery"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Events   EventsConfig   `mapstructure:"events"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LedgerConfig sets the credit grant.
type LedgerConfig struct {
	InitialBalance int `mapstructure:"initial_balance"`
}

// PoolConfig governs admission and the job queue.
type PoolConfig struct {
	MaxConcurrent int           `mapstructure:"max_concurrent"`
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	QueueCapacity int           `mapstructure:"queue_capacity"`
}

// FetchConfig governs candidate derivation and plain retrieval.
type FetchConfig struct {
	AlbumURLTemplate  string        `mapstructure:"album_url_template"`
	SearchURLTemplate string        `mapstructure:"search_url_template"`
	ResultLinkPattern string        `mapstructure:"result_link_pattern"`
	DefaultQuery      string        `mapstructure:"default_query"`
	AttemptTimeout    time.Duration `mapstructure:"attempt_timeout"`
	MaxCandidates     int           `mapstructure:"max_candidates"`
	MinContentBytes   int           `mapstructure:"min_content_bytes"`
	ChallengeMarkers  []string      `mapstructure:"challenge_markers"`
	MissingMarkers    []string      `mapstructure:"missing_markers"`
	UserAgent         string        `mapstructure:"user_agent"`
	RespectRobots     bool          `mapstructure:"respect_robots"`
}

// HeadlessConfig configures the chromedp strategy.
type HeadlessConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	MaxParallel int           `mapstructure:"max_parallel"`
	NavTimeout  time.Duration `mapstructure:"nav_timeout"`
	SettleDelay time.Duration `mapstructure:"settle_delay"`
}

// CacheConfig configures the Redis document cache. An empty Addr disables it.
type CacheConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// ExtractConfig tunes the credit extractor.
type ExtractConfig struct {
	SubjectMaxLen int      `mapstructure:"subject_max_len"`
	RoleKeywords  []string `mapstructure:"role_keywords"`
}

// ReportConfig controls pagination and navigation sessions.
type ReportConfig struct {
	PageSize   int           `mapstructure:"page_size"`
	NavTimeout time.Duration `mapstructure:"nav_timeout"`
}

// DeliveryConfig selects where statuses and reports go.
type DeliveryConfig struct {
	Backend string `mapstructure:"backend"`
}

// TelegramConfig holds Bot API settings.
type TelegramConfig struct {
	BotToken      string        `mapstructure:"bot_token"`
	WebhookSecret string        `mapstructure:"webhook_secret"`
	APIBaseURL    string        `mapstructure:"api_base_url"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

// StorageConfig selects where CSV exports are written.
type StorageConfig struct {
	Backend   string `mapstructure:"backend"`
	Prefix    string `mapstructure:"prefix"`
	LocalDir  string `mapstructure:"local_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
}

// EventsConfig selects where job outcome events are published.
type EventsConfig struct {
	Backend   string `mapstructure:"backend"`
	Topic     string `mapstructure:"topic"`
	ProjectID string `mapstructure:"project_id"`
	NATSURL   string `mapstructure:"nats_url"`
}

// LoggingConfig toggles zap development features and file rotation.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
	File        string `mapstructure:"file"`
	MaxSizeMB   int    `mapstructure:"max_size_mb"`
	MaxBackups  int    `mapstructure:"max_backups"`
	MaxAgeDays  int    `mapstructure:"max_age_days"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
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

// Every key gets a default, even an empty one, so AutomaticEnv can override it
// during Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.request_timeout", "60s")
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("ledger.initial_balance", 100)
	v.SetDefault("pool.max_concurrent", 4)
	v.SetDefault("pool.poll_interval", "1s")
	v.SetDefault("pool.queue_capacity", 256)
	v.SetDefault("fetch.album_url_template", "https://genius.com/albums/%s/%s")
	v.SetDefault("fetch.search_url_template", "https://html.duckduckgo.com/html/?q=%s")
	v.SetDefault("fetch.result_link_pattern", "genius.com/albums/")
	v.SetDefault("fetch.default_query", "Astroworld Travis Scott")
	v.SetDefault("fetch.attempt_timeout", "15s")
	v.SetDefault("fetch.max_candidates", 24)
	v.SetDefault("fetch.min_content_bytes", 2000)
	v.SetDefault("fetch.user_agent", "creditsbot/1.0")
	v.SetDefault("fetch.respect_robots", false)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout", "25s")
	v.SetDefault("headless.settle_delay", "1500ms")
	v.SetDefault("cache.addr", "")
	v.SetDefault("cache.password", "")
	v.SetDefault("cache.db", 0)
	v.SetDefault("cache.ttl", "24h")
	v.SetDefault("extract.subject_max_len", 40)
	v.SetDefault("report.page_size", 20)
	v.SetDefault("report.nav_timeout", "150s")
	v.SetDefault("delivery.backend", BackendMemory)
	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.webhook_secret", "")
	v.SetDefault("telegram.api_base_url", "https://api.telegram.org")
	v.SetDefault("telegram.timeout", "10s")
	v.SetDefault("storage.backend", BackendMemory)
	v.SetDefault("storage.prefix", "exports")
	v.SetDefault("storage.local_dir", "data/exports")
	v.SetDefault("storage.gcs_bucket", "")
	v.SetDefault("events.backend", BackendNone)
	v.SetDefault("events.topic", "creditsbot.jobs")
	v.SetDefault("events.project_id", "")
	v.SetDefault("events.nats_url", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age_days", 28)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 {
		errs = append(errs, errors.New("server.port must be > 0"))
	}
	if c.Ledger.InitialBalance <= 0 {
		errs = append(errs, errors.New("ledger.initial_balance must be > 0"))
	}
	if c.Pool.MaxConcurrent <= 0 {
		errs = append(errs, errors.New("pool.max_concurrent must be > 0"))
	}
	if c.Pool.PollInterval <= 0 {
		errs = append(errs, errors.New("pool.poll_interval must be > 0"))
	}
	if c.Fetch.AttemptTimeout <= 0 {
		errs = append(errs, errors.New("fetch.attempt_timeout must be > 0"))
	}
	if strings.Count(c.Fetch.AlbumURLTemplate, "%s") != 2 {
		errs = append(errs, errors.New("fetch.album_url_template must contain two %s verbs"))
	}
	if c.Fetch.SearchURLTemplate != "" && strings.Count(c.Fetch.SearchURLTemplate, "%s") != 1 {
		errs = append(errs, errors.New("fetch.search_url_template must contain one %s verb"))
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		errs = append(errs, errors.New("headless.max_parallel must be > 0 when headless is enabled"))
	}
	if c.Report.PageSize <= 0 {
		errs = append(errs, errors.New("report.page_size must be > 0"))
	}
	if c.Report.NavTimeout <= 0 {
		errs = append(errs, errors.New("report.nav_timeout must be > 0"))
	}
	errs = append(errs, c.validateBackends()...)
	return errors.Join(errs...)
}

func (c Config) validateBackends() []error {
	var errs []error
	switch c.Delivery.Backend {
	case BackendMemory:
	case BackendTelegram:
		if c.Telegram.BotToken == "" {
			errs = append(errs, errors.New("telegram.bot_token must be set when delivery.backend is telegram"))
		}
	default:
		errs = append(errs, fmt.Errorf("delivery.backend %q is not one of memory, telegram", c.Delivery.Backend))
	}

	switch c.Storage.Backend {
	case BackendNone, BackendMemory:
	case BackendLocal:
		if c.Storage.LocalDir == "" {
			errs = append(errs, errors.New("storage.local_dir must be set when storage.backend is local"))
		}
	case BackendGCS:
		if c.Storage.GCSBucket == "" {
			errs = append(errs, errors.New("storage.gcs_bucket must be set when storage.backend is gcs"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.backend %q is not one of none, memory, local, gcs", c.Storage.Backend))
	}

	if !slices.Contains([]string{BackendNone, BackendMemory, BackendPubSub, BackendNATS}, c.Events.Backend) {
		errs = append(errs, fmt.Errorf("events.backend %q is not one of none, memory, pubsub, nats", c.Events.Backend))
	}
	if c.Events.Backend != BackendNone && c.Events.Topic == "" {
		errs = append(errs, errors.New("events.topic must be set when events are enabled"))
	}
	if c.Events.Backend == BackendPubSub && c.Events.ProjectID == "" {
		errs = append(errs, errors.New("events.project_id must be set when events.backend is pubsub"))
	}
	if c.Events.Backend == BackendNATS && c.Events.NATSURL == "" {
		errs = append(errs, errors.New("events.nats_url must be set when events.backend is nats"))
	}
	return errs
}

// Addr returns the listen address for the HTTP server.
func (c Config) Addr() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}
