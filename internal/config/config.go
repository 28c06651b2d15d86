package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/revenueinsights/bookshelf-sub000/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Logging    logging.Config   `mapstructure:"logging"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	Aggregator AggregatorConfig `mapstructure:"aggregator"`
	Batch      BatchConfig      `mapstructure:"batch"`
	Alerts     AlertsConfig     `mapstructure:"alerts"`
	Pricing    PricingConfig    `mapstructure:"pricing"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// RedisConfig covers the optional durable job-state store. Empty addr keeps
// job state in process memory.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	JobTTL   time.Duration `mapstructure:"job_ttl"`
}

// HTTPConfig governs the status/trigger API.
type HTTPConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

// AggregatorConfig captures upstream price-aggregator connectivity.
type AggregatorConfig struct {
	BaseURL          string        `mapstructure:"base_url"`
	RequestTimeout   time.Duration `mapstructure:"request_timeout"`
	UserAgent        string        `mapstructure:"user_agent"`
	TokenExpirySkew  time.Duration `mapstructure:"token_expiry_skew"`
	TokenFallbackTTL time.Duration `mapstructure:"token_fallback_ttl"`
}

// BatchConfig tunes the sequential refresh loop.
type BatchConfig struct {
	// ItemDelay spaces consecutive upstream calls to respect the
	// aggregator's rate limit.
	ItemDelay   time.Duration `mapstructure:"item_delay"`
	PollEvery   time.Duration `mapstructure:"poll_every"`
	PollTimeout time.Duration `mapstructure:"poll_timeout"`
}

// AlertsConfig governs the evaluation sweep cadence and notification routing.
type AlertsConfig struct {
	SweepInterval time.Duration  `mapstructure:"sweep_interval"`
	AlignToSweep  bool           `mapstructure:"align_to_sweep"`
	StartupDelay  time.Duration  `mapstructure:"startup_delay"`
	Users         []int64        `mapstructure:"users"`
	Telegram      TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes the Telegram notification channel.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// PricingConfig carries the default tier thresholds applied when a user has
// none configured.
type PricingConfig struct {
	UpperThresholdPct float64 `mapstructure:"upper_threshold_pct"`
	LowerThresholdPct float64 `mapstructure:"lower_threshold_pct"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("BOOKWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "bookwatch")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.migrations_path", "migrations")

	v.SetDefault("redis.job_ttl", "24h")

	v.SetDefault("http.enabled", true)
	v.SetDefault("http.listen", ":8087")

	v.SetDefault("aggregator.base_url", "https://api.bookpriceaggregator.com")
	v.SetDefault("aggregator.request_timeout", "15s")
	v.SetDefault("aggregator.user_agent", "bookwatch/1.0")
	v.SetDefault("aggregator.token_expiry_skew", "30s")
	v.SetDefault("aggregator.token_fallback_ttl", "1h")

	v.SetDefault("batch.item_delay", "1s")
	v.SetDefault("batch.poll_every", "500ms")
	v.SetDefault("batch.poll_timeout", "30m")

	v.SetDefault("alerts.sweep_interval", "1h")
	v.SetDefault("alerts.align_to_sweep", true)
	v.SetDefault("alerts.startup_delay", "0s")
	v.SetDefault("alerts.telegram.enabled", false)
	v.SetDefault("alerts.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("pricing.upper_threshold_pct", 50.0)
	v.SetDefault("pricing.lower_threshold_pct", 1.0)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Aggregator.BaseURL == "" {
		return fmt.Errorf("aggregator.base_url is required")
	}
	if c.Batch.ItemDelay < 0 {
		return fmt.Errorf("batch.item_delay cannot be negative")
	}
	if c.Batch.PollEvery <= 0 {
		return fmt.Errorf("batch.poll_every must be greater than zero")
	}
	if c.Alerts.SweepInterval <= 0 {
		return fmt.Errorf("alerts.sweep_interval must be greater than zero")
	}
	if c.Pricing.UpperThresholdPct < c.Pricing.LowerThresholdPct {
		return fmt.Errorf("pricing.upper_threshold_pct must not be below pricing.lower_threshold_pct")
	}
	if c.Alerts.Telegram.Enabled {
		if c.Alerts.Telegram.BotToken == "" {
			return fmt.Errorf("alerts.telegram.bot_token is required when telegram is enabled")
		}
		if c.Alerts.Telegram.ChatID == "" {
			return fmt.Errorf("alerts.telegram.chat_id is required when telegram is enabled")
		}
	}
	return nil
}

// DefaultThresholds exposes the configured default tier cutoffs.
func (c *Config) DefaultThresholds() (upper, lower float64) {
	return c.Pricing.UpperThresholdPct, c.Pricing.LowerThresholdPct
}
