package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"
	_ "time/tzdata" // alerts.timezone must resolve on hosts without zoneinfo

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config represents the complete application configuration
type Config struct {
	Indodax  IndodaxConfig  `mapstructure:"indodax"`
	Strategy StrategyConfig `mapstructure:"strategy"`
	Alerts   AlertsConfig   `mapstructure:"alerts"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// IndodaxConfig holds market data provider configuration
type IndodaxConfig struct {
	BaseURL             string        `mapstructure:"base_url"`
	Quote               string        `mapstructure:"quote"`
	ScanInterval        time.Duration `mapstructure:"scan_interval"`
	CandleFetchDelay    time.Duration `mapstructure:"candle_fetch_delay"`
	CandleTimeframe     string        `mapstructure:"candle_timeframe"`
	CandleLookback      time.Duration `mapstructure:"candle_lookback"`
	RequestTimeout      time.Duration `mapstructure:"request_timeout"`
	MaxRetries          int           `mapstructure:"max_retries"`
	RetryDelayBase      time.Duration `mapstructure:"retry_delay_base"`
	RateLimitCooloff    time.Duration `mapstructure:"rate_limit_cooloff"`
	RateLimitCooloffMax time.Duration `mapstructure:"rate_limit_cooloff_max"`
}

// StrategyConfig holds the signal predicate and indicator periods
type StrategyConfig struct {
	MinVolume  float64 `mapstructure:"min_volume"` // quote currency, strict lower bound
	RSILower   float64 `mapstructure:"rsi_lower"`
	RSIUpper   float64 `mapstructure:"rsi_upper"`
	RSIPeriod  int     `mapstructure:"rsi_period"`
	SMAPeriod  int     `mapstructure:"sma_period"`
	MinHistory int     `mapstructure:"min_history"`
}

// AlertsConfig holds cooldown and daily reset configuration
type AlertsConfig struct {
	Cooldown       time.Duration `mapstructure:"cooldown"`
	PriceBreakPct  float64       `mapstructure:"price_break_pct"`
	RSIBreakPoints float64       `mapstructure:"rsi_break_points"`
	Timezone       string        `mapstructure:"timezone"`
	ZoneLabel      string        `mapstructure:"zone_label"`
}

// TelegramConfig holds Telegram notification configuration
type TelegramConfig struct {
	BotToken       string        `mapstructure:"bot_token"`
	ChatID         string        `mapstructure:"chat_id"`
	Enabled        bool          `mapstructure:"enabled"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
}

// MetricsConfig holds the Prometheus endpoint configuration
type MetricsConfig struct {
	ListenAddr string `mapstructure:"listen_addr"` // empty disables the server
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads an optional .env file, the config file, and environment
// variables. An empty path skips the config file and uses defaults plus env.
func Load(path, envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load env file: %w", err)
		}
	}

	v := viper.New()

	setDefaults(v)

	// MOMENTUM_SCANNER_TELEGRAM_BOT_TOKEN overrides telegram.bot_token
	v.SetEnvPrefix("MOMENTUM_SCANNER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// bare names used by existing deployments' .env files
	_ = v.BindEnv("telegram.bot_token", "MOMENTUM_SCANNER_TELEGRAM_BOT_TOKEN", "TELEGRAM_TOKEN")
	_ = v.BindEnv("telegram.chat_id", "MOMENTUM_SCANNER_TELEGRAM_CHAT_ID", "TELEGRAM_CHAT_ID")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	// Indodax defaults
	v.SetDefault("indodax.base_url", "https://indodax.com")
	v.SetDefault("indodax.quote", "idr")
	v.SetDefault("indodax.scan_interval", "5m")
	v.SetDefault("indodax.candle_fetch_delay", "1500ms")
	v.SetDefault("indodax.candle_timeframe", "60")
	v.SetDefault("indodax.candle_lookback", "48h")
	v.SetDefault("indodax.request_timeout", "15s")
	v.SetDefault("indodax.max_retries", 2)
	v.SetDefault("indodax.retry_delay_base", "1s")
	v.SetDefault("indodax.rate_limit_cooloff", "5m")
	v.SetDefault("indodax.rate_limit_cooloff_max", "30m")

	// Strategy defaults
	v.SetDefault("strategy.min_volume", 10_000_000_000.0)
	v.SetDefault("strategy.rsi_lower", 50.0)
	v.SetDefault("strategy.rsi_upper", 100.0)
	v.SetDefault("strategy.rsi_period", 14)
	v.SetDefault("strategy.sma_period", 25)
	v.SetDefault("strategy.min_history", 30)

	// Alert defaults
	v.SetDefault("alerts.cooldown", "10m")
	v.SetDefault("alerts.price_break_pct", 0.02)
	v.SetDefault("alerts.rsi_break_points", 5.0)
	v.SetDefault("alerts.timezone", "Asia/Jakarta")
	v.SetDefault("alerts.zone_label", "WIB")

	// Telegram defaults
	v.SetDefault("telegram.enabled", true)
	v.SetDefault("telegram.max_retries", 3)
	v.SetDefault("telegram.retry_delay_base", "1s")

	// Metrics defaults
	v.SetDefault("metrics.listen_addr", "")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	// Validate Indodax config
	if c.Indodax.BaseURL == "" {
		return fmt.Errorf("indodax.base_url is required")
	}
	if c.Indodax.Quote == "" {
		return fmt.Errorf("indodax.quote is required")
	}
	if c.Indodax.ScanInterval < 1*time.Minute {
		return fmt.Errorf("indodax.scan_interval must be at least 1 minute")
	}
	if c.Indodax.CandleFetchDelay < 0 {
		return fmt.Errorf("indodax.candle_fetch_delay must not be negative")
	}
	if c.Indodax.CandleLookback < time.Hour {
		return fmt.Errorf("indodax.candle_lookback must be at least 1 hour")
	}
	if c.Indodax.RequestTimeout < 8*time.Second || c.Indodax.RequestTimeout > 15*time.Second {
		return fmt.Errorf("indodax.request_timeout must be between 8s and 15s")
	}
	if c.Indodax.MaxRetries < 1 {
		return fmt.Errorf("indodax.max_retries must be at least 1")
	}
	if c.Indodax.RateLimitCooloff < 0 {
		return fmt.Errorf("indodax.rate_limit_cooloff must not be negative")
	}
	if c.Indodax.RateLimitCooloffMax > 0 && c.Indodax.RateLimitCooloffMax < c.Indodax.RateLimitCooloff {
		return fmt.Errorf("indodax.rate_limit_cooloff_max must not be below indodax.rate_limit_cooloff")
	}

	// Validate Strategy config
	if c.Strategy.MinVolume < 0 {
		return fmt.Errorf("strategy.min_volume must not be negative")
	}
	if c.Strategy.RSILower < 0 || c.Strategy.RSIUpper > 100 || c.Strategy.RSILower > c.Strategy.RSIUpper {
		return fmt.Errorf("strategy.rsi_lower and strategy.rsi_upper must satisfy 0 <= lower <= upper <= 100")
	}
	if c.Strategy.RSIPeriod < 2 {
		return fmt.Errorf("strategy.rsi_period must be at least 2")
	}
	if c.Strategy.SMAPeriod < 2 {
		return fmt.Errorf("strategy.sma_period must be at least 2")
	}
	if c.Strategy.MinHistory < 1 {
		return fmt.Errorf("strategy.min_history must be at least 1")
	}

	// Validate Alerts config
	if c.Alerts.Cooldown < 0 {
		return fmt.Errorf("alerts.cooldown must not be negative")
	}
	if c.Alerts.PriceBreakPct <= 0 {
		return fmt.Errorf("alerts.price_break_pct must be positive")
	}
	if c.Alerts.RSIBreakPoints <= 0 {
		return fmt.Errorf("alerts.rsi_break_points must be positive")
	}
	if _, err := time.LoadLocation(c.Alerts.Timezone); err != nil {
		return fmt.Errorf("alerts.timezone is invalid: %w", err)
	}

	// Validate Telegram config
	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == "" {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
	}

	// Validate Logging config
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}

// Location resolves alerts.timezone, falling back to the local zone.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Alerts.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}
