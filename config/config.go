package config

import (
	"fmt"
	"net"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"botguard/notify"
)

// DataPaths holds data directory and file path configuration.
// These paths can be overridden via environment variables.
type DataPaths struct {
	// DataDir is the base data directory (BOTGUARD_DATA_DIR, default: ./data)
	DataDir string `mapstructure:"data_dir"`
	// SQLitePath is the SQLite database file path (BOTGUARD_SQLITE_PATH, default: ${DataDir}/botguard.db)
	SQLitePath string `mapstructure:"sqlite_path"`
}

// Config holds all configuration for the botguard service
type Config struct {
	DataPaths DataPaths `mapstructure:"data_paths"`

	API struct {
		Port           int      `mapstructure:"port"`
		Host           string   `mapstructure:"host"`
		AllowedOrigins []string `mapstructure:"allowed_origins"`
		RateLimit      struct {
			RequestsPerSecond float64  `mapstructure:"requests_per_second"`
			Burst             int      `mapstructure:"burst"`
			ExemptIPs         []string `mapstructure:"exempt_ips"`
		} `mapstructure:"rate_limit"`
		ReadTimeout     time.Duration `mapstructure:"read_timeout"`
		WriteTimeout    time.Duration `mapstructure:"write_timeout"`
		ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	} `mapstructure:"api"`

	Engine struct {
		// HitFlushInterval is how often in-memory rule hit counters are
		// persisted to storage
		HitFlushInterval time.Duration `mapstructure:"hit_flush_interval"`
		// RateLimiterCacheSize bounds the per-client token bucket cache
		RateLimiterCacheSize int `mapstructure:"rate_limiter_cache_size"`
	} `mapstructure:"engine"`

	Captcha struct {
		// VerifyTimeout caps each provider round trip
		VerifyTimeout time.Duration `mapstructure:"verify_timeout"`
	} `mapstructure:"captcha"`

	Alerts struct {
		Enabled  bool                   `mapstructure:"enabled"`
		Timeout  time.Duration          `mapstructure:"timeout"`
		Channels []notify.ChannelConfig `mapstructure:"channels"`
	} `mapstructure:"alerts"`

	Logging struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"logging"`
}

// setDefaults sets default configuration values
func setDefaults() {
	viper.SetDefault("data_paths.data_dir", "./data")
	viper.SetDefault("data_paths.sqlite_path", "") // Empty = derive from data_dir

	viper.SetDefault("api.port", 8081)
	viper.SetDefault("api.host", "0.0.0.0")
	viper.SetDefault("api.allowed_origins", []string{"http://localhost:3000"})
	viper.SetDefault("api.rate_limit.requests_per_second", 100)
	viper.SetDefault("api.rate_limit.burst", 200)
	viper.SetDefault("api.rate_limit.exempt_ips", []string{})
	viper.SetDefault("api.read_timeout", 30*time.Second)
	viper.SetDefault("api.write_timeout", 30*time.Second)
	viper.SetDefault("api.shutdown_timeout", 10*time.Second)

	viper.SetDefault("engine.hit_flush_interval", 30*time.Second)
	viper.SetDefault("engine.rate_limiter_cache_size", 100000)

	viper.SetDefault("captcha.verify_timeout", 5*time.Second)

	viper.SetDefault("alerts.enabled", false)
	viper.SetDefault("alerts.timeout", 10*time.Second)

	viper.SetDefault("logging.level", "info")
}

// loadFromEnv wires environment variable overrides
func loadFromEnv() {
	viper.SetEnvPrefix("BOTGUARD")
	viper.AutomaticEnv()

	// Explicit bindings for the settings most often set via environment
	_ = viper.BindEnv("data_paths.data_dir", "BOTGUARD_DATA_DIR")
	_ = viper.BindEnv("data_paths.sqlite_path", "BOTGUARD_SQLITE_PATH")
	_ = viper.BindEnv("api.port", "BOTGUARD_API_PORT")
	_ = viper.BindEnv("logging.level", "BOTGUARD_LOG_LEVEL")
}

// LoadConfig reads config.yaml (if present), applies environment overrides
// and validates the result
func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	setDefaults()
	loadFromEnv()

	if err := viper.ReadInConfig(); err != nil {
		// Config file not found, will use defaults and env vars
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, err
	}
	config.ResolveDataPaths()
	return &config, nil
}

// ResolveDataPaths derives unset paths from DataDir
func (c *Config) ResolveDataPaths() {
	dataDir := c.DataPaths.DataDir
	if dataDir == "" {
		dataDir = "./data"
	}
	c.DataPaths.DataDir = dataDir
	if c.DataPaths.SQLitePath == "" {
		c.DataPaths.SQLitePath = filepath.Join(dataDir, "botguard.db")
	}
}

// validateConfig checks settings that would otherwise fail at runtime
func validateConfig(config *Config) error {
	if config.API.Port < 1 || config.API.Port > 65535 {
		return fmt.Errorf("invalid api port: %d", config.API.Port)
	}
	if config.API.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("api rate limit must be positive, got %v", config.API.RateLimit.RequestsPerSecond)
	}
	if config.API.RateLimit.Burst < 1 {
		return fmt.Errorf("api rate limit burst must be at least 1, got %d", config.API.RateLimit.Burst)
	}
	for _, ip := range config.API.RateLimit.ExemptIPs {
		if net.ParseIP(ip) == nil {
			return fmt.Errorf("invalid exempt IP: %s", ip)
		}
	}
	if config.Engine.HitFlushInterval <= 0 {
		return fmt.Errorf("hit flush interval must be positive, got %v", config.Engine.HitFlushInterval)
	}
	if config.Engine.RateLimiterCacheSize < 1 {
		return fmt.Errorf("rate limiter cache size must be at least 1, got %d", config.Engine.RateLimiterCacheSize)
	}
	if config.Captcha.VerifyTimeout <= 0 {
		return fmt.Errorf("captcha verify timeout must be positive, got %v", config.Captcha.VerifyTimeout)
	}

	switch config.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", config.Logging.Level)
	}

	if config.Alerts.Enabled {
		for i, ch := range config.Alerts.Channels {
			if ch.Type != notify.ChannelWebhook && ch.Type != notify.ChannelSlack {
				return fmt.Errorf("alert channel %d has unknown type: %s", i, ch.Type)
			}
			if ch.Enabled && ch.WebhookURL == "" {
				return fmt.Errorf("alert channel %d is enabled but has no webhook URL", i)
			}
		}
	}
	return nil
}
