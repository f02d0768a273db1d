package config

import (
	"os"
	"testing"
	"time"

	"botguard/notify"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chdir changes into dir for the duration of the test; t.Chdir needs Go 1.24.
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(old) })
}

// defaultConfig returns a config that passes validation
func defaultConfig() *Config {
	cfg := &Config{}
	cfg.API.Port = 8081
	cfg.API.RateLimit.RequestsPerSecond = 100
	cfg.API.RateLimit.Burst = 200
	cfg.Engine.HitFlushInterval = 30 * time.Second
	cfg.Engine.RateLimiterCacheSize = 1000
	cfg.Captcha.VerifyTimeout = 5 * time.Second
	cfg.Logging.Level = "info"
	return cfg
}

func TestLoadConfig_Defaults(t *testing.T) {
	viper.Reset()
	chdir(t, t.TempDir())

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 8081, cfg.API.Port)
	assert.Equal(t, "0.0.0.0", cfg.API.Host)
	assert.Equal(t, float64(100), cfg.API.RateLimit.RequestsPerSecond)
	assert.Equal(t, 200, cfg.API.RateLimit.Burst)
	assert.Equal(t, 30*time.Second, cfg.Engine.HitFlushInterval)
	assert.Equal(t, 100000, cfg.Engine.RateLimiterCacheSize)
	assert.Equal(t, 5*time.Second, cfg.Captcha.VerifyTimeout)
	assert.False(t, cfg.Alerts.Enabled)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "./data", cfg.DataPaths.DataDir)
	assert.Equal(t, "data/botguard.db", cfg.DataPaths.SQLitePath)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	viper.Reset()
	chdir(t, t.TempDir())
	t.Setenv("BOTGUARD_API_PORT", "9090")
	t.Setenv("BOTGUARD_DATA_DIR", "/var/lib/botguard")
	t.Setenv("BOTGUARD_LOG_LEVEL", "debug")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.API.Port)
	assert.Equal(t, "/var/lib/botguard", cfg.DataPaths.DataDir)
	assert.Equal(t, "/var/lib/botguard/botguard.db", cfg.DataPaths.SQLitePath)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadConfig_InvalidEnvRejected(t *testing.T) {
	viper.Reset()
	chdir(t, t.TempDir())
	t.Setenv("BOTGUARD_LOG_LEVEL", "loud")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log level")
}

func TestResolveDataPaths_ExplicitSQLitePathKept(t *testing.T) {
	cfg := &Config{}
	cfg.DataPaths.DataDir = "/data"
	cfg.DataPaths.SQLitePath = "/elsewhere/rules.db"
	cfg.ResolveDataPaths()
	assert.Equal(t, "/elsewhere/rules.db", cfg.DataPaths.SQLitePath)
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"port too low", func(c *Config) { c.API.Port = 0 }, "invalid api port"},
		{"port too high", func(c *Config) { c.API.Port = 70000 }, "invalid api port"},
		{"zero rate limit", func(c *Config) { c.API.RateLimit.RequestsPerSecond = 0 }, "rate limit must be positive"},
		{"zero burst", func(c *Config) { c.API.RateLimit.Burst = 0 }, "burst must be at least 1"},
		{"bad exempt ip", func(c *Config) { c.API.RateLimit.ExemptIPs = []string{"not-an-ip"} }, "invalid exempt IP"},
		{"zero flush interval", func(c *Config) { c.Engine.HitFlushInterval = 0 }, "hit flush interval"},
		{"zero limiter cache", func(c *Config) { c.Engine.RateLimiterCacheSize = 0 }, "rate limiter cache size"},
		{"zero verify timeout", func(c *Config) { c.Captcha.VerifyTimeout = 0 }, "verify timeout"},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }, "invalid log level"},
		{
			"unknown alert channel type",
			func(c *Config) {
				c.Alerts.Enabled = true
				c.Alerts.Channels = []notify.ChannelConfig{{Type: "pager"}}
			},
			"unknown type",
		},
		{
			"enabled channel without url",
			func(c *Config) {
				c.Alerts.Enabled = true
				c.Alerts.Channels = []notify.ChannelConfig{{Type: notify.ChannelSlack, Enabled: true}}
			},
			"no webhook URL",
		},
		{
			"disabled alerts skip channel checks",
			func(c *Config) {
				c.Alerts.Enabled = false
				c.Alerts.Channels = []notify.ChannelConfig{{Type: "pager"}}
			},
			"",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			err := validateConfig(cfg)
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}
