package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds every tunable for the command center process. Values come
// from environment variables, with an optional .env file for development.
type Config struct {
	Host         string `mapstructure:"HOST"`
	Port         int    `mapstructure:"PORT"`
	DatabasePath string `mapstructure:"DATABASE_PATH"`

	// Websocket tuning.
	WSReadTimeout  time.Duration `mapstructure:"WS_READ_TIMEOUT"`
	WSWriteTimeout time.Duration `mapstructure:"WS_WRITE_TIMEOUT"`
	WSPingInterval time.Duration `mapstructure:"WS_PING_INTERVAL"`
	WSBufferSize   int           `mapstructure:"WS_BUFFER_SIZE"`

	// Imaging portal credentials and extraction tuning.
	PACSURL          string        `mapstructure:"PACS_URL"`
	PACSUsername     string        `mapstructure:"PACS_USERNAME"`
	PACSPassword     string        `mapstructure:"PACS_PASSWORD"`
	PACSHeadless     bool          `mapstructure:"PACS_HEADLESS"`
	PACSPollInterval time.Duration `mapstructure:"PACS_POLL_INTERVAL"`
	PACSPollAttempts int           `mapstructure:"PACS_POLL_ATTEMPTS"`

	EMRURL string `mapstructure:"EMR_URL"`

	AnthropicAPIKey string `mapstructure:"ANTHROPIC_API_KEY"`
	AnthropicModel  string `mapstructure:"ANTHROPIC_MODEL"`

	CacheTTL        time.Duration `mapstructure:"CACHE_TTL"`
	CacheMaxEntries int           `mapstructure:"CACHE_MAX_ENTRIES"`

	LogLevel string `mapstructure:"LOG_LEVEL"`
}

// Load reads configuration from the environment, applying defaults for
// anything unset. A .env file in the working directory is read when
// present but is never required.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("HOST", "0.0.0.0")
	v.SetDefault("PORT", 8000)
	v.SetDefault("DATABASE_PATH", "commandcenter.db")
	v.SetDefault("WS_READ_TIMEOUT", "60s")
	v.SetDefault("WS_WRITE_TIMEOUT", "10s")
	v.SetDefault("WS_PING_INTERVAL", "30s")
	v.SetDefault("WS_BUFFER_SIZE", 256)
	v.SetDefault("PACS_HEADLESS", true)
	v.SetDefault("PACS_POLL_INTERVAL", "500ms")
	v.SetDefault("PACS_POLL_ATTEMPTS", 20)
	v.SetDefault("ANTHROPIC_MODEL", "claude-3-5-haiku-20241022")
	v.SetDefault("CACHE_TTL", "5m")
	v.SetDefault("CACHE_MAX_ENTRIES", 100)
	v.SetDefault("LOG_LEVEL", "info")

	for _, key := range []string{
		"HOST", "PORT", "DATABASE_PATH",
		"WS_READ_TIMEOUT", "WS_WRITE_TIMEOUT", "WS_PING_INTERVAL", "WS_BUFFER_SIZE",
		"PACS_URL", "PACS_USERNAME", "PACS_PASSWORD", "PACS_HEADLESS",
		"PACS_POLL_INTERVAL", "PACS_POLL_ATTEMPTS",
		"EMR_URL", "ANTHROPIC_API_KEY", "ANTHROPIC_MODEL",
		"CACHE_TTL", "CACHE_MAX_ENTRIES", "LOG_LEVEL",
	} {
		_ = v.BindEnv(key)
	}

	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail in confusing ways at
// runtime. External sources are optional: missing PACS or EMR settings
// mean those sources report as unconfigured, not a startup error.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535, got %d", c.Port)
	}
	if c.DatabasePath == "" {
		return fmt.Errorf("DATABASE_PATH is required")
	}
	if c.WSBufferSize < 1 {
		return fmt.Errorf("WS_BUFFER_SIZE must be positive, got %d", c.WSBufferSize)
	}
	if c.WSPingInterval >= c.WSReadTimeout {
		return fmt.Errorf("WS_PING_INTERVAL (%s) must be shorter than WS_READ_TIMEOUT (%s)",
			c.WSPingInterval, c.WSReadTimeout)
	}
	if c.PACSPollInterval <= 0 {
		return fmt.Errorf("PACS_POLL_INTERVAL must be positive, got %s", c.PACSPollInterval)
	}
	if c.PACSPollAttempts < 1 {
		return fmt.Errorf("PACS_POLL_ATTEMPTS must be at least 1, got %d", c.PACSPollAttempts)
	}
	if c.CacheTTL <= 0 {
		return fmt.Errorf("CACHE_TTL must be positive, got %s", c.CacheTTL)
	}
	if c.CacheMaxEntries < 1 {
		return fmt.Errorf("CACHE_MAX_ENTRIES must be at least 1, got %d", c.CacheMaxEntries)
	}
	return nil
}

// Addr returns the host:port the HTTP server binds to.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
