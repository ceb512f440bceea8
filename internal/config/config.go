package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"
)

type Config struct {
	Port                  int    `env:"PORT" envDefault:"8090"`
	BusURL                string `env:"BUS_URL,required"`
	APIBaseURL            string `env:"API_BASE_URL,required"`
	UserID                string `env:"USER_ID,required"`
	AccessToken           string `env:"ACCESS_TOKEN"`
	UserRole              string `env:"USER_ROLE" envDefault:"USER"`
	ControlToken          string `env:"CONTROL_TOKEN"`
	RedisURL              string `env:"REDIS_URL"`
	DatabaseURL           string `env:"DATABASE_URL"`
	ConnectTimeoutSeconds int    `env:"CONNECT_TIMEOUT_SECONDS" envDefault:"10"`
	APITimeoutSeconds     int    `env:"API_TIMEOUT_SECONDS" envDefault:"10"`
	HeartbeatMillis       int    `env:"HEARTBEAT_MS" envDefault:"10000"`
	ReconnectMaxSeconds   int    `env:"RECONNECT_MAX_SECONDS" envDefault:"30"`
	ArchiveRetentionDays  int    `env:"ARCHIVE_RETENTION_DAYS" envDefault:"30"`
	StateEncryptionKey    string `env:"STATE_ENCRYPTION_KEY"`
	LogLevel              string `env:"LOG_LEVEL" envDefault:"info"`
}

func (c *Config) ConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutSeconds) * time.Second
}

func (c *Config) APITimeout() time.Duration {
	return time.Duration(c.APITimeoutSeconds) * time.Second
}

func (c *Config) Heartbeat() time.Duration {
	return time.Duration(c.HeartbeatMillis) * time.Millisecond
}

func (c *Config) ReconnectMax() time.Duration {
	return time.Duration(c.ReconnectMaxSeconds) * time.Second
}

func (c *Config) ArchiveRetention() time.Duration {
	return time.Duration(c.ArchiveRetentionDays) * 24 * time.Hour
}

func (c *Config) Addr() string {
	return fmt.Sprintf("127.0.0.1:%d", c.Port)
}

func (c *Config) Validate() error {
	if !strings.HasPrefix(c.BusURL, "ws://") && !strings.HasPrefix(c.BusURL, "wss://") {
		return fmt.Errorf("BUS_URL must be a ws:// or wss:// endpoint")
	}
	if !strings.HasPrefix(c.APIBaseURL, "http://") && !strings.HasPrefix(c.APIBaseURL, "https://") {
		return fmt.Errorf("API_BASE_URL must be an http(s) URL")
	}

	switch c.UserRole {
	case "USER", "ASTROLOGER":
	default:
		return fmt.Errorf("USER_ROLE must be USER or ASTROLOGER, got %q", c.UserRole)
	}

	if c.ConnectTimeoutSeconds <= 0 || c.APITimeoutSeconds <= 0 {
		return fmt.Errorf("CONNECT_TIMEOUT_SECONDS and API_TIMEOUT_SECONDS must be positive")
	}

	if c.StateEncryptionKey != "" && len(c.StateEncryptionKey) != 64 {
		return fmt.Errorf("STATE_ENCRYPTION_KEY must be 64 hex chars")
	}

	if strings.HasPrefix(c.BusURL, "ws://") {
		log.Warn().Msg("BUS_URL uses ws:// (not TLS): the access token travels in clear text")
	}
	if c.ControlToken == "" {
		log.Warn().Msg("CONTROL_TOKEN is empty: local control API is unauthenticated")
	}

	return nil
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
