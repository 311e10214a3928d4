package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config holds all configuration for the bridge process. Values are loaded
// from environment variables with the BRIDGE_ prefix (a .env file loaded by
// the caller before Load is honored the same way), falling back to defaults.
type Config struct {
	ServerHost string `mapstructure:"SERVER_HOST"`
	ServerPort int    `mapstructure:"SERVER_PORT" validate:"gt=0,lte=65535"`
	LogLevel   string `mapstructure:"LOG_LEVEL"`

	// Nightline server that inbound messages and status updates are
	// forwarded to. The client ID is part of the webhook URL path and may
	// be empty until the bridge is enrolled; forwarding no-ops until set.
	NightlineServerURL string `mapstructure:"NIGHTLINE_SERVER_URL" validate:"required,url"`
	NightlineClientID  string `mapstructure:"NIGHTLINE_CLIENT_ID"`
	WebhookSecret      string `mapstructure:"WEBHOOK_SECRET" validate:"required"`

	ChatDBPath        string  `mapstructure:"CHAT_DB_PATH" validate:"required"`
	PollInterval      float64 `mapstructure:"POLL_INTERVAL" validate:"gte=0"`
	ProcessHistorical bool    `mapstructure:"PROCESS_HISTORICAL"`

	// MockMode replaces the chat.db watcher and the AppleScript sender with
	// in-memory fakes so the full flow can be exercised without a Mac setup.
	MockMode bool `mapstructure:"MOCK_MODE"`

	QueueMaxSize      int     `mapstructure:"QUEUE_MAX_SIZE" validate:"gt=0"`
	RetryBaseDelay    float64 `mapstructure:"RETRY_BASE_DELAY" validate:"gt=0"`
	RetryMaxDelay     float64 `mapstructure:"RETRY_MAX_DELAY" validate:"gt=0"`
	RetryMaxAttempts  int     `mapstructure:"RETRY_MAX_ATTEMPTS" validate:"gt=0"`
	HTTPTimeout       float64 `mapstructure:"HTTP_TIMEOUT" validate:"gt=0"`
}

// Load reads configuration from the environment and applies defaults.
func Load() (*Config, error) {
	v := viper.New()

	v.AutomaticEnv()
	v.SetEnvPrefix("BRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))

	v.SetDefault("SERVER_HOST", "0.0.0.0")
	v.SetDefault("SERVER_PORT", 8080)
	v.SetDefault("LOG_LEVEL", "info")

	v.SetDefault("NIGHTLINE_SERVER_URL", "http://localhost:8000")
	v.SetDefault("NIGHTLINE_CLIENT_ID", "")
	v.SetDefault("WEBHOOK_SECRET", "change-me-in-production")

	v.SetDefault("CHAT_DB_PATH", defaultChatDBPath())
	v.SetDefault("POLL_INTERVAL", 2.0)
	v.SetDefault("PROCESS_HISTORICAL", false)
	v.SetDefault("MOCK_MODE", false)

	v.SetDefault("QUEUE_MAX_SIZE", 1000)
	v.SetDefault("RETRY_BASE_DELAY", 5.0)
	v.SetDefault("RETRY_MAX_DELAY", 300.0)
	v.SetDefault("RETRY_MAX_ATTEMPTS", 10)
	v.SetDefault("HTTP_TIMEOUT", 30.0)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// defaultChatDBPath is where the Messages app keeps its database on macOS.
func defaultChatDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "chat.db"
	}
	return filepath.Join(home, "Library", "Messages", "chat.db")
}
