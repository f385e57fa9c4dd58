// Package config loads service configuration from the environment.
package config

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

// Config is the full service configuration. Every field maps to a
// VOICEBRIDGE_* environment variable.
type Config struct {
	// APIKey authenticates against the conversational-AI call service.
	APIKey string `envconfig:"API_KEY" required:"true"`

	// BaseURL overrides the call service endpoint.
	BaseURL string `envconfig:"BASE_URL"`

	// ListenAddr is the HTTP API bind address.
	ListenAddr string `envconfig:"LISTEN_ADDR" default:":8080"`

	// DatabaseURL is the PostgreSQL DSN. Empty disables persistence.
	DatabaseURL string `envconfig:"DATABASE_URL"`

	// RedisAddr enables live-call presence when set.
	RedisAddr     string `envconfig:"REDIS_ADDR"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`

	// WebhookURL receives signed call lifecycle events when set.
	WebhookURL    string `envconfig:"WEBHOOK_URL"`
	WebhookSecret string `envconfig:"WEBHOOK_SECRET"`

	// Instructions and Voice are the model defaults for new sessions.
	Instructions string `envconfig:"INSTRUCTIONS" default:"You are a helpful voice assistant."`
	Voice        string `envconfig:"VOICE"`

	// SampleRate is the PCM16 sample rate used on both legs.
	SampleRate int `envconfig:"SAMPLE_RATE" default:"48000"`

	// LogLevel is debug, info, warn or error.
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	// Instance names this process in shared presence state.
	Instance string `envconfig:"INSTANCE"`
}

// Load reads configuration from VOICEBRIDGE_* environment variables.
func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process("voicebridge", &cfg); err != nil {
		return Config{}, fmt.Errorf("loading configuration: %w", err)
	}
	return cfg, nil
}
