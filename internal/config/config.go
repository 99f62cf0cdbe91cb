package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
	_ "time/tzdata"

	"github.com/go-playground/validator/v10"
)

type Config struct {
	Port           int    `validate:"min=1,max=65535"`
	LogLevel       string `validate:"oneof=debug info warn error"`
	DatabaseURL    string `validate:"omitempty,url"`
	SQLitePath     string
	NatsURL        string `validate:"omitempty,url"`
	NatsToken      string
	Timezone       string `validate:"required"`
	InboxDir       string
	OutputDir      string
	StatePath      string
	ScanInterval   time.Duration `validate:"min=1s"`
	BatchSize      int           `validate:"min=1,max=100000"`
	MaxUploadBytes int64         `validate:"min=1"`
	APIToken       string
	SlackBotToken  string
	SlackChannel   string `validate:"required_with=SlackBotToken"`
}

func Load() Config {
	return Config{
		Port:           envInt("WAEXPORT_PORT", 8760),
		LogLevel:       envStr("LOG_LEVEL", "info"),
		DatabaseURL:    envStr("DATABASE_URL", ""),
		SQLitePath:     envStr("SQLITE_PATH", ""),
		NatsURL:        envStr("NATS_URL", ""),
		NatsToken:      envStr("NATS_TOKEN", ""),
		Timezone:       envStr("WAEXPORT_TIMEZONE", "UTC"),
		InboxDir:       envStr("WAEXPORT_INBOX_DIR", "~/.waexport/inbox"),
		OutputDir:      envStr("WAEXPORT_OUTPUT_DIR", ""),
		StatePath:      envStr("WAEXPORT_STATE_PATH", "~/.waexport/import-state.json"),
		ScanInterval:   envDuration("WAEXPORT_SCAN_INTERVAL", 5*time.Minute),
		BatchSize:      envInt("WAEXPORT_BATCH_SIZE", 500),
		MaxUploadBytes: int64(envInt("WAEXPORT_MAX_UPLOAD_BYTES", 32<<20)),
		APIToken:       envStr("WAEXPORT_API_TOKEN", ""),
		SlackBotToken:  envStr("SLACK_BOT_TOKEN", ""),
		SlackChannel:   envStr("SLACK_CHANNEL", ""),
	}
}

// Validate checks field constraints and that Timezone names a known zone.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Location loads the source timezone of the exports.
func (c Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
