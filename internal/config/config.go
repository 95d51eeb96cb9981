// Package config loads command configuration from the environment. A .env
// file in the working directory is read first; variables already set in the
// environment win.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Client configures cmd/chatclient.
type Client struct {
	ChatURL      string        `env:"CHAT_WS_URL" envDefault:"ws://localhost:8080/ws/chat"`
	RoomID       string        `env:"CHAT_ROOM_ID"`
	HistoryLimit int           `env:"CHAT_HISTORY_LIMIT" envDefault:"0"`
	PingInterval time.Duration `env:"CHAT_PING_INTERVAL" envDefault:"30s"`
	DialTimeout  time.Duration `env:"CHAT_DIAL_TIMEOUT" envDefault:"10s"`

	Storage     string `env:"CHAT_STORAGE" envDefault:"file"` // file | redis
	StoragePath string `env:"CHAT_STORAGE_PATH" envDefault:"storage.json"`
	RedisAddr   string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	Profile     string `env:"CHAT_PROFILE" envDefault:"default"`

	NATSURL           string        `env:"NATS_URL"`
	RoomsURL          string        `env:"ROOMS_URL"`
	RoomsPollInterval time.Duration `env:"ROOMS_POLL_INTERVAL" envDefault:"10s"`
	ToastDuration     time.Duration `env:"TOAST_DURATION" envDefault:"5s"`

	MetricsAddr string `env:"METRICS_ADDR"`
}

// Validate checks the combinations env tags cannot express.
func (c Client) Validate() error {
	switch c.Storage {
	case "file", "redis":
	default:
		return fmt.Errorf("config: CHAT_STORAGE must be file or redis, got %q", c.Storage)
	}
	if c.HistoryLimit < 0 {
		return fmt.Errorf("config: CHAT_HISTORY_LIMIT must not be negative")
	}
	if c.RoomsURL != "" && c.RoomsPollInterval <= 0 {
		return fmt.Errorf("config: ROOMS_POLL_INTERVAL must be positive")
	}
	return nil
}

// Relay configures cmd/roomrelay.
type Relay struct {
	RoomsURL     string        `env:"ROOMS_URL,required,notEmpty"`
	AccessToken  string        `env:"RELAY_ACCESS_TOKEN"`
	User         string        `env:"RELAY_USER,required,notEmpty"`
	PollInterval time.Duration `env:"ROOMS_POLL_INTERVAL" envDefault:"10s"`
	NATSURL      string        `env:"NATS_URL" envDefault:"nats://localhost:4222"`
}

// Validate checks the combinations env tags cannot express.
func (r Relay) Validate() error {
	if r.PollInterval <= 0 {
		return fmt.Errorf("config: ROOMS_POLL_INTERVAL must be positive")
	}
	return nil
}

// Load reads .env (if present) and parses the environment into target.
func Load(target any) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("config: load .env: %w", err)
	}
	return ParseEnv(target)
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("config: parse env: %w", err)
	}
	return nil
}
