// internal/config/config.go

// Package config loads server configuration from the environment, with an
// optional .env file for development.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds everything the process needs to start.
type Config struct {
	// ListenAddr is the address the switch listener binds to.
	ListenAddr string
	// ChallengeInterval is how often the matchmaking trigger fires.
	ChallengeInterval time.Duration
	// ReplyTimeoutMs is the advisory deadline forwarded with move requests.
	ReplyTimeoutMs int
	// DatabaseURL is the Postgres DSN; empty disables persistence.
	DatabaseURL string
	// RedisAddr is the history stream address; empty disables publishing.
	RedisAddr string
	// JWTSecret signs and verifies bot session tokens.
	JWTSecret string
	// SwitchKeyHash is the bcrypt hash of the shared switch key; empty
	// disables the key check.
	SwitchKeyHash string
	// LogLevel is a logrus level name.
	LogLevel string
}

// Load reads .env if present, then the environment.
func Load() (*Config, error) {
	// Missing .env is fine; env vars may come from the deployment.
	_ = godotenv.Load()

	cfg := &Config{
		ListenAddr:    getenv("LISTEN_ADDR", ":3000"),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		JWTSecret:     os.Getenv("JWT_SECRET"),
		SwitchKeyHash: os.Getenv("SWITCH_KEY_HASH"),
		LogLevel:      getenv("LOG_LEVEL", "info"),
	}

	intervalMs, err := getenvInt("CHALLENGE_INTERVAL_MS", 60000)
	if err != nil {
		return nil, err
	}
	cfg.ChallengeInterval = time.Duration(intervalMs) * time.Millisecond

	cfg.ReplyTimeoutMs, err = getenvInt("REPLY_TIMEOUT_MS", 10000)
	if err != nil {
		return nil, err
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET must be set")
	}
	return cfg, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return n, nil
}
