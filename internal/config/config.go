package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL    string
	Port           string
	NatsURL        string
	RedisAddr      string
	JWTSecret      string
	InitialCredits int64
}

// New loads and validates configuration from environment variables.
// NATS and Redis are optional: with no NATS_URL the event intake doesn't
// start, with no REDIS_ADDR balance reads skip the cache.
func New() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		Port:           os.Getenv("PORT"),
		NatsURL:        os.Getenv("NATS_URL"),
		RedisAddr:      os.Getenv("REDIS_ADDR"),
		JWTSecret:      os.Getenv("JWT_SECRET"),
		InitialCredits: getEnvInt64("INITIAL_CREDITS", 1000),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("missing required env: DATABASE_URL")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("missing required env: JWT_SECRET")
	}
	if cfg.Port == "" {
		cfg.Port = "8080"
	}
	if cfg.InitialCredits < 0 {
		return nil, fmt.Errorf("INITIAL_CREDITS must be non-negative")
	}
	return cfg, nil
}

func getEnvInt64(key string, def int64) int64 {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}
