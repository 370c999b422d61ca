package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port string

	LogLevel string
	Env      string

	// DatabaseURL selects the Postgres gateway. Empty means the in-memory
	// store is used, which is only suitable for local development.
	DatabaseURL string
	// RedisURL enables the presence mirror. Empty disables it.
	RedisURL string

	JWTSecret string
	TokenTTL  time.Duration

	MainRoom string

	// SendBuffer is the per-connection outbound queue length.
	SendBuffer int

	// StatusRefreshInterval drives the client's periodic refresh_my_status.
	StatusRefreshInterval time.Duration
}

// LoadConfig reads configuration from the environment. A .env file in the
// working directory is loaded first if present; real env vars win.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	tokenTTL, err := GetDuration("TOKEN_TTL", 24*time.Hour)
	if err != nil {
		return nil, err
	}
	refresh, err := GetDuration("STATUS_REFRESH_INTERVAL", 30*time.Second)
	if err != nil {
		return nil, err
	}
	sendBuffer, err := GetInt("WS_SEND_BUFFER", 256)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Port:                  GetEnv("PORT", "8081"),
		DatabaseURL:           GetEnv("DATABASE_URL", ""),
		RedisURL:              GetEnv("REDIS_URL", ""),
		Env:                   GetEnv("ENV", "development"),
		LogLevel:              GetEnv("LOG_LEVEL", "info"),
		JWTSecret:             GetEnv("JWT_SECRET", ""),
		TokenTTL:              tokenTTL,
		MainRoom:              GetEnv("MAIN_ROOM", "main"),
		SendBuffer:            sendBuffer,
		StatusRefreshInterval: refresh,
	}

	if cfg.JWTSecret == "" {
		if cfg.Env == "production" {
			return nil, fmt.Errorf("JWT_SECRET is required in production")
		}
		cfg.JWTSecret = "dev-secret-change-me"
	}
	if cfg.SendBuffer < 1 {
		return nil, fmt.Errorf("WS_SEND_BUFFER must be positive, got %d", cfg.SendBuffer)
	}

	return cfg, nil
}

func GetEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func GetDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	raw, exists := os.LookupEnv(key)
	if !exists || raw == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, nil
}

func GetInt(key string, defaultValue int) (int, error) {
	raw, exists := os.LookupEnv(key)
	if !exists || raw == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return n, nil
}
