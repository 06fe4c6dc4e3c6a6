package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StoreRedis  = "redis"
	StorePebble = "pebble"
)

type Config struct {
	AppEnv         string
	Port           string
	AllowedOrigins []string
	LogLevel       string

	StoreBackend    string
	RedisURL        string
	PebblePath      string
	StorePrefix     string
	StoreMaxRetries int

	DatabaseURL string

	MeiliSearchHost string
	MeiliMasterKey  string

	CloudinaryURL string

	JWTSecret     string
	TriggerSecret string

	TriggerMaxRetries    int
	TriggerRetryInterval time.Duration

	FeedPageSize     int
	FeedOwnRatio     float64
	ReviewEditWindow time.Duration
}

func Load() (*Config, error) {
	// Don't fail if .env doesn't exist (might be prod env vars)
	_ = godotenv.Load()

	cfg := &Config{
		AppEnv:         getEnv("APP_ENV", "development"),
		Port:           getEnv("PORT", "8080"),
		AllowedOrigins: splitList(getEnv("ALLOWED_ORIGINS", "http://localhost:3000")),
		LogLevel:       getEnv("LOG_LEVEL", "info"),

		StoreBackend: getEnv("STORE_BACKEND", StoreRedis),
		RedisURL:     getEnv("REDIS_URL", "redis://localhost:6379/0"),
		PebblePath:   getEnv("PEBBLE_PATH", "data/reviewfeed"),
		StorePrefix:  getEnv("STORE_PREFIX", "reviewfeed:"),

		DatabaseURL: os.Getenv("DATABASE_URL"),

		MeiliSearchHost: os.Getenv("MEILISEARCH_HOST"),
		MeiliMasterKey:  os.Getenv("MEILI_MASTER_KEY"),

		CloudinaryURL: os.Getenv("CLOUDINARY_URL"),

		JWTSecret:     os.Getenv("JWT_SECRET"),
		TriggerSecret: os.Getenv("TRIGGER_SECRET"),
	}

	if cfg.StoreBackend != StoreRedis && cfg.StoreBackend != StorePebble {
		return nil, fmt.Errorf("invalid STORE_BACKEND %q: want %s or %s", cfg.StoreBackend, StoreRedis, StorePebble)
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	var err error
	if cfg.StoreMaxRetries, err = parseInt("STORE_MAX_RETRIES", 25); err != nil {
		return nil, err
	}
	if cfg.TriggerMaxRetries, err = parseInt("TRIGGER_MAX_RETRIES", 5); err != nil {
		return nil, err
	}
	if cfg.FeedPageSize, err = parseInt("FEED_PAGE_SIZE", 50); err != nil {
		return nil, err
	}

	cfg.TriggerRetryInterval, err = time.ParseDuration(getEnv("TRIGGER_RETRY_INTERVAL", "100ms"))
	if err != nil {
		return nil, fmt.Errorf("invalid TRIGGER_RETRY_INTERVAL: %w", err)
	}
	cfg.ReviewEditWindow, err = time.ParseDuration(getEnv("REVIEW_EDIT_WINDOW", "1h"))
	if err != nil {
		return nil, fmt.Errorf("invalid REVIEW_EDIT_WINDOW: %w", err)
	}

	cfg.FeedOwnRatio, err = strconv.ParseFloat(getEnv("FEED_OWN_RATIO", "0.25"), 64)
	if err != nil || cfg.FeedOwnRatio < 0 || cfg.FeedOwnRatio > 1 {
		return nil, fmt.Errorf("invalid FEED_OWN_RATIO: must be a number between 0 and 1")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func parseInt(key string, fallback int) (int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, raw)
	}
	return n, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
