package helploop

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds connection parameters. Everything operational (heartbeat
// cadence, backoff shape, retry reporting threshold) is configurable; the
// defaults are development values, not production guidance.
type Config struct {
	Endpoint    string // WebSocket URL (e.g. "ws://localhost:9000/ws")
	APIEndpoint string // REST API URL, derived from Endpoint if empty
	Token       string // user or staff JWT

	UserID      string // identity is passed in explicitly, never read from ambient state
	DisplayName string
	Language    string

	HeartbeatInterval time.Duration // ping cadence
	MissedPongLimit   int           // consecutive missed pongs before forced reconnect
	BackoffBase       time.Duration // first reconnect delay
	BackoffCap        time.Duration // reconnect delay ceiling
	MaxRetries        int           // failures reported as degraded before "unavailable"
}

func (c *Config) applyDefaults() {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 15 * time.Second
	}
	if c.MissedPongLimit <= 0 {
		c.MissedPongLimit = 3
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = time.Second
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = 30 * time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 5
	}
	if c.Language == "" {
		c.Language = "en"
	}
}

// ConfigFromEnv reads configuration from HELPLOOP_* environment variables.
// Callers that want .env support load it first (godotenv in cmd).
func ConfigFromEnv() (Config, error) {
	heartbeat, err := getEnvDuration("HELPLOOP_HEARTBEAT_INTERVAL", 15*time.Second)
	if err != nil {
		return Config{}, err
	}
	base, err := getEnvDuration("HELPLOOP_BACKOFF_BASE", time.Second)
	if err != nil {
		return Config{}, err
	}
	cap, err := getEnvDuration("HELPLOOP_BACKOFF_CAP", 30*time.Second)
	if err != nil {
		return Config{}, err
	}
	missed, err := getEnvInt("HELPLOOP_MISSED_PONG_LIMIT", 3)
	if err != nil {
		return Config{}, err
	}
	retries, err := getEnvInt("HELPLOOP_MAX_RETRIES", 5)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Endpoint:          getEnv("HELPLOOP_ENDPOINT", "ws://localhost:9000/ws"),
		APIEndpoint:       getEnv("HELPLOOP_API_ENDPOINT", ""),
		Token:             getEnv("HELPLOOP_TOKEN", ""),
		UserID:            getEnv("HELPLOOP_USER_ID", ""),
		DisplayName:       getEnv("HELPLOOP_DISPLAY_NAME", ""),
		Language:          getEnv("HELPLOOP_LANGUAGE", "en"),
		HeartbeatInterval: heartbeat,
		MissedPongLimit:   missed,
		BackoffBase:       base,
		BackoffCap:        cap,
		MaxRetries:        retries,
	}
	if cfg.Endpoint == "" {
		return Config{}, fmt.Errorf("HELPLOOP_ENDPOINT cannot be empty")
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return v, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return v, nil
}
