package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the task daemon.
type Config struct {
	SocketPath      string
	TCPAddr         string
	HTTPAddr        string
	ShutdownTimeout time.Duration

	MetricsNamespace string
	AllowAnyOrigin   bool

	DefaultTaskDurationMs int64
	ChatMode              string
	ChatHTTPURL           string
	ChatContextTurns      int
	DatabaseURL           string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		SocketPath:            envOrDefault("TASKD_SOCKET_PATH", "/tmp/taskd.sock"),
		TCPAddr:               strings.TrimSpace(os.Getenv("TASKD_TCP_ADDR")),
		HTTPAddr:              envOrDefault("TASKD_HTTP_ADDR", "127.0.0.1:9433"),
		MetricsNamespace:      envOrDefault("TASKD_METRICS_NAMESPACE", "taskd"),
		ChatMode:              envOrDefault("TASKD_CHAT_MODE", "auto"),
		ChatHTTPURL:           strings.TrimSpace(os.Getenv("TASKD_CHAT_HTTP_URL")),
		DatabaseURL:           strings.TrimSpace(os.Getenv("TASKD_DATABASE_URL")),
		ShutdownTimeout:       10 * time.Second,
		DefaultTaskDurationMs: 1000,
		ChatContextTurns:      8,
		AllowAnyOrigin:        false,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("TASKD_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.DefaultTaskDurationMs, err = int64FromEnv("TASKD_DEFAULT_TASK_DURATION_MS", cfg.DefaultTaskDurationMs)
	if err != nil {
		return Config{}, err
	}
	cfg.ChatContextTurns, err = intFromEnv("TASKD_CHAT_CONTEXT_TURNS", cfg.ChatContextTurns)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("TASKD_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	if strings.TrimSpace(cfg.SocketPath) == "" && cfg.TCPAddr == "" {
		return Config{}, fmt.Errorf("at least one of TASKD_SOCKET_PATH and TASKD_TCP_ADDR must be set")
	}
	if cfg.DefaultTaskDurationMs <= 0 {
		return Config{}, fmt.Errorf("TASKD_DEFAULT_TASK_DURATION_MS must be positive")
	}
	if cfg.ChatContextTurns <= 0 {
		return Config{}, fmt.Errorf("TASKD_CHAT_CONTEXT_TURNS must be positive")
	}
	if cfg.ShutdownTimeout < time.Second {
		return Config{}, fmt.Errorf("TASKD_SHUTDOWN_TIMEOUT must be at least 1s")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func int64FromEnv(key string, fallback int64) (int64, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}
