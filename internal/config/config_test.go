package config

import (
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"TASKD_SOCKET_PATH",
		"TASKD_TCP_ADDR",
		"TASKD_HTTP_ADDR",
		"TASKD_METRICS_NAMESPACE",
		"TASKD_CHAT_MODE",
		"TASKD_CHAT_HTTP_URL",
		"TASKD_DATABASE_URL",
		"TASKD_SHUTDOWN_TIMEOUT",
		"TASKD_DEFAULT_TASK_DURATION_MS",
		"TASKD_CHAT_CONTEXT_TURNS",
		"TASKD_ALLOW_ANY_ORIGIN",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.SocketPath != "/tmp/taskd.sock" {
		t.Fatalf("SocketPath = %q", cfg.SocketPath)
	}
	if cfg.HTTPAddr != "127.0.0.1:9433" {
		t.Fatalf("HTTPAddr = %q", cfg.HTTPAddr)
	}
	if cfg.MetricsNamespace != "taskd" {
		t.Fatalf("MetricsNamespace = %q", cfg.MetricsNamespace)
	}
	if cfg.DefaultTaskDurationMs != 1000 {
		t.Fatalf("DefaultTaskDurationMs = %d", cfg.DefaultTaskDurationMs)
	}
	if cfg.ChatContextTurns != 8 {
		t.Fatalf("ChatContextTurns = %d", cfg.ChatContextTurns)
	}
	if cfg.ShutdownTimeout != 10*time.Second {
		t.Fatalf("ShutdownTimeout = %v", cfg.ShutdownTimeout)
	}
	if cfg.AllowAnyOrigin {
		t.Fatalf("AllowAnyOrigin = true, want false")
	}
}

func TestLoadOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("TASKD_SOCKET_PATH", "/run/taskd/daemon.sock")
	t.Setenv("TASKD_TCP_ADDR", "127.0.0.1:9500")
	t.Setenv("TASKD_SHUTDOWN_TIMEOUT", "30s")
	t.Setenv("TASKD_DEFAULT_TASK_DURATION_MS", "250")
	t.Setenv("TASKD_CHAT_CONTEXT_TURNS", "16")
	t.Setenv("TASKD_ALLOW_ANY_ORIGIN", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.SocketPath != "/run/taskd/daemon.sock" {
		t.Fatalf("SocketPath = %q", cfg.SocketPath)
	}
	if cfg.TCPAddr != "127.0.0.1:9500" {
		t.Fatalf("TCPAddr = %q", cfg.TCPAddr)
	}
	if cfg.ShutdownTimeout != 30*time.Second {
		t.Fatalf("ShutdownTimeout = %v", cfg.ShutdownTimeout)
	}
	if cfg.DefaultTaskDurationMs != 250 {
		t.Fatalf("DefaultTaskDurationMs = %d", cfg.DefaultTaskDurationMs)
	}
	if cfg.ChatContextTurns != 16 {
		t.Fatalf("ChatContextTurns = %d", cfg.ChatContextTurns)
	}
	if !cfg.AllowAnyOrigin {
		t.Fatalf("AllowAnyOrigin = false, want true")
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := []struct {
		name  string
		key   string
		value string
	}{
		{"bad duration", "TASKD_SHUTDOWN_TIMEOUT", "soon"},
		{"short shutdown", "TASKD_SHUTDOWN_TIMEOUT", "100ms"},
		{"bad int", "TASKD_DEFAULT_TASK_DURATION_MS", "fast"},
		{"negative duration ms", "TASKD_DEFAULT_TASK_DURATION_MS", "-1"},
		{"zero context turns", "TASKD_CHAT_CONTEXT_TURNS", "0"},
		{"bad bool", "TASKD_ALLOW_ANY_ORIGIN", "maybe"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tc.key, tc.value)
			if _, err := Load(); err == nil {
				t.Fatalf("Load() with %s=%q succeeded, want error", tc.key, tc.value)
			}
		})
	}
}
