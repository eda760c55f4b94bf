package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.LLM.Provider != "anthropic" {
		t.Errorf("Provider = %q, expected %q", cfg.LLM.Provider, "anthropic")
	}
	if cfg.LLM.Timeout != 120*time.Second {
		t.Errorf("Timeout = %v, expected 120s", cfg.LLM.Timeout)
	}
	if cfg.Queue.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, expected 3", cfg.Queue.MaxAttempts)
	}
	if cfg.Database.Driver != "sqlite" {
		t.Errorf("Driver = %q, expected %q", cfg.Database.Driver, "sqlite")
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != "8080" {
		t.Errorf("Port = %q, expected %q", cfg.Server.Port, "8080")
	}
	if cfg.Queue.StaleAfter != 2*cfg.LLM.Timeout+time.Minute {
		t.Errorf("StaleAfter = %v, expected derived from LLM timeout", cfg.Queue.StaleAfter)
	}
}

func TestLoad_FileValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server:
  port: "9090"
llm:
  provider: openai
  model: gpt-4o
  timeout: 90s
queue:
  max_attempts: 5
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != "9090" {
		t.Errorf("Port = %q, expected %q", cfg.Server.Port, "9090")
	}
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("Host = %q, expected default to survive partial file", cfg.Server.Host)
	}
	if cfg.LLM.Provider != "openai" || cfg.LLM.Model != "gpt-4o" {
		t.Errorf("LLM = %+v, expected openai/gpt-4o", cfg.LLM)
	}
	if cfg.LLM.Timeout != 90*time.Second {
		t.Errorf("Timeout = %v, expected 90s", cfg.LLM.Timeout)
	}
	if cfg.Queue.MaxAttempts != 5 {
		t.Errorf("MaxAttempts = %d, expected 5", cfg.Queue.MaxAttempts)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("SERVER_PORT", "7000")
	t.Setenv("LLM_MODEL", "claude-haiku")
	t.Setenv("LLM_TIMEOUT", "45s")
	t.Setenv("QUEUE_CONCURRENCY", "4")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != "7000" {
		t.Errorf("Port = %q, expected %q", cfg.Server.Port, "7000")
	}
	if cfg.LLM.Model != "claude-haiku" {
		t.Errorf("Model = %q, expected %q", cfg.LLM.Model, "claude-haiku")
	}
	if cfg.LLM.Timeout != 45*time.Second {
		t.Errorf("Timeout = %v, expected 45s", cfg.LLM.Timeout)
	}
	if cfg.Queue.Concurrency != 4 {
		t.Errorf("Concurrency = %d, expected 4", cfg.Queue.Concurrency)
	}
}

func TestParseRedisURL(t *testing.T) {
	tests := []struct {
		name     string
		url      string
		addr     string
		password string
		db       int
	}{
		{"host only", "redis://localhost:6379", "localhost:6379", "", 0},
		{"with db", "redis://localhost:6379/2", "localhost:6379", "", 2},
		{"with password", "redis://:secret@redis:6380/1", "redis:6380", "secret", 1},
		{"user and password", "redis://user:pw@10.0.0.1:6379", "10.0.0.1:6379", "pw", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.parseRedisURL(tt.url)
			if cfg.Redis.Addr != tt.addr {
				t.Errorf("Addr = %q, expected %q", cfg.Redis.Addr, tt.addr)
			}
			if cfg.Redis.Password != tt.password {
				t.Errorf("Password = %q, expected %q", cfg.Redis.Password, tt.password)
			}
			if cfg.Redis.DB != tt.db {
				t.Errorf("DB = %d, expected %d", cfg.Redis.DB, tt.db)
			}
		})
	}
}
