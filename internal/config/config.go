package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	LLM      LLMConfig      `yaml:"llm"`
	Redis    RedisConfig    `yaml:"redis"`
	Queue    QueueConfig    `yaml:"queue"`
	Log      LogConfig      `yaml:"log"`
}

type ServerConfig struct {
	Host string `yaml:"host" env:"SERVER_HOST"`
	Port string `yaml:"port" env:"SERVER_PORT"`
	Mode string `yaml:"mode" env:"SERVER_MODE"` // debug, release, test
	// RunWorker starts an in-process worker next to the HTTP server.
	RunWorker bool `yaml:"run_worker" env:"SERVER_RUN_WORKER"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver" env:"DB_DRIVER"` // sqlite, mysql, postgres
	DSN    string `yaml:"dsn" env:"DB_DSN"`
}

// LLMConfig describes the text-generation endpoint used for analysis.
type LLMConfig struct {
	Provider  string        `yaml:"provider" env:"LLM_PROVIDER"` // anthropic, openai, azure, ollama, gemini
	BaseURL   string        `yaml:"base_url" env:"LLM_BASE_URL"`
	APIKey    string        `yaml:"api_key" env:"LLM_API_KEY"`
	Model     string        `yaml:"model" env:"LLM_MODEL"`
	MaxTokens int           `yaml:"max_tokens" env:"LLM_MAX_TOKENS"`
	Timeout   time.Duration `yaml:"timeout" env:"LLM_TIMEOUT"`
}

// RedisConfig for optional async task queue
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled" env:"REDIS_ENABLED"`
	Addr     string `yaml:"addr" env:"REDIS_ADDR"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB"`
}

// QueueConfig controls job dispatch and redelivery.
type QueueConfig struct {
	MaxAttempts int           `yaml:"max_attempts" env:"QUEUE_MAX_ATTEMPTS"`
	Concurrency int           `yaml:"concurrency" env:"QUEUE_CONCURRENCY"`
	RetryDelay  time.Duration `yaml:"retry_delay" env:"QUEUE_RETRY_DELAY"`
	// StaleAfter is how long a review may sit in pending/processing before
	// the recovery scheduler redelivers it. Zero means derive from LLM timeout.
	StaleAfter time.Duration `yaml:"stale_after" env:"QUEUE_STALE_AFTER"`
}

type LogConfig struct {
	Level         string `yaml:"level" env:"LOG_LEVEL"`
	RetentionDays int    `yaml:"retention_days" env:"LOG_RETENTION_DAYS"`
}

var GlobalConfig *Config

func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	// .env is optional; variables already present in the environment win.
	_ = godotenv.Load()

	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); err == nil {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", configPath, err)
		}
	}

	if err := cfg.overrideFromEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	GlobalConfig = cfg
	return cfg, nil
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:      "0.0.0.0",
			Port:      "8080",
			Mode:      "debug",
			RunWorker: true,
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "codereview.db",
		},
		LLM: LLMConfig{
			Provider:  "anthropic",
			Model:     "claude-sonnet-4-20250514",
			MaxTokens: 4096,
			Timeout:   120 * time.Second,
		},
		Redis: RedisConfig{
			Enabled: false,
			Addr:    "localhost:6379",
			DB:      0,
		},
		Queue: QueueConfig{
			MaxAttempts: 3,
			Concurrency: 10,
			RetryDelay:  10 * time.Second,
		},
		Log: LogConfig{
			Level:         "info",
			RetentionDays: 30,
		},
	}
}

func (c *Config) overrideFromEnv() error {
	if err := env.Parse(c); err != nil {
		return fmt.Errorf("parse environment: %w", err)
	}
	if c.LLM.APIKey == "" && c.LLM.Provider == "anthropic" {
		c.LLM.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	// Redis URL override (format: redis://:password@host:port/db)
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		c.Redis.Enabled = true
		c.parseRedisURL(redisURL)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Queue.MaxAttempts <= 0 {
		c.Queue.MaxAttempts = 3
	}
	if c.Queue.Concurrency <= 0 {
		c.Queue.Concurrency = 10
	}
	if c.Queue.RetryDelay < 0 {
		c.Queue.RetryDelay = 0
	}
	if c.LLM.Timeout <= 0 {
		c.LLM.Timeout = 120 * time.Second
	}
	if c.Queue.StaleAfter <= 0 {
		c.Queue.StaleAfter = 2*c.LLM.Timeout + time.Minute
	}
}

// parseRedisURL parses a Redis URL and sets config values
// Format: redis://:password@host:port/db
func (c *Config) parseRedisURL(redisURL string) {
	url := strings.TrimPrefix(redisURL, "redis://")

	if atIdx := strings.Index(url, "@"); atIdx != -1 {
		authPart := url[:atIdx]
		url = url[atIdx+1:]
		// Password format: :password or user:password
		if colonIdx := strings.Index(authPart, ":"); colonIdx != -1 {
			c.Redis.Password = authPart[colonIdx+1:]
		}
	}

	if slashIdx := strings.LastIndex(url, "/"); slashIdx != -1 {
		dbStr := url[slashIdx+1:]
		url = url[:slashIdx]
		if db, err := strconv.Atoi(dbStr); err == nil {
			c.Redis.DB = db
		}
	}

	c.Redis.Addr = url
}
