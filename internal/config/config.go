package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendDynamoDB = "dynamodb"

	EnvPrefix = "BOOKBOT_"
)

var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	Server     ServerConfig     `yaml:"server" envPrefix:"SERVER_"`
	Recognizer RecognizerConfig `yaml:"recognizer" envPrefix:"RECOGNIZER_"`
	Knowledge  KnowledgeConfig  `yaml:"knowledge" envPrefix:"KNOWLEDGE_"`
	State      StateConfig      `yaml:"state" envPrefix:"STATE_"`
	Redis      RedisConfig      `yaml:"redis" envPrefix:"REDIS_"`
	DynamoDB   DynamoDBConfig   `yaml:"dynamodb" envPrefix:"DYNAMODB_"`
	Telegram   TelegramConfig   `yaml:"telegram" envPrefix:"TELEGRAM_"`
	Sentry     SentryConfig     `yaml:"sentry" envPrefix:"SENTRY_"`
	Log        LogConfig        `yaml:"log" envPrefix:"LOG_"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr" env:"ADDR"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

type RecognizerConfig struct {
	URL     string        `yaml:"url" env:"URL"`
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// KnowledgeConfig.Path empty means the embedded book base.
type KnowledgeConfig struct {
	Path string `yaml:"path" env:"PATH"`
}

type StateConfig struct {
	Backend string        `yaml:"backend" env:"BACKEND"`
	TTL     time.Duration `yaml:"ttl" env:"TTL"`
}

type RedisConfig struct {
	Addr       string `yaml:"addr" env:"ADDR"`
	Password   string `yaml:"password" env:"PASSWORD"`
	DB         int    `yaml:"db" env:"DB"`
	MaxRetries int    `yaml:"max_retries" env:"MAX_RETRIES"`
}

type DynamoDBConfig struct {
	Table  string `yaml:"table" env:"TABLE"`
	Region string `yaml:"region" env:"REGION"`
}

type TelegramConfig struct {
	Token   string `yaml:"token" env:"TOKEN"`
	Timeout int    `yaml:"timeout" env:"TIMEOUT"`
	Debug   bool   `yaml:"debug" env:"DEBUG"`
}

type SentryConfig struct {
	DSN         string `yaml:"dsn" env:"DSN"`
	Environment string `yaml:"environment" env:"ENVIRONMENT"`
}

type LogConfig struct {
	Level       string `yaml:"level" env:"LEVEL"`
	Development bool   `yaml:"development" env:"DEVELOPMENT"`
}

func Default() *Config {
	return &Config{
		Server:     ServerConfig{Addr: ":8080", ShutdownTimeout: 10 * time.Second},
		Recognizer: RecognizerConfig{URL: "http://127.0.0.1:8000", Timeout: 10 * time.Second},
		State:      StateConfig{Backend: BackendMemory, TTL: 24 * time.Hour},
		Redis:      RedisConfig{Addr: "localhost:6379", MaxRetries: 3},
		Telegram:   TelegramConfig{Timeout: 60},
		Sentry:     SentryConfig{Environment: "production"},
		Log:        LogConfig{Level: "info"},
	}
}

// Load reads path over the defaults, then .env, then BOOKBOT_* variables.
// A missing file is not an error; an unreadable one is.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	// .env is optional
	_ = godotenv.Load()

	if err := applyEnv(cfg, nil); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides cfg from environ, or from the process environment when environ is nil.
func applyEnv(cfg *Config, environ map[string]string) error {
	opts := env.Options{Prefix: EnvPrefix}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.Parse(cfg, opts); err != nil {
		return fmt.Errorf("parse environment: %w", err)
	}
	return nil
}

func (c *Config) Validate() error {
	switch c.State.Backend {
	case BackendMemory, BackendRedis:
	case BackendDynamoDB:
		if c.DynamoDB.Table == "" {
			return fmt.Errorf("%w: dynamodb.table is required for the dynamodb backend", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown state backend %q", ErrInvalidConfig, c.State.Backend)
	}
	if c.Recognizer.Timeout <= 0 {
		return fmt.Errorf("%w: recognizer.timeout must be positive", ErrInvalidConfig)
	}
	if c.State.TTL <= 0 {
		return fmt.Errorf("%w: state.ttl must be positive", ErrInvalidConfig)
	}
	if c.Server.Addr == "" {
		return fmt.Errorf("%w: server.addr is empty", ErrInvalidConfig)
	}
	return nil
}
