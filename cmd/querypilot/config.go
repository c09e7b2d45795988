package main

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/querypilot/querypilot/internal/tools"
)

// AppConfig holds all configuration for the assistant, loaded from the
// environment and config.yaml.
type AppConfig struct {
	Model       string
	APIKey      string
	PostgresDSN string
	RedisAddr   string
	Port        string

	Assistant AssistantConfig
}

// AssistantConfig is the tunable part of AppConfig, read from config.yaml.
// Durations are plain integers because yaml.v3 has no duration syntax.
type AssistantConfig struct {
	Model                 string `yaml:"model"`
	MaxTurns              int    `yaml:"max_turns"`
	MaxRows               int    `yaml:"max_rows"`
	QueryTimeoutSeconds   int    `yaml:"query_timeout_seconds"`
	RunTimeoutSeconds     int    `yaml:"run_timeout_seconds"`
	SchemaCacheTTLMinutes int    `yaml:"schema_cache_ttl_minutes"`
	RunRetentionMinutes   int    `yaml:"run_retention_minutes"`
	HistorySize           int    `yaml:"history_size"`
}

func (a AssistantConfig) queryTimeout() time.Duration {
	return time.Duration(a.QueryTimeoutSeconds) * time.Second
}

func (a AssistantConfig) runTimeout() time.Duration {
	return time.Duration(a.RunTimeoutSeconds) * time.Second
}

func (a AssistantConfig) schemaCacheTTL() time.Duration {
	return time.Duration(a.SchemaCacheTTLMinutes) * time.Minute
}

func (a AssistantConfig) runRetention() time.Duration {
	return time.Duration(a.RunRetentionMinutes) * time.Minute
}

// LoadConfig loads configuration from a .env file, environment variables,
// and config.yaml.
func LoadConfig() (*AppConfig, error) {
	// Only attempt to load a .env file in local development. In Docker
	// (where GIN_MODE="release"), configuration is provided directly as
	// environment variables.
	if os.Getenv("GIN_MODE") != "release" {
		if err := godotenv.Load(); err != nil {
			log.Println("WARNING: No .env file found for local development.")
		}
	}

	cfg := &AppConfig{
		PostgresDSN: os.Getenv("POSTGRES_DSN"),
		RedisAddr:   os.Getenv("REDIS_ADDR"),
		Port:        os.Getenv("PORT"),
	}
	if cfg.PostgresDSN == "" {
		return nil, fmt.Errorf("POSTGRES_DSN environment variable is not set")
	}
	if cfg.Port == "" {
		cfg.Port = "8080"
	}

	assistantFile, err := os.ReadFile("config.yaml")
	if err != nil {
		return nil, fmt.Errorf("failed to read config.yaml: %w", err)
	}
	if err := yaml.Unmarshal(assistantFile, &cfg.Assistant); err != nil {
		return nil, fmt.Errorf("failed to parse config.yaml: %w", err)
	}

	cfg.Model = cfg.Assistant.Model
	if cfg.Model == "" {
		return nil, fmt.Errorf("config.yaml does not set a model")
	}

	// The model prefix decides which provider key is required.
	switch {
	case strings.HasPrefix(cfg.Model, "claude"):
		cfg.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	case strings.HasPrefix(cfg.Model, "gemini"):
		cfg.APIKey = os.Getenv("GEMINI_API_KEY")
	case strings.HasPrefix(cfg.Model, "gpt"):
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	default:
		return nil, fmt.Errorf("unknown model provider for %q", cfg.Model)
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("no API key set for model %q", cfg.Model)
	}

	return cfg, nil
}

// postgresConfig maps the loaded settings onto the executor's config.
func (cfg *AppConfig) postgresConfig() tools.PostgresConfig {
	return tools.PostgresConfig{
		DSN:          cfg.PostgresDSN,
		QueryTimeout: cfg.Assistant.queryTimeout(),
		MaxRows:      cfg.Assistant.MaxRows,
	}
}
