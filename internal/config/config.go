// Package config loads process configuration from the environment. A .env
// file is honored when present (development convenience), real environment
// variables win.
package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvLocal       Environment = "local"
	EnvProduction  Environment = "production"
)

type Config struct {
	DatabaseURL    string
	PoolerURL      string
	RedisURL       string
	JWTSecret      string
	LLMAPIKey      string
	LLMBaseURL     string
	LLMModel       string
	RerankAPIKey   string
	RerankModel    string
	RerankBaseURL  string
	EmbedAPIKey    string
	EmbedBaseURL   string
	EmbedModel     string
	QueryEngineURL string
	Environment    Environment
	WebhookToken   string
	OTLPEndpoint   string
	LogLevel       string
	LogPath        string
}

// Load reads configuration from the environment. DATABASE_URL is the only
// hard requirement; POOLER_URL falls back to it.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		PoolerURL:      os.Getenv("POOLER_URL"),
		RedisURL:       os.Getenv("REDIS_URL"),
		JWTSecret:      os.Getenv("JWT_SECRET"),
		LLMAPIKey:      os.Getenv("LLM_API_KEY"),
		LLMBaseURL:     os.Getenv("LLM_BASE_URL"),
		LLMModel:       os.Getenv("LLM_MODEL"),
		RerankAPIKey:   os.Getenv("RERANK_API_KEY"),
		RerankModel:    os.Getenv("RERANK_MODEL"),
		RerankBaseURL:  os.Getenv("RERANK_BASE_URL"),
		EmbedAPIKey:    os.Getenv("EMBEDDING_API_KEY"),
		EmbedBaseURL:   os.Getenv("EMBEDDING_BASE_URL"),
		EmbedModel:     os.Getenv("EMBEDDING_MODEL"),
		QueryEngineURL: os.Getenv("QUERY_ENGINE_URL"),
		Environment:    Environment(os.Getenv("ENVIRONMENT")),
		WebhookToken:   os.Getenv("BUSTER_WH_TOKEN"),
		OTLPEndpoint:   os.Getenv("OTLP_ENDPOINT"),
		LogLevel:       os.Getenv("LOG_LEVEL"),
		LogPath:        os.Getenv("LOG_PATH"),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.PoolerURL == "" {
		cfg.PoolerURL = cfg.DatabaseURL
	}
	if cfg.Environment == "" {
		cfg.Environment = EnvDevelopment
	}
	switch cfg.Environment {
	case EnvDevelopment, EnvLocal, EnvProduction:
	default:
		return nil, fmt.Errorf("ENVIRONMENT must be development, local, or production, got %q", cfg.Environment)
	}

	return cfg, nil
}

// PaymentGatingEnabled reports whether payment-required orgs are blocked.
// Only production enforces gating.
func (c *Config) PaymentGatingEnabled() bool {
	return c.Environment == EnvProduction
}
