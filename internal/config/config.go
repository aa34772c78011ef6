// Package config loads process-wide configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all settings read once at startup.
type Config struct {
	ListenAddr string
	LogLevel   string

	Database DatabaseConfig
	Gmail    GmailConfig
	Bedrock  BedrockConfig
	Vector   VectorConfig
	RAG      RAGConfig
}

type DatabaseConfig struct {
	DSN string
}

type GmailConfig struct {
	ClientID     string
	ClientSecret string
}

type BedrockConfig struct {
	EmbedModelID      string
	LLMModelID        string
	MaxResponseTokens int
}

type VectorConfig struct {
	BucketName string
}

// RAGConfig carries the tunables of the retrieval and indexing engine.
type RAGConfig struct {
	ReindexInterval   time.Duration
	RetryDelay        time.Duration
	MaxRetries        int
	CacheTTL          time.Duration
	ChunkSize         int
	MaxContextTokens  int
	RateLimitCooldown time.Duration
	PollingInterval   time.Duration
}

// Load reads configuration from INBOXRAG_* environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr: env("INBOXRAG_LISTEN_ADDR", ":8080"),
		LogLevel:   env("INBOXRAG_LOG_LEVEL", "info"),
	}

	var err error
	if cfg.Database.DSN, err = mustGetEnv("INBOXRAG_DB_DSN"); err != nil {
		return nil, err
	}
	if cfg.Vector.BucketName, err = mustGetEnv("INBOXRAG_VECTOR_BUCKET"); err != nil {
		return nil, err
	}

	cfg.Gmail.ClientID = os.Getenv("INBOXRAG_GOOGLE_CLIENT_ID")
	cfg.Gmail.ClientSecret = os.Getenv("INBOXRAG_GOOGLE_CLIENT_SECRET")

	cfg.Bedrock.EmbedModelID = env("INBOXRAG_EMBED_MODEL_ID", "amazon.titan-embed-text-v2:0")
	cfg.Bedrock.LLMModelID = env("INBOXRAG_LLM_MODEL_ID", "anthropic.claude-haiku-4-5-20251001-v1:0")
	if cfg.Bedrock.MaxResponseTokens, err = envInt("INBOXRAG_MAX_RESPONSE_TOKENS", 1000); err != nil {
		return nil, err
	}

	if cfg.RAG.ReindexInterval, err = envSeconds("INBOXRAG_REINDEX_INTERVAL_SECONDS", 300); err != nil {
		return nil, err
	}
	if cfg.RAG.RetryDelay, err = envSeconds("INBOXRAG_RETRY_DELAY_SECONDS", 30); err != nil {
		return nil, err
	}
	if cfg.RAG.MaxRetries, err = envInt("INBOXRAG_MAX_RETRIES", 3); err != nil {
		return nil, err
	}
	if cfg.RAG.CacheTTL, err = envSeconds("INBOXRAG_CACHE_TTL_SECONDS", 300); err != nil {
		return nil, err
	}
	if cfg.RAG.ChunkSize, err = envInt("INBOXRAG_CHUNK_SIZE", 800); err != nil {
		return nil, err
	}
	if cfg.RAG.MaxContextTokens, err = envInt("INBOXRAG_MAX_CONTEXT_TOKENS", 4000); err != nil {
		return nil, err
	}
	if cfg.RAG.RateLimitCooldown, err = envSeconds("INBOXRAG_RATE_LIMIT_COOLDOWN_SECONDS", 7200); err != nil {
		return nil, err
	}
	if cfg.RAG.PollingInterval, err = envSeconds("INBOXRAG_POLLING_INTERVAL_SECONDS", 60); err != nil {
		return nil, err
	}

	return cfg, nil
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func mustGetEnv(key string) (string, error) {
	v := os.Getenv(key)
	if v == "" {
		return "", fmt.Errorf("missing required environment variable %s", key)
	}
	return v, nil
}

func envInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return parsed, nil
}

func envSeconds(key string, def int) (time.Duration, error) {
	n, err := envInt(key, def)
	if err != nil {
		return 0, err
	}
	return time.Duration(n) * time.Second, nil
}
