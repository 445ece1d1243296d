// Package config loads shopgraph configuration from YAML with environment
// variable fallbacks for secrets.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	// Server configuration
	Server ServerConfig `yaml:"server"`

	// LLM backend configuration
	LLM LLMConfig `yaml:"llm"`

	// Embeddings configuration
	Embeddings EmbeddingsConfig `yaml:"embeddings"`

	// Retrieval configuration
	Retrieval RetrievalConfig `yaml:"retrieval"`

	// Session store configuration
	Session SessionConfig `yaml:"session"`

	// Observability configuration
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`
	RateLimitPerSec float64       `yaml:"rate_limit_per_sec"`
	RateLimitBurst  int           `yaml:"rate_limit_burst"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LLMConfig holds LLM backend settings.
type LLMConfig struct {
	APIKey      string        `yaml:"api_key"`
	BaseURL     string        `yaml:"base_url"`
	Model       string        `yaml:"model"`
	Temperature float32       `yaml:"temperature"`
	MaxTokens   int           `yaml:"max_tokens"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxRetries  int           `yaml:"max_retries"`
}

// EmbeddingsConfig holds embedding service settings.
type EmbeddingsConfig struct {
	// Provider selects the embedding backend: "openai" or "local".
	Provider   string `yaml:"provider"`
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
}

// RetrievalConfig holds context retriever settings.
type RetrievalConfig struct {
	TopK             int           `yaml:"top_k"`
	MaxRetries       int           `yaml:"max_retries"`
	RetryBackoff     time.Duration `yaml:"retry_backoff"`
	FailureThreshold int           `yaml:"failure_threshold"`
	CooldownPeriod   time.Duration `yaml:"cooldown_period"`
	HighRelevance    float64       `yaml:"high_relevance"`
}

// SessionConfig holds session store settings.
type SessionConfig struct {
	RedisAddr       string        `yaml:"redis_addr"`
	RedisPassword   string        `yaml:"redis_password"`
	RedisDB         int           `yaml:"redis_db"`
	PoolSize        int           `yaml:"pool_size"`
	SessionTTL      time.Duration `yaml:"session_ttl"`
	ConversationTTL time.Duration `yaml:"conversation_ttl"`
	ReapSchedule    string        `yaml:"reap_schedule"`
}

// ObservabilityConfig holds tracing settings.
type ObservabilityConfig struct {
	ServiceName  string `yaml:"service_name"`
	ExporterType string `yaml:"exporter_type"` // "otlp", "stdout", or "none"
	OTLPEndpoint string `yaml:"otlp_endpoint"`
}

// Load loads configuration from a YAML file.
// A missing file is not an error: defaults plus environment variables apply.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.applyDefaults()
	cfg.applyEnv()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.MaxBodyBytes == 0 {
		c.Server.MaxBodyBytes = 1 << 20 // 1 MiB
	}
	if c.Server.RateLimitPerSec == 0 {
		c.Server.RateLimitPerSec = 20
	}
	if c.Server.RateLimitBurst == 0 {
		c.Server.RateLimitBurst = 40
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 30 * time.Second
	}

	if c.LLM.Model == "" {
		c.LLM.Model = "gpt-4o-mini"
	}
	if c.LLM.MaxTokens == 0 {
		c.LLM.MaxTokens = 1024
	}
	if c.LLM.Timeout == 0 {
		c.LLM.Timeout = 30 * time.Second
	}
	if c.LLM.MaxRetries == 0 {
		c.LLM.MaxRetries = 3
	}

	if c.Embeddings.Provider == "" {
		c.Embeddings.Provider = "openai"
	}
	if c.Embeddings.Model == "" {
		c.Embeddings.Model = "text-embedding-3-small"
	}
	if c.Embeddings.Dimensions == 0 {
		c.Embeddings.Dimensions = 1536
	}

	if c.Retrieval.TopK == 0 {
		c.Retrieval.TopK = 5
	}
	if c.Retrieval.MaxRetries == 0 {
		c.Retrieval.MaxRetries = 3
	}
	if c.Retrieval.RetryBackoff == 0 {
		c.Retrieval.RetryBackoff = 200 * time.Millisecond
	}
	if c.Retrieval.FailureThreshold == 0 {
		c.Retrieval.FailureThreshold = 5
	}
	if c.Retrieval.CooldownPeriod == 0 {
		c.Retrieval.CooldownPeriod = 30 * time.Second
	}
	if c.Retrieval.HighRelevance == 0 {
		c.Retrieval.HighRelevance = 0.8
	}

	if c.Session.RedisAddr == "" {
		c.Session.RedisAddr = "localhost:6379"
	}
	if c.Session.PoolSize == 0 {
		c.Session.PoolSize = 10
	}
	if c.Session.SessionTTL == 0 {
		c.Session.SessionTTL = 24 * time.Hour
	}
	if c.Session.ConversationTTL == 0 {
		c.Session.ConversationTTL = 2 * time.Hour
	}
	if c.Session.ReapSchedule == "" {
		c.Session.ReapSchedule = "@every 15m"
	}

	if c.Observability.ServiceName == "" {
		c.Observability.ServiceName = "shopgraph"
	}
	if c.Observability.ExporterType == "" {
		c.Observability.ExporterType = "none"
	}
}

func (c *Config) applyEnv() {
	if c.LLM.APIKey == "" {
		c.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Session.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Session.RedisPassword = v
	}
	if v := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		c.Observability.OTLPEndpoint = v
	}
}
