package config

import (
	"time"

	"github.com/hupe1980/agentgraph/model"
)

// Config is the complete runtime configuration of an agentgraph deployment.
type Config struct {
	Engine     EngineConfig     `mapstructure:"engine"`
	Model      ModelConfig      `mapstructure:"model"`
	Retrieval  RetrievalConfig  `mapstructure:"retrieval"`
	Checkpoint CheckpointConfig `mapstructure:"checkpoint"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// EngineConfig tunes superstep execution.
type EngineConfig struct {
	MaxParallelNodes int `mapstructure:"max_parallel_nodes" validate:"gte=0"`
	DefaultBudget    int `mapstructure:"default_budget" validate:"gte=0"`
}

// ModelConfig configures the model gateway and its providers. A provider is
// only registered when its API key is set.
type ModelConfig struct {
	OpenAI    ProviderConfig    `mapstructure:"openai"`
	Anthropic ProviderConfig    `mapstructure:"anthropic"`
	Retry     model.RetryConfig `mapstructure:"retry"`
	Rules     []model.Rule      `mapstructure:"rules" validate:"dive"`
}

// ProviderConfig holds the credentials and defaults of one provider.
type ProviderConfig struct {
	APIKey      string  `mapstructure:"api_key"`
	Model       string  `mapstructure:"model"`
	BaseURL     string  `mapstructure:"base_url" validate:"omitempty,url"`
	Temperature float64 `mapstructure:"temperature" validate:"gte=0,lte=2"`
	MaxTokens   int64   `mapstructure:"max_tokens" validate:"gte=0"`
}

// Enabled reports whether credentials are present.
func (p ProviderConfig) Enabled() bool { return p.APIKey != "" }

// RetrievalConfig configures the retrieval gateway.
type RetrievalConfig struct {
	TransientRetries int            `mapstructure:"transient_retries" validate:"gte=0"`
	RetryDelay       time.Duration  `mapstructure:"retry_delay" validate:"gte=0"`
	PGVector         PGVectorConfig `mapstructure:"pgvector"`
}

// PGVectorConfig configures an optional pgvector store. It is enabled when
// DSN is set and embeds queries with the OpenAI embedding model.
type PGVectorConfig struct {
	DSN            string `mapstructure:"dsn"`
	Store          string `mapstructure:"store" validate:"required_with=DSN"`
	Table          string `mapstructure:"table"`
	EmbeddingModel string `mapstructure:"embedding_model"`
}

// CheckpointConfig selects the snapshot backend.
type CheckpointConfig struct {
	Backend   string      `mapstructure:"backend" validate:"oneof=memory redis"`
	Retention int         `mapstructure:"retention" validate:"gte=0"`
	Redis     RedisConfig `mapstructure:"redis"`
}

// RedisConfig configures the Redis checkpoint backend.
type RedisConfig struct {
	Addr      string        `mapstructure:"addr"`
	Password  string        `mapstructure:"password"`
	DB        int           `mapstructure:"db" validate:"gte=0"`
	KeyPrefix string        `mapstructure:"key_prefix"`
	TTL       time.Duration `mapstructure:"ttl" validate:"gte=0"`
}

// LoggingConfig selects level, format and backend of the logger.
type LoggingConfig struct {
	Level   string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format  string `mapstructure:"format" validate:"oneof=json text console"`
	Backend string `mapstructure:"backend" validate:"oneof=slog zerolog"`
}
