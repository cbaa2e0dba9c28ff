package config

import (
	"context"
	"fmt"
	"io"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/hupe1980/agentgraph/checkpoint"
	"github.com/hupe1980/agentgraph/checkpoint/redisstore"
	"github.com/hupe1980/agentgraph/logging"
	"github.com/hupe1980/agentgraph/model"
	"github.com/hupe1980/agentgraph/model/anthropic"
	"github.com/hupe1980/agentgraph/model/openai"
	"github.com/hupe1980/agentgraph/retrieval"
	"github.com/hupe1980/agentgraph/retrieval/pgvector"
)

// Provider names used as model gateway keys.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// Logger builds the configured logger writing to out (stdout when nil).
func (c LoggingConfig) Logger(out io.Writer) logging.Logger {
	level := logging.ParseLevel(c.Level)
	if c.Backend == "zerolog" {
		return logging.NewZerologLogger(level, c.Format, out)
	}
	format := c.Format
	if format == "console" {
		format = "text"
	}
	return logging.NewLogger(&logging.LoggerConfig{Level: level, Format: format, Output: out})
}

// Providers returns the providers whose API key is set, keyed by name.
func (c ModelConfig) Providers() map[string]model.Model {
	providers := map[string]model.Model{}
	if p := c.OpenAI; p.Enabled() {
		providers[ProviderOpenAI] = openai.NewModel(func(o *openai.Options) {
			o.APIKey = p.APIKey
			o.BaseURL = p.BaseURL
			o.Temperature = p.Temperature
			o.MaxCompletionTokens = p.MaxTokens
			if p.Model != "" {
				o.Model = p.Model
			}
		})
	}
	if p := c.Anthropic; p.Enabled() {
		providers[ProviderAnthropic] = anthropic.NewModel(func(o *anthropic.Options) {
			o.APIKey = p.APIKey
			o.BaseURL = p.BaseURL
			o.Temperature = p.Temperature
			if p.MaxTokens > 0 {
				o.MaxTokens = p.MaxTokens
			}
			if p.Model != "" {
				o.Model = anthropicsdk.Model(p.Model)
			}
		})
	}
	return providers
}

// Gateway builds a model gateway over the enabled providers.
func (c ModelConfig) Gateway(logger logging.Logger) *model.Gateway {
	return model.NewGateway(func(o *model.GatewayOptions) {
		o.Providers = c.Providers()
		o.Rules = c.Rules
		o.Retry = c.Retry
		o.Logger = logger
	})
}

// Enabled reports whether a pgvector store is configured.
func (c PGVectorConfig) Enabled() bool { return c.DSN != "" }

// Stores opens the configured vector stores. Queries are embedded with the
// OpenAI embedding model, so the OpenAI key is required when pgvector is
// enabled. The returned close function releases the connection pool.
func (c *Config) Stores(ctx context.Context) ([]retrieval.Store, func(), error) {
	pg := c.Retrieval.PGVector
	if !pg.Enabled() {
		return nil, func() {}, nil
	}
	if !c.Model.OpenAI.Enabled() {
		return nil, nil, fmt.Errorf("config: pgvector store %q needs model.openai.api_key for embeddings", pg.Store)
	}

	pool, err := pgxpool.New(ctx, pg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("config: connect pgvector: %w", err)
	}
	embedder := openai.NewEmbedder(func(o *openai.EmbedderOptions) {
		o.APIKey = c.Model.OpenAI.APIKey
		o.BaseURL = c.Model.OpenAI.BaseURL
		if pg.EmbeddingModel != "" {
			o.Model = pg.EmbeddingModel
		}
	})

	var opts []pgvector.Option
	if pg.Table != "" {
		opts = append(opts, pgvector.WithTableName(pg.Table))
	}
	return []retrieval.Store{pgvector.New(pool, pg.Store, embedder, opts...)}, pool.Close, nil
}

// RetrievalGateway builds a retrieval gateway over stores.
func (c RetrievalConfig) RetrievalGateway(logger logging.Logger, stores ...retrieval.Store) (*retrieval.Gateway, error) {
	return retrieval.NewGateway(func(o *retrieval.GatewayOptions) {
		o.Stores = stores
		o.TransientRetries = c.TransientRetries
		o.RetryDelay = c.RetryDelay
		o.Logger = logger
	})
}

// Checkpoints builds the checkpoint manager for the configured backend. The
// returned close function releases the backend connection.
func (c CheckpointConfig) Checkpoints(ctx context.Context, logger logging.Logger) (*checkpoint.Manager, func() error, error) {
	var store checkpoint.Store
	closeFn := func() error { return nil }

	switch c.Backend {
	case "", "memory":
		store = checkpoint.NewMemoryStore()
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     c.Redis.Addr,
			Password: c.Redis.Password,
			DB:       c.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("config: connect redis %s: %w", c.Redis.Addr, err)
		}
		store = redisstore.New(client, func(o *redisstore.Options) {
			if c.Redis.KeyPrefix != "" {
				o.KeyPrefix = c.Redis.KeyPrefix
			}
			o.TTL = c.Redis.TTL
		})
		closeFn = client.Close
	default:
		return nil, nil, fmt.Errorf("config: unknown checkpoint backend %q", c.Backend)
	}

	return checkpoint.NewManager(func(o *checkpoint.Options) {
		o.Store = store
		o.Retention = c.Retention
		o.Logger = logger
	}), closeFn, nil
}
