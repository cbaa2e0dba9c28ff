package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/hupe1980/agentgraph/model"
)

// EnvPrefix prefixes every environment override, e.g.
// AGENTGRAPH_CHECKPOINT_BACKEND for checkpoint.backend.
const EnvPrefix = "AGENTGRAPH"

// aliases are additional environment names accepted for a key, checked after
// the prefixed name.
var aliases = map[string][]string{
	"model.openai.api_key":     {"OPENAI_API_KEY"},
	"model.openai.base_url":    {"OPENAI_BASE_URL"},
	"model.anthropic.api_key":  {"ANTHROPIC_API_KEY"},
	"model.anthropic.base_url": {"ANTHROPIC_BASE_URL"},
	"retrieval.pgvector.dsn":   {"DATABASE_URL"},
	"checkpoint.redis.addr":    {"REDIS_ADDR"},
}

// LoadOptions controls where Load looks for configuration.
type LoadOptions struct {
	// ConfigFile is a YAML file. Empty skips the file.
	ConfigFile string
	// EnvFile is a dotenv file. Its entries apply like environment
	// variables but never override variables that are already set. A
	// missing file is ignored.
	EnvFile string
	// LookupEnv reads the environment. Defaults to os.LookupEnv.
	LookupEnv func(key string) (string, bool)
}

// Load builds a Config from defaults, the YAML file, the dotenv file and the
// environment, in increasing order of precedence, and validates it.
func Load(optFns ...func(o *LoadOptions)) (*Config, error) {
	opts := LoadOptions{EnvFile: ".env", LookupEnv: os.LookupEnv}
	for _, fn := range optFns {
		fn(&opts)
	}

	v := viper.New()
	setDefaults(v)

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", opts.ConfigFile, err)
		}
	}

	dotenv, err := readEnvFile(opts.EnvFile)
	if err != nil {
		return nil, err
	}
	for _, key := range v.AllKeys() {
		if val, ok := lookup(key, opts.LookupEnv, dotenv); ok {
			v.Set(key, val)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration Load produces without file or
// environment input.
func Default() *Config {
	cfg, err := Load(func(o *LoadOptions) {
		o.EnvFile = ""
		o.LookupEnv = func(string) (string, bool) { return "", false }
	})
	if err != nil {
		panic(err)
	}
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("engine.max_parallel_nodes", 0)
	v.SetDefault("engine.default_budget", 25)

	for _, p := range []string{"openai", "anthropic"} {
		v.SetDefault("model."+p+".api_key", "")
		v.SetDefault("model."+p+".base_url", "")
		v.SetDefault("model."+p+".temperature", 0.7)
		v.SetDefault("model."+p+".max_tokens", 0)
	}
	v.SetDefault("model.openai.model", "gpt-4o-mini")
	v.SetDefault("model.anthropic.model", "claude-3-5-sonnet-20241022")
	v.SetDefault("model.retry.max_attempts", model.DefaultRetryConfig.MaxAttempts)
	v.SetDefault("model.retry.initial_interval", model.DefaultRetryConfig.InitialInterval)
	v.SetDefault("model.retry.max_interval", model.DefaultRetryConfig.MaxInterval)
	v.SetDefault("model.retry.multiplier", model.DefaultRetryConfig.Multiplier)
	v.SetDefault("model.retry.randomization_factor", model.DefaultRetryConfig.RandomizationFactor)

	v.SetDefault("retrieval.transient_retries", 1)
	v.SetDefault("retrieval.retry_delay", 50*time.Millisecond)
	v.SetDefault("retrieval.pgvector.dsn", "")
	v.SetDefault("retrieval.pgvector.store", "documents")
	v.SetDefault("retrieval.pgvector.table", "")
	v.SetDefault("retrieval.pgvector.embedding_model", "text-embedding-3-small")

	v.SetDefault("checkpoint.backend", "memory")
	v.SetDefault("checkpoint.retention", 0)
	v.SetDefault("checkpoint.redis.addr", "")
	v.SetDefault("checkpoint.redis.password", "")
	v.SetDefault("checkpoint.redis.db", 0)
	v.SetDefault("checkpoint.redis.key_prefix", "agentgraph")
	v.SetDefault("checkpoint.redis.ttl", time.Duration(0))

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.backend", "slog")
}

// envName maps a key such as checkpoint.redis.addr to
// AGENTGRAPH_CHECKPOINT_REDIS_ADDR.
func envName(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// lookup resolves key from the environment first and the dotenv entries
// second, trying the prefixed name before the aliases.
func lookup(key string, env func(string) (string, bool), dotenv map[string]string) (string, bool) {
	names := append([]string{envName(key)}, aliases[key]...)
	for _, n := range names {
		if val, ok := env(n); ok {
			return val, true
		}
	}
	for _, n := range names {
		if val, ok := dotenv[n]; ok {
			return val, true
		}
	}
	return "", false
}

func readEnvFile(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	values, err := godotenv.Read(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return values, nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("mapstructure"), ",", 2)[0]
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})
	return v
}

// ValidationError lists every invalid field by its configuration key.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "config: invalid " + strings.Join(parts, "; ")
}

// Validate checks the field constraints and the cross-section rules.
func (c *Config) Validate() error {
	fields := map[string]string{}
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("config: validate: %w", err)
		}
		for _, fe := range verrs {
			fields[fieldKey(fe.Namespace())] = describe(fe)
		}
	}
	if c.Checkpoint.Backend == "redis" && c.Checkpoint.Redis.Addr == "" {
		fields["checkpoint.redis.addr"] = "is required for the redis backend"
	}
	for i, r := range c.Model.Rules {
		if err := r.ValidatePattern(); err != nil {
			fields[fmt.Sprintf("model.rules[%d].pattern", i)] = err.Error()
		}
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

// fieldKey turns Config.checkpoint.backend into checkpoint.backend.
func fieldKey(namespace string) string {
	_, rest, found := strings.Cut(namespace, ".")
	if !found {
		return namespace
	}
	return rest
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_with":
		return "is required"
	case "oneof":
		return "must be one of [" + fe.Param() + "]"
	case "gte":
		return "must be >= " + fe.Param()
	case "lte":
		return "must be <= " + fe.Param()
	case "url":
		return "must be a valid URL"
	default:
		return "failed " + fe.Tag()
	}
}
