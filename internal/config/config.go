package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Store drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverHasura   = "hasura"
)

// Text providers.
const (
	ProviderOpenRouter = "openrouter"
	ProviderAzure      = "azure"
	ProviderAnthropic  = "anthropic"
)

// Validation modes, one per command.
const (
	ModeTranslate = "translate"
	ModeToggle    = "toggle"
	ModeEvaluate  = "evaluate"
	ModeServe     = "serve"
	ModeMigrate   = "migrate"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Hasura     HasuraConfig     `yaml:"hasura" mapstructure:"hasura"`
	OpenRouter OpenRouterConfig `yaml:"openrouter" mapstructure:"openrouter"`
	Azure      AzureConfig      `yaml:"azure" mapstructure:"azure"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Text       TextConfig       `yaml:"text" mapstructure:"text"`
	Batch      BatchConfig      `yaml:"batch" mapstructure:"batch"`
	Evaluate   EvaluateConfig   `yaml:"evaluate" mapstructure:"evaluate"`
	Auth       AuthConfig       `yaml:"auth" mapstructure:"auth"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the record store backend. DatabaseURL is a
// connection string for postgres and a file path for sqlite.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// HasuraConfig holds the GraphQL endpoint used by the hasura driver.
type HasuraConfig struct {
	URL         string `yaml:"url" mapstructure:"url"`
	AdminSecret string `yaml:"admin_secret" mapstructure:"admin_secret"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// OpenRouterConfig holds OpenRouter API settings.
type OpenRouterConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Model   string `yaml:"model" mapstructure:"model"`
}

// AzureConfig holds Azure OpenAI deployment settings.
type AzureConfig struct {
	Key        string `yaml:"key" mapstructure:"key"`
	Endpoint   string `yaml:"endpoint" mapstructure:"endpoint"`
	Deployment string `yaml:"deployment" mapstructure:"deployment"`
	APIVersion string `yaml:"api_version" mapstructure:"api_version"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key   string `yaml:"key" mapstructure:"key"`
	Model string `yaml:"model" mapstructure:"model"`
}

// TextConfig selects the provider per role and the call throttles.
// RateLimit and BreakerThreshold are off at zero.
type TextConfig struct {
	Translator          string  `yaml:"translator" mapstructure:"translator"`
	Evaluator           string  `yaml:"evaluator" mapstructure:"evaluator"`
	TimeoutSecs         int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RateLimit           float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
	RateBurst           int     `yaml:"rate_burst" mapstructure:"rate_burst"`
	BreakerThreshold    int     `yaml:"breaker_threshold" mapstructure:"breaker_threshold"`
	BreakerCooldownSecs int     `yaml:"breaker_cooldown_secs" mapstructure:"breaker_cooldown_secs"`
}

// Timeout returns the per-call timeout.
func (t TextConfig) Timeout() time.Duration {
	return time.Duration(t.TimeoutSecs) * time.Second
}

// BatchConfig configures the chunked per-item pipelines.
type BatchConfig struct {
	Size                 int `yaml:"size" mapstructure:"size"`
	TransformParallelism int `yaml:"transform_parallelism" mapstructure:"transform_parallelism"`
	WriteParallelism     int `yaml:"write_parallelism" mapstructure:"write_parallelism"`
	DelayMillis          int `yaml:"delay_millis" mapstructure:"delay_millis"`
	TranslateMaxTokens   int `yaml:"translate_max_tokens" mapstructure:"translate_max_tokens"`
}

// Delay returns the courtesy delay between windows.
func (b BatchConfig) Delay() time.Duration {
	return time.Duration(b.DelayMillis) * time.Millisecond
}

// EvaluateConfig configures the paginated call evaluation.
type EvaluateConfig struct {
	PageSize        int `yaml:"page_size" mapstructure:"page_size"`
	PageParallelism int `yaml:"page_parallelism" mapstructure:"page_parallelism"`
	MaxTokens       int `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// AuthConfig configures bearer-token validation on the HTTP surface.
type AuthConfig struct {
	Secret             string `yaml:"secret" mapstructure:"secret"`
	Role               string `yaml:"role" mapstructure:"role"`
	MaxTokenAgeMinutes int    `yaml:"max_token_age_minutes" mapstructure:"max_token_age_minutes"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("LLMBATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", DriverPostgres)
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("hasura.url", "")
	v.SetDefault("hasura.admin_secret", "")
	v.SetDefault("hasura.timeout_secs", 10)
	v.SetDefault("openrouter.key", "")
	v.SetDefault("openrouter.base_url", "https://openrouter.ai/api/v1")
	v.SetDefault("openrouter.model", "openai/gpt-4.1-nano")
	v.SetDefault("azure.key", "")
	v.SetDefault("azure.endpoint", "")
	v.SetDefault("azure.deployment", "")
	v.SetDefault("azure.api_version", "2025-01-01-preview")
	v.SetDefault("anthropic.key", "")
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("text.translator", ProviderOpenRouter)
	v.SetDefault("text.evaluator", ProviderAzure)
	v.SetDefault("text.timeout_secs", 30)
	v.SetDefault("text.rate_limit", 0)
	v.SetDefault("text.rate_burst", 1)
	v.SetDefault("text.breaker_threshold", 0)
	v.SetDefault("text.breaker_cooldown_secs", 30)
	v.SetDefault("batch.size", 100)
	v.SetDefault("batch.transform_parallelism", 15)
	v.SetDefault("batch.write_parallelism", 10)
	v.SetDefault("batch.delay_millis", 1000)
	v.SetDefault("batch.translate_max_tokens", 20)
	v.SetDefault("evaluate.page_size", 100)
	v.SetDefault("evaluate.page_parallelism", 4)
	v.SetDefault("evaluate.max_tokens", 256)
	v.SetDefault("auth.secret", "")
	v.SetDefault("auth.role", "user")
	v.SetDefault("auth.max_token_age_minutes", 1440)
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks that the keys the given mode needs are set and that the
// tuning values are in range.
func (c *Config) Validate(mode string) error {
	var errs []string
	require := func(key, val string) {
		if strings.TrimSpace(val) == "" {
			errs = append(errs, key+" is required")
		}
	}

	switch mode {
	case ModeTranslate, ModeToggle, ModeEvaluate, ModeServe, ModeMigrate:
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	switch c.Store.Driver {
	case DriverPostgres:
		require("store.database_url", c.Store.DatabaseURL)
	case DriverSQLite:
	case DriverHasura:
		if mode == ModeMigrate {
			errs = append(errs, "store.driver hasura has no migrations")
		}
		require("hasura.url", c.Hasura.URL)
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q is not one of postgres, sqlite, hasura", c.Store.Driver))
	}

	if mode == ModeTranslate || mode == ModeServe {
		errs = append(errs, c.providerErrors("text.translator", c.Text.Translator)...)
	}
	if mode == ModeEvaluate || mode == ModeServe {
		errs = append(errs, c.providerErrors("text.evaluator", c.Text.Evaluator)...)
	}
	if mode == ModeServe {
		require("auth.secret", c.Auth.Secret)
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
	}

	if c.Batch.Size < 1 {
		errs = append(errs, "batch.size must be >= 1")
	}
	if c.Batch.TransformParallelism < 1 || c.Batch.TransformParallelism > maxParallelism {
		errs = append(errs, fmt.Sprintf("batch.transform_parallelism must be between 1 and %d", maxParallelism))
	}
	if c.Batch.WriteParallelism < 1 || c.Batch.WriteParallelism > maxParallelism {
		errs = append(errs, fmt.Sprintf("batch.write_parallelism must be between 1 and %d", maxParallelism))
	}
	if c.Batch.DelayMillis < 0 {
		errs = append(errs, "batch.delay_millis must be >= 0")
	}
	if c.Evaluate.PageSize < 1 {
		errs = append(errs, "evaluate.page_size must be >= 1")
	}
	if c.Evaluate.PageParallelism < 1 || c.Evaluate.PageParallelism > maxParallelism {
		errs = append(errs, fmt.Sprintf("evaluate.page_parallelism must be between 1 and %d", maxParallelism))
	}
	if c.Text.TimeoutSecs < 1 {
		errs = append(errs, "text.timeout_secs must be >= 1")
	}
	if c.Text.RateLimit < 0 {
		errs = append(errs, "text.rate_limit must be >= 0")
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// maxParallelism caps every per-stage worker count.
const maxParallelism = 100

func (c *Config) providerErrors(key, provider string) []string {
	var errs []string
	require := func(k, val string) {
		if strings.TrimSpace(val) == "" {
			errs = append(errs, k+" is required")
		}
	}
	switch provider {
	case ProviderOpenRouter:
		require("openrouter.key", c.OpenRouter.Key)
	case ProviderAzure:
		require("azure.key", c.Azure.Key)
		require("azure.endpoint", c.Azure.Endpoint)
		require("azure.deployment", c.Azure.Deployment)
	case ProviderAnthropic:
		require("anthropic.key", c.Anthropic.Key)
	default:
		errs = append(errs, fmt.Sprintf("%s %q is not one of openrouter, azure, anthropic", key, provider))
	}
	return errs
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
