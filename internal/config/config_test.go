package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	// Change to temp dir so no config.yaml is found
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, int32(10), cfg.Store.MaxConns)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 10, cfg.Hasura.TimeoutSecs)
	assert.Equal(t, "https://openrouter.ai/api/v1", cfg.OpenRouter.BaseURL)
	assert.Equal(t, "openai/gpt-4.1-nano", cfg.OpenRouter.Model)
	assert.Equal(t, "openrouter", cfg.Text.Translator)
	assert.Equal(t, "azure", cfg.Text.Evaluator)
	assert.Equal(t, 30*time.Second, cfg.Text.Timeout())
	assert.Zero(t, cfg.Text.RateLimit)
	assert.Zero(t, cfg.Text.BreakerThreshold)
	assert.Equal(t, 100, cfg.Batch.Size)
	assert.Equal(t, 15, cfg.Batch.TransformParallelism)
	assert.Equal(t, 10, cfg.Batch.WriteParallelism)
	assert.Equal(t, time.Second, cfg.Batch.Delay())
	assert.Equal(t, 20, cfg.Batch.TranslateMaxTokens)
	assert.Equal(t, 100, cfg.Evaluate.PageSize)
	assert.Equal(t, 4, cfg.Evaluate.PageParallelism)
	assert.Equal(t, 256, cfg.Evaluate.MaxTokens)
	assert.Equal(t, "user", cfg.Auth.Role)
	assert.Equal(t, 1440, cfg.Auth.MaxTokenAgeMinutes)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
  database_url: ./local.db
log:
  level: debug
  format: console
batch:
  size: 50
  delay_millis: 0
text:
  evaluator: anthropic
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "./local.db", cfg.Store.DatabaseURL)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 50, cfg.Batch.Size)
	assert.Zero(t, cfg.Batch.Delay())
	assert.Equal(t, "anthropic", cfg.Text.Evaluator)
	// Defaults still apply for unset values
	assert.Equal(t, 15, cfg.Batch.TransformParallelism)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("LLMBATCH_STORE_DRIVER", "hasura")
	t.Setenv("LLMBATCH_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "hasura", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	chdirTemp(t)

	t.Setenv("LLMBATCH_SERVER_PORT", "3000")
	t.Setenv("LLMBATCH_HASURA_ADMIN_SECRET", "s3cret")
	t.Setenv("LLMBATCH_TEXT_RATE_LIMIT", "2.5")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, "s3cret", cfg.Hasura.AdminSecret)
	assert.InDelta(t, 2.5, cfg.Text.RateLimit, 0.001)
}

func TestLoadInvalidFile(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("store: [unclosed"), 0644))

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config: read file")
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config with all defaults populated for validation tests.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Store.Driver = DriverPostgres
	cfg.Store.DatabaseURL = "postgres://localhost/test"
	cfg.Text.Translator = ProviderOpenRouter
	cfg.Text.Evaluator = ProviderAzure
	cfg.Text.TimeoutSecs = 30
	cfg.Batch.Size = 100
	cfg.Batch.TransformParallelism = 15
	cfg.Batch.WriteParallelism = 10
	cfg.Batch.DelayMillis = 1000
	cfg.Evaluate.PageSize = 100
	cfg.Evaluate.PageParallelism = 4
	cfg.Server.Port = 8080
	return cfg
}

func TestValidateToggle(t *testing.T) {
	cfg := validDefaults()
	assert.NoError(t, cfg.Validate(ModeToggle))
}

func TestValidateTranslate_MissingKey(t *testing.T) {
	cfg := validDefaults()

	err := cfg.Validate(ModeTranslate)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "openrouter.key is required")

	cfg.OpenRouter.Key = "sk-or"
	assert.NoError(t, cfg.Validate(ModeTranslate))
}

func TestValidateEvaluate_Azure(t *testing.T) {
	cfg := validDefaults()

	err := cfg.Validate(ModeEvaluate)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "azure.key is required")
	assert.Contains(t, err.Error(), "azure.endpoint is required")
	assert.Contains(t, err.Error(), "azure.deployment is required")
	assert.NotContains(t, err.Error(), "openrouter.key")

	cfg.Azure.Key = "k"
	cfg.Azure.Endpoint = "https://example.openai.azure.com"
	cfg.Azure.Deployment = "gpt-4.1"
	assert.NoError(t, cfg.Validate(ModeEvaluate))
}

func TestValidateEvaluate_Anthropic(t *testing.T) {
	cfg := validDefaults()
	cfg.Text.Evaluator = ProviderAnthropic

	err := cfg.Validate(ModeEvaluate)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "anthropic.key is required")
}

func TestValidateServe(t *testing.T) {
	cfg := validDefaults()
	cfg.OpenRouter.Key = "sk-or"
	cfg.Azure.Key = "k"
	cfg.Azure.Endpoint = "https://example.openai.azure.com"
	cfg.Azure.Deployment = "gpt-4.1"

	err := cfg.Validate(ModeServe)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "auth.secret is required")

	cfg.Auth.Secret = "jwt-secret"
	assert.NoError(t, cfg.Validate(ModeServe))

	cfg.Server.Port = 0
	err = cfg.Validate(ModeServe)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port must be > 0")
}

func TestValidateStoreDrivers(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.DatabaseURL = ""

	err := cfg.Validate(ModeMigrate)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url is required")

	cfg.Store.Driver = DriverSQLite
	assert.NoError(t, cfg.Validate(ModeMigrate), "sqlite falls back to a local file")

	cfg.Store.Driver = DriverHasura
	err = cfg.Validate(ModeToggle)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hasura.url is required")

	cfg.Hasura.URL = "https://hasura.example.com/v1/graphql"
	assert.NoError(t, cfg.Validate(ModeToggle))

	err = cfg.Validate(ModeMigrate)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no migrations")

	cfg.Store.Driver = "mysql"
	err = cfg.Validate(ModeToggle)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `store.driver "mysql"`)
}

func TestValidateUnknownProvider(t *testing.T) {
	cfg := validDefaults()
	cfg.Text.Translator = "gemini"

	err := cfg.Validate(ModeTranslate)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `text.translator "gemini"`)
}

func TestValidateUnknownMode(t *testing.T) {
	cfg := validDefaults()
	err := cfg.Validate("unknown")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}

func TestValidateParallelismBounds(t *testing.T) {
	cfg := validDefaults()

	cfg.Batch.TransformParallelism = 0
	err := cfg.Validate(ModeToggle)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "batch.transform_parallelism must be between 1 and 100")

	cfg.Batch.TransformParallelism = 101
	assert.Error(t, cfg.Validate(ModeToggle))

	cfg.Batch.TransformParallelism = 100
	cfg.Evaluate.PageParallelism = 0
	err = cfg.Validate(ModeToggle)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "evaluate.page_parallelism")

	cfg.Evaluate.PageParallelism = 4
	cfg.Batch.Size = 0
	err = cfg.Validate(ModeToggle)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "batch.size must be >= 1")

	cfg.Batch.Size = 100
	cfg.Batch.DelayMillis = -1
	assert.Error(t, cfg.Validate(ModeToggle))

	cfg.Batch.DelayMillis = 0
	assert.NoError(t, cfg.Validate(ModeToggle))
}
