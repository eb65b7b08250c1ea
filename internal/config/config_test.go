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

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "gridseal.db", cfg.Store.DatabaseURL)
	assert.Equal(t, int32(10), cfg.Store.Pool.MaxConns)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "claude-sonnet-4-5-20250929", cfg.Anthropic.SonnetModel)
	assert.Equal(t, "claude-haiku-4-5-20251001", cfg.Anthropic.HaikuModel)
	assert.Equal(t, int64(2048), cfg.Anthropic.MaxTokens)
	assert.Equal(t, "high", cfg.Anthropic.ImageDetail)
	assert.Equal(t, "https://api.jina.ai/v1/embeddings", cfg.Jina.BaseURL)
	assert.Equal(t, "jina-embeddings-v3", cfg.Jina.Model)
	assert.Equal(t, 3, cfg.Extract.Concurrency)
	assert.Equal(t, 3, cfg.Extract.MaxAttempts)
	assert.Equal(t, 1000, cfg.Extract.InitialBackoffMS)
	assert.Equal(t, 5, cfg.Extract.FailureThreshold)
	assert.Equal(t, 60, cfg.Extract.ResetWindowSecs)
	assert.True(t, cfg.Retrieval.Enabled)
	assert.Equal(t, 4000, cfg.Retrieval.TokenBudget)
	assert.Equal(t, 3, cfg.Retrieval.AnalysisCap)
	assert.Equal(t, 2, cfg.Retrieval.CorrectionCap)
	assert.Equal(t, 2, cfg.Retrieval.StandardCap)
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/gridseal
log:
  level: debug
  format: console
extract:
  concurrency: 5
retrieval:
  token_budget: 6000
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "postgres://localhost/gridseal", cfg.Store.DatabaseURL)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 5, cfg.Extract.Concurrency)
	assert.Equal(t, 6000, cfg.Retrieval.TokenBudget)
	// Defaults still apply for unset values
	assert.Equal(t, 3, cfg.Extract.MaxAttempts)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
store:
  driver: postgres
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("GRIDSEAL_STORE_DRIVER", "sqlite")
	t.Setenv("GRIDSEAL_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	t.Setenv("GRIDSEAL_ANTHROPIC_KEY", "sk-ant-test")
	t.Setenv("GRIDSEAL_EXTRACT_CONCURRENCY", "8")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "sk-ant-test", cfg.Anthropic.Key)
	assert.Equal(t, 8, cfg.Extract.Concurrency)
}

// validDefaults returns a Config with the fields validation inspects.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Store.Driver = "sqlite"
	cfg.Store.DatabaseURL = "gridseal.db"
	return cfg
}

func TestValidateStoreMode(t *testing.T) {
	assert.NoError(t, validDefaults().Validate("store"))

	cfg := validDefaults()
	cfg.Store.Driver = "mysql"
	err := cfg.Validate("store")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "store.driver must be postgres or sqlite")

	cfg = validDefaults()
	cfg.Store.DatabaseURL = ""
	err = cfg.Validate("store")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url is required")
}

func TestValidateAnalyzeMode(t *testing.T) {
	cfg := validDefaults()
	err := cfg.Validate("analyze")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "anthropic.key is required")
	assert.Contains(t, err.Error(), "jina.key is required when retrieval is enabled")

	cfg.Anthropic.Key = "sk-ant-key"
	cfg.Jina.Key = "jina-key"
	cfg.Retrieval.Enabled = true
	assert.NoError(t, cfg.Validate("analyze"))

	// Retrieval disabled removes the embeddings requirement.
	cfg.Jina.Key = ""
	cfg.Retrieval.Enabled = false
	assert.NoError(t, cfg.Validate("analyze"))
}

func TestValidateKnowledgeMode(t *testing.T) {
	cfg := validDefaults()
	err := cfg.Validate("knowledge")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "jina.key is required")

	cfg.Jina.Key = "jina-key"
	assert.NoError(t, cfg.Validate("knowledge"))
}

func TestValidateUnknownMode(t *testing.T) {
	err := validDefaults().Validate("unknown")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}

func TestExtractClientConfig(t *testing.T) {
	cfg := validDefaults()
	cfg.Anthropic.SonnetModel = "claude-sonnet-4-5-20250929"
	cfg.Anthropic.HaikuModel = "claude-haiku-4-5-20251001"
	cfg.Anthropic.MaxTokens = 1024
	cfg.Anthropic.ImageDetail = "low"
	cfg.Extract.MaxAttempts = 4
	cfg.Extract.InitialBackoffMS = 500
	cfg.Extract.MaxBackoffMS = 8000
	cfg.Extract.FailureThreshold = 7
	cfg.Extract.ResetWindowSecs = 30

	ec := cfg.ExtractClientConfig()
	assert.Equal(t, "claude-sonnet-4-5-20250929", ec.PrimaryModel)
	assert.Equal(t, "claude-haiku-4-5-20251001", ec.FallbackModel)
	assert.Equal(t, int64(1024), ec.MaxTokens)
	assert.Equal(t, 4, ec.Retry.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, ec.Retry.InitialBackoff)
	assert.Equal(t, 8*time.Second, ec.Retry.MaxBackoff)
	assert.Equal(t, 7, ec.Breaker.FailureThreshold)
	assert.Equal(t, 30*time.Second, ec.Breaker.ResetWindow)
}

func TestBuilderConfigKeepsLibraryFloors(t *testing.T) {
	cfg := validDefaults()
	cfg.Retrieval.TokenBudget = 8000
	cfg.Retrieval.AnalysisCap = 5

	bc := cfg.BuilderConfig()
	assert.Equal(t, 8000, bc.TokenBudget)
	assert.Equal(t, 5, bc.AnalysisCap)
	assert.InDelta(t, 0.65, bc.AnalysisFloor, 0.001)
	assert.InDelta(t, 0.50, bc.AnalysisFraction, 0.001)
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
