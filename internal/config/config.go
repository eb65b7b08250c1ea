package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/gridseal/compliance-cli/internal/cost"
	"github.com/gridseal/compliance-cli/internal/extract"
	"github.com/gridseal/compliance-cli/internal/rag"
	"github.com/gridseal/compliance-cli/internal/resilience"
	"github.com/gridseal/compliance-cli/internal/store"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Jina      JinaConfig      `yaml:"jina" mapstructure:"jina"`
	Extract   ExtractConfig   `yaml:"extract" mapstructure:"extract"`
	Retrieval RetrievalConfig `yaml:"retrieval" mapstructure:"retrieval"`
	Pricing   PricingConfig   `yaml:"pricing" mapstructure:"pricing"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string           `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string           `yaml:"database_url" mapstructure:"database_url"`
	Pool        store.PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key           string `yaml:"key" mapstructure:"key"`
	SonnetModel   string `yaml:"sonnet_model" mapstructure:"sonnet_model"`
	HaikuModel    string `yaml:"haiku_model" mapstructure:"haiku_model"`
	MaxTokens     int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
	ImageDetail   string `yaml:"image_detail" mapstructure:"image_detail"`
	RatesFilePath string `yaml:"rates_file" mapstructure:"rates_file"`
}

// JinaConfig holds Jina embeddings API settings.
type JinaConfig struct {
	Key          string  `yaml:"key" mapstructure:"key"`
	BaseURL      string  `yaml:"base_url" mapstructure:"base_url"`
	Model        string  `yaml:"model" mapstructure:"model"`
	RateLimitRPS float64 `yaml:"rate_limit_rps" mapstructure:"rate_limit_rps"`
}

// ExtractConfig tunes extraction resilience and parallelism.
type ExtractConfig struct {
	Concurrency      int `yaml:"concurrency" mapstructure:"concurrency"`
	MaxAttempts      int `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMS int `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMS     int `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetWindowSecs  int `yaml:"reset_window_secs" mapstructure:"reset_window_secs"`
}

// RetrievalConfig tunes knowledge retrieval context assembly.
type RetrievalConfig struct {
	Enabled       bool `yaml:"enabled" mapstructure:"enabled"`
	TokenBudget   int  `yaml:"token_budget" mapstructure:"token_budget"`
	AnalysisCap   int  `yaml:"analysis_cap" mapstructure:"analysis_cap"`
	CorrectionCap int  `yaml:"correction_cap" mapstructure:"correction_cap"`
	StandardCap   int  `yaml:"standard_cap" mapstructure:"standard_cap"`
}

// PricingConfig selects where the cost calculator's rate table comes from.
// When File is empty the built-in defaults apply.
type PricingConfig struct {
	File string `yaml:"file" mapstructure:"file"`
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
	v.SetEnvPrefix("GRIDSEAL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "gridseal.db")
	v.SetDefault("store.pool.max_conns", 10)
	v.SetDefault("store.pool.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("anthropic.sonnet_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.haiku_model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 2048)
	v.SetDefault("anthropic.image_detail", "high")
	v.SetDefault("jina.base_url", "https://api.jina.ai/v1/embeddings")
	v.SetDefault("jina.model", "jina-embeddings-v3")
	v.SetDefault("jina.rate_limit_rps", 10)
	v.SetDefault("extract.concurrency", 3)
	v.SetDefault("extract.max_attempts", 3)
	v.SetDefault("extract.initial_backoff_ms", 1000)
	v.SetDefault("extract.max_backoff_ms", 10000)
	v.SetDefault("extract.failure_threshold", 5)
	v.SetDefault("extract.reset_window_secs", 60)
	v.SetDefault("retrieval.enabled", true)
	v.SetDefault("retrieval.token_budget", 4000)
	v.SetDefault("retrieval.analysis_cap", 3)
	v.SetDefault("retrieval.correction_cap", 2)
	v.SetDefault("retrieval.standard_cap", 2)

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

// Validate checks the configuration for a given command mode.
func (c *Config) Validate(mode string) error {
	var missing []string

	switch c.Store.Driver {
	case "postgres", "sqlite":
	default:
		missing = append(missing, "store.driver must be postgres or sqlite")
	}
	if c.Store.DatabaseURL == "" {
		missing = append(missing, "store.database_url is required")
	}

	switch mode {
	case "store":
	case "analyze":
		if c.Anthropic.Key == "" {
			missing = append(missing, "anthropic.key is required")
		}
		if c.Retrieval.Enabled && c.Jina.Key == "" {
			missing = append(missing, "jina.key is required when retrieval is enabled")
		}
	case "knowledge":
		if c.Jina.Key == "" {
			missing = append(missing, "jina.key is required")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(missing) > 0 {
		return eris.Errorf("config: invalid configuration: %s", strings.Join(missing, "; "))
	}
	return nil
}

// ExtractClientConfig converts the extraction settings to the client's
// config type.
func (c *Config) ExtractClientConfig() extract.Config {
	detail := cost.DetailHigh
	if c.Anthropic.ImageDetail == string(cost.DetailLow) {
		detail = cost.DetailLow
	}
	return extract.Config{
		PrimaryModel:  c.Anthropic.SonnetModel,
		FallbackModel: c.Anthropic.HaikuModel,
		MaxTokens:     c.Anthropic.MaxTokens,
		Detail:        detail,
		Retry: resilience.RetryConfig{
			MaxAttempts:    c.Extract.MaxAttempts,
			InitialBackoff: time.Duration(c.Extract.InitialBackoffMS) * time.Millisecond,
			MaxBackoff:     time.Duration(c.Extract.MaxBackoffMS) * time.Millisecond,
			Multiplier:     2.0,
		},
		Breaker: resilience.CircuitBreakerConfig{
			FailureThreshold: c.Extract.FailureThreshold,
			ResetWindow:      time.Duration(c.Extract.ResetWindowSecs) * time.Second,
		},
	}
}

// BuilderConfig converts the retrieval settings to the context builder's
// config type. Floors and budget fractions keep their library defaults.
func (c *Config) BuilderConfig() rag.BuilderConfig {
	cfg := rag.DefaultBuilderConfig()
	if c.Retrieval.TokenBudget > 0 {
		cfg.TokenBudget = c.Retrieval.TokenBudget
	}
	if c.Retrieval.AnalysisCap > 0 {
		cfg.AnalysisCap = c.Retrieval.AnalysisCap
	}
	if c.Retrieval.CorrectionCap > 0 {
		cfg.CorrectionCap = c.Retrieval.CorrectionCap
	}
	if c.Retrieval.StandardCap > 0 {
		cfg.StandardCap = c.Retrieval.StandardCap
	}
	return cfg
}

// Rates loads the pricing table, falling back to built-in defaults when no
// rates file is configured.
func (c *Config) Rates() (cost.Rates, error) {
	if c.Pricing.File == "" {
		return cost.DefaultRates(), nil
	}
	return cost.LoadRates(c.Pricing.File)
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
