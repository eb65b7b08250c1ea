// Package extract turns evidence images into normalized field extractions by
// driving a vision model through retry, model fallback, and a circuit
// breaker. Per-document-type behavior lives in DocumentExtractor
// implementations consumed by one generic driver.
package extract

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/gridseal/compliance-cli/internal/cost"
	"github.com/gridseal/compliance-cli/internal/model"
	"github.com/gridseal/compliance-cli/internal/resilience"
	"github.com/gridseal/compliance-cli/pkg/anthropic"
)

// Hints carries expected identification for targeted cross-checking; the
// prompts ask the model to verify rather than merely transcribe when set.
// Context is retrieval text from prior analyses and standards, injected
// verbatim into the user prompt.
type Hints struct {
	ExpectedTag    string
	ExpectedSerial string
	Context        string
}

// DocumentExtractor supplies the per-document-type pieces the driver needs:
// prompt templates and a tolerant response normalizer.
type DocumentExtractor interface {
	// DocumentType identifies the evidence kind this extractor handles.
	DocumentType() model.DocumentType
	// Source names the evidence source attached to every extracted field.
	Source() string
	// SystemPrompt returns the extraction system prompt.
	SystemPrompt() string
	// UserPrompt builds the user message text for one image.
	UserPrompt(hints Hints) string
	// Normalize parses the model's text output. It never fails: missing or
	// malformed fields become not-found entries.
	Normalize(text string) model.NormalizedExtraction
}

// Metrics describes one extraction call for observability. Cost is an
// estimate and never gates execution.
type Metrics struct {
	Model        string           `json:"model"`
	Attempts     int              `json:"attempts"`
	FallbackUsed bool             `json:"fallback_used"`
	Usage        model.TokenUsage `json:"usage"`
	CostUSD      float64          `json:"cost_usd"`
	Duration     time.Duration    `json:"duration"`
}

// Outcome is the result of one single-image extraction.
type Outcome struct {
	Source  string
	Fields  model.NormalizedExtraction
	Metrics Metrics
}

// Config tunes the extraction client.
type Config struct {
	// PrimaryModel is used until a rate-limit rejection is observed.
	PrimaryModel string
	// FallbackModel replaces the primary for the remaining retries after a
	// rate-limit rejection. Empty disables fallback.
	FallbackModel string
	MaxTokens     int64
	Detail        cost.DetailLevel
	Retry         resilience.RetryConfig
	Breaker       resilience.CircuitBreakerConfig
}

// DefaultConfig returns extraction client defaults.
func DefaultConfig() Config {
	return Config{
		PrimaryModel:  "claude-sonnet-4-5-20250929",
		FallbackModel: "claude-haiku-4-5-20251001",
		MaxTokens:     2048,
		Detail:        cost.DetailHigh,
		Retry:         resilience.DefaultRetryConfig(),
		Breaker:       resilience.DefaultCircuitBreakerConfig(),
	}
}

// Client is the resilient extraction client. Each instance owns its circuit
// breaker; batches sharing a client share its failure state.
type Client struct {
	ai      anthropic.Client
	cfg     Config
	breaker *resilience.CircuitBreaker
	costs   *cost.Calculator
}

// NewClient creates an extraction client around a vision-model client.
func NewClient(ai anthropic.Client, cfg Config, costs *cost.Calculator) *Client {
	if cfg.PrimaryModel == "" {
		cfg = DefaultConfig()
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 2048
	}
	if costs == nil {
		costs = cost.NewCalculator(cost.DefaultRates())
	}
	return &Client{
		ai:      ai,
		cfg:     cfg,
		breaker: resilience.NewCircuitBreaker(cfg.Breaker),
		costs:   costs,
	}
}

// Breaker exposes the client's circuit breaker for observability.
func (c *Client) Breaker() *resilience.CircuitBreaker {
	return c.breaker
}

// Extract runs one image through the extractor's prompts with retry,
// exponential backoff, rate-limit model fallback, and the circuit breaker.
func (c *Client) Extract(ctx context.Context, ext DocumentExtractor, doc model.DocumentInput, hints Hints) (*Outcome, error) {
	log := zap.L().With(
		zap.String("document_type", string(ext.DocumentType())),
		zap.String("source", ext.Source()),
	)

	start := time.Now()
	metrics := Metrics{Model: c.cfg.PrimaryModel}

	retryCfg := c.cfg.Retry
	retryCfg.OnRetry = func(attempt int, err error) {
		log.Warn("extraction retry",
			zap.Int("attempt", attempt),
			zap.String("model", metrics.Model),
			zap.Error(err),
		)
	}

	resp, err := resilience.DoVal(ctx, retryCfg, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		metrics.Attempts++
		log.Debug("extraction attempt",
			zap.Int("attempt", metrics.Attempts),
			zap.String("model", metrics.Model),
		)

		resp, callErr := resilience.ExecuteVal(ctx, c.breaker, func(ctx context.Context) (*anthropic.MessageResponse, error) {
			return c.ai.CreateMessage(ctx, anthropic.MessageRequest{
				Model:     metrics.Model,
				MaxTokens: c.cfg.MaxTokens,
				System:    []anthropic.SystemBlock{{Text: ext.SystemPrompt()}},
				Messages: []anthropic.Message{{
					Role: "user",
					Parts: []anthropic.ContentPart{
						anthropic.ImagePart(doc.MediaType, doc.Data),
						anthropic.TextPart(ext.UserPrompt(hints)),
					},
				}},
			})
		})
		if callErr != nil {
			// Rate limited: remaining retries use the cheaper fallback model.
			if resilience.IsRateLimited(callErr) && c.cfg.FallbackModel != "" && metrics.Model != c.cfg.FallbackModel {
				log.Warn("rate limited, switching to fallback model",
					zap.String("from", metrics.Model),
					zap.String("to", c.cfg.FallbackModel),
				)
				metrics.Model = c.cfg.FallbackModel
				metrics.FallbackUsed = true
			}
			return nil, callErr
		}
		return resp, nil
	})

	metrics.Duration = time.Since(start)

	if err != nil {
		log.Error("extraction failed",
			zap.Int("attempts", metrics.Attempts),
			zap.Bool("fallback_used", metrics.FallbackUsed),
			zap.Error(err),
		)
		return &Outcome{Source: ext.Source(), Metrics: metrics}, err
	}

	metrics.Usage = model.TokenUsage{
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
	}
	metrics.CostUSD = c.costs.Extraction(
		metrics.Model, metrics.Usage.InputTokens, metrics.Usage.OutputTokens, 1, c.cfg.Detail)

	fields := ext.Normalize(resp.Text())

	log.Info("extraction complete",
		zap.Int("attempts", metrics.Attempts),
		zap.Bool("fallback_used", metrics.FallbackUsed),
		zap.Int64("input_tokens", metrics.Usage.InputTokens),
		zap.Int64("output_tokens", metrics.Usage.OutputTokens),
		zap.Float64("cost_usd", metrics.CostUSD),
		zap.Int("fields", len(fields)),
	)

	return &Outcome{
		Source:  ext.Source(),
		Fields:  fields,
		Metrics: metrics,
	}, nil
}
