// Package cost estimates API spend for vision-model and embedding calls.
// Estimates are metrics-only and never gate execution.
package cost

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// DetailLevel selects image processing fidelity, which carries its own rate.
type DetailLevel string

const (
	DetailLow  DetailLevel = "low"
	DetailHigh DetailLevel = "high"
)

// Rates holds per-provider pricing configuration.
type Rates struct {
	Vision    map[string]ModelRate `yaml:"vision" mapstructure:"vision"`
	Embedding EmbeddingRate        `yaml:"embedding" mapstructure:"embedding"`
}

// ModelRate holds per-model pricing: token rates are USD per million tokens,
// image rates are USD per image at the given detail level.
type ModelRate struct {
	Input         float64 `yaml:"input" mapstructure:"input"`
	Output        float64 `yaml:"output" mapstructure:"output"`
	ImageLow      float64 `yaml:"image_low" mapstructure:"image_low"`
	ImageHigh     float64 `yaml:"image_high" mapstructure:"image_high"`
}

// EmbeddingRate holds embedding API pricing.
type EmbeddingRate struct {
	PerMTok float64 `yaml:"per_mtok" mapstructure:"per_mtok"`
}

// Calculator computes costs for API usage.
type Calculator struct {
	rates Rates
}

// NewCalculator creates a Calculator with the given rates.
func NewCalculator(rates Rates) *Calculator {
	return &Calculator{rates: rates}
}

// Extraction computes the estimated cost of one vision-model call:
// inputTokens*inputRate + outputTokens*outputRate + imageCount*imageRate(detail).
// Unknown models cost 0.
func (c *Calculator) Extraction(model string, input, output int64, imageCount int, detail DetailLevel) float64 {
	rate, ok := c.rates.Vision[model]
	if !ok {
		return 0
	}

	imageRate := rate.ImageLow
	if detail == DetailHigh {
		imageRate = rate.ImageHigh
	}

	inCost := (float64(input) / 1e6) * rate.Input
	outCost := (float64(output) / 1e6) * rate.Output
	imgCost := float64(imageCount) * imageRate

	return inCost + outCost + imgCost
}

// Embedding computes the cost for embedding token usage.
func (c *Calculator) Embedding(tokens int) float64 {
	return (float64(tokens) / 1e6) * c.rates.Embedding.PerMTok
}

// DefaultRates returns the default pricing table.
func DefaultRates() Rates {
	return Rates{
		Vision: map[string]ModelRate{
			"claude-sonnet-4-5-20250929": {
				Input: 3.00, Output: 15.00,
				ImageLow: 0.0012, ImageHigh: 0.0048,
			},
			"claude-haiku-4-5-20251001": {
				Input: 0.80, Output: 4.00,
				ImageLow: 0.0004, ImageHigh: 0.0016,
			},
		},
		Embedding: EmbeddingRate{PerMTok: 0.02},
	}
}

// LoadRates reads a pricing table from a YAML file, falling back to defaults
// for providers the file omits.
func LoadRates(path string) (Rates, error) {
	rates := DefaultRates()

	data, err := os.ReadFile(path)
	if err != nil {
		return rates, eris.Wrapf(err, "cost: read rates file %s", path)
	}

	var fileRates Rates
	if err := yaml.Unmarshal(data, &fileRates); err != nil {
		return rates, eris.Wrap(err, "cost: parse rates file")
	}

	if len(fileRates.Vision) > 0 {
		rates.Vision = fileRates.Vision
	}
	if fileRates.Embedding.PerMTok > 0 {
		rates.Embedding = fileRates.Embedding
	}
	return rates, nil
}
