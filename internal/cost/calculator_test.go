package cost

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtraction_KnownModel(t *testing.T) {
	calc := NewCalculator(Rates{
		Vision: map[string]ModelRate{
			"test-model": {Input: 3.00, Output: 15.00, ImageLow: 0.001, ImageHigh: 0.004},
		},
	})

	// 1M input + 1M output + 2 high-detail images.
	got := calc.Extraction("test-model", 1_000_000, 1_000_000, 2, DetailHigh)
	assert.InDelta(t, 3.00+15.00+0.008, got, 1e-9)
}

func TestExtraction_DetailLevelSelectsImageRate(t *testing.T) {
	calc := NewCalculator(Rates{
		Vision: map[string]ModelRate{
			"test-model": {ImageLow: 0.001, ImageHigh: 0.004},
		},
	})

	assert.InDelta(t, 0.003, calc.Extraction("test-model", 0, 0, 3, DetailLow), 1e-9)
	assert.InDelta(t, 0.012, calc.Extraction("test-model", 0, 0, 3, DetailHigh), 1e-9)
}

func TestExtraction_UnknownModelIsZero(t *testing.T) {
	calc := NewCalculator(DefaultRates())
	assert.Zero(t, calc.Extraction("no-such-model", 1000, 1000, 5, DetailHigh))
}

func TestEmbedding(t *testing.T) {
	calc := NewCalculator(Rates{Embedding: EmbeddingRate{PerMTok: 0.02}})
	assert.InDelta(t, 0.01, calc.Embedding(500_000), 1e-9)
}

func TestLoadRates_FileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rates.yaml")
	content := []byte(`
vision:
  custom-model:
    input: 1.0
    output: 2.0
    image_low: 0.0001
    image_high: 0.0002
embedding:
  per_mtok: 0.05
`)
	require.NoError(t, os.WriteFile(path, content, 0o644))

	rates, err := LoadRates(path)
	require.NoError(t, err)
	assert.Contains(t, rates.Vision, "custom-model")
	assert.InDelta(t, 0.05, rates.Embedding.PerMTok, 1e-9)
}

func TestLoadRates_MissingFileFallsBack(t *testing.T) {
	rates, err := LoadRates("/nonexistent/rates.yaml")
	assert.Error(t, err)
	assert.NotEmpty(t, rates.Vision)
}
