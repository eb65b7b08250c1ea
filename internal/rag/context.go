package rag

import (
	"context"
	"fmt"
	"strings"

	"github.com/gridseal/compliance-cli/internal/model"
)

// BuilderConfig tunes context assembly. Fractions describe the cumulative
// share of the token budget each category may reach: analyses stop at
// AnalysisFraction, analyses plus corrections at CorrectionFraction, and
// everything together at the full budget.
type BuilderConfig struct {
	TokenBudget int

	AnalysisCap   int
	CorrectionCap int
	StandardCap   int

	AnalysisFloor   float64
	CorrectionFloor float64
	StandardFloor   float64

	AnalysisFraction   float64
	CorrectionFraction float64
}

// DefaultBuilderConfig returns the retrieval defaults. Corrections and
// standards are accepted at lower similarity than prior analyses because
// their value is instructive rather than evidentiary.
func DefaultBuilderConfig() BuilderConfig {
	return BuilderConfig{
		TokenBudget:        4000,
		AnalysisCap:        3,
		CorrectionCap:      2,
		StandardCap:        2,
		AnalysisFloor:      0.65,
		CorrectionFloor:    0.60,
		StandardFloor:      0.55,
		AnalysisFraction:   0.50,
		CorrectionFraction: 0.75,
	}
}

// Context is the assembled retrieval context for one analysis prompt.
type Context struct {
	SimilarAnalyses []SearchResult
	Corrections     []SearchResult
	Standards       []SearchResult
	TotalTokens     int
}

// Empty reports whether retrieval produced nothing usable.
func (c *Context) Empty() bool {
	return len(c.SimilarAnalyses) == 0 && len(c.Corrections) == 0 && len(c.Standards) == 0
}

// Render formats the context as prompt text, one section per category.
func (c *Context) Render() string {
	if c.Empty() {
		return ""
	}
	var b strings.Builder
	writeSection := func(header string, results []SearchResult) {
		if len(results) == 0 {
			return
		}
		fmt.Fprintf(&b, "## %s\n", header)
		for _, r := range results {
			b.WriteString(r.Entry.Content)
			b.WriteString("\n\n")
		}
	}
	writeSection("Similar prior analyses", c.SimilarAnalyses)
	writeSection("Corrections from reviewers", c.Corrections)
	writeSection("Standards and best practices", c.Standards)
	return strings.TrimRight(b.String(), "\n")
}

// Builder assembles token-budgeted retrieval context.
type Builder struct {
	searcher *Searcher
	embed    Embedder
	cfg      BuilderConfig
}

// NewBuilder creates a context builder.
func NewBuilder(searcher *Searcher, embed Embedder, cfg BuilderConfig) *Builder {
	if cfg.TokenBudget <= 0 {
		cfg = DefaultBuilderConfig()
	}
	return &Builder{searcher: searcher, embed: embed, cfg: cfg}
}

// BuildContext runs three category searches for the query and greedily packs
// results while the running token estimate stays inside each category's
// cumulative budget share. The query is embedded once and reused across
// categories.
func (b *Builder) BuildContext(ctx context.Context, query string, testType model.TestType, companyID string) (*Context, error) {
	vec, _, err := b.embed.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	out := &Context{}
	tt := testType

	analyses, err := b.searcher.searchVector(ctx, vec, model.EmbeddingFilter{
		CompanyID:    companyID,
		ContentTypes: []model.ContentType{model.ContentAnalysisResult},
		TestType:     &tt,
	}, b.cfg.AnalysisFloor, b.cfg.AnalysisCap)
	if err != nil {
		return nil, err
	}
	out.SimilarAnalyses = b.pack(analyses, &out.TotalTokens, b.cfg.AnalysisFraction)

	corrections, err := b.searcher.searchVector(ctx, vec, model.EmbeddingFilter{
		CompanyID:    companyID,
		ContentTypes: []model.ContentType{model.ContentManualCorrection},
		TestType:     &tt,
	}, b.cfg.CorrectionFloor, b.cfg.CorrectionCap)
	if err != nil {
		return nil, err
	}
	out.Corrections = b.pack(corrections, &out.TotalTokens, b.cfg.CorrectionFraction)

	standards, err := b.searcher.searchVector(ctx, vec, model.EmbeddingFilter{
		CompanyID:    companyID,
		ContentTypes: []model.ContentType{model.ContentTechnicalStandard, model.ContentBestPractice},
		TestType:     &tt,
	}, b.cfg.StandardFloor, b.cfg.StandardCap)
	if err != nil {
		return nil, err
	}
	out.Standards = b.pack(standards, &out.TotalTokens, 1.0)

	return out, nil
}

// pack appends results while the running total stays at or below the given
// cumulative fraction of the budget. Results that would cross the line are
// dropped along with everything after them.
func (b *Builder) pack(results []SearchResult, total *int, fraction float64) []SearchResult {
	ceiling := int(float64(b.cfg.TokenBudget) * fraction)
	var kept []SearchResult
	for _, r := range results {
		tokens := EstimateTokens(r.Entry.Content)
		if *total+tokens > ceiling {
			break
		}
		*total += tokens
		kept = append(kept, r)
	}
	return kept
}
