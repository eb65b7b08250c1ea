package rag

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/gridseal/compliance-cli/internal/model"
)

// Indexer feeds completed analyses and user corrections back into the
// knowledge store. Callers treat indexing failures as non-critical: the
// analysis the entry describes is never failed or rolled back because its
// summary could not be stored.
type Indexer struct {
	store KnowledgeStore
	embed Embedder
}

// NewIndexer creates an indexer over a knowledge store.
func NewIndexer(store KnowledgeStore, embed Embedder) *Indexer {
	return &Indexer{store: store, embed: embed}
}

// IndexAnalysis summarizes a completed analysis, embeds the summary, and
// persists it as an ANALYSIS_RESULT entry scoped to the owning tenant.
func (ix *Indexer) IndexAnalysis(ctx context.Context, a *model.Analysis) error {
	summary := SummarizeAnalysis(a)

	vec, _, err := ix.embed.Embed(ctx, summary)
	if err != nil {
		return eris.Wrap(err, "rag: embed analysis summary")
	}

	companyID := a.CompanyID
	analysisID := a.ID
	testType := a.TestType
	verdict := a.Verdict
	entry := &model.KnowledgeEmbedding{
		ID:          uuid.NewString(),
		CompanyID:   &companyID,
		AnalysisID:  &analysisID,
		ContentType: model.ContentAnalysisResult,
		TestType:    &testType,
		Verdict:     &verdict,
		Content:     summary,
		Embedding:   vec,
		Metadata: map[string]any{
			"score":            a.Score,
			"non_conformities": len(a.NonConformities),
		},
		WasCorrect: true,
		CreatedAt:  time.Now().UTC(),
	}
	if err := ix.store.InsertEmbedding(ctx, entry); err != nil {
		return eris.Wrap(err, "rag: persist analysis embedding")
	}

	zap.L().Info("analysis indexed",
		zap.String("analysis_id", a.ID),
		zap.String("verdict", string(a.Verdict)),
	)
	return nil
}

// IndexCorrection embeds a user correction as a MANUAL_CORRECTION entry and
// asynchronously marks the originating feedback record incorporated. The
// mark runs detached from the caller's context so a finished request cannot
// abort it.
func (ix *Indexer) IndexCorrection(ctx context.Context, fb model.Feedback, testType model.TestType) error {
	text := summarizeCorrection(fb)

	vec, _, err := ix.embed.Embed(ctx, text)
	if err != nil {
		return eris.Wrap(err, "rag: embed correction")
	}

	companyID := fb.CompanyID
	analysisID := fb.AnalysisID
	tt := testType
	entry := &model.KnowledgeEmbedding{
		ID:          uuid.NewString(),
		CompanyID:   &companyID,
		AnalysisID:  &analysisID,
		ContentType: model.ContentManualCorrection,
		TestType:    &tt,
		Content:     text,
		Embedding:   vec,
		Metadata:    map[string]any{"field": fb.Field},
		WasCorrect:  true,
		CreatedAt:   time.Now().UTC(),
	}
	if err := ix.store.InsertEmbedding(ctx, entry); err != nil {
		return eris.Wrap(err, "rag: persist correction embedding")
	}

	go func() {
		mctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := ix.store.MarkFeedbackIncorporated(mctx, fb.ID); err != nil {
			zap.L().Warn("mark feedback incorporated failed",
				zap.String("feedback_id", fb.ID),
				zap.Error(err),
			)
		}
	}()

	zap.L().Info("correction indexed",
		zap.String("analysis_id", fb.AnalysisID),
		zap.String("field", fb.Field),
	)
	return nil
}

// MarkCorrectness flips wasCorrect on the entries indexed for an analysis
// after a reviewer confirms or refutes the verdict.
func (ix *Indexer) MarkCorrectness(ctx context.Context, analysisID string, wasCorrect bool) error {
	if err := ix.store.SetEmbeddingCorrectness(ctx, analysisID, wasCorrect); err != nil {
		return eris.Wrap(err, "rag: update embedding correctness")
	}
	return nil
}

// SummarizeAnalysis renders the retrieval summary for a completed analysis:
// a test-type header, the extracted field highlights, and the non-conformity
// list or "none found".
func SummarizeAnalysis(a *model.Analysis) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s analysis, verdict %s (score %.0f).\n", a.TestType, a.Verdict, a.Score)

	if a.Extraction != nil && len(a.Extraction.Merged) > 0 {
		names := make([]string, 0, len(a.Extraction.Merged))
		for name, f := range a.Extraction.Merged {
			if f.Present() {
				names = append(names, name)
			}
		}
		sort.Strings(names)
		b.WriteString("Extracted fields:\n")
		for _, name := range names {
			fmt.Fprintf(&b, "- %s: %v\n", name, a.Extraction.Merged[name].Value)
		}
	}

	if len(a.NonConformities) == 0 {
		b.WriteString("Non-conformities: none found.\n")
	} else {
		b.WriteString("Non-conformities:\n")
		for _, nc := range a.NonConformities {
			fmt.Fprintf(&b, "- [%s] %s: %s\n", nc.Severity, nc.Code, nc.Description)
		}
	}
	return b.String()
}

func summarizeCorrection(fb model.Feedback) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Reviewer correction for field %s.\n", fb.Field)
	fmt.Fprintf(&b, "Extracted value: %s\n", fb.OriginalValue)
	fmt.Fprintf(&b, "Corrected value: %s\n", fb.CorrectedValue)
	if fb.Explanation != "" {
		fmt.Fprintf(&b, "Explanation: %s\n", fb.Explanation)
	}
	return b.String()
}
