// Package rag retrieves prior analyses, manual corrections, and technical
// standards relevant to an analysis and assembles them into a token-budgeted
// prompt context. Completed analyses and user corrections are indexed back
// into the same store, closing the learning loop.
package rag

import (
	"context"
	"math"

	"github.com/gridseal/compliance-cli/internal/model"
)

// Embedder produces an embedding vector and a token count for a text.
// Satisfied by pkg/jina.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, int, error)
}

// KnowledgeStore is the slice of the store the retrieval layer needs.
type KnowledgeStore interface {
	InsertEmbedding(ctx context.Context, e *model.KnowledgeEmbedding) error
	CandidateEmbeddings(ctx context.Context, f model.EmbeddingFilter) ([]model.KnowledgeEmbedding, error)
	IncrementUseCount(ctx context.Context, ids []string) error
	SetEmbeddingCorrectness(ctx context.Context, analysisID string, wasCorrect bool) error
	MarkFeedbackIncorporated(ctx context.Context, feedbackID string) error
}

// CosineSimilarity returns the cosine of the angle between two vectors, or 0
// when the dimensions differ or either vector has zero magnitude.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// EstimateTokens approximates the token count of a text as ceil(len/4).
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}
