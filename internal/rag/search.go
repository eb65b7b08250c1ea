package rag

import (
	"context"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/gridseal/compliance-cli/internal/model"
)

// SearchResult is one knowledge entry scored against a query.
type SearchResult struct {
	Entry      model.KnowledgeEmbedding
	Similarity float64
}

// Searcher ranks knowledge entries by cosine similarity to a query. The
// store narrows candidates by tenant visibility and filters; ranking happens
// in process.
type Searcher struct {
	store KnowledgeStore
	embed Embedder
}

// NewSearcher creates a searcher over a knowledge store.
func NewSearcher(store KnowledgeStore, embed Embedder) *Searcher {
	return &Searcher{store: store, embed: embed}
}

// Search embeds the query and returns up to limit entries at or above
// minSimilarity, most similar first.
func (s *Searcher) Search(ctx context.Context, query string, f model.EmbeddingFilter, minSimilarity float64, limit int) ([]SearchResult, error) {
	vec, _, err := s.embed.Embed(ctx, query)
	if err != nil {
		return nil, eris.Wrap(err, "rag: embed search query")
	}
	return s.searchVector(ctx, vec, f, minSimilarity, limit)
}

// searchVector ranks candidates against a precomputed query vector. Retrieval
// hits have their use count bumped best-effort; a failed bump never fails the
// search.
func (s *Searcher) searchVector(ctx context.Context, vec []float32, f model.EmbeddingFilter, minSimilarity float64, limit int) ([]SearchResult, error) {
	candidates, err := s.store.CandidateEmbeddings(ctx, f)
	if err != nil {
		return nil, eris.Wrap(err, "rag: fetch candidate embeddings")
	}

	results := make([]SearchResult, 0, len(candidates))
	for _, c := range candidates {
		sim := CosineSimilarity(vec, c.Embedding)
		if sim < minSimilarity {
			continue
		}
		results = append(results, SearchResult{Entry: c, Similarity: sim})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}

	if len(results) > 0 {
		ids := make([]string, len(results))
		for i, r := range results {
			ids[i] = r.Entry.ID
		}
		if err := s.store.IncrementUseCount(ctx, ids); err != nil {
			zap.L().Warn("use count update failed", zap.Error(err))
		}
	}
	return results, nil
}
