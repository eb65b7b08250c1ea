package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/gridseal/compliance-cli/internal/cost"
	"github.com/gridseal/compliance-cli/internal/extract"
	"github.com/gridseal/compliance-cli/internal/orchestrator"
	"github.com/gridseal/compliance-cli/internal/rag"
	"github.com/gridseal/compliance-cli/internal/store"
	anthropicpkg "github.com/gridseal/compliance-cli/pkg/anthropic"
	"github.com/gridseal/compliance-cli/pkg/jina"
)

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		return store.NewSQLite(cfg.Store.DatabaseURL)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &cfg.Store.Pool)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

func initJina() jina.Client {
	return jina.NewClient(cfg.Jina.Key,
		jina.WithBaseURL(cfg.Jina.BaseURL),
		jina.WithModel(cfg.Jina.Model),
		jina.WithRateLimit(cfg.Jina.RateLimitRPS),
	)
}

// initOrchestrator wires the full analysis stack: vision extraction, and,
// when retrieval is enabled, the knowledge context builder and indexer.
func initOrchestrator(st store.Store) (*orchestrator.Orchestrator, error) {
	rates, err := cfg.Rates()
	if err != nil {
		return nil, err
	}

	aiClient := anthropicpkg.NewClient(cfg.Anthropic.Key)
	extractClient := extract.NewClient(aiClient, cfg.ExtractClientConfig(), cost.NewCalculator(rates))
	batch := extract.NewBatch(extractClient, cfg.Extract.Concurrency)

	var builder orchestrator.ContextBuilder
	var indexer orchestrator.Indexer
	if cfg.Retrieval.Enabled && cfg.Jina.Key != "" {
		jinaClient := initJina()
		searcher := rag.NewSearcher(st, jinaClient)
		builder = rag.NewBuilder(searcher, jinaClient, cfg.BuilderConfig())
		indexer = rag.NewIndexer(st, jinaClient)
	}

	return orchestrator.New(st, batch, builder, indexer), nil
}

// initIndexer wires only the feedback indexing path; nil when embeddings are
// not configured.
func initIndexer(st store.Store) orchestrator.Indexer {
	if cfg.Jina.Key == "" {
		return nil
	}
	return rag.NewIndexer(st, initJina())
}
