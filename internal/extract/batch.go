package extract

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/gridseal/compliance-cli/internal/model"
)

// ForType returns the extractor registered for a document type.
func ForType(dt model.DocumentType) (DocumentExtractor, error) {
	switch dt {
	case model.DocThermalImage:
		return NewThermalExtractor(), nil
	case model.DocVisiblePhoto:
		return NewPhotoExtractor(), nil
	case model.DocCertificate:
		return NewCertificateExtractor(), nil
	default:
		return nil, eris.Errorf("extract: no extractor for document type %q", dt)
	}
}

// BatchResult is the consolidated output of extracting every document in an
// analysis. Failed documents are skipped, not fatal; FailedDocs counts them.
type BatchResult struct {
	Extraction *model.ConsolidatedExtraction
	Metrics    []Metrics
	Usage      model.TokenUsage
	CostUSD    float64
	FailedDocs int
}

// Batch extracts a set of evidence documents and merges the per-source
// results field by field, keeping the highest-confidence candidate. Merge
// order follows document input order, so ties resolve to the earliest
// source regardless of extraction concurrency.
type Batch struct {
	client      *Client
	concurrency int
}

// NewBatch creates a batch extractor. Concurrency below 2 runs documents
// sequentially.
func NewBatch(client *Client, concurrency int) *Batch {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Batch{client: client, concurrency: concurrency}
}

// Run extracts every document and consolidates the results. It fails only
// when no document could be extracted at all; individual failures are
// logged and skipped.
func (b *Batch) Run(ctx context.Context, testType model.TestType, docs []model.DocumentInput, hints Hints) (*BatchResult, error) {
	if len(docs) == 0 {
		return nil, eris.New("extract: no documents to extract")
	}

	outcomes := make([]*Outcome, len(docs))
	errs := make([]error, len(docs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.concurrency)
	for i, doc := range docs {
		g.Go(func() error {
			ext, err := ForType(doc.Type)
			if err != nil {
				errs[i] = err
				return nil
			}
			out, err := b.client.Extract(gctx, ext, doc, hints)
			outcomes[i] = out
			errs[i] = err
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result := &BatchResult{
		Extraction: &model.ConsolidatedExtraction{
			TestType: testType,
			Merged:   make(model.NormalizedExtraction),
		},
	}

	for i := range docs {
		out := outcomes[i]
		if out != nil {
			result.Metrics = append(result.Metrics, out.Metrics)
			result.Usage.Add(out.Metrics.Usage)
			result.CostUSD += out.Metrics.CostUSD
		}
		if errs[i] != nil {
			result.FailedDocs++
			zap.L().Warn("document extraction skipped",
				zap.Int("index", i),
				zap.String("document_type", string(docs[i].Type)),
				zap.String("path", docs[i].Path),
				zap.Error(errs[i]),
			)
			continue
		}
		result.Extraction.Sources = append(result.Extraction.Sources, model.SourcedExtraction{
			Source: out.Source,
			Fields: out.Fields,
		})
		result.Extraction.Merged = result.Extraction.Merged.Merge(out.Fields)
	}

	if len(result.Extraction.Sources) == 0 {
		return result, eris.New("extract: all document extractions failed")
	}
	return result, nil
}
