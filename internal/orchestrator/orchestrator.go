// Package orchestrator owns the analysis lifecycle: it accepts submissions,
// schedules one background unit of work per analysis, and enforces the
// status machine (PENDING, PROCESSING, COMPLETED, FAILED, CANCELLED).
// Cancellation is cooperative and checked at the store through guarded
// status writes, so a cancelled analysis is never overwritten with a
// terminal result by a worker that finished late.
package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/gridseal/compliance-cli/internal/consistency"
	"github.com/gridseal/compliance-cli/internal/extract"
	"github.com/gridseal/compliance-cli/internal/model"
	"github.com/gridseal/compliance-cli/internal/rag"
	"github.com/gridseal/compliance-cli/internal/rules"
	"github.com/gridseal/compliance-cli/internal/store"
)

// ErrInFlight is returned when an operation targets an analysis whose unit
// of work is currently executing.
var ErrInFlight = eris.New("orchestrator: analysis is already being processed")

// Extractor runs the document batch for one analysis. Satisfied by
// extract.Batch.
type Extractor interface {
	Run(ctx context.Context, testType model.TestType, docs []model.DocumentInput, hints extract.Hints) (*extract.BatchResult, error)
}

// ContextBuilder assembles retrieval context for the extraction prompts.
// Satisfied by rag.Builder.
type ContextBuilder interface {
	BuildContext(ctx context.Context, query string, testType model.TestType, companyID string) (*rag.Context, error)
}

// Indexer feeds completed work back into the knowledge store. Satisfied by
// rag.Indexer.
type Indexer interface {
	IndexAnalysis(ctx context.Context, a *model.Analysis) error
	IndexCorrection(ctx context.Context, fb model.Feedback, testType model.TestType) error
	MarkCorrectness(ctx context.Context, analysisID string, wasCorrect bool) error
}

// CreateInput is one analysis submission.
type CreateInput struct {
	CompanyID      string
	TestType       model.TestType
	Documents      []model.DocumentInput
	ExpectedTag    string
	ExpectedSerial string
}

// FeedbackInput is one reviewer correction.
type FeedbackInput struct {
	Field          string
	OriginalValue  string
	CorrectedValue string
	Explanation    string
}

// Orchestrator schedules and supervises analysis units of work. Isolation
// is per analysis id; different analyses never contend.
type Orchestrator struct {
	store     store.Store
	extractor Extractor
	builder   ContextBuilder
	indexer   Indexer

	mu       sync.Mutex
	inflight map[string]context.CancelFunc
	wg       sync.WaitGroup
}

// New creates an orchestrator. builder and indexer may be nil, which
// disables retrieval context and knowledge indexing respectively.
func New(st store.Store, extractor Extractor, builder ContextBuilder, indexer Indexer) *Orchestrator {
	return &Orchestrator{
		store:     st,
		extractor: extractor,
		builder:   builder,
		indexer:   indexer,
		inflight:  make(map[string]context.CancelFunc),
	}
}

// CreateAndProcess validates and persists a new analysis, then schedules
// its unit of work in the background. It returns the analysis id as soon as
// the record exists; processing completes asynchronously.
func (o *Orchestrator) CreateAndProcess(ctx context.Context, in CreateInput) (string, error) {
	if _, err := model.ParseTestType(string(in.TestType)); err != nil {
		return "", err
	}
	if len(in.Documents) == 0 {
		return "", eris.New("orchestrator: at least one document is required")
	}
	for _, doc := range in.Documents {
		if _, err := model.ParseDocumentType(string(doc.Type)); err != nil {
			return "", err
		}
	}

	a := &model.Analysis{
		CompanyID: in.CompanyID,
		TestType:  in.TestType,
		Documents: in.Documents,
	}
	if err := o.store.CreateAnalysis(ctx, a); err != nil {
		return "", err
	}

	o.launch(a.ID, in)
	return a.ID, nil
}

// Cancel transitions a PENDING or PROCESSING analysis to CANCELLED and
// signals its unit of work to stop. Cancelling a terminal analysis is a
// conflict.
func (o *Orchestrator) Cancel(ctx context.Context, id string) error {
	if err := o.store.TransitionStatus(ctx, id,
		[]model.AnalysisStatus{model.StatusPending, model.StatusProcessing},
		model.StatusCancelled); err != nil {
		return err
	}

	o.mu.Lock()
	cancel, ok := o.inflight[id]
	o.mu.Unlock()
	if ok {
		cancel()
	}

	zap.L().Info("analysis cancelled", zap.String("analysis_id", id))
	return nil
}

// Reanalyze reruns a terminal analysis with its original documents. An
// analysis that is still PENDING or PROCESSING, or whose unit of work is in
// flight, is a conflict rather than a silent duplicate trigger.
func (o *Orchestrator) Reanalyze(ctx context.Context, id string) error {
	o.mu.Lock()
	_, busy := o.inflight[id]
	o.mu.Unlock()
	if busy {
		return eris.Wrapf(ErrInFlight, "orchestrator: reanalyze %s", id)
	}

	a, err := o.store.GetAnalysis(ctx, id)
	if err != nil {
		return err
	}
	if !a.Status.Terminal() {
		return eris.Wrapf(store.ErrConflict, "orchestrator: reanalyze %s while %s", id, a.Status)
	}

	if err := o.store.TransitionStatus(ctx, id,
		[]model.AnalysisStatus{model.StatusCompleted, model.StatusFailed, model.StatusCancelled},
		model.StatusPending); err != nil {
		return err
	}

	o.launch(id, CreateInput{
		CompanyID: a.CompanyID,
		TestType:  a.TestType,
		Documents: a.Documents,
	})
	return nil
}

// SubmitFeedback records a reviewer correction against a completed analysis
// and feeds it into the knowledge store. Indexing failure is non-critical:
// the feedback record survives and can be incorporated later.
func (o *Orchestrator) SubmitFeedback(ctx context.Context, analysisID string, in FeedbackInput) (string, error) {
	a, err := o.store.GetAnalysis(ctx, analysisID)
	if err != nil {
		return "", err
	}
	if a.Status != model.StatusCompleted {
		return "", eris.Wrapf(store.ErrConflict, "orchestrator: feedback on %s analysis %s", a.Status, analysisID)
	}

	fb := &model.Feedback{
		AnalysisID:     analysisID,
		CompanyID:      a.CompanyID,
		Field:          in.Field,
		OriginalValue:  in.OriginalValue,
		CorrectedValue: in.CorrectedValue,
		Explanation:    in.Explanation,
	}
	if err := o.store.CreateFeedback(ctx, fb); err != nil {
		return "", err
	}

	if o.indexer != nil {
		if err := o.indexer.IndexCorrection(ctx, *fb, a.TestType); err != nil {
			zap.L().Warn("correction indexing failed",
				zap.String("feedback_id", fb.ID),
				zap.Error(err),
			)
		}
		// A correction means the indexed summary for this analysis carried a
		// wrong value; demote it so retrieval stops treating it as vetted.
		if err := o.indexer.MarkCorrectness(ctx, analysisID, false); err != nil {
			zap.L().Warn("correctness update failed",
				zap.String("analysis_id", analysisID),
				zap.Error(err),
			)
		}
	}
	return fb.ID, nil
}

// Wait blocks until every scheduled unit of work has finished. Used by the
// CLI to hold the process open for background analyses.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// launch registers the unit of work and starts it on its own goroutine with
// its own cancellable context, detached from the submitting call.
func (o *Orchestrator) launch(id string, in CreateInput) {
	ctx, cancel := context.WithCancel(context.Background())

	o.mu.Lock()
	o.inflight[id] = cancel
	o.mu.Unlock()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer func() {
			o.mu.Lock()
			delete(o.inflight, id)
			o.mu.Unlock()
			cancel()
		}()
		o.process(ctx, id, in)
	}()
}

// process runs extraction, validation, rules evaluation, and indexing for
// one analysis. Terminal writes go through guarded store transitions, so a
// cancel that raced this unit of work wins.
func (o *Orchestrator) process(ctx context.Context, id string, in CreateInput) {
	log := zap.L().With(
		zap.String("analysis_id", id),
		zap.String("test_type", string(in.TestType)),
	)

	if err := o.store.TransitionStatus(ctx, id,
		[]model.AnalysisStatus{model.StatusPending}, model.StatusProcessing); err != nil {
		// Cancelled (or otherwise moved on) before work began.
		log.Warn("analysis not started", zap.Error(err))
		return
	}
	log.Info("analysis processing")

	hints := extract.Hints{
		ExpectedTag:    in.ExpectedTag,
		ExpectedSerial: in.ExpectedSerial,
	}
	if o.builder != nil {
		query := fmt.Sprintf("%s compliance report for %s", in.TestType, in.ExpectedTag)
		rctx, err := o.builder.BuildContext(ctx, query, in.TestType, in.CompanyID)
		if err != nil {
			log.Warn("retrieval context unavailable", zap.Error(err))
		} else if !rctx.Empty() {
			hints.Context = rctx.Render()
			log.Debug("retrieval context attached", zap.Int("tokens", rctx.TotalTokens))
		}
	}

	// Terminal writes survive the unit's own cancellation so the guarded
	// store transition, not a dead context, decides who wins.
	wctx := context.WithoutCancel(ctx)

	batch, err := o.extractor.Run(ctx, in.TestType, in.Documents, hints)
	if err != nil {
		o.fail(wctx, log, id, err)
		return
	}

	inconsistencies := consistency.Validate(batch.Extraction)
	result := rules.Evaluate(in.TestType, batch.Extraction, inconsistencies)

	a := &model.Analysis{
		ID:              id,
		CompanyID:       in.CompanyID,
		TestType:        in.TestType,
		Documents:       in.Documents,
		Extraction:      batch.Extraction,
		NonConformities: result.NonConformities,
		Verdict:         result.Verdict,
		Score:           result.Score,
		Confidence:      rules.MeanConfidence(batch.Extraction),
		Usage:           batch.Usage,
		CostUSD:         batch.CostUSD,
	}

	if err := o.store.CompleteAnalysis(wctx, a); err != nil {
		if eris.Is(err, store.ErrConflict) {
			log.Info("terminal write skipped, analysis no longer processing")
			return
		}
		log.Error("result write failed", zap.Error(err))
		o.fail(wctx, log, id, err)
		return
	}

	log.Info("analysis completed",
		zap.String("verdict", string(a.Verdict)),
		zap.Float64("score", a.Score),
		zap.Int("non_conformities", len(a.NonConformities)),
		zap.Int("failed_documents", batch.FailedDocs),
		zap.Float64("cost_usd", a.CostUSD),
	)

	if o.indexer != nil {
		a.Status = model.StatusCompleted
		if err := o.indexer.IndexAnalysis(ctx, a); err != nil {
			log.Warn("analysis indexing failed", zap.Error(err))
		}
	}
}

// fail writes the terminal FAILED state. A conflict means a cancel won the
// race, which is not an error.
func (o *Orchestrator) fail(ctx context.Context, log *zap.Logger, id string, cause error) {
	log.Error("analysis failed", zap.Error(cause))
	if err := o.store.FailAnalysis(ctx, id, cause.Error()); err != nil {
		if eris.Is(err, store.ErrConflict) {
			log.Info("failure write skipped, analysis no longer active")
			return
		}
		log.Error("failure write failed", zap.Error(err))
	}
}
