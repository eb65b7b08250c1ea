// Package store persists analyses, reviewer feedback, and knowledge
// embeddings. Two backends share one interface: PostgreSQL for deployments
// and SQLite for local runs. Status transitions are compare-and-set so a
// cancelled analysis can never be flipped back to a terminal result by a
// slow background worker.
package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/gridseal/compliance-cli/internal/model"
)

// ErrNotFound is returned when the referenced record does not exist.
var ErrNotFound = eris.New("store: record not found")

// ErrConflict is returned when a guarded status transition matches no row
// because the record is not in any of the expected states.
var ErrConflict = eris.New("store: status conflict")

// AnalysisFilter specifies criteria for listing analyses.
type AnalysisFilter struct {
	CompanyID string               `json:"company_id,omitempty"`
	Status    model.AnalysisStatus `json:"status,omitempty"`
	TestType  model.TestType       `json:"test_type,omitempty"`
	Limit     int                  `json:"limit,omitempty"`
	Offset    int                  `json:"offset,omitempty"`
}

// Store defines the persistence interface for the analysis pipeline.
type Store interface {
	// Analyses
	CreateAnalysis(ctx context.Context, a *model.Analysis) error
	GetAnalysis(ctx context.Context, id string) (*model.Analysis, error)
	ListAnalyses(ctx context.Context, filter AnalysisFilter) ([]model.Analysis, error)
	// TransitionStatus moves an analysis to a new status only if its current
	// status is one of expected. Returns ErrConflict otherwise.
	TransitionStatus(ctx context.Context, id string, expected []model.AnalysisStatus, to model.AnalysisStatus) error
	// CompleteAnalysis writes the terminal COMPLETED result, guarded on the
	// analysis still being PROCESSING.
	CompleteAnalysis(ctx context.Context, a *model.Analysis) error
	// FailAnalysis writes the terminal FAILED state with an error message,
	// guarded on the analysis being PENDING or PROCESSING.
	FailAnalysis(ctx context.Context, id, errMsg string) error

	// Feedback
	CreateFeedback(ctx context.Context, fb *model.Feedback) error
	ListFeedback(ctx context.Context, analysisID string) ([]model.Feedback, error)
	MarkFeedbackIncorporated(ctx context.Context, feedbackID string) error

	// Knowledge embeddings
	InsertEmbedding(ctx context.Context, e *model.KnowledgeEmbedding) error
	BulkInsertEmbeddings(ctx context.Context, entries []model.KnowledgeEmbedding) (int64, error)
	CandidateEmbeddings(ctx context.Context, f model.EmbeddingFilter) ([]model.KnowledgeEmbedding, error)
	IncrementUseCount(ctx context.Context, ids []string) error
	SetEmbeddingCorrectness(ctx context.Context, analysisID string, wasCorrect bool) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

func statusStrings(statuses []model.AnalysisStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
