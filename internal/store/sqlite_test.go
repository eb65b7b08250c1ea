package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridseal/compliance-cli/internal/model"
)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func newTestAnalysis() *model.Analysis {
	return &model.Analysis{
		CompanyID: "acme",
		TestType:  model.TestGrounding,
		Documents: []model.DocumentInput{
			{Type: model.DocVisiblePhoto, Path: "photos/gnd-01.jpg", MediaType: "image/jpeg"},
		},
	}
}

func TestSQLite_CreateAndGetAnalysis(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	a := newTestAnalysis()
	require.NoError(t, s.CreateAnalysis(ctx, a))
	require.NotEmpty(t, a.ID)
	assert.Equal(t, model.StatusPending, a.Status)

	got, err := s.GetAnalysis(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)
	assert.Equal(t, "acme", got.CompanyID)
	assert.Equal(t, model.TestGrounding, got.TestType)
	assert.Equal(t, model.StatusPending, got.Status)
	require.Len(t, got.Documents, 1)
	assert.Equal(t, "photos/gnd-01.jpg", got.Documents[0].Path)
	assert.Nil(t, got.Extraction)
	assert.Nil(t, got.CompletedAt)
}

func TestSQLite_GetAnalysis_NotFound(t *testing.T) {
	s := newTestSQLite(t)

	_, err := s.GetAnalysis(context.Background(), "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLite_TransitionStatus(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	a := newTestAnalysis()
	require.NoError(t, s.CreateAnalysis(ctx, a))

	err := s.TransitionStatus(ctx, a.ID,
		[]model.AnalysisStatus{model.StatusPending}, model.StatusProcessing)
	require.NoError(t, err)

	got, err := s.GetAnalysis(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusProcessing, got.Status)
}

func TestSQLite_TransitionStatus_Conflict(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	a := newTestAnalysis()
	require.NoError(t, s.CreateAnalysis(ctx, a))
	require.NoError(t, s.TransitionStatus(ctx, a.ID,
		[]model.AnalysisStatus{model.StatusPending}, model.StatusCancelled))

	// Already cancelled; a second cancel is a conflict, not a silent no-op.
	err := s.TransitionStatus(ctx, a.ID,
		[]model.AnalysisStatus{model.StatusPending, model.StatusProcessing}, model.StatusCancelled)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConflict)
}

func TestSQLite_TransitionStatus_NotFound(t *testing.T) {
	s := newTestSQLite(t)

	err := s.TransitionStatus(context.Background(), "missing",
		[]model.AnalysisStatus{model.StatusPending}, model.StatusProcessing)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLite_CompleteAnalysis(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	a := newTestAnalysis()
	require.NoError(t, s.CreateAnalysis(ctx, a))
	require.NoError(t, s.TransitionStatus(ctx, a.ID,
		[]model.AnalysisStatus{model.StatusPending}, model.StatusProcessing))

	a.Extraction = &model.ConsolidatedExtraction{
		TestType: model.TestGrounding,
		Merged: model.NormalizedExtraction{
			model.FieldGroundResistance: model.NewField(3.1, 0.92, "visible_photo"),
		},
	}
	a.Verdict = model.VerdictApproved
	a.Score = 100
	a.Confidence = 0.92
	a.Usage = model.TokenUsage{InputTokens: 1500, OutputTokens: 400}
	a.CostUSD = 0.0123
	require.NoError(t, s.CompleteAnalysis(ctx, a))

	got, err := s.GetAnalysis(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, got.Status)
	assert.Equal(t, model.VerdictApproved, got.Verdict)
	assert.InDelta(t, 100.0, got.Score, 1e-9)
	assert.Equal(t, int64(1500), got.Usage.InputTokens)
	require.NotNil(t, got.CompletedAt)
	require.NotNil(t, got.Extraction)
	v, ok := got.Extraction.Merged.Get(model.FieldGroundResistance).Float()
	require.True(t, ok)
	assert.InDelta(t, 3.1, v, 1e-9)
}

func TestSQLite_CancelledAnalysisNotOverwritten(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	a := newTestAnalysis()
	require.NoError(t, s.CreateAnalysis(ctx, a))
	require.NoError(t, s.TransitionStatus(ctx, a.ID,
		[]model.AnalysisStatus{model.StatusPending}, model.StatusProcessing))
	require.NoError(t, s.TransitionStatus(ctx, a.ID,
		[]model.AnalysisStatus{model.StatusProcessing}, model.StatusCancelled))

	// A slow worker finishing after cancellation must not win.
	a.Verdict = model.VerdictApproved
	a.Score = 100
	err := s.CompleteAnalysis(ctx, a)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConflict)

	got, err := s.GetAnalysis(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, got.Status)
	assert.Empty(t, string(got.Verdict))
}

func TestSQLite_FailAnalysis(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	a := newTestAnalysis()
	require.NoError(t, s.CreateAnalysis(ctx, a))
	require.NoError(t, s.FailAnalysis(ctx, a.ID, "all document extractions failed"))

	got, err := s.GetAnalysis(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, got.Status)
	assert.Equal(t, "all document extractions failed", got.Error)
	require.NotNil(t, got.CompletedAt)
}

func TestSQLite_FailAnalysis_TerminalConflict(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	a := newTestAnalysis()
	require.NoError(t, s.CreateAnalysis(ctx, a))
	require.NoError(t, s.TransitionStatus(ctx, a.ID,
		[]model.AnalysisStatus{model.StatusPending}, model.StatusCancelled))

	err := s.FailAnalysis(ctx, a.ID, "late failure")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConflict)
}

func TestSQLite_ListAnalyses_Filters(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	for _, companyID := range []string{"acme", "acme", "rival"} {
		a := newTestAnalysis()
		a.CompanyID = companyID
		require.NoError(t, s.CreateAnalysis(ctx, a))
	}

	acme, err := s.ListAnalyses(ctx, AnalysisFilter{CompanyID: "acme"})
	require.NoError(t, err)
	assert.Len(t, acme, 2)

	pending, err := s.ListAnalyses(ctx, AnalysisFilter{Status: model.StatusPending})
	require.NoError(t, err)
	assert.Len(t, pending, 3)

	limited, err := s.ListAnalyses(ctx, AnalysisFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestSQLite_FeedbackLifecycle(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	a := newTestAnalysis()
	require.NoError(t, s.CreateAnalysis(ctx, a))

	fb := &model.Feedback{
		AnalysisID:     a.ID,
		CompanyID:      "acme",
		Field:          model.FieldEquipmentTag,
		OriginalValue:  "TRF-99",
		CorrectedValue: "TRF-01",
		Explanation:    "glare on the nameplate",
	}
	require.NoError(t, s.CreateFeedback(ctx, fb))
	require.NotEmpty(t, fb.ID)

	list, err := s.ListFeedback(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.False(t, list[0].Incorporated)
	assert.Equal(t, "glare on the nameplate", list[0].Explanation)

	require.NoError(t, s.MarkFeedbackIncorporated(ctx, fb.ID))
	list, err = s.ListFeedback(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, list[0].Incorporated)

	err = s.MarkFeedbackIncorporated(ctx, "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLite_EmbeddingRoundTrip(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	company := "acme"
	tt := model.TestMegger
	e := &model.KnowledgeEmbedding{
		CompanyID:   &company,
		ContentType: model.ContentAnalysisResult,
		TestType:    &tt,
		Content:     "MEGGER analysis, verdict APPROVED",
		Embedding:   []float32{0.1, 0.2, 0.3},
		Metadata:    map[string]any{"score": 100.0},
	}
	require.NoError(t, s.InsertEmbedding(ctx, e))

	got, err := s.CandidateEmbeddings(ctx, model.EmbeddingFilter{
		CompanyID:    "acme",
		ContentTypes: []model.ContentType{model.ContentAnalysisResult},
		TestType:     &tt,
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, e.ID, got[0].ID)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, got[0].Embedding)
	assert.Equal(t, "acme", *got[0].CompanyID)
	assert.Equal(t, model.TestMegger, *got[0].TestType)
}

func TestSQLite_EmbeddingTenantVisibility(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	acme := "acme"
	rival := "rival"
	for _, e := range []*model.KnowledgeEmbedding{
		{CompanyID: &acme, ContentType: model.ContentAnalysisResult, Content: "acme entry", Embedding: []float32{1}},
		{CompanyID: &rival, ContentType: model.ContentAnalysisResult, Content: "rival entry", Embedding: []float32{1}},
		{ContentType: model.ContentTechnicalStandard, Content: "global standard", Embedding: []float32{1}},
	} {
		require.NoError(t, s.InsertEmbedding(ctx, e))
	}

	got, err := s.CandidateEmbeddings(ctx, model.EmbeddingFilter{CompanyID: "acme"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	for _, e := range got {
		assert.NotEqual(t, "rival entry", e.Content)
	}
}

func TestSQLite_IncrementUseCountAndCorrectness(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	analysisID := "an-1"
	e := &model.KnowledgeEmbedding{
		AnalysisID:  &analysisID,
		ContentType: model.ContentAnalysisResult,
		Content:     "entry",
		Embedding:   []float32{1},
		WasCorrect:  true,
	}
	require.NoError(t, s.InsertEmbedding(ctx, e))

	require.NoError(t, s.IncrementUseCount(ctx, []string{e.ID}))
	require.NoError(t, s.IncrementUseCount(ctx, []string{e.ID}))
	require.NoError(t, s.IncrementUseCount(ctx, nil))

	require.NoError(t, s.SetEmbeddingCorrectness(ctx, analysisID, false))

	got, err := s.CandidateEmbeddings(ctx, model.EmbeddingFilter{CompanyID: "any"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 2, got[0].UseCount)
	assert.False(t, got[0].WasCorrect)
}

func TestSQLite_BulkInsertEmbeddings(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	entries := []model.KnowledgeEmbedding{
		{ID: "std-1", ContentType: model.ContentTechnicalStandard, Content: "standard one", Embedding: []float32{1}},
		{ID: "std-2", ContentType: model.ContentBestPractice, Content: "practice two", Embedding: []float32{1}},
	}
	n, err := s.BulkInsertEmbeddings(ctx, entries)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	// Reseeding the same ids replaces rather than duplicates.
	n, err = s.BulkInsertEmbeddings(ctx, entries)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	got, err := s.CandidateEmbeddings(ctx, model.EmbeddingFilter{CompanyID: "any"})
	require.NoError(t, err)
	assert.Len(t, got, 2)
}
