package model

import "time"

// ContentType classifies a knowledge store entry.
type ContentType string

const (
	ContentAnalysisResult    ContentType = "ANALYSIS_RESULT"
	ContentManualCorrection  ContentType = "MANUAL_CORRECTION"
	ContentTechnicalStandard ContentType = "TECHNICAL_STANDARD"
	ContentBestPractice      ContentType = "BEST_PRACTICE"
)

// KnowledgeEmbedding is one append-only entry in the retrieval store.
// A nil CompanyID marks a global entry visible to all tenants; tenant
// entries are visible only to their owner.
type KnowledgeEmbedding struct {
	ID          string         `json:"id"`
	CompanyID   *string        `json:"company_id,omitempty"`
	AnalysisID  *string        `json:"analysis_id,omitempty"`
	ContentType ContentType    `json:"content_type"`
	TestType    *TestType      `json:"test_type,omitempty"`
	Verdict     *Verdict       `json:"verdict,omitempty"`
	Content     string         `json:"content"`
	Embedding   []float32      `json:"embedding"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	WasCorrect  bool           `json:"was_correct"`
	UseCount    int            `json:"use_count"`
	CreatedAt   time.Time      `json:"created_at"`
}

// EmbeddingFilter narrows a knowledge store candidate fetch. CompanyID is
// the requesting tenant: matches are entries owned by that tenant or global
// entries with no owner.
type EmbeddingFilter struct {
	CompanyID    string
	ContentTypes []ContentType
	TestType     *TestType
	Verdict      *Verdict
}

// Feedback is a user correction to a completed analysis. Once its text has
// been embedded into the knowledge store it is marked incorporated.
type Feedback struct {
	ID             string    `json:"id"`
	AnalysisID     string    `json:"analysis_id"`
	CompanyID      string    `json:"company_id"`
	Field          string    `json:"field"`
	OriginalValue  string    `json:"original_value"`
	CorrectedValue string    `json:"corrected_value"`
	Explanation    string    `json:"explanation,omitempty"`
	Incorporated   bool      `json:"incorporated"`
	CreatedAt      time.Time `json:"created_at"`
}
