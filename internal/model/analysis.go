package model

import "time"

// AnalysisStatus is the lifecycle state of an analysis.
type AnalysisStatus string

const (
	StatusPending    AnalysisStatus = "PENDING"
	StatusProcessing AnalysisStatus = "PROCESSING"
	StatusCompleted  AnalysisStatus = "COMPLETED"
	StatusFailed     AnalysisStatus = "FAILED"
	StatusCancelled  AnalysisStatus = "CANCELLED"
)

// Terminal reports whether the status ends the lifecycle.
func (s AnalysisStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Cancellable reports whether a cancel request is valid from this status.
func (s AnalysisStatus) Cancellable() bool {
	return s == StatusPending || s == StatusProcessing
}

// DocumentInput is one evidence image submitted for analysis.
type DocumentInput struct {
	Type DocumentType `json:"type"`
	// Path is the stored location of the image; MediaType its MIME type.
	Path      string `json:"path"`
	MediaType string `json:"media_type"`
	// Data holds base64 image bytes when the file is passed inline.
	Data string `json:"data,omitempty"`
}

// TokenUsage tallies model token consumption across calls.
type TokenUsage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// Add accumulates usage from another call.
func (u *TokenUsage) Add(other TokenUsage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}

// Total returns combined input and output tokens.
func (u TokenUsage) Total() int64 {
	return u.InputTokens + u.OutputTokens
}

// Analysis is one compliance analysis of a scanned test report. It is owned
// and mutated exclusively by the orchestrator; the validator and rules engine
// operate on immutable snapshots of its extraction.
type Analysis struct {
	ID        string         `json:"id"`
	CompanyID string         `json:"company_id"`
	TestType  TestType       `json:"test_type"`
	Status    AnalysisStatus `json:"status"`

	Documents []DocumentInput `json:"documents"`

	Extraction      *ConsolidatedExtraction `json:"extraction,omitempty"`
	NonConformities []NonConformity         `json:"non_conformities,omitempty"`
	Verdict         Verdict                 `json:"verdict,omitempty"`
	Score           float64                 `json:"score"`
	Confidence      float64                 `json:"confidence"`

	Usage   TokenUsage `json:"usage"`
	CostUSD float64    `json:"cost_usd"`
	Error   string     `json:"error,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}
