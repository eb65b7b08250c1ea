package main

import (
	"bytes"
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridseal/compliance-cli/internal/model"
	"github.com/gridseal/compliance-cli/internal/rag"
)

func TestTruncateID(t *testing.T) {
	assert.Equal(t, "12345678", truncateID("123456789abcdef"))
	assert.Equal(t, "short", truncateID("short"))
}

func TestFormatAnalysesList(t *testing.T) {
	completed := time.Date(2026, 8, 30, 10, 30, 0, 0, time.UTC)
	analyses := []model.Analysis{
		{
			ID:        "aaaaaaaa-1111-2222-3333-444444444444",
			CompanyID: "acme",
			TestType:  model.TestGrounding,
			Status:    model.StatusCompleted,
			Verdict:   model.VerdictApproved,
			Score:     100,
			CreatedAt: completed,
		},
		{
			ID:        "bbbbbbbb-1111-2222-3333-444444444444",
			CompanyID: "acme",
			TestType:  model.TestThermography,
			Status:    model.StatusProcessing,
			CreatedAt: completed,
		},
	}

	var buf bytes.Buffer
	formatAnalysesList(&buf, analyses)
	out := buf.String()

	assert.Contains(t, out, "aaaaaaaa")
	assert.Contains(t, out, "GROUNDING")
	assert.Contains(t, out, "APPROVED")
	assert.Contains(t, out, "100")
	assert.Contains(t, out, "PROCESSING")
	// No verdict or score for in-flight analyses.
	assert.NotContains(t, out, "bbbbbbbb\tacme\tTHERMOGRAPHY\tPROCESSING\tAPPROVED")
}

func TestFormatSearchResults(t *testing.T) {
	tt := model.TestMegger
	results := []rag.SearchResult{
		{
			Entry: model.KnowledgeEmbedding{
				ContentType: model.ContentTechnicalStandard,
				TestType:    &tt,
				Content:     "Insulation resistance below 100 megaohms requires investigation of moisture ingress and cable degradation.",
				UseCount:    4,
			},
			Similarity: 0.873,
		},
	}

	var buf bytes.Buffer
	formatSearchResults(&buf, results)
	out := buf.String()

	assert.Contains(t, out, "0.873")
	assert.Contains(t, out, "TECHNICAL_STANDARD")
	assert.Contains(t, out, "MEGGER")
	// Long content is truncated for the table.
	assert.Contains(t, out, "...")
}

func TestMediaTypeFor(t *testing.T) {
	assert.Equal(t, "image/png", mediaTypeFor("scan.PNG"))
	assert.Equal(t, "image/webp", mediaTypeFor("photo.webp"))
	assert.Equal(t, "image/jpeg", mediaTypeFor("photo.jpg"))
	assert.Equal(t, "image/jpeg", mediaTypeFor("no-extension"))
}

func TestLoadDocuments(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "thermal.png")
	require.NoError(t, os.WriteFile(path, []byte("fake image bytes"), 0644))

	analyzeThermal = []string{path}
	analyzePhotos = nil
	analyzeCertificates = nil
	t.Cleanup(func() { analyzeThermal = nil })

	docs, err := loadDocuments()
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, model.DocThermalImage, docs[0].Type)
	assert.Equal(t, "image/png", docs[0].MediaType)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("fake image bytes")), docs[0].Data)
}

func TestLoadDocuments_NoneGiven(t *testing.T) {
	analyzeThermal = nil
	analyzePhotos = nil
	analyzeCertificates = nil

	_, err := loadDocuments()
	assert.Error(t, err)
}

func TestLoadDocuments_MissingFile(t *testing.T) {
	analyzePhotos = []string{filepath.Join(t.TempDir(), "missing.jpg")}
	t.Cleanup(func() { analyzePhotos = nil })

	_, err := loadDocuments()
	assert.Error(t, err)
}
