package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusTerminal(t *testing.T) {
	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusProcessing.Terminal())
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.True(t, StatusCancelled.Terminal())
}

func TestStatusCancellable(t *testing.T) {
	assert.True(t, StatusPending.Cancellable())
	assert.True(t, StatusProcessing.Cancellable())
	assert.False(t, StatusCompleted.Cancellable())
	assert.False(t, StatusFailed.Cancellable())
	assert.False(t, StatusCancelled.Cancellable())
}

func TestTokenUsageAdd(t *testing.T) {
	u := TokenUsage{InputTokens: 100, OutputTokens: 20}
	u.Add(TokenUsage{InputTokens: 50, OutputTokens: 10})

	assert.Equal(t, int64(150), u.InputTokens)
	assert.Equal(t, int64(30), u.OutputTokens)
	assert.Equal(t, int64(180), u.Total())
}

func TestParseTestType(t *testing.T) {
	for _, valid := range []string{"GROUNDING", "MEGGER", "THERMOGRAPHY"} {
		tt, err := ParseTestType(valid)
		assert.NoError(t, err)
		assert.Equal(t, TestType(valid), tt)
	}

	_, err := ParseTestType("grounding")
	assert.Error(t, err)
	_, err = ParseTestType("VIBRATION")
	assert.Error(t, err)
}

func TestParseDocumentType(t *testing.T) {
	for _, valid := range []string{"thermal_image", "visible_photo", "calibration_certificate"} {
		dt, err := ParseDocumentType(valid)
		assert.NoError(t, err)
		assert.Equal(t, DocumentType(valid), dt)
	}

	_, err := ParseDocumentType("scan")
	assert.Error(t, err)
}

func TestSeverityWeight(t *testing.T) {
	assert.Greater(t, SeverityCritical.Weight(), SeverityMajor.Weight())
	assert.Greater(t, SeverityMajor.Weight(), SeverityMinor.Weight())
	assert.Greater(t, SeverityMinor.Weight(), Severity("").Weight())
}

func TestDeriveVerdict(t *testing.T) {
	assert.Equal(t, VerdictApproved, DeriveVerdict(nil))

	assert.Equal(t, VerdictApprovedWithComments, DeriveVerdict([]NonConformity{
		{Severity: SeverityMinor},
	}))
	assert.Equal(t, VerdictApprovedWithComments, DeriveVerdict([]NonConformity{
		{Severity: SeverityMajor}, {Severity: SeverityMinor},
	}))

	// One critical rejects no matter what else is present.
	assert.Equal(t, VerdictRejected, DeriveVerdict([]NonConformity{
		{Severity: SeverityMinor}, {Severity: SeverityCritical},
	}))
}
