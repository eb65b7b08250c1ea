package consistency

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridseal/compliance-cli/internal/model"
)

func consolidated(testType model.TestType, sources ...model.SourcedExtraction) *model.ConsolidatedExtraction {
	merged := make(model.NormalizedExtraction)
	for _, s := range sources {
		merged = merged.Merge(s.Fields)
	}
	return &model.ConsolidatedExtraction{TestType: testType, Sources: sources, Merged: merged}
}

func source(name string, fields map[string]any) model.SourcedExtraction {
	fs := make(model.NormalizedExtraction, len(fields))
	for k, v := range fields {
		fs[k] = model.NewField(v, 0.9, name)
	}
	return model.SourcedExtraction{Source: name, Fields: fs}
}

func TestValidate_SingleSourceIsClean(t *testing.T) {
	c := consolidated(model.TestGrounding, source("report_header", map[string]any{
		model.FieldEquipmentTag: "EQ-01",
		model.FieldSerialNumber: "SN1234",
	}))

	assert.Empty(t, Validate(c))
}

func TestValidate_EmptyExtractionIsClean(t *testing.T) {
	c := consolidated(model.TestThermography)
	assert.Empty(t, Validate(c))
}

func TestCertificateExpiry_BeforeMeasurementIsCritical(t *testing.T) {
	c := consolidated(model.TestGrounding,
		source("certificate", map[string]any{model.FieldCalibrationExpiry: "2026-03-01"}),
		source("report_header", map[string]any{model.FieldMeasurementDate: "2026-03-15"}),
	)

	findings := Validate(c)
	require.Len(t, findings, 1)
	assert.Equal(t, CodeCertExpired, findings[0].Code)
	assert.Equal(t, model.SeverityCritical, findings[0].Severity)
}

func TestCertificateExpiry_SameDayIsNotAViolation(t *testing.T) {
	c := consolidated(model.TestGrounding,
		source("certificate", map[string]any{model.FieldCalibrationExpiry: "2026-03-15"}),
		source("report_header", map[string]any{model.FieldMeasurementDate: "2026-03-15"}),
	)

	assert.Empty(t, Validate(c))
}

func TestCertificateExpiry_IgnoresTimeOfDay(t *testing.T) {
	// Expiry at 23:59 on the measurement day is still same-day, not expired.
	c := consolidated(model.TestGrounding,
		source("certificate", map[string]any{model.FieldCalibrationExpiry: "2026-03-15T23:59:00Z"}),
		source("report_header", map[string]any{model.FieldMeasurementDate: "2026-03-15T00:01:00Z"}),
	)

	assert.Empty(t, Validate(c))
}

func TestTagConsistency_NormalizedVariantsAgree(t *testing.T) {
	c := consolidated(model.TestGrounding,
		source("report_header", map[string]any{model.FieldEquipmentTag: "EQ-01"}),
		source("visible_photo", map[string]any{model.FieldEquipmentTag: "eq 01"}),
	)

	assert.Empty(t, Validate(c))
}

func TestTagConsistency_DistinctTagsAreCritical(t *testing.T) {
	c := consolidated(model.TestGrounding,
		source("report_header", map[string]any{model.FieldEquipmentTag: "EQ-01"}),
		source("visible_photo", map[string]any{model.FieldEquipmentTag: "EQ-02"}),
	)

	findings := Validate(c)
	require.Len(t, findings, 1)
	assert.Equal(t, CodeTagMismatch, findings[0].Code)
	assert.Equal(t, model.SeverityCritical, findings[0].Severity)
	assert.Contains(t, findings[0].Message, "EQ-01")
	assert.Contains(t, findings[0].Message, "EQ-02")
}

func TestTagConsistency_SingleSourceSkipped(t *testing.T) {
	c := consolidated(model.TestGrounding,
		source("report_header", map[string]any{model.FieldEquipmentTag: "EQ-01"}),
	)
	assert.Empty(t, Validate(c))
}

func TestTagConsistency_NonStringCandidateIsNotComparable(t *testing.T) {
	// One string tag plus one numeric tag is still a single comparable
	// source; the check must skip rather than compare against nothing.
	c := consolidated(model.TestGrounding,
		source("report_header", map[string]any{model.FieldEquipmentTag: "EQ-01"}),
		source("visible_photo", map[string]any{model.FieldEquipmentTag: 4207.0}),
	)
	assert.Empty(t, Validate(c))
}

func TestTagConsistency_ComparesAcrossNonStringCandidate(t *testing.T) {
	c := consolidated(model.TestGrounding,
		source("report_header", map[string]any{model.FieldEquipmentTag: "EQ-01"}),
		source("thermal_image", map[string]any{model.FieldEquipmentTag: 4207.0}),
		source("visible_photo", map[string]any{model.FieldEquipmentTag: "EQ-02"}),
	)

	findings := Validate(c)
	require.Len(t, findings, 1)
	assert.Equal(t, CodeTagMismatch, findings[0].Code)
}

func TestTemperature_DivergenceOnlyForThermography(t *testing.T) {
	fields := map[string]any{
		model.FieldAmbientTemp:   25.0,
		model.FieldReflectedTemp: 27.5,
	}

	thermo := consolidated(model.TestThermography, source("thermal_image", fields))
	findings := Validate(thermo)
	require.Len(t, findings, 1)
	assert.Equal(t, CodeTempDivergence, findings[0].Code)

	grounding := consolidated(model.TestGrounding, source("thermal_image", fields))
	assert.Empty(t, Validate(grounding))
}

func TestTemperature_WithinToleranceIsClean(t *testing.T) {
	c := consolidated(model.TestThermography, source("thermal_image", map[string]any{
		model.FieldAmbientTemp:   25.0,
		model.FieldReflectedTemp: 25.9,
	}))
	assert.Empty(t, Validate(c))
}

func TestSerialConsistency_SeparatorsIgnored(t *testing.T) {
	c := consolidated(model.TestMegger,
		source("certificate", map[string]any{model.FieldSerialNumber: "SN-12.34"}),
		source("visible_photo", map[string]any{model.FieldSerialNumber: "sn 1234"}),
	)
	assert.Empty(t, Validate(c))
}

func TestSerialConsistency_MismatchIsCritical(t *testing.T) {
	c := consolidated(model.TestMegger,
		source("certificate", map[string]any{model.FieldSerialNumber: "SN1234"}),
		source("visible_photo", map[string]any{model.FieldSerialNumber: "SN9999"}),
	)

	findings := Validate(c)
	require.Len(t, findings, 1)
	assert.Equal(t, CodeSerialMismatch, findings[0].Code)
	assert.Equal(t, model.SeverityCritical, findings[0].Severity)
}

func TestDisplayVsTabulated_WithinFivePercent(t *testing.T) {
	c := consolidated(model.TestGrounding, source("report_table", map[string]any{
		model.FieldPhotoValue: 4.1,
		model.FieldTableValue: 4.0,
	}))
	assert.Empty(t, Validate(c))
}

func TestDisplayVsTabulated_BeyondToleranceIsMinor(t *testing.T) {
	c := consolidated(model.TestGrounding, source("report_table", map[string]any{
		model.FieldPhotoValue: 4.5,
		model.FieldTableValue: 4.0,
	}))

	findings := Validate(c)
	require.Len(t, findings, 1)
	assert.Equal(t, CodeValueDivergence, findings[0].Code)
	assert.Equal(t, model.SeverityMinor, findings[0].Severity)
}

func TestValidate_FindingsOrderedByPriority(t *testing.T) {
	c := consolidated(model.TestThermography,
		source("certificate", map[string]any{
			model.FieldCalibrationExpiry: "2026-01-01",
			model.FieldSerialNumber:      "SN1",
		}),
		source("report_header", map[string]any{
			model.FieldMeasurementDate: "2026-02-01",
			model.FieldEquipmentTag:    "EQ-01",
			model.FieldSerialNumber:    "SN2",
		}),
		source("visible_photo", map[string]any{
			model.FieldEquipmentTag: "EQ-02",
			model.FieldPhotoValue:   10.0,
			model.FieldTableValue:   5.0,
		}),
	)

	findings := Validate(c)
	require.Len(t, findings, 4)
	assert.Equal(t, CodeCertExpired, findings[0].Code)
	assert.Equal(t, CodeTagMismatch, findings[1].Code)
	assert.Equal(t, CodeSerialMismatch, findings[2].Code)
	assert.Equal(t, CodeValueDivergence, findings[3].Code)
}

func TestNormalizeTag(t *testing.T) {
	cases := []struct{ in, want string }{
		{"EQ-01", "EQ-01"},
		{"eq 01", "EQ-01"},
		{"eq_01", "EQ-01"},
		{"  eq - _ 01 ", "EQ-01"},
		{"qcc—01", "QCC—01"}, // em-dash is not a separator
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, NormalizeTag(tc.in), "input %q", tc.in)
	}
}

func TestNormalizeSerial(t *testing.T) {
	cases := []struct{ in, want string }{
		{"SN-12.34", "SN1234"},
		{"sn 12_34", "SN1234"},
		{"SN1234", "SN1234"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, NormalizeSerial(tc.in), "input %q", tc.in)
	}
}
