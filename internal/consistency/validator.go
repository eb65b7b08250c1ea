// Package consistency detects cross-source disagreements in consolidated
// extractions. All checks are pure functions over an immutable snapshot:
// absence of data is never treated as evidence of inconsistency.
package consistency

import (
	"fmt"
	"math"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/gridseal/compliance-cli/internal/model"
)

// Inconsistency codes emitted by the validator.
const (
	CodeCertExpired     = "CERT-EXPIRED"
	CodeTagMismatch     = "TAG-MISMATCH"
	CodeTempDivergence  = "TEMP-DIVERGENCE"
	CodeSerialMismatch  = "SERIAL-MISMATCH"
	CodeValueDivergence = "VALUE-DIVERGENCE"
)

// maxAmbientReflectedDelta is the tolerated spread between ambient and
// reflected temperature in a thermography report, in the extracted scale.
const maxAmbientReflectedDelta = 1.0

// relativeValueTolerance is the allowed relative difference between a
// display-photo reading and its tabulated counterpart.
const relativeValueTolerance = 0.05

// Validate runs all cross-source checks against one consolidated extraction.
// Checks run in fixed priority order (most critical first) so downstream
// severity-sorted reporting is stable; each check contributes at most one
// finding and is skipped when fewer than two comparable sources exist.
func Validate(c *model.ConsolidatedExtraction) []model.Inconsistency {
	var out []model.Inconsistency

	checks := []func(*model.ConsolidatedExtraction) *model.Inconsistency{
		checkCertificateExpiry,
		checkTagConsistency,
		checkTemperatureConsistency,
		checkSerialConsistency,
		checkDisplayVsTabulated,
	}
	for _, check := range checks {
		if finding := check(c); finding != nil {
			out = append(out, *finding)
		}
	}
	return out
}

// checkCertificateExpiry flags a certificate that expired before the
// measurement date. Comparison is calendar-date-only in UTC; a certificate
// expiring on the measurement day is not a violation here (the rules engine
// reports that separately as a warning).
func checkCertificateExpiry(c *model.ConsolidatedExtraction) *model.Inconsistency {
	expiry, ok := c.Merged.Get(model.FieldCalibrationExpiry).Time()
	if !ok {
		return nil
	}
	measured, ok := c.Merged.Get(model.FieldMeasurementDate).Time()
	if !ok {
		return nil
	}

	expiryDay := toUTCDate(expiry)
	measuredDay := toUTCDate(measured)
	if !expiryDay.Before(measuredDay) {
		return nil
	}

	return &model.Inconsistency{
		Severity: model.SeverityCritical,
		Code:     CodeCertExpired,
		Field:    model.FieldCalibrationExpiry,
		Expected: "expiry on or after " + measuredDay.Format("2006-01-02"),
		Found:    expiryDay.Format("2006-01-02"),
		Message: fmt.Sprintf("instrument calibration expired %s, before the measurement on %s",
			expiryDay.Format("2006-01-02"), measuredDay.Format("2006-01-02")),
	}
}

// checkTagConsistency compares equipment tags across every source that
// reported one. Tags are compared in normalized form; the finding lists the
// raw values.
func checkTagConsistency(c *model.ConsolidatedExtraction) *model.Inconsistency {
	candidates := c.Candidates(model.FieldEquipmentTag)

	var tagged []model.ExtractedField
	for _, f := range candidates {
		if s, ok := f.Str(); ok && NormalizeTag(s) != "" {
			tagged = append(tagged, f)
		}
	}
	if len(tagged) < 2 {
		return nil
	}

	firstRaw, _ := tagged[0].Str()
	first := NormalizeTag(firstRaw)
	for _, f := range tagged[1:] {
		s, _ := f.Str()
		if normalized := NormalizeTag(s); normalized != first {
			return &model.Inconsistency{
				Severity: model.SeverityCritical,
				Code:     CodeTagMismatch,
				Field:    model.FieldEquipmentTag,
				Expected: first,
				Found:    normalized,
				Message:  "equipment tag differs across sources: " + strings.Join(allRawTags(tagged), ", "),
			}
		}
	}
	return nil
}

func allRawTags(candidates []model.ExtractedField) []string {
	out := make([]string, 0, len(candidates))
	for _, f := range candidates {
		if s, ok := f.Str(); ok {
			out = append(out, fmt.Sprintf("%q (%s)", s, f.Source))
		}
	}
	return out
}

// checkTemperatureConsistency applies only to thermography: ambient and
// reflected temperature must agree within maxAmbientReflectedDelta.
func checkTemperatureConsistency(c *model.ConsolidatedExtraction) *model.Inconsistency {
	if c.TestType != model.TestThermography {
		return nil
	}
	ambient, ok := c.Merged.Get(model.FieldAmbientTemp).Float()
	if !ok {
		return nil
	}
	reflected, ok := c.Merged.Get(model.FieldReflectedTemp).Float()
	if !ok {
		return nil
	}

	if math.Abs(ambient-reflected) <= maxAmbientReflectedDelta {
		return nil
	}

	return &model.Inconsistency{
		Severity: model.SeverityCritical,
		Code:     CodeTempDivergence,
		Field:    model.FieldAmbientTemp,
		Expected: fmt.Sprintf("within %.1f° of reflected %.1f°", maxAmbientReflectedDelta, reflected),
		Found:    fmt.Sprintf("%.1f°", ambient),
		Message: fmt.Sprintf("ambient temperature %.1f° and reflected temperature %.1f° diverge by more than %.1f°",
			ambient, reflected, maxAmbientReflectedDelta),
	}
}

// checkSerialConsistency compares instrument serial numbers across
// certificate, report, photo, and instrument sources.
func checkSerialConsistency(c *model.ConsolidatedExtraction) *model.Inconsistency {
	candidates := c.Candidates(model.FieldSerialNumber)

	var nonEmpty []model.ExtractedField
	for _, f := range candidates {
		if s, ok := f.Str(); ok && NormalizeSerial(s) != "" {
			nonEmpty = append(nonEmpty, f)
		}
	}
	if len(nonEmpty) < 2 {
		return nil
	}

	firstRaw, _ := nonEmpty[0].Str()
	first := NormalizeSerial(firstRaw)
	for _, f := range nonEmpty[1:] {
		s, _ := f.Str()
		if normalized := NormalizeSerial(s); normalized != first {
			return &model.Inconsistency{
				Severity: model.SeverityCritical,
				Code:     CodeSerialMismatch,
				Field:    model.FieldSerialNumber,
				Expected: first,
				Found:    normalized,
				Message: fmt.Sprintf("serial number %q (%s) does not match %q (%s)",
					s, f.Source, firstRaw, nonEmpty[0].Source),
			}
		}
	}
	return nil
}

// checkDisplayVsTabulated compares the instrument display reading in the
// photo with its tabulated counterpart using a relative tolerance. This is
// MINOR and never blocks approval on its own.
func checkDisplayVsTabulated(c *model.ConsolidatedExtraction) *model.Inconsistency {
	photo, ok := c.Merged.Get(model.FieldPhotoValue).Float()
	if !ok {
		return nil
	}
	table, ok := c.Merged.Get(model.FieldTableValue).Float()
	if !ok || table == 0 {
		return nil
	}

	if math.Abs(photo-table)/math.Abs(table) <= relativeValueTolerance {
		return nil
	}

	return &model.Inconsistency{
		Severity: model.SeverityMinor,
		Code:     CodeValueDivergence,
		Field:    model.FieldPhotoValue,
		Expected: fmt.Sprintf("within %.0f%% of tabulated %.4g", relativeValueTolerance*100, table),
		Found:    fmt.Sprintf("%.4g", photo),
		Message: fmt.Sprintf("display value %.4g diverges from tabulated value %.4g by more than %.0f%%",
			photo, table, relativeValueTolerance*100),
	}
}

// NormalizeTag canonicalizes an equipment tag: diacritics removed, uppercase,
// runs of whitespace, hyphens, and underscores collapsed to a single hyphen.
func NormalizeTag(s string) string {
	s = stripMarks(s)
	s = strings.ToUpper(strings.TrimSpace(s))

	var b strings.Builder
	b.Grow(len(s))
	pendingSep := false
	for _, r := range s {
		if unicode.IsSpace(r) || r == '-' || r == '_' {
			pendingSep = b.Len() > 0
			continue
		}
		if pendingSep {
			b.WriteByte('-')
			pendingSep = false
		}
		b.WriteRune(r)
	}
	return b.String()
}

// NormalizeSerial canonicalizes a serial number: diacritics removed,
// uppercase, whitespace, hyphens, underscores, and periods stripped.
func NormalizeSerial(s string) string {
	s = stripMarks(s)
	s = strings.ToUpper(s)

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsSpace(r) || r == '-' || r == '_' || r == '.' {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// stripMarks removes combining marks after NFKD decomposition so accented
// characters compare equal to their ASCII base.
func stripMarks(s string) string {
	decomposed := norm.NFKD.String(s)
	var b strings.Builder
	b.Grow(len(decomposed))
	for _, r := range decomposed {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		b.WriteRune(r)
	}
	return norm.NFC.String(b.String())
}

// toUTCDate strips the time-of-day component, keeping the calendar date in UTC.
func toUTCDate(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
