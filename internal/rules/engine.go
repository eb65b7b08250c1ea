// Package rules evaluates a consolidated extraction against the universal
// and test-type-specific compliance checks, producing non-conformities, a
// verdict, and a quality score. Evaluation is deterministic and side-effect
// free over an immutable snapshot.
package rules

import (
	"fmt"
	"time"

	"github.com/gridseal/compliance-cli/internal/model"
)

// Non-conformity codes emitted by the engine. Inconsistency findings keep
// the validator's codes.
const (
	CodeCalibrationExpired  = "CAL-EXPIRED"
	CodeCalibrationSameDay  = "CAL-EXPIRES-TODAY"
	CodeGroundResistance    = "GND-RESISTANCE"
	CodeMissingWatermark    = "GND-WATERMARK"
	CodeMissingSignature    = "GND-SIGNATURE"
	CodeMissingInsulation   = "MEG-MISSING-READING"
	CodeLowInsulation       = "MEG-LOW-RESISTANCE"
	CodeLowAbsorptionIndex  = "MEG-ABSORPTION"
	CodeCriticalDeltaT      = "THERM-DELTA-CRITICAL"
	CodeElevatedDeltaT      = "THERM-DELTA-ELEVATED"
	CodeMissingLoadReading  = "THERM-LOAD-READING"
	CodeMissingReflectedDoc = "THERM-REFLECTED-TEMP"
)

// Rule thresholds.
const (
	maxGroundResistanceOhms = 5.0
	minInsulationMegaohms   = 100.0
	minAbsorptionIndex      = 1.4
	criticalDeltaT          = 15.0
	elevatedDeltaT          = 3.0
)

// Result is the outcome of one evaluation.
type Result struct {
	NonConformities []model.NonConformity `json:"non_conformities"`
	Verdict         model.Verdict         `json:"verdict"`
	Score           float64               `json:"score"`
}

// Evaluate runs the universal check set, the test-type-specific checks, and
// folds in the validator's inconsistency findings with their severity
// unchanged. The verdict derives solely from the resulting list.
func Evaluate(testType model.TestType, extraction *model.ConsolidatedExtraction, inconsistencies []model.Inconsistency) Result {
	var ncs []model.NonConformity

	ncs = append(ncs, universalChecks(extraction)...)

	switch testType {
	case model.TestGrounding:
		ncs = append(ncs, groundingChecks(extraction)...)
	case model.TestMegger:
		ncs = append(ncs, meggerChecks(extraction)...)
	case model.TestThermography:
		ncs = append(ncs, thermographyChecks(extraction)...)
	}

	for _, inc := range inconsistencies {
		ncs = append(ncs, model.NonConformity{
			Code:             inc.Code,
			Severity:         inc.Severity,
			Description:      inc.Message,
			Evidence:         fmt.Sprintf("expected %s, found %s", inc.Expected, inc.Found),
			CorrectiveAction: "Reconcile the conflicting evidence sources and resubmit the report.",
		})
	}

	verdict := model.DeriveVerdict(ncs)
	return Result{
		NonConformities: ncs,
		Verdict:         verdict,
		Score:           score(verdict, ncs),
	}
}

// universalChecks runs for every test type: the calibration certificate must
// outlive the measurement date. Same-day expiry is a warning, not a
// rejection.
func universalChecks(extraction *model.ConsolidatedExtraction) []model.NonConformity {
	expiry, ok := extraction.Merged.Get(model.FieldCalibrationExpiry).Time()
	if !ok {
		return nil
	}
	measured, ok := extraction.Merged.Get(model.FieldMeasurementDate).Time()
	if !ok {
		return nil
	}

	switch {
	case Expired(expiry, measured):
		return []model.NonConformity{{
			Code:        CodeCalibrationExpired,
			Severity:    model.SeverityCritical,
			Description: "instrument calibration certificate expired before the measurement date",
			Evidence: fmt.Sprintf("expiry %s, measurement %s",
				calendarDate(expiry).Format("2006-01-02"), calendarDate(measured).Format("2006-01-02")),
			CorrectiveAction: "Recalibrate the instrument and repeat the measurement with a valid certificate.",
		}}
	case ExpiringToday(expiry, measured):
		return []model.NonConformity{{
			Code:        CodeCalibrationSameDay,
			Severity:    model.SeverityMinor,
			Description: "instrument calibration certificate expires on the measurement date",
			Evidence: fmt.Sprintf("expiry and measurement both on %s",
				calendarDate(measured).Format("2006-01-02")),
			CorrectiveAction: "Schedule recalibration before the next measurement cycle.",
		}}
	default:
		return nil
	}
}

// Expired reports whether the calibration expiry falls strictly before the
// measurement date. Both timestamps are reduced to calendar dates in UTC, so
// the result is invariant to time-of-day.
func Expired(expiry, measured time.Time) bool {
	return calendarDate(expiry).Before(calendarDate(measured))
}

// ExpiringToday reports whether expiry and measurement share a calendar date.
// Mutually exclusive with Expired for any input pair.
func ExpiringToday(expiry, measured time.Time) bool {
	return calendarDate(expiry).Equal(calendarDate(measured))
}

func calendarDate(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// score maps a verdict and its findings to a quality number in [0,100].
// Bands never overlap: REJECTED stays at or below 50, APPROVED_WITH_COMMENTS
// occupies [60,85], APPROVED is 100, so callers can sort and filter by score.
func score(verdict model.Verdict, ncs []model.NonConformity) float64 {
	var criticals, majors, minors int
	for _, nc := range ncs {
		switch nc.Severity {
		case model.SeverityCritical:
			criticals++
		case model.SeverityMajor:
			majors++
		case model.SeverityMinor:
			minors++
		}
	}

	switch verdict {
	case model.VerdictApproved:
		return 100
	case model.VerdictApprovedWithComments:
		s := 85 - float64(majors)*5 - float64(minors)*2
		if s < 60 {
			s = 60
		}
		return s
	default:
		s := 50 - float64(criticals)*10 - float64(majors)*5 - float64(minors)*2
		if s < 0 {
			s = 0
		}
		return s
	}
}

// MeanConfidence averages the confidence of all present merged fields.
// Returns 0 for an empty extraction.
func MeanConfidence(extraction *model.ConsolidatedExtraction) float64 {
	var sum float64
	var count int
	for _, f := range extraction.Merged {
		if f.Present() {
			sum += f.Confidence
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}
