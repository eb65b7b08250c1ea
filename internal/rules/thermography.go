package rules

import (
	"fmt"

	"github.com/gridseal/compliance-cli/internal/model"
)

// thermographyChecks validates a thermographic inspection report. Delta-T is
// the spread between the hottest spot and the reference phase, in the scale
// the extraction reported.
func thermographyChecks(extraction *model.ConsolidatedExtraction) []model.NonConformity {
	var ncs []model.NonConformity

	maxSpot, okSpot := extraction.Merged.Get(model.FieldMaxSpotTemp).Float()
	reference, okRef := extraction.Merged.Get(model.FieldReferenceTemp).Float()
	if okSpot && okRef {
		deltaT := maxSpot - reference
		switch {
		case deltaT > criticalDeltaT:
			ncs = append(ncs, model.NonConformity{
				Code:     CodeCriticalDeltaT,
				Severity: model.SeverityCritical,
				Description: fmt.Sprintf("phase-to-phase temperature delta exceeds %.0f°",
					criticalDeltaT),
				Evidence:         fmt.Sprintf("delta-T %.1f° (spot %.1f°, reference %.1f°)", deltaT, maxSpot, reference),
				CorrectiveAction: "De-energize and repair the affected connection immediately, then reinspect.",
			})
		case deltaT > elevatedDeltaT:
			ncs = append(ncs, model.NonConformity{
				Code:     CodeElevatedDeltaT,
				Severity: model.SeverityMinor,
				Description: fmt.Sprintf("phase-to-phase temperature delta is elevated (above %.0f°)",
					elevatedDeltaT),
				Evidence:         fmt.Sprintf("delta-T %.1f°", deltaT),
				CorrectiveAction: "Monitor the connection and schedule maintenance at the next outage.",
			})
		}
	}

	for _, load := range []struct{ field, label string }{
		{model.FieldLoadReadingA, "first"},
		{model.FieldLoadReadingB, "second"},
	} {
		if !extraction.Merged.Get(load.field).Present() {
			ncs = append(ncs, model.NonConformity{
				Code:             CodeMissingLoadReading,
				Severity:         model.SeverityMajor,
				Description:      fmt.Sprintf("the %s mandatory load reading is missing", load.label),
				Evidence:         fmt.Sprintf("no value found for %s", load.field),
				CorrectiveAction: "Record both load readings at the time of the thermographic inspection.",
			})
		}
	}

	if !extraction.Merged.Get(model.FieldReflectedTemp).Present() {
		ncs = append(ncs, model.NonConformity{
			Code:             CodeMissingReflectedDoc,
			Severity:         model.SeverityMinor,
			Description:      "reflected temperature is not documented",
			Evidence:         "no reflected temperature found in any evidence source",
			CorrectiveAction: "Document the reflected apparent temperature used for emissivity compensation.",
		})
	}

	return ncs
}
