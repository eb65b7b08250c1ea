package rules

import (
	"fmt"

	"github.com/gridseal/compliance-cli/internal/model"
)

// meggerChecks validates an insulation-resistance (megger) test report.
// All six phase combinations must be present; readings are in megaohms.
func meggerChecks(extraction *model.ConsolidatedExtraction) []model.NonConformity {
	var ncs []model.NonConformity

	minReading := 0.0
	haveReading := false
	for _, pair := range model.InsulationPairs {
		reading, ok := extraction.Merged.Get(model.InsulationField(pair)).Float()
		if !ok {
			ncs = append(ncs, model.NonConformity{
				Code:             CodeMissingInsulation,
				Severity:         model.SeverityCritical,
				Description:      fmt.Sprintf("insulation resistance reading for phase combination %s is missing", pair),
				Evidence:         fmt.Sprintf("no %s reading found in any evidence source", pair),
				CorrectiveAction: fmt.Sprintf("Measure and record the %s insulation resistance.", pair),
			})
			continue
		}
		if !haveReading || reading < minReading {
			minReading = reading
			haveReading = true
		}
	}

	if haveReading && minReading < minInsulationMegaohms {
		ncs = append(ncs, model.NonConformity{
			Code:     CodeLowInsulation,
			Severity: model.SeverityCritical,
			Description: fmt.Sprintf("minimum insulation resistance is below the %.0f MΩ threshold",
				minInsulationMegaohms),
			Evidence:         fmt.Sprintf("lowest reading %.1f MΩ", minReading),
			CorrectiveAction: "Investigate insulation degradation on the affected phases before energizing.",
		})
	}

	if index, ok := extraction.Merged.Get(model.FieldAbsorptionIndex).Float(); ok && index < minAbsorptionIndex {
		ncs = append(ncs, model.NonConformity{
			Code:             CodeLowAbsorptionIndex,
			Severity:         model.SeverityMajor,
			Description:      fmt.Sprintf("absorption index is below %.1f", minAbsorptionIndex),
			Evidence:         fmt.Sprintf("absorption index %.2f", index),
			CorrectiveAction: "Dry or recondition the insulation and repeat the absorption test.",
		})
	}

	return ncs
}
