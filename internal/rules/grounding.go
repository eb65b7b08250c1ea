package rules

import (
	"fmt"

	"github.com/gridseal/compliance-cli/internal/model"
)

// groundingChecks validates a grounding (earth resistance) test report.
func groundingChecks(extraction *model.ConsolidatedExtraction) []model.NonConformity {
	var ncs []model.NonConformity

	if resistance, ok := extraction.Merged.Get(model.FieldGroundResistance).Float(); ok {
		if resistance > maxGroundResistanceOhms {
			ncs = append(ncs, model.NonConformity{
				Code:        CodeGroundResistance,
				Severity:    model.SeverityCritical,
				Description: fmt.Sprintf("ground resistance exceeds the %.0fΩ limit", maxGroundResistanceOhms),
				Evidence:    fmt.Sprintf("measured %.2fΩ", resistance),
				CorrectiveAction: "Improve the grounding electrode system and remeasure until resistance " +
					fmt.Sprintf("is at or below %.0fΩ.", maxGroundResistanceOhms),
			})
		}
	}

	if !truthy(extraction.Merged.Get(model.FieldWatermark)) {
		ncs = append(ncs, model.NonConformity{
			Code:             CodeMissingWatermark,
			Severity:         model.SeverityMajor,
			Description:      "measurement photo lacks the date/location watermark",
			Evidence:         "no watermark detected on the instrument photo",
			CorrectiveAction: "Retake the measurement photo with the watermark feature enabled.",
		})
	}

	if !truthy(extraction.Merged.Get(model.FieldSignature)) {
		ncs = append(ncs, model.NonConformity{
			Code:             CodeMissingSignature,
			Severity:         model.SeverityMajor,
			Description:      "report is missing the responsible technician's signature",
			Evidence:         "no signature detected in the report",
			CorrectiveAction: "Obtain the responsible technician's signature on the report.",
		})
	}

	return ncs
}

// truthy interprets presence-style fields: booleans directly, any other
// present value as true.
func truthy(f model.ExtractedField) bool {
	if !f.Present() {
		return false
	}
	if b, ok := f.Value.(bool); ok {
		return b
	}
	return true
}
