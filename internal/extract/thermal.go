package extract

import (
	"fmt"
	"strings"

	"github.com/gridseal/compliance-cli/internal/model"
)

const thermalSystemPrompt = `You are an expert thermographer analyzing infrared inspection images of electrical equipment. Extract the requested measurements exactly as displayed. Return valid JSON only. Every field is an object {"value": <value or null>, "confidence": <0.0-1.0>}. Use null for anything not visible in the image.`

const thermalUserPrompt = `Extract the following from this thermal image:
%s
Return JSON with these keys:
{
  "equipment_tag": {"value": "<tag or null>", "confidence": 0.0},
  "ambient_temperature": {"value": 0.0, "confidence": 0.0},
  "reflected_temperature": {"value": 0.0, "confidence": 0.0},
  "max_spot_temperature": {"value": 0.0, "confidence": 0.0},
  "reference_phase_temperature": {"value": 0.0, "confidence": 0.0},
  "load_reading_a": {"value": 0.0, "confidence": 0.0},
  "load_reading_b": {"value": 0.0, "confidence": 0.0},
  "spot_readings": [{"label": "<spot name>", "value": 0.0}]
}`

// ThermalExtractor extracts measurements from infrared inspection images.
type ThermalExtractor struct{}

// NewThermalExtractor creates the thermal image extractor.
func NewThermalExtractor() *ThermalExtractor {
	return &ThermalExtractor{}
}

func (e *ThermalExtractor) DocumentType() model.DocumentType {
	return model.DocThermalImage
}

func (e *ThermalExtractor) Source() string {
	return "thermal_image"
}

func (e *ThermalExtractor) SystemPrompt() string {
	return thermalSystemPrompt
}

func (e *ThermalExtractor) UserPrompt(hints Hints) string {
	var check strings.Builder
	if hints.ExpectedTag != "" {
		fmt.Fprintf(&check, "The equipment tag is expected to be %q; verify it against the image overlay.\n", hints.ExpectedTag)
	}
	if hints.Context != "" {
		fmt.Fprintf(&check, "Context from prior inspections:\n%s\n", hints.Context)
	}
	return fmt.Sprintf(thermalUserPrompt, check.String())
}

// Normalize parses the model output. Spot readings are filtered to
// well-formed entries; when the model omits the maximum spot temperature,
// it is derived from the highest surviving spot reading.
func (e *ThermalExtractor) Normalize(text string) model.NormalizedExtraction {
	obj := decodeObject(text)
	out := make(model.NormalizedExtraction)
	if obj == nil {
		for _, key := range thermalFields {
			out[key] = model.NotFound("unparseable model output")
		}
		return out
	}

	for _, key := range thermalFields {
		out[key] = normalizeField(obj, key, e.Source())
	}

	readings := normalizeSpotReadings(obj, "spot_readings")
	if len(readings) > 0 && !out[model.FieldMaxSpotTemp].Present() {
		maxVal := *readings[0].Value
		for _, r := range readings[1:] {
			if *r.Value > maxVal {
				maxVal = *r.Value
			}
		}
		out[model.FieldMaxSpotTemp] = model.NewField(maxVal, 0.5, e.Source())
	}

	return out
}

var thermalFields = []string{
	model.FieldEquipmentTag,
	model.FieldAmbientTemp,
	model.FieldReflectedTemp,
	model.FieldMaxSpotTemp,
	model.FieldReferenceTemp,
	model.FieldLoadReadingA,
	model.FieldLoadReadingB,
}
