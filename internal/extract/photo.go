package extract

import (
	"fmt"
	"strings"

	"github.com/gridseal/compliance-cli/internal/model"
)

const photoSystemPrompt = `You are an electrical inspection auditor reading photos of test instruments and report pages. Extract the requested data exactly as displayed. Return valid JSON only. Every field is an object {"value": <value or null>, "confidence": <0.0-1.0>}. Use null for anything not visible.`

const photoUserPrompt = `Extract the following from this photo of an instrument or report page:
%s
Return JSON with these keys:
{
  "equipment_tag": {"value": "<tag or null>", "confidence": 0.0},
  "serial_number": {"value": "<serial or null>", "confidence": 0.0},
  "measurement_date": {"value": "<YYYY-MM-DD or null>", "confidence": 0.0},
  "display_value": {"value": 0.0, "confidence": 0.0},
  "tabulated_value": {"value": 0.0, "confidence": 0.0},
  "ground_resistance": {"value": 0.0, "confidence": 0.0},
  "absorption_index": {"value": 0.0, "confidence": 0.0},
  "insulation_AB": {"value": 0.0, "confidence": 0.0},
  "insulation_BC": {"value": 0.0, "confidence": 0.0},
  "insulation_CA": {"value": 0.0, "confidence": 0.0},
  "insulation_AT": {"value": 0.0, "confidence": 0.0},
  "insulation_BT": {"value": 0.0, "confidence": 0.0},
  "insulation_CT": {"value": 0.0, "confidence": 0.0},
  "photo_watermark": {"value": true, "confidence": 0.0},
  "technician_signature": {"value": true, "confidence": 0.0}
}`

// PhotoExtractor extracts identification, displayed readings, and tabulated
// data from visible-light photos of instruments and report pages.
type PhotoExtractor struct{}

// NewPhotoExtractor creates the visible-photo extractor.
func NewPhotoExtractor() *PhotoExtractor {
	return &PhotoExtractor{}
}

func (e *PhotoExtractor) DocumentType() model.DocumentType {
	return model.DocVisiblePhoto
}

func (e *PhotoExtractor) Source() string {
	return "visible_photo"
}

func (e *PhotoExtractor) SystemPrompt() string {
	return photoSystemPrompt
}

func (e *PhotoExtractor) UserPrompt(hints Hints) string {
	var check strings.Builder
	if hints.ExpectedTag != "" {
		fmt.Fprintf(&check, "The equipment tag is expected to be %q; verify it against the photo.\n", hints.ExpectedTag)
	}
	if hints.ExpectedSerial != "" {
		fmt.Fprintf(&check, "The instrument serial number is expected to be %q; verify it against the photo.\n", hints.ExpectedSerial)
	}
	if hints.Context != "" {
		fmt.Fprintf(&check, "Context from prior inspections:\n%s\n", hints.Context)
	}
	return fmt.Sprintf(photoUserPrompt, check.String())
}

func (e *PhotoExtractor) Normalize(text string) model.NormalizedExtraction {
	obj := decodeObject(text)
	out := make(model.NormalizedExtraction)
	if obj == nil {
		for _, key := range photoFields() {
			out[key] = model.NotFound("unparseable model output")
		}
		return out
	}

	for _, key := range photoFields() {
		out[key] = normalizeField(obj, key, e.Source())
	}
	return out
}

func photoFields() []string {
	fields := []string{
		model.FieldEquipmentTag,
		model.FieldSerialNumber,
		model.FieldMeasurementDate,
		model.FieldPhotoValue,
		model.FieldTableValue,
		model.FieldGroundResistance,
		model.FieldAbsorptionIndex,
		model.FieldWatermark,
		model.FieldSignature,
	}
	for _, pair := range model.InsulationPairs {
		fields = append(fields, model.InsulationField(pair))
	}
	return fields
}
