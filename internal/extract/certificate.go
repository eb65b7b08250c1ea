package extract

import (
	"fmt"
	"strings"

	"github.com/gridseal/compliance-cli/internal/model"
)

const certificateSystemPrompt = `You are a metrology auditor reading calibration certificates for electrical test instruments. Extract the requested data exactly as printed. Return valid JSON only. Every field is an object {"value": <value or null>, "confidence": <0.0-1.0>}. Dates must be formatted YYYY-MM-DD. Use null for anything not present.`

const certificateUserPrompt = `Extract the following from this calibration certificate:
%s
Return JSON with these keys:
{
  "serial_number": {"value": "<instrument serial or null>", "confidence": 0.0},
  "calibration_expiry": {"value": "<YYYY-MM-DD or null>", "confidence": 0.0},
  "calibration_date": {"value": "<YYYY-MM-DD or null>", "confidence": 0.0},
  "issuing_laboratory": {"value": "<name or null>", "confidence": 0.0}
}`

// CertificateExtractor extracts instrument identity and validity dates from
// calibration certificates.
type CertificateExtractor struct{}

// NewCertificateExtractor creates the calibration-certificate extractor.
func NewCertificateExtractor() *CertificateExtractor {
	return &CertificateExtractor{}
}

func (e *CertificateExtractor) DocumentType() model.DocumentType {
	return model.DocCertificate
}

func (e *CertificateExtractor) Source() string {
	return "certificate"
}

func (e *CertificateExtractor) SystemPrompt() string {
	return certificateSystemPrompt
}

func (e *CertificateExtractor) UserPrompt(hints Hints) string {
	var check strings.Builder
	if hints.ExpectedSerial != "" {
		fmt.Fprintf(&check, "The instrument serial number is expected to be %q; verify it against the certificate.\n", hints.ExpectedSerial)
	}
	if hints.Context != "" {
		fmt.Fprintf(&check, "Context from prior inspections:\n%s\n", hints.Context)
	}
	return fmt.Sprintf(certificateUserPrompt, check.String())
}

func (e *CertificateExtractor) Normalize(text string) model.NormalizedExtraction {
	obj := decodeObject(text)
	out := make(model.NormalizedExtraction)
	if obj == nil {
		for _, key := range certificateFields {
			out[key] = model.NotFound("unparseable model output")
		}
		return out
	}

	for _, key := range certificateFields {
		out[key] = normalizeField(obj, key, e.Source())
	}
	return out
}

var certificateFields = []string{
	model.FieldSerialNumber,
	model.FieldCalibrationExpiry,
	"calibration_date",
	"issuing_laboratory",
}
