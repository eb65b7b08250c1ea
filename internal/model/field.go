// Package model defines the core data types for the compliance analysis
// pipeline: extracted fields, cross-source findings, verdicts, analyses,
// and the knowledge store records used for retrieval.
package model

import (
	"encoding/json"
	"strconv"
	"time"
)

// SourceNotFound is the sentinel source for fields the model could not locate.
const SourceNotFound = "not_found"

// Semantic field names shared by extractors, the validator, and the rules
// engine. Insulation readings use InsulationField(pair).
const (
	FieldEquipmentTag      = "equipment_tag"
	FieldSerialNumber      = "serial_number"
	FieldCalibrationExpiry = "calibration_expiry"
	FieldMeasurementDate   = "measurement_date"
	FieldAmbientTemp       = "ambient_temperature"
	FieldReflectedTemp     = "reflected_temperature"
	FieldGroundResistance  = "ground_resistance"
	FieldAbsorptionIndex   = "absorption_index"
	FieldPhotoValue        = "display_value"
	FieldTableValue        = "tabulated_value"
	FieldWatermark         = "photo_watermark"
	FieldSignature         = "technician_signature"
	FieldLoadReadingA      = "load_reading_a"
	FieldLoadReadingB      = "load_reading_b"
	FieldMaxSpotTemp       = "max_spot_temperature"
	FieldReferenceTemp     = "reference_phase_temperature"
)

// InsulationPairs lists the six phase combinations a megger test must report.
var InsulationPairs = []string{"AB", "BC", "CA", "AT", "BT", "CT"}

// InsulationField returns the field name for one phase-pair insulation reading.
func InsulationField(pair string) string {
	return "insulation_" + pair
}

// ExtractedField is one fact pulled from one evidence source.
// A nil Value implies Confidence == 0 and Source == SourceNotFound.
type ExtractedField struct {
	Value      any     `json:"value"`
	Confidence float64 `json:"confidence"`
	Source     string  `json:"source"`
	Reason     string  `json:"reason,omitempty"`
}

// NewField builds a present field with confidence clamped to [0,1].
func NewField(value any, confidence float64, source string) ExtractedField {
	if value == nil {
		return NotFound("")
	}
	return ExtractedField{
		Value:      value,
		Confidence: ClampConfidence(confidence),
		Source:     source,
	}
}

// NotFound builds the canonical absent field. The reason is optional and
// records why extraction failed (malformed output, field missing, etc.).
func NotFound(reason string) ExtractedField {
	return ExtractedField{Value: nil, Confidence: 0, Source: SourceNotFound, Reason: reason}
}

// Present reports whether the field carries a value.
func (f ExtractedField) Present() bool {
	return f.Value != nil
}

// Str returns the value as a string if present and string-typed.
func (f ExtractedField) Str() (string, bool) {
	s, ok := f.Value.(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

// Float returns the value as a float64, coercing the numeric types that
// survive a JSON round trip.
func (f ExtractedField) Float() (float64, bool) {
	switch v := f.Value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		n, err := v.Float64()
		return n, err == nil
	case string:
		n, err := strconv.ParseFloat(v, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

// Time returns the value as a time.Time. String values are parsed as
// RFC 3339 or calendar dates (2006-01-02).
func (f ExtractedField) Time() (time.Time, bool) {
	switch v := f.Value.(type) {
	case time.Time:
		return v, true
	case string:
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			return t, true
		}
		if t, err := time.Parse("2006-01-02", v); err == nil {
			return t, true
		}
		return time.Time{}, false
	default:
		return time.Time{}, false
	}
}

// ClampConfidence bounds a model-reported confidence to [0,1].
func ClampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

// NormalizedExtraction maps semantic field names to extracted fields for one
// document. Instances are built once per extraction call and never mutated;
// combining sources goes through Merge, which returns a fresh map.
type NormalizedExtraction map[string]ExtractedField

// Get returns the field for name, or a not-found field if absent.
func (n NormalizedExtraction) Get(name string) ExtractedField {
	if f, ok := n[name]; ok {
		return f
	}
	return NotFound("")
}

// Clone returns a shallow copy.
func (n NormalizedExtraction) Clone() NormalizedExtraction {
	out := make(NormalizedExtraction, len(n))
	for k, v := range n {
		out[k] = v
	}
	return out
}

// Merge combines n with other into a new map. For fields present in both,
// the higher-confidence value wins; on a tie the receiver (earlier source)
// is kept. Absent fields never displace present ones.
func (n NormalizedExtraction) Merge(other NormalizedExtraction) NormalizedExtraction {
	out := n.Clone()
	for name, candidate := range other {
		if !candidate.Present() {
			continue
		}
		existing, ok := out[name]
		if !ok || !existing.Present() || candidate.Confidence > existing.Confidence {
			out[name] = candidate
		}
	}
	return out
}

// SourcedExtraction pairs one evidence source with its normalized fields.
type SourcedExtraction struct {
	Source string               `json:"source"`
	Fields NormalizedExtraction `json:"fields"`
}

// ConsolidatedExtraction holds every per-source extraction for one analysis,
// in processing order, plus the merged view used by the rules engine.
type ConsolidatedExtraction struct {
	TestType TestType             `json:"test_type"`
	Sources  []SourcedExtraction  `json:"sources"`
	Merged   NormalizedExtraction `json:"merged"`
}

// Candidates returns the present fields for name across all sources, in
// processing order.
func (c *ConsolidatedExtraction) Candidates(name string) []ExtractedField {
	var out []ExtractedField
	for _, src := range c.Sources {
		if f := src.Fields.Get(name); f.Present() {
			out = append(out, f)
		}
	}
	return out
}
