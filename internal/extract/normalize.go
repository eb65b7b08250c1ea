package extract

import (
	"encoding/json"
	"strings"

	"github.com/gridseal/compliance-cli/internal/model"
)

// rawField is the {"value":..., "confidence":...} shape the prompts request
// for every field.
type rawField struct {
	Value      any     `json:"value"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

// decodeObject pulls the first JSON object out of model text, tolerating
// markdown code fences and surrounding prose. Returns nil when no object
// can be decoded; normalizers treat that as an all-not-found response.
func decodeObject(text string) map[string]json.RawMessage {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end <= start {
		return nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(text[start:end+1]), &obj); err != nil {
		return nil
	}
	return obj
}

// normalizeField converts one raw JSON field into an ExtractedField. Any
// missing or malformed entry becomes a not-found field rather than an error.
func normalizeField(obj map[string]json.RawMessage, key, source string) model.ExtractedField {
	raw, ok := obj[key]
	if !ok {
		return model.NotFound("field missing from model output")
	}

	var rf rawField
	if err := json.Unmarshal(raw, &rf); err == nil && rf.Value != nil {
		f := model.NewField(rf.Value, rf.Confidence, source)
		f.Reason = rf.Reason
		return f
	}

	// Tolerate a bare scalar in place of the {value, confidence} wrapper;
	// the confidence is unknown, so it is scored conservatively.
	var scalar any
	if err := json.Unmarshal(raw, &scalar); err == nil && scalar != nil {
		return model.NewField(scalar, 0.5, source)
	}

	return model.NotFound("malformed field in model output")
}

// spotReading is one sub-reading in a thermal image extraction.
type spotReading struct {
	Label string   `json:"label"`
	Value *float64 `json:"value"`
}

// normalizeSpotReadings filters an array of sub-readings to well-formed
// entries only (a numeric value is required; the label is optional).
func normalizeSpotReadings(obj map[string]json.RawMessage, key string) []spotReading {
	raw, ok := obj[key]
	if !ok {
		return nil
	}

	var entries []json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil
	}

	var out []spotReading
	for _, e := range entries {
		var r spotReading
		if err := json.Unmarshal(e, &r); err != nil || r.Value == nil {
			continue
		}
		out = append(out, r)
	}
	return out
}
