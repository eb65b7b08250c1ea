package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewField(t *testing.T) {
	f := NewField("TRF-01", 0.9, "visible_photo")
	assert.True(t, f.Present())
	assert.Equal(t, "TRF-01", f.Value)
	assert.Equal(t, "visible_photo", f.Source)

	// Nil values collapse to not-found regardless of confidence.
	nf := NewField(nil, 0.9, "visible_photo")
	assert.False(t, nf.Present())
	assert.Equal(t, SourceNotFound, nf.Source)
	assert.Zero(t, nf.Confidence)
}

func TestClampConfidence(t *testing.T) {
	assert.Equal(t, 0.0, ClampConfidence(-0.5))
	assert.Equal(t, 1.0, ClampConfidence(1.5))
	assert.Equal(t, 0.7, ClampConfidence(0.7))
	assert.Equal(t, 1.0, NewField(1, 37.0, "s").Confidence)
}

func TestFieldStr(t *testing.T) {
	s, ok := NewField("GND-07", 0.8, "s").Str()
	require.True(t, ok)
	assert.Equal(t, "GND-07", s)

	_, ok = NewField(3.2, 0.8, "s").Str()
	assert.False(t, ok)
	_, ok = NewField("", 0.8, "s").Str()
	assert.False(t, ok)
	_, ok = NotFound("").Str()
	assert.False(t, ok)
}

func TestFieldFloat(t *testing.T) {
	cases := []struct {
		name  string
		value any
		want  float64
		ok    bool
	}{
		{"float64", 3.2, 3.2, true},
		{"float32", float32(2.5), 2.5, true},
		{"int", 42, 42, true},
		{"int64", int64(7), 7, true},
		{"json number", json.Number("5.75"), 5.75, true},
		{"numeric string", "12.5", 12.5, true},
		{"non-numeric string", "twelve", 0, false},
		{"bool", true, 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := NewField(tc.value, 0.8, "s").Float()
			assert.Equal(t, tc.ok, ok)
			if tc.ok {
				assert.InDelta(t, tc.want, got, 1e-9)
			}
		})
	}
}

func TestFieldTime(t *testing.T) {
	got, ok := NewField("2026-03-15", 0.9, "s").Time()
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC), got)

	got, ok = NewField("2026-03-15T10:30:00Z", 0.9, "s").Time()
	require.True(t, ok)
	assert.Equal(t, 10, got.Hour())

	_, ok = NewField("15/03/2026", 0.9, "s").Time()
	assert.False(t, ok)
	_, ok = NewField(3.2, 0.9, "s").Time()
	assert.False(t, ok)
}

func TestNormalizedExtractionGet(t *testing.T) {
	n := NormalizedExtraction{FieldEquipmentTag: NewField("TRF-01", 0.9, "s")}
	assert.True(t, n.Get(FieldEquipmentTag).Present())
	assert.False(t, n.Get(FieldSerialNumber).Present())
}

func TestMergeHigherConfidenceWins(t *testing.T) {
	a := NormalizedExtraction{FieldEquipmentTag: NewField("TRF-01", 0.6, "thermal_image")}
	b := NormalizedExtraction{FieldEquipmentTag: NewField("TRF-99", 0.9, "visible_photo")}

	merged := a.Merge(b)
	assert.Equal(t, "TRF-99", merged.Get(FieldEquipmentTag).Value)
	assert.Equal(t, "visible_photo", merged.Get(FieldEquipmentTag).Source)
}

func TestMergeTieKeepsReceiver(t *testing.T) {
	a := NormalizedExtraction{FieldEquipmentTag: NewField("TRF-01", 0.8, "thermal_image")}
	b := NormalizedExtraction{FieldEquipmentTag: NewField("TRF-99", 0.8, "visible_photo")}

	merged := a.Merge(b)
	assert.Equal(t, "TRF-01", merged.Get(FieldEquipmentTag).Value)
}

func TestMergeAbsentNeverDisplacesPresent(t *testing.T) {
	a := NormalizedExtraction{FieldGroundResistance: NewField(3.2, 0.4, "visible_photo")}
	b := NormalizedExtraction{FieldGroundResistance: NotFound("not visible")}

	merged := a.Merge(b)
	assert.True(t, merged.Get(FieldGroundResistance).Present())

	// And a present field always fills an absent slot.
	merged = b.Merge(a)
	assert.True(t, merged.Get(FieldGroundResistance).Present())
}

func TestMergeDoesNotMutateInputs(t *testing.T) {
	a := NormalizedExtraction{FieldEquipmentTag: NewField("TRF-01", 0.6, "a")}
	b := NormalizedExtraction{FieldEquipmentTag: NewField("TRF-02", 0.9, "b")}

	_ = a.Merge(b)
	assert.Equal(t, "TRF-01", a.Get(FieldEquipmentTag).Value)
	assert.Equal(t, "TRF-02", b.Get(FieldEquipmentTag).Value)
}

func TestCandidates(t *testing.T) {
	c := &ConsolidatedExtraction{
		Sources: []SourcedExtraction{
			{Source: "thermal_image", Fields: NormalizedExtraction{
				FieldEquipmentTag: NewField("TRF-01", 0.7, "thermal_image"),
			}},
			{Source: "visible_photo", Fields: NormalizedExtraction{
				FieldEquipmentTag: NewField("TRF-01", 0.9, "visible_photo"),
				FieldSerialNumber: NotFound(""),
			}},
		},
	}

	tags := c.Candidates(FieldEquipmentTag)
	require.Len(t, tags, 2)
	assert.Equal(t, "thermal_image", tags[0].Source)

	// Absent fields are not candidates.
	assert.Empty(t, c.Candidates(FieldSerialNumber))
}

func TestInsulationField(t *testing.T) {
	assert.Equal(t, "insulation_AB", InsulationField("AB"))
	assert.Len(t, InsulationPairs, 6)
}
