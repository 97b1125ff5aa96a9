package bed

import (
	"encoding/json"
	"testing"

	"github.com/nugget/sleepside/internal/eightsleep"
)

func TestSide_String(t *testing.T) {
	if got := Left.String(); got != "left" {
		t.Errorf("Left.String() = %q, want %q", got, "left")
	}
	if got := Right.String(); got != "right" {
		t.Errorf("Right.String() = %q, want %q", got, "right")
	}
}

func TestSide_Accessors(t *testing.T) {
	snap := eightsleep.Snapshot{
		"leftHeatingLevel":        float64(27),
		"leftTargetHeatingLevel":  float64(10),
		"leftNowHeating":          false,
		"leftHeatingDuration":     float64(0),
		"rightHeatingLevel":       float64(42),
		"rightTargetHeatingLevel": float64(35),
		"rightNowHeating":         true,
		"rightHeatingDuration":    float64(1800),
	}

	if v, ok := Left.HeatingLevel(snap); !ok || v != 27 {
		t.Errorf("Left.HeatingLevel = (%d, %v), want (27, true)", v, ok)
	}
	if v, ok := Left.TargetLevel(snap); !ok || v != 10 {
		t.Errorf("Left.TargetLevel = (%d, %v), want (10, true)", v, ok)
	}
	if v, ok := Left.NowHeating(snap); !ok || v {
		t.Errorf("Left.NowHeating = (%v, %v), want (false, true)", v, ok)
	}
	if v, ok := Right.HeatingLevel(snap); !ok || v != 42 {
		t.Errorf("Right.HeatingLevel = (%d, %v), want (42, true)", v, ok)
	}
	if v, ok := Right.NowHeating(snap); !ok || !v {
		t.Errorf("Right.NowHeating = (%v, %v), want (true, true)", v, ok)
	}
	if v, ok := Right.HeatingRemaining(snap); !ok || v != 1800 {
		t.Errorf("Right.HeatingRemaining = (%d, %v), want (1800, true)", v, ok)
	}
}

func TestSide_AccessorsMissing(t *testing.T) {
	// Missing fields and nil snapshots both read as "not available",
	// never as zero values.
	snap := eightsleep.Snapshot{"leftHeatingLevel": float64(27)}

	if _, ok := Right.HeatingLevel(snap); ok {
		t.Error("Right.HeatingLevel reported ok for a missing field")
	}
	if _, ok := Left.NowHeating(snap); ok {
		t.Error("Left.NowHeating reported ok for a missing field")
	}
	if _, ok := Left.HeatingLevel(nil); ok {
		t.Error("HeatingLevel reported ok for a nil snapshot")
	}
	if _, ok := Left.NowHeating(nil); ok {
		t.Error("NowHeating reported ok for a nil snapshot")
	}
}

func TestIntField_Coercion(t *testing.T) {
	tests := []struct {
		name   string
		value  any
		want   int
		wantOK bool
	}{
		{"float64", float64(27.0), 27, true},
		{"int", int(27), 27, true},
		{"json.Number", json.Number("27"), 27, true},
		{"json.Number fraction", json.Number("27.5"), 0, false},
		{"string", "27", 0, false},
		{"bool", true, 0, false},
		{"nil value", nil, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := eightsleep.Snapshot{"leftHeatingLevel": tt.value}
			got, ok := intField(snap, "leftHeatingLevel")
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("intField(%v) = (%d, %v), want (%d, %v)",
					tt.value, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}
