package units

import (
	"math"
	"testing"
)

func TestConvertHeight(t *testing.T) {
	tests := []struct {
		name     string
		metres   float64
		units    string
		expected float64
	}{
		{"1 m to ft", 1.0, Feet, 3.28084},
		{"significant height 2.5 m to ft", 2.5, Feet, 8.2021},
		{"identity in metres", 2.5, Metres, 2.5},
		{"unknown units pass through", 2.5, "fathoms", 2.5},
		{"zero height", 0.0, Feet, 0.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ConvertHeight(tt.metres, tt.units)
			if math.Abs(result-tt.expected) > 0.001 {
				t.Errorf("ConvertHeight(%f, %s) = %f, want %f", tt.metres, tt.units, result, tt.expected)
			}
		})
	}
}

func TestIsValidHeightUnit(t *testing.T) {
	for _, u := range []string{Metres, Feet} {
		if !IsValidHeightUnit(u) {
			t.Errorf("IsValidHeightUnit(%q) = false", u)
		}
	}
	for _, u := range []string{"", "cm", "M", "FT"} {
		if IsValidHeightUnit(u) {
			t.Errorf("IsValidHeightUnit(%q) = true", u)
		}
	}
}

func TestAngleConversions(t *testing.T) {
	if got := RadToDeg(math.Pi / 4); math.Abs(got-45) > 1e-12 {
		t.Errorf("RadToDeg(pi/4) = %v", got)
	}
	if got := DegToRad(180); math.Abs(got-math.Pi) > 1e-12 {
		t.Errorf("DegToRad(180) = %v", got)
	}
	tests := []struct{ in, want float64 }{
		{0, 0},
		{360, 0},
		{-90, 270},
		{725, 5},
	}
	for _, tt := range tests {
		if got := NormalizeDegrees(tt.in); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("NormalizeDegrees(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestFrequencyConversions(t *testing.T) {
	if got := HzToRadPerSec(1); math.Abs(got-2*math.Pi) > 1e-12 {
		t.Errorf("HzToRadPerSec(1) = %v", got)
	}
	if got := RadPerSecToHz(2 * math.Pi); math.Abs(got-1) > 1e-12 {
		t.Errorf("RadPerSecToHz(2pi) = %v", got)
	}
	if got := FrequencyToPeriod(0.5); math.Abs(got-2) > 1e-12 {
		t.Errorf("FrequencyToPeriod(0.5) = %v", got)
	}
	if got := FrequencyToPeriod(0); got != 0 {
		t.Errorf("FrequencyToPeriod(0) = %v, want 0", got)
	}
}
