// Package units provides shared constants and conversion for the wave
// height and direction units reported by the API. Analysis works in SI
// internally (metres, radians, Hz); conversion happens at the edge.
package units

import "math"

// Height unit constants
const (
	Metres = "m"
	Feet   = "ft"
)

// ValidHeightUnits contains all valid height unit values
var ValidHeightUnits = []string{Metres, Feet}

// IsValidHeightUnit checks if the given unit is a known height unit
func IsValidHeightUnit(unit string) bool {
	for _, valid := range ValidHeightUnits {
		if unit == valid {
			return true
		}
	}
	return false
}

// ValidHeightUnitsString returns a comma-separated list for error messages
func ValidHeightUnitsString() string {
	return "m, ft"
}

// ConvertHeight converts a length from metres to the target units.
// Results are stored in metres; unknown units pass through unchanged.
func ConvertHeight(metres float64, targetUnits string) float64 {
	switch targetUnits {
	case Feet:
		return metres * 3.28083989501312
	case Metres:
		return metres
	default:
		return metres
	}
}

// RadToDeg converts an angle from radians to degrees.
func RadToDeg(rad float64) float64 {
	return rad * 180 / math.Pi
}

// DegToRad converts an angle from degrees to radians.
func DegToRad(deg float64) float64 {
	return deg * math.Pi / 180
}

// NormalizeDegrees maps an angle in degrees onto [0, 360).
func NormalizeDegrees(deg float64) float64 {
	d := math.Mod(deg, 360)
	if d < 0 {
		d += 360
	}
	return d
}

// HzToRadPerSec converts ordinary frequency to angular frequency.
func HzToRadPerSec(hz float64) float64 {
	return 2 * math.Pi * hz
}

// RadPerSecToHz converts angular frequency to ordinary frequency.
func RadPerSecToHz(omega float64) float64 {
	return omega / (2 * math.Pi)
}

// FrequencyToPeriod returns the period in seconds for a frequency in
// Hz, or 0 for a non-positive frequency.
func FrequencyToPeriod(hz float64) float64 {
	if hz <= 0 {
		return 0
	}
	return 1 / hz
}
