// Package units provides shared constants and validation for distance units
package units

// Unit constants
const (
	Meters      = "m"
	Centimeters = "cm"
	Millimeters = "mm"
	Inches      = "in"
	Feet        = "ft"
)

// ValidUnits contains all valid unit values
var ValidUnits = []string{Meters, Centimeters, Millimeters, Inches, Feet}

// IsValid checks if the given unit is in the list of valid units
func IsValid(unit string) bool {
	for _, validUnit := range ValidUnits {
		if unit == validUnit {
			return true
		}
	}
	return false
}

// GetValidUnitsString returns a comma-separated string of valid units for error messages
func GetValidUnitsString() string {
	return "m, cm, mm, in, ft"
}

// ConvertDistance converts a distance from meters to the target units.
// The detector and database always work in meters.
func ConvertDistance(distanceM float64, targetUnits string) float64 {
	switch targetUnits {
	case Centimeters:
		return distanceM * 100
	case Millimeters:
		return distanceM * 1000
	case Inches:
		return distanceM * 39.3700787402
	case Feet:
		return distanceM * 3.28083989501
	case Meters:
		return distanceM
	default:
		return distanceM // default to meters if unknown unit
	}
}
