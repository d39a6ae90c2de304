// Package units converts vehicle speeds for display.
package units

import "fmt"

// Unit constants
const (
	MPS = "mps"
	MPH = "mph"
	KPH = "kph"
)

// ValidUnits contains all valid unit values
var ValidUnits = []string{MPS, MPH, KPH}

// IsValid checks if the given unit is in the list of valid units
func IsValid(unit string) bool {
	for _, validUnit := range ValidUnits {
		if unit == validUnit {
			return true
		}
	}
	return false
}

const mpsToMPH = 2.2369362920544

// ConvertSpeed converts a speed from meters per second to the target
// units. Unknown units return the input unchanged.
func ConvertSpeed(speedMPS float64, targetUnits string) float64 {
	switch targetUnits {
	case MPH:
		return speedMPS * mpsToMPH
	case KPH:
		return speedMPS * 3.6
	default:
		return speedMPS
	}
}

// ConvertToMPS is the inverse of ConvertSpeed.
func ConvertToMPS(speed float64, fromUnits string) float64 {
	switch fromUnits {
	case MPH:
		return speed / mpsToMPH
	case KPH:
		return speed / 3.6
	default:
		return speed
	}
}

// Format renders a speed given in m/s, e.g. "50.0 km/h".
func Format(speedMPS float64, unit string) string {
	label := map[string]string{MPS: "m/s", MPH: "mph", KPH: "km/h"}[unit]
	if label == "" {
		unit, label = MPS, "m/s"
	}
	return fmt.Sprintf("%.1f %s", ConvertSpeed(speedMPS, unit), label)
}
