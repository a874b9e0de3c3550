package normalize

import "math"

// Speed converts a raw vendor speed to km/h.
//
// The vendor reports either km/h or meters/hour depending on the endpoint.
// Values above the unit cutoff are read as meters/hour, which misreads a
// genuine km/h reading above the cutoff but keeps both conventions usable.
// Readings under the noise floor become 0 and the result is clamped.
func Speed(raw float64, t Thresholds) float64 {
	if math.IsNaN(raw) || math.IsInf(raw, 0) || raw <= 0 {
		return 0
	}

	kmh := raw
	if raw > t.SpeedMetersPerHourFloor || raw > t.SpeedUnitCutoff {
		kmh = raw / 1000
	}

	if kmh < t.SpeedNoiseFloor {
		return 0
	}
	if kmh > t.SpeedMax {
		return t.SpeedMax
	}
	return kmh
}
