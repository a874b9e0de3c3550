package normalize

import "math"

// Coordinates validates a lat/lon pair. Out-of-range values and the (0,0)
// sentinel normalize to nil, never to zero.
func Coordinates(lat, lon float64, latOK, lonOK bool) (*float64, *float64) {
	if !latOK || !lonOK {
		return nil, nil
	}
	if math.IsNaN(lat) || math.IsNaN(lon) || math.IsInf(lat, 0) || math.IsInf(lon, 0) {
		return nil, nil
	}
	if math.Abs(lat) > 90 || math.Abs(lon) > 180 {
		return nil, nil
	}
	if lat == 0 && lon == 0 {
		return nil, nil
	}
	return &lat, &lon
}

// SignalPercent rescales a signal level to 0-100, detecting the scale by
// magnitude: <=31 is a 0-31 scale, <=99 a 0-99 scale, otherwise a percentage.
func SignalPercent(raw float64, ok bool) *float64 {
	if !ok || raw < 0 || math.IsNaN(raw) {
		return nil
	}

	var pct float64
	switch {
	case raw <= 31:
		pct = raw / 31 * 100
	case raw <= 99:
		pct = raw / 99 * 100
	default:
		pct = raw
	}
	pct = math.Round(clamp(pct, 0, 100))
	return &pct
}

// Heading wraps a course into [0, 360).
func Heading(raw float64, ok bool) *float64 {
	if !ok || math.IsNaN(raw) || math.IsInf(raw, 0) {
		return nil
	}
	h := math.Mod(raw, 360)
	if h < 0 {
		h += 360
	}
	return &h
}
