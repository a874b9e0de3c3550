// Package normalize turns vendor position reports into NormalizedState
// records. Every function here is pure and tolerates malformed input.
package normalize

import (
	"math"
	"time"

	"fleet-monitor/tracking/internal/domain"
)

// Normalize converts one raw ping. It never fails: each missing or
// malformed field degrades to its documented fallback.
func Normalize(raw *domain.RawPing, opts Options) *domain.NormalizedState {
	opts = opts.withDefaults()
	now := opts.Now().UTC()
	if raw == nil {
		raw = &domain.RawPing{}
	}

	st := &domain.NormalizedState{VehicleID: raw.Device()}

	lat, latOK := raw.LatField().Float()
	lon, lonOK := raw.LonField().Float()
	st.Latitude, st.Longitude = Coordinates(lat, lon, latOK, lonOK)

	rawSpeed, _ := raw.Speed.Float()
	st.SpeedKmh = Speed(rawSpeed, opts.Thresholds)

	moving, movingOK := raw.Moving.Bool()
	ign := DetectIgnition(IgnitionSignals{
		StatusBits:    statusBits(raw),
		StatusText:    statusText(raw),
		SpeedKmh:      st.SpeedKmh,
		Moving:        moving,
		MovingPresent: movingOK,
	}, opts.Thresholds)
	st.Ignition = ign.On
	st.IgnitionConfidence = ign.Confidence
	st.IgnitionMethod = ign.Method

	if movingOK {
		st.Moving = moving && st.SpeedKmh > 0
	} else {
		st.Moving = st.SpeedKmh > 0
	}

	var reported *float64
	if v, ok := raw.Battery.Float(); ok {
		reported = &v
	}
	var voltages []float64
	if v, ok := raw.ExternalVoltage.Float(); ok {
		voltages = append(voltages, v)
	}
	if v, ok := raw.Voltage.Float(); ok {
		voltages = append(voltages, v)
	}
	st.BatteryPct = BatteryPercent(reported, voltages, opts.Battery)

	st.SignalPct = SignalPercent(raw.Signal.Float())
	st.Heading = Heading(raw.HeadingField().Float())
	if alt, ok := raw.Altitude.Float(); ok {
		st.Altitude = &alt
	}

	t, source, timestampValid := ResolveTimestamp(raw, now)
	st.LastUpdated = t
	st.TimestampSource = source
	if t, ok := ParseTimestamp(raw.FixTimeField(), now); ok {
		st.GPSFixTime = &t
	}

	st.Online = timestampValid && now.Sub(st.LastUpdated) <= opts.OfflineThreshold
	st.Quality = Quality(st)

	return st
}

// ResolveTimestamp picks the device time, then the server time, and falls
// back to now with server provenance. ok is false on the fallback.
func ResolveTimestamp(raw *domain.RawPing, now time.Time) (t time.Time, source domain.TimestampSource, ok bool) {
	if t, ok := ParseTimestamp(raw.DeviceTimeField(), now); ok {
		return t, domain.TimestampDevice, true
	}
	if t, ok := ParseTimestamp(raw.ServerTimeField(), now); ok {
		return t, domain.TimestampServer, true
	}
	return now, domain.TimestampServer, false
}

// Quality grades how many independent signals a state carries.
func Quality(st *domain.NormalizedState) domain.DataQuality {
	score := 0
	if st.HasPosition() {
		score += 2
	}
	if st.SpeedKmh > 0 {
		score++
	}
	if st.BatteryPct != nil {
		score++
	}
	if st.IgnitionMethod != domain.IgnitionUnknown && st.IgnitionConfidence > 0 {
		score++
	}
	if st.SignalPct != nil {
		score++
	}

	switch {
	case score >= 5:
		return domain.QualityHigh
	case score >= 3:
		return domain.QualityMedium
	default:
		return domain.QualityLow
	}
}

func statusBits(raw *domain.RawPing) *uint32 {
	v, ok := raw.StatusBitsField().Float()
	if !ok || v < 0 || v > math.MaxUint32 || v != math.Trunc(v) {
		return nil
	}
	bits := uint32(v)
	return &bits
}

func statusText(raw *domain.RawPing) string {
	s, _ := raw.StatusTextField().Text()
	return s
}
