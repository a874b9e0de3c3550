package trips

import (
	"time"

	"github.com/golang/geo/s2"

	"fleet-monitor/tracking/internal/domain"
	"fleet-monitor/tracking/internal/normalize"
)

const earthRadiusKm = 6371.0

// Point is one ping as seen by the segmenter. Ignition is nil when the ping
// carried no trustworthy ignition reading.
type Point struct {
	Time     time.Time
	Lat      float64
	Lon      float64
	SpeedKmh float64
	Ignition *bool
}

// PointFromState converts a normalized state. It returns false for states
// without a valid position. Ignition is only kept when the vendor reported it
// (status bits or status text) with confidence of at least gate; readings
// inferred from motion are not ignition data and leave it nil.
func PointFromState(st *domain.NormalizedState, gate float64) (Point, bool) {
	if st == nil || !st.HasPosition() {
		return Point{}, false
	}
	p := Point{
		Time:     st.LastUpdated,
		Lat:      *st.Latitude,
		Lon:      *st.Longitude,
		SpeedKmh: st.SpeedKmh,
	}
	if st.IgnitionConfidence >= gate && reportedIgnition(st.IgnitionMethod) {
		on := st.Ignition
		p.Ignition = &on
	}
	return p, true
}

func reportedIgnition(m domain.IgnitionMethod) bool {
	return m == domain.IgnitionStatusBit || m == domain.IgnitionStringParse
}

// PointFromRaw normalizes a raw ping and converts it. Pings without a
// plausible timestamp cannot be placed in the sequence and are dropped.
func PointFromRaw(raw *domain.RawPing, opts normalize.Options) (Point, bool) {
	if raw == nil {
		return Point{}, false
	}
	now := time.Now()
	if opts.Now != nil {
		now = opts.Now()
	}
	if _, _, ok := normalize.ResolveTimestamp(raw, now.UTC()); !ok {
		return Point{}, false
	}
	gate := opts.Thresholds.IgnitionGate
	if gate == 0 {
		gate = normalize.DefaultThresholds().IgnitionGate
	}
	return PointFromState(normalize.Normalize(raw, opts), gate)
}

// DistanceKm is the great-circle distance between two points.
func DistanceKm(lat1, lon1, lat2, lon2 float64) float64 {
	a := s2.LatLngFromDegrees(lat1, lon1)
	b := s2.LatLngFromDegrees(lat2, lon2)
	return a.Distance(b).Radians() * earthRadiusKm
}

func stepKm(a, b Point) float64 {
	return DistanceKm(a.Lat, a.Lon, b.Lat, b.Lon)
}
