// Package trips reconstructs trips from one vehicle's ping stream and keeps
// duplicate trips out of storage.
package trips

import (
	"sort"
	"time"

	"fleet-monitor/tracking/internal/domain"
)

// Config holds the segmentation thresholds.
type Config struct {
	// Any gap between consecutive pings longer than this closes a trip.
	MaxGap time.Duration
	// Movement mode closes a trip after standing still this long.
	StopDuration time.Duration
	// Movement mode opens a trip above this speed or step distance.
	MoveSpeedKmh  float64
	MoveDistanceM float64

	MinDistanceKm float64
	MinPoints     int

	// Steps longer than this are GPS jumps and are ignored.
	MaxStepKm float64
	// Step speed estimates outside [0, MaxValidSpeedKmh] are ignored.
	MaxValidSpeedKmh float64
}

func DefaultConfig() Config {
	return Config{
		MaxGap:           30 * time.Minute,
		StopDuration:     5 * time.Minute,
		MoveSpeedKmh:     5,
		MoveDistanceM:    100,
		MinDistanceKm:    0.3,
		MinPoints:        3,
		MaxStepKm:        10,
		MaxValidSpeedKmh: 200,
	}
}

// Segmenter turns an ordered ping sequence into trip candidates.
type Segmenter struct {
	cfg Config
}

func NewSegmenter(cfg Config) *Segmenter {
	def := DefaultConfig()
	if cfg.MaxGap <= 0 {
		cfg.MaxGap = def.MaxGap
	}
	if cfg.StopDuration <= 0 {
		cfg.StopDuration = def.StopDuration
	}
	if cfg.MoveSpeedKmh <= 0 {
		cfg.MoveSpeedKmh = def.MoveSpeedKmh
	}
	if cfg.MoveDistanceM <= 0 {
		cfg.MoveDistanceM = def.MoveDistanceM
	}
	if cfg.MinDistanceKm <= 0 {
		cfg.MinDistanceKm = def.MinDistanceKm
	}
	if cfg.MinPoints < 2 {
		cfg.MinPoints = 2
	}
	if cfg.MaxStepKm <= 0 {
		cfg.MaxStepKm = def.MaxStepKm
	}
	if cfg.MaxValidSpeedKmh <= 0 {
		cfg.MaxValidSpeedKmh = def.MaxValidSpeedKmh
	}
	return &Segmenter{cfg: cfg}
}

// Config returns the effective thresholds.
func (s *Segmenter) Config() Config {
	return s.cfg
}

// Segment runs one batch for one device. Ignition mode is used when any
// point reports ignition ON, movement mode otherwise.
func (s *Segmenter) Segment(deviceID string, points []Point) []domain.TripCandidate {
	return s.SegmentUntil(deviceID, points, time.Time{}).Trips
}

// Result is the outcome of segmenting one batch.
type Result struct {
	Trips []domain.TripCandidate
	// OpenSince is the start of a segment still active at the batch end,
	// whether or not it has passed the distance and point floors yet. It is
	// zero when nothing is in progress.
	OpenSince time.Time
}

// SegmentUntil segments a batch that covers the window ending at end. A last
// segment that was only closed by the end of the batch, and whose last
// active point lies within StopDuration of end, is reported as open.
func (s *Segmenter) SegmentUntil(deviceID string, points []Point, end time.Time) Result {
	var res Result
	pts := orderPoints(points)
	if len(pts) == 0 {
		return res
	}

	var (
		segments [][]Point
		open     bool
	)
	source := domain.TripSourceLocalMovement
	if hasIgnitionOn(pts) {
		source = domain.TripSourceLocalIgnition
		segments, open = s.byIgnition(pts)
	} else {
		segments, open = s.byMovement(pts)
	}

	if open && !end.IsZero() {
		last := segments[len(segments)-1]
		if end.Sub(last[len(last)-1].Time) < s.cfg.StopDuration {
			res.OpenSince = last[0].Time
		}
	}

	for _, seg := range segments {
		if c, ok := s.close(deviceID, seg, source); ok {
			res.Trips = append(res.Trips, c)
		}
	}
	return res
}

// byIgnition opens on OFF->ON and closes on ON->OFF or a gap. A ping with
// no ignition reading keeps the current state. open reports whether the
// last segment was still running when the batch ended.
func (s *Segmenter) byIgnition(pts []Point) (segments [][]Point, open bool) {
	var seg []Point
	flush := func() {
		if len(seg) > 0 {
			segments = append(segments, seg)
		}
		seg = nil
	}

	for _, p := range pts {
		if len(seg) > 0 && p.Time.Sub(seg[len(seg)-1].Time) > s.cfg.MaxGap {
			flush()
		}
		switch {
		case p.Ignition == nil:
			if len(seg) > 0 {
				seg = append(seg, p)
			}
		case *p.Ignition:
			seg = append(seg, p)
		default:
			flush()
		}
	}
	open = len(seg) > 0
	flush()
	return segments, open
}

// byMovement opens when a point moves and closes after a continuous stop,
// on a gap, or at the end of the batch. A trip ends at its last moving point.
func (s *Segmenter) byMovement(pts []Point) (segments [][]Point, open bool) {
	var (
		seg        []Point
		lastMoving int
		prev       *Point
	)
	flush := func() {
		if len(seg) > 0 {
			segments = append(segments, seg[:lastMoving+1])
		}
		seg = nil
	}

	for i := range pts {
		p := pts[i]
		if prev != nil && p.Time.Sub(prev.Time) > s.cfg.MaxGap {
			flush()
			prev = nil
		}

		moving := p.SpeedKmh > s.cfg.MoveSpeedKmh
		if !moving && prev != nil {
			step := stepKm(*prev, p)
			moving = step*1000 > s.cfg.MoveDistanceM && step <= s.cfg.MaxStepKm
		}

		switch {
		case len(seg) == 0 && moving:
			if prev != nil {
				seg = append(seg, *prev)
			}
			seg = append(seg, p)
			lastMoving = len(seg) - 1
		case len(seg) > 0:
			seg = append(seg, p)
			if moving {
				lastMoving = len(seg) - 1
			} else if p.Time.Sub(seg[lastMoving].Time) > s.cfg.StopDuration {
				flush()
			}
		}
		prev = &pts[i]
	}
	open = len(seg) > 0
	flush()
	return segments, open
}

// close derives trip statistics and drops noise segments.
func (s *Segmenter) close(deviceID string, seg []Point, source domain.TripSource) (domain.TripCandidate, bool) {
	if len(seg) < s.cfg.MinPoints {
		return domain.TripCandidate{}, false
	}

	var distance, maxSpeed float64
	for i := 1; i < len(seg); i++ {
		d := stepKm(seg[i-1], seg[i])
		if d > s.cfg.MaxStepKm {
			continue
		}
		distance += d

		dt := seg[i].Time.Sub(seg[i-1].Time).Hours()
		if dt <= 0 {
			continue
		}
		if v := d / dt; v <= s.cfg.MaxValidSpeedKmh && v > maxSpeed {
			maxSpeed = v
		}
	}
	for _, p := range seg {
		if p.SpeedKmh <= s.cfg.MaxValidSpeedKmh && p.SpeedKmh > maxSpeed {
			maxSpeed = p.SpeedKmh
		}
	}

	if distance < s.cfg.MinDistanceKm {
		return domain.TripCandidate{}, false
	}

	first, last := seg[0], seg[len(seg)-1]
	duration := last.Time.Sub(first.Time)
	c := domain.TripCandidate{
		DeviceID:    deviceID,
		StartTime:   first.Time,
		EndTime:     last.Time,
		StartLat:    first.Lat,
		StartLon:    first.Lon,
		EndLat:      last.Lat,
		EndLon:      last.Lon,
		DistanceKm:  distance,
		DurationSec: int64(duration.Seconds()),
		MaxSpeedKmh: maxSpeed,
		PointCount:  len(seg),
		Source:      source,
	}
	if hours := duration.Hours(); hours > 0 {
		c.AvgSpeedKmh = distance / hours
	}
	return c, true
}

// orderPoints sorts a copy chronologically and drops repeated timestamps.
func orderPoints(points []Point) []Point {
	pts := make([]Point, len(points))
	copy(pts, points)
	sort.SliceStable(pts, func(i, j int) bool { return pts[i].Time.Before(pts[j].Time) })

	out := make([]Point, 0, len(pts))
	for _, p := range pts {
		if n := len(out); n > 0 && p.Time.Equal(out[n-1].Time) {
			continue
		}
		out = append(out, p)
	}
	return out
}

func hasIgnitionOn(pts []Point) bool {
	for _, p := range pts {
		if p.Ignition != nil && *p.Ignition {
			return true
		}
	}
	return false
}
