package domain

import "time"

// TripSource records which detection method produced a trip. Trips from
// different sources are never merged when aggregating.
type TripSource string

const (
	TripSourceVendor        TripSource = "vendor"
	TripSourceLocalIgnition TripSource = "local_ignition"
	TripSourceLocalMovement TripSource = "local_movement"
)

// TripCandidate is a closed segment that has not been checked against storage.
type TripCandidate struct {
	DeviceID string `json:"device_id"`

	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`

	StartLat float64 `json:"start_lat"`
	StartLon float64 `json:"start_lon"`
	EndLat   float64 `json:"end_lat"`
	EndLon   float64 `json:"end_lon"`

	DistanceKm  float64 `json:"distance_km"`
	DurationSec int64   `json:"duration_sec"`
	MaxSpeedKmh float64 `json:"max_speed_kmh"`
	AvgSpeedKmh float64 `json:"avg_speed_kmh"`
	PointCount  int     `json:"point_count"`

	Source TripSource `json:"source"`
}

// Trip is a persisted, immutable TripCandidate.
type Trip struct {
	ID string `json:"id"`
	TripCandidate
	CreatedAt time.Time `json:"created_at"`
}
