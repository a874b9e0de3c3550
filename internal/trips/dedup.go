package trips

import (
	"context"
	"math"
	"time"

	"fleet-monitor/tracking/internal/domain"
)

// Store is the append-only trip sink, queried by device and time range.
type Store interface {
	FindTrips(ctx context.Context, deviceID string, from, to time.Time) ([]domain.Trip, error)
	InsertTrip(ctx context.Context, trip *domain.Trip) error
}

// Deduplicator matches trips by tolerance rather than equality, because two
// passes over overlapping windows, or a vendor trip and its local
// reconstruction, never produce identical boundaries.
type Deduplicator struct {
	// Start times within this window of each other can match.
	Window time.Duration
	// Relative distance tolerance, e.g. 0.05 for 5%.
	DistanceTolerance float64
}

func DefaultDeduplicator() Deduplicator {
	return Deduplicator{Window: 2 * time.Minute, DistanceTolerance: 0.05}
}

// SearchRange is the start-time range to load existing trips for c.
func (d Deduplicator) SearchRange(c domain.TripCandidate) (time.Time, time.Time) {
	return c.StartTime.Add(-d.Window), c.StartTime.Add(d.Window)
}

// Matches reports whether existing describes the same movement as c.
// Sources are not compared: a local reconstruction of a vendor trip is
// still the same trip.
func (d Deduplicator) Matches(c domain.TripCandidate, existing domain.TripCandidate) bool {
	if c.DeviceID != existing.DeviceID {
		return false
	}
	delta := c.StartTime.Sub(existing.StartTime)
	if delta < 0 {
		delta = -delta
	}
	if delta > d.Window {
		return false
	}
	tolerance := d.DistanceTolerance*c.DistanceKm + 1e-9
	return math.Abs(c.DistanceKm-existing.DistanceKm) <= tolerance
}

// FindDuplicate returns the first trip in existing that matches c.
func (d Deduplicator) FindDuplicate(c domain.TripCandidate, existing []domain.Trip) (*domain.Trip, bool) {
	for i := range existing {
		if d.Matches(c, existing[i].TripCandidate) {
			return &existing[i], true
		}
	}
	return nil, false
}
