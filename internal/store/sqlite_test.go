package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleet-monitor/tracking/internal/domain"
)

func TestSQLiteTripStore(t *testing.T) {
	ctx := context.Background()
	s, err := NewSQLiteTripStore(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	start := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	trip := &domain.Trip{
		ID: "t-1",
		TripCandidate: domain.TripCandidate{
			DeviceID:    "dev",
			StartTime:   start,
			EndTime:     start.Add(25 * time.Minute),
			StartLat:    52.1,
			StartLon:    4.3,
			EndLat:      52.2,
			EndLon:      4.4,
			DistanceKm:  12.5,
			DurationSec: 1500,
			MaxSpeedKmh: 80,
			AvgSpeedKmh: 30,
			PointCount:  26,
			Source:      domain.TripSourceLocalIgnition,
		},
		CreatedAt: start.Add(time.Hour),
	}
	require.NoError(t, s.InsertTrip(ctx, trip))
	// Same id is ignored.
	require.NoError(t, s.InsertTrip(ctx, trip))

	n, err := s.CountTrips(ctx, "dev")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := s.FindTrips(ctx, "dev", start.Add(-time.Minute), start.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "t-1", got[0].ID)
	assert.True(t, start.Equal(got[0].StartTime))
	assert.Equal(t, 12.5, got[0].DistanceKm)
	assert.Equal(t, domain.TripSourceLocalIgnition, got[0].Source)
	assert.Equal(t, 26, got[0].PointCount)

	got, err = s.FindTrips(ctx, "dev", start.Add(time.Minute), start.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = s.FindTrips(ctx, "other", start.Add(-time.Minute), start.Add(time.Minute))
	require.NoError(t, err)
	assert.Empty(t, got)
}
