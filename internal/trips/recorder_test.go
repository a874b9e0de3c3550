package trips

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleet-monitor/tracking/internal/domain"
)

type memStore struct {
	trips     []domain.Trip
	findErr   error
	insertErr error
}

func (m *memStore) FindTrips(_ context.Context, deviceID string, from, to time.Time) ([]domain.Trip, error) {
	if m.findErr != nil {
		return nil, m.findErr
	}
	var out []domain.Trip
	for _, t := range m.trips {
		if t.DeviceID == deviceID && !t.StartTime.Before(from) && !t.StartTime.After(to) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *memStore) InsertTrip(_ context.Context, t *domain.Trip) error {
	if m.insertErr != nil {
		return m.insertErr
	}
	m.trips = append(m.trips, *t)
	return nil
}

func testRecorder(store Store) *Recorder {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	r := NewRecorder(store, DefaultDeduplicator(), logger)
	n := 0
	r.newID = func() string {
		n++
		return fmt.Sprintf("trip-%d", n)
	}
	r.now = func() time.Time { return t0.Add(time.Hour) }
	return r
}

func TestRecorderInsertsOnce(t *testing.T) {
	store := &memStore{}
	r := testRecorder(store)
	ctx := context.Background()

	batch := []domain.TripCandidate{
		candidate(t0, 10, domain.TripSourceLocalMovement),
		candidate(t0.Add(2*time.Hour), 4, domain.TripSourceLocalMovement),
	}

	res, err := r.Record(ctx, batch)
	require.NoError(t, err)
	assert.Len(t, res.Inserted, 2)
	assert.Equal(t, "trip-1", res.Inserted[0].ID)
	assert.Equal(t, t0.Add(time.Hour), res.Inserted[0].CreatedAt)

	// A second pass over the same window stores nothing new.
	res, err = r.Record(ctx, batch)
	require.NoError(t, err)
	assert.Empty(t, res.Inserted)
	assert.Equal(t, 2, res.Duplicates)
	assert.Len(t, store.trips, 2)
}

func TestRecorderSuppressesWithinBatch(t *testing.T) {
	store := &memStore{}
	r := testRecorder(store)

	res, err := r.Record(context.Background(), []domain.TripCandidate{
		candidate(t0, 10, domain.TripSourceVendor),
		candidate(t0.Add(time.Minute), 10.2, domain.TripSourceLocalIgnition),
	})
	require.NoError(t, err)
	require.Len(t, res.Inserted, 1)
	assert.Equal(t, domain.TripSourceVendor, res.Inserted[0].Source)
	assert.Equal(t, 1, res.Duplicates)
}

func TestRecorderFailsClosedOnLookupError(t *testing.T) {
	store := &memStore{findErr: errors.New("db down")}
	r := testRecorder(store)

	res, err := r.Record(context.Background(), []domain.TripCandidate{candidate(t0, 10, domain.TripSourceVendor)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db down")
	assert.Empty(t, res.Inserted)
	assert.Equal(t, 1, res.Skipped)
	assert.Empty(t, store.trips)
}

func TestRecorderReportsInsertError(t *testing.T) {
	store := &memStore{insertErr: errors.New("constraint")}
	r := testRecorder(store)

	res, err := r.Record(context.Background(), []domain.TripCandidate{
		candidate(t0, 10, domain.TripSourceVendor),
		candidate(t0.Add(time.Hour), 5, domain.TripSourceVendor),
	})
	require.Error(t, err)
	assert.Equal(t, 2, res.Skipped)
	assert.Empty(t, res.Inserted)
}
