package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"fleet-monitor/tracking/internal/domain"
)

// TimescaleStore keeps detected trips and the position history.
type TimescaleStore struct {
	pool *pgxpool.Pool
}

func NewTimescaleStore(ctx context.Context, dsn string) (*TimescaleStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create db pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	return &TimescaleStore{pool: pool}, nil
}

func (s *TimescaleStore) Close() {
	s.pool.Close()
}

func (s *TimescaleStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

var positionColumns = []string{
	"timestamp",
	"vehicle_id",
	"latitude",
	"longitude",
	"speed_kmh",
	"heading",
	"altitude",
	"ignition",
	"ignition_confidence",
	"ignition_method",
	"is_moving",
	"battery_pct",
	"signal_pct",
	"timestamp_source",
	"quality",
}

// BatchInsert copies normalized states into the position history.
func (s *TimescaleStore) BatchInsert(ctx context.Context, states []*domain.NormalizedState) error {
	if len(states) == 0 {
		return nil
	}

	rows := make([][]interface{}, len(states))
	for i, st := range states {
		rows[i] = []interface{}{
			st.LastUpdated,
			st.VehicleID,
			st.Latitude,
			st.Longitude,
			st.SpeedKmh,
			st.Heading,
			st.Altitude,
			st.Ignition,
			st.IgnitionConfidence,
			string(st.IgnitionMethod),
			st.Moving,
			st.BatteryPct,
			st.SignalPct,
			string(st.TimestampSource),
			string(st.Quality),
		}
	}

	_, err := s.pool.CopyFrom(
		ctx,
		pgx.Identifier{"vehicle_positions"},
		positionColumns,
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("CopyFrom failed for batch of %d: %w", len(states), err)
	}

	return nil
}

const tripColumns = `id, device_id, start_time, end_time, start_lat, start_lon, end_lat, end_lon,
	distance_km, duration_sec, max_speed_kmh, avg_speed_kmh, point_count, source, created_at`

// FindTrips returns the trips of a device starting within [from, to].
func (s *TimescaleStore) FindTrips(ctx context.Context, deviceID string, from, to time.Time) ([]domain.Trip, error) {
	query := `SELECT ` + tripColumns + `
		FROM vehicle_trips
		WHERE device_id = $1 AND start_time BETWEEN $2 AND $3
		ORDER BY start_time`

	rows, err := s.pool.Query(ctx, query, deviceID, from, to)
	if err != nil {
		return nil, fmt.Errorf("query trips: %w", err)
	}
	defer rows.Close()

	var out []domain.Trip
	for rows.Next() {
		var t domain.Trip
		var source string
		if err := rows.Scan(
			&t.ID, &t.DeviceID, &t.StartTime, &t.EndTime,
			&t.StartLat, &t.StartLon, &t.EndLat, &t.EndLon,
			&t.DistanceKm, &t.DurationSec, &t.MaxSpeedKmh, &t.AvgSpeedKmh,
			&t.PointCount, &source, &t.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan trip: %w", err)
		}
		t.Source = domain.TripSource(source)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trips: %w", err)
	}
	return out, nil
}

// InsertTrip stores a trip. Trips are immutable; a repeated id is ignored.
func (s *TimescaleStore) InsertTrip(ctx context.Context, t *domain.Trip) error {
	query := `
		INSERT INTO vehicle_trips (` + tripColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (id) DO NOTHING
	`
	_, err := s.pool.Exec(
		ctx,
		query,
		t.ID,
		t.DeviceID,
		t.StartTime,
		t.EndTime,
		t.StartLat,
		t.StartLon,
		t.EndLat,
		t.EndLon,
		t.DistanceKm,
		t.DurationSec,
		t.MaxSpeedKmh,
		t.AvgSpeedKmh,
		t.PointCount,
		string(t.Source),
		t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert trip %s: %w", t.ID, err)
	}
	return nil
}
