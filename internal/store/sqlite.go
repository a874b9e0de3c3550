package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"fleet-monitor/tracking/internal/domain"
)

const sqliteSchema = `
	CREATE TABLE IF NOT EXISTS vehicle_trips (
		id            TEXT PRIMARY KEY,
		device_id     TEXT NOT NULL,
		start_time    INTEGER NOT NULL,
		end_time      INTEGER NOT NULL,
		start_lat     REAL NOT NULL,
		start_lon     REAL NOT NULL,
		end_lat       REAL NOT NULL,
		end_lon       REAL NOT NULL,
		distance_km   REAL NOT NULL,
		duration_sec  INTEGER NOT NULL,
		max_speed_kmh REAL NOT NULL,
		avg_speed_kmh REAL NOT NULL,
		point_count   INTEGER NOT NULL,
		source        TEXT NOT NULL,
		created_at    INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_trips_device_start ON vehicle_trips (device_id, start_time);
`

// SQLiteTripStore keeps trips in a local SQLite file for single-instance
// deployments. Times are stored as epoch milliseconds.
type SQLiteTripStore struct {
	db *sql.DB
}

// NewSQLiteTripStore opens path (":memory:" works) and creates the schema.
func NewSQLiteTripStore(ctx context.Context, path string) (*SQLiteTripStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	// One writer; also keeps a ":memory:" database on a single connection.
	db.SetMaxOpenConns(1)

	if path != ":memory:" {
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to enable WAL: %w", err)
		}
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &SQLiteTripStore{db: db}, nil
}

func (s *SQLiteTripStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteTripStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteTripStore) FindTrips(ctx context.Context, deviceID string, from, to time.Time) ([]domain.Trip, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, device_id, start_time, end_time, start_lat, start_lon, end_lat, end_lon,
			distance_km, duration_sec, max_speed_kmh, avg_speed_kmh, point_count, source, created_at
		FROM vehicle_trips
		WHERE device_id = ? AND start_time BETWEEN ? AND ?
		ORDER BY start_time`,
		deviceID, from.UnixMilli(), to.UnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("query trips: %w", err)
	}
	defer rows.Close()

	var out []domain.Trip
	for rows.Next() {
		var t domain.Trip
		var start, end, created int64
		var source string
		if err := rows.Scan(
			&t.ID, &t.DeviceID, &start, &end,
			&t.StartLat, &t.StartLon, &t.EndLat, &t.EndLon,
			&t.DistanceKm, &t.DurationSec, &t.MaxSpeedKmh, &t.AvgSpeedKmh,
			&t.PointCount, &source, &created,
		); err != nil {
			return nil, fmt.Errorf("scan trip: %w", err)
		}
		t.StartTime = time.UnixMilli(start).UTC()
		t.EndTime = time.UnixMilli(end).UTC()
		t.CreatedAt = time.UnixMilli(created).UTC()
		t.Source = domain.TripSource(source)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trips: %w", err)
	}
	return out, nil
}

func (s *SQLiteTripStore) InsertTrip(ctx context.Context, t *domain.Trip) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO vehicle_trips (id, device_id, start_time, end_time, start_lat, start_lon,
			end_lat, end_lon, distance_km, duration_sec, max_speed_kmh, avg_speed_kmh, point_count, source, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.DeviceID, t.StartTime.UnixMilli(), t.EndTime.UnixMilli(),
		t.StartLat, t.StartLon, t.EndLat, t.EndLon,
		t.DistanceKm, t.DurationSec, t.MaxSpeedKmh, t.AvgSpeedKmh,
		t.PointCount, string(t.Source), t.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert trip %s: %w", t.ID, err)
	}
	return nil
}

// CountTrips returns the number of stored trips of a device.
func (s *SQLiteTripStore) CountTrips(ctx context.Context, deviceID string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM vehicle_trips WHERE device_id = ?`, deviceID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count trips: %w", err)
	}
	return n, nil
}
