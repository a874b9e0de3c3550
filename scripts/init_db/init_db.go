package main

import (
	"context"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5"

	"fleet-monitor/tracking/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Config load failed: %v", err)
	}

	host := cfg.DBHost
	if host == "" {
		host = "localhost"
	}
	connStr := fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s",
		cfg.DBUser,
		cfg.DBPassword,
		host,
		cfg.DBPort,
		cfg.DBName,
	)

	ctx := context.Background()

	fmt.Println("Connecting to TimescaleDB...")
	conn, err := pgx.Connect(ctx, connStr)
	if err != nil {
		log.Fatalf("Connection failed: %v\n\nMake sure TimescaleDB is running:\n  docker-compose up -d timescaledb", err)
	}
	defer conn.Close(ctx)
	fmt.Println("✓ Connected")

	step1_extensions(ctx, conn)
	step2_positions_table(ctx, conn)
	step3_trips_table(ctx, conn)
	step4_indexes(ctx, conn)
	step5_verify(ctx, conn)

	fmt.Println("\n✅ Database initialised successfully")
	fmt.Println("   Run next: go run ./scripts/seed_redis")
}

// ─────────────────────────────────────────────────────────────
// Step 1: Extensions
// ─────────────────────────────────────────────────────────────
func step1_extensions(ctx context.Context, conn *pgx.Conn) {
	fmt.Println("\n── Step 1: Extensions ──────────────────────────")

	execOrFatal(ctx, conn,
		"CREATE EXTENSION IF NOT EXISTS timescaledb CASCADE;",
		"timescaledb extension",
	)
}

// ─────────────────────────────────────────────────────────────
// Step 2: vehicle_positions hypertable
// ─────────────────────────────────────────────────────────────
func step2_positions_table(ctx context.Context, conn *pgx.Conn) {
	fmt.Println("\n── Step 2: vehicle_positions table ─────────────")

	execOrFatal(ctx, conn, `
		CREATE TABLE IF NOT EXISTS vehicle_positions (
			-- Resolved ping time; see timestamp_source
			timestamp            TIMESTAMPTZ      NOT NULL,
			vehicle_id           TEXT             NOT NULL,

			-- NULL when the ping carried no usable fix
			latitude             DOUBLE PRECISION,
			longitude            DOUBLE PRECISION,

			speed_kmh            DOUBLE PRECISION NOT NULL DEFAULT 0,
			heading              DOUBLE PRECISION,
			altitude             DOUBLE PRECISION,

			ignition             BOOLEAN          NOT NULL DEFAULT false,
			ignition_confidence  DOUBLE PRECISION NOT NULL DEFAULT 0,
			ignition_method      TEXT             NOT NULL,
			is_moving            BOOLEAN          NOT NULL DEFAULT false,

			battery_pct          DOUBLE PRECISION,
			signal_pct           DOUBLE PRECISION,

			timestamp_source     TEXT             NOT NULL,
			quality              TEXT             NOT NULL,

			CONSTRAINT chk_quality CHECK (quality IN ('high', 'medium', 'low'))
		);
	`, "vehicle_positions table created")

	execOrFatal(ctx, conn, `
		SELECT create_hypertable(
			'vehicle_positions',
			'timestamp',
			if_not_exists => TRUE
		);
	`, "vehicle_positions converted to hypertable")
}

// ─────────────────────────────────────────────────────────────
// Step 3: vehicle_trips table
// ─────────────────────────────────────────────────────────────
func step3_trips_table(ctx context.Context, conn *pgx.Conn) {
	fmt.Println("\n── Step 3: vehicle_trips table ─────────────────")

	// Trips are append-only; the sync job never updates a row.
	execOrFatal(ctx, conn, `
		CREATE TABLE IF NOT EXISTS vehicle_trips (
			id             TEXT             PRIMARY KEY,
			device_id      TEXT             NOT NULL,
			start_time     TIMESTAMPTZ      NOT NULL,
			end_time       TIMESTAMPTZ      NOT NULL,
			start_lat      DOUBLE PRECISION NOT NULL,
			start_lon      DOUBLE PRECISION NOT NULL,
			end_lat        DOUBLE PRECISION NOT NULL,
			end_lon        DOUBLE PRECISION NOT NULL,
			distance_km    DOUBLE PRECISION NOT NULL,
			duration_sec   BIGINT           NOT NULL,
			max_speed_kmh  DOUBLE PRECISION NOT NULL,
			avg_speed_kmh  DOUBLE PRECISION NOT NULL,
			point_count    INTEGER          NOT NULL,
			source         TEXT             NOT NULL,
			created_at     TIMESTAMPTZ      NOT NULL DEFAULT NOW(),

			CONSTRAINT chk_trip_source CHECK (
				source IN ('vendor', 'local_ignition', 'local_movement')
			),
			CONSTRAINT chk_trip_order CHECK (end_time >= start_time)
		);
	`, "vehicle_trips table created")
}

// ─────────────────────────────────────────────────────────────
// Step 4: Indexes
// ─────────────────────────────────────────────────────────────
func step4_indexes(ctx context.Context, conn *pgx.Conn) {
	fmt.Println("\n── Step 4: Indexes ─────────────────────────────")

	indexes := []struct {
		name string
		sql  string
		why  string
	}{
		{
			name: "idx_positions_vehicle_time",
			sql: `CREATE INDEX IF NOT EXISTS idx_positions_vehicle_time
				  ON vehicle_positions (vehicle_id, timestamp DESC);`,
			why: "query: position history for one vehicle",
		},
		{
			name: "idx_trips_device_start",
			sql: `CREATE INDEX IF NOT EXISTS idx_trips_device_start
				  ON vehicle_trips (device_id, start_time);`,
			why: "query: duplicate lookup by start time",
		},
	}

	for _, idx := range indexes {
		execOrFatal(ctx, conn, idx.sql,
			fmt.Sprintf("%-40s ← %s", idx.name, idx.why),
		)
	}
}

// ─────────────────────────────────────────────────────────────
// Step 5: Verify everything was created
// ─────────────────────────────────────────────────────────────
func step5_verify(ctx context.Context, conn *pgx.Conn) {
	fmt.Println("\n── Step 5: Verification ────────────────────────")

	for _, table := range []string{"vehicle_positions", "vehicle_trips"} {
		var exists bool
		err := conn.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM information_schema.tables
				WHERE table_name = $1
			)
		`, table).Scan(&exists)
		if err != nil || !exists {
			log.Fatalf("Table %s was not created: %v", table, err)
		}
		fmt.Printf("  ✓ table: %s\n", table)
	}

	var hypertableName string
	err := conn.QueryRow(ctx, `
		SELECT hypertable_name
		FROM timescaledb_information.hypertables
		WHERE hypertable_name = 'vehicle_positions'
	`).Scan(&hypertableName)
	if err != nil {
		log.Fatalf("vehicle_positions is not a hypertable: %v", err)
	}
	fmt.Printf("  ✓ hypertable: %s (time partitioned)\n", hypertableName)

	var tripCount int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM vehicle_trips`).Scan(&tripCount); err != nil {
		log.Fatalf("Trip count failed: %v", err)
	}
	fmt.Printf("  ✓ trips stored: %d\n", tripCount)
}

// execOrFatal runs a SQL statement and prints result or exits on error
func execOrFatal(ctx context.Context, conn *pgx.Conn, sql, label string) {
	_, err := conn.Exec(ctx, sql)
	if err != nil {
		log.Fatalf("FAILED: %s\nError: %v\nSQL: %s", label, err, sql)
	}
	fmt.Printf("  ✓ %s\n", label)
}
