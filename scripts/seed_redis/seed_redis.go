package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"fleet-monitor/tracking/internal/config"
	"fleet-monitor/tracking/internal/domain"
	"fleet-monitor/tracking/internal/store"
)

func main() {
	resetCursors := flag.Bool("reset-cursors", false, "also drop per-device sync cursors")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Config load failed: %v", err)
	}

	ctx := context.Background()

	fmt.Println("Connecting to Redis...")
	rs, err := store.NewRedisStore(ctx, cfg)
	if err != nil {
		log.Fatalf("Connection failed: %v\n\nMake sure Redis is running:\n  docker-compose up -d redis", err)
	}
	defer rs.Close()
	fmt.Println("✓ Connected")

	step1_reset(ctx, rs, *resetCursors)
	step2_token(ctx, rs)
	step3_verify(ctx, rs)

	fmt.Println("\n✅ Redis seeded successfully")
	fmt.Println("   Run next: go run ./cmd/tracking -once")
}

func step1_reset(ctx context.Context, rs *store.RedisStore, cursors bool) {
	fmt.Println("\n── Step 1: Resetting shared sync state ─────────")

	n, err := rs.ResetSyncState(ctx, cursors)
	if err != nil {
		log.Fatalf("Reset failed: %v", err)
	}
	fmt.Printf("  ✓ %d keys removed (cursors included: %v)\n", n, cursors)
}

// step2_token seeds the token cache for deployments that are handed a
// token instead of account credentials.
func step2_token(ctx context.Context, rs *store.RedisStore) {
	fmt.Println("\n── Step 2: Seeding upstream token ──────────────")

	token := os.Getenv("UPSTREAM_TOKEN")
	if token == "" {
		fmt.Println("  - UPSTREAM_TOKEN not set, skipping")
		return
	}

	ttl := 24 * time.Hour
	if v := os.Getenv("UPSTREAM_TOKEN_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			log.Fatalf("Invalid UPSTREAM_TOKEN_TTL %q: %v", v, err)
		}
		ttl = d
	}

	creds := domain.Credentials{
		Token:     token,
		ServerID:  os.Getenv("UPSTREAM_SERVER_ID"),
		ExpiresAt: time.Now().Add(ttl).UTC(),
	}
	if err := rs.SaveToken(ctx, creds); err != nil {
		log.Fatalf("Failed to save token: %v", err)
	}
	fmt.Printf("  ✓ token cached until %s\n", creds.ExpiresAt.Format(time.RFC3339))
}

func step3_verify(ctx context.Context, rs *store.RedisStore) {
	fmt.Println("\n── Step 3: Verification ────────────────────────")

	st, err := rs.LoadRateLimit(ctx)
	if err != nil {
		log.Fatalf("Verification failed: %v", err)
	}
	fmt.Printf("  ✓ rate limit backoff_until=%d\n", st.BackoffUntil)

	if _, ok, err := rs.LoadToken(ctx); err != nil {
		log.Fatalf("Token check failed: %v", err)
	} else {
		fmt.Printf("  ✓ token cached: %v\n", ok)
	}
}
