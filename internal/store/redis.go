package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"fleet-monitor/tracking/internal/config"
	"fleet-monitor/tracking/internal/domain"
)

const (
	rateLimitKey    = "upstream:ratelimit"
	tokenKey        = "upstream:token"
	windowKeyPrefix = "upstream:window:"
	cursorKey       = "sync:cursors"
	fleetGeoKey     = "fleet:geo"
	stateChannel    = "fleet:states"
	defaultStateTTL = 24 * time.Hour
)

// RedisStore holds the latest vehicle states and the state shared between
// job instances: the upstream rate-limit record, sync cursors and the token.
type RedisStore struct {
	client   *redis.Client
	stateTTL time.Duration
}

func NewRedisStore(ctx context.Context, cfg *config.Config) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		PoolSize:     20,
		MinIdleConns: 5,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewRedisStoreFromClient(client, cfg.StateTTL), nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client, stateTTL time.Duration) *RedisStore {
	if stateTTL <= 0 {
		stateTTL = defaultStateTTL
	}
	return &RedisStore{client: client, stateTTL: stateTTL}
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisStore) Client() *redis.Client {
	return r.client
}

func stateKey(vehicleID string) string {
	return fmt.Sprintf("vehicle:%s:state", vehicleID)
}

// PipelineStateUpdate writes the latest state hash, indexes the position and
// announces the update in one round trip.
func (r *RedisStore) PipelineStateUpdate(ctx context.Context, st *domain.NormalizedState) error {
	stateData := map[string]interface{}{
		"vehicle_id":          st.VehicleID,
		"speed_kmh":           st.SpeedKmh,
		"ignition":            st.Ignition,
		"ignition_confidence": st.IgnitionConfidence,
		"ignition_method":     string(st.IgnitionMethod),
		"moving":              st.Moving,
		"online":              st.Online,
		"last_updated":        st.LastUpdated.Unix(),
		"timestamp_source":    string(st.TimestampSource),
		"quality":             string(st.Quality),
	}
	optional := map[string]*float64{
		"lat":         st.Latitude,
		"lng":         st.Longitude,
		"battery_pct": st.BatteryPct,
		"signal_pct":  st.SignalPct,
		"heading":     st.Heading,
		"altitude":    st.Altitude,
	}
	for k, v := range optional {
		if v != nil {
			stateData[k] = *v
		}
	}
	if st.GPSFixTime != nil {
		stateData["gps_fix_time"] = st.GPSFixTime.Unix()
	}

	pubPayload, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	key := stateKey(st.VehicleID)
	pipe := r.client.Pipeline()

	pipe.Del(ctx, key)
	pipe.HSet(ctx, key, stateData)
	pipe.Expire(ctx, key, r.stateTTL)
	if st.HasPosition() {
		pipe.GeoAdd(ctx, fleetGeoKey, &redis.GeoLocation{
			Name:      st.VehicleID,
			Longitude: *st.Longitude,
			Latitude:  *st.Latitude,
		})
	}
	pipe.Publish(ctx, stateChannel, pubPayload)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline failed: %w", err)
	}
	return nil
}

// GetState returns the stored state hash of a vehicle, or nil.
func (r *RedisStore) GetState(ctx context.Context, vehicleID string) (map[string]string, error) {
	vals, err := r.client.HGetAll(ctx, stateKey(vehicleID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis get state failed: %w", err)
	}
	if len(vals) == 0 {
		return nil, nil
	}
	return vals, nil
}

func (r *RedisStore) LoadRateLimit(ctx context.Context) (domain.RateLimitState, error) {
	var st domain.RateLimitState
	raw, err := r.client.Get(ctx, rateLimitKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return st, nil
	}
	if err != nil {
		return st, fmt.Errorf("redis get rate limit failed: %w", err)
	}
	if err := json.Unmarshal(raw, &st); err != nil {
		return domain.RateLimitState{}, fmt.Errorf("decode rate limit state: %w", err)
	}
	return st, nil
}

func (r *RedisStore) SaveRateLimit(ctx context.Context, st domain.RateLimitState) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode rate limit state: %w", err)
	}
	return r.client.Set(ctx, rateLimitKey, raw, 0).Err()
}

// ClearRateLimit removes the shared record.
func (r *RedisStore) ClearRateLimit(ctx context.Context) error {
	return r.client.Del(ctx, rateLimitKey).Err()
}

// IncrWindow counts a call in the fixed window starting at windowStart.
func (r *RedisStore) IncrWindow(ctx context.Context, windowStart time.Time, ttl time.Duration) (int64, error) {
	key := windowKeyPrefix + strconv.FormatInt(windowStart.UnixMilli(), 10)

	pipe := r.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("redis window incr failed: %w", err)
	}
	return incr.Val(), nil
}

// LoadCursor returns the end of the last synced window of a device.
func (r *RedisStore) LoadCursor(ctx context.Context, deviceID string) (time.Time, bool, error) {
	val, err := r.client.HGet(ctx, cursorKey, deviceID).Int64()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("redis get cursor failed: %w", err)
	}
	return time.Unix(val, 0).UTC(), true, nil
}

func (r *RedisStore) SaveCursor(ctx context.Context, deviceID string, t time.Time) error {
	return r.client.HSet(ctx, cursorKey, deviceID, t.Unix()).Err()
}

func (r *RedisStore) LoadToken(ctx context.Context) (domain.Credentials, bool, error) {
	var creds domain.Credentials
	raw, err := r.client.Get(ctx, tokenKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return creds, false, nil
	}
	if err != nil {
		return creds, false, fmt.Errorf("redis get token failed: %w", err)
	}
	if err := json.Unmarshal(raw, &creds); err != nil {
		return domain.Credentials{}, false, fmt.Errorf("decode token: %w", err)
	}
	return creds, true, nil
}

// SaveToken caches credentials until they expire.
func (r *RedisStore) SaveToken(ctx context.Context, creds domain.Credentials) error {
	raw, err := json.Marshal(creds)
	if err != nil {
		return fmt.Errorf("encode token: %w", err)
	}
	var ttl time.Duration
	if !creds.ExpiresAt.IsZero() {
		ttl = time.Until(creds.ExpiresAt)
		if ttl <= 0 {
			return r.DeleteToken(ctx)
		}
	}
	return r.client.Set(ctx, tokenKey, raw, ttl).Err()
}

func (r *RedisStore) DeleteToken(ctx context.Context) error {
	return r.client.Del(ctx, tokenKey).Err()
}

// ResetSyncState drops the shared rate-limit record and burst counters, and
// the sync cursors when cursors is set. It returns the number of keys removed.
func (r *RedisStore) ResetSyncState(ctx context.Context, cursors bool) (int64, error) {
	keys := []string{rateLimitKey}
	if cursors {
		keys = append(keys, cursorKey)
	}

	iter := r.client.Scan(ctx, 0, windowKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("redis scan windows failed: %w", err)
	}

	n, err := r.client.Del(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("redis reset failed: %w", err)
	}
	return n, nil
}
