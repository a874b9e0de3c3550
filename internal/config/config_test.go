package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chdirTemp keeps Load from picking up a stray .env file.
func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(wd) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8001", cfg.HTTPPort)
	assert.Equal(t, 24, cfg.SyncLookbackHours)
	assert.Equal(t, 10*time.Second, cfg.RateLimitWindow)
	assert.Equal(t, 200*time.Millisecond, cfg.RateLimitMinSpacing)
	assert.Equal(t, 200.0, cfg.TripMaxValidSpeedKmh)
	assert.Equal(t, 300.0, cfg.SpeedMaxKmh)
	assert.Equal(t, []int{10012, 10013, 429}, cfg.RateLimitCodeList())
	assert.Empty(t, cfg.PostgresDSN())
	assert.Empty(t, cfg.KafkaBrokerList())
	assert.Empty(t, cfg.DeviceIDs())
}

func TestLoadFromEnv(t *testing.T) {
	chdirTemp(t)
	t.Setenv("DB_HOST", "db")
	t.Setenv("SYNC_DEVICE_IDS", " a, b ,,c")
	t.Setenv("SYNC_LOOKBACK_HOURS", "5000")
	t.Setenv("RATE_LIMIT_CODES", "429, x, 10012")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("TRIP_STOP_DURATION", "7m")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, cfg.DeviceIDs())
	assert.Equal(t, 720, cfg.SyncLookbackHours)
	assert.Equal(t, []int{429, 10012}, cfg.RateLimitCodeList())
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokerList())
	assert.Equal(t, 7*time.Minute, cfg.TripStopDuration)
	assert.Equal(t, "postgres://fleet_user:fleet_password@db:5432/fleet_monitor?pool_max_conns=15", cfg.PostgresDSN())
}

func TestLoadConfigFile(t *testing.T) {
	dir := chdirTemp(t)
	path := filepath.Join(dir, "tracking.yaml")
	require.NoError(t, os.WriteFile(path, []byte("sync_concurrency: 7\nlog_format: text\n"), 0o644))
	t.Setenv("CONFIG_PATH", path)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.SyncConcurrency)
	assert.Equal(t, "text", cfg.LogFormat)
}

func TestNewLoggerFallsBackToInfo(t *testing.T) {
	logger := NewLogger(&Config{LogLevel: "chatty", LogFormat: "json"})
	assert.Equal(t, logrus.InfoLevel, logger.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, logger.Formatter)

	logger = NewLogger(&Config{LogLevel: "debug", LogFormat: "text"})
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
}
