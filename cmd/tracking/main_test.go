package main

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleet-monitor/tracking/internal/config"
	"fleet-monitor/tracking/internal/trips"
)

func loadDefaults(t *testing.T) *config.Config {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { os.Chdir(wd) })

	cfg, err := config.Load()
	require.NoError(t, err)
	return cfg
}

func TestSegmenterConfigKeepsStepSpeedCap(t *testing.T) {
	cfg := loadDefaults(t)

	got := trips.NewSegmenter(segmenterConfig(cfg)).Config()
	assert.Equal(t, trips.DefaultConfig(), got)
	// The normalizer clamp is wider than the step speed cap.
	assert.Equal(t, 300.0, normalizeOptions(cfg).Thresholds.SpeedMax)
}

func TestUpstreamConfigFromSettings(t *testing.T) {
	cfg := loadDefaults(t)
	cfg.RateLimitCodes = "429"

	uc := upstreamConfig(cfg)
	assert.Equal(t, []int{429}, uc.RateLimitCodes)
	assert.Equal(t, cfg.RateLimitBurst, uc.Burst)
	assert.Equal(t, cfg.BackoffMax, uc.BackoffMax)
}
