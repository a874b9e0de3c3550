package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

type Config struct {
	// HTTP
	HTTPPort string `mapstructure:"http_port"`

	// Logging
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`

	// TimescaleDB. Leave DB_HOST empty to keep trips in SQLite.
	DBHost     string `mapstructure:"db_host"`
	DBPort     string `mapstructure:"db_port"`
	DBUser     string `mapstructure:"db_user"`
	DBPassword string `mapstructure:"db_password"`
	DBName     string `mapstructure:"db_name"`
	DBMaxConns int32  `mapstructure:"db_max_conns"`
	SQLitePath string `mapstructure:"sqlite_path"`

	// Redis
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	StateTTL      time.Duration `mapstructure:"state_ttl"`

	// Kafka. Empty brokers disables publishing.
	KafkaBrokers    string `mapstructure:"kafka_brokers"`
	KafkaStateTopic string `mapstructure:"kafka_state_topic"`
	KafkaTripTopic  string `mapstructure:"kafka_trip_topic"`

	// Pipeline channels and writers
	HistoryChannelSize   int           `mapstructure:"history_channel_size"`
	StateChannelSize     int           `mapstructure:"state_channel_size"`
	PublishChannelSize   int           `mapstructure:"publish_channel_size"`
	HistoryBatchSize     int           `mapstructure:"history_batch_size"`
	HistoryFlushInterval time.Duration `mapstructure:"history_flush_interval"`
	HistoryWriterWorkers int           `mapstructure:"history_writer_workers"`
	StateWriterWorkers   int           `mapstructure:"state_writer_workers"`
	PublishWorkers       int           `mapstructure:"publish_workers"`

	// Normalizer
	SpeedUnitCutoffKmh     float64       `mapstructure:"speed_unit_cutoff_kmh"`
	SpeedNoiseFloorKmh     float64       `mapstructure:"speed_noise_floor_kmh"`
	SpeedMaxKmh            float64       `mapstructure:"speed_max_kmh"`
	IgnitionConfidenceGate float64       `mapstructure:"ignition_confidence_gate"`
	OfflineThreshold       time.Duration `mapstructure:"offline_threshold"`
	BatteryChemistry       string        `mapstructure:"battery_chemistry"`
	BatteryNominalVoltage  float64       `mapstructure:"battery_nominal_voltage"`

	// Segmentation
	TripMaxGap                 time.Duration `mapstructure:"trip_max_gap"`
	TripStopDuration           time.Duration `mapstructure:"trip_stop_duration"`
	TripMoveSpeedKmh           float64       `mapstructure:"trip_move_speed_kmh"`
	TripMoveDistanceM          float64       `mapstructure:"trip_move_distance_m"`
	TripMinDistanceKm          float64       `mapstructure:"trip_min_distance_km"`
	TripMinPoints              int           `mapstructure:"trip_min_points"`
	TripMaxStepKm              float64       `mapstructure:"trip_max_step_km"`
	TripMaxValidSpeedKmh       float64       `mapstructure:"trip_max_valid_speed_kmh"`
	TripDedupWindow            time.Duration `mapstructure:"trip_dedup_window"`
	TripDedupDistanceTolerance float64       `mapstructure:"trip_dedup_distance_tolerance"`

	// Upstream API
	UpstreamBaseURL     string        `mapstructure:"upstream_base_url"`
	UpstreamAccount     string        `mapstructure:"upstream_account"`
	UpstreamPassword    string        `mapstructure:"upstream_password"`
	UpstreamTimeout     time.Duration `mapstructure:"upstream_timeout"`
	RateLimitBurst      int           `mapstructure:"rate_limit_burst"`
	RateLimitWindow     time.Duration `mapstructure:"rate_limit_window"`
	RateLimitMinSpacing time.Duration `mapstructure:"rate_limit_min_spacing"`
	RateLimitCodes      string        `mapstructure:"rate_limit_codes"`
	RetryMaxAttempts    int           `mapstructure:"retry_max_attempts"`
	BackoffInitial      time.Duration `mapstructure:"backoff_initial"`
	BackoffMultiplier   float64       `mapstructure:"backoff_multiplier"`
	BackoffMax          time.Duration `mapstructure:"backoff_max"`

	// Sync job
	SyncLookbackHours int           `mapstructure:"sync_lookback_hours"`
	SyncDeviceIDs     string        `mapstructure:"sync_device_ids"`
	SyncConcurrency   int           `mapstructure:"sync_concurrency"`
	SyncInterval      time.Duration `mapstructure:"sync_interval"`
}

var defaults = map[string]any{
	"http_port":  "8001",
	"log_level":  "info",
	"log_format": "json",

	"db_host":      "",
	"db_port":      "5432",
	"db_user":      "fleet_user",
	"db_password":  "fleet_password",
	"db_name":      "fleet_monitor",
	"db_max_conns": 15,
	"sqlite_path":  "tracking.db",

	"redis_addr":     "localhost:6379",
	"redis_password": "",
	"redis_db":       0,
	"state_ttl":      "24h",

	"kafka_brokers":     "",
	"kafka_state_topic": "vehicle-states",
	"kafka_trip_topic":  "vehicle-trips",

	"history_channel_size":   10000,
	"state_channel_size":     10000,
	"publish_channel_size":   10000,
	"history_batch_size":     500,
	"history_flush_interval": "100ms",
	"history_writer_workers": 2,
	"state_writer_workers":   4,
	"publish_workers":        2,

	"speed_unit_cutoff_kmh":    200.0,
	"speed_noise_floor_kmh":    3.0,
	"speed_max_kmh":            300.0,
	"ignition_confidence_gate": 0.5,
	"offline_threshold":        "10m",
	"battery_chemistry":        "lead_acid",
	"battery_nominal_voltage":  12.0,

	"trip_max_gap":                  "30m",
	"trip_stop_duration":            "5m",
	"trip_move_speed_kmh":           5.0,
	"trip_move_distance_m":          100.0,
	"trip_min_distance_km":          0.3,
	"trip_min_points":               3,
	"trip_max_step_km":              10.0,
	"trip_max_valid_speed_kmh":      200.0,
	"trip_dedup_window":             "2m",
	"trip_dedup_distance_tolerance": 0.05,

	"upstream_base_url":      "",
	"upstream_account":       "",
	"upstream_password":      "",
	"upstream_timeout":       "15s",
	"rate_limit_burst":       10,
	"rate_limit_window":      "10s",
	"rate_limit_min_spacing": "200ms",
	"rate_limit_codes":       "10012,10013,429",
	"retry_max_attempts":     4,
	"backoff_initial":        "1s",
	"backoff_multiplier":     2.0,
	"backoff_max":            "30s",

	"sync_lookback_hours": 24,
	"sync_device_ids":     "",
	"sync_concurrency":    3,
	"sync_interval":       "5m",
}

// Load reads an optional .env file, then the optional YAML file named by
// CONFIG_PATH, then the environment. Later sources win.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("error reading .env: %w", err)
	}

	v := viper.New()
	for key, val := range defaults {
		v.SetDefault(key, val)
	}
	v.AutomaticEnv()

	if path := os.Getenv("CONFIG_PATH"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if cfg.SyncLookbackHours > 720 {
		cfg.SyncLookbackHours = 720
	}
	return &cfg, nil
}

// DeviceIDs returns the configured device list.
func (c *Config) DeviceIDs() []string {
	return splitList(c.SyncDeviceIDs)
}

// RateLimitCodeList parses RATE_LIMIT_CODES, skipping malformed entries.
func (c *Config) RateLimitCodeList() []int {
	var out []int
	for _, s := range splitList(c.RateLimitCodes) {
		n, err := strconv.Atoi(s)
		if err != nil {
			continue
		}
		out = append(out, n)
	}
	return out
}

// PostgresDSN is empty when no database host is configured.
func (c *Config) PostgresDSN() string {
	if c.DBHost == "" {
		return ""
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?pool_max_conns=%d",
		c.DBUser,
		c.DBPassword,
		c.DBHost,
		c.DBPort,
		c.DBName,
		c.DBMaxConns,
	)
}

func (c *Config) KafkaBrokerList() []string {
	return splitList(c.KafkaBrokers)
}

// NewLogger builds the process logger from the logging settings.
func NewLogger(cfg *Config) *logrus.Logger {
	logger := logrus.New()
	if cfg.LogFormat == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	logger.SetOutput(os.Stdout)

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logger.Warnf("Invalid log level '%s', defaulting to 'info'", cfg.LogLevel)
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	return logger
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
