package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"fleet-monitor/tracking/internal/config"
	"fleet-monitor/tracking/internal/domain"
	"fleet-monitor/tracking/internal/normalize"
	"fleet-monitor/tracking/internal/pipeline"
	"fleet-monitor/tracking/internal/publish"
	"fleet-monitor/tracking/internal/store"
	transporthttp "fleet-monitor/tracking/internal/transport/http"
	"fleet-monitor/tracking/internal/trips"
	"fleet-monitor/tracking/internal/upstream"
)

func main() {
	once := flag.Bool("once", false, "run a single sync and exit")
	full := flag.Bool("full", false, "ignore sync cursors and rescan the whole lookback window")
	lookback := flag.Int("lookback", 0, "lookback in hours (default from SYNC_LOOKBACK_HOURS)")
	devices := flag.String("devices", "", "comma separated device ids")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	logger := config.NewLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	redisStore, err := store.NewRedisStore(ctx, cfg)
	if err != nil {
		logger.Fatalf("Redis init failed: %v", err)
	}
	defer redisStore.Close()

	checks := map[string]transporthttp.Pinger{"redis": redisStore}
	deps := pipeline.Deps{
		States:  redisStore,
		Cursors: redisStore,
	}

	var tripStore trips.Store
	if dsn := cfg.PostgresDSN(); dsn != "" {
		ts, err := store.NewTimescaleStore(ctx, dsn)
		if err != nil {
			logger.Fatalf("TimescaleDB init failed: %v", err)
		}
		defer ts.Close()
		tripStore = ts
		deps.History = ts
		checks["timescale"] = ts
		logger.Info("Storing trips and position history in TimescaleDB")
	} else {
		ss, err := store.NewSQLiteTripStore(ctx, cfg.SQLitePath)
		if err != nil {
			logger.Fatalf("SQLite init failed: %v", err)
		}
		defer ss.Close()
		tripStore = ss
		checks["sqlite"] = ss
		logger.WithField("path", cfg.SQLitePath).Info("Storing trips in SQLite, position history disabled")
	}

	if brokers := cfg.KafkaBrokerList(); len(brokers) > 0 {
		kp := publish.NewKafkaPublisher(publish.Config{
			Brokers:    brokers,
			StateTopic: cfg.KafkaStateTopic,
			TripTopic:  cfg.KafkaTripTopic,
		}, logger)
		defer kp.Close()
		deps.Publisher = kp
	} else {
		deps.Publisher = publish.Nop{}
		logger.Info("No Kafka brokers configured, publishing disabled")
	}

	client := upstream.NewClient(upstreamConfig(cfg), redisStore, logger)
	deps.Upstream = client
	deps.Credentials = upstream.NewTokenProvider(redisStore, client, cfg.UpstreamAccount, cfg.UpstreamPassword, logger)

	deps.Segmenter = trips.NewSegmenter(segmenterConfig(cfg))
	deps.Recorder = trips.NewRecorder(tripStore, trips.Deduplicator{
		Window:            cfg.TripDedupWindow,
		DistanceTolerance: cfg.TripDedupDistanceTolerance,
	}, logger)
	deps.Normalize = normalizeOptions(cfg)

	job := pipeline.NewJob(pipeline.JobConfig{
		LookbackHours:        cfg.SyncLookbackHours,
		DeviceIDs:            cfg.DeviceIDs(),
		Concurrency:          cfg.SyncConcurrency,
		HistoryChannelSize:   cfg.HistoryChannelSize,
		StateChannelSize:     cfg.StateChannelSize,
		PublishChannelSize:   cfg.PublishChannelSize,
		HistoryBatchSize:     cfg.HistoryBatchSize,
		HistoryFlushInterval: cfg.HistoryFlushInterval,
		HistoryWriterWorkers: cfg.HistoryWriterWorkers,
		StateWriterWorkers:   cfg.StateWriterWorkers,
		PublishWorkers:       cfg.PublishWorkers,
	}, deps, logger)

	params := domain.SyncParams{LookbackHours: *lookback, FullResync: *full}
	for _, id := range strings.Split(*devices, ",") {
		if id = strings.TrimSpace(id); id != "" {
			params.DeviceIDs = append(params.DeviceIDs, id)
		}
	}

	if *once {
		res, err := job.Run(ctx, params)
		if err != nil {
			logger.Fatalf("Sync failed: %v", err)
		}
		json.NewEncoder(os.Stdout).Encode(res)
		if len(res.Failed()) > 0 {
			os.Exit(2)
		}
		return
	}

	server := transporthttp.NewServer(":"+cfg.HTTPPort, job, checks, logger)
	go func() {
		if err := server.Start(); err != nil {
			logger.Errorf("HTTP server error: %v", err)
			stop()
		}
	}()

	go schedule(ctx, job, params, cfg.SyncInterval, logger)

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Stop(shutdownCtx); err != nil {
		logger.Warnf("Server shutdown: %v", err)
	}
}

// schedule runs the job immediately and then on every tick. Only the first
// scheduled run honours a forced full resync.
func schedule(ctx context.Context, job *pipeline.Job, params domain.SyncParams, every time.Duration, logger *logrus.Logger) {
	if every <= 0 {
		every = 5 * time.Minute
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		_, err := job.Run(ctx, params)
		switch {
		case err == nil:
		case ctx.Err() != nil:
			return
		default:
			logger.WithError(err).Error("Scheduled sync failed")
		}
		params.FullResync = false

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func upstreamConfig(cfg *config.Config) upstream.Config {
	uc := upstream.DefaultConfig()
	uc.BaseURL = cfg.UpstreamBaseURL
	uc.Timeout = cfg.UpstreamTimeout
	uc.Burst = cfg.RateLimitBurst
	uc.Window = cfg.RateLimitWindow
	uc.MinSpacing = cfg.RateLimitMinSpacing
	uc.MaxAttempts = cfg.RetryMaxAttempts
	uc.BackoffInitial = cfg.BackoffInitial
	uc.BackoffMultiplier = cfg.BackoffMultiplier
	uc.BackoffMax = cfg.BackoffMax
	if codes := cfg.RateLimitCodeList(); len(codes) > 0 {
		uc.RateLimitCodes = codes
	}
	return uc
}

func segmenterConfig(cfg *config.Config) trips.Config {
	return trips.Config{
		MaxGap:           cfg.TripMaxGap,
		StopDuration:     cfg.TripStopDuration,
		MoveSpeedKmh:     cfg.TripMoveSpeedKmh,
		MoveDistanceM:    cfg.TripMoveDistanceM,
		MinDistanceKm:    cfg.TripMinDistanceKm,
		MinPoints:        cfg.TripMinPoints,
		MaxStepKm:        cfg.TripMaxStepKm,
		MaxValidSpeedKmh: cfg.TripMaxValidSpeedKmh,
	}
}

func normalizeOptions(cfg *config.Config) normalize.Options {
	opts := normalize.DefaultOptions()
	opts.OfflineThreshold = cfg.OfflineThreshold
	opts.Battery = normalize.BatteryConfig{
		Chemistry:      normalize.ParseChemistry(cfg.BatteryChemistry),
		NominalVoltage: cfg.BatteryNominalVoltage,
	}
	opts.Thresholds.SpeedUnitCutoff = cfg.SpeedUnitCutoffKmh
	opts.Thresholds.SpeedNoiseFloor = cfg.SpeedNoiseFloorKmh
	opts.Thresholds.SpeedMax = cfg.SpeedMaxKmh
	opts.Thresholds.IgnitionGate = cfg.IgnitionConfidenceGate
	return opts
}
