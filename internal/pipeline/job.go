package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"fleet-monitor/tracking/internal/domain"
	"fleet-monitor/tracking/internal/metrics"
	"fleet-monitor/tracking/internal/normalize"
	"fleet-monitor/tracking/internal/publish"
	"fleet-monitor/tracking/internal/trips"
	"fleet-monitor/tracking/internal/upstream"
)

// ErrAlreadyRunning is returned when a run is requested while one is active.
var ErrAlreadyRunning = errors.New("sync already running")

type JobConfig struct {
	LookbackHours int
	DeviceIDs     []string
	Concurrency   int

	HistoryChannelSize   int
	StateChannelSize     int
	PublishChannelSize   int
	HistoryBatchSize     int
	HistoryFlushInterval time.Duration
	HistoryWriterWorkers int
	StateWriterWorkers   int
	PublishWorkers       int

	// Local trips ending closer than this to the window end may still be
	// in progress; they are left for the next run.
	SettleTime time.Duration
}

// Deps are the collaborators of a Job. History and Cursors are optional; a
// missing Publisher discards everything.
type Deps struct {
	Credentials upstream.CredentialSource
	Upstream    Upstream
	States      StateSink
	History     HistorySink
	Publisher   Publisher
	Cursors     CursorStore
	Segmenter   *trips.Segmenter
	Recorder    *trips.Recorder
	Normalize   normalize.Options
}

// Job is one sync pass: refresh current states, then reconstruct and record
// trips for each device.
type Job struct {
	cfg    JobConfig
	deps   Deps
	logger *logrus.Logger

	running sync.Mutex
	now     func() time.Time
}

func NewJob(cfg JobConfig, deps Deps, logger *logrus.Logger) *Job {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 3
	}
	if cfg.HistoryWriterWorkers <= 0 {
		cfg.HistoryWriterWorkers = 1
	}
	if cfg.StateWriterWorkers <= 0 {
		cfg.StateWriterWorkers = 1
	}
	if cfg.PublishWorkers <= 0 {
		cfg.PublishWorkers = 1
	}
	if cfg.HistoryChannelSize <= 0 {
		cfg.HistoryChannelSize = 10000
	}
	if cfg.StateChannelSize <= 0 {
		cfg.StateChannelSize = 10000
	}
	if cfg.PublishChannelSize <= 0 {
		cfg.PublishChannelSize = 10000
	}
	if deps.Publisher == nil {
		deps.Publisher = publish.Nop{}
	}
	if deps.Segmenter == nil {
		deps.Segmenter = trips.NewSegmenter(trips.DefaultConfig())
	}
	if cfg.SettleTime <= 0 {
		cfg.SettleTime = deps.Segmenter.Config().StopDuration
	}
	return &Job{cfg: cfg, deps: deps, logger: logger, now: time.Now}
}

// Run performs one sync. Only a credential failure aborts the run; every
// other failure is reported in the result.
func (j *Job) Run(ctx context.Context, params domain.SyncParams) (*domain.SyncResult, error) {
	if !j.running.TryLock() {
		return nil, ErrAlreadyRunning
	}
	defer j.running.Unlock()

	metrics.SyncRuns.Add(1)
	now := j.now().UTC()
	res := &domain.SyncResult{StartedAt: now}

	creds, err := j.deps.Credentials.GetValidToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("obtain credentials: %w", err)
	}

	requested := params.DeviceIDs
	if len(requested) == 0 {
		requested = j.cfg.DeviceIDs
	}

	seen := j.refreshStates(ctx, creds, requested, res)

	devices := requested
	if len(devices) == 0 {
		devices = seen
	}

	lookback := params.Lookback(j.cfg.LookbackHours)
	results := make([]domain.DeviceResult, len(devices))

	var g errgroup.Group
	g.SetLimit(j.cfg.Concurrency)
	for i, id := range devices {
		g.Go(func() error {
			results[i] = j.syncDevice(ctx, creds, id, now, lookback, params.FullResync)
			return nil
		})
	}
	_ = g.Wait()

	res.Devices = results
	res.FinishedAt = j.now().UTC()

	failed := res.Failed()
	metrics.SyncDeviceFailure.Add(int64(len(failed)))
	j.logger.WithFields(logrus.Fields{
		"devices":        len(devices),
		"failed":         len(failed),
		"states_updated": res.StatesUpdated,
		"took":           res.FinishedAt.Sub(res.StartedAt).String(),
	}).Info("Sync finished")

	return res, nil
}

// refreshStates fetches current positions, normalizes them and fans them out
// to the writers. It returns the device ids seen, in response order.
func (j *Job) refreshStates(ctx context.Context, creds domain.Credentials, deviceIDs []string, res *domain.SyncResult) []string {
	pings, err := j.deps.Upstream.FetchPositions(ctx, creds, deviceIDs)
	if err != nil {
		res.PositionsError = err.Error()
		j.logger.WithError(err).Warn("Position fetch failed")
		j.maybeInvalidate(ctx, err)
		return nil
	}

	disp := NewDispatcher(j.cfg.HistoryChannelSize, j.cfg.StateChannelSize, j.cfg.PublishChannelSize)
	var wg sync.WaitGroup
	j.startWriters(ctx, disp, &wg)

	var seen []string
	known := make(map[string]bool, len(pings))
	for i := range pings {
		st := normalize.Normalize(&pings[i], j.deps.Normalize)
		if st == nil || st.VehicleID == "" {
			continue
		}
		metrics.PingsNormalized.Add(1)
		disp.Dispatch(st)
		res.StatesUpdated++
		if !known[st.VehicleID] {
			known[st.VehicleID] = true
			seen = append(seen, st.VehicleID)
		}
	}

	disp.Close()
	wg.Wait()
	return seen
}

func (j *Job) startWriters(ctx context.Context, disp *Dispatcher, wg *sync.WaitGroup) {
	run := func(n int, fn func()) {
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				fn()
			}()
		}
	}

	if j.deps.States != nil {
		run(j.cfg.StateWriterWorkers, func() {
			NewStateWriter(disp.StateChan, j.deps.States, j.logger).Run(ctx)
		})
	} else {
		run(1, func() { drain(disp.StateChan) })
	}

	if j.deps.History != nil {
		run(j.cfg.HistoryWriterWorkers, func() {
			NewHistoryWriter(disp.HistoryChan, j.deps.History, j.cfg.HistoryBatchSize, j.cfg.HistoryFlushInterval, j.logger).Run(ctx)
		})
	} else {
		run(1, func() { drain(disp.HistoryChan) })
	}

	run(j.cfg.PublishWorkers, func() {
		NewPublishWriter(disp.PublishChan, j.deps.Publisher, j.logger).Run(ctx)
	})
}

func drain(ch <-chan *domain.NormalizedState) {
	for range ch {
	}
}

func (j *Job) syncDevice(ctx context.Context, creds domain.Credentials, deviceID string, now time.Time, lookback time.Duration, full bool) domain.DeviceResult {
	log := j.logger.WithField("device_id", deviceID)
	end := now
	start := end.Add(-lookback)

	if !full && j.deps.Cursors != nil {
		cursor, ok, err := j.deps.Cursors.LoadCursor(ctx, deviceID)
		if err != nil {
			log.WithError(err).Warn("Failed to load sync cursor")
		} else if ok && cursor.After(start) {
			start = cursor
		}
	}

	dr := domain.DeviceResult{DeviceID: deviceID, WindowStartUnix: start.Unix(), WindowEndUnix: end.Unix()}
	if !start.Before(end) {
		return dr
	}

	var errs []error

	pings, err := j.deps.Upstream.FetchHistory(ctx, creds, deviceID, start, end)
	if err != nil {
		j.maybeInvalidate(ctx, err)
		dr.Error = fmt.Errorf("fetch history: %w", err).Error()
		log.WithError(err).Warn("History fetch failed")
		return dr
	}
	dr.PingsProcessed = len(pings)

	points := make([]trips.Point, 0, len(pings))
	for i := range pings {
		if p, ok := trips.PointFromRaw(&pings[i], j.deps.Normalize); ok {
			points = append(points, p)
		}
	}
	seg := j.deps.Segmenter.SegmentUntil(deviceID, points, end)
	local, cursor := j.settle(seg.Trips, end)
	// A movement still under way may not have passed the floors yet; the
	// next run has to see it from its first point.
	if !seg.OpenSince.IsZero() && seg.OpenSince.Before(cursor) {
		cursor = seg.OpenSince
	}

	vendor, err := j.deps.Upstream.QueryTrips(ctx, creds, deviceID, start, end)
	if err != nil {
		j.maybeInvalidate(ctx, err)
		errs = append(errs, fmt.Errorf("query vendor trips: %w", err))
	}

	// Vendor trips go first so a local reconstruction of the same movement
	// is the one suppressed.
	candidates := append(vendor, local...)
	dr.TripsDetected = len(candidates)
	metrics.TripsDetected.Add(int64(len(candidates)))

	rec, err := j.deps.Recorder.Record(ctx, candidates)
	if err != nil {
		errs = append(errs, fmt.Errorf("record trips: %w", err))
	}
	dr.TripsInserted = len(rec.Inserted)
	dr.TripsDuplicate = rec.Duplicates
	dr.TripsSkipped = rec.Skipped

	for i := range rec.Inserted {
		if err := j.deps.Publisher.PublishTrip(ctx, &rec.Inserted[i]); err != nil {
			metrics.PublishFailures.Add(1)
			log.WithError(err).Warn("Trip publish failed")
		}
	}

	// On any failure the cursor stays put so the window is retried.
	if j.deps.Cursors != nil && len(errs) == 0 {
		if err := j.deps.Cursors.SaveCursor(ctx, deviceID, cursor); err != nil {
			log.WithError(err).Warn("Failed to save sync cursor")
		}
	}

	if len(errs) > 0 {
		dr.Error = errors.Join(errs...).Error()
		log.WithField("error", dr.Error).Warn("Device sync incomplete")
	}
	log.WithFields(logrus.Fields{
		"pings":     dr.PingsProcessed,
		"detected":  dr.TripsDetected,
		"inserted":  dr.TripsInserted,
		"duplicate": dr.TripsDuplicate,
	}).Debug("Device synced")
	return dr
}

// settle holds back local trips that may still be in progress at the window
// end. The returned cursor is where the next incremental run should start.
func (j *Job) settle(local []domain.TripCandidate, end time.Time) ([]domain.TripCandidate, time.Time) {
	cursor := end
	kept := local[:0]
	for _, c := range local {
		if end.Sub(c.EndTime) < j.cfg.SettleTime {
			if c.StartTime.Before(cursor) {
				cursor = c.StartTime
			}
			continue
		}
		kept = append(kept, c)
	}
	return kept, cursor
}

func (j *Job) maybeInvalidate(ctx context.Context, err error) {
	if !upstream.IsAuth(err) {
		return
	}
	if inv, ok := j.deps.Credentials.(interface{ Invalidate(context.Context) }); ok {
		inv.Invalidate(ctx)
	}
}
