package trips

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"fleet-monitor/tracking/internal/domain"
	"fleet-monitor/tracking/internal/metrics"
)

// RecordResult counts what happened to a batch of candidates.
type RecordResult struct {
	Inserted   []domain.Trip
	Duplicates int
	// Skipped candidates could not be checked or stored; they are retried
	// on a later run.
	Skipped int
}

// Recorder stores candidates that are not already known.
type Recorder struct {
	store  Store
	dedup  Deduplicator
	logger *logrus.Logger

	now   func() time.Time
	newID func() string
}

func NewRecorder(store Store, dedup Deduplicator, logger *logrus.Logger) *Recorder {
	return &Recorder{
		store:  store,
		dedup:  dedup,
		logger: logger,
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// Record checks each candidate against storage and against the candidates
// inserted earlier in the same call. A failed lookup skips the candidate
// rather than risk a duplicate.
func (r *Recorder) Record(ctx context.Context, candidates []domain.TripCandidate) (RecordResult, error) {
	var (
		res  RecordResult
		errs []error
	)

	for _, c := range candidates {
		if _, dup := r.dedup.FindDuplicate(c, res.Inserted); dup {
			res.Duplicates++
			metrics.TripsDuplicate.Add(1)
			continue
		}

		from, to := r.dedup.SearchRange(c)
		existing, err := r.store.FindTrips(ctx, c.DeviceID, from, to)
		if err != nil {
			res.Skipped++
			metrics.TripDedupFailures.Add(1)
			errs = append(errs, fmt.Errorf("dedup lookup %s@%s: %w", c.DeviceID, c.StartTime.Format(time.RFC3339), err))
			continue
		}
		if dup, ok := r.dedup.FindDuplicate(c, existing); ok {
			res.Duplicates++
			metrics.TripsDuplicate.Add(1)
			r.logger.WithFields(logrus.Fields{
				"device_id": c.DeviceID,
				"existing":  dup.ID,
				"source":    c.Source,
			}).Debug("Duplicate trip suppressed")
			continue
		}

		trip := domain.Trip{ID: r.newID(), TripCandidate: c, CreatedAt: r.now().UTC()}
		if err := r.store.InsertTrip(ctx, &trip); err != nil {
			res.Skipped++
			metrics.TripInsertFailures.Add(1)
			errs = append(errs, err)
			continue
		}
		metrics.TripsInserted.Add(1)
		res.Inserted = append(res.Inserted, trip)
	}

	return res, errors.Join(errs...)
}
