package pipeline

import (
	"context"
	"time"

	"fleet-monitor/tracking/internal/domain"
)

// Upstream is the subset of the vendor client the job needs.
type Upstream interface {
	FetchPositions(ctx context.Context, creds domain.Credentials, deviceIDs []string) ([]domain.RawPing, error)
	FetchHistory(ctx context.Context, creds domain.Credentials, deviceID string, from, to time.Time) ([]domain.RawPing, error)
	QueryTrips(ctx context.Context, creds domain.Credentials, deviceID string, from, to time.Time) ([]domain.TripCandidate, error)
}

type StateSink interface {
	PipelineStateUpdate(ctx context.Context, st *domain.NormalizedState) error
}

type HistorySink interface {
	BatchInsert(ctx context.Context, states []*domain.NormalizedState) error
}

type Publisher interface {
	PublishStates(ctx context.Context, states []*domain.NormalizedState) error
	PublishTrip(ctx context.Context, t *domain.Trip) error
}

// CursorStore remembers where the last incremental sync of a device ended.
type CursorStore interface {
	LoadCursor(ctx context.Context, deviceID string) (time.Time, bool, error)
	SaveCursor(ctx context.Context, deviceID string, t time.Time) error
}
