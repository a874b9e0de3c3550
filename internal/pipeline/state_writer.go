package pipeline

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"fleet-monitor/tracking/internal/domain"
	"fleet-monitor/tracking/internal/metrics"
)

const stateBatchSize = 100

// StateWriter keeps the latest state of every vehicle in the state sink.
type StateWriter struct {
	ch     <-chan *domain.NormalizedState
	sink   StateSink
	logger *logrus.Logger
}

func NewStateWriter(ch <-chan *domain.NormalizedState, sink StateSink, logger *logrus.Logger) *StateWriter {
	return &StateWriter{ch: ch, sink: sink, logger: logger}
}

func (w *StateWriter) Run(ctx context.Context) {
	batch := make([]*domain.NormalizedState, 0, stateBatchSize)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case st, ok := <-w.ch:
			if !ok {
				w.flushBatch(ctx, batch)
				return
			}
			batch = append(batch, st)
			if len(batch) >= stateBatchSize {
				w.flushBatch(ctx, batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			if len(batch) > 0 {
				w.flushBatch(ctx, batch)
				batch = batch[:0]
			}

		case <-ctx.Done():
			w.flushBatch(context.WithoutCancel(ctx), batch)
			return
		}
	}
}

func (w *StateWriter) flushBatch(ctx context.Context, batch []*domain.NormalizedState) {
	for _, st := range batch {
		if err := w.sink.PipelineStateUpdate(ctx, st); err != nil {
			metrics.StateWriteFailures.Add(1)
			w.logger.WithError(err).WithField("device_id", st.VehicleID).Warn("State update failed")
			continue
		}
		metrics.StateWriteSuccess.Add(1)
	}
}

// PublishWriter forwards states to the publisher in batches.
type PublishWriter struct {
	ch        <-chan *domain.NormalizedState
	publisher Publisher
	logger    *logrus.Logger
}

func NewPublishWriter(ch <-chan *domain.NormalizedState, publisher Publisher, logger *logrus.Logger) *PublishWriter {
	return &PublishWriter{ch: ch, publisher: publisher, logger: logger}
}

func (w *PublishWriter) Run(ctx context.Context) {
	batch := make([]*domain.NormalizedState, 0, stateBatchSize)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case st, ok := <-w.ch:
			if !ok {
				w.flushBatch(ctx, batch)
				return
			}
			batch = append(batch, st)
			if len(batch) >= stateBatchSize {
				w.flushBatch(ctx, batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			if len(batch) > 0 {
				w.flushBatch(ctx, batch)
				batch = batch[:0]
			}

		case <-ctx.Done():
			w.flushBatch(context.WithoutCancel(ctx), batch)
			return
		}
	}
}

func (w *PublishWriter) flushBatch(ctx context.Context, batch []*domain.NormalizedState) {
	if len(batch) == 0 {
		return
	}
	if err := w.publisher.PublishStates(ctx, batch); err != nil {
		metrics.PublishFailures.Add(int64(len(batch)))
		w.logger.WithError(err).WithField("batch", len(batch)).Warn("State publish failed")
	}
}
