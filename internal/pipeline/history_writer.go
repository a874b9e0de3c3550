package pipeline

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"fleet-monitor/tracking/internal/domain"
	"fleet-monitor/tracking/internal/metrics"
)

// HistoryWriter batches states into the position history.
type HistoryWriter struct {
	ch        <-chan *domain.NormalizedState
	sink      HistorySink
	batchSize int
	flush     time.Duration
	logger    *logrus.Logger
}

func NewHistoryWriter(
	ch <-chan *domain.NormalizedState,
	sink HistorySink,
	batchSize int,
	flush time.Duration,
	logger *logrus.Logger,
) *HistoryWriter {
	if batchSize <= 0 {
		batchSize = 500
	}
	if flush <= 0 {
		flush = 100 * time.Millisecond
	}
	return &HistoryWriter{
		ch:        ch,
		sink:      sink,
		batchSize: batchSize,
		flush:     flush,
		logger:    logger,
	}
}

func (w *HistoryWriter) Run(ctx context.Context) {
	batch := make([]*domain.NormalizedState, 0, w.batchSize)
	ticker := time.NewTicker(w.flush)
	defer ticker.Stop()

	for {
		select {
		case st, ok := <-w.ch:
			if !ok {
				if len(batch) > 0 {
					w.write(ctx, batch)
				}
				return
			}
			batch = append(batch, st)
			if len(batch) >= w.batchSize {
				w.write(ctx, batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			if len(batch) > 0 {
				w.write(ctx, batch)
				batch = batch[:0]
			}

		case <-ctx.Done():
			if len(batch) > 0 {
				w.write(context.WithoutCancel(ctx), batch)
			}
			return
		}
	}
}

func (w *HistoryWriter) write(ctx context.Context, batch []*domain.NormalizedState) {
	err := w.sink.BatchInsert(ctx, batch)
	if err != nil {
		w.logger.WithError(err).WithField("batch", len(batch)).Warn("History write failed, retrying")
		time.Sleep(500 * time.Millisecond)
		err = w.sink.BatchInsert(ctx, batch)
		if err != nil {
			w.logger.WithError(err).WithField("batch", len(batch)).Error("History write permanently failed")
			metrics.HistoryWriteFailure.Add(int64(len(batch)))
			return
		}
	}
	metrics.HistoryWriteSuccess.Add(int64(len(batch)))
}
