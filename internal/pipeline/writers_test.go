package pipeline

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"

	"fleet-monitor/tracking/internal/domain"
	"fleet-monitor/tracking/internal/metrics"
)

type batchSink struct {
	mu      sync.Mutex
	batches []int
	fail    int
}

func (s *batchSink) BatchInsert(_ context.Context, states []*domain.NormalizedState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail > 0 {
		s.fail--
		return errors.New("copy failed")
	}
	s.batches = append(s.batches, len(states))
	return nil
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	before := metrics.StateChannelDrops.Load()
	d := NewDispatcher(2, 1, 2)

	d.Dispatch(&domain.NormalizedState{VehicleID: "a"})
	d.Dispatch(&domain.NormalizedState{VehicleID: "b"})

	assert.Len(t, d.HistoryChan, 2)
	assert.Len(t, d.StateChan, 1)
	assert.Equal(t, before+1, metrics.StateChannelDrops.Load())
	d.Close()
}

func TestHistoryWriterBatchesAndFlushesOnClose(t *testing.T) {
	ch := make(chan *domain.NormalizedState, 10)
	sink := &batchSink{}
	for i := 0; i < 5; i++ {
		ch <- &domain.NormalizedState{VehicleID: "a"}
	}
	close(ch)

	NewHistoryWriter(ch, sink, 2, 0, quietLogger()).Run(context.Background())
	assert.Equal(t, []int{2, 2, 1}, sink.batches)
}

func TestHistoryWriterRetriesOnce(t *testing.T) {
	ch := make(chan *domain.NormalizedState, 1)
	sink := &batchSink{fail: 1}
	ch <- &domain.NormalizedState{VehicleID: "a"}
	close(ch)

	NewHistoryWriter(ch, sink, 10, 0, quietLogger()).Run(context.Background())
	assert.Equal(t, []int{1}, sink.batches)
}
