package pipeline

import (
	"fleet-monitor/tracking/internal/domain"
	"fleet-monitor/tracking/internal/metrics"
)

// Dispatcher fans a normalized state out to the writers without blocking the
// sync run. A full channel drops the state for that writer only.
type Dispatcher struct {
	HistoryChan chan *domain.NormalizedState
	StateChan   chan *domain.NormalizedState
	PublishChan chan *domain.NormalizedState
}

func NewDispatcher(historySize, stateSize, publishSize int) *Dispatcher {
	return &Dispatcher{
		HistoryChan: make(chan *domain.NormalizedState, historySize),
		StateChan:   make(chan *domain.NormalizedState, stateSize),
		PublishChan: make(chan *domain.NormalizedState, publishSize),
	}
}

func (d *Dispatcher) Dispatch(st *domain.NormalizedState) {
	select {
	case d.HistoryChan <- st:
	default:
		metrics.HistoryChannelDrops.Add(1)
	}

	select {
	case d.StateChan <- st:
	default:
		metrics.StateChannelDrops.Add(1)
	}

	select {
	case d.PublishChan <- st:
	default:
		metrics.PublishChannelDrops.Add(1)
	}
}

// Close ends the run; writers drain what is buffered and exit.
func (d *Dispatcher) Close() {
	close(d.HistoryChan)
	close(d.StateChan)
	close(d.PublishChan)
}
