// Package publish forwards normalized states and detected trips to Kafka for
// downstream consumers.
package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"fleet-monitor/tracking/internal/domain"
)

type Config struct {
	Brokers    []string
	StateTopic string
	TripTopic  string
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher keys every message by device id so one vehicle's updates
// stay ordered within a partition.
type KafkaPublisher struct {
	states messageWriter
	trips  messageWriter
	logger *logrus.Logger
}

func NewKafkaPublisher(cfg Config, logger *logrus.Logger) *KafkaPublisher {
	newWriter := func(topic string) *kafka.Writer {
		return &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			BatchTimeout: 50 * time.Millisecond,
			RequiredAcks: kafka.RequireOne,
		}
	}
	return &KafkaPublisher{
		states: newWriter(cfg.StateTopic),
		trips:  newWriter(cfg.TripTopic),
		logger: logger,
	}
}

func (p *KafkaPublisher) PublishStates(ctx context.Context, states []*domain.NormalizedState) error {
	if len(states) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(states))
	for _, st := range states {
		value, err := json.Marshal(st)
		if err != nil {
			return fmt.Errorf("failed to marshal state: %w", err)
		}
		msgs = append(msgs, kafka.Message{Key: []byte(st.VehicleID), Value: value, Time: st.LastUpdated})
	}
	if err := p.states.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("publish %d states: %w", len(msgs), err)
	}
	return nil
}

func (p *KafkaPublisher) PublishTrip(ctx context.Context, t *domain.Trip) error {
	value, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to marshal trip: %w", err)
	}
	msg := kafka.Message{Key: []byte(t.DeviceID), Value: value, Time: t.CreatedAt}
	if err := p.trips.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish trip %s: %w", t.ID, err)
	}
	p.logger.WithFields(logrus.Fields{"device_id": t.DeviceID, "trip_id": t.ID}).Debug("Trip published")
	return nil
}

func (p *KafkaPublisher) Close() error {
	return errors.Join(p.states.Close(), p.trips.Close())
}

// Nop drops everything. It is used when no brokers are configured.
type Nop struct{}

func (Nop) PublishStates(context.Context, []*domain.NormalizedState) error { return nil }
func (Nop) PublishTrip(context.Context, *domain.Trip) error                { return nil }
func (Nop) Close() error                                                    { return nil }
