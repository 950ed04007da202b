// Package kafka carries trip events out of the service and device positions
// into it.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"

	"taximeter/internal/config"
	"taximeter/internal/domain"
	"taximeter/internal/logger"
)

// Producer publishes trip events to Kafka.
type Producer struct {
	producer sarama.SyncProducer
	log      *logger.Logger
	topic    string
}

// NewProducer connects a synchronous producer to the configured brokers.
func NewProducer(cfg *config.KafkaConfig, log *logger.Logger) (*Producer, error) {
	saramaCfg := sarama.NewConfig()
	saramaCfg.Producer.RequiredAcks = sarama.WaitForAll
	saramaCfg.Producer.Retry.Max = 3
	saramaCfg.Producer.Return.Successes = true
	saramaCfg.Producer.Partitioner = sarama.NewHashPartitioner

	producer, err := sarama.NewSyncProducer(cfg.Brokers, saramaCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	log.WithField("brokers", cfg.Brokers).Info("Kafka producer connected")
	return &Producer{producer: producer, log: log, topic: cfg.TripsTopic}, nil
}

// Publish sends the event to the trips topic keyed by trip ID so events of
// one trip stay ordered.
func (p *Producer) Publish(_ context.Context, event domain.Event) error {
	return p.publishEvent(p.topic, event)
}

func (p *Producer) publishEvent(topic string, event domain.Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(event.TripID),
		Value: sarama.ByteEncoder(data),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event_type"), Value: []byte(event.Type)},
		},
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		p.log.WithError(err).WithField("event_type", event.Type).Error("Failed to publish event")
		return fmt.Errorf("failed to publish %s: %w", event.Type, err)
	}

	p.log.WithFields(map[string]interface{}{
		"event_type": event.Type,
		"trip_id":    event.TripID,
		"partition":  partition,
		"offset":     offset,
	}).Debug("Event published")
	return nil
}

// Close closes the underlying producer. Safe on a nil or empty producer.
func (p *Producer) Close() error {
	if p == nil || p.producer == nil {
		return nil
	}
	return p.producer.Close()
}

// NopPublisher drops every event. Used when Kafka is disabled.
type NopPublisher struct{}

// Publish discards the event.
func (NopPublisher) Publish(context.Context, domain.Event) error { return nil }
