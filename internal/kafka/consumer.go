package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"

	"taximeter/internal/config"
	"taximeter/internal/domain"
	"taximeter/internal/logger"
)

// EventHandler processes one decoded event.
type EventHandler func(ctx context.Context, event *domain.Event) error

// Consumer reads events from a consumer group and dispatches them by type.
type Consumer struct {
	consumer sarama.ConsumerGroup
	log      *logger.Logger
	topics   []string

	mu       sync.RWMutex
	handlers map[domain.EventType]EventHandler

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewConsumer joins the configured consumer group on the positions topic.
func NewConsumer(cfg *config.KafkaConfig, log *logger.Logger) (*Consumer, error) {
	saramaCfg := sarama.NewConfig()
	saramaCfg.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	saramaCfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	saramaCfg.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, saramaCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka consumer group: %w", err)
	}

	c := newConsumer(group, log, []string{cfg.PositionsTopic})
	log.WithField("group_id", cfg.GroupID).Info("Kafka consumer created")
	return c, nil
}

// NewTestConsumer builds a consumer around an existing group.
func NewTestConsumer(group sarama.ConsumerGroup, log *logger.Logger, topics ...string) *Consumer {
	return newConsumer(group, log, topics)
}

func newConsumer(group sarama.ConsumerGroup, log *logger.Logger, topics []string) *Consumer {
	ctx, cancel := context.WithCancel(context.Background())
	return &Consumer{
		consumer: group,
		log:      log,
		topics:   topics,
		handlers: make(map[domain.EventType]EventHandler),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// RegisterHandler sets the handler for an event type, replacing any previous one.
func (c *Consumer) RegisterHandler(eventType domain.EventType, handler EventHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[eventType] = handler
}

// Handler returns the handler registered for eventType, or nil.
func (c *Consumer) Handler(eventType domain.EventType) EventHandler {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.handlers[eventType]
}

// HandlerCount returns the number of registered handlers.
func (c *Consumer) HandlerCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.handlers)
}

// Start consumes in the background until Stop is called.
func (c *Consumer) Start() error {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			if err := c.consumer.Consume(c.ctx, c.topics, c); err != nil && !errors.Is(err, context.Canceled) {
				c.log.WithError(err).Error("Kafka consume failed")
			}
			if c.ctx.Err() != nil {
				return
			}
			time.Sleep(100 * time.Millisecond)
		}
	}()
	return nil
}

// Stop cancels consumption, waits for the loop to exit and closes the group.
func (c *Consumer) Stop() error {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	if c.consumer == nil {
		return nil
	}
	return c.consumer.Close()
}

// Setup is run at the beginning of a new session.
func (c *Consumer) Setup(sarama.ConsumerGroupSession) error { return nil }

// Cleanup is run at the end of a session.
func (c *Consumer) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim processes the messages of one partition claim.
func (c *Consumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if err := c.processMessage(msg); err != nil {
				c.log.WithError(err).WithFields(map[string]interface{}{
					"topic":     msg.Topic,
					"partition": msg.Partition,
					"offset":    msg.Offset,
				}).Warn("Failed to process message")
			}
			session.MarkMessage(msg, "")
		case <-session.Context().Done():
			return nil
		}
	}
}

func (c *Consumer) processMessage(msg *sarama.ConsumerMessage) error {
	var event domain.Event
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return fmt.Errorf("failed to decode event: %w", err)
	}

	handler := c.Handler(event.Type)
	if handler == nil {
		c.log.WithField("event_type", event.Type).Debug("No handler registered")
		return nil
	}

	ctx := c.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	return handler(ctx, &event)
}

// DecodePosition extracts a device sample from a position event.
func DecodePosition(event *domain.Event) (domain.PositionReport, error) {
	var report domain.PositionReport
	data, err := json.Marshal(event.Data)
	if err != nil {
		return report, err
	}
	if err := json.Unmarshal(data, &report); err != nil {
		return report, fmt.Errorf("failed to decode position: %w", err)
	}
	if report.TripID == "" {
		report.TripID = event.TripID
	}
	if report.Timestamp.IsZero() {
		report.Timestamp = event.Timestamp
	}
	return report, nil
}
