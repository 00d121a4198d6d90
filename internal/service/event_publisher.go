package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/waitroomlab/waitroom/internal/domain"
	"github.com/waitroomlab/waitroom/pkg/kafka"
	"github.com/waitroomlab/waitroom/pkg/logger"
	"github.com/waitroomlab/waitroom/pkg/retry"
)

// EventPublisher publishes session lifecycle events to downstream
// consumers. Publishing is best-effort: admission state has already
// been committed when an event goes out, so failures are logged and
// never rolled back.
type EventPublisher interface {
	Publish(ctx context.Context, event *domain.SessionEvent) error
	Close() error
}

// KafkaEventPublisher publishes events to a Kafka topic, keyed by
// queue id so per-queue ordering is preserved. Transient broker
// failures are retried briefly; an event that exhausts its retry
// budget is parked on the topic's dead-letter queue so it can be
// replayed later.
type KafkaEventPublisher struct {
	producer *kafka.Producer
	topic    string
	retryCfg *retry.Config
	dlq      *retry.DLQPublisher
	log      *logger.Logger
}

// NewKafkaEventPublisher creates a Kafka-backed event publisher
func NewKafkaEventPublisher(producer *kafka.Producer, topic, source string, log *logger.Logger) *KafkaEventPublisher {
	dlq := retry.NewDLQPublisher(func(ctx context.Context, topic string, key, value []byte, headers map[string]string) error {
		return producer.Produce(ctx, &kafka.Message{
			Topic:     topic,
			Key:       key,
			Value:     value,
			Headers:   headers,
			Timestamp: time.Now(),
		})
	}, source)

	return &KafkaEventPublisher{
		producer: producer,
		topic:    topic,
		retryCfg: &retry.Config{
			MaxRetries:      2,
			InitialInterval: 100 * time.Millisecond,
			MaxInterval:     time.Second,
			Multiplier:      2.0,
			JitterFactor:    0.1,
		},
		dlq: dlq,
		log: log,
	}
}

// Publish implements EventPublisher
func (p *KafkaEventPublisher) Publish(ctx context.Context, event *domain.SessionEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event %s: %w", event.EventID, err)
	}

	msg := &kafka.Message{
		Topic:     p.topic,
		Key:       []byte(event.Key()),
		Value:     payload,
		Timestamp: event.Timestamp,
		Headers: map[string]string{
			"event_type": string(event.EventType),
			"version":    event.Version,
		},
	}

	firstAttempt := time.Now()
	attempts := 0
	produceErr := retry.Do(ctx, p.retryCfg, func(ctx context.Context) error {
		attempts++
		return p.producer.Produce(ctx, msg)
	})
	if produceErr != nil {
		p.parkOnDLQ(ctx, event, payload, produceErr, attempts, firstAttempt)
		return fmt.Errorf("failed to publish event %s: %w", event.EventID, produceErr)
	}

	p.log.Debug(fmt.Sprintf("Published event %s type=%s key=%s", event.EventID, event.EventType, event.Key()))
	return nil
}

func (p *KafkaEventPublisher) parkOnDLQ(ctx context.Context, event *domain.SessionEvent, payload []byte, cause error, attempts int, firstAttempt time.Time) {
	err := p.dlq.Publish(ctx, &retry.DLQMessage{
		ID:             event.EventID,
		OriginalTopic:  p.topic,
		OriginalKey:    event.Key(),
		Payload:        payload,
		Headers:        map[string]string{"event_type": string(event.EventType)},
		Error:          cause.Error(),
		Attempts:       attempts,
		FirstAttemptAt: firstAttempt,
		LastAttemptAt:  time.Now(),
	})
	if err != nil {
		p.log.Error(fmt.Sprintf("Failed to park event %s on DLQ: %v", event.EventID, err))
	}
}

// Close implements EventPublisher
func (p *KafkaEventPublisher) Close() error {
	p.producer.Close()
	return nil
}

// NoOpEventPublisher discards events. Used in tests and when the
// event stream is disabled.
type NoOpEventPublisher struct{}

// NewNoOpEventPublisher creates a publisher that discards all events
func NewNoOpEventPublisher() *NoOpEventPublisher {
	return &NoOpEventPublisher{}
}

// Publish implements EventPublisher
func (p *NoOpEventPublisher) Publish(ctx context.Context, event *domain.SessionEvent) error {
	return nil
}

// Close implements EventPublisher
func (p *NoOpEventPublisher) Close() error {
	return nil
}
